// Package vault resolves runtime secrets (LLM API key, guided backend
// token) from HashiCorp Vault. When Vault is disabled the configured
// values pass through unchanged.
package vault

import (
	"context"
	"fmt"
	"sync"

	"upbit-autopilot/config"

	"github.com/hashicorp/vault/api"
)

// Secrets are the resolved credentials the process needs at startup
type Secrets struct {
	LLMAPIKey       string `json:"llm_api_key"`
	GuidedAPIToken  string `json:"guided_api_token"`
	McpGatewayToken string `json:"mcp_gateway_token"`
}

// Client wraps the HashiCorp Vault KV v2 client
type Client struct {
	client *api.Client
	config config.VaultConfig

	mu     sync.RWMutex
	cached *Secrets
}

// NewClient creates a Vault client. With Vault disabled the client is a
// pass-through that never contacts a server.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{CACert: cfg.CACert}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, config: cfg}, nil
}

// ResolveSecrets fetches credentials from Vault and overlays them on the
// configured fallbacks. Missing Vault fields keep the fallback value, so a
// partially populated secret never blanks a working credential.
func (c *Client) ResolveSecrets(ctx context.Context, fallback Secrets) (Secrets, error) {
	if !c.config.Enabled {
		return fallback, nil
	}

	c.mu.RLock()
	if c.cached != nil {
		cached := *c.cached
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	kv := c.client.KVv2(c.config.MountPath)
	secret, err := kv.Get(ctx, c.config.SecretPath)
	if err != nil {
		return fallback, fmt.Errorf("failed to read secret %s/%s: %w", c.config.MountPath, c.config.SecretPath, err)
	}
	if secret == nil || secret.Data == nil {
		return fallback, fmt.Errorf("secret %s/%s is empty", c.config.MountPath, c.config.SecretPath)
	}

	resolved := fallback
	if v, ok := secret.Data["llm_api_key"].(string); ok && v != "" {
		resolved.LLMAPIKey = v
	}
	if v, ok := secret.Data["guided_api_token"].(string); ok && v != "" {
		resolved.GuidedAPIToken = v
	}
	if v, ok := secret.Data["mcp_gateway_token"].(string); ok && v != "" {
		resolved.McpGatewayToken = v
	}

	c.mu.Lock()
	c.cached = &resolved
	c.mu.Unlock()
	return resolved, nil
}

// InvalidateCache drops the cached secrets so the next resolve re-reads
// Vault. Used after a credential rotation.
func (c *Client) InvalidateCache() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}
