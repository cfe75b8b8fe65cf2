// Package mcp bridges to an MCP tool gateway over HTTP. Two namespaces
// are exposed: "playwright" for browser automation and "trading" for the
// fallback order path.
package mcp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Tool namespaces
const (
	NamespacePlaywright = "playwright"
	NamespaceTrading    = "trading"
)

// ContentPart is one piece of a tool result
type ContentPart struct {
	Type     string `json:"type"` // "text" or "image"
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"` // base64 image payload
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// ToolResult is the outcome of one tool invocation
type ToolResult struct {
	Content []ContentPart `json:"content"`
	IsError bool          `json:"is_error"`
}

// FirstText returns the first text part, or "".
func (r *ToolResult) FirstText() string {
	for _, part := range r.Content {
		if part.Type == "text" {
			return part.Text
		}
	}
	return ""
}

// FirstImage returns the first image part, or nil.
func (r *ToolResult) FirstImage() *ContentPart {
	for i := range r.Content {
		if r.Content[i].Type == "image" {
			return &r.Content[i]
		}
	}
	return nil
}

// Client is the capability surface for MCP tool execution.
type Client interface {
	ExecuteTool(ctx context.Context, name string, args map[string]interface{}, namespace string) (*ToolResult, error)
}

// HTTPClient talks to a local MCP gateway.
type HTTPClient struct {
	http *resty.Client
}

// Config holds MCP gateway connection settings
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// NewHTTPClient creates a gateway client.
func NewHTTPClient(cfg Config) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPClient{
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

// ExecuteTool invokes one named tool in the given namespace.
func (c *HTTPClient) ExecuteTool(ctx context.Context, name string, args map[string]interface{}, namespace string) (*ToolResult, error) {
	var result ToolResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"name":      name,
			"arguments": args,
			"namespace": namespace,
		}).
		SetResult(&result).
		Post("/tools/call")
	if err != nil {
		return nil, fmt.Errorf("execute mcp tool %s: %w", name, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("execute mcp tool %s: status %d: %s", name, resp.StatusCode(), resp.String())
	}
	return &result, nil
}
