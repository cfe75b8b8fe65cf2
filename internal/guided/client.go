package guided

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// ClientConfig holds backend connection settings
type ClientConfig struct {
	BaseURL    string
	APIToken   string
	Timeout    time.Duration
	RetryCount int
}

// Client is the HTTP implementation of API
type Client struct {
	http *resty.Client
}

// NewClient creates a backend client with retry on transport errors and 5xx.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	if cfg.APIToken != "" {
		httpClient.SetAuthToken(cfg.APIToken)
	}

	return &Client{http: httpClient}
}

func (c *Client) GetTodayStats(ctx context.Context) (*TodayStats, error) {
	var result TodayStats
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/api/guided/stats/today")
	if err != nil {
		return nil, fmt.Errorf("get today stats: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get today stats: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

func (c *Client) GetOpenPositions(ctx context.Context) ([]Position, error) {
	var result struct {
		Positions []Position `json:"positions"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/api/guided/positions")
	if err != nil {
		return nil, fmt.Errorf("get open positions: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get open positions: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result.Positions, nil
}

func (c *Client) GetAutopilotOpportunities(ctx context.Context, primaryInterval, confirmInterval, mode string, limit int) ([]Opportunity, error) {
	var result struct {
		Opportunities []Opportunity `json:"opportunities"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"interval":         primaryInterval,
			"confirm_interval": confirmInterval,
			"mode":             mode,
			"limit":            fmt.Sprintf("%d", limit),
		}).
		SetResult(&result).
		Get("/api/guided/autopilot/opportunities")
	if err != nil {
		return nil, fmt.Errorf("get opportunities: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get opportunities: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result.Opportunities, nil
}

func (c *Client) GetAgentContext(ctx context.Context, market, interval string, count, closedTradeLimit int, mode string) (*AgentContext, error) {
	var result AgentContext
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"market":             market,
			"interval":           interval,
			"count":              fmt.Sprintf("%d", count),
			"closed_trade_limit": fmt.Sprintf("%d", closedTradeLimit),
			"mode":               mode,
		}).
		SetResult(&result).
		Get("/api/guided/agent-context")
	if err != nil {
		return nil, fmt.Errorf("get agent context: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get agent context: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

func (c *Client) GetPosition(ctx context.Context, market string) (*Position, error) {
	var result Position
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("market", market).
		SetResult(&result).
		Get("/api/guided/position")
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get position: status %d: %s", resp.StatusCode(), resp.String())
	}
	if result.Market == "" {
		return nil, nil
	}
	return &result, nil
}

func (c *Client) Start(ctx context.Context, req StartRequest) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post("/api/guided/start")
	if err != nil {
		return fmt.Errorf("start guided entry: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("start guided entry: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *Client) CancelPending(ctx context.Context, market string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"market": market}).
		Post("/api/guided/cancel-pending")
	if err != nil {
		return fmt.Errorf("cancel pending entry: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel pending entry: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *Client) Stop(ctx context.Context, market string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"market": market}).
		Post("/api/guided/stop")
	if err != nil {
		return fmt.Errorf("stop position: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("stop position: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *Client) PartialTakeProfit(ctx context.Context, market string, ratio float64) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"market": market, "ratio": ratio}).
		Post("/api/guided/partial-take-profit")
	if err != nil {
		return fmt.Errorf("partial take profit: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("partial take profit: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *Client) AdoptPosition(ctx context.Context, req AdoptRequest) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post("/api/guided/adopt")
	if err != nil {
		return fmt.Errorf("adopt position: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("adopt position: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *Client) LogAutopilotDecision(ctx context.Context, payload DecisionLogPayload) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		Post("/api/guided/autopilot/decision-log")
	if err != nil {
		return fmt.Errorf("log autopilot decision: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("log autopilot decision: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
