package guided

import "context"

// API is the capability surface the orchestrator and workers depend on.
// All methods are failable; callers map failures to cooldowns and events
// rather than propagating them.
type API interface {
	GetTodayStats(ctx context.Context) (*TodayStats, error)
	GetOpenPositions(ctx context.Context) ([]Position, error)
	GetAutopilotOpportunities(ctx context.Context, primaryInterval, confirmInterval, mode string, limit int) ([]Opportunity, error)
	GetAgentContext(ctx context.Context, market, interval string, count, closedTradeLimit int, mode string) (*AgentContext, error)
	// GetPosition returns nil when the backend has no position for the market.
	GetPosition(ctx context.Context, market string) (*Position, error)
	Start(ctx context.Context, req StartRequest) error
	CancelPending(ctx context.Context, market string) error
	Stop(ctx context.Context, market string) error
	PartialTakeProfit(ctx context.Context, market string, ratio float64) error
	AdoptPosition(ctx context.Context, req AdoptRequest) error
	LogAutopilotDecision(ctx context.Context, payload DecisionLogPayload) error
}
