package autopilot

import "strings"

// TradingMode selects the stop/target horizon forwarded to the backend
type TradingMode string

const (
	ModeScalp    TradingMode = "SCALP"
	ModeSwing    TradingMode = "SWING"
	ModePosition TradingMode = "POSITION"
)

// EntryPolicy controls how LLM entry verdicts are accepted
type EntryPolicy string

const (
	PolicyBalanced     EntryPolicy = "BALANCED"
	PolicyAggressive   EntryPolicy = "AGGRESSIVE"
	PolicyConservative EntryPolicy = "CONSERVATIVE"
)

// EntryOrderMode controls order-plan selection
type EntryOrderMode string

const (
	OrderModeAdaptive EntryOrderMode = "ADAPTIVE"
	OrderModeMarket   EntryOrderMode = "MARKET"
	OrderModeLimit    EntryOrderMode = "LIMIT"
)

// FocusedGate controls whether focused workers consult the LLM on entry
type FocusedGate string

const (
	GateFastOnly FocusedGate = "FAST_ONLY"
	GateLLM      FocusedGate = "LLM"
)

// PipelineMode selects deterministic or LLM specialists
type PipelineMode string

const (
	PipelineLite PipelineMode = "LITE"
	PipelineFull PipelineMode = "FULL"
)

// Entry notional bounds in KRW. The exchange minimum is 5000; 5100 leaves
// headroom for fees.
const (
	minEntryAmountKrw = 5100
	maxEntryAmountKrw = 20000
)

// Options is the orchestration configuration. Immutable per tick; a new
// value is swapped in atomically between ticks via UpdateConfig.
type Options struct {
	Enabled                   bool           `json:"enabled"`
	Interval                  string         `json:"interval"`
	ConfirmInterval           string         `json:"confirm_interval"`
	TradingMode               TradingMode    `json:"trading_mode"`
	AmountKrw                 float64        `json:"amount_krw"`
	DailyLossLimitKrw         float64        `json:"daily_loss_limit_krw"` // negative threshold
	MaxConcurrentPositions    int            `json:"max_concurrent_positions"`
	CandidateLimit            int            `json:"candidate_limit"`
	RejectCooldownMs          int64          `json:"reject_cooldown_ms"`
	PostExitCooldownMs        int64          `json:"post_exit_cooldown_ms"`
	PendingEntryTimeoutMs     int64          `json:"pending_entry_timeout_ms"`
	WorkerTickMs              int64          `json:"worker_tick_ms"`
	LlmReviewIntervalMs       int64          `json:"llm_review_interval_ms"`
	MinLlmConfidence          float64        `json:"min_llm_confidence"` // 0-100
	EntryPolicy               EntryPolicy    `json:"entry_policy"`
	EntryOrderMode            EntryOrderMode `json:"entry_order_mode"`
	MarketFallbackAfterCancel bool           `json:"market_fallback_after_cancel"`
	PlaywrightEnabled         bool           `json:"playwright_enabled"`
	LlmDailySoftCap           int            `json:"llm_daily_soft_cap"`
	LlmModel                  string         `json:"llm_model"`

	FocusedScalpEnabled        bool        `json:"focused_scalp_enabled"`
	FocusedScalpMarkets        []string    `json:"focused_scalp_markets"` // normalized to <= 8
	FocusedScalpPollIntervalMs int64       `json:"focused_scalp_poll_interval_ms"`
	FocusedWarnHoldingMs       int64       `json:"focused_warn_holding_ms"`
	FocusedMaxHoldingMs        int64       `json:"focused_max_holding_ms"`
	FocusedEntryGate           FocusedGate `json:"focused_entry_gate"`

	FineAgentEnabled       bool         `json:"fine_agent_enabled"`
	FineAgentMaxPerTick    int          `json:"fine_agent_max_per_tick"`
	FineAgentDecisionTtlMs int64        `json:"fine_agent_decision_ttl_ms"` // clamped 15s-5min
	FineAgentMode          PipelineMode `json:"fine_agent_mode"`
}

// DefaultOptions returns safe defaults: disabled, conservative cadence.
func DefaultOptions() Options {
	return Options{
		Enabled:                    false,
		Interval:                   "1m",
		ConfirmInterval:            "10m",
		TradingMode:                ModeScalp,
		AmountKrw:                  10000,
		DailyLossLimitKrw:          -100000,
		MaxConcurrentPositions:     3,
		CandidateLimit:             8,
		RejectCooldownMs:           120_000,
		PostExitCooldownMs:         180_000,
		PendingEntryTimeoutMs:      90_000,
		WorkerTickMs:               5_000,
		LlmReviewIntervalMs:        30_000,
		MinLlmConfidence:           60,
		EntryPolicy:                PolicyBalanced,
		EntryOrderMode:             OrderModeAdaptive,
		MarketFallbackAfterCancel:  true,
		LlmDailySoftCap:            300,
		FocusedScalpPollIntervalMs: 3_000,
		FocusedWarnHoldingMs:       420_000,
		FocusedMaxHoldingMs:        900_000,
		FocusedEntryGate:           GateFastOnly,
		FineAgentMaxPerTick:        2,
		FineAgentDecisionTtlMs:     60_000,
		FineAgentMode:              PipelineLite,
	}
}

// Normalize clamps out-of-range values and canonicalizes enums. Invalid
// enum values fall back to defaults rather than erroring.
func (o Options) Normalize() Options {
	switch TradingMode(strings.ToUpper(string(o.TradingMode))) {
	case ModeScalp, ModeSwing, ModePosition:
		o.TradingMode = TradingMode(strings.ToUpper(string(o.TradingMode)))
	default:
		o.TradingMode = ModeScalp
	}

	switch EntryPolicy(strings.ToUpper(string(o.EntryPolicy))) {
	case PolicyBalanced, PolicyAggressive, PolicyConservative:
		o.EntryPolicy = EntryPolicy(strings.ToUpper(string(o.EntryPolicy)))
	default:
		o.EntryPolicy = PolicyBalanced
	}

	switch EntryOrderMode(strings.ToUpper(string(o.EntryOrderMode))) {
	case OrderModeAdaptive, OrderModeMarket, OrderModeLimit:
		o.EntryOrderMode = EntryOrderMode(strings.ToUpper(string(o.EntryOrderMode)))
	default:
		o.EntryOrderMode = OrderModeAdaptive
	}

	switch PipelineMode(strings.ToUpper(string(o.FineAgentMode))) {
	case PipelineLite, PipelineFull:
		o.FineAgentMode = PipelineMode(strings.ToUpper(string(o.FineAgentMode)))
	default:
		o.FineAgentMode = PipelineLite
	}

	if o.Interval == "" {
		o.Interval = "1m"
	}
	if o.ConfirmInterval == "" {
		o.ConfirmInterval = "10m"
	}
	if o.AmountKrw <= 0 {
		o.AmountKrw = 10000
	}
	if o.MaxConcurrentPositions < 1 {
		o.MaxConcurrentPositions = 1
	}
	if o.CandidateLimit < 1 {
		o.CandidateLimit = 1
	}
	if o.RejectCooldownMs < 1000 {
		o.RejectCooldownMs = 1000
	}
	if o.PostExitCooldownMs < 1000 {
		o.PostExitCooldownMs = 1000
	}
	if o.PendingEntryTimeoutMs < 10_000 {
		o.PendingEntryTimeoutMs = 10_000
	}
	if o.WorkerTickMs < 1000 {
		o.WorkerTickMs = 1000
	}
	if o.LlmReviewIntervalMs < 5000 {
		o.LlmReviewIntervalMs = 5000
	}
	o.MinLlmConfidence = clampFloat(o.MinLlmConfidence, 0, 100)

	if o.FocusedScalpPollIntervalMs < 1000 {
		o.FocusedScalpPollIntervalMs = 1000
	}
	switch FocusedGate(strings.ToUpper(string(o.FocusedEntryGate))) {
	case GateFastOnly, GateLLM:
		o.FocusedEntryGate = FocusedGate(strings.ToUpper(string(o.FocusedEntryGate)))
	default:
		o.FocusedEntryGate = GateFastOnly
	}
	if o.FineAgentMaxPerTick < 1 {
		o.FineAgentMaxPerTick = 1
	}
	o.FineAgentDecisionTtlMs = clampInt64(o.FineAgentDecisionTtlMs, 15_000, 300_000)

	o.FocusedScalpMarkets = NormalizeFocusedMarkets(o.FocusedScalpMarkets)

	return o
}

// EntryAmountFor applies the stage scaling and KRW bounds.
// AUTO_PASS scales up 1.15x, BORDERLINE scales down 0.85x.
func (o Options) EntryAmountFor(stage CandidateStage) float64 {
	factor := 1.0
	switch stage {
	case StageAutoPass:
		factor = 1.15
	case StageBorderline:
		factor = 0.85
	}
	return clampFloat(float64(int64(o.AmountKrw*factor+0.5)), minEntryAmountKrw, maxEntryAmountKrw)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
