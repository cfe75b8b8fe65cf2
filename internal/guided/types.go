// Package guided defines the client for the guided-trading backend.
// The backend computes recommendations, opens and closes positions, and
// reconciles fills; this side only decides and instructs.
package guided

import "time"

// Opportunity stage grades assigned by the backend
const (
	StageAutoPass   = "AUTO_PASS"
	StageBorderline = "BORDERLINE"
	StageRuleFail   = "RULE_FAIL"
)

// Position status values reported by the backend
const (
	PositionOpen         = "OPEN"
	PositionPendingEntry = "PENDING_ENTRY"
	PositionClosed       = "CLOSED"
)

// Order types accepted by Start
const (
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
)

// TodayStats summarizes today's realized trading results
type TodayStats struct {
	TotalPnlKrw   float64 `json:"total_pnl_krw"`
	RealizedCount int     `json:"realized_count"`
	WinCount      int     `json:"win_count"`
	LossCount     int     `json:"loss_count"`
}

// Position is a backend-reported position for one market
type Position struct {
	Market               string    `json:"market"`
	Status               string    `json:"status"` // OPEN, PENDING_ENTRY, CLOSED
	Side                 string    `json:"side"`
	EntryPrice           float64   `json:"entry_price"`
	CurrentPrice         float64   `json:"current_price"`
	AmountKrw            float64   `json:"amount_krw"`
	UnrealizedPnlPercent float64   `json:"unrealized_pnl_percent"`
	HalfTakeProfitDone   bool      `json:"half_take_profit_done"`
	TrailingActive       bool      `json:"trailing_active"`
	OpenedAt             time.Time `json:"opened_at"`
}

// Opportunity is a backend-ranked entry candidate
type Opportunity struct {
	Market                     string  `json:"market"`
	KoreanName                 string  `json:"korean_name"`
	RecommendedEntryWinRate1m  float64 `json:"recommended_entry_win_rate_1m"`
	RecommendedEntryWinRate10m float64 `json:"recommended_entry_win_rate_10m"`
	MarketEntryWinRate1m       float64 `json:"market_entry_win_rate_1m"`
	MarketEntryWinRate10m      float64 `json:"market_entry_win_rate_10m"`
	RiskReward1m               float64 `json:"risk_reward_1m"`
	EntryGapPct1m              float64 `json:"entry_gap_pct_1m"`
	ExpectancyPct              float64 `json:"expectancy_pct"`
	Score                      float64 `json:"score"`
	Stage                      string  `json:"stage"` // AUTO_PASS, BORDERLINE, RULE_FAIL
	Reason                     string  `json:"reason"`
}

// Recommendation is the backend's entry plan for one market
type Recommendation struct {
	CurrentPrice     float64 `json:"current_price"`
	RecommendedEntry float64 `json:"recommended_entry"`
	StopLoss         float64 `json:"stop_loss"`
	TakeProfit       float64 `json:"take_profit"`
	RiskReward       float64 `json:"risk_reward"`
}

// Orderbook is a compact orderbook snapshot
type Orderbook struct {
	SpreadPct     float64 `json:"spread_pct"`
	Imbalance     float64 `json:"imbalance"`      // -1..1, bid-heavy positive
	Top5Imbalance float64 `json:"top5_imbalance"` // -1..1
}

// Chart bundles the recommendation with the orderbook snapshot
type Chart struct {
	Recommendation Recommendation `json:"recommendation"`
	Orderbook      Orderbook      `json:"orderbook"`
}

// TechnicalFeatures are 0-100 sub-scores of the technical picture
type TechnicalFeatures struct {
	TrendScore      float64 `json:"trend_score"`
	PullbackScore   float64 `json:"pullback_score"`
	VolatilityScore float64 `json:"volatility_score"`
	RrScore         float64 `json:"rr_score"`
}

// MicrostructureFeatures describe orderbook quality
type MicrostructureFeatures struct {
	SpreadPct     float64 `json:"spread_pct"`
	Imbalance     float64 `json:"imbalance"`
	Top5Imbalance float64 `json:"top5_imbalance"`
}

// ExecutionRiskFeatures are 0-100 risk scores for fills
type ExecutionRiskFeatures struct {
	ChasingRisk     float64 `json:"chasing_risk"`
	PendingFillRisk float64 `json:"pending_fill_risk"`
	EntryGapPct     float64 `json:"entry_gap_pct"`
}

// FeaturePack is the backend's feature snapshot for one market
type FeaturePack struct {
	Technical      TechnicalFeatures      `json:"technical"`
	Microstructure MicrostructureFeatures `json:"microstructure"`
	ExecutionRisk  ExecutionRiskFeatures  `json:"execution_risk"`
}

// AgentContext is the full context pack for entry and position reviews
type AgentContext struct {
	Market      string       `json:"market"`
	Chart       Chart        `json:"chart"`
	FeaturePack *FeaturePack `json:"feature_pack,omitempty"`
}

// StartRequest asks the backend to open a guided entry
type StartRequest struct {
	Market       string   `json:"market"`
	AmountKrw    float64  `json:"amount_krw"`
	OrderType    string   `json:"order_type"` // MARKET or LIMIT
	LimitPrice   *float64 `json:"limit_price,omitempty"`
	Interval     string   `json:"interval"`
	Mode         string   `json:"mode"`
	EntrySource  string   `json:"entry_source"`
	StrategyCode string   `json:"strategy_code"`
}

// AdoptRequest registers an externally opened position with the backend
type AdoptRequest struct {
	Market      string `json:"market"`
	Mode        string `json:"mode"`
	Interval    string `json:"interval"`
	EntrySource string `json:"entry_source"`
	Notes       string `json:"notes"`
}

// DecisionLogPayload is the best-effort decision record sent to the backend
type DecisionLogPayload struct {
	At         time.Time        `json:"at"`
	Mode       string           `json:"mode"`
	Candidates []DecisionRecord `json:"candidates"`
}

// DecisionRecord is one candidate's outcome in a tick
type DecisionRecord struct {
	Market string  `json:"market"`
	Stage  string  `json:"stage"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}
