// Package autopilot implements the decision and control layer: an
// orchestrator tick loop that scans the guided backend for opportunities,
// per-market workers that drive entries and open positions, and a
// fine-grained agent pipeline for borderline candidates.
package autopilot

import (
	"time"

	"upbit-autopilot/internal/guided"

	"github.com/google/uuid"
)

// CandidateStage is the locally projected stage of an opportunity. The
// value set is a superset of what the orchestrator assigns itself: a
// candidate's initial stage is taken verbatim from the backend's screening
// grade, so grades like RULE_PASS, LLM_REJECT and PLAYWRIGHT_WARN arrive
// over the wire and flow into decision rows even though no local code path
// produces them.
type CandidateStage string

const (
	StageAutoPass       CandidateStage = "AUTO_PASS"
	StageBorderline     CandidateStage = "BORDERLINE"
	StageRulePass       CandidateStage = "RULE_PASS"
	StageRuleFail       CandidateStage = "RULE_FAIL"
	StageSlotFull       CandidateStage = "SLOT_FULL"
	StagePositionOpen   CandidateStage = "POSITION_OPEN"
	StageWorkerActive   CandidateStage = "WORKER_ACTIVE"
	StageCooldown       CandidateStage = "COOLDOWN"
	StageLlmReject      CandidateStage = "LLM_REJECT"
	StagePlaywrightWarn CandidateStage = "PLAYWRIGHT_WARN"
	StageEntered        CandidateStage = "ENTERED"
)

// WorkerStatus is the worker state machine state
type WorkerStatus string

const (
	StatusScanning        WorkerStatus = "SCANNING"
	StatusAnalyzing       WorkerStatus = "ANALYZING"
	StatusPlaywrightCheck WorkerStatus = "PLAYWRIGHT_CHECK"
	StatusEntering        WorkerStatus = "ENTERING"
	StatusManaging        WorkerStatus = "MANAGING"
	StatusPaused          WorkerStatus = "PAUSED"
	StatusCooldown        WorkerStatus = "COOLDOWN"
	StatusError           WorkerStatus = "ERROR"
	StatusStopped         WorkerStatus = "STOPPED"
)

// EventType groups timeline events by origin
type EventType string

const (
	EventSystem     EventType = "SYSTEM"
	EventCandidate  EventType = "CANDIDATE"
	EventWorker     EventType = "WORKER"
	EventPlaywright EventType = "PLAYWRIGHT"
	EventOrder      EventType = "ORDER"
	EventLLM        EventType = "LLM"
)

// EventLevel is the timeline event severity
type EventLevel string

const (
	LevelInfo  EventLevel = "INFO"
	LevelWarn  EventLevel = "WARN"
	LevelError EventLevel = "ERROR"
)

// TimelineEvent is one entry of the newest-first event ring
type TimelineEvent struct {
	ID           string     `json:"id"`
	At           time.Time  `json:"at"`
	Market       string     `json:"market,omitempty"`
	Type         EventType  `json:"type"`
	Level        EventLevel `json:"level"`
	Action       string     `json:"action"`
	Detail       string     `json:"detail"`
	ToolName     string     `json:"tool_name,omitempty"`
	ToolArgs     string     `json:"tool_args,omitempty"`
	ScreenshotID string     `json:"screenshot_id,omitempty"`
}

func newEvent(evtType EventType, level EventLevel, market, action, detail string) TimelineEvent {
	return TimelineEvent{
		ID:     uuid.NewString(),
		At:     time.Now(),
		Market: market,
		Type:   evtType,
		Level:  level,
		Action: action,
		Detail: detail,
	}
}

// Candidate is an opportunity projected into orchestrator-owned UI state
type Candidate struct {
	Opportunity guided.Opportunity `json:"opportunity"`
	Stage       CandidateStage     `json:"stage"`
	Reason      string             `json:"reason"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// WorkerSnapshot is the externally visible state of one worker
type WorkerSnapshot struct {
	Market        string       `json:"market"`
	Status        WorkerStatus `json:"status"`
	Note          string       `json:"note"`
	Focused       bool         `json:"focused"`
	StartedAt     time.Time    `json:"started_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	CooldownUntil *time.Time   `json:"cooldown_until,omitempty"`
}

// OrderFlowKind labels order lifecycle notifications from workers
type OrderFlowKind string

const (
	OrderBuyRequested  OrderFlowKind = "BUY_REQUESTED"
	OrderBuyFilled     OrderFlowKind = "BUY_FILLED"
	OrderSellRequested OrderFlowKind = "SELL_REQUESTED"
	OrderSellFilled    OrderFlowKind = "SELL_FILLED"
	OrderCancelled     OrderFlowKind = "CANCELLED"
)

// OrderFlowEvent is one order lifecycle notification
type OrderFlowEvent struct {
	Kind   OrderFlowKind `json:"kind"`
	Market string        `json:"market"`
	Detail string        `json:"detail"`
}

// OrderFlowCounters aggregates order lifecycle notifications
type OrderFlowCounters struct {
	BuyRequested  int `json:"buy_requested"`
	BuyFilled     int `json:"buy_filled"`
	SellRequested int `json:"sell_requested"`
	SellFilled    int `json:"sell_filled"`
	Cancelled     int `json:"cancelled"`
	Pending       int `json:"pending"`
}

func (c *OrderFlowCounters) apply(kind OrderFlowKind) {
	switch kind {
	case OrderBuyRequested:
		c.BuyRequested++
	case OrderBuyFilled:
		c.BuyFilled++
	case OrderSellRequested:
		c.SellRequested++
	case OrderSellFilled:
		c.SellFilled++
	case OrderCancelled:
		c.Cancelled++
	}
	pending := c.BuyRequested + c.SellRequested - c.BuyFilled - c.SellFilled - c.Cancelled
	if pending < 0 {
		pending = 0
	}
	c.Pending = pending
}

// LLMUsage is the daily LLM call counter surfaced to clients
type LLMUsage struct {
	DateKey       string `json:"date_key"` // KST YYYY-MM-DD
	UsedToday     int    `json:"used_today"`
	SoftCap       int    `json:"soft_cap"`
	SoftCapWarned bool   `json:"soft_cap_warned"`
}

// State is the full snapshot pushed through the OnState callback
type State struct {
	Running            bool              `json:"running"`
	Enabled            bool              `json:"enabled"`
	BlockedByDailyLoss bool              `json:"blocked_by_daily_loss"`
	BlockReason        string            `json:"block_reason,omitempty"`
	Candidates         []Candidate       `json:"candidates"`
	Workers            []WorkerSnapshot  `json:"workers"`
	Events             []TimelineEvent   `json:"events"` // newest first
	Logs               []string          `json:"logs"`   // newest first
	OrderFlow          OrderFlowCounters `json:"order_flow"`
	LLMUsage           LLMUsage          `json:"llm_usage"`
	FocusedMarkets     []string          `json:"focused_markets"`
	UpdatedAt          time.Time         `json:"updated_at"`
}
