package autopilot

import (
	"encoding/json"
	"strings"

	"upbit-autopilot/internal/ai/llm"
)

// Severity grades how dangerous the LLM considers an entry
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// ReviewAction is the LLM's verdict on an open position
type ReviewAction string

const (
	ActionHold      ReviewAction = "HOLD"
	ActionPartialTP ReviewAction = "PARTIAL_TP"
	ActionFullExit  ReviewAction = "FULL_EXIT"
)

// EntryVerdict is the parsed entry-review reply
type EntryVerdict struct {
	Approve              bool     `json:"approve"`
	Confidence           float64  `json:"confidence"` // 0-100
	Severity             Severity `json:"severity"`
	SuggestedCooldownSec int      `json:"suggested_cooldown_sec"` // 0 = none
	Reason               string   `json:"reason"`
}

// PositionReview is the parsed open-position review reply
type PositionReview struct {
	Action     ReviewAction `json:"action"`
	Confidence float64      `json:"confidence"`
	Reason     string       `json:"reason"`
}

// AgentScore is one specialist or synthesizer opinion
type AgentScore struct {
	Score      float64 `json:"score"`      // 0-100
	Confidence float64 `json:"confidence"` // 0-100
	Reason     string  `json:"reason"`
}

// PMVerdict is the parsed portfolio-manager reply
type PMVerdict struct {
	Approve     bool           `json:"approve"`
	Stage       CandidateStage `json:"stage"`
	Score       float64        `json:"score"`
	Confidence  float64        `json:"confidence"`
	CooldownSec int            `json:"cooldown_sec"` // 30-300
	OrderType   string         `json:"order_type"`
	Reason      string         `json:"reason"`
}

// rawReply is the tolerant wire shape every reply is first decoded into.
// Missing fields stay nil and collapse to defaults.
type rawReply struct {
	Approve              *bool    `json:"approve"`
	Confidence           *float64 `json:"confidence"`
	Severity             *string  `json:"severity"`
	SuggestedCooldownSec *float64 `json:"suggestedCooldownSec"`
	Action               *string  `json:"action"`
	Score                *float64 `json:"score"`
	Stage                *string  `json:"stage"`
	CooldownSec          *float64 `json:"cooldownSec"`
	OrderType            *string  `json:"orderType"`
	Reason               *string  `json:"reason"`
}

func decodeReply(reply string) (*rawReply, bool) {
	obj := llm.ExtractJSONObject(reply)
	if obj == "" {
		return nil, false
	}
	var raw rawReply
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, false
	}
	return &raw, true
}

// ParseEntryVerdict parses an entry-review reply. The fallback on an
// unparseable reply is a rejection at medium severity, so a broken LLM
// never fast-tracks an entry.
func ParseEntryVerdict(reply string) EntryVerdict {
	verdict := EntryVerdict{
		Approve:    false,
		Confidence: 0,
		Severity:   SeverityMedium,
		Reason:     "unparseable reply",
	}

	raw, ok := decodeReply(reply)
	if !ok {
		return verdict
	}

	if raw.Approve != nil {
		verdict.Approve = *raw.Approve
	}
	if raw.Confidence != nil {
		verdict.Confidence = clampFloat(*raw.Confidence, 0, 100)
	}
	verdict.Severity = parseSeverity(raw.Severity)
	if raw.SuggestedCooldownSec != nil && *raw.SuggestedCooldownSec > 0 {
		verdict.SuggestedCooldownSec = int(*raw.SuggestedCooldownSec)
	}
	verdict.Reason = parseReason(raw.Reason, 80, "no reason given")

	return verdict
}

// ParsePositionReview parses an open-position review reply. Unparseable
// replies collapse to HOLD.
func ParsePositionReview(reply string) PositionReview {
	review := PositionReview{
		Action: ActionHold,
		Reason: "unparseable reply",
	}

	raw, ok := decodeReply(reply)
	if !ok {
		return review
	}

	if raw.Action != nil {
		switch ReviewAction(strings.ToUpper(strings.TrimSpace(*raw.Action))) {
		case ActionPartialTP:
			review.Action = ActionPartialTP
		case ActionFullExit:
			review.Action = ActionFullExit
		default:
			review.Action = ActionHold
		}
	}
	if raw.Confidence != nil {
		review.Confidence = clampFloat(*raw.Confidence, 0, 100)
	}
	review.Reason = parseReason(raw.Reason, 80, "no reason given")

	return review
}

// ParseAgentScore parses a specialist or synthesizer reply.
func ParseAgentScore(reply string) (AgentScore, bool) {
	raw, ok := decodeReply(reply)
	if !ok {
		return AgentScore{}, false
	}

	score := AgentScore{Reason: parseReason(raw.Reason, 120, "")}
	if raw.Score != nil {
		score.Score = clampFloat(*raw.Score, 0, 100)
	}
	if raw.Confidence != nil {
		score.Confidence = clampFloat(*raw.Confidence, 0, 100)
	}
	return score, true
}

// ParsePMVerdict parses the portfolio-manager reply.
func ParsePMVerdict(reply string) (PMVerdict, bool) {
	raw, ok := decodeReply(reply)
	if !ok {
		return PMVerdict{}, false
	}

	verdict := PMVerdict{
		Stage:       StageRuleFail,
		CooldownSec: 60,
		OrderType:   "LIMIT",
		Reason:      parseReason(raw.Reason, 120, "no reason given"),
	}
	if raw.Approve != nil {
		verdict.Approve = *raw.Approve
	}
	if raw.Stage != nil {
		switch CandidateStage(strings.ToUpper(strings.TrimSpace(*raw.Stage))) {
		case StageAutoPass:
			verdict.Stage = StageAutoPass
		case StageBorderline:
			verdict.Stage = StageBorderline
		default:
			verdict.Stage = StageRuleFail
		}
	}
	if raw.Score != nil {
		verdict.Score = clampFloat(*raw.Score, 0, 100)
	}
	if raw.Confidence != nil {
		verdict.Confidence = clampFloat(*raw.Confidence, 0, 100)
	}
	if raw.CooldownSec != nil {
		verdict.CooldownSec = int(clampFloat(*raw.CooldownSec, 30, 300))
	}
	if raw.OrderType != nil {
		if ot := strings.ToUpper(strings.TrimSpace(*raw.OrderType)); ot == "MARKET" {
			verdict.OrderType = "MARKET"
		}
	}
	return verdict, true
}

func parseSeverity(s *string) Severity {
	if s == nil {
		return SeverityMedium
	}
	switch Severity(strings.ToUpper(strings.TrimSpace(*s))) {
	case SeverityLow:
		return SeverityLow
	case SeverityHigh:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

func parseReason(s *string, maxLen int, fallback string) string {
	if s == nil {
		return fallback
	}
	reason := strings.TrimSpace(*s)
	if reason == "" {
		return fallback
	}
	return truncate(reason, maxLen)
}
