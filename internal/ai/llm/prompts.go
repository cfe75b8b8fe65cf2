package llm

import "fmt"

func buildSystemPrompt(tradingMode string) string {
	if tradingMode == "" {
		tradingMode = "SCALP"
	}
	return fmt.Sprintf(`You are a disciplined crypto trading reviewer for KRW spot markets on a %s horizon.
Respond with a single JSON object only. No prose before or after the JSON.
Be conservative: when data is ambiguous, reject or hold.`, tradingMode)
}

// BuildEntryReviewPrompt builds the entry gate review prompt.
func BuildEntryReviewPrompt(market string, current, recommendedEntry, stopLoss, takeProfit, riskReward, winRate1m, expectancyPct float64) string {
	return fmt.Sprintf(`Review this entry candidate and answer with JSON:
{"approve": true|false, "confidence": 0-100, "severity": "LOW"|"MEDIUM"|"HIGH", "suggestedCooldownSec": optional int, "reason": "<=80 chars"}

Market: %s
Current price: %.2f
Recommended entry: %.2f
Stop loss: %.2f
Take profit: %.2f
Risk/reward: %.2f
1m win rate at recommended entry: %.1f%%
Expectancy: %.2f%%

"severity" is how dangerous entering now would be, not how confident you are.`,
		market, current, recommendedEntry, stopLoss, takeProfit, riskReward, winRate1m, expectancyPct)
}

// BuildPositionReviewPrompt builds the open-position review prompt.
func BuildPositionReviewPrompt(market string, pnlPercent, peakPnlPercent, peakDrawdown float64, halfTakeProfitDone, trailingActive bool) string {
	return fmt.Sprintf(`Review this open position and answer with JSON:
{"action": "HOLD"|"PARTIAL_TP"|"FULL_EXIT", "confidence": 0-100, "reason": "<=80 chars"}

Market: %s
Unrealized PnL: %.2f%%
Peak PnL: %.2f%%
Drawdown from peak: %.2f%%
Half take-profit already taken: %v
Trailing active: %v`,
		market, pnlPercent, peakPnlPercent, peakDrawdown, halfTakeProfitDone, trailingActive)
}

// BuildSpecialistPrompt builds a focused prompt for one pipeline specialist role.
func BuildSpecialistPrompt(role, market, featureSlice string) string {
	return fmt.Sprintf(`You are the %s specialist reviewing an entry candidate.
Answer with JSON: {"score": 0-100, "confidence": 0-100, "reason": "<=80 chars"}

Market: %s
Features:
%s`, role, market, featureSlice)
}

// BuildSynthesizerPrompt combines the specialist outputs.
func BuildSynthesizerPrompt(market, specialistSummary, featurePack string) string {
	return fmt.Sprintf(`You are the synthesizer. Combine the specialist opinions into one view.
Answer with JSON: {"score": 0-100, "confidence": 0-100, "reason": "<=120 chars"}

Market: %s
Specialists:
%s
Feature pack:
%s`, market, specialistSummary, featurePack)
}

// BuildPMPrompt asks the portfolio-manager role for the final call.
func BuildPMPrompt(market, specialistSummary, synthSummary string, minConfidence float64) string {
	return fmt.Sprintf(`You are the portfolio manager making the final entry call.
Answer with JSON: {"approve": true|false, "stage": "AUTO_PASS"|"BORDERLINE"|"RULE_FAIL", "score": 0-100, "confidence": 0-100, "cooldownSec": 30-300, "orderType": "MARKET"|"LIMIT", "reason": "<=120 chars"}

Only approve with confidence >= %.0f.

Market: %s
Specialists:
%s
Synthesizer:
%s`, minConfidence, market, specialistSummary, synthSummary)
}
