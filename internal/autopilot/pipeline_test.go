package autopilot

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"upbit-autopilot/internal/guided"

	"github.com/rs/zerolog"
)

func strongPack() *guided.FeaturePack {
	return &guided.FeaturePack{
		Technical: guided.TechnicalFeatures{
			TrendScore: 80, PullbackScore: 70, VolatilityScore: 60, RrScore: 75,
		},
		Microstructure: guided.MicrostructureFeatures{
			SpreadPct: 0.05, Imbalance: 0.4, Top5Imbalance: 0.3,
		},
		ExecutionRisk: guided.ExecutionRiskFeatures{
			ChasingRisk: 20, PendingFillRisk: 30, EntryGapPct: 0.3,
		},
	}
}

func pipelineInput(mode PipelineMode, pack *guided.FeaturePack) PipelineInput {
	return PipelineInput{
		Opportunity:      guided.Opportunity{Market: "KRW-BTC", Stage: "BORDERLINE"},
		Context:          &guided.AgentContext{Market: "KRW-BTC", FeaturePack: pack},
		TradingMode:      ModeScalp,
		MinLlmConfidence: 60,
		Mode:             mode,
		CacheTTL:         time.Minute,
	}
}

func TestLiteSpecialistScores(t *testing.T) {
	pack := *strongPack()
	scores := liteSpecialistScores(pack)

	wantTechnical := 0.35*80 + 0.20*70 + 0.15*60 + 0.30*75
	if math.Abs(scores[roleTechnical].Score-wantTechnical) > 1e-9 {
		t.Errorf("technical = %.2f, want %.2f", scores[roleTechnical].Score, wantTechnical)
	}

	wantMicro := 65 - 6*0.05 + 18*0.4 + 14*0.3
	if math.Abs(scores[roleMicrostructure].Score-wantMicro) > 1e-9 {
		t.Errorf("micro = %.2f, want %.2f", scores[roleMicrostructure].Score, wantMicro)
	}

	wantExecution := 100 - 0.55*20 - 0.45*30
	if math.Abs(scores[roleExecutionRisk].Score-wantExecution) > 1e-9 {
		t.Errorf("execution = %.2f, want %.2f", scores[roleExecutionRisk].Score, wantExecution)
	}
}

func TestLiteSpecialistScoresClamped(t *testing.T) {
	pack := guided.FeaturePack{
		Microstructure: guided.MicrostructureFeatures{SpreadPct: 50, Imbalance: -1, Top5Imbalance: -1},
		ExecutionRisk:  guided.ExecutionRiskFeatures{ChasingRisk: 100, PendingFillRisk: 100},
	}
	scores := liteSpecialistScores(pack)
	if scores[roleMicrostructure].Score != 0 {
		t.Errorf("micro should clamp to 0, got %.2f", scores[roleMicrostructure].Score)
	}
	if scores[roleExecutionRisk].Score != 0 {
		t.Errorf("execution should clamp to 0, got %.2f", scores[roleExecutionRisk].Score)
	}
}

func TestFallbackDecisionRules(t *testing.T) {
	tests := []struct {
		name      string
		pack      guided.FeaturePack
		wantStage CandidateStage
	}{
		{
			name: "high chasing risk fails",
			pack: guided.FeaturePack{
				Technical:     guided.TechnicalFeatures{TrendScore: 90, PullbackScore: 90, VolatilityScore: 90, RrScore: 90},
				ExecutionRisk: guided.ExecutionRiskFeatures{ChasingRisk: 75},
			},
			wantStage: StageRuleFail,
		},
		{
			name: "wide gap fails",
			pack: guided.FeaturePack{
				Technical:     guided.TechnicalFeatures{TrendScore: 90, PullbackScore: 90, VolatilityScore: 90, RrScore: 90},
				ExecutionRisk: guided.ExecutionRiskFeatures{EntryGapPct: 2.0},
			},
			wantStage: StageRuleFail,
		},
		{
			name:      "strong composite auto-passes",
			pack:      *strongPack(),
			wantStage: StageAutoPass,
		},
		{
			name: "weak composite fails",
			pack: guided.FeaturePack{
				Technical:      guided.TechnicalFeatures{TrendScore: 20, PullbackScore: 20, VolatilityScore: 20, RrScore: 20},
				Microstructure: guided.MicrostructureFeatures{SpreadPct: 3},
				ExecutionRisk:  guided.ExecutionRiskFeatures{ChasingRisk: 60, PendingFillRisk: 80},
			},
			wantStage: StageRuleFail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := fallbackDecision(tt.pack, 60)
			if decision.Stage != tt.wantStage {
				t.Errorf("stage = %s, want %s (reason %q)", decision.Stage, tt.wantStage, decision.Reason)
			}
			if decision.Source != "fallback" {
				t.Errorf("source = %s, want fallback", decision.Source)
			}
		})
	}
}

func TestFallbackDecisionBorderline(t *testing.T) {
	// Composite in the 56..68 band.
	pack := guided.FeaturePack{
		Technical:      guided.TechnicalFeatures{TrendScore: 60, PullbackScore: 60, VolatilityScore: 60, RrScore: 60},
		Microstructure: guided.MicrostructureFeatures{SpreadPct: 0.5},
		ExecutionRisk:  guided.ExecutionRiskFeatures{ChasingRisk: 50, PendingFillRisk: 50},
	}
	decision := fallbackDecision(pack, 60)
	if decision.Stage != StageBorderline {
		t.Errorf("stage = %s, want BORDERLINE (score %.1f)", decision.Stage, decision.Score)
	}
	if !decision.Approve {
		t.Error("borderline fallback should approve")
	}
}

func TestPipelineLiteModeUsesTwoCalls(t *testing.T) {
	gateway := &fakeGateway{replies: []string{
		`{"score": 70, "confidence": 70, "reason": "synth"}`,
		`{"approve": true, "stage": "BORDERLINE", "score": 70, "confidence": 70, "cooldownSec": 60, "orderType": "LIMIT", "reason": "pm"}`,
	}}
	pipeline := NewFinePipeline(gateway, zerolog.Nop())

	decision := pipeline.Run(context.Background(), pipelineInput(PipelineLite, strongPack()))

	if decision.Source != "pm" {
		t.Errorf("source = %s, want pm", decision.Source)
	}
	if decision.LLMCalls != 2 {
		t.Errorf("LITE mode should call synthesizer and PM only, got %d calls", decision.LLMCalls)
	}
	if decision.Stage != StageBorderline || !decision.Approve {
		t.Errorf("unexpected decision: %+v", decision)
	}
}

func TestPipelineFullModeUsesFiveCalls(t *testing.T) {
	specialist := `{"score": 70, "confidence": 70, "reason": "ok"}`
	gateway := &fakeGateway{replies: []string{
		specialist, specialist, specialist,
		`{"score": 72, "confidence": 70, "reason": "synth"}`,
		`{"approve": true, "stage": "AUTO_PASS", "score": 75, "confidence": 80, "cooldownSec": 60, "orderType": "MARKET", "reason": "pm"}`,
	}}
	pipeline := NewFinePipeline(gateway, zerolog.Nop())

	decision := pipeline.Run(context.Background(), pipelineInput(PipelineFull, strongPack()))

	if decision.LLMCalls != 5 {
		t.Errorf("FULL mode should make 5 calls, got %d", decision.LLMCalls)
	}
	if decision.Stage != StageAutoPass {
		t.Errorf("stage = %s, want AUTO_PASS", decision.Stage)
	}
}

func TestPipelineCacheHit(t *testing.T) {
	gateway := &fakeGateway{replies: []string{
		`{"score": 70, "confidence": 70, "reason": "synth"}`,
		`{"approve": true, "stage": "BORDERLINE", "score": 70, "confidence": 70, "cooldownSec": 60, "orderType": "LIMIT", "reason": "pm"}`,
	}}
	pipeline := NewFinePipeline(gateway, zerolog.Nop())
	in := pipelineInput(PipelineLite, strongPack())

	first := pipeline.Run(context.Background(), in)
	second := pipeline.Run(context.Background(), in)

	if second.Source != "cache" {
		t.Errorf("second run source = %s, want cache", second.Source)
	}
	if second.LLMCalls != 0 {
		t.Errorf("cache hit must not call the gateway, got %d", second.LLMCalls)
	}
	if second.Stage != first.Stage {
		t.Errorf("cached stage %s differs from original %s", second.Stage, first.Stage)
	}
	if gateway.callCount() != 2 {
		t.Errorf("gateway calls = %d, want 2", gateway.callCount())
	}
}

func TestPipelineGatewayFailureFallsBack(t *testing.T) {
	gateway := &fakeGateway{err: errors.New("llm down")}
	pipeline := NewFinePipeline(gateway, zerolog.Nop())

	decision := pipeline.Run(context.Background(), pipelineInput(PipelineLite, strongPack()))

	if decision.Source != "fallback" {
		t.Errorf("source = %s, want fallback", decision.Source)
	}
	// strongPack composite is high; the fallback still approves.
	if decision.Stage != StageAutoPass {
		t.Errorf("stage = %s, want AUTO_PASS from fallback", decision.Stage)
	}
}

func TestPipelinePMLowConfidenceDemotes(t *testing.T) {
	gateway := &fakeGateway{replies: []string{
		`{"score": 70, "confidence": 70, "reason": "synth"}`,
		`{"approve": true, "stage": "AUTO_PASS", "score": 70, "confidence": 40, "cooldownSec": 60, "orderType": "LIMIT", "reason": "pm unsure"}`,
	}}
	pipeline := NewFinePipeline(gateway, zerolog.Nop())

	decision := pipeline.Run(context.Background(), pipelineInput(PipelineLite, strongPack()))

	if decision.Approve {
		t.Error("PM confidence below the minimum must not approve")
	}
	if decision.Stage != StageRuleFail {
		t.Errorf("stage = %s, want RULE_FAIL", decision.Stage)
	}
}

func TestPipelineComputedFeaturePackFallback(t *testing.T) {
	gateway := &fakeGateway{err: errors.New("llm down")}
	pipeline := NewFinePipeline(gateway, zerolog.Nop())

	in := pipelineInput(PipelineLite, nil)
	in.Context = &guided.AgentContext{Market: "KRW-BTC"}
	in.Opportunity = guided.Opportunity{
		Market: "KRW-BTC", RecommendedEntryWinRate1m: 70, RiskReward1m: 1.8, EntryGapPct1m: 0.4,
	}

	decision := pipeline.Run(context.Background(), in)
	if decision.Source != "fallback" {
		t.Errorf("source = %s, want fallback", decision.Source)
	}
	if decision.Reason == "" {
		t.Error("fallback decision must carry a reason")
	}
}
