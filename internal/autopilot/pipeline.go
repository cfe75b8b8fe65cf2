package autopilot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"upbit-autopilot/internal/ai/llm"
	"upbit-autopilot/internal/guided"

	"github.com/rs/zerolog"
)

// Specialist roles of the pipeline
const (
	roleTechnical      = "TECHNICAL"
	roleMicrostructure = "MICROSTRUCTURE"
	roleExecutionRisk  = "EXECUTION_RISK"
)

// Decision is the pipeline outcome. The pipeline never fails: broken LLM
// runs collapse to the deterministic fallback.
type Decision struct {
	Approve     bool           `json:"approve"`
	Stage       CandidateStage `json:"stage"`
	Score       float64        `json:"score"`
	Confidence  float64        `json:"confidence"`
	CooldownSec int            `json:"cooldown_sec"`
	OrderType   string         `json:"order_type"`
	Reason      string         `json:"reason"`
	Source      string         `json:"source"` // "pm", "fallback" or "cache"
	LLMCalls    int            `json:"llm_calls"`
}

// PipelineInput carries one candidate through the cascade.
type PipelineInput struct {
	Opportunity      guided.Opportunity
	Context          *guided.AgentContext
	TradingMode      TradingMode
	Model            string
	MinLlmConfidence float64
	Mode             PipelineMode
	CacheTTL         time.Duration
}

type cachedDecision struct {
	at       time.Time
	decision Decision
}

// FinePipeline runs the specialist -> synthesizer -> PM cascade with a
// per-market decision cache.
type FinePipeline struct {
	gateway llm.Gateway
	logger  zerolog.Logger

	mu    sync.Mutex
	cache map[string]cachedDecision
}

// NewFinePipeline creates the pipeline.
func NewFinePipeline(gateway llm.Gateway, logger zerolog.Logger) *FinePipeline {
	return &FinePipeline{
		gateway: gateway,
		logger:  logger,
		cache:   make(map[string]cachedDecision),
	}
}

// Run evaluates one candidate. Always returns a usable Decision; LLMCalls
// reports how many gateway calls this invocation made (0 on cache hit).
func (p *FinePipeline) Run(ctx context.Context, in PipelineInput) Decision {
	market := in.Opportunity.Market
	ttl := in.CacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}

	if cached, ok := p.getCached(market, ttl); ok {
		cached.Source = "cache"
		cached.LLMCalls = 0
		return cached
	}

	pack := featurePackFor(in)
	calls := 0

	specialists := p.runSpecialists(ctx, in, pack, &calls)
	synth, synthOK := p.runSynthesizer(ctx, in, pack, specialists, &calls)
	if !synthOK {
		decision := fallbackDecision(pack, in.MinLlmConfidence)
		decision.LLMCalls = calls
		p.putCache(market, decision)
		return decision
	}

	pm, pmOK := p.runPM(ctx, in, specialists, synth, &calls)
	if !pmOK {
		decision := fallbackDecision(pack, in.MinLlmConfidence)
		decision.LLMCalls = calls
		p.putCache(market, decision)
		return decision
	}

	approve := pm.Approve && pm.Stage != StageRuleFail && pm.Confidence >= in.MinLlmConfidence
	stage := pm.Stage
	if !approve {
		stage = StageRuleFail
	}

	decision := Decision{
		Approve:     approve,
		Stage:       stage,
		Score:       pm.Score,
		Confidence:  pm.Confidence,
		CooldownSec: pm.CooldownSec,
		OrderType:   pm.OrderType,
		Reason:      pm.Reason,
		Source:      "pm",
		LLMCalls:    calls,
	}
	p.putCache(market, decision)
	return decision
}

func (p *FinePipeline) runSpecialists(ctx context.Context, in PipelineInput, pack guided.FeaturePack, calls *int) map[string]AgentScore {
	if in.Mode != PipelineFull {
		return liteSpecialistScores(pack)
	}

	out := make(map[string]AgentScore, 3)
	slices := map[string]string{
		roleTechnical: fmt.Sprintf("trend=%.0f pullback=%.0f volatility=%.0f rr=%.0f",
			pack.Technical.TrendScore, pack.Technical.PullbackScore, pack.Technical.VolatilityScore, pack.Technical.RrScore),
		roleMicrostructure: fmt.Sprintf("spreadPct=%.3f imbalance=%.2f top5Imbalance=%.2f",
			pack.Microstructure.SpreadPct, pack.Microstructure.Imbalance, pack.Microstructure.Top5Imbalance),
		roleExecutionRisk: fmt.Sprintf("chasingRisk=%.0f pendingFillRisk=%.0f entryGapPct=%.2f",
			pack.ExecutionRisk.ChasingRisk, pack.ExecutionRisk.PendingFillRisk, pack.ExecutionRisk.EntryGapPct),
	}

	lite := liteSpecialistScores(pack)
	for role, slice := range slices {
		reply, err := p.gateway.RequestOneShotText(ctx, llm.OneShotRequest{
			Model:       in.Model,
			TradingMode: string(in.TradingMode),
			Prompt:      llm.BuildSpecialistPrompt(role, in.Opportunity.Market, slice),
		})
		*calls++
		if err != nil {
			p.logger.Warn().Str("market", in.Opportunity.Market).Str("role", role).Err(err).Msg("specialist call failed, using lite score")
			out[role] = lite[role]
			continue
		}
		score, ok := ParseAgentScore(reply)
		if !ok {
			out[role] = lite[role]
			continue
		}
		out[role] = score
	}
	return out
}

func (p *FinePipeline) runSynthesizer(ctx context.Context, in PipelineInput, pack guided.FeaturePack, specialists map[string]AgentScore, calls *int) (AgentScore, bool) {
	reply, err := p.gateway.RequestOneShotText(ctx, llm.OneShotRequest{
		Model:       in.Model,
		TradingMode: string(in.TradingMode),
		Prompt: llm.BuildSynthesizerPrompt(in.Opportunity.Market,
			summarizeSpecialists(specialists), summarizeFeaturePack(pack)),
	})
	*calls++
	if err != nil {
		p.logger.Warn().Str("market", in.Opportunity.Market).Err(err).Msg("synthesizer call failed")
		return AgentScore{}, false
	}
	return ParseAgentScore(reply)
}

func (p *FinePipeline) runPM(ctx context.Context, in PipelineInput, specialists map[string]AgentScore, synth AgentScore, calls *int) (PMVerdict, bool) {
	synthSummary := fmt.Sprintf("score=%.0f confidence=%.0f reason=%s", synth.Score, synth.Confidence, synth.Reason)
	reply, err := p.gateway.RequestOneShotText(ctx, llm.OneShotRequest{
		Model:       in.Model,
		TradingMode: string(in.TradingMode),
		Prompt: llm.BuildPMPrompt(in.Opportunity.Market,
			summarizeSpecialists(specialists), synthSummary, in.MinLlmConfidence),
	})
	*calls++
	if err != nil {
		p.logger.Warn().Str("market", in.Opportunity.Market).Err(err).Msg("pm call failed")
		return PMVerdict{}, false
	}
	return ParsePMVerdict(reply)
}

func (p *FinePipeline) getCached(market string, ttl time.Duration) (Decision, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	// Purge entries older than twice the TTL while we hold the lock.
	for key, entry := range p.cache {
		if now.Sub(entry.at) > 2*ttl {
			delete(p.cache, key)
		}
	}

	entry, ok := p.cache[market]
	if !ok || now.Sub(entry.at) >= ttl {
		return Decision{}, false
	}
	return entry.decision, true
}

func (p *FinePipeline) putCache(market string, decision Decision) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache[market] = cachedDecision{at: time.Now(), decision: decision}
}

// liteSpecialistScores computes deterministic specialist opinions from the
// feature pack.
func liteSpecialistScores(pack guided.FeaturePack) map[string]AgentScore {
	technical := clampFloat(
		0.35*pack.Technical.TrendScore+
			0.20*pack.Technical.PullbackScore+
			0.15*pack.Technical.VolatilityScore+
			0.30*pack.Technical.RrScore, 0, 100)
	micro := clampFloat(
		65-6*pack.Microstructure.SpreadPct+
			18*pack.Microstructure.Imbalance+
			14*pack.Microstructure.Top5Imbalance, 0, 100)
	execution := clampFloat(
		100-0.55*pack.ExecutionRisk.ChasingRisk-
			0.45*pack.ExecutionRisk.PendingFillRisk, 0, 100)

	return map[string]AgentScore{
		roleTechnical:      {Score: technical, Confidence: 70, Reason: "lite technical composite"},
		roleMicrostructure: {Score: micro, Confidence: 70, Reason: "lite orderbook composite"},
		roleExecutionRisk:  {Score: execution, Confidence: 70, Reason: "lite execution composite"},
	}
}

// fallbackDecision is the deterministic decision used when the LLM stages
// are entirely broken.
func fallbackDecision(pack guided.FeaturePack, minConfidence float64) Decision {
	lite := liteSpecialistScores(pack)
	synthScore := clampFloat(
		0.40*lite[roleTechnical].Score+
			0.30*lite[roleMicrostructure].Score+
			0.30*lite[roleExecutionRisk].Score, 0, 100)

	decision := Decision{
		Stage:       StageRuleFail,
		Score:       synthScore,
		Confidence:  synthScore,
		CooldownSec: 60,
		OrderType:   "LIMIT",
		Source:      "fallback",
	}

	switch {
	case pack.ExecutionRisk.ChasingRisk >= 70 || pack.ExecutionRisk.EntryGapPct > 1.8:
		decision.Reason = fmt.Sprintf("fallback: execution risk too high (chasing %.0f, gap %.2f%%)",
			pack.ExecutionRisk.ChasingRisk, pack.ExecutionRisk.EntryGapPct)
	case synthScore >= 68 && synthScore >= minConfidence:
		decision.Approve = true
		decision.Stage = StageAutoPass
		decision.Reason = fmt.Sprintf("fallback: strong composite %.0f", synthScore)
	case synthScore >= 56:
		decision.Approve = true
		decision.Stage = StageBorderline
		decision.Reason = fmt.Sprintf("fallback: acceptable composite %.0f", synthScore)
	default:
		decision.Reason = fmt.Sprintf("fallback: weak composite %.0f", synthScore)
	}
	return decision
}

// featurePackFor returns the backend pack, or a computed approximation
// when the context carries none.
func featurePackFor(in PipelineInput) guided.FeaturePack {
	if in.Context != nil && in.Context.FeaturePack != nil {
		return *in.Context.FeaturePack
	}

	opp := in.Opportunity
	pack := guided.FeaturePack{
		Technical: guided.TechnicalFeatures{
			TrendScore:      clampFloat(opp.RecommendedEntryWinRate1m, 0, 100),
			PullbackScore:   50,
			VolatilityScore: 50,
			RrScore:         clampFloat(opp.RiskReward1m*40, 0, 100),
		},
		ExecutionRisk: guided.ExecutionRiskFeatures{
			ChasingRisk:     clampFloat(opp.EntryGapPct1m*40, 0, 100),
			PendingFillRisk: 50,
			EntryGapPct:     opp.EntryGapPct1m,
		},
	}
	if in.Context != nil {
		ob := in.Context.Chart.Orderbook
		pack.Microstructure = guided.MicrostructureFeatures{
			SpreadPct:     ob.SpreadPct,
			Imbalance:     ob.Imbalance,
			Top5Imbalance: ob.Top5Imbalance,
		}
	}
	return pack
}

func summarizeSpecialists(specialists map[string]AgentScore) string {
	var sb strings.Builder
	for _, role := range []string{roleTechnical, roleMicrostructure, roleExecutionRisk} {
		s := specialists[role]
		fmt.Fprintf(&sb, "%s: score=%.0f confidence=%.0f %s\n", role, s.Score, s.Confidence, s.Reason)
	}
	return sb.String()
}

func summarizeFeaturePack(pack guided.FeaturePack) string {
	return fmt.Sprintf(
		"technical: trend=%.0f pullback=%.0f volatility=%.0f rr=%.0f\nmicrostructure: spreadPct=%.3f imbalance=%.2f top5=%.2f\nexecution: chasing=%.0f pendingFill=%.0f gapPct=%.2f",
		pack.Technical.TrendScore, pack.Technical.PullbackScore, pack.Technical.VolatilityScore, pack.Technical.RrScore,
		pack.Microstructure.SpreadPct, pack.Microstructure.Imbalance, pack.Microstructure.Top5Imbalance,
		pack.ExecutionRisk.ChasingRisk, pack.ExecutionRisk.PendingFillRisk, pack.ExecutionRisk.EntryGapPct)
}
