package autopilot

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"upbit-autopilot/internal/ai/llm"
	"upbit-autopilot/internal/guided"
	"upbit-autopilot/internal/mcp"

	"github.com/rs/zerolog"
)

const (
	orchestratorTickInterval = 10 * time.Second
	tickTimeout              = 45 * time.Second
)

// OrchestratorDeps is the capability set for the orchestrator and every
// worker it spawns.
type OrchestratorDeps struct {
	Guided     guided.API
	LLM        llm.Gateway
	Mcp        mcp.Client // nil disables the MCP paths
	Logger     zerolog.Logger
	OnState    func(State)                          // full snapshot push, e.g. to websocket hub
	OnLLMUsage func(LLMUsage)                       // budget persistence hook
	OnCooldown func(market string, until time.Time) // external-cooldown persistence hook
}

// Orchestrator owns the tick loop, the worker fleet and all global state:
// candidates, events, logs, order-flow counters, screenshots, the LLM
// budget and external cooldowns.
type Orchestrator struct {
	deps        OrchestratorDeps
	pipeline    *FinePipeline
	screenshots *ScreenshotStore
	events      *eventRing
	logs        *logRing
	budget      llmBudget

	mu            sync.Mutex
	opts          Options
	running       bool
	blockedByLoss bool
	blockReason   string
	workers       map[string]*Worker
	extCooldowns  map[string]time.Time
	candidates    map[string]Candidate
	orderFlow     OrderFlowCounters

	stopChan chan struct{}
	ticking  int32
	now      func() time.Time
}

// NewOrchestrator creates a stopped orchestrator.
func NewOrchestrator(opts Options, deps OrchestratorDeps) *Orchestrator {
	return &Orchestrator{
		deps:         deps,
		pipeline:     NewFinePipeline(deps.LLM, deps.Logger),
		screenshots:  NewScreenshotStore(),
		events:       newEventRing(),
		logs:         newLogRing(),
		opts:         opts.Normalize(),
		workers:      make(map[string]*Worker),
		extCooldowns: make(map[string]time.Time),
		candidates:   make(map[string]Candidate),
		now:          time.Now,
	}
}

// Screenshots exposes the capture store to the API layer.
func (o *Orchestrator) Screenshots() *ScreenshotStore { return o.screenshots }

// Options returns the current configuration.
func (o *Orchestrator) Options() Options {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opts
}

// Start launches the tick loop. The first tick runs immediately.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}
	o.running = true
	o.stopChan = make(chan struct{})
	stopChan := o.stopChan
	o.mu.Unlock()

	o.pushEvent(newEvent(EventSystem, LevelInfo, "", "ORCHESTRATOR_START", "tick loop started"))

	go func() {
		ticker := time.NewTicker(orchestratorTickInterval)
		defer ticker.Stop()

		o.Tick()
		for {
			select {
			case <-ticker.C:
				o.Tick()
			case <-stopChan:
				return
			}
		}
	}()
	return nil
}

// Stop halts the tick loop and every worker.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	close(o.stopChan)
	workers := make([]*Worker, 0, len(o.workers))
	for _, w := range o.workers {
		workers = append(workers, w)
	}
	o.workers = make(map[string]*Worker)
	o.mu.Unlock()

	for _, w := range workers {
		w.Stop()
	}
	o.pushEvent(newEvent(EventSystem, LevelInfo, "", "ORCHESTRATOR_STOP", "tick loop stopped"))
	o.emitState()
}

// Running reports whether the tick loop is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// UpdateConfig normalizes and swaps in new options between ticks. Running
// workers pick up the change on their next tick through the options
// closure.
func (o *Orchestrator) UpdateConfig(opts Options) Options {
	normalized := opts.Normalize()
	o.mu.Lock()
	o.opts = normalized
	o.mu.Unlock()
	o.pushEvent(newEvent(EventSystem, LevelInfo, "", "CONFIG_UPDATED", "options replaced"))
	o.emitState()
	return normalized
}

// PauseMarket defers entries for one market. Delegates to the worker when
// one exists; otherwise an external cooldown is registered so a future
// candidate is demoted.
func (o *Orchestrator) PauseMarket(market string, duration time.Duration, reason string) {
	market = NormalizeMarket(market)
	if market == "" {
		return
	}
	if duration < time.Second {
		duration = time.Second
	}

	o.mu.Lock()
	worker := o.workers[market]
	var until time.Time
	if worker == nil {
		until = o.now().Add(duration)
		o.extCooldowns[market] = until
		if cand, ok := o.candidates[market]; ok {
			cand.Stage = StageCooldown
			cand.Reason = reason
			cand.UpdatedAt = o.now()
			o.candidates[market] = cand
		}
	}
	o.mu.Unlock()

	if worker != nil {
		worker.Pause(duration, reason)
	} else if o.deps.OnCooldown != nil {
		o.deps.OnCooldown(market, until)
	}
	o.pushEvent(newEvent(EventWorker, LevelInfo, market, "MARKET_PAUSED", reason))
}

// RestoreCooldowns seeds external cooldowns from persisted state. Expired
// entries are dropped on the next tick.
func (o *Orchestrator) RestoreCooldowns(cooldowns map[string]time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for market, until := range cooldowns {
		if until.After(o.now()) {
			o.extCooldowns[market] = until
		}
	}
}

// RestoreLLMUsage seeds the daily budget from persisted state.
func (o *Orchestrator) RestoreLLMUsage(usage LLMUsage) {
	o.budget.Restore(o.now(), usage.DateKey, usage.UsedToday, usage.SoftCapWarned)
}

// Tick runs one orchestration cycle. Overlapping invocations are dropped.
func (o *Orchestrator) Tick() {
	if !atomic.CompareAndSwapInt32(&o.ticking, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&o.ticking, 0)

	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()

	if err := o.tick(ctx); err != nil {
		o.deps.Logger.Error().Err(err).Msg("orchestrator tick failed")
		o.pushEvent(newEvent(EventSystem, LevelError, "", "ORCHESTRATOR_TICK_ERROR", err.Error()))
		o.emitState()
	}
}

func (o *Orchestrator) tick(ctx context.Context) error {
	now := o.now()
	opts := o.Options()

	if !opts.Enabled {
		o.emitState()
		return nil
	}

	// 1. KST budget rollover.
	if o.budget.RollIfNeeded(now) {
		o.pushEvent(newEvent(EventSystem, LevelInfo, "", "LLM_BUDGET_ROLLOVER", "daily counter reset"))
		o.notifyUsage(opts)
	}

	// 2. Daily-loss gate.
	stats, err := o.deps.Guided.GetTodayStats(ctx)
	if err != nil {
		return fmt.Errorf("fetch today stats: %w", err)
	}
	blocked := stats.TotalPnlKrw <= opts.DailyLossLimitKrw
	o.mu.Lock()
	wasBlocked := o.blockedByLoss
	o.blockedByLoss = blocked
	if blocked {
		o.blockReason = fmt.Sprintf("daily pnl %.0f KRW <= limit %.0f KRW", stats.TotalPnlKrw, opts.DailyLossLimitKrw)
	} else {
		o.blockReason = ""
	}
	o.mu.Unlock()
	if blocked && !wasBlocked {
		o.pushEvent(newEvent(EventSystem, LevelWarn, "", "DAILY_LOSS_BLOCK",
			fmt.Sprintf("new entries blocked, daily pnl %.0f KRW", stats.TotalPnlKrw)))
	}

	// 3. Open positions.
	positions, err := o.deps.Guided.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("fetch open positions: %w", err)
	}
	openMarketSet := make(map[string]bool, len(positions))
	for _, p := range positions {
		if p.Status == guided.PositionOpen || p.Status == guided.PositionPendingEntry {
			openMarketSet[p.Market] = true
		}
	}

	// 4. Expire external cooldowns.
	o.mu.Lock()
	for market, until := range o.extCooldowns {
		if !until.After(now) {
			delete(o.extCooldowns, market)
		}
	}
	o.mu.Unlock()

	// 5. Focused-lane sync.
	focused := map[string]bool{}
	if opts.FocusedScalpEnabled {
		for _, market := range opts.FocusedScalpMarkets {
			focused[market] = true
		}
	}
	o.syncFocusedWorkers(opts, focused)

	// 6. Adopt workers for already-open positions regardless of slots.
	for market := range openMarketSet {
		o.ensureWorker(opts, market, focused[market])
	}

	// 7. Early exit while blocked; open positions stay managed.
	if blocked {
		o.replaceCandidates(nil)
		o.emitState()
		return nil
	}

	// 8. Opportunity scan, focused markets excluded.
	opportunities, err := o.deps.Guided.GetAutopilotOpportunities(ctx,
		opts.Interval, opts.ConfirmInterval, string(opts.TradingMode), opts.CandidateLimit)
	if err != nil {
		return fmt.Errorf("fetch opportunities: %w", err)
	}
	shortlist := make([]guided.Opportunity, 0, len(opportunities))
	for _, opp := range opportunities {
		if !focused[opp.Market] {
			shortlist = append(shortlist, opp)
		}
	}

	// 9-11. Gate, consult the pipeline, spawn.
	candidates := o.gateAndSpawn(ctx, opts, shortlist, openMarketSet, now)

	// 12. Best-effort decision log.
	o.logDecisions(ctx, opts, candidates, now)

	// 13. Prune idle workers outside the shortlist.
	o.pruneIdleWorkers(openMarketSet, shortlist)

	// 14. Publish.
	o.replaceCandidates(candidates)
	o.emitState()
	return nil
}

func (o *Orchestrator) syncFocusedWorkers(opts Options, focused map[string]bool) {
	o.mu.Lock()
	var toStop []*Worker
	for market, w := range o.workers {
		if w.Focused() && !focused[market] {
			toStop = append(toStop, w)
			delete(o.workers, market)
		}
	}
	o.mu.Unlock()

	for _, w := range toStop {
		w.Stop()
		o.pushEvent(newEvent(EventWorker, LevelInfo, w.Market(), "FOCUSED_SCALP_STOP", "focused loop removal"))
	}

	for market := range focused {
		o.ensureWorker(opts, market, true)
	}
}

// ensureWorker spawns a worker when the market has none. Used for focused
// markets and position adoption, both exempt from the slot cap.
func (o *Orchestrator) ensureWorker(opts Options, market string, isFocused bool) {
	o.mu.Lock()
	if _, exists := o.workers[market]; exists {
		o.mu.Unlock()
		return
	}
	cfg := WorkerConfig{
		Market:         market,
		EntryAmountKrw: opts.EntryAmountFor(""),
		Focused:        isFocused,
		TickMs:         opts.WorkerTickMs,
	}
	if isFocused {
		cfg.SkipLlmEntryReview = opts.FocusedEntryGate == GateFastOnly
		cfg.TickMs = opts.FocusedScalpPollIntervalMs
		cfg.WarnHoldingMs = opts.FocusedWarnHoldingMs
		cfg.MaxHoldingMs = opts.FocusedMaxHoldingMs
	}
	w := o.newWorkerLocked(cfg)
	o.workers[market] = w
	o.mu.Unlock()

	w.Start()
	action := "WORKER_ADOPTED"
	if isFocused {
		action = "FOCUSED_SCALP_START"
	}
	o.pushEvent(newEvent(EventWorker, LevelInfo, market, action, "worker spawned"))
}

// gateAndSpawn walks the shortlist through the eligibility chain, consults
// the fine pipeline for the leading candidates, and spawns workers for the
// survivors. Stages only move down the documented graph within one tick.
func (o *Orchestrator) gateAndSpawn(ctx context.Context, opts Options, shortlist []guided.Opportunity, openMarketSet map[string]bool, now time.Time) map[string]Candidate {
	candidates := make(map[string]Candidate, len(shortlist))

	o.mu.Lock()
	availableSlots := opts.MaxConcurrentPositions
	for _, w := range o.workers {
		if !w.Focused() && w.Status() != StatusStopped {
			availableSlots--
		}
	}
	o.mu.Unlock()

	pipelineBudget := 0
	if opts.FineAgentEnabled {
		pipelineBudget = opts.FineAgentMaxPerTick
	}

	for _, opp := range shortlist {
		cand := Candidate{Opportunity: opp, Stage: CandidateStage(opp.Stage), Reason: opp.Reason, UpdatedAt: now}

		switch {
		case opp.Stage == string(StageRuleFail):
			cand.Stage = StageRuleFail
		case openMarketSet[opp.Market]:
			cand.Stage = StagePositionOpen
			cand.Reason = "position already open"
		case o.hasExternalCooldown(opp.Market, now):
			cand.Stage = StageCooldown
			cand.Reason = "external cooldown"
		case o.workerInCooldown(opp.Market, now):
			cand.Stage = StageCooldown
			cand.Reason = "worker cooldown"
		case o.hasWorker(opp.Market):
			cand.Stage = StageWorkerActive
			cand.Reason = "worker already active"
		case availableSlots <= 0:
			cand.Stage = StageSlotFull
			cand.Reason = "no free position slots"
		default:
			// Eligible. Consult the fine pipeline for the leading
			// AUTO_PASS / BORDERLINE candidates.
			if pipelineBudget > 0 && (cand.Stage == StageAutoPass || cand.Stage == StageBorderline) {
				pipelineBudget--
				decision := o.consultPipeline(ctx, opts, opp)
				cand.Stage = decision.Stage
				cand.Reason = decision.Reason
			}

			if cand.Stage == StageAutoPass || cand.Stage == StageBorderline {
				amount := opts.EntryAmountFor(cand.Stage)
				o.spawnOpportunityWorker(opts, opp.Market, amount, cand.Stage == StageAutoPass)
				availableSlots--
				cand.Stage = StageEntered
				o.pushEvent(newEvent(EventCandidate, LevelInfo, opp.Market, "ENTERED",
					fmt.Sprintf("worker spawned, %.0f KRW", amount)))
			}
		}

		candidates[opp.Market] = cand
	}
	return candidates
}

func (o *Orchestrator) consultPipeline(ctx context.Context, opts Options, opp guided.Opportunity) Decision {
	agentCtx, err := o.deps.Guided.GetAgentContext(ctx, opp.Market, opts.Interval, 100, 10, string(opts.TradingMode))
	if err != nil {
		o.deps.Logger.Warn().Str("market", opp.Market).Err(err).Msg("agent context unavailable, keeping backend stage")
		return Decision{Stage: CandidateStage(opp.Stage), Reason: opp.Reason, Approve: true}
	}

	decision := o.pipeline.Run(ctx, PipelineInput{
		Opportunity:      opp,
		Context:          agentCtx,
		TradingMode:      opts.TradingMode,
		Model:            opts.LlmModel,
		MinLlmConfidence: opts.MinLlmConfidence,
		Mode:             opts.FineAgentMode,
		CacheTTL:         time.Duration(opts.FineAgentDecisionTtlMs) * time.Millisecond,
	})
	if decision.LLMCalls > 0 {
		o.countLLM(decision.LLMCalls)
	}

	o.pushEvent(newEvent(EventCandidate, LevelInfo, opp.Market, "FINE_AGENT_REVIEW",
		fmt.Sprintf("%s score %.0f confidence %.0f via %s: %s",
			decision.Stage, decision.Score, decision.Confidence, decision.Source, decision.Reason)))
	return decision
}

func (o *Orchestrator) spawnOpportunityWorker(opts Options, market string, amountKrw float64, skipLlm bool) {
	o.mu.Lock()
	if _, exists := o.workers[market]; exists {
		o.mu.Unlock()
		return
	}
	w := o.newWorkerLocked(WorkerConfig{
		Market:             market,
		EntryAmountKrw:     amountKrw,
		SkipLlmEntryReview: skipLlm,
		TickMs:             opts.WorkerTickMs,
	})
	o.workers[market] = w
	o.mu.Unlock()
	w.Start()
}

func (o *Orchestrator) newWorkerLocked(cfg WorkerConfig) *Worker {
	return NewWorker(cfg, WorkerDeps{
		Guided:      o.deps.Guided,
		LLM:         o.deps.LLM,
		Mcp:         o.deps.Mcp,
		Screenshots: o.screenshots,
		Options:     o.Options,
		OnState:     o.onWorkerState,
		OnEvent:     o.pushEvent,
		OnOrderFlow: o.onOrderFlow,
		OnLLMCall:   o.countLLM,
		Logger:      o.deps.Logger,
	})
}

func (o *Orchestrator) logDecisions(ctx context.Context, opts Options, candidates map[string]Candidate, now time.Time) {
	if len(candidates) == 0 {
		return
	}
	payload := guided.DecisionLogPayload{At: now, Mode: string(opts.TradingMode)}
	for _, cand := range candidates {
		payload.Candidates = append(payload.Candidates, guided.DecisionRecord{
			Market: cand.Opportunity.Market,
			Stage:  string(cand.Stage),
			Score:  cand.Opportunity.Score,
			Reason: cand.Reason,
		})
	}
	sort.Slice(payload.Candidates, func(i, j int) bool {
		return payload.Candidates[i].Market < payload.Candidates[j].Market
	})
	if err := o.deps.Guided.LogAutopilotDecision(ctx, payload); err != nil {
		o.pushEvent(newEvent(EventSystem, LevelWarn, "", "DECISION_LOG_WARN", err.Error()))
	}
}

// pruneIdleWorkers stops non-focused workers whose market fell off the
// shortlist and has no position, unless they are mid-action.
func (o *Orchestrator) pruneIdleWorkers(openMarketSet map[string]bool, shortlist []guided.Opportunity) {
	inShortlist := make(map[string]bool, len(shortlist))
	for _, opp := range shortlist {
		inShortlist[opp.Market] = true
	}

	busy := map[WorkerStatus]bool{
		StatusEntering:        true,
		StatusManaging:        true,
		StatusPlaywrightCheck: true,
		StatusPaused:          true,
	}

	o.mu.Lock()
	var toStop []*Worker
	for market, w := range o.workers {
		if w.Focused() || openMarketSet[market] || inShortlist[market] {
			continue
		}
		if busy[w.Status()] {
			continue
		}
		toStop = append(toStop, w)
		delete(o.workers, market)
	}
	o.mu.Unlock()

	for _, w := range toStop {
		w.Stop()
		o.pushEvent(newEvent(EventWorker, LevelInfo, w.Market(), "WORKER_PRUNED", "high-confidence shortlist exclusion"))
	}
}

func (o *Orchestrator) replaceCandidates(candidates map[string]Candidate) {
	if candidates == nil {
		candidates = make(map[string]Candidate)
	}
	o.mu.Lock()
	o.candidates = candidates
	o.mu.Unlock()
}

// ---------------------------------------------------------------------------
// lookups

func (o *Orchestrator) hasWorker(market string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.workers[market]
	return ok
}

func (o *Orchestrator) hasExternalCooldown(market string, now time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	until, ok := o.extCooldowns[market]
	return ok && until.After(now)
}

func (o *Orchestrator) workerInCooldown(market string, now time.Time) bool {
	o.mu.Lock()
	w := o.workers[market]
	o.mu.Unlock()
	if w == nil {
		return false
	}
	until := w.CooldownUntil()
	return !until.IsZero() && until.After(now)
}

// ---------------------------------------------------------------------------
// callbacks and state

func (o *Orchestrator) countLLM(n int) {
	opts := o.Options()
	if o.budget.Count(o.now(), n, opts.LlmDailySoftCap) {
		o.pushEvent(newEvent(EventSystem, LevelWarn, "", "LLM_SOFT_CAP",
			fmt.Sprintf("daily LLM soft cap %d crossed", opts.LlmDailySoftCap)))
	}
	o.notifyUsage(opts)
}

func (o *Orchestrator) notifyUsage(opts Options) {
	if o.deps.OnLLMUsage != nil {
		o.deps.OnLLMUsage(o.budget.Snapshot(opts.LlmDailySoftCap))
	}
}

func (o *Orchestrator) onWorkerState(snap WorkerSnapshot) {
	o.logs.Push(fmt.Sprintf("%s [%s] %s: %s",
		o.now().Format("15:04:05"), snap.Market, snap.Status, snap.Note))
	o.emitState()
}

func (o *Orchestrator) onOrderFlow(evt OrderFlowEvent) {
	o.mu.Lock()
	o.orderFlow.apply(evt.Kind)
	o.mu.Unlock()
	o.pushEvent(newEvent(EventOrder, LevelInfo, evt.Market, string(evt.Kind), evt.Detail))
}

func (o *Orchestrator) pushEvent(evt TimelineEvent) {
	o.events.Push(evt)
	o.logs.Push(fmt.Sprintf("%s %s %s %s: %s",
		evt.At.Format("15:04:05"), evt.Level, evt.Action, evt.Market, evt.Detail))

	logger := o.deps.Logger.Info()
	switch evt.Level {
	case LevelWarn:
		logger = o.deps.Logger.Warn()
	case LevelError:
		logger = o.deps.Logger.Error()
	}
	logger.Str("action", evt.Action).Str("market", evt.Market).Msg(evt.Detail)
}

// Snapshot assembles the full externally visible state.
func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	opts := o.opts
	state := State{
		Running:            o.running,
		Enabled:            opts.Enabled,
		BlockedByDailyLoss: o.blockedByLoss,
		BlockReason:        o.blockReason,
		OrderFlow:          o.orderFlow,
		FocusedMarkets:     append([]string(nil), opts.FocusedScalpMarkets...),
		UpdatedAt:          o.now(),
	}
	state.Candidates = make([]Candidate, 0, len(o.candidates))
	for _, cand := range o.candidates {
		state.Candidates = append(state.Candidates, cand)
	}
	state.Workers = make([]WorkerSnapshot, 0, len(o.workers))
	workers := make([]*Worker, 0, len(o.workers))
	for _, w := range o.workers {
		workers = append(workers, w)
	}
	o.mu.Unlock()

	sort.Slice(state.Candidates, func(i, j int) bool {
		return state.Candidates[i].Opportunity.Score > state.Candidates[j].Opportunity.Score
	})
	for _, w := range workers {
		state.Workers = append(state.Workers, w.Snapshot())
	}
	sort.Slice(state.Workers, func(i, j int) bool {
		return state.Workers[i].Market < state.Workers[j].Market
	})

	state.Events = o.events.Snapshot()
	state.Logs = o.logs.Snapshot()
	state.LLMUsage = o.budget.Snapshot(opts.LlmDailySoftCap)
	return state
}

func (o *Orchestrator) emitState() {
	if o.deps.OnState != nil {
		o.deps.OnState(o.Snapshot())
	}
}
