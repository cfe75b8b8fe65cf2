package autopilot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"upbit-autopilot/internal/ai/llm"
	"upbit-autopilot/internal/guided"
	"upbit-autopilot/internal/mcp"

	"github.com/rs/zerolog"
)

// Deterministic entry-gate thresholds
const (
	minRiskReward       = 1.05
	stopProximityMult   = 1.003 // reject when current <= stop * 1.003
	targetProximityMult = 0.995 // reject when current >= takeProfit * 0.995
)

// Adaptive order-plan gap bands, percent above recommended entry
const (
	adaptiveMarketGapPct = 0.25
	adaptiveLimitGapPct  = 1.2
)

// Worker-local cooldowns
const (
	deterministicRejectCooldown = 45 * time.Second
	chaseRiskCooldown           = 45 * time.Second
	cancelFallbackCooldown      = 90 * time.Second
	fastStopLossCooldown        = 8 * time.Minute
	profitTargetCooldown        = 3 * time.Minute
)

// Position-management thresholds, percent PnL
const (
	reviewTriggerLossPct     = -0.6
	reviewTriggerProfitPct   = 1.6
	reviewTriggerDrawdownPct = 0.7
	fastStopLossPct          = -0.8
	halfTakeProfitPct        = 1.2
	fullTakeProfitPct        = 2.2
)

// WorkerConfig fixes per-spawn parameters. Everything else is read from
// the orchestrator's current Options on every tick.
type WorkerConfig struct {
	Market             string
	EntryAmountKrw     float64
	SkipLlmEntryReview bool
	Focused            bool
	TickMs             int64
	WarnHoldingMs      int64 // focused only; 0 = disabled
	MaxHoldingMs       int64 // focused only; 0 = disabled
}

// WorkerDeps is the capability set injected at spawn time.
type WorkerDeps struct {
	Guided      guided.API
	LLM         llm.Gateway
	Mcp         mcp.Client // nil when the bridge is disabled
	Screenshots *ScreenshotStore
	Options     func() Options // current orchestrator options snapshot
	OnState     func(WorkerSnapshot)
	OnEvent     func(TimelineEvent)
	OnOrderFlow func(OrderFlowEvent)
	OnLLMCall   func(n int)
	Logger      zerolog.Logger
}

// Worker drives one market through entry gating, order placement,
// pending-entry reconciliation and open-position management.
type Worker struct {
	cfg  WorkerConfig
	deps WorkerDeps

	mu            sync.Mutex
	status        WorkerStatus
	note          string
	startedAt     time.Time
	updatedAt     time.Time
	cooldownUntil time.Time
	pausedUntil   time.Time
	pauseReason   string

	// entry/position cycle state, owned by the tick goroutine
	hadOpenPosition        bool
	holdingSince           time.Time
	pendingEntryObservedAt time.Time
	marketFallbackTried    bool
	peakPnlPercent         float64
	halfTakeProfitDone     bool
	lastPositionReviewAt   time.Time
	holdingWarned          bool

	ticking int32 // tick re-entrancy guard

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	now func() time.Time
}

// NewWorker creates a worker in SCANNING state. Call Start to begin ticking.
func NewWorker(cfg WorkerConfig, deps WorkerDeps) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		cfg:       cfg,
		deps:      deps,
		status:    StatusScanning,
		startedAt: time.Now(),
		updatedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		now:       time.Now,
	}
	return w
}

// Market returns the worker's market id.
func (w *Worker) Market() string { return w.cfg.Market }

// Focused reports whether this worker belongs to the focused-scalp lane.
func (w *Worker) Focused() bool { return w.cfg.Focused }

// Start launches the tick timer.
func (w *Worker) Start() {
	go w.runLoop()
}

func (w *Worker) runLoop() {
	defer close(w.done)

	tickMs := w.cfg.TickMs
	if tickMs < 1000 {
		tickMs = 1000
	}
	ticker := time.NewTicker(time.Duration(tickMs) * time.Millisecond)
	defer ticker.Stop()

	w.Tick(w.ctx)
	for {
		select {
		case <-ticker.C:
			w.Tick(w.ctx)
		case <-w.ctx.Done():
			return
		}
	}
}

// Stop transitions to STOPPED and releases the timer. In-flight I/O
// completes and its results are discarded.
func (w *Worker) Stop() {
	w.setStatus(StatusStopped, "stopped")
	w.cancel()
}

// Pause defers entries for the given duration. Soft: the current tick is
// not interrupted.
func (w *Worker) Pause(duration time.Duration, reason string) {
	if duration < time.Second {
		duration = time.Second
	}
	w.mu.Lock()
	w.pausedUntil = w.now().Add(duration)
	w.pauseReason = reason
	w.mu.Unlock()
	w.setStatus(StatusPaused, "paused: "+reason)
}

// Snapshot returns the externally visible worker state.
func (w *Worker) Snapshot() WorkerSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	snap := WorkerSnapshot{
		Market:    w.cfg.Market,
		Status:    w.status,
		Note:      w.note,
		Focused:   w.cfg.Focused,
		StartedAt: w.startedAt,
		UpdatedAt: w.updatedAt,
	}
	if !w.cooldownUntil.IsZero() {
		until := w.cooldownUntil
		snap.CooldownUntil = &until
	}
	return snap
}

// CooldownUntil returns the active cooldown deadline, zero when none.
func (w *Worker) CooldownUntil() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cooldownUntil
}

// Status returns the current state machine state.
func (w *Worker) Status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Tick runs one worker cycle. Re-entrant invocations are dropped.
func (w *Worker) Tick(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&w.ticking, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&w.ticking, 0)

	if w.Status() == StatusStopped {
		return
	}

	if err := w.tick(ctx); err != nil {
		w.deps.Logger.Warn().Str("market", w.cfg.Market).Err(err).Msg("worker tick failed")
		w.setCooldown(w.optionDuration(func(o Options) int64 { return o.RejectCooldownMs }))
		w.setStatus(StatusError, "tick error: "+truncate(err.Error(), 120))
		w.emitEvent(EventWorker, LevelError, "WORKER_ERROR", err.Error())
	}
}

func (w *Worker) tick(ctx context.Context) error {
	now := w.now()

	w.mu.Lock()
	paused := now.Before(w.pausedUntil)
	pauseReason := w.pauseReason
	inCooldown := now.Before(w.cooldownUntil)
	w.mu.Unlock()

	if paused {
		w.setStatus(StatusPaused, "paused: "+pauseReason)
		return nil
	}

	if inCooldown {
		w.setStatus(StatusCooldown, "cooldown")
		// An open position is still managed during cooldown.
		position, err := w.deps.Guided.GetPosition(ctx, w.cfg.Market)
		if err != nil {
			return fmt.Errorf("get position: %w", err)
		}
		if position != nil && position.Status == guided.PositionOpen {
			return w.managePosition(ctx, position)
		}
		return nil
	}

	position, err := w.deps.Guided.GetPosition(ctx, w.cfg.Market)
	if err != nil {
		return fmt.Errorf("get position: %w", err)
	}

	switch {
	case position != nil && position.Status == guided.PositionOpen:
		return w.managePosition(ctx, position)
	case position != nil && position.Status == guided.PositionPendingEntry:
		return w.managePendingEntry(ctx)
	case w.hadOpenPosition:
		// Position just closed: start the post-exit cooldown and reset
		// the per-position tracking.
		w.resetPositionCycle()
		w.setCooldown(w.optionDuration(func(o Options) int64 { return o.PostExitCooldownMs }))
		w.setStatus(StatusCooldown, "post-exit cooldown")
		return nil
	default:
		return w.tryEntry(ctx)
	}
}

func (w *Worker) resetPositionCycle() {
	w.mu.Lock()
	w.hadOpenPosition = false
	w.holdingSince = time.Time{}
	w.peakPnlPercent = 0
	w.halfTakeProfitDone = false
	w.pendingEntryObservedAt = time.Time{}
	w.marketFallbackTried = false
	w.holdingWarned = false
	w.mu.Unlock()
}

// ---------------------------------------------------------------------------
// entry path

func (w *Worker) tryEntry(ctx context.Context) error {
	opts := w.deps.Options()
	w.setStatus(StatusAnalyzing, "analyzing entry")

	agentCtx, err := w.deps.Guided.GetAgentContext(ctx, w.cfg.Market, opts.Interval, 100, 10, string(opts.TradingMode))
	if err != nil {
		return fmt.Errorf("get agent context: %w", err)
	}
	rec := agentCtx.Chart.Recommendation

	if reason, ok := deterministicEntryCheck(rec); !ok {
		w.emitEvent(EventLLM, LevelWarn, "LLM_REJECT", reason)
		w.setCooldown(deterministicRejectCooldown)
		w.setStatus(StatusCooldown, reason)
		return nil
	}

	if !w.cfg.SkipLlmEntryReview {
		verdict, err := w.evaluateEntry(ctx, opts, rec)
		if err != nil {
			return fmt.Errorf("entry review: %w", err)
		}
		if accepted, reason := acceptEntryVerdict(opts, verdict); !accepted {
			cooldown := rejectCooldown(verdict)
			w.emitEvent(EventLLM, LevelWarn, "LLM_REJECT", reason)
			w.setCooldown(cooldown)
			w.setStatus(StatusCooldown, reason)
			return nil
		}
	}

	plan, rejectReason := planEntryOrder(opts.EntryOrderMode, rec)
	if plan == nil {
		w.emitEvent(EventWorker, LevelWarn, "CHASE_RISK", rejectReason)
		w.setCooldown(chaseRiskCooldown)
		w.setStatus(StatusCooldown, rejectReason)
		return nil
	}

	if opts.PlaywrightEnabled && w.deps.Mcp != nil {
		w.setStatus(StatusPlaywrightCheck, "verifying UI")
		w.verifyWithPlaywright(ctx)
	}

	return w.placeEntry(ctx, opts, *plan)
}

func (w *Worker) evaluateEntry(ctx context.Context, opts Options, rec guided.Recommendation) (EntryVerdict, error) {
	prompt := llm.BuildEntryReviewPrompt(w.cfg.Market,
		rec.CurrentPrice, rec.RecommendedEntry, rec.StopLoss, rec.TakeProfit, rec.RiskReward, 0, 0)

	reply, err := w.deps.LLM.RequestOneShotText(ctx, llm.OneShotRequest{
		Model:       opts.LlmModel,
		TradingMode: string(opts.TradingMode),
		Prompt:      prompt,
	})
	w.countLLM(1)
	if err != nil {
		return EntryVerdict{}, err
	}
	return ParseEntryVerdict(reply), nil
}

// deterministicEntryCheck is the pure pre-check that runs before any LLM
// involvement.
func deterministicEntryCheck(rec guided.Recommendation) (string, bool) {
	if rec.RiskReward < minRiskReward {
		return fmt.Sprintf("risk/reward %.2f < %.2f", rec.RiskReward, minRiskReward), false
	}
	if rec.StopLoss > 0 && rec.CurrentPrice <= rec.StopLoss*stopProximityMult {
		return fmt.Sprintf("price %.2f too close to stop %.2f", rec.CurrentPrice, rec.StopLoss), false
	}
	if rec.TakeProfit > 0 && rec.CurrentPrice >= rec.TakeProfit*targetProximityMult {
		return fmt.Sprintf("price %.2f too close to target %.2f", rec.CurrentPrice, rec.TakeProfit), false
	}
	return "", true
}

// acceptEntryVerdict applies the policy table to an LLM verdict.
func acceptEntryVerdict(opts Options, v EntryVerdict) (bool, string) {
	switch opts.EntryPolicy {
	case PolicyConservative:
		if v.Approve && v.Confidence >= opts.MinLlmConfidence {
			return true, ""
		}
	case PolicyAggressive:
		if v.Severity != SeverityHigh {
			return true, ""
		}
	default: // BALANCED
		if v.Severity == SeverityHigh {
			break
		}
		if v.Approve && v.Confidence >= opts.MinLlmConfidence {
			return true, ""
		}
		if !v.Approve && v.Confidence >= 40 {
			return true, ""
		}
	}
	return false, fmt.Sprintf("llm reject (%s, confidence %.0f): %s", v.Severity, v.Confidence, v.Reason)
}

// rejectCooldown computes the cooldown after an LLM rejection. Bounds by
// severity; the LLM's own suggestion wins inside the same bounds.
func rejectCooldown(v EntryVerdict) time.Duration {
	lo, hi, def := 45, 120, 60
	if v.Severity == SeverityHigh {
		lo, hi, def = 90, 300, 180
	}
	secs := def
	if v.SuggestedCooldownSec > 0 {
		secs = v.SuggestedCooldownSec
	}
	if secs < lo {
		secs = lo
	}
	if secs > hi {
		secs = hi
	}
	return time.Duration(secs) * time.Second
}

// orderPlan is the selected order type and price
type orderPlan struct {
	OrderType  string
	LimitPrice *float64
}

// planEntryOrder selects the order plan from the configured mode and the
// gap between current price and recommended entry. A nil plan means the
// entry is rejected with the returned reason.
func planEntryOrder(mode EntryOrderMode, rec guided.Recommendation) (*orderPlan, string) {
	gapPct := 0.0
	if rec.RecommendedEntry > 0 && rec.CurrentPrice > rec.RecommendedEntry {
		gapPct = (rec.CurrentPrice - rec.RecommendedEntry) / rec.RecommendedEntry * 100
	}

	switch mode {
	case OrderModeMarket:
		return &orderPlan{OrderType: guided.OrderTypeMarket}, ""
	case OrderModeLimit:
		price := rec.RecommendedEntry
		return &orderPlan{OrderType: guided.OrderTypeLimit, LimitPrice: &price}, ""
	default: // ADAPTIVE
		if gapPct <= adaptiveMarketGapPct {
			return &orderPlan{OrderType: guided.OrderTypeMarket}, ""
		}
		if gapPct <= adaptiveLimitGapPct {
			price := rec.RecommendedEntry
			return &orderPlan{OrderType: guided.OrderTypeLimit, LimitPrice: &price}, ""
		}
		return nil, fmt.Sprintf("gap %.2f%% > %.1f%%", gapPct, adaptiveLimitGapPct)
	}
}

func (w *Worker) placeEntry(ctx context.Context, opts Options, plan orderPlan) error {
	w.setStatus(StatusEntering, "placing "+plan.OrderType+" entry")

	req := guided.StartRequest{
		Market:       w.cfg.Market,
		AmountKrw:    w.cfg.EntryAmountKrw,
		OrderType:    plan.OrderType,
		LimitPrice:   plan.LimitPrice,
		Interval:     opts.Interval,
		Mode:         string(opts.TradingMode),
		EntrySource:  entrySource(w.cfg.Focused),
		StrategyCode: "autopilot-v2",
	}

	w.emitOrderFlow(OrderBuyRequested, plan.OrderType+" entry requested")

	if err := w.deps.Guided.Start(ctx, req); err != nil {
		w.emitEvent(EventOrder, LevelWarn, "ENTRY_FAILED", err.Error())
		if fbErr := w.fallbackEntryByMcp(ctx, req); fbErr != nil {
			w.emitEvent(EventOrder, LevelError, "ENTRY_FALLBACK_FAILED", fbErr.Error())
			return fmt.Errorf("guided entry failed (%v) and mcp fallback failed: %w", err, fbErr)
		}
		w.emitEvent(EventOrder, LevelInfo, "ENTRY_FALLBACK", "mcp order path used")
	}

	// Watchdog baseline for limit orders that sit unfilled.
	w.mu.Lock()
	w.pendingEntryObservedAt = w.now()
	w.marketFallbackTried = false
	w.mu.Unlock()

	if plan.OrderType == guided.OrderTypeMarket {
		// Optimistic fill before backend confirmation; the observed fill
		// is emitted again once the position is reported OPEN.
		w.emitOrderFlow(OrderBuyFilled, "market entry assumed filled")
	}

	w.setStatus(StatusManaging, "entry placed")
	return nil
}

// fallbackEntryByMcp retries order placement through the MCP trading
// namespace when the guided path fails.
func (w *Worker) fallbackEntryByMcp(ctx context.Context, req guided.StartRequest) error {
	if w.deps.Mcp == nil {
		return fmt.Errorf("mcp client unavailable")
	}

	args := map[string]interface{}{
		"market":     req.Market,
		"amount_krw": req.AmountKrw,
		"order_type": req.OrderType,
	}
	if req.LimitPrice != nil {
		args["limit_price"] = *req.LimitPrice
	}

	result, err := w.deps.Mcp.ExecuteTool(ctx, "place_order", args, mcp.NamespaceTrading)
	if err != nil {
		return err
	}
	if result.IsError {
		return fmt.Errorf("mcp place_order: %s", result.FirstText())
	}
	return nil
}

func entrySource(focused bool) string {
	if focused {
		return "autopilot-focused"
	}
	return "autopilot"
}

// ---------------------------------------------------------------------------
// pending entry

func (w *Worker) managePendingEntry(ctx context.Context) error {
	opts := w.deps.Options()
	now := w.now()

	w.mu.Lock()
	if w.pendingEntryObservedAt.IsZero() {
		w.pendingEntryObservedAt = now
	}
	observedAt := w.pendingEntryObservedAt
	fallbackTried := w.marketFallbackTried
	w.mu.Unlock()

	w.setStatus(StatusManaging, "awaiting fill")

	if now.Sub(observedAt) < time.Duration(opts.PendingEntryTimeoutMs)*time.Millisecond {
		return nil
	}

	if err := w.deps.Guided.CancelPending(ctx, w.cfg.Market); err != nil {
		return fmt.Errorf("cancel pending entry: %w", err)
	}
	w.emitOrderFlow(OrderCancelled, "pending entry timed out")

	if opts.MarketFallbackAfterCancel && !fallbackTried {
		w.mu.Lock()
		w.marketFallbackTried = true
		w.pendingEntryObservedAt = now
		w.mu.Unlock()

		req := guided.StartRequest{
			Market:       w.cfg.Market,
			AmountKrw:    w.cfg.EntryAmountKrw,
			OrderType:    guided.OrderTypeMarket,
			Interval:     opts.Interval,
			Mode:         string(opts.TradingMode),
			EntrySource:  entrySource(w.cfg.Focused),
			StrategyCode: "autopilot-v2",
		}
		w.emitOrderFlow(OrderBuyRequested, "market retry after cancel")
		if err := w.deps.Guided.Start(ctx, req); err != nil {
			w.emitEvent(EventOrder, LevelWarn, "ENTRY_FAILED", "market retry failed: "+err.Error())
			w.clearPendingObservation()
			w.setCooldown(cancelFallbackCooldown)
			w.setStatus(StatusCooldown, "market retry failed")
			return nil
		}
		w.emitOrderFlow(OrderBuyFilled, "market retry assumed filled")
		w.setStatus(StatusManaging, "market retry placed")
		return nil
	}

	w.clearPendingObservation()
	w.setCooldown(cancelFallbackCooldown)
	w.setStatus(StatusCooldown, "pending entry cancelled")
	return nil
}

// clearPendingObservation restarts the pending-entry timeout window: the
// next pending observation counts from scratch.
func (w *Worker) clearPendingObservation() {
	w.mu.Lock()
	w.pendingEntryObservedAt = time.Time{}
	w.mu.Unlock()
}

// ---------------------------------------------------------------------------
// open position

func (w *Worker) managePosition(ctx context.Context, position *guided.Position) error {
	opts := w.deps.Options()
	now := w.now()
	pnl := position.UnrealizedPnlPercent

	w.mu.Lock()
	if !w.hadOpenPosition {
		w.hadOpenPosition = true
		w.holdingSince = now
		w.mu.Unlock()
		w.emitOrderFlow(OrderBuyFilled, "position observed open")
		w.mu.Lock()
	}
	if position.HalfTakeProfitDone {
		w.halfTakeProfitDone = true
	}
	if pnl > w.peakPnlPercent {
		w.peakPnlPercent = pnl
	}
	peak := w.peakPnlPercent
	halfDone := w.halfTakeProfitDone
	holdingSince := w.holdingSince
	lastReview := w.lastPositionReviewAt
	holdingWarned := w.holdingWarned
	w.mu.Unlock()

	drawdown := peak - pnl
	w.setStatus(StatusManaging, fmt.Sprintf("pnl %.2f%% (peak %.2f%%)", pnl, peak))

	// Focused-lane holding guards.
	if w.cfg.Focused {
		held := now.Sub(holdingSince)
		if w.cfg.MaxHoldingMs > 0 && held >= time.Duration(w.cfg.MaxHoldingMs)*time.Millisecond {
			return w.exitPosition(ctx, "focused max holding reached", profitTargetCooldown)
		}
		if !holdingWarned && w.cfg.WarnHoldingMs > 0 && held >= time.Duration(w.cfg.WarnHoldingMs)*time.Millisecond {
			w.mu.Lock()
			w.holdingWarned = true
			w.mu.Unlock()
			w.emitEvent(EventWorker, LevelWarn, "HOLDING_WARN", fmt.Sprintf("held %s", held.Truncate(time.Second)))
		}
	}

	// Event-driven LLM review, rate limited per worker.
	reviewDue := pnl <= reviewTriggerLossPct ||
		pnl >= reviewTriggerProfitPct ||
		(position.TrailingActive && drawdown >= reviewTriggerDrawdownPct)
	reviewInterval := time.Duration(opts.LlmReviewIntervalMs) * time.Millisecond

	if reviewDue && now.Sub(lastReview) >= reviewInterval {
		w.mu.Lock()
		w.lastPositionReviewAt = now
		w.mu.Unlock()

		review := w.reviewOpenPosition(ctx, opts, position, peak, drawdown)
		switch review.Action {
		case ActionPartialTP:
			if !halfDone {
				if err := w.partialTakeProfit(ctx, "llm partial take-profit"); err != nil {
					return err
				}
				halfDone = true
			}
		case ActionFullExit:
			return w.exitPosition(ctx, "llm full exit: "+review.Reason, profitTargetCooldown)
		}
	}

	// Deterministic exits run after the review in the same tick.
	switch {
	case pnl <= fastStopLossPct:
		return w.exitPosition(ctx, "fast stop-loss", fastStopLossCooldown)
	case !halfDone && pnl >= halfTakeProfitPct:
		return w.partialTakeProfit(ctx, "half take-profit")
	case pnl >= fullTakeProfitPct:
		return w.exitPosition(ctx, "profit target", profitTargetCooldown)
	}
	return nil
}

func (w *Worker) reviewOpenPosition(ctx context.Context, opts Options, position *guided.Position, peak, drawdown float64) PositionReview {
	prompt := llm.BuildPositionReviewPrompt(w.cfg.Market,
		position.UnrealizedPnlPercent, peak, drawdown,
		position.HalfTakeProfitDone, position.TrailingActive)

	reply, err := w.deps.LLM.RequestOneShotText(ctx, llm.OneShotRequest{
		Model:       opts.LlmModel,
		TradingMode: string(opts.TradingMode),
		Prompt:      prompt,
	})
	w.countLLM(1)
	if err != nil {
		// A failed review is a HOLD; the deterministic exits still apply.
		w.deps.Logger.Warn().Str("market", w.cfg.Market).Err(err).Msg("position review failed")
		return PositionReview{Action: ActionHold, Reason: "review unavailable"}
	}
	return ParsePositionReview(reply)
}

func (w *Worker) partialTakeProfit(ctx context.Context, reason string) error {
	w.emitOrderFlow(OrderSellRequested, reason)
	if err := w.deps.Guided.PartialTakeProfit(ctx, w.cfg.Market, 0.5); err != nil {
		return fmt.Errorf("partial take profit: %w", err)
	}
	w.mu.Lock()
	w.halfTakeProfitDone = true
	w.mu.Unlock()
	w.emitOrderFlow(OrderSellFilled, reason)
	w.emitEvent(EventOrder, LevelInfo, "PARTIAL_TP", reason)
	return nil
}

func (w *Worker) exitPosition(ctx context.Context, reason string, cooldown time.Duration) error {
	w.emitOrderFlow(OrderSellRequested, reason)
	if err := w.deps.Guided.Stop(ctx, w.cfg.Market); err != nil {
		return fmt.Errorf("stop position: %w", err)
	}
	w.emitOrderFlow(OrderSellFilled, reason)
	w.emitEvent(EventOrder, LevelInfo, "FULL_EXIT", reason)

	w.resetPositionCycle()
	w.setCooldown(cooldown)
	w.setStatus(StatusCooldown, reason)
	return nil
}

// ---------------------------------------------------------------------------
// plumbing

func (w *Worker) setStatus(status WorkerStatus, note string) {
	w.mu.Lock()
	if w.status == StatusStopped && status != StatusStopped {
		w.mu.Unlock()
		return
	}
	changed := w.status != status || w.note != note
	w.status = status
	w.note = note
	w.updatedAt = w.now()
	w.mu.Unlock()

	if changed && w.deps.OnState != nil {
		w.deps.OnState(w.Snapshot())
	}
}

func (w *Worker) setCooldown(duration time.Duration) {
	w.mu.Lock()
	w.cooldownUntil = w.now().Add(duration)
	w.mu.Unlock()
}

func (w *Worker) optionDuration(pick func(Options) int64) time.Duration {
	return time.Duration(pick(w.deps.Options())) * time.Millisecond
}

func (w *Worker) emitEvent(evtType EventType, level EventLevel, action, detail string) {
	if w.deps.OnEvent != nil {
		w.deps.OnEvent(newEvent(evtType, level, w.cfg.Market, action, detail))
	}
}

func (w *Worker) emitOrderFlow(kind OrderFlowKind, detail string) {
	if w.deps.OnOrderFlow != nil {
		w.deps.OnOrderFlow(OrderFlowEvent{Kind: kind, Market: w.cfg.Market, Detail: detail})
	}
}

func (w *Worker) countLLM(n int) {
	if w.deps.OnLLMCall != nil {
		w.deps.OnLLMCall(n)
	}
}

// truncate shortens s to at most max bytes without cutting a rune in half.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
