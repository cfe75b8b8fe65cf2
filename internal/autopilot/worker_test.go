package autopilot

import (
	"context"
	"errors"
	"testing"
	"time"

	"upbit-autopilot/internal/guided"
	"upbit-autopilot/internal/mcp"

	"github.com/rs/zerolog"
)

func newTestWorker(cfg WorkerConfig, backend guided.API, gateway *fakeGateway, bridge mcp.Client, opts Options, rec *eventRecorder) *Worker {
	if cfg.Market == "" {
		cfg.Market = "KRW-BTC"
	}
	if cfg.EntryAmountKrw == 0 {
		cfg.EntryAmountKrw = 10000
	}
	normalized := opts.Normalize()
	return NewWorker(cfg, WorkerDeps{
		Guided:      backend,
		LLM:         gateway,
		Mcp:         bridge,
		Screenshots: NewScreenshotStore(),
		Options:     func() Options { return normalized },
		OnState:     rec.onState,
		OnEvent:     rec.onEvent,
		OnOrderFlow: rec.onFlow,
		Logger:      zerolog.Nop(),
	})
}

func approveReply() string {
	return `{"approve": true, "confidence": 80, "severity": "LOW", "reason": "ok"}`
}

func TestWorkerDeterministicGateRejects(t *testing.T) {
	tests := []struct {
		name string
		rec  guided.Recommendation
	}{
		{"low risk reward", guided.Recommendation{CurrentPrice: 100, RecommendedEntry: 99, StopLoss: 97, TakeProfit: 105, RiskReward: 1.0}},
		{"too close to stop", guided.Recommendation{CurrentPrice: 97.1, RecommendedEntry: 97, StopLoss: 97, TakeProfit: 105, RiskReward: 2.0}},
		{"too close to target", guided.Recommendation{CurrentPrice: 104.9, RecommendedEntry: 99, StopLoss: 97, TakeProfit: 105, RiskReward: 2.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeGuided()
			backend.agentContext = &guided.AgentContext{Chart: guided.Chart{Recommendation: tt.rec}}
			gateway := &fakeGateway{}
			rec := &eventRecorder{}
			w := newTestWorker(WorkerConfig{}, backend, gateway, nil, DefaultOptions(), rec)

			w.Tick(context.Background())

			if backend.startCount() != 0 {
				t.Error("expected no entry order")
			}
			if gateway.callCount() != 0 {
				t.Error("deterministic gate must not consult the LLM")
			}
			if !rec.hasAction("LLM_REJECT") {
				t.Error("expected LLM_REJECT event")
			}
			if w.Status() != StatusCooldown {
				t.Errorf("status = %s, want COOLDOWN", w.Status())
			}
		})
	}
}

func TestAcceptEntryVerdict(t *testing.T) {
	opts := Options{MinLlmConfidence: 60}

	tests := []struct {
		name    string
		policy  EntryPolicy
		verdict EntryVerdict
		want    bool
	}{
		{"conservative approve high conf", PolicyConservative, EntryVerdict{Approve: true, Confidence: 70, Severity: SeverityLow}, true},
		{"conservative approve low conf", PolicyConservative, EntryVerdict{Approve: true, Confidence: 50, Severity: SeverityLow}, false},
		{"conservative dissent rejected", PolicyConservative, EntryVerdict{Approve: false, Confidence: 90, Severity: SeverityLow}, false},
		{"balanced approve high conf", PolicyBalanced, EntryVerdict{Approve: true, Confidence: 70, Severity: SeverityLow}, true},
		{"balanced dissent medium conf", PolicyBalanced, EntryVerdict{Approve: false, Confidence: 45, Severity: SeverityMedium}, true},
		{"balanced dissent low conf", PolicyBalanced, EntryVerdict{Approve: false, Confidence: 30, Severity: SeverityLow}, false},
		{"balanced high severity blocks", PolicyBalanced, EntryVerdict{Approve: true, Confidence: 95, Severity: SeverityHigh}, false},
		{"aggressive ignores dissent", PolicyAggressive, EntryVerdict{Approve: false, Confidence: 10, Severity: SeverityMedium}, true},
		{"aggressive high severity blocks", PolicyAggressive, EntryVerdict{Approve: true, Confidence: 95, Severity: SeverityHigh}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts.EntryPolicy = tt.policy
			got, _ := acceptEntryVerdict(opts, tt.verdict)
			if got != tt.want {
				t.Errorf("acceptEntryVerdict = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRejectCooldownBounds(t *testing.T) {
	tests := []struct {
		name    string
		verdict EntryVerdict
		want    time.Duration
	}{
		{"high default", EntryVerdict{Severity: SeverityHigh}, 180 * time.Second},
		{"high suggestion clamped low", EntryVerdict{Severity: SeverityHigh, SuggestedCooldownSec: 10}, 90 * time.Second},
		{"high suggestion clamped high", EntryVerdict{Severity: SeverityHigh, SuggestedCooldownSec: 999}, 300 * time.Second},
		{"medium default", EntryVerdict{Severity: SeverityMedium}, 60 * time.Second},
		{"medium suggestion respected", EntryVerdict{Severity: SeverityMedium, SuggestedCooldownSec: 90}, 90 * time.Second},
		{"medium suggestion clamped", EntryVerdict{Severity: SeverityLow, SuggestedCooldownSec: 600}, 120 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rejectCooldown(tt.verdict); got != tt.want {
				t.Errorf("rejectCooldown = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPlanEntryOrder(t *testing.T) {
	rec := func(current, entry float64) guided.Recommendation {
		return guided.Recommendation{CurrentPrice: current, RecommendedEntry: entry}
	}

	tests := []struct {
		name     string
		mode     EntryOrderMode
		rec      guided.Recommendation
		wantType string
		wantPlan bool
	}{
		{"market mode", OrderModeMarket, rec(102, 100), guided.OrderTypeMarket, true},
		{"limit mode", OrderModeLimit, rec(102, 100), guided.OrderTypeLimit, true},
		{"adaptive tight gap", OrderModeAdaptive, rec(100.2, 100), guided.OrderTypeMarket, true},
		{"adaptive moderate gap", OrderModeAdaptive, rec(101, 100), guided.OrderTypeLimit, true},
		{"adaptive wide gap rejected", OrderModeAdaptive, rec(102, 100), "", false},
		{"adaptive below entry is market", OrderModeAdaptive, rec(99, 100), guided.OrderTypeMarket, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, reason := planEntryOrder(tt.mode, tt.rec)
			if tt.wantPlan != (plan != nil) {
				t.Fatalf("plan presence = %v, want %v (reason %q)", plan != nil, tt.wantPlan, reason)
			}
			if plan != nil && plan.OrderType != tt.wantType {
				t.Errorf("order type = %s, want %s", plan.OrderType, tt.wantType)
			}
			if plan != nil && plan.OrderType == guided.OrderTypeLimit {
				if plan.LimitPrice == nil || *plan.LimitPrice != tt.rec.RecommendedEntry {
					t.Error("limit plan must price at the recommended entry")
				}
			}
		})
	}
}

func TestWorkerEntryHappyPath(t *testing.T) {
	backend := newFakeGuided()
	backend.agentContext = &guided.AgentContext{Chart: guided.Chart{Recommendation: healthyRecommendation()}}
	gateway := &fakeGateway{replies: []string{approveReply()}}
	rec := &eventRecorder{}
	w := newTestWorker(WorkerConfig{}, backend, gateway, nil, DefaultOptions(), rec)

	w.Tick(context.Background())

	req, ok := backend.lastStart()
	if !ok {
		t.Fatal("expected entry order placed")
	}
	if req.OrderType != guided.OrderTypeMarket {
		t.Errorf("gap 0.1%% should use MARKET, got %s", req.OrderType)
	}
	if req.AmountKrw != 10000 {
		t.Errorf("amount = %.0f, want 10000", req.AmountKrw)
	}

	kinds := rec.flowKinds()
	if len(kinds) != 2 || kinds[0] != OrderBuyRequested || kinds[1] != OrderBuyFilled {
		t.Errorf("order flow = %v, want [BUY_REQUESTED BUY_FILLED]", kinds)
	}
	if w.Status() != StatusManaging {
		t.Errorf("status = %s, want MANAGING", w.Status())
	}
}

func TestWorkerEntrySkipsLlmWhenConfigured(t *testing.T) {
	backend := newFakeGuided()
	backend.agentContext = &guided.AgentContext{Chart: guided.Chart{Recommendation: healthyRecommendation()}}
	gateway := &fakeGateway{}
	rec := &eventRecorder{}
	w := newTestWorker(WorkerConfig{SkipLlmEntryReview: true}, backend, gateway, nil, DefaultOptions(), rec)

	w.Tick(context.Background())

	if gateway.callCount() != 0 {
		t.Error("skipLlmEntryReview must bypass the review call")
	}
	if backend.startCount() != 1 {
		t.Error("expected entry order placed")
	}
}

func TestWorkerEntryLlmReject(t *testing.T) {
	backend := newFakeGuided()
	backend.agentContext = &guided.AgentContext{Chart: guided.Chart{Recommendation: healthyRecommendation()}}
	gateway := &fakeGateway{replies: []string{
		`{"approve": false, "confidence": 90, "severity": "HIGH", "reason": "overheated"}`,
	}}
	rec := &eventRecorder{}
	w := newTestWorker(WorkerConfig{}, backend, gateway, nil, DefaultOptions(), rec)

	w.Tick(context.Background())

	if backend.startCount() != 0 {
		t.Error("rejected entry must not place an order")
	}
	if !rec.hasAction("LLM_REJECT") {
		t.Error("expected LLM_REJECT event")
	}
	until := w.CooldownUntil()
	remaining := time.Until(until)
	if remaining < 89*time.Second || remaining > 301*time.Second {
		t.Errorf("HIGH severity cooldown out of bounds: %s", remaining)
	}
}

func TestWorkerEntryFallbackToMcp(t *testing.T) {
	backend := newFakeGuided()
	backend.agentContext = &guided.AgentContext{Chart: guided.Chart{Recommendation: healthyRecommendation()}}
	backend.startErr = errors.New("backend down")
	gateway := &fakeGateway{replies: []string{approveReply()}}
	bridge := &fakeMcp{}
	rec := &eventRecorder{}
	w := newTestWorker(WorkerConfig{}, backend, gateway, bridge, DefaultOptions(), rec)

	w.Tick(context.Background())

	if !rec.hasAction("ENTRY_FAILED") || !rec.hasAction("ENTRY_FALLBACK") {
		t.Error("expected ENTRY_FAILED then ENTRY_FALLBACK events")
	}
	if w.Status() != StatusManaging {
		t.Errorf("status = %s, want MANAGING after fallback success", w.Status())
	}
}

func TestWorkerEntryDoubleFailure(t *testing.T) {
	backend := newFakeGuided()
	backend.agentContext = &guided.AgentContext{Chart: guided.Chart{Recommendation: healthyRecommendation()}}
	backend.startErr = errors.New("backend down")
	gateway := &fakeGateway{replies: []string{approveReply()}}
	bridge := &fakeMcp{err: errors.New("mcp down")}
	rec := &eventRecorder{}
	w := newTestWorker(WorkerConfig{}, backend, gateway, bridge, DefaultOptions(), rec)

	w.Tick(context.Background())

	if w.Status() != StatusError {
		t.Errorf("status = %s, want ERROR after double failure", w.Status())
	}
	if w.CooldownUntil().IsZero() {
		t.Error("expected reject cooldown after tick error")
	}
}

func TestWorkerPendingEntryTimeoutWithMarketFallback(t *testing.T) {
	backend := newFakeGuided()
	backend.setPosition("KRW-BTC", &guided.Position{Market: "KRW-BTC", Status: guided.PositionPendingEntry})
	rec := &eventRecorder{}
	opts := DefaultOptions()
	opts.PendingEntryTimeoutMs = 60_000
	opts.MarketFallbackAfterCancel = true
	w := newTestWorker(WorkerConfig{}, backend, &fakeGateway{}, nil, opts, rec)
	w.pendingEntryObservedAt = time.Now().Add(-2 * time.Minute)

	w.Tick(context.Background())

	if len(backend.cancelCalls) != 1 {
		t.Fatalf("expected exactly one cancel, got %d", len(backend.cancelCalls))
	}
	req, ok := backend.lastStart()
	if !ok || req.OrderType != guided.OrderTypeMarket {
		t.Error("expected a MARKET retry after cancel")
	}
	kinds := rec.flowKinds()
	if len(kinds) < 2 || kinds[0] != OrderCancelled || kinds[1] != OrderBuyRequested {
		t.Errorf("order flow = %v, want CANCELLED then BUY_REQUESTED", kinds)
	}
	if w.Status() != StatusManaging {
		t.Errorf("status = %s, want MANAGING after retry", w.Status())
	}
}

func TestWorkerPendingEntryTimeoutFallbackDisabled(t *testing.T) {
	backend := newFakeGuided()
	backend.setPosition("KRW-BTC", &guided.Position{Market: "KRW-BTC", Status: guided.PositionPendingEntry})
	rec := &eventRecorder{}
	opts := DefaultOptions()
	opts.PendingEntryTimeoutMs = 60_000
	opts.MarketFallbackAfterCancel = false
	w := newTestWorker(WorkerConfig{}, backend, &fakeGateway{}, nil, opts, rec)
	w.pendingEntryObservedAt = time.Now().Add(-2 * time.Minute)

	w.Tick(context.Background())

	if len(backend.cancelCalls) != 1 {
		t.Fatalf("expected one cancel, got %d", len(backend.cancelCalls))
	}
	if backend.startCount() != 0 {
		t.Error("expected no retry with fallback disabled")
	}
	if w.Status() != StatusCooldown {
		t.Errorf("status = %s, want COOLDOWN", w.Status())
	}
}

func TestWorkerPendingEntryBeforeTimeoutWaits(t *testing.T) {
	backend := newFakeGuided()
	backend.setPosition("KRW-BTC", &guided.Position{Market: "KRW-BTC", Status: guided.PositionPendingEntry})
	rec := &eventRecorder{}
	w := newTestWorker(WorkerConfig{}, backend, &fakeGateway{}, nil, DefaultOptions(), rec)
	w.pendingEntryObservedAt = time.Now()

	w.Tick(context.Background())

	if len(backend.cancelCalls) != 0 {
		t.Error("no cancel expected before the timeout")
	}
	if w.Status() != StatusManaging {
		t.Errorf("status = %s, want MANAGING while awaiting fill", w.Status())
	}
}

func TestWorkerFastStopLoss(t *testing.T) {
	backend := newFakeGuided()
	backend.setPosition("KRW-BTC", &guided.Position{
		Market: "KRW-BTC", Status: guided.PositionOpen, UnrealizedPnlPercent: -1.0,
	})
	gateway := &fakeGateway{replies: []string{`{"action": "HOLD", "reason": "wait"}`}}
	rec := &eventRecorder{}
	w := newTestWorker(WorkerConfig{}, backend, gateway, nil, DefaultOptions(), rec)

	w.Tick(context.Background())

	if len(backend.stopCalls) != 1 {
		t.Fatal("expected full exit via backend stop")
	}
	remaining := time.Until(w.CooldownUntil())
	if remaining < 7*time.Minute {
		t.Errorf("fast stop-loss cooldown too short: %s", remaining)
	}
	kinds := rec.flowKinds()
	foundSell := false
	for i := 0; i+1 < len(kinds); i++ {
		if kinds[i] == OrderSellRequested && kinds[i+1] == OrderSellFilled {
			foundSell = true
		}
	}
	if !foundSell {
		t.Errorf("order flow = %v, want SELL_REQUESTED then SELL_FILLED", kinds)
	}
}

func TestWorkerHalfTakeProfit(t *testing.T) {
	backend := newFakeGuided()
	backend.setPosition("KRW-BTC", &guided.Position{
		Market: "KRW-BTC", Status: guided.PositionOpen, UnrealizedPnlPercent: 1.3,
	})
	rec := &eventRecorder{}
	w := newTestWorker(WorkerConfig{}, backend, &fakeGateway{}, nil, DefaultOptions(), rec)

	w.Tick(context.Background())

	if len(backend.partialCalls) != 1 || backend.partialCalls[0] != "KRW-BTC:0.50" {
		t.Errorf("expected half take-profit at 0.5, got %v", backend.partialCalls)
	}
	if len(backend.stopCalls) != 0 {
		t.Error("half take-profit must not full-exit")
	}
}

func TestWorkerHalfTakeProfitOnlyOnce(t *testing.T) {
	backend := newFakeGuided()
	backend.setPosition("KRW-BTC", &guided.Position{
		Market: "KRW-BTC", Status: guided.PositionOpen,
		UnrealizedPnlPercent: 1.3, HalfTakeProfitDone: true,
	})
	rec := &eventRecorder{}
	w := newTestWorker(WorkerConfig{}, backend, &fakeGateway{}, nil, DefaultOptions(), rec)

	w.Tick(context.Background())

	if len(backend.partialCalls) != 0 {
		t.Error("half take-profit must not repeat")
	}
}

func TestWorkerProfitTarget(t *testing.T) {
	backend := newFakeGuided()
	backend.setPosition("KRW-BTC", &guided.Position{
		Market: "KRW-BTC", Status: guided.PositionOpen,
		UnrealizedPnlPercent: 2.5, HalfTakeProfitDone: true,
	})
	gateway := &fakeGateway{replies: []string{`{"action": "HOLD", "reason": "ride it"}`}}
	rec := &eventRecorder{}
	w := newTestWorker(WorkerConfig{}, backend, gateway, nil, DefaultOptions(), rec)

	w.Tick(context.Background())

	if len(backend.stopCalls) != 1 {
		t.Fatal("expected full exit at profit target")
	}
	remaining := time.Until(w.CooldownUntil())
	if remaining < 2*time.Minute || remaining > 4*time.Minute {
		t.Errorf("profit target cooldown = %s, want about 3 min", remaining)
	}
}

func TestWorkerReviewFullExit(t *testing.T) {
	backend := newFakeGuided()
	backend.setPosition("KRW-BTC", &guided.Position{
		Market: "KRW-BTC", Status: guided.PositionOpen, UnrealizedPnlPercent: -0.7,
	})
	gateway := &fakeGateway{replies: []string{
		`{"action": "FULL_EXIT", "confidence": 85, "reason": "structure broken"}`,
	}}
	rec := &eventRecorder{}
	w := newTestWorker(WorkerConfig{}, backend, gateway, nil, DefaultOptions(), rec)

	w.Tick(context.Background())

	if gateway.callCount() != 1 {
		t.Fatalf("expected one review call, got %d", gateway.callCount())
	}
	if len(backend.stopCalls) != 1 {
		t.Error("expected full exit on FULL_EXIT review")
	}
}

func TestWorkerReviewRateLimited(t *testing.T) {
	backend := newFakeGuided()
	backend.setPosition("KRW-BTC", &guided.Position{
		Market: "KRW-BTC", Status: guided.PositionOpen, UnrealizedPnlPercent: -0.7,
	})
	gateway := &fakeGateway{replies: []string{`{"action": "HOLD", "reason": "wait"}`}}
	rec := &eventRecorder{}
	w := newTestWorker(WorkerConfig{}, backend, gateway, nil, DefaultOptions(), rec)

	w.Tick(context.Background())
	w.Tick(context.Background())

	if gateway.callCount() != 1 {
		t.Errorf("expected review rate limited to one call, got %d", gateway.callCount())
	}
}

func TestWorkerCooldownBlocksEntry(t *testing.T) {
	backend := newFakeGuided()
	backend.agentContext = &guided.AgentContext{Chart: guided.Chart{Recommendation: healthyRecommendation()}}
	rec := &eventRecorder{}
	w := newTestWorker(WorkerConfig{}, backend, &fakeGateway{}, nil, DefaultOptions(), rec)
	w.setCooldown(time.Minute)

	w.Tick(context.Background())

	if backend.startCount() != 0 {
		t.Error("no entry order may be placed during cooldown")
	}
	if w.Status() != StatusCooldown {
		t.Errorf("status = %s, want COOLDOWN", w.Status())
	}
}

func TestWorkerCooldownStillManagesPosition(t *testing.T) {
	backend := newFakeGuided()
	backend.setPosition("KRW-BTC", &guided.Position{
		Market: "KRW-BTC", Status: guided.PositionOpen, UnrealizedPnlPercent: -1.0,
	})
	gateway := &fakeGateway{replies: []string{`{"action": "HOLD", "reason": "wait"}`}}
	rec := &eventRecorder{}
	w := newTestWorker(WorkerConfig{}, backend, gateway, nil, DefaultOptions(), rec)
	w.setCooldown(time.Minute)

	w.Tick(context.Background())

	if len(backend.stopCalls) != 1 {
		t.Error("open position must be managed even during cooldown")
	}
}

func TestWorkerPostExitCooldown(t *testing.T) {
	backend := newFakeGuided()
	rec := &eventRecorder{}
	w := newTestWorker(WorkerConfig{}, backend, &fakeGateway{}, nil, DefaultOptions(), rec)
	w.hadOpenPosition = true
	w.peakPnlPercent = 2.0

	w.Tick(context.Background())

	if w.Status() != StatusCooldown {
		t.Errorf("status = %s, want COOLDOWN after close", w.Status())
	}
	if w.hadOpenPosition || w.peakPnlPercent != 0 {
		t.Error("position cycle state must reset after close")
	}
	if w.CooldownUntil().IsZero() {
		t.Error("expected post-exit cooldown")
	}
}

func TestWorkerPause(t *testing.T) {
	backend := newFakeGuided()
	backend.agentContext = &guided.AgentContext{Chart: guided.Chart{Recommendation: healthyRecommendation()}}
	rec := &eventRecorder{}
	w := newTestWorker(WorkerConfig{SkipLlmEntryReview: true}, backend, &fakeGateway{}, nil, DefaultOptions(), rec)

	w.Pause(time.Minute, "manual")
	w.Tick(context.Background())

	if backend.startCount() != 0 {
		t.Error("paused worker must not enter")
	}
	if w.Status() != StatusPaused {
		t.Errorf("status = %s, want PAUSED", w.Status())
	}
}

func TestWorkerPauseMinimumDuration(t *testing.T) {
	backend := newFakeGuided()
	rec := &eventRecorder{}
	w := newTestWorker(WorkerConfig{}, backend, &fakeGateway{}, nil, DefaultOptions(), rec)

	w.Pause(0, "instant")
	w.mu.Lock()
	remaining := time.Until(w.pausedUntil)
	w.mu.Unlock()
	if remaining < 500*time.Millisecond {
		t.Errorf("pause should last at least 1s, got %s", remaining)
	}
}

func TestWorkerStopIsTerminal(t *testing.T) {
	backend := newFakeGuided()
	backend.agentContext = &guided.AgentContext{Chart: guided.Chart{Recommendation: healthyRecommendation()}}
	rec := &eventRecorder{}
	w := newTestWorker(WorkerConfig{SkipLlmEntryReview: true}, backend, &fakeGateway{}, nil, DefaultOptions(), rec)

	w.Stop()
	w.Tick(context.Background())

	if w.Status() != StatusStopped {
		t.Errorf("status = %s, want STOPPED", w.Status())
	}
	if backend.startCount() != 0 {
		t.Error("stopped worker must not act")
	}
}

func TestWorkerOverlappingTickDropped(t *testing.T) {
	backend := newBlockingGuided(newFakeGuided())
	backend.blockPosition = true
	rec := &eventRecorder{}
	w := newTestWorker(WorkerConfig{}, backend, &fakeGateway{}, nil, DefaultOptions(), rec)

	first := make(chan struct{})
	go func() {
		w.Tick(context.Background())
		close(first)
	}()
	<-backend.entered // first tick is parked inside GetPosition

	// The overlapping call must return immediately without a second
	// backend round-trip.
	w.Tick(context.Background())
	if got := backend.parkedCalls(); got != 1 {
		t.Fatalf("backend reached %d times during overlap, want 1", got)
	}

	close(backend.release)
	<-first
}

func TestWorkerPendingEntryRearmsAfterCancel(t *testing.T) {
	backend := newFakeGuided()
	backend.setPosition("KRW-BTC", &guided.Position{Market: "KRW-BTC", Status: guided.PositionPendingEntry})
	rec := &eventRecorder{}
	opts := DefaultOptions()
	opts.PendingEntryTimeoutMs = 60_000
	opts.MarketFallbackAfterCancel = false
	w := newTestWorker(WorkerConfig{}, backend, &fakeGateway{}, nil, opts, rec)
	w.pendingEntryObservedAt = time.Now().Add(-2 * time.Minute)

	w.Tick(context.Background())
	if len(backend.cancelCalls) != 1 {
		t.Fatalf("expected one cancel, got %d", len(backend.cancelCalls))
	}

	// Cooldown over and the order is pending again: the timeout window
	// must restart from this observation, not the pre-cancel one.
	w.mu.Lock()
	w.cooldownUntil = time.Time{}
	w.mu.Unlock()
	w.Tick(context.Background())
	if len(backend.cancelCalls) != 1 {
		t.Fatalf("stale observation caused an immediate re-cancel, %d cancels", len(backend.cancelCalls))
	}
	if w.Status() != StatusManaging {
		t.Errorf("status = %s, want MANAGING while re-observing", w.Status())
	}

	// A second cancel only after a full fresh timeout.
	w.mu.Lock()
	w.pendingEntryObservedAt = time.Now().Add(-2 * time.Minute)
	w.mu.Unlock()
	w.Tick(context.Background())
	if len(backend.cancelCalls) != 2 {
		t.Errorf("expected a second cancel after a fresh timeout, got %d", len(backend.cancelCalls))
	}
}
