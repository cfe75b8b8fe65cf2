package autopilot

import (
	"context"
	"fmt"
	"sync"

	"upbit-autopilot/internal/ai/llm"
	"upbit-autopilot/internal/guided"
	"upbit-autopilot/internal/mcp"
)

// fakeGuided is a scriptable in-memory guided backend.
type fakeGuided struct {
	mu sync.Mutex

	stats         guided.TodayStats
	statsErr      error
	openPositions []guided.Position
	opportunities []guided.Opportunity
	positions     map[string]*guided.Position
	agentContext  *guided.AgentContext
	contextErr    error

	startErr  error
	cancelErr error
	logErr    error

	startCalls   []guided.StartRequest
	cancelCalls  []string
	stopCalls    []string
	partialCalls []string
	adoptCalls   []guided.AdoptRequest
	logCalls     []guided.DecisionLogPayload
}

func newFakeGuided() *fakeGuided {
	return &fakeGuided{positions: make(map[string]*guided.Position)}
}

func (f *fakeGuided) GetTodayStats(ctx context.Context) (*guided.TodayStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	stats := f.stats
	return &stats, nil
}

func (f *fakeGuided) GetOpenPositions(ctx context.Context) ([]guided.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]guided.Position(nil), f.openPositions...), nil
}

func (f *fakeGuided) GetAutopilotOpportunities(ctx context.Context, primaryInterval, confirmInterval, mode string, limit int) ([]guided.Opportunity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	opps := append([]guided.Opportunity(nil), f.opportunities...)
	if len(opps) > limit {
		opps = opps[:limit]
	}
	return opps, nil
}

func (f *fakeGuided) GetAgentContext(ctx context.Context, market, interval string, count, closedTradeLimit int, mode string) (*guided.AgentContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.contextErr != nil {
		return nil, f.contextErr
	}
	if f.agentContext != nil {
		agentCtx := *f.agentContext
		agentCtx.Market = market
		return &agentCtx, nil
	}
	return &guided.AgentContext{Market: market}, nil
}

func (f *fakeGuided) GetPosition(ctx context.Context, market string) (*guided.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[market]
	if !ok || p == nil {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeGuided) Start(ctx context.Context, req guided.StartRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls = append(f.startCalls, req)
	return f.startErr
}

func (f *fakeGuided) CancelPending(ctx context.Context, market string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls = append(f.cancelCalls, market)
	return f.cancelErr
}

func (f *fakeGuided) Stop(ctx context.Context, market string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls = append(f.stopCalls, market)
	return nil
}

func (f *fakeGuided) PartialTakeProfit(ctx context.Context, market string, ratio float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partialCalls = append(f.partialCalls, fmt.Sprintf("%s:%.2f", market, ratio))
	return nil
}

func (f *fakeGuided) AdoptPosition(ctx context.Context, req guided.AdoptRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adoptCalls = append(f.adoptCalls, req)
	return nil
}

func (f *fakeGuided) LogAutopilotDecision(ctx context.Context, payload guided.DecisionLogPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logCalls = append(f.logCalls, payload)
	return f.logErr
}

func (f *fakeGuided) setPosition(market string, p *guided.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions[market] = p
}

func (f *fakeGuided) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.startCalls)
}

func (f *fakeGuided) lastStart() (guided.StartRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.startCalls) == 0 {
		return guided.StartRequest{}, false
	}
	return f.startCalls[len(f.startCalls)-1], true
}

// fakeGateway returns scripted replies in order, then repeats the last.
type fakeGateway struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   int
	prompts []string
}

func (g *fakeGateway) RequestOneShotText(ctx context.Context, req llm.OneShotRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, req.Prompt)
	idx := g.calls
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	if len(g.replies) == 0 {
		return "{}", nil
	}
	if idx >= len(g.replies) {
		idx = len(g.replies) - 1
	}
	return g.replies[idx], nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// fakeMcp records tool executions and returns a scripted result.
type fakeMcp struct {
	mu     sync.Mutex
	result *mcp.ToolResult
	err    error
	calls  []string
}

func (m *fakeMcp) ExecuteTool(ctx context.Context, name string, args map[string]interface{}, namespace string) (*mcp.ToolResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, namespace+"/"+name)
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &mcp.ToolResult{}, nil
}

// eventRecorder collects worker events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []TimelineEvent
	flows  []OrderFlowEvent
	states []WorkerSnapshot
}

func (r *eventRecorder) onEvent(evt TimelineEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *eventRecorder) onFlow(evt OrderFlowEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flows = append(r.flows, evt)
}

func (r *eventRecorder) onState(snap WorkerSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, snap)
}

func (r *eventRecorder) hasAction(action string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, evt := range r.events {
		if evt.Action == action {
			return true
		}
	}
	return false
}

func (r *eventRecorder) flowKinds() []OrderFlowKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]OrderFlowKind, len(r.flows))
	for i, f := range r.flows {
		kinds[i] = f.Kind
	}
	return kinds
}

// blockingGuided parks selected backend calls until released, so a test
// can hold a tick mid-flight.
type blockingGuided struct {
	*fakeGuided
	blockStats    bool
	blockPosition bool

	entered chan struct{}
	release chan struct{}

	bmu    sync.Mutex
	parked int
}

func newBlockingGuided(base *fakeGuided) *blockingGuided {
	return &blockingGuided{
		fakeGuided: base,
		entered:    make(chan struct{}, 4),
		release:    make(chan struct{}),
	}
}

func (b *blockingGuided) park() {
	b.bmu.Lock()
	b.parked++
	b.bmu.Unlock()
	b.entered <- struct{}{}
	<-b.release
}

func (b *blockingGuided) parkedCalls() int {
	b.bmu.Lock()
	defer b.bmu.Unlock()
	return b.parked
}

func (b *blockingGuided) GetTodayStats(ctx context.Context) (*guided.TodayStats, error) {
	if b.blockStats {
		b.park()
	}
	return b.fakeGuided.GetTodayStats(ctx)
}

func (b *blockingGuided) GetPosition(ctx context.Context, market string) (*guided.Position, error) {
	if b.blockPosition {
		b.park()
	}
	return b.fakeGuided.GetPosition(ctx, market)
}

// healthyRecommendation passes every deterministic entry check.
func healthyRecommendation() guided.Recommendation {
	return guided.Recommendation{
		CurrentPrice:     100.0,
		RecommendedEntry: 99.9,
		StopLoss:         97.0,
		TakeProfit:       105.0,
		RiskReward:       1.8,
	}
}
