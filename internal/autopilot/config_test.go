package autopilot

import "testing"

func TestNormalizeClampsAndDefaults(t *testing.T) {
	opts := Options{
		TradingMode:            "swing",
		EntryPolicy:            "nonsense",
		EntryOrderMode:         "limit",
		FineAgentMode:          "full",
		FocusedEntryGate:       "llm",
		PendingEntryTimeoutMs:  500,
		FineAgentDecisionTtlMs: 1,
		WorkerTickMs:           10,
		MinLlmConfidence:       250,
		FocusedScalpMarkets:    []string{"btc", "btc", "eth"},
	}.Normalize()

	if opts.TradingMode != ModeSwing {
		t.Errorf("trading mode = %s, want SWING", opts.TradingMode)
	}
	if opts.EntryPolicy != PolicyBalanced {
		t.Errorf("invalid policy should default to BALANCED, got %s", opts.EntryPolicy)
	}
	if opts.EntryOrderMode != OrderModeLimit {
		t.Errorf("order mode = %s, want LIMIT", opts.EntryOrderMode)
	}
	if opts.FineAgentMode != PipelineFull {
		t.Errorf("pipeline mode = %s, want FULL", opts.FineAgentMode)
	}
	if opts.FocusedEntryGate != GateLLM {
		t.Errorf("focused gate = %s, want LLM", opts.FocusedEntryGate)
	}
	if opts.PendingEntryTimeoutMs != 10_000 {
		t.Errorf("pending timeout should clamp to 10s, got %d", opts.PendingEntryTimeoutMs)
	}
	if opts.FineAgentDecisionTtlMs != 15_000 {
		t.Errorf("decision ttl should clamp to 15s, got %d", opts.FineAgentDecisionTtlMs)
	}
	if opts.WorkerTickMs != 1000 {
		t.Errorf("worker tick should clamp to 1s, got %d", opts.WorkerTickMs)
	}
	if opts.MinLlmConfidence != 100 {
		t.Errorf("confidence should clamp to 100, got %f", opts.MinLlmConfidence)
	}
	if len(opts.FocusedScalpMarkets) != 2 {
		t.Errorf("focused markets should dedup, got %v", opts.FocusedScalpMarkets)
	}
}

func TestNormalizeTtlUpperBound(t *testing.T) {
	opts := Options{FineAgentDecisionTtlMs: 10_000_000}.Normalize()
	if opts.FineAgentDecisionTtlMs != 300_000 {
		t.Errorf("decision ttl should clamp to 5min, got %d", opts.FineAgentDecisionTtlMs)
	}
}

func TestEntryAmountFor(t *testing.T) {
	tests := []struct {
		name      string
		amountKrw float64
		stage     CandidateStage
		want      float64
	}{
		{"auto pass scales up", 10000, StageAutoPass, 11500},
		{"borderline scales down", 10000, StageBorderline, 8500},
		{"focused default unscaled", 10000, "", 10000},
		{"lower clamp", 4000, StageBorderline, 5100},
		{"upper clamp", 20000, StageAutoPass, 20000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := Options{AmountKrw: tt.amountKrw}
			if got := opts.EntryAmountFor(tt.stage); got != tt.want {
				t.Errorf("EntryAmountFor(%s) = %.0f, want %.0f", tt.stage, got, tt.want)
			}
		})
	}
}

func TestDefaultOptionsNormalized(t *testing.T) {
	opts := DefaultOptions()
	normalized := opts.Normalize()

	if normalized.TradingMode != opts.TradingMode ||
		normalized.EntryPolicy != opts.EntryPolicy ||
		normalized.PendingEntryTimeoutMs != opts.PendingEntryTimeoutMs {
		t.Error("defaults should survive normalization unchanged")
	}
}
