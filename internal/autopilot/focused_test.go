package autopilot

import (
	"reflect"
	"testing"
)

func TestNormalizeFocusedMarket(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare lowercase symbol", "btc", "KRW-BTC"},
		{"bare uppercase symbol", "ETH", "KRW-ETH"},
		{"full market id", "KRW-BTC", "KRW-BTC"},
		{"lowercase full id", "krw-xrp", "KRW-XRP"},
		{"whitespace trimmed", "  sol  ", "KRW-SOL"},
		{"digits allowed", "1inch", "KRW-1INCH"},
		{"empty", "", ""},
		{"invalid characters", "btc/krw", ""},
		{"dash only", "-", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeFocusedMarket(tt.input); got != tt.want {
				t.Errorf("NormalizeFocusedMarket(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeFocusedMarketIdempotent(t *testing.T) {
	once := NormalizeFocusedMarket("doge")
	twice := NormalizeFocusedMarket(once)
	if once != twice {
		t.Errorf("normalization not idempotent: %q != %q", once, twice)
	}
}

func TestNormalizeFocusedMarkets(t *testing.T) {
	input := []string{"btc", "KRW-BTC", "eth", "", "bad/coin", "xrp"}
	want := []string{"KRW-BTC", "KRW-ETH", "KRW-XRP"}
	if got := NormalizeFocusedMarkets(input); !reflect.DeepEqual(got, want) {
		t.Errorf("NormalizeFocusedMarkets = %v, want %v", got, want)
	}
}

func TestNormalizeFocusedMarketsCap(t *testing.T) {
	input := []string{"a1", "b1", "c1", "d1", "e1", "f1", "g1", "h1", "i1", "j1"}
	got := NormalizeFocusedMarkets(input)
	if len(got) != maxFocusedMarkets {
		t.Errorf("expected cap at %d markets, got %d", maxFocusedMarkets, len(got))
	}
	if got[0] != "KRW-A1" {
		t.Errorf("expected order preserved, first = %s", got[0])
	}
}

func TestNormalizeMarket(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"KRW-BTC", "KRW-BTC"},
		{"krw-btc", "KRW-BTC"},
		{"BTC", ""},
		{"", ""},
		{"KRW-", ""},
		{"-BTC", ""},
	}
	for _, tt := range tests {
		if got := NormalizeMarket(tt.input); got != tt.want {
			t.Errorf("NormalizeMarket(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
