package autopilot

import (
	"regexp"
	"strings"
)

// maxFocusedMarkets caps the focused-scalp fast lane.
const maxFocusedMarkets = 8

var baseSymbolPattern = regexp.MustCompile(`^[A-Z0-9]+$`)

// NormalizeFocusedMarket canonicalizes one focused-market input to
// "KRW-<BASE>". Inputs may be a bare symbol ("btc") or a full market id
// ("KRW-BTC"). Returns "" for anything that does not normalize to a valid
// id. Idempotent: normalizing an already normalized id returns it as-is.
func NormalizeFocusedMarket(input string) string {
	s := strings.ToUpper(strings.TrimSpace(input))
	if s == "" {
		return ""
	}

	if strings.HasPrefix(s, "KRW-") {
		s = strings.TrimPrefix(s, "KRW-")
	}
	if !baseSymbolPattern.MatchString(s) {
		return ""
	}
	return "KRW-" + s
}

// NormalizeFocusedMarkets normalizes, deduplicates and caps the focused
// market list, preserving input order.
func NormalizeFocusedMarkets(inputs []string) []string {
	seen := make(map[string]struct{}, len(inputs))
	out := make([]string, 0, len(inputs))
	for _, input := range inputs {
		market := NormalizeFocusedMarket(input)
		if market == "" {
			continue
		}
		if _, dup := seen[market]; dup {
			continue
		}
		seen[market] = struct{}{}
		out = append(out, market)
		if len(out) == maxFocusedMarkets {
			break
		}
	}
	return out
}

// NormalizeMarket canonicalizes a full market id at public entry points.
// Unlike the focused variant, no quote prefix is injected: "btc" is not a
// valid market here, "krw-btc" is.
func NormalizeMarket(input string) string {
	s := strings.ToUpper(strings.TrimSpace(input))
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 || !baseSymbolPattern.MatchString(parts[0]) || !baseSymbolPattern.MatchString(parts[1]) {
		return ""
	}
	return s
}
