package detection

import (
	"strings"
	"time"
)

// Rules are the server-configured knobs the heuristic scorer runs against.
type Rules struct {
	MessageThreshold       int
	TimeframeSeconds       int
	SuspiciousKeywords     []string
	MinConfidenceThreshold float64
	AutoRestrict           bool
}

type HeuristicResult struct {
	Suspicious     bool
	FrequencyMatch bool
	KeywordMatch   bool
	Reasons        []string
}

// EvaluateHeuristics runs the cheap rule checks: message frequency within the
// trailing window and case-insensitive keyword containment. Pure and
// deterministic; safe to call on every message.
func EvaluateHeuristics(content string, recent []time.Time, now time.Time, rules Rules) HeuristicResult {
	result := HeuristicResult{}

	if rules.MessageThreshold > 0 && rules.TimeframeSeconds > 0 {
		windowStart := now.Add(-time.Duration(rules.TimeframeSeconds) * time.Second)
		count := 0
		for _, ts := range recent {
			if ts.After(windowStart) {
				count++
			}
		}
		if count > rules.MessageThreshold {
			result.FrequencyMatch = true
			result.Reasons = append(result.Reasons, "message frequency exceeds threshold")
		}
	}

	lowered := strings.ToLower(content)
	for _, keyword := range rules.SuspiciousKeywords {
		keyword = strings.TrimSpace(keyword)
		if keyword == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(keyword)) {
			result.KeywordMatch = true
			result.Reasons = append(result.Reasons, "contains suspicious keyword: "+keyword)
			break
		}
	}

	result.Suspicious = result.FrequencyMatch || result.KeywordMatch
	return result
}
