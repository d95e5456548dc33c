package orchestrator

import (
	"log/slog"
	"strings"
)

// Team names the classifier routes to.
const (
	TeamMetric = "metric-team"
	TeamLog    = "log-team"
)

// Keyword sets for team selection. Korean terms are included because the
// operators this was built for ask in Korean.
var (
	metricKeywords = []string{
		"memory", "cpu", "oom", "restart", "crash", "die", "dying", "died",
		"kill", "limit", "resource", "latency", "slow", "usage", "throttl",
		"메모리", "죽어", "죽었", "재시작", "느려", "리소스",
	}
	logKeywords = []string{
		"log", "logs", "error", "errors", "exception", "stacktrace",
		"stack trace", "panic", "warning", "message",
		"로그", "에러", "오류", "예외",
	}
)

// Classify selects the teams relevant to a user message by keyword match.
// Order is deterministic: the metric team always dispatches before the log
// team. A message matching neither set activates both, a broad question
// deserves a broad investigation.
func Classify(message string) []string {
	lower := strings.ToLower(message)

	metric := matchesAny(lower, metricKeywords)
	logs := matchesAny(lower, logKeywords)

	var teams []string
	switch {
	case metric && logs:
		teams = []string{TeamMetric, TeamLog}
	case metric:
		teams = []string{TeamMetric}
	case logs:
		teams = []string{TeamLog}
	default:
		teams = []string{TeamMetric, TeamLog}
	}

	slog.Info("orchestrator: classified message",
		"teams", teams, "metric_match", metric, "log_match", logs)
	return teams
}

func matchesAny(message string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(message, kw) {
			return true
		}
	}
	return false
}
