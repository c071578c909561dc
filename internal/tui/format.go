package tui

import (
	"fmt"
	"math"
	"time"

	"steam-sessions/internal/model"
	"steam-sessions/internal/stats"
)

// estimateETA extrapolates the finish time from the jobs done so far.
func estimateETA(done, remaining int, elapsed time.Duration) string {
	if done <= 0 || remaining < 0 || elapsed <= 0 {
		return ""
	}
	if remaining == 0 {
		return "0m"
	}
	perJob := elapsed.Seconds() / float64(done)
	return formatETASeconds(perJob * float64(remaining))
}

func formatETASeconds(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	secs := int64(math.Round(seconds))
	if secs < 60 {
		return "<1m"
	}
	minutes := secs / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	hours := minutes / 60
	remMinutes := minutes % 60
	if hours < 24 {
		if remMinutes == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		return fmt.Sprintf("%dh %dm", hours, remMinutes)
	}
	days := hours / 24
	remHours := hours % 24
	if remHours == 0 {
		return fmt.Sprintf("%dd", days)
	}
	return fmt.Sprintf("%dd %dh", days, remHours)
}

func formatEvent(rec stats.Record) string {
	ts := rec.FinishedAt.Format("15:04:05")
	switch rec.Outcome {
	case model.OutcomeSuccess:
		verb := "created"
		if rec.Action == model.ActionRenew {
			verb = "renewed"
		}
		return fmt.Sprintf("%s %s %s (%d attempt(s) via %s)", ts, verb, rec.Username, rec.Attempts, rec.Connection)
	case model.OutcomeFail:
		return fmt.Sprintf("%s failed %s %s: %s", ts, rec.Action, rec.Username, firstNonEmpty(rec.Reason, rec.Error))
	default:
		return fmt.Sprintf("%s skipped %s %s (%s)", ts, rec.Action, rec.Username, rec.Reason)
	}
}

func summaryLine(s stats.Snapshot) string {
	return fmt.Sprintf("created %d | renewed %d | skipped %d | failed %d | left %d",
		s.Created, s.Renewed, s.Skip, s.Fail, s.Remaining)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
