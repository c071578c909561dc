package tui

import (
	"github.com/op/go-logging"

	"steam-sessions/internal/model"
	"steam-sessions/internal/stats"
)

var log = logging.MustGetLogger("progress")

// LogProgress writes one log line per outcome, for runs without the live UI.
// Skips are logged at debug level since a plan can skip thousands of sessions.
func LogProgress(tracker *stats.Tracker) {
	tracker.Subscribe(func(rec stats.Record) {
		line := formatEvent(rec)
		switch rec.Outcome {
		case model.OutcomeFail:
			log.Warningf("%s", line)
		case model.OutcomeSkip:
			log.Debugf("%s", line)
		default:
			log.Infof("%s", line)
		}
	})
}
