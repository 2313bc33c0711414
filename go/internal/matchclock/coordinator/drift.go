package coordinator

import (
	"time"

	"github.com/mcdev12/touchline/go/internal/models"
)

// driftCorrection decides whether a running snapshot has fallen behind wall time by more
// than threshold. It returns the minute the clock should be corrected to and the whole
// seconds of drift.
func driftCorrection(snap models.TimerState, now time.Time, threshold time.Duration) (minute int, driftSeconds int, ok bool) {
	if !snap.IsRunning {
		return 0, 0, false
	}

	since := now.Sub(snap.UpdatedAt)
	if since <= threshold {
		return 0, 0, false
	}

	driftSeconds = int(since / time.Second)
	return models.MinuteFor(snap.ElapsedSeconds + driftSeconds), driftSeconds, true
}
