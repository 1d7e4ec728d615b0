// Package timing derives an event's lifecycle phase from its on-chain start
// time and duration.
package timing

import (
	"time"

	"github.com/user/stagepass/internal/types"
)

// EndTime returns the instant the live window closes.
func EndTime(start time.Time, durationMinutes uint32) time.Time {
	return start.Add(time.Duration(durationMinutes) * time.Minute)
}

// PhaseAt returns the phase of an event at now. The live window includes
// both its start and end instants.
func PhaseAt(now, start time.Time, durationMinutes uint32) types.Phase {
	if now.Before(start) {
		return types.PhaseUpcoming
	}
	if !now.After(EndTime(start, durationMinutes)) {
		return types.PhaseLive
	}
	return types.PhaseCompleted
}

// Remaining returns the time until the event starts when upcoming, or until
// it ends when live. ok is false once the event has completed.
func Remaining(now, start time.Time, durationMinutes uint32) (d time.Duration, ok bool) {
	switch PhaseAt(now, start, durationMinutes) {
	case types.PhaseUpcoming:
		return start.Sub(now), true
	case types.PhaseLive:
		return EndTime(start, durationMinutes).Sub(now), true
	default:
		return 0, false
	}
}
