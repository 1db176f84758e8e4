package session

import (
	"errors"
	"fmt"

	"github.com/machine-monitor/backend/internal/models"
)

// Event is an input to the analysis state machine.
type Event string

const (
	EventFileSelected    Event = "file_selected"
	EventAnalyze         Event = "analyze"
	EventInputEmpty      Event = "input_empty"
	EventInputUnreadable Event = "input_unreadable"
	EventSubmitSucceeded Event = "submit_succeeded"
	EventSubmitFailed    Event = "submit_failed"
)

// AllEvents lists every event the machine accepts.
var AllEvents = []Event{
	EventFileSelected,
	EventAnalyze,
	EventInputEmpty,
	EventInputUnreadable,
	EventSubmitSucceeded,
	EventSubmitFailed,
}

var (
	// ErrNoFile is returned when analysis is triggered before a file is selected.
	ErrNoFile = errors.New("no file selected")
	// ErrAnalysisInFlight is returned for any user action that would start a
	// second pipeline or swap the input while one is running.
	ErrAnalysisInFlight = errors.New("analysis already in progress")
	// ErrInvalidTransition is returned for pipeline outcomes that arrive
	// outside ANALYZING.
	ErrInvalidTransition = errors.New("invalid transition")
)

// Next returns the status that follows from applying ev in status from.
// It is total: every pair yields a status and, when the event is refused,
// a non-nil error with the status left unchanged.
func Next(from models.AnalysisStatus, ev Event) (models.AnalysisStatus, error) {
	switch from {
	case models.StatusReady:
		switch ev {
		case EventFileSelected:
			return models.StatusFileLoaded, nil
		case EventAnalyze:
			return from, ErrNoFile
		}

	case models.StatusFileLoaded:
		switch ev {
		case EventFileSelected:
			return models.StatusFileLoaded, nil
		case EventAnalyze:
			return models.StatusAnalyzing, nil
		}

	case models.StatusAnalyzing:
		switch ev {
		case EventInputEmpty, EventInputUnreadable, EventSubmitFailed:
			return models.StatusError, nil
		case EventSubmitSucceeded:
			return models.StatusComplete, nil
		case EventAnalyze, EventFileSelected:
			return from, ErrAnalysisInFlight
		}

	case models.StatusComplete, models.StatusError:
		switch ev {
		case EventFileSelected:
			return models.StatusFileLoaded, nil
		case EventAnalyze:
			return models.StatusAnalyzing, nil
		}

	default:
		return from, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}

	return from, fmt.Errorf("%w: %s in %s", ErrInvalidTransition, ev, from)
}

// AnalyzeEnabled reports whether the analyze trigger is offered to the user.
func AnalyzeEnabled(s models.AnalysisStatus) bool {
	switch s {
	case models.StatusFileLoaded, models.StatusComplete, models.StatusError:
		return true
	}
	return false
}
