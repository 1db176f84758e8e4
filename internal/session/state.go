package session

import (
	"time"

	"github.com/machine-monitor/backend/internal/models"
)

// SessionState is the mutable state behind one dashboard session.
// It is only touched while holding the Manager's lock.
type SessionState struct {
	ID           string
	Status       models.AnalysisStatus
	File         *models.FileInfo
	Options      models.AnalysisOptions
	RunID        string
	SampleCount  int
	Prediction   *models.Prediction
	ErrorKind    models.ErrorKind
	Err          string
	StartTime    time.Time
	EndTime      time.Time
	LastAccessed time.Time

	done        chan struct{} // closed when the current run finishes
	subscribers map[int]chan models.SessionSnapshot
}

func newSessionState(id string, opts models.AnalysisOptions) *SessionState {
	return &SessionState{
		ID:           id,
		Status:       models.StatusReady,
		Options:      opts,
		LastAccessed: time.Now(),
		subscribers:  make(map[int]chan models.SessionSnapshot),
	}
}

// resetRun drops everything produced by the previous run.
func (s *SessionState) resetRun() {
	s.RunID = ""
	s.SampleCount = 0
	s.Prediction = nil
	s.ErrorKind = ""
	s.Err = ""
	s.StartTime = time.Time{}
	s.EndTime = time.Time{}
}

func (s *SessionState) snapshot() models.SessionSnapshot {
	snap := models.SessionSnapshot{
		ID:             s.ID,
		Status:         s.Status,
		Options:        s.Options,
		AnalyzeEnabled: AnalyzeEnabled(s.Status) && s.File != nil,
		RunID:          s.RunID,
		SampleCount:    s.SampleCount,
	}

	if s.File != nil {
		f := *s.File
		snap.File = &f
	}

	switch s.Status {
	case models.StatusComplete:
		if s.Prediction != nil {
			snap.Features = append(models.FeatureMap(nil), s.Prediction.Features...)
			snap.Label = s.Prediction.Label
		}
	case models.StatusError:
		snap.ErrorKind = s.ErrorKind
		snap.Error = s.Err
	}

	if !s.StartTime.IsZero() {
		snap.StartTime = s.StartTime.UnixMilli()
	}
	if !s.EndTime.IsZero() {
		snap.EndTime = s.EndTime.UnixMilli()
		snap.ProcessingTimeMs = s.EndTime.Sub(s.StartTime).Milliseconds()
	}

	return snap
}
