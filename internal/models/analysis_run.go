package models

import "time"

// AnalysisRun records the outcome of one finished pipeline run.
type AnalysisRun struct {
	RunID       string         `json:"runId"`
	SessionID   string         `json:"sessionId"`
	FileName    string         `json:"fileName"`
	Status      AnalysisStatus `json:"status"`
	ErrorKind   ErrorKind      `json:"errorKind,omitempty"`
	Label       string         `json:"label,omitempty"`
	SampleCount int            `json:"sampleCount"`
	Transposed  bool           `json:"transposed"`
	StartedAt   time.Time      `json:"startedAt"`
	Duration    time.Duration  `json:"durationNs"`
}
