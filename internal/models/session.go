package models

// AnalysisStatus is the single source of truth for what a dashboard session
// shows and which user actions it accepts.
type AnalysisStatus string

const (
	StatusReady      AnalysisStatus = "READY"
	StatusFileLoaded AnalysisStatus = "FILE_LOADED"
	StatusAnalyzing  AnalysisStatus = "ANALYZING"
	StatusComplete   AnalysisStatus = "COMPLETE"
	StatusError      AnalysisStatus = "ERROR"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []AnalysisStatus{
	StatusReady,
	StatusFileLoaded,
	StatusAnalyzing,
	StatusComplete,
	StatusError,
}

// IsTerminal reports whether the status ends an analysis cycle.
func (s AnalysisStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusError
}

// ErrorKind classifies why a session ended in ERROR.
type ErrorKind string

const (
	ErrorKindEmptyInput        ErrorKind = "EMPTY_INPUT"
	ErrorKindNetwork           ErrorKind = "NETWORK_ERROR"
	ErrorKindMalformedResponse ErrorKind = "MALFORMED_RESPONSE"
	ErrorKindInputUnreadable   ErrorKind = "INPUT_UNREADABLE"
)

// DefaultDelimiter is used when no delimiter has been configured.
const DefaultDelimiter = ","

// AnalysisOptions are the user-controlled parsing options.
type AnalysisOptions struct {
	Delimiter string `json:"delimiter" msgpack:"delimiter"`
	Transpose bool   `json:"transpose" msgpack:"transpose"`
}

// DefaultAnalysisOptions returns comma-delimited, non-transposed options.
func DefaultAnalysisOptions() AnalysisOptions {
	return AnalysisOptions{Delimiter: DefaultDelimiter}
}

// SessionSnapshot is a read-only copy of a session's state.
// Features and Label are only set in COMPLETE; ErrorKind and Error only in ERROR.
type SessionSnapshot struct {
	ID               string          `json:"id"`
	Status           AnalysisStatus  `json:"status"`
	File             *FileInfo       `json:"file,omitempty"`
	Options          AnalysisOptions `json:"options"`
	AnalyzeEnabled   bool            `json:"analyzeEnabled"`
	RunID            string          `json:"runId,omitempty"`
	SampleCount      int             `json:"sampleCount,omitempty"`
	Features         FeatureMap      `json:"features,omitempty"`
	Label            string          `json:"label,omitempty"`
	ErrorKind        ErrorKind       `json:"errorKind,omitempty"`
	Error            string          `json:"error,omitempty"`
	StartTime        int64           `json:"startTime,omitempty"` // Unix ms
	EndTime          int64           `json:"endTime,omitempty"`   // Unix ms
	ProcessingTimeMs int64           `json:"processingTimeMs,omitempty"`
}
