package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/machine-monitor/backend/internal/models"
	"github.com/machine-monitor/backend/internal/parser"
	"github.com/machine-monitor/backend/internal/predict"
)

// ErrEmptyInput is reported when tokenization yields no numeric values.
var ErrEmptyInput = errors.New("input contains no numeric values")

// ErrorKindInternal marks a run that panicked.
const ErrorKindInternal models.ErrorKind = "INTERNAL_ERROR"

type analysisJob struct {
	sessionID string
	runID     string
	file      models.FileInfo
	options   models.AnalysisOptions
	started   time.Time
	done      chan struct{}
}

// outcome is the typed result of one pipeline run; event feeds Next.
type outcome struct {
	event      Event
	kind       models.ErrorKind
	err        error
	prediction *models.Prediction
	samples    int
}

func (m *Manager) runAnalysis(job analysisJob) {
	defer m.wg.Done()
	defer close(job.done)

	out := m.safeExecute(job)
	run := m.finish(job, out)

	m.logger.Info("analysis finished",
		slog.String("session", shortID(job.sessionID)),
		slog.String("run", shortID(job.runID)),
		slog.String("status", string(run.Status)),
		slog.String("kind", string(run.ErrorKind)),
		slog.Int("values", run.SampleCount),
		slog.Duration("elapsed", run.Duration),
	)
	m.observe(run)
}

func (m *Manager) safeExecute(job analysisJob) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("analysis panicked",
				slog.String("session", shortID(job.sessionID)),
				slog.Any("panic", r),
			)
			out = outcome{
				event: EventSubmitFailed,
				kind:  ErrorKindInternal,
				err:   fmt.Errorf("analysis panicked: %v", r),
			}
		}
	}()

	rc, err := m.store.Open(job.file.ID)
	if err != nil {
		return outcome{
			event: EventInputUnreadable,
			kind:  models.ErrorKindInputUnreadable,
			err:   fmt.Errorf("opening %s: %w", job.file.Name, err),
		}
	}
	defer rc.Close()

	return m.execute(m.ctx, rc, job.options)
}

// execute runs tokenize, orient and submit against r. It never returns an
// error: every failure becomes an outcome with an ERROR-bound event.
func (m *Manager) execute(ctx context.Context, r io.Reader, opts models.AnalysisOptions) outcome {
	matrix, err := parser.ReadInput(r, opts.Delimiter)
	if err != nil {
		return outcome{
			event: EventInputUnreadable,
			kind:  models.ErrorKindInputUnreadable,
			err:   err,
		}
	}

	n := matrix.Len()
	if m.metrics != nil {
		m.metrics.ObserveTokenized(n)
	}
	if n == 0 {
		return outcome{
			event: EventInputEmpty,
			kind:  models.ErrorKindEmptyInput,
			err:   ErrEmptyInput,
		}
	}

	payload := parser.ApplyOrientation(matrix, opts.Transpose)

	start := time.Now()
	pred, err := m.predictor.Submit(ctx, payload)
	if m.metrics != nil {
		m.metrics.ObservePredict(time.Since(start), err)
	}
	if err != nil {
		return outcome{
			event:   EventSubmitFailed,
			kind:    predict.Kind(err),
			err:     err,
			samples: n,
		}
	}

	return outcome{
		event:      EventSubmitSucceeded,
		prediction: pred,
		samples:    n,
	}
}

// finish applies the outcome to the session and returns the run record.
func (m *Manager) finish(job analysisJob, out outcome) models.AnalysisRun {
	now := time.Now()
	run := newRun(job.sessionID, job.runID, job.file.Name, job.options, job.started, now, out)

	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[job.sessionID]
	if !ok || state.RunID != job.runID {
		return run
	}

	next, err := Next(state.Status, out.event)
	if err != nil {
		m.logger.Error("dropping pipeline outcome",
			slog.String("session", shortID(job.sessionID)),
			slog.String("error", err.Error()),
		)
		return run
	}

	state.Status = next
	state.EndTime = now
	state.SampleCount = out.samples
	if out.event == EventSubmitSucceeded {
		state.Prediction = out.prediction
	} else {
		state.ErrorKind = out.kind
		state.Err = out.err.Error()
	}

	m.notifyLocked(state, state.snapshot())
	return run
}

func (m *Manager) observe(run models.AnalysisRun) {
	if m.metrics != nil {
		m.metrics.AnalysisFinished(run)
	}
	if m.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := m.recorder.Record(ctx, run); err != nil {
			m.logger.Warn("failed to record analysis run",
				slog.String("run", shortID(run.RunID)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Run executes a complete cycle on r without registering a session: select,
// analyze, and wait for the terminal state. It is used by the CLI.
func (m *Manager) Run(ctx context.Context, name string, r io.Reader, opts models.AnalysisOptions) models.SessionSnapshot {
	state := newSessionState("local", normalizeOptions(opts))
	state.File = &models.FileInfo{Name: name, UploadedAt: time.Now(), Status: "selected"}
	state.Status, _ = Next(state.Status, EventFileSelected)
	state.Status, _ = Next(state.Status, EventAnalyze)
	state.RunID = uuid.New().String()
	state.StartTime = time.Now()
	if m.metrics != nil {
		m.metrics.AnalysisStarted()
	}

	out := m.execute(ctx, r, state.Options)

	state.EndTime = time.Now()
	state.Status, _ = Next(state.Status, out.event)
	state.SampleCount = out.samples
	if out.event == EventSubmitSucceeded {
		state.Prediction = out.prediction
	} else {
		state.ErrorKind = out.kind
		state.Err = out.err.Error()
	}

	m.observe(newRun(state.ID, state.RunID, name, state.Options, state.StartTime, state.EndTime, out))
	return state.snapshot()
}

func newRun(sessionID, runID, fileName string, opts models.AnalysisOptions, started, ended time.Time, out outcome) models.AnalysisRun {
	run := models.AnalysisRun{
		RunID:       runID,
		SessionID:   sessionID,
		FileName:    fileName,
		SampleCount: out.samples,
		Transposed:  opts.Transpose,
		StartedAt:   started,
		Duration:    ended.Sub(started),
	}
	if out.event == EventSubmitSucceeded {
		run.Status = models.StatusComplete
		if out.prediction != nil {
			run.Label = out.prediction.Label
		}
	} else {
		run.Status = models.StatusError
		run.ErrorKind = out.kind
	}
	return run
}
