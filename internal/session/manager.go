package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/machine-monitor/backend/internal/models"
)

// MaxSessions limits live sessions; the least recently used idle session is
// evicted when a new one would exceed it.
const MaxSessions = 64

// subscriberBuffer is the number of snapshots queued per status subscriber.
const subscriberBuffer = 8

// recordTimeout bounds how long a finished run may spend in the history ledger.
const recordTimeout = 5 * time.Second

// ErrSessionNotFound is returned for unknown session IDs.
var ErrSessionNotFound = errors.New("session not found")

// FileStore opens uploaded files by ID.
type FileStore interface {
	Open(id string) (io.ReadCloser, error)
}

// Predictor submits a numeric sequence to the prediction service.
type Predictor interface {
	Submit(ctx context.Context, payload []float64) (*models.Prediction, error)
}

// Recorder stores finished runs.
type Recorder interface {
	Record(ctx context.Context, run models.AnalysisRun) error
}

// Metrics receives pipeline observations.
type Metrics interface {
	AnalysisStarted()
	AnalysisFinished(run models.AnalysisRun)
	ObserveTokenized(values int)
	ObservePredict(elapsed time.Duration, err error)
}

// Manager owns dashboard sessions. Every status change goes through Next
// while holding mu, which is what keeps a session to one pipeline at a time.
type Manager struct {
	sessions map[string]*SessionState
	mu       sync.RWMutex

	store     FileStore
	predictor Predictor
	recorder  Recorder
	metrics   Metrics
	logger    *slog.Logger
	defaults  models.AnalysisOptions

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	subSeq int
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder records every finished run.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithMetrics reports pipeline metrics.
func WithMetrics(mt Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithDefaultOptions sets the options new sessions start with.
func WithDefaultOptions(opts models.AnalysisOptions) Option {
	return func(m *Manager) { m.defaults = normalizeOptions(opts) }
}

// NewManager creates a session manager reading files from store and
// submitting to predictor.
func NewManager(store FileStore, predictor Predictor, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		sessions:  make(map[string]*SessionState),
		store:     store,
		predictor: predictor,
		logger:    slog.Default(),
		defaults:  models.DefaultAnalysisOptions(),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(slog.String("component", "session"))
	return m
}

// Create starts a new session in READY.
func (m *Manager) Create() models.SessionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= MaxSessions {
		m.evictOldestLocked()
	}

	state := newSessionState(uuid.New().String(), m.defaults)
	m.sessions[state.ID] = state

	m.logger.Debug("session created", slog.String("session", shortID(state.ID)))
	return state.snapshot()
}

// Get returns a snapshot of the session.
func (m *Manager) Get(id string) (models.SessionSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.sessions[id]
	if !ok {
		return models.SessionSnapshot{}, false
	}
	return state.snapshot(), true
}

// List returns snapshots of all sessions, most recently used first.
func (m *Manager) List() []models.SessionSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make([]*SessionState, 0, len(m.sessions))
	for _, s := range m.sessions {
		states = append(states, s)
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].LastAccessed.After(states[j].LastAccessed)
	})

	out := make([]models.SessionSnapshot, len(states))
	for i, s := range states {
		out[i] = s.snapshot()
	}
	return out
}

// Touch marks a session as recently used.
func (m *Manager) Touch(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return false
	}
	state.LastAccessed = time.Now()
	return true
}

// Delete removes an idle session. A running session cannot be deleted.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if state.Status == models.StatusAnalyzing {
		return ErrAnalysisInFlight
	}
	m.removeLocked(id)
	return nil
}

// SelectFile stores file as the session's input.
func (m *Manager) SelectFile(id string, file models.FileInfo) (models.SessionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return models.SessionSnapshot{}, ErrSessionNotFound
	}

	next, err := Next(state.Status, EventFileSelected)
	if err != nil {
		return state.snapshot(), err
	}

	state.Status = next
	state.File = &file
	state.resetRun()
	state.LastAccessed = time.Now()

	m.logger.Info("file selected",
		slog.String("session", shortID(id)),
		slog.String("file", file.Name),
		slog.Int64("size", file.Size),
	)

	snap := state.snapshot()
	m.notifyLocked(state, snap)
	return snap, nil
}

// SetOptions replaces the parsing options. A running pipeline keeps the
// options it started with.
func (m *Manager) SetOptions(id string, opts models.AnalysisOptions) (models.SessionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return models.SessionSnapshot{}, ErrSessionNotFound
	}

	state.Options = normalizeOptions(opts)
	state.LastAccessed = time.Now()

	snap := state.snapshot()
	m.notifyLocked(state, snap)
	return snap, nil
}

// Analyze starts the tokenize, orient and submit pipeline for the selected
// file. It returns ErrNoFile in READY and ErrAnalysisInFlight in ANALYZING.
// Results of the previous run are cleared on entry into ANALYZING.
func (m *Manager) Analyze(id string) (models.SessionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return models.SessionSnapshot{}, ErrSessionNotFound
	}

	next, err := Next(state.Status, EventAnalyze)
	if err != nil {
		return state.snapshot(), err
	}
	if state.File == nil {
		return state.snapshot(), ErrNoFile
	}

	now := time.Now()
	state.Status = next
	state.resetRun()
	state.RunID = uuid.New().String()
	state.StartTime = now
	state.LastAccessed = now
	state.done = make(chan struct{})

	job := analysisJob{
		sessionID: id,
		runID:     state.RunID,
		file:      *state.File,
		options:   state.Options,
		started:   now,
		done:      state.done,
	}

	if m.metrics != nil {
		m.metrics.AnalysisStarted()
	}

	m.wg.Add(1)
	go m.runAnalysis(job)

	m.logger.Info("analysis started",
		slog.String("session", shortID(id)),
		slog.String("run", shortID(job.runID)),
		slog.String("file", job.file.Name),
		slog.String("delimiter", job.options.Delimiter),
		slog.Bool("transpose", job.options.Transpose),
	)

	snap := state.snapshot()
	m.notifyLocked(state, snap)
	return snap, nil
}

// Wait blocks until the session is no longer ANALYZING or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (models.SessionSnapshot, error) {
	m.mu.RLock()
	state, ok := m.sessions[id]
	if !ok {
		m.mu.RUnlock()
		return models.SessionSnapshot{}, ErrSessionNotFound
	}
	done := state.done
	busy := state.Status == models.StatusAnalyzing
	snap := state.snapshot()
	m.mu.RUnlock()

	if !busy || done == nil {
		return snap, nil
	}

	select {
	case <-done:
	case <-ctx.Done():
		return snap, ctx.Err()
	}

	snap, ok = m.Get(id)
	if !ok {
		return models.SessionSnapshot{}, ErrSessionNotFound
	}
	return snap, nil
}

// Subscribe returns a feed of snapshots published on every state change of
// the session. The current snapshot is delivered first. Call cancel to stop;
// the channel is closed when the subscription ends or the session goes away.
func (m *Manager) Subscribe(id string) (<-chan models.SessionSnapshot, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return nil, nil, ErrSessionNotFound
	}

	m.subSeq++
	subID := m.subSeq
	ch := make(chan models.SessionSnapshot, subscriberBuffer)
	ch <- state.snapshot()
	state.subscribers[subID] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := state.subscribers[subID]; ok {
				delete(state.subscribers, subID)
				close(c)
			}
		})
	}
	return ch, cancel, nil
}

// CleanupOldSessions removes idle sessions not accessed within maxAge.
// Sessions that are ANALYZING are kept.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, state := range m.sessions {
		if state.Status == models.StatusAnalyzing {
			continue
		}
		if state.LastAccessed.Before(cutoff) {
			m.removeLocked(id)
			removed++
		}
	}

	if removed > 0 {
		m.logger.Info("expired sessions removed", slog.Int("count", removed))
	}
	return removed
}

// Close cancels running pipelines and waits for them to finish.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, state := range m.sessions {
		if state.Status == models.StatusAnalyzing {
			continue
		}
		if oldestID == "" || state.LastAccessed.Before(oldest) {
			oldestID = id
			oldest = state.LastAccessed
		}
	}
	if oldestID != "" {
		m.logger.Info("session evicted", slog.String("session", shortID(oldestID)))
		m.removeLocked(oldestID)
	}
}

func (m *Manager) removeLocked(id string) {
	state, ok := m.sessions[id]
	if !ok {
		return
	}
	for subID, ch := range state.subscribers {
		delete(state.subscribers, subID)
		close(ch)
	}
	delete(m.sessions, id)
}

// notifyLocked publishes snap to every subscriber without blocking. A full
// subscriber loses its oldest queued snapshot.
func (m *Manager) notifyLocked(state *SessionState, snap models.SessionSnapshot) {
	for _, ch := range state.subscribers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func normalizeOptions(opts models.AnalysisOptions) models.AnalysisOptions {
	if opts.Delimiter == "" {
		opts.Delimiter = models.DefaultDelimiter
	}
	return opts
}

// shortID safely truncates an ID for logging.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
