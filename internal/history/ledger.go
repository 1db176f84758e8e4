// Package history keeps a process-lifetime ledger of finished analysis runs
// in an in-memory DuckDB database. Nothing survives a restart.
package history

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcboeker/go-duckdb"

	"github.com/machine-monitor/backend/internal/models"
)

// DefaultRecentLimit is used when Recent is called with a non-positive limit.
const DefaultRecentLimit = 50

// Ledger records analysis runs.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// Summary counts runs per outcome.
type Summary struct {
	Total    int                           `json:"total"`
	ByStatus map[models.AnalysisStatus]int `json:"byStatus"`
	ByLabel  map[string]int                `json:"byLabel"`
}

// NewLedger opens an in-memory DuckDB database and creates the runs table.
func NewLedger(logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	connector, err := duckdb.NewConnector("", func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA memory_limit='64MB'",
			"PRAGMA threads=1",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)

	_, err = db.Exec(`
		CREATE TABLE runs (
			run_id       VARCHAR PRIMARY KEY,
			session_id   VARCHAR NOT NULL,
			file_name    VARCHAR NOT NULL,
			status       VARCHAR NOT NULL,
			error_kind   VARCHAR,
			label        VARCHAR,
			sample_count INTEGER NOT NULL,
			transposed   BOOLEAN NOT NULL,
			started_at   BIGINT NOT NULL,
			duration_ns  BIGINT NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &Ledger{
		db:     db,
		logger: logger.With(slog.String("component", "history")),
	}, nil
}

// Record stores a finished run. Recording the same run twice is an error.
func (l *Ledger) Record(ctx context.Context, run models.AnalysisRun) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, session_id, file_name, status, error_kind, label,
			sample_count, transposed, started_at, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID,
		run.SessionID,
		run.FileName,
		string(run.Status),
		string(run.ErrorKind),
		run.Label,
		run.SampleCount,
		run.Transposed,
		run.StartedAt.UnixNano(),
		int64(run.Duration),
	)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", run.RunID, err)
	}

	l.logger.DebugContext(ctx, "run recorded",
		slog.String("run", run.RunID),
		slog.String("status", string(run.Status)),
	)
	return nil
}

// Recent returns up to limit runs, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]models.AnalysisRun, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT run_id, session_id, file_name, status, error_kind, label,
			sample_count, transposed, started_at, duration_ns
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	runs := make([]models.AnalysisRun, 0, limit)
	for rows.Next() {
		var (
			run               models.AnalysisRun
			status, kind      string
			label             sql.NullString
			started, duration int64
		)
		if err := rows.Scan(&run.RunID, &run.SessionID, &run.FileName, &status, &kind, &label,
			&run.SampleCount, &run.Transposed, &started, &duration); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		run.Status = models.AnalysisStatus(status)
		run.ErrorKind = models.ErrorKind(kind)
		run.Label = label.String
		run.StartedAt = time.Unix(0, started)
		run.Duration = time.Duration(duration)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Summarize counts recorded runs per status and per label.
func (l *Ledger) Summarize(ctx context.Context) (*Summary, error) {
	s := &Summary{
		ByStatus: make(map[models.AnalysisStatus]int),
		ByLabel:  make(map[string]int),
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT status, COALESCE(label, ''), COUNT(*)
		FROM runs
		GROUP BY status, label`)
	if err != nil {
		return nil, fmt.Errorf("summarizing runs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, label string
		var n int
		if err := rows.Scan(&status, &label, &n); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		s.Total += n
		s.ByStatus[models.AnalysisStatus(status)] += n
		if label != "" {
			s.ByLabel[label] += n
		}
	}
	return s, rows.Err()
}

// Close releases the database. Recorded runs are gone afterwards.
func (l *Ledger) Close() error {
	return l.db.Close()
}
