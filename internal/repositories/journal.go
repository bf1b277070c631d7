package repositories

import (
	"context"
	"log/slog"
	"time"

	"github.com/Art-Therapy-Chat/web-front/internal/errors"
	"github.com/Art-Therapy-Chat/web-front/internal/inference"
	"github.com/Art-Therapy-Chat/web-front/internal/sqlite"
)

// CallJournal persists the calls made to the inference services.
type CallJournal struct {
	db     *sqlite.Database
	logger *slog.Logger
}

func NewCallJournal(db *sqlite.Database, logger *slog.Logger) *CallJournal {
	return &CallJournal{
		db:     db,
		logger: logger.With(slog.String("source", "CallJournal")),
	}
}

type callRow struct {
	ID         int64  `db:"id"`
	Endpoint   string `db:"endpoint"`
	StartedAt  int64  `db:"started_at"`
	DurationMS int64  `db:"duration_ms"`
	Error      string `db:"error"`
}

// RecordCall implements [inference.Recorder].
func (j *CallJournal) RecordCall(ctx context.Context, call inference.Call) error {
	row := callRow{
		Endpoint:   call.Endpoint,
		StartedAt:  call.StartedAt.UnixMilli(),
		DurationMS: call.Duration.Milliseconds(),
		Error:      call.Error,
	}
	stmt := `INSERT INTO inference_calls (endpoint, started_at, duration_ms, error)
VALUES (:endpoint, :started_at, :duration_ms, :error)`
	if _, err := j.db.ReadWrite.NamedExecContext(ctx, stmt, row); err != nil {
		return errors.Wrap(err, "insert inference call", slog.String("endpoint", call.Endpoint))
	}
	return nil
}

// Recent returns at most limit calls, newest first.
func (j *CallJournal) Recent(ctx context.Context, limit int) ([]inference.Call, error) {
	var rows []callRow
	stmt := `SELECT id, endpoint, started_at, duration_ms, error
FROM inference_calls
ORDER BY started_at DESC, id DESC
LIMIT ?`
	if err := j.db.ReadOnly.SelectContext(ctx, &rows, stmt, limit); err != nil {
		return nil, errors.Wrap(err, "select inference calls")
	}
	calls := make([]inference.Call, 0, len(rows))
	for _, row := range rows {
		calls = append(calls, inference.Call{
			Endpoint:  row.Endpoint,
			StartedAt: time.UnixMilli(row.StartedAt),
			Duration:  time.Duration(row.DurationMS) * time.Millisecond,
			Error:     row.Error,
		})
	}
	return calls, nil
}

// FailureCounts returns the number of failed calls per endpoint since the given time.
func (j *CallJournal) FailureCounts(ctx context.Context, since time.Time) (map[string]int, error) {
	var rows []struct {
		Endpoint string `db:"endpoint"`
		Failures int    `db:"failures"`
	}
	stmt := `SELECT endpoint, COUNT(*) AS failures
FROM inference_calls
WHERE error != '' AND started_at >= ?
GROUP BY endpoint`
	if err := j.db.ReadOnly.SelectContext(ctx, &rows, stmt, since.UnixMilli()); err != nil {
		return nil, errors.Wrap(err, "count failed inference calls")
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Endpoint] = row.Failures
	}
	return counts, nil
}
