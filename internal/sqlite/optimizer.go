package sqlite

import (
	"context"
	"log/slog"
	"time"

	"github.com/Art-Therapy-Chat/web-front/internal/errors"
)

// StartMaintenance runs optimize and prunes the inference call journal once per interval until ctx is done.
// See https://www.sqlite.org/pragma.html#pragma_optimize.
func (db *Database) StartMaintenance(ctx context.Context, interval, journalRetention time.Duration) {
	for {
		start := time.Now()
		if _, err := db.ReadWrite.ExecContext(ctx, "PRAGMA optimize;"); err != nil {
			err = errors.Wrap(err, "optimize database")
			db.logger.LogAttrs(ctx, slog.LevelError, "failed to optimize database", errors.SlogError(err))
		} else {
			db.logger.LogAttrs(ctx, slog.LevelInfo, "optimized database",
				slog.Duration("duration", time.Since(start)))
		}
		db.pruneJournal(ctx, time.Now().Add(-journalRetention))
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			continue
		}
	}
}

func (db *Database) pruneJournal(ctx context.Context, before time.Time) {
	result, err := db.ReadWrite.ExecContext(ctx, "DELETE FROM inference_calls WHERE started_at < ?",
		before.UnixMilli())
	if err != nil {
		err = errors.Wrap(err, "prune inference calls")
		db.logger.LogAttrs(ctx, slog.LevelError, "failed to prune inference call journal", errors.SlogError(err))
		return
	}
	if n, _ := result.RowsAffected(); n > 0 {
		db.logger.LogAttrs(ctx, slog.LevelInfo, "pruned inference call journal", slog.Int64("deleted", n))
	}
}
