package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/Art-Therapy-Chat/web-front/internal/errors"
	"github.com/Art-Therapy-Chat/web-front/internal/sqlite"
	"github.com/Art-Therapy-Chat/web-front/internal/testhelpers"
)

func main() {
	logger := testhelpers.NewLogger(os.Stdout)
	var (
		err       error
		start     = time.Now()
		ctx       context.Context
		sqliteURL string
		ok        bool
		cancel    context.CancelFunc
	)
	ctx = context.Background()
	ctx, cancel = context.WithTimeout(ctx, 5*time.Second) //nolint:mnd // 5 seconds

	if sqliteURL, ok = os.LookupEnv("HTPCHAT_SQLITE_URL"); !ok {
		logger.LogAttrs(ctx, slog.LevelError, "HTPCHAT_SQLITE_URL not set")
		os.Exit(1)
	}

	// Opening the database applies the schema to an existing deployment's file.
	var db *sqlite.Database
	if db, err = sqlite.NewDatabase(ctx, sqliteURL, logger); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "error creating database",
			slog.String("url", sqliteURL), errors.SlogError(err))
		os.Exit(1)
	}
	defer db.Close(ctx)

	for _, table := range []string{"sessions", "inference_calls"} {
		var count int
		if err = db.ReadOnly.GetContext(ctx, &count, `SELECT COUNT(*) FROM `+table); err != nil {
			logger.LogAttrs(ctx, slog.LevelError, "error counting rows",
				slog.String("table", table), errors.SlogError(err))
			os.Exit(1) //nolint:gocritic // exit is intended
		}
		logger.LogAttrs(ctx, slog.LevelInfo, "row count", slog.String("table", table), slog.Int("count", count))
	}

	logger.LogAttrs(ctx, slog.LevelInfo, "Migration test successful 🙌", slog.Duration("duration", time.Since(start)))
	cancel()
}
