package sqlite

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/Art-Therapy-Chat/web-front/internal/testhelpers"
	"github.com/stretchr/testify/require"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	ctx := context.Background()
	db, err := NewDatabase(ctx, ":memory:", testhelpers.NewLogger(io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(ctx) })
	return db
}

func TestNewDatabase(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)

	var tables []string
	require.NoError(t, db.ReadOnly.SelectContext(ctx, &tables,
		"SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name"))
	require.Equal(t, []string{"inference_calls", "sessions"}, tables)

	_, err := db.ReadOnly.ExecContext(ctx, "INSERT INTO sessions (token, data, expiry) VALUES ('t', x'00', 1)")
	require.Error(t, err, "the read pool is query only")

	// In-memory databases are not shared between instances.
	_, err = db.ReadWrite.ExecContext(ctx, "INSERT INTO sessions (token, data, expiry) VALUES ('t', x'00', 1)")
	require.NoError(t, err)
	other := newTestDatabase(t)
	var count int
	require.NoError(t, other.ReadOnly.GetContext(ctx, &count, "SELECT COUNT(*) FROM sessions"))
	require.Zero(t, count)
	require.NoError(t, db.ReadOnly.GetContext(ctx, &count, "SELECT COUNT(*) FROM sessions"))
	require.Equal(t, 1, count)
}

func TestPruneJournal(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)
	now := time.Now()

	for _, startedAt := range []time.Time{now.Add(-48 * time.Hour), now.Add(-time.Minute)} {
		_, err := db.ReadWrite.ExecContext(ctx,
			"INSERT INTO inference_calls (endpoint, started_at, duration_ms) VALUES ('caption', ?, 10)",
			startedAt.UnixMilli())
		require.NoError(t, err)
	}

	db.pruneJournal(ctx, now.Add(-24*time.Hour))

	var count int
	require.NoError(t, db.ReadOnly.GetContext(ctx, &count, "SELECT COUNT(*) FROM inference_calls"))
	require.Equal(t, 1, count)
}
