package repositories_test

import (
	"context"
	"io"
	"testing"

	"github.com/Art-Therapy-Chat/web-front/internal/sqlite"
	"github.com/Art-Therapy-Chat/web-front/internal/testhelpers"
	"github.com/stretchr/testify/require"
)

// newTestDB creates a new in-memory database for testing purposes.
func newTestDB(t *testing.T) *sqlite.Database {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.NewDatabase(ctx, ":memory:", testhelpers.NewLogger(io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close(ctx)
	})
	return db
}
