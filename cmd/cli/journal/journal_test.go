package journal_test

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/Art-Therapy-Chat/web-front/cmd/cli/journal"
	"github.com/Art-Therapy-Chat/web-front/internal/inference"
	"github.com/Art-Therapy-Chat/web-front/internal/repositories"
	"github.com/Art-Therapy-Chat/web-front/internal/sqlite"
	"github.com/Art-Therapy-Chat/web-front/internal/testhelpers"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestReport(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.NewDatabase(ctx, ":memory:", testhelpers.NewLogger(io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(ctx) })
	calls := repositories.NewCallJournal(db, testhelpers.NewLogger(io.Discard))

	now := time.Now()
	for _, call := range []inference.Call{
		{Endpoint: inference.EndpointRetrieve, StartedAt: now.Add(-48 * time.Hour), Error: "old failure"},
		{Endpoint: inference.EndpointRetrieve, StartedAt: now.Add(-time.Minute), Error: "unexpected status 502"},
		{Endpoint: inference.EndpointCaption, StartedAt: now.Add(-time.Second), Duration: 2 * time.Second},
	} {
		require.NoError(t, calls.RecordCall(ctx, call))
	}

	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	var out bytes.Buffer
	cmd.SetOut(&out)
	require.NoError(t, journal.Report(cmd, calls, 24*time.Hour, 2))

	got := out.String()
	require.Contains(t, got, "rag: 1\n")
	require.Contains(t, got, "caption")
	require.Contains(t, got, "unexpected status 502")
	require.NotContains(t, got, "old failure")
}

func TestStats_RequiresDatabase(t *testing.T) {
	journal.Stats.SetArgs([]string{"--sqlite-url", ""})
	journal.Stats.SetOut(io.Discard)
	journal.Stats.SetErr(io.Discard)
	err := journal.Stats.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "HTPCHAT_SQLITE_URL is required")
}

func TestStats(t *testing.T) {
	url := filepath.Join(t.TempDir(), "htpchat.sqlite3")
	journal.Stats.SetArgs([]string{"--sqlite-url", url})
	var out bytes.Buffer
	journal.Stats.SetOut(&out)
	journal.Stats.SetErr(io.Discard)
	require.NoError(t, journal.Stats.ExecuteContext(context.Background()))
	require.Contains(t, out.String(), "none")
}
