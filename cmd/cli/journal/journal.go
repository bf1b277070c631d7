// Package journal reports on the inference calls recorded by the web server.
package journal

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/Art-Therapy-Chat/web-front/internal/errors"
	"github.com/Art-Therapy-Chat/web-front/internal/inference"
	"github.com/Art-Therapy-Chat/web-front/internal/logging"
	"github.com/Art-Therapy-Chat/web-front/internal/repositories"
	"github.com/Art-Therapy-Chat/web-front/internal/sqlite"
	"github.com/spf13/cobra"
)

var Group = &cobra.Group{
	ID:    "journal",
	Title: "Inference call journal",
}

func init() {
	Stats.Flags().String("sqlite-url", os.Getenv("HTPCHAT_SQLITE_URL"), "database of the web server")
	Stats.Flags().Duration("since", 24*time.Hour, "count failures this far back")
	Stats.Flags().Int("limit", 20, "number of recent calls to list") //nolint:mnd // default page
}

var Stats = &cobra.Command{
	Use:     "journal",
	GroupID: "journal",
	Short:   "Show failing endpoints and recent inference calls",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		url, _ := cmd.Flags().GetString("sqlite-url")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")
		if url == "" {
			return errors.New("--sqlite-url or HTPCHAT_SQLITE_URL is required")
		}
		ctx := cmd.Context()
		logger := slog.New(logging.NewContextHandler(slog.NewTextHandler(cmd.ErrOrStderr(),
			&slog.HandlerOptions{Level: slog.LevelWarn})))

		db, err := sqlite.NewDatabase(ctx, url, logger)
		if err != nil {
			return errors.Wrap(err, "open database", slog.String("url", url))
		}
		defer db.Close(ctx)
		return Report(cmd, repositories.NewCallJournal(db, logger), since, limit)
	},
}

// Report writes the failure counts since the given duration and the most recent calls.
func Report(cmd *cobra.Command, journal *repositories.CallJournal, since time.Duration, limit int) error {
	ctx := cmd.Context()
	failures, err := journal.FailureCounts(ctx, time.Now().Add(-since))
	if err != nil {
		return errors.Wrap(err, "count failures")
	}
	recent, err := journal.Recent(ctx, limit)
	if err != nil {
		return errors.Wrap(err, "list recent calls")
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Failures in the last %s:\n", since)
	if len(failures) == 0 {
		_, _ = fmt.Fprintln(out, "  none")
	}
	endpoints := make([]string, 0, len(failures))
	for endpoint := range failures {
		endpoints = append(endpoints, endpoint)
	}
	slices.Sort(endpoints)
	for _, endpoint := range endpoints {
		_, _ = fmt.Fprintf(out, "  %s: %d\n", endpoint, failures[endpoint])
	}

	_, _ = fmt.Fprintln(out, "\nRecent calls:")
	return writeCalls(out, recent)
}

func writeCalls(out io.Writer, calls []inference.Call) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0) //nolint:mnd // column padding
	_, _ = fmt.Fprintln(tw, "STARTED\tENDPOINT\tDURATION\tERROR")
	for _, c := range calls {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			c.StartedAt.Local().Format(time.DateTime), c.Endpoint, c.Duration.Round(time.Millisecond), c.Error)
	}
	return errors.Wrap(tw.Flush(), "flush table")
}
