package main

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/Art-Therapy-Chat/web-front/internal/e2etest"
	"github.com/Art-Therapy-Chat/web-front/internal/errors"
	"github.com/Art-Therapy-Chat/web-front/internal/logging"
	"github.com/Art-Therapy-Chat/web-front/internal/models"
)

// A 1x1 transparent PNG.
var sketch = []byte{ //nolint:gochecknoglobals // test fixture
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
	0x89, 0x00, 0x00, 0x00, 0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44, 0xae,
	0x42, 0x60, 0x82,
}

// TestSession submits and withdraws a sketch without starting the interpretation, which would spend
// inference credits.
func TestSession(client *e2etest.Client) error {
	ctx := context.Background()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second) //nolint:mnd // 10 seconds
	defer cancel()

	doc, err := client.GetDoc(ctx, "/")
	if err != nil {
		return errors.Wrap(err, "get home page")
	}
	if n := doc.Find("article.artifact").Length(); n != len(models.Categories) {
		return errors.New("unexpected number of sketch slots", slog.Int("count", n))
	}

	snapshot, err := client.PutArtifact(ctx, models.CategoryHouse, sketch)
	if err != nil {
		return errors.Wrap(err, "put sketch")
	}
	if !slices.Equal(snapshot.Artifacts, []models.Category{models.CategoryHouse}) {
		return errors.New("sketch not stored")
	}
	if snapshot, err = client.DeleteArtifact(ctx, models.CategoryHouse); err != nil {
		return errors.Wrap(err, "delete sketch")
	}
	if len(snapshot.Artifacts) != 0 {
		return errors.New("sketch not deleted")
	}
	if snapshot, err = client.Reset(ctx); err != nil {
		return errors.Wrap(err, "reset session")
	}
	if snapshot.Phase != models.PhaseCollecting {
		return errors.New("unexpected phase after reset", slog.String("phase", string(snapshot.Phase)))
	}
	return nil
}

func main() {
	loggerHandler := logging.NewContextHandler(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource:   false,
		Level:       slog.LevelDebug,
		ReplaceAttr: nil,
	}))
	logger := slog.New(loggerHandler)
	ctx := context.Background()

	if len(os.Args) != 2 { //nolint:mnd // we expect only hostname to be passed as argument.
		logger.LogAttrs(ctx, slog.LevelError, "usage: smoketest <hostname>")
		os.Exit(1)
	}

	var (
		hostname = os.Args[1]
		url      = "https://" + hostname
		client   *e2etest.Client
		err      error
	)
	ctx = logging.WithAttrs(ctx, slog.String("hostname", url))

	if client, err = e2etest.NewClient(url); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "error creating client", errors.SlogError(err))
		os.Exit(1)
	}
	if err = client.WaitForReady(ctx, "/api/healthy"); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "server not ready", errors.SlogError(err))
		os.Exit(1)
	}
	if err = TestSession(client); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "error testing session", errors.SlogError(err))
		os.Exit(1)
	}

	logger.LogAttrs(ctx, slog.LevelInfo, "Smoke test successful 🙌")
	os.Exit(0)
}
