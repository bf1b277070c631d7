package main

import (
	"context"
	"html/template"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Art-Therapy-Chat/web-front/internal/backend"
	"github.com/Art-Therapy-Chat/web-front/internal/envstruct"
	"github.com/Art-Therapy-Chat/web-front/internal/errors"
	"github.com/Art-Therapy-Chat/web-front/internal/inference"
	"github.com/Art-Therapy-Chat/web-front/internal/logging"
	"github.com/Art-Therapy-Chat/web-front/internal/pprofserver"
	"github.com/Art-Therapy-Chat/web-front/internal/repositories"
	"github.com/Art-Therapy-Chat/web-front/internal/session"
	"github.com/Art-Therapy-Chat/web-front/internal/sqlite"
	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
	"github.com/donseba/go-htmx"
	"github.com/joho/godotenv"
)

type application struct {
	logger         *slog.Logger
	sessionManager *scs.SessionManager
	sessions       *session.Manager
	journal        *repositories.CallJournal
	htmx           *htmx.HTMX
	pages          *template.Template
}

type config struct {
	// Addr is the address the HTTP server listens on.
	Addr string `env:"HTPCHAT_ADDR" envDefault:"localhost:4000"`
	// PprofAddr enables the pprof server when set, e.g. localhost:6060.
	PprofAddr string `env:"HTPCHAT_PPROF_ADDR" envDefault:""`
	// SqliteURL is the path to the database file or ":memory:".
	SqliteURL string `env:"HTPCHAT_SQLITE_URL" envDefault:":memory:"`
	// InferenceBackend is "http", "openai" or "gemini".
	InferenceBackend string `env:"HTPCHAT_INFERENCE_BACKEND" envDefault:"http"`
	InferenceURL     string `env:"HTPCHAT_INFERENCE_URL" envDefault:"http://localhost:8000"`
	OpenAIAPIKey     string `env:"OPENAI_API_KEY" envDefault:""`
	OpenAIModel      string `env:"HTPCHAT_OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAIBaseURL    string `env:"HTPCHAT_OPENAI_BASE_URL" envDefault:""`
	GeminiAPIKey     string `env:"GEMINI_API_KEY" envDefault:""`
	GeminiModel      string `env:"HTPCHAT_GEMINI_MODEL" envDefault:"gemini-1.5-flash"`
	// RequestTimeout bounds each call to the inference services.
	RequestTimeout time.Duration `env:"HTPCHAT_REQUEST_TIMEOUT" envDefault:"2m"`
	// WriteTimeout bounds a whole request, which may chain many inference calls.
	WriteTimeout       time.Duration `env:"HTPCHAT_WRITE_TIMEOUT" envDefault:"10m"`
	SessionIdleTimeout time.Duration `env:"HTPCHAT_SESSION_IDLE_TIMEOUT" envDefault:"12h"`
	MaxAnswers         int           `env:"HTPCHAT_MAX_ANSWERS" envDefault:"5"`
}

const (
	journalRetention = 7 * 24 * time.Hour
	maintenanceEvery = time.Hour
	janitorEvery     = time.Minute
)

func run(ctx context.Context, logger *slog.Logger, lookupEnv func(string) (string, bool)) error {
	var (
		err   error
		cfg   config
		db    *sqlite.Database
		pages *template.Template
	)

	// Background workers stop when run returns.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err = envstruct.Populate(&cfg, lookupEnv); err != nil {
		return errors.Wrap(err, "populate config")
	}

	if cfg.PprofAddr != "" {
		pprofserver.Launch(ctx, cfg.PprofAddr, logger)
	}

	if db, err = sqlite.NewDatabase(ctx, cfg.SqliteURL, logger); err != nil {
		return errors.Wrap(err, "open database", slog.String("url", cfg.SqliteURL))
	}
	defer db.Close(context.WithoutCancel(ctx))
	go db.StartMaintenance(ctx, maintenanceEvery, journalRetention)
	logger.LogAttrs(ctx, slog.LevelInfo, "connected to db")

	journal := repositories.NewCallJournal(db, logger)

	service, release, err := backend.New(ctx, backend.Config{
		Name:          cfg.InferenceBackend,
		URL:           cfg.InferenceURL,
		Timeout:       cfg.RequestTimeout,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIModel:   cfg.OpenAIModel,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		GeminiAPIKey:  cfg.GeminiAPIKey,
		GeminiModel:   cfg.GeminiModel,
	}, logger)
	if err != nil {
		return errors.Wrap(err, "new inference service")
	}
	defer func() {
		if closeErr := release(); closeErr != nil {
			logger.LogAttrs(ctx, slog.LevelWarn, "release inference service", errors.SlogError(closeErr))
		}
	}()
	sessions := session.NewManager(inference.Journaled(service, journal, logger), session.Config{
		MaxAnswers:  cfg.MaxAnswers,
		CallTimeout: cfg.RequestTimeout,
		IdleTimeout: cfg.SessionIdleTimeout,
	}, logger)
	defer sessions.Close()
	go sessions.StartJanitor(ctx, janitorEvery)

	store := sqlite3store.NewWithCleanupInterval(db.ReadWrite.DB, time.Hour)
	defer store.StopCleanup()
	sessionManager := scs.New()
	sessionManager.Store = store
	sessionManager.Lifetime = cfg.SessionIdleTimeout

	if pages, err = parsePages(); err != nil {
		return errors.Wrap(err, "parse page templates")
	}

	app := application{
		logger:         logger,
		sessionManager: sessionManager,
		sessions:       sessions,
		journal:        journal,
		htmx:           htmx.New(),
		pages:          pages,
	}

	if err = app.configureAndStartServer(ctx, cfg.Addr, cfg.WriteTimeout); err != nil {
		return errors.Wrap(err, "start server")
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := slog.New(logging.NewContextHandler(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelDebug,
	})))

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.LogAttrs(ctx, slog.LevelError, "failure loading .env", errors.SlogError(err))
		os.Exit(1)
	}

	if err := run(ctx, logger, os.LookupEnv); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "failure starting application", errors.SlogError(err))
		os.Exit(1)
	}
}
