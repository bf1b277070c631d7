package main

import (
	"context"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Art-Therapy-Chat/web-front/internal/backend"
	"github.com/Art-Therapy-Chat/web-front/internal/envstruct"
	"github.com/Art-Therapy-Chat/web-front/internal/errors"
	"github.com/Art-Therapy-Chat/web-front/internal/inference"
	"github.com/Art-Therapy-Chat/web-front/internal/logging"
	"github.com/Art-Therapy-Chat/web-front/internal/repositories"
	"github.com/Art-Therapy-Chat/web-front/internal/session"
	"github.com/Art-Therapy-Chat/web-front/internal/sqlite"
	"github.com/Art-Therapy-Chat/web-front/internal/telegram"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
)

var ErrMissingToken = errors.NewSentinel("TELEGRAM_BOT_TOKEN is required")

type config struct {
	Token string `env:"TELEGRAM_BOT_TOKEN" envDefault:""`
	// APIEndpoint is the Bot API URL format with placeholders for the token and the method.
	APIEndpoint      string        `env:"TELEGRAM_API_ENDPOINT" envDefault:"https://api.telegram.org/bot%s/%s"`
	SqliteURL        string        `env:"HTPCHAT_SQLITE_URL" envDefault:":memory:"`
	InferenceBackend string        `env:"HTPCHAT_INFERENCE_BACKEND" envDefault:"http"`
	InferenceURL     string        `env:"HTPCHAT_INFERENCE_URL" envDefault:"http://localhost:8000"`
	OpenAIAPIKey     string        `env:"OPENAI_API_KEY" envDefault:""`
	OpenAIModel      string        `env:"HTPCHAT_OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAIBaseURL    string        `env:"HTPCHAT_OPENAI_BASE_URL" envDefault:""`
	GeminiAPIKey     string        `env:"GEMINI_API_KEY" envDefault:""`
	GeminiModel      string        `env:"HTPCHAT_GEMINI_MODEL" envDefault:"gemini-1.5-flash"`
	RequestTimeout   time.Duration `env:"HTPCHAT_REQUEST_TIMEOUT" envDefault:"2m"`
	// SessionIdleTimeout is how long a chat keeps its session without messages.
	SessionIdleTimeout time.Duration `env:"HTPCHAT_SESSION_IDLE_TIMEOUT" envDefault:"12h"`
	MaxAnswers         int           `env:"HTPCHAT_MAX_ANSWERS" envDefault:"5"`
}

const (
	pollTimeout      = 30
	journalRetention = 7 * 24 * time.Hour
	maintenanceEvery = time.Hour
	janitorEvery     = time.Minute
)

func run(ctx context.Context, logger *slog.Logger, lookupEnv func(string) (string, bool)) error {
	var cfg config
	if err := envstruct.Populate(&cfg, lookupEnv); err != nil {
		return errors.Wrap(err, "populate config")
	}
	if cfg.Token == "" {
		return ErrMissingToken
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	db, err := sqlite.NewDatabase(ctx, cfg.SqliteURL, logger)
	if err != nil {
		return errors.Wrap(err, "open database", slog.String("url", cfg.SqliteURL))
	}
	defer db.Close(context.WithoutCancel(ctx))
	go db.StartMaintenance(ctx, maintenanceEvery, journalRetention)
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

	httpClient := &http.Client{Timeout: time.Minute}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.APIEndpoint, httpClient)
	if err != nil {
		return errors.Wrap(err, "connect to telegram")
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "authorized", slog.String("bot", bot.Self.UserName))

	router := telegram.NewRouter(bot, sessions, httpClient, logger)
	var wg sync.WaitGroup
	poll(ctx, bot, logger, func(upd tgbotapi.Update) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			router.HandleUpdate(ctx, upd)
		}()
	})
	wg.Wait()
	return nil
}

type updater interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

// poll long-polls for updates until ctx is done. Failed requests are retried with exponential backoff.
func poll(ctx context.Context, bot updater, logger *slog.Logger, handle func(tgbotapi.Update)) {
	const (
		baseDelay = time.Second
		maxDelay  = 15 * time.Second
	)
	offset := 0
	delay := baseDelay
	for ctx.Err() == nil {
		u := tgbotapi.NewUpdate(offset)
		u.Timeout = pollTimeout
		updates, err := bot.GetUpdates(u)
		if err != nil {
			logger.LogAttrs(ctx, slog.LevelWarn, "polling failed",
				errors.SlogError(err), slog.Duration("retry_in", delay))
			if !sleep(ctx, delay) {
				break
			}
			delay = min(2*delay, maxDelay)
			continue
		}
		delay = baseDelay
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			handle(upd)
		}
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "polling stopped")
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := slog.New(logging.NewContextHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.LogAttrs(ctx, slog.LevelError, "failure loading .env", errors.SlogError(err))
		os.Exit(1)
	}

	if err := run(ctx, logger, os.LookupEnv); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "failure running bot", errors.SlogError(err))
		os.Exit(1)
	}
}
