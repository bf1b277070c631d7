package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Art-Therapy-Chat/web-front/internal/broker"
	"github.com/Art-Therapy-Chat/web-front/internal/errors"
	"github.com/Art-Therapy-Chat/web-front/internal/inference"
	"github.com/Art-Therapy-Chat/web-front/internal/models"
	"github.com/Art-Therapy-Chat/web-front/internal/pipeline"
	"github.com/Art-Therapy-Chat/web-front/internal/random"
)

const idLength = 24

// Config holds the settings shared by every session of a [Manager].
type Config struct {
	MaxAnswers  int
	CallTimeout time.Duration
	// IdleTimeout is how long an unused session is kept. Zero keeps sessions forever.
	IdleTimeout time.Duration
}

// Manager owns the live sessions of the process.
type Manager struct {
	service      inference.Service
	orchestrator *pipeline.Orchestrator
	config       Config
	logger       *slog.Logger
	progress     *broker.ChannelBroker[string, models.Progress]

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a manager. Call Close to release it.
func NewManager(service inference.Service, config Config, logger *slog.Logger) *Manager {
	m := &Manager{
		service:      service,
		orchestrator: pipeline.NewOrchestrator(service, config.CallTimeout, logger),
		config:       config,
		logger:       logger.With(slog.String("source", "session.Manager")),
		progress:     broker.NewChannelBroker[string, models.Progress](),
		sessions:     map[string]*Session{},
	}
	go m.progress.Start()
	return m
}

// Close stops the progress streams. Sessions stay usable without streaming.
func (m *Manager) Close() {
	m.progress.Stop()
}

// Progress subscribes to the interpretation progress of the session with id. The returned channel yields the
// progress stream to the first subscriber of a running interpretation. Otherwise it is closed, immediately when
// nothing runs or once the interpretation finishes.
func (m *Manager) Progress(id string) <-chan chan models.Progress {
	return m.progress.Subscribe(id)
}

// Create starts a new session with a random ID.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	id, err := random.Letters(idLength)
	if err != nil {
		return nil, errors.Wrap(err, "generate session id")
	}
	s := New(id, m.service, m.orchestrator, m.config.MaxAnswers, m.config.CallTimeout, m.logger)
	s.progress = m.progress
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	m.logger.LogAttrs(ctx, slog.LevelInfo, "session created", slog.String("session_id", id))
	return s, nil
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// GetOrCreate returns the session with id or a new one when it does not exist (anymore).
func (m *Manager) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	if id != "" {
		if s, ok := m.Get(id); ok {
			return s, nil
		}
	}
	return m.Create(ctx)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// EvictIdle removes the sessions idle since before now minus the idle timeout and returns how many were removed.
func (m *Manager) EvictIdle(now time.Time) int {
	if m.config.IdleTimeout <= 0 {
		return 0
	}
	cutoff := now.Add(-m.config.IdleTimeout)
	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := 0
	for id, s := range m.sessions {
		if s.idle(cutoff) {
			delete(m.sessions, id)
			evicted++
		}
	}
	return evicted
}

// StartJanitor evicts idle sessions periodically until ctx is cancelled.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	for {
		if evicted := m.EvictIdle(time.Now()); evicted > 0 {
			m.logger.LogAttrs(ctx, slog.LevelInfo, "evicted idle sessions",
				slog.Int("evicted", evicted),
				slog.Int("remaining", m.Len()))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			continue
		}
	}
}
