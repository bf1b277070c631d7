package session_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/Art-Therapy-Chat/web-front/internal/inference"
	"github.com/Art-Therapy-Chat/web-front/internal/inference/inferencetest"
	"github.com/Art-Therapy-Chat/web-front/internal/models"
	"github.com/Art-Therapy-Chat/web-front/internal/session"
	"github.com/Art-Therapy-Chat/web-front/internal/testhelpers"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, idleTimeout time.Duration) *session.Manager {
	t.Helper()
	return newManagerWith(t, inferencetest.NewService(), idleTimeout)
}

func newManagerWith(t *testing.T, svc inference.Service, idleTimeout time.Duration) *session.Manager {
	t.Helper()
	m := session.NewManager(svc, session.Config{
		MaxAnswers:  2,
		CallTimeout: time.Second,
		IdleTimeout: idleTimeout,
	}, testhelpers.NewLogger(io.Discard))
	t.Cleanup(m.Close)
	return m
}

func TestManager_GetOrCreate(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, time.Hour)

	s, err := m.GetOrCreate(ctx, "")
	require.NoError(t, err)
	require.Len(t, s.ID(), 24)
	require.Equal(t, 2, s.Snapshot().MaxAnswers)

	same, err := m.GetOrCreate(ctx, s.ID())
	require.NoError(t, err)
	require.Same(t, s, same)

	other, err := m.GetOrCreate(ctx, "unknown")
	require.NoError(t, err)
	require.NotEqual(t, s.ID(), other.ID())
	require.Equal(t, 2, m.Len())

	got, ok := m.Get(other.ID())
	require.True(t, ok)
	require.Same(t, other, got)
	_, ok = m.Get("unknown")
	require.False(t, ok)
}

func TestManager_SessionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, time.Hour)
	a, err := m.Create(ctx)
	require.NoError(t, err)
	b, err := m.Create(ctx)
	require.NoError(t, err)

	a.SetArtifact(models.CategoryHouse, []byte("house"))
	require.NoError(t, a.RunInterpretation(ctx))
	require.Equal(t, models.PhaseQALoop, a.Phase())
	require.Equal(t, models.PhaseCollecting, b.Phase())
	require.Empty(t, b.Snapshot().Artifacts)
}

func TestManager_EvictIdle(t *testing.T) {
	ctx := context.Background()

	t.Run("evicts unused sessions", func(t *testing.T) {
		m := newManager(t, time.Minute)
		_, err := m.Create(ctx)
		require.NoError(t, err)

		require.Zero(t, m.EvictIdle(time.Now()))
		require.Equal(t, 1, m.Len())
		require.Equal(t, 1, m.EvictIdle(time.Now().Add(2*time.Minute)))
		require.Zero(t, m.Len())
	})

	t.Run("zero timeout keeps sessions", func(t *testing.T) {
		m := newManager(t, 0)
		_, err := m.Create(ctx)
		require.NoError(t, err)
		require.Zero(t, m.EvictIdle(time.Now().Add(24*time.Hour)))
		require.Equal(t, 1, m.Len())
	})

	t.Run("janitor stops with context", func(t *testing.T) {
		m := newManager(t, time.Minute)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		done := make(chan struct{})
		go func() {
			m.StartJanitor(cancelled, time.Hour)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("janitor did not stop")
		}
	})
}

func TestManager_Progress(t *testing.T) {
	ctx := context.Background()
	svc := inferencetest.NewService()
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	svc.CaptionFunc = func(_ context.Context, image []byte) (inference.Caption, error) {
		if string(image) == "house" {
			started <- struct{}{}
			<-release
		}
		if string(image) == "tree" {
			return inference.Caption{}, inferencetest.ErrScripted
		}
		return inference.Caption{Primary: string(image), Secondary: string(image)}, nil
	}
	m := newManagerWith(t, svc, time.Hour)
	s, err := m.Create(ctx)
	require.NoError(t, err)

	events, ok := <-m.Progress(s.ID())
	require.False(t, ok, "nothing runs yet")
	require.Nil(t, events)

	s.SetArtifact(models.CategoryHouse, []byte("house"))
	s.SetArtifact(models.CategoryTree, []byte("tree"))
	done := make(chan error, 1)
	go func() {
		done <- s.RunInterpretation(ctx)
	}()
	<-started

	events, ok = <-m.Progress(s.ID())
	require.True(t, ok)
	waiting := m.Progress(s.ID())
	close(release)

	var got []models.Progress
	for p := range events {
		got = append(got, p)
	}
	require.Equal(t, []models.Progress{
		{Category: models.CategoryHouse, Done: 1, Total: 2},
		{Category: models.CategoryTree, Failed: true, Done: 2, Total: 2},
	}, got)

	_, ok = <-waiting
	require.False(t, ok, "second subscriber released when the interpretation finished")
	require.NoError(t, <-done)
	require.Equal(t, models.PhaseQALoop, s.Phase())

	_, ok = <-m.Progress(s.ID())
	require.False(t, ok, "finished interpretation is unpublished")
}
