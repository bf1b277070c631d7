package session_test

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/Art-Therapy-Chat/web-front/internal/inference"
	"github.com/Art-Therapy-Chat/web-front/internal/inference/inferencetest"
	"github.com/Art-Therapy-Chat/web-front/internal/models"
	"github.com/Art-Therapy-Chat/web-front/internal/pipeline"
	"github.com/Art-Therapy-Chat/web-front/internal/session"
	"github.com/Art-Therapy-Chat/web-front/internal/testhelpers"
	"github.com/stretchr/testify/require"
)

func newSession(svc inference.Service, maxAnswers int) *session.Session {
	logger := testhelpers.NewLogger(io.Discard)
	orchestrator := pipeline.NewOrchestrator(svc, time.Second, logger)
	return session.New("test-session", svc, orchestrator, maxAnswers, time.Second, logger)
}

func interpreted(t *testing.T, svc inference.Service, maxAnswers int) *session.Session {
	t.Helper()
	s := newSession(svc, maxAnswers)
	s.SetArtifact(models.CategoryHouse, []byte("house"))
	require.NoError(t, s.RunInterpretation(context.Background()))
	return s
}

func answer(t *testing.T, s *session.Session, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		require.NoError(t, s.SubmitAnswer(context.Background(), fmt.Sprintf("answer %d", i)))
	}
}

func TestSession_InterpretationOpensConversation(t *testing.T) {
	svc := inferencetest.NewService()
	s := newSession(svc, 5)
	require.Equal(t, models.PhaseCollecting, s.Phase())

	s.SetArtifact(models.CategoryHouse, []byte("house"))
	s.SetArtifact(models.CategoryPerson, []byte("person"))
	require.Equal(t, models.PhaseCollecting, s.Phase())
	require.NoError(t, s.RunInterpretation(context.Background()))

	snapshot := s.Snapshot()
	require.Equal(t, models.PhaseQALoop, snapshot.Phase)
	require.False(t, snapshot.Busy)
	require.Equal(t, map[models.Category]string{
		models.CategoryHouse:  "house 그림",
		models.CategoryPerson: "person 그림",
	}, snapshot.Captions)
	require.Equal(t, map[models.Category]string{
		models.CategoryHouse:  "번역: interpretation of a drawing of house",
		models.CategoryPerson: "번역: interpretation of a drawing of person",
	}, snapshot.Interpretations)
	require.Equal(t, []models.Message{
		{Role: models.RoleAssistant, Content: "번역: question 1"},
	}, snapshot.Conversation, "exactly one assistant message opens the conversation")
	require.Zero(t, snapshot.AnswerCount)
	require.Empty(t, snapshot.FinalInterpretation)

	requests := svc.QuestionRequests()
	require.Len(t, requests, 1)
	require.Empty(t, requests[0].Conversation)
	require.Equal(t, snapshot.Interpretations, requests[0].Interpretations)
}

func TestSession_FullConversation(t *testing.T) {
	svc := inferencetest.NewService()
	s := interpreted(t, svc, 5)

	answer(t, s, 4)
	snapshot := s.Snapshot()
	require.Equal(t, models.PhaseQALoop, snapshot.Phase)
	require.Equal(t, 4, snapshot.AnswerCount)
	require.Zero(t, svc.CallCount(inference.EndpointInterpretFinal))

	answer(t, s, 1)
	snapshot = s.Snapshot()
	require.Equal(t, models.PhaseComplete, snapshot.Phase)
	require.Equal(t, 5, snapshot.AnswerCount)
	require.Equal(t, "final interpretation", snapshot.FinalInterpretation)
	require.Len(t, snapshot.Conversation, 11)
	require.Equal(t, models.Message{Role: models.RoleAssistant, Content: session.CompleteNotice},
		snapshot.Conversation[10])

	// One question to open the loop plus one per answer below the limit.
	questions := svc.QuestionRequests()
	require.Len(t, questions, 5)
	for i, req := range questions[1:] {
		answered := i + 1
		require.Len(t, req.Conversation, 2*answered, "the placeholder is not sent")
		require.Equal(t, models.Message{Role: models.RoleUser, Content: fmt.Sprintf("answer %d", answered)},
			req.Conversation[len(req.Conversation)-1])
		require.Nil(t, req.Interpretations, "interpretations seed the first question only")
	}

	finals := svc.FinalRequests()
	require.Len(t, finals, 1)
	require.Len(t, finals[0].Conversation, 10)
	require.Equal(t, "번역: question 5", finals[0].Conversation[8].Content)
	require.Equal(t, "answer 5", finals[0].Conversation[9].Content)
	require.Equal(t, snapshot.Interpretations, finals[0].Interpretations)

	// The question and final requests happen in answer order.
	var order []string
	for _, call := range svc.Calls() {
		if call == inference.EndpointQuestions || call == inference.EndpointInterpretFinal {
			order = append(order, call)
		}
	}
	require.Equal(t, []string{
		inference.EndpointQuestions,
		inference.EndpointQuestions,
		inference.EndpointQuestions,
		inference.EndpointQuestions,
		inference.EndpointQuestions,
		inference.EndpointInterpretFinal,
	}, order)
}

func TestSession_AnswersAfterComplete(t *testing.T) {
	svc := inferencetest.NewService()
	s := interpreted(t, svc, 5)
	answer(t, s, 5)
	require.Equal(t, models.PhaseComplete, s.Phase())

	require.NoError(t, s.SubmitAnswer(context.Background(), "one more thing"))
	snapshot := s.Snapshot()
	require.Equal(t, models.PhaseComplete, snapshot.Phase)
	require.Equal(t, 5, snapshot.AnswerCount)
	require.Equal(t, "final interpretation", snapshot.FinalInterpretation)
	require.Len(t, snapshot.Conversation, 13)
	require.Equal(t, "one more thing", snapshot.Conversation[11].Content)
	require.Equal(t, "번역: question 6", snapshot.Conversation[12].Content)
	require.Equal(t, 1, svc.CallCount(inference.EndpointInterpretFinal), "no second final synthesis")
}

func TestSession_QuestionFailures(t *testing.T) {
	tests := []struct {
		name   string
		script func(svc *inferencetest.Service)
	}{
		{
			name: "question",
			script: func(svc *inferencetest.Service) {
				svc.QuestionFunc = func(context.Context, inference.QuestionRequest) (string, error) {
					return "", inferencetest.ErrScripted
				}
			},
		},
		{
			name: "translation",
			script: func(svc *inferencetest.Service) {
				svc.TranslateFunc = func(_ context.Context, text string) (string, error) {
					if text == "question 1" || text == "question 2" {
						return "", inferencetest.ErrScripted
					}
					return "번역: " + text, nil
				}
			},
		},
		{
			name: "blank translation",
			script: func(svc *inferencetest.Service) {
				svc.TranslateFunc = func(_ context.Context, text string) (string, error) {
					if text == "question 1" || text == "question 2" {
						return " \n", nil
					}
					return "번역: " + text, nil
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := inferencetest.NewService()
			tt.script(svc)
			s := interpreted(t, svc, 5)

			snapshot := s.Snapshot()
			require.Equal(t, models.PhaseQALoop, snapshot.Phase, "the loop opens even when the first question fails")
			require.Equal(t, []models.Message{
				{Role: models.RoleAssistant, Content: session.FirstQuestionFailed},
			}, snapshot.Conversation)

			answer(t, s, 1)
			snapshot = s.Snapshot()
			require.Equal(t, models.PhaseQALoop, snapshot.Phase)
			require.Equal(t, 1, snapshot.AnswerCount)
			require.Equal(t, []models.Message{
				{Role: models.RoleAssistant, Content: session.FirstQuestionFailed},
				{Role: models.RoleUser, Content: "answer 1"},
				{Role: models.RoleAssistant, Content: session.QuestionFailed},
			}, snapshot.Conversation)
			require.False(t, snapshot.Busy)
		})
	}
}

func TestSession_FinalSynthesisFailureAndRetry(t *testing.T) {
	tests := []struct {
		name    string
		failure func() (string, error)
	}{
		{"error", func() (string, error) { return "", inferencetest.ErrScripted }},
		{"empty response", func() (string, error) { return "", nil }},
		{"blank response", func() (string, error) { return "  \n", nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := inferencetest.NewService()
			fail := true
			svc.InterpretFinalFunc = func(context.Context, inference.FinalRequest) (string, error) {
				if fail {
					return tt.failure()
				}
				return "final after retry", nil
			}
			s := interpreted(t, svc, 1)
			require.ErrorIs(t, s.RetryFinalSynthesis(context.Background()), session.ErrNotFinalizing)

			answer(t, s, 1)
			snapshot := s.Snapshot()
			require.Equal(t, models.PhaseFinalizing, snapshot.Phase)
			require.False(t, snapshot.Busy)
			require.Empty(t, snapshot.FinalInterpretation)
			require.Equal(t, session.FinalFailed, snapshot.Conversation[len(snapshot.Conversation)-1].Content)

			require.ErrorIs(t, s.SubmitAnswer(context.Background(), "another answer"), session.ErrFinalizing)
			require.Equal(t, snapshot.Conversation, s.Snapshot().Conversation, "rejected answers change nothing")

			fail = false
			require.NoError(t, s.RetryFinalSynthesis(context.Background()))
			snapshot = s.Snapshot()
			require.Equal(t, models.PhaseComplete, snapshot.Phase)
			require.Equal(t, "final after retry", snapshot.FinalInterpretation)
			require.Equal(t, []models.Message{
				{Role: models.RoleAssistant, Content: "번역: question 1"},
				{Role: models.RoleUser, Content: "answer 1"},
				{Role: models.RoleAssistant, Content: session.FinalFailed},
				{Role: models.RoleAssistant, Content: session.CompleteNotice},
			}, snapshot.Conversation)

			finals := svc.FinalRequests()
			require.Len(t, finals, 2)
			require.Equal(t, finals[0].Conversation, finals[1].Conversation)
			require.ErrorIs(t, s.RetryFinalSynthesis(context.Background()), session.ErrNotFinalizing)
		})
	}
}

func TestSession_RerunClearsPreviousResults(t *testing.T) {
	ctx := context.Background()
	svc := inferencetest.NewService()
	s := interpreted(t, svc, 1)
	answer(t, s, 1)
	require.Equal(t, models.PhaseComplete, s.Phase())

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	svc.CaptionFunc = func(_ context.Context, image []byte) (inference.Caption, error) {
		started <- struct{}{}
		<-release
		return inference.Caption{Primary: "다시 그림", Secondary: "a new drawing of " + string(image)}, nil
	}

	done := make(chan error, 1)
	go func() { done <- s.RunInterpretation(ctx) }()
	<-started

	snapshot := s.Snapshot()
	require.True(t, snapshot.Busy)
	require.Equal(t, models.PhaseCollecting, snapshot.Phase)
	require.Empty(t, snapshot.Captions)
	require.Empty(t, snapshot.Interpretations)
	require.Empty(t, snapshot.FinalInterpretation)
	require.Zero(t, snapshot.AnswerCount)
	require.Equal(t, []models.Message{
		{Role: models.RoleAssistant, Content: session.AnalyzingNotice},
	}, snapshot.Conversation)
	require.Equal(t, []models.Category{models.CategoryHouse}, snapshot.Artifacts, "sketches are kept")

	close(release)
	require.NoError(t, <-done)
	snapshot = s.Snapshot()
	require.Equal(t, models.PhaseQALoop, snapshot.Phase)
	require.Equal(t, "다시 그림", snapshot.Captions[models.CategoryHouse])
	require.Len(t, snapshot.Conversation, 1)
	require.NotEqual(t, session.AnalyzingNotice, snapshot.Conversation[0].Content)
}

func TestSession_Rejections(t *testing.T) {
	ctx := context.Background()
	svc := inferencetest.NewService()
	s := newSession(svc, 5)

	require.ErrorIs(t, s.RunInterpretation(ctx), session.ErrNoArtifacts)
	require.ErrorIs(t, s.SubmitAnswer(ctx, "too early"), session.ErrNotReady)
	require.Empty(t, svc.Calls())
	require.Equal(t, models.PhaseCollecting, s.Phase())

	s.SetArtifact(models.CategoryTree, []byte("tree"))
	s.ClearArtifact(models.CategoryTree)
	require.ErrorIs(t, s.RunInterpretation(ctx), session.ErrNoArtifacts)

	s = interpreted(t, svc, 5)
	before := s.Snapshot()
	for _, empty := range []string{"", "   ", "\n\t"} {
		require.ErrorIs(t, s.SubmitAnswer(ctx, empty), session.ErrEmptyAnswer)
	}
	require.Equal(t, before, s.Snapshot())
}

// blockingQuestions makes every question request wait until release is closed.
func blockingQuestions(svc *inferencetest.Service) (chan struct{}, chan struct{}) {
	started := make(chan struct{}, 10)
	release := make(chan struct{})
	svc.QuestionFunc = func(context.Context, inference.QuestionRequest) (string, error) {
		started <- struct{}{}
		<-release
		return "late question", nil
	}
	return started, release
}

func TestSession_Busy(t *testing.T) {
	ctx := context.Background()
	svc := inferencetest.NewService()
	started, release := blockingQuestions(svc)
	s := newSession(svc, 5)
	s.SetArtifact(models.CategoryHouse, []byte("house"))

	done := make(chan error, 1)
	go func() { done <- s.RunInterpretation(ctx) }()
	<-started

	snapshot := s.Snapshot()
	require.True(t, snapshot.Busy)
	require.Equal(t, models.PhaseInterpreting, snapshot.Phase)
	require.Equal(t, []models.Message{
		{Role: models.RoleAssistant, Content: session.FirstQuestionPending},
	}, snapshot.Conversation)
	require.ErrorIs(t, s.RunInterpretation(ctx), session.ErrBusy)
	require.ErrorIs(t, s.SubmitAnswer(ctx, "hello"), session.ErrBusy)

	close(release)
	require.NoError(t, <-done)
	snapshot = s.Snapshot()
	require.False(t, snapshot.Busy)
	require.Equal(t, models.PhaseQALoop, snapshot.Phase)
	require.Equal(t, "번역: late question", snapshot.Conversation[0].Content)
}

func TestSession_ResetDropsInFlightResults(t *testing.T) {
	t.Run("first question", func(t *testing.T) {
		t.Parallel()
		svc := inferencetest.NewService()
		started, release := blockingQuestions(svc)
		s := newSession(svc, 5)
		s.SetArtifact(models.CategoryHouse, []byte("house"))

		done := make(chan error, 1)
		go func() { done <- s.RunInterpretation(context.Background()) }()
		<-started

		s.Reset()
		close(release)
		require.NoError(t, <-done)
		requireEmpty(t, s.Snapshot())
	})

	t.Run("pipeline", func(t *testing.T) {
		t.Parallel()
		svc := inferencetest.NewService()
		started := make(chan struct{}, 1)
		release := make(chan struct{})
		svc.CaptionFunc = func(context.Context, []byte) (inference.Caption, error) {
			started <- struct{}{}
			<-release
			return inference.Caption{Primary: "집", Secondary: "house"}, nil
		}
		s := newSession(svc, 5)
		s.SetArtifact(models.CategoryHouse, []byte("house"))

		done := make(chan error, 1)
		go func() { done <- s.RunInterpretation(context.Background()) }()
		<-started

		s.Reset()
		close(release)
		require.NoError(t, <-done)
		requireEmpty(t, s.Snapshot())
		require.Zero(t, svc.CallCount(inference.EndpointQuestions))
	})

	t.Run("next question", func(t *testing.T) {
		t.Parallel()
		svc := inferencetest.NewService()
		s := interpreted(t, svc, 5)
		started, release := blockingQuestions(svc)

		done := make(chan error, 1)
		go func() { done <- s.SubmitAnswer(context.Background(), "answer") }()
		<-started

		s.Reset()
		close(release)
		require.NoError(t, <-done)
		requireEmpty(t, s.Snapshot())
	})
}

func TestSession_ResetFromEveryPhase(t *testing.T) {
	failingFinal := func(svc *inferencetest.Service) {
		svc.InterpretFinalFunc = func(context.Context, inference.FinalRequest) (string, error) {
			return "", inferencetest.ErrScripted
		}
	}
	tests := []struct {
		phase   models.Phase
		script  func(svc *inferencetest.Service)
		prepare func(t *testing.T, s *session.Session)
	}{
		{
			phase: models.PhaseCollecting,
			prepare: func(_ *testing.T, s *session.Session) {
				s.SetArtifact(models.CategoryPerson, []byte("person"))
			},
		},
		{
			phase: models.PhaseQALoop,
			prepare: func(t *testing.T, s *session.Session) {
				s.SetArtifact(models.CategoryHouse, []byte("house"))
				require.NoError(t, s.RunInterpretation(context.Background()))
				answer(t, s, 2)
			},
		},
		{
			phase:  models.PhaseFinalizing,
			script: failingFinal,
			prepare: func(t *testing.T, s *session.Session) {
				s.SetArtifact(models.CategoryHouse, []byte("house"))
				require.NoError(t, s.RunInterpretation(context.Background()))
				answer(t, s, 3)
			},
		},
		{
			phase: models.PhaseComplete,
			prepare: func(t *testing.T, s *session.Session) {
				s.SetArtifact(models.CategoryTree, []byte("tree"))
				require.NoError(t, s.RunInterpretation(context.Background()))
				answer(t, s, 3)
			},
		},
	}
	for _, tt := range tests {
		t.Run(string(tt.phase), func(t *testing.T) {
			t.Parallel()
			svc := inferencetest.NewService()
			if tt.script != nil {
				tt.script(svc)
			}
			s := newSession(svc, 3)
			tt.prepare(t, s)
			require.Equal(t, tt.phase, s.Phase())

			s.Reset()
			requireEmpty(t, s.Snapshot())
			require.ErrorIs(t, s.RunInterpretation(context.Background()), session.ErrNoArtifacts)
		})
	}
}

func requireEmpty(t *testing.T, snapshot models.Snapshot) {
	t.Helper()
	require.Equal(t, models.PhaseCollecting, snapshot.Phase)
	require.False(t, snapshot.Busy)
	require.Empty(t, snapshot.Artifacts)
	require.Empty(t, snapshot.Captions)
	require.Empty(t, snapshot.Interpretations)
	require.Empty(t, snapshot.Conversation)
	require.Zero(t, snapshot.AnswerCount)
	require.Empty(t, snapshot.FinalInterpretation)
}
