// Package session drives one house-tree-person interpretation from sketch submission through the question and
// answer loop to the final synthesis.
package session

import (
	"context"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/Art-Therapy-Chat/web-front/internal/artifact"
	"github.com/Art-Therapy-Chat/web-front/internal/broker"
	"github.com/Art-Therapy-Chat/web-front/internal/conversation"
	"github.com/Art-Therapy-Chat/web-front/internal/errors"
	"github.com/Art-Therapy-Chat/web-front/internal/inference"
	"github.com/Art-Therapy-Chat/web-front/internal/models"
	"github.com/Art-Therapy-Chat/web-front/internal/pipeline"
)

// Messages shown to the user in the conversation log.
const (
	AnalyzingNotice      = "그림 분석 중입니다. 잠시만 기다려주세요..."
	FirstQuestionPending = "그림을 분석하여 첫 번째 질문을 생성 중입니다..."
	FirstQuestionFailed  = "질문을 불러오는 데 실패했습니다."
	AnswerPending        = "..."
	QuestionFailed       = "오류가 발생했습니다."
	FinalizingNotice     = "모든 답변이 완료되었습니다. 최종 결과를 분석 중입니다..."
	CompleteNotice       = "분석이 완료되었습니다. 아래의 '최종 종합 해석' 섹션을 확인하세요."
	FinalFailed          = "최종 해석 생성 중 오류가 발생했습니다."
)

// DefaultMaxAnswers is the number of answers after which the final synthesis starts.
const DefaultMaxAnswers = 5

var (
	ErrBusy          = errors.NewSentinel("a request is already in progress")
	ErrNoArtifacts   = errors.NewSentinel("no sketch has been submitted")
	ErrEmptyAnswer   = errors.NewSentinel("answer is empty")
	ErrNotReady      = errors.NewSentinel("the conversation has not started")
	ErrFinalizing    = errors.NewSentinel("all answers are in, the final interpretation is pending")
	ErrNotFinalizing = errors.NewSentinel("no final interpretation is pending")

	ErrEmptyQuestion = errors.NewSentinel("the question service returned no text")
	ErrEmptyFinal    = errors.NewSentinel("the final synthesis returned no text")
)

// Session is the state of one interpretation. All methods are safe for concurrent use. At most one chain of
// remote calls runs at a time; remote calls never hold the session lock.
type Session struct {
	id           string
	service      inference.Service
	orchestrator *pipeline.Orchestrator
	logger       *slog.Logger
	maxAnswers   int
	callTimeout  time.Duration

	artifacts *artifact.Store
	log       *conversation.Log
	// progress streams interpretation progress under the session ID when set.
	progress *broker.ChannelBroker[string, models.Progress]

	mu sync.Mutex
	// generation is bumped by Reset. Chains started in an older generation drop their results.
	generation      uint64
	busy            bool
	interpreted     bool
	opened          bool
	captions        map[models.Category]string
	interpretations map[models.Category]string
	answerCount     int
	final           string
	// finalHistory is the conversation the final synthesis was requested with, reused by retries.
	finalHistory []models.Message
	lastUsed     time.Time
	// progressCh is the published progress channel of the running interpretation.
	progressCh chan models.Progress
}

func New(
	id string,
	service inference.Service,
	orchestrator *pipeline.Orchestrator,
	maxAnswers int,
	callTimeout time.Duration,
	logger *slog.Logger,
) *Session {
	if maxAnswers <= 0 {
		maxAnswers = DefaultMaxAnswers
	}
	return &Session{
		id:           id,
		service:      service,
		orchestrator: orchestrator,
		logger:       logger.With(slog.String("session_id", id)),
		maxAnswers:   maxAnswers,
		callTimeout:  callTimeout,
		artifacts:    artifact.NewStore(),
		log:          conversation.NewLog(),
		lastUsed:     time.Now(),
	}
}

func (s *Session) ID() string {
	return s.id
}

// SetArtifact stores the sketch of category. An empty image removes it.
func (s *Session) SetArtifact(category models.Category, image []byte) {
	s.touch()
	s.artifacts.Set(category, image)
}

func (s *Session) ClearArtifact(category models.Category) {
	s.touch()
	s.artifacts.Clear(category)
}

// RunInterpretation interprets every submitted sketch and opens the conversation with the first question.
// Remote failures are reported in the session state, not returned.
func (s *Session) RunInterpretation(ctx context.Context) error {
	s.mu.Lock()
	s.lastUsed = time.Now()
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	if !s.artifacts.Any() {
		s.mu.Unlock()
		return ErrNoArtifacts
	}
	s.busy = true
	generation := s.generation
	images := s.artifacts.Snapshot()
	// The previous results are stale while the pipeline runs.
	s.interpreted = false
	s.opened = false
	s.captions = nil
	s.interpretations = nil
	s.answerCount = 0
	s.final = ""
	s.finalHistory = nil
	s.log.Reset()
	s.log.Append(models.Message{Role: models.RoleAssistant, Content: AnalyzingNotice})
	var progress chan models.Progress
	if s.progress != nil {
		// Buffered for every event so that the pipeline never waits for a subscriber.
		progress = make(chan models.Progress, len(images))
		s.progressCh = progress
	}
	s.mu.Unlock()

	var notify func(pipeline.Result)
	if progress != nil {
		s.progress.Publish(s.id, progress)
		defer s.finishProgress(progress)
		done := 0
		notify = func(r pipeline.Result) {
			done++
			progress <- models.Progress{Category: r.Category, Failed: r.Failed(), Done: done, Total: len(images)}
		}
	}

	s.logger.LogAttrs(ctx, slog.LevelInfo, "interpretation started", slog.Int("sketches", len(images)))
	captions, interpretations := pipeline.Merge(s.orchestrator.RunNotify(ctx, images, notify))

	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		s.logger.LogAttrs(ctx, slog.LevelInfo, "dropping interpretation of a reset session")
		return nil
	}
	s.captions = captions
	s.interpretations = interpretations
	s.interpreted = true
	s.opened = false
	s.answerCount = 0
	s.final = ""
	s.finalHistory = nil
	s.log.Reset()
	handle := s.log.AppendPending(models.RoleAssistant, FirstQuestionPending)
	seed := maps.Clone(interpretations)
	s.mu.Unlock()

	content := FirstQuestionFailed
	question, err := s.question(ctx, inference.QuestionRequest{
		Conversation:    []models.Message{},
		Interpretations: seed,
	})
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "first question failed", errors.SlogError(err))
	} else {
		content = question
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.generation {
		return nil
	}
	s.log.Resolve(handle, content)
	s.opened = true
	s.busy = false
	return nil
}

// finishProgress ends the progress stream. The stream is unpublished unless a newer interpretation, started
// after a reset, has replaced it.
func (s *Session) finishProgress(progress chan models.Progress) {
	close(progress)
	s.mu.Lock()
	current := s.progressCh == progress
	if current {
		s.progressCh = nil
	}
	s.mu.Unlock()
	if current {
		s.progress.Unpublish(s.id)
	}
}

// SubmitAnswer records the user's answer and either asks the next question or, once enough answers are in,
// requests the final synthesis. Answers given after the final interpretation get follow-up questions only.
func (s *Session) SubmitAnswer(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyAnswer
	}

	s.mu.Lock()
	s.lastUsed = time.Now()
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	if !s.interpreted || !s.opened {
		s.mu.Unlock()
		return ErrNotReady
	}
	if s.phase() == models.PhaseFinalizing {
		s.mu.Unlock()
		return ErrFinalizing
	}

	s.log.Append(models.Message{Role: models.RoleUser, Content: text})
	history := s.log.Messages()
	handle := s.log.AppendPending(models.RoleAssistant, AnswerPending)
	if s.final == "" {
		s.answerCount++
	}
	finalize := s.final == "" && s.answerCount >= s.maxAnswers
	if finalize {
		s.log.Update(handle, FinalizingNotice)
		s.finalHistory = history
	}
	s.busy = true
	generation := s.generation
	interpretations := maps.Clone(s.interpretations)
	answerCount := s.answerCount
	s.mu.Unlock()

	s.logger.LogAttrs(ctx, slog.LevelInfo, "answer accepted",
		slog.Int("answer_count", answerCount),
		slog.Bool("finalize", finalize))

	if finalize {
		s.synthesize(ctx, generation, handle, interpretations, history)
		return nil
	}

	content := QuestionFailed
	question, err := s.question(ctx, inference.QuestionRequest{Conversation: history})
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "next question failed", errors.SlogError(err))
	} else {
		content = question
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.generation {
		return nil
	}
	s.log.Resolve(handle, content)
	s.busy = false
	return nil
}

// RetryFinalSynthesis requests the final synthesis again after it failed.
func (s *Session) RetryFinalSynthesis(ctx context.Context) error {
	s.mu.Lock()
	s.lastUsed = time.Now()
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	if s.phase() != models.PhaseFinalizing {
		s.mu.Unlock()
		return ErrNotFinalizing
	}
	handle := s.log.AppendPending(models.RoleAssistant, FinalizingNotice)
	s.busy = true
	generation := s.generation
	interpretations := maps.Clone(s.interpretations)
	history := append([]models.Message{}, s.finalHistory...)
	s.mu.Unlock()

	s.logger.LogAttrs(ctx, slog.LevelInfo, "retrying final synthesis")
	s.synthesize(ctx, generation, handle, interpretations, history)
	return nil
}

func (s *Session) synthesize(
	ctx context.Context,
	generation uint64,
	handle conversation.Handle,
	interpretations map[models.Category]string,
	history []models.Message,
) {
	var final string
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		final, err = s.service.InterpretFinal(ctx, inference.FinalRequest{
			Interpretations: interpretations,
			Conversation:    history,
		})
		return err
	})
	if err == nil && strings.TrimSpace(final) == "" {
		err = ErrEmptyFinal
	}
	if err != nil {
		err = errors.Wrap(err, "final synthesis")
		s.logger.LogAttrs(ctx, slog.LevelError, "final synthesis failed", errors.SlogError(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.generation {
		return
	}
	s.busy = false
	if err != nil {
		s.log.Resolve(handle, FinalFailed)
		return
	}
	s.final = final
	s.log.Resolve(handle, CompleteNotice)
}

// question generates the next question and translates it for the user.
func (s *Session) question(ctx context.Context, req inference.QuestionRequest) (string, error) {
	var question, translated string
	if err := s.call(ctx, func(ctx context.Context) error {
		var err error
		question, err = s.service.Question(ctx, req)
		return err
	}); err != nil {
		return "", errors.Wrap(err, "generate question")
	}
	if err := s.call(ctx, func(ctx context.Context) error {
		var err error
		translated, err = s.service.Translate(ctx, question)
		return err
	}); err != nil {
		return "", errors.Wrap(err, "translate question")
	}
	if strings.TrimSpace(translated) == "" {
		return "", ErrEmptyQuestion
	}
	return translated, nil
}

func (s *Session) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
	}
	return fn(ctx)
}

// Reset discards everything, sketches included. A chain still in flight finishes unnoticed.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.lastUsed = time.Now()
	s.busy = false
	s.interpreted = false
	s.opened = false
	s.captions = nil
	s.interpretations = nil
	s.answerCount = 0
	s.final = ""
	s.finalHistory = nil
	s.artifacts.Reset()
	s.log.Reset()
}

// Phase returns the current stage of the session.
func (s *Session) Phase() models.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase()
}

func (s *Session) phase() models.Phase {
	switch {
	case !s.interpreted:
		return models.PhaseCollecting
	case s.final != "":
		return models.PhaseComplete
	case s.answerCount >= s.maxAnswers:
		return models.PhaseFinalizing
	case !s.opened:
		return models.PhaseInterpreting
	default:
		return models.PhaseQALoop
	}
}

// Snapshot returns a copy of the session state for presentation.
func (s *Session) Snapshot() models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.Snapshot{
		ID:                  s.id,
		Phase:               s.phase(),
		Busy:                s.busy,
		Artifacts:           s.artifacts.Present(),
		Captions:            cloneOrEmpty(s.captions),
		Interpretations:     cloneOrEmpty(s.interpretations),
		Conversation:        s.log.Messages(),
		AnswerCount:         s.answerCount,
		MaxAnswers:          s.maxAnswers,
		FinalInterpretation: s.final,
	}
}

func cloneOrEmpty(m map[models.Category]string) map[models.Category]string {
	if m == nil {
		return map[models.Category]string{}
	}
	return maps.Clone(m)
}

func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = time.Now()
}

// idle reports whether the session has been unused since before cutoff and runs no chain.
func (s *Session) idle(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.busy && s.lastUsed.Before(cutoff)
}
