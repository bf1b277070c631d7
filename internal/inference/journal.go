package inference

import (
	"context"
	"log/slog"
	"time"

	"github.com/Art-Therapy-Chat/web-front/internal/errors"
)

// Call describes one finished inference request.
type Call struct {
	Endpoint  string        `json:"endpoint"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	// Error is empty for successful calls.
	Error string `json:"error,omitempty"`
}

// Recorder stores finished calls, e.g. for troubleshooting slow or failing services.
type Recorder interface {
	RecordCall(ctx context.Context, call Call) error
}

// JournaledService records every call of the wrapped Service. Recording failures are logged and never affect
// the call result.
type JournaledService struct {
	next     Service
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// Journaled wraps next so that each call is handed to recorder.
func Journaled(next Service, recorder Recorder, logger *slog.Logger) *JournaledService {
	return &JournaledService{
		next:     next,
		recorder: recorder,
		logger:   logger.With(slog.String("source", "inference.JournaledService")),
		now:      time.Now,
	}
}

func (s *JournaledService) record(ctx context.Context, endpoint string, start time.Time, callErr error) {
	call := Call{
		Endpoint:  endpoint,
		StartedAt: start.UTC(),
		Duration:  s.now().Sub(start),
	}
	if callErr != nil {
		call.Error = callErr.Error()
	}
	// The request context may already be cancelled, the journal entry is still wanted.
	if err := s.recorder.RecordCall(context.WithoutCancel(ctx), call); err != nil {
		err = errors.Wrap(err, "record call", slog.String("endpoint", endpoint))
		s.logger.LogAttrs(ctx, slog.LevelError, "failed to journal inference call", errors.SlogError(err))
	}
}

func (s *JournaledService) Caption(ctx context.Context, image []byte) (Caption, error) {
	start := s.now()
	caption, err := s.next.Caption(ctx, image)
	s.record(ctx, EndpointCaption, start, err)
	return caption, err //nolint:wrapcheck // decorator is transparent
}

func (s *JournaledService) Retrieve(ctx context.Context, caption string, imageType string) ([]Document, error) {
	start := s.now()
	docs, err := s.next.Retrieve(ctx, caption, imageType)
	s.record(ctx, EndpointRetrieve, start, err)
	return docs, err //nolint:wrapcheck // decorator is transparent
}

func (s *JournaledService) InterpretSingle(ctx context.Context, req InterpretSingleRequest) (string, error) {
	start := s.now()
	interpretation, err := s.next.InterpretSingle(ctx, req)
	s.record(ctx, EndpointInterpretSingle, start, err)
	return interpretation, err //nolint:wrapcheck // decorator is transparent
}

func (s *JournaledService) Translate(ctx context.Context, text string) (string, error) {
	start := s.now()
	translated, err := s.next.Translate(ctx, text)
	s.record(ctx, EndpointTranslate, start, err)
	return translated, err //nolint:wrapcheck // decorator is transparent
}

func (s *JournaledService) Question(ctx context.Context, req QuestionRequest) (string, error) {
	start := s.now()
	question, err := s.next.Question(ctx, req)
	s.record(ctx, EndpointQuestions, start, err)
	return question, err //nolint:wrapcheck // decorator is transparent
}

func (s *JournaledService) InterpretFinal(ctx context.Context, req FinalRequest) (string, error) {
	start := s.now()
	final, err := s.next.InterpretFinal(ctx, req)
	s.record(ctx, EndpointInterpretFinal, start, err)
	return final, err //nolint:wrapcheck // decorator is transparent
}
