// Package inferencetest provides a scripted inference service for tests, both in-process and over HTTP.
package inferencetest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/Art-Therapy-Chat/web-front/internal/errors"
	"github.com/Art-Therapy-Chat/web-front/internal/inference"
)

// ErrScripted is returned by scripted failures.
var ErrScripted = errors.NewSentinel("scripted inference failure")

// Service is an in-memory [inference.Service] with deterministic default answers. Override the *Func fields
// before use to script other behaviour. All calls are recorded.
type Service struct {
	CaptionFunc         func(ctx context.Context, image []byte) (inference.Caption, error)
	RetrieveFunc        func(ctx context.Context, caption, imageType string) ([]inference.Document, error)
	InterpretSingleFunc func(ctx context.Context, req inference.InterpretSingleRequest) (string, error)
	TranslateFunc       func(ctx context.Context, text string) (string, error)
	QuestionFunc        func(ctx context.Context, req inference.QuestionRequest) (string, error)
	InterpretFinalFunc  func(ctx context.Context, req inference.FinalRequest) (string, error)

	mu                      sync.Mutex
	calls                   []string
	retrieveRequests        [][2]string
	interpretSingleRequests []inference.InterpretSingleRequest
	questionRequests        []inference.QuestionRequest
	finalRequests           []inference.FinalRequest
}

func NewService() *Service {
	return &Service{}
}

func (s *Service) record(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, endpoint)
	n := 0
	for _, c := range s.calls {
		if c == endpoint {
			n++
		}
	}
	return n
}

// Calls returns the endpoints called so far in call order.
func (s *Service) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.calls...)
}

// CallCount returns how many times endpoint was called.
func (s *Service) CallCount(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == endpoint {
			n++
		}
	}
	return n
}

// RetrieveRequests returns the (caption, image type) pairs passed to Retrieve.
func (s *Service) RetrieveRequests() [][2]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][2]string{}, s.retrieveRequests...)
}

// InterpretSingleRequests returns the requests passed to InterpretSingle.
func (s *Service) InterpretSingleRequests() []inference.InterpretSingleRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]inference.InterpretSingleRequest{}, s.interpretSingleRequests...)
}

// QuestionRequests returns the requests passed to Question.
func (s *Service) QuestionRequests() []inference.QuestionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]inference.QuestionRequest{}, s.questionRequests...)
}

// FinalRequests returns the requests passed to InterpretFinal.
func (s *Service) FinalRequests() []inference.FinalRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]inference.FinalRequest{}, s.finalRequests...)
}

func (s *Service) Caption(ctx context.Context, image []byte) (inference.Caption, error) {
	s.record(inference.EndpointCaption)
	if s.CaptionFunc != nil {
		return s.CaptionFunc(ctx, image)
	}
	return inference.Caption{
		Primary:   string(image) + " 그림",
		Secondary: "a drawing of " + string(image),
	}, nil
}

func (s *Service) Retrieve(ctx context.Context, caption, imageType string) ([]inference.Document, error) {
	s.record(inference.EndpointRetrieve)
	s.mu.Lock()
	s.retrieveRequests = append(s.retrieveRequests, [2]string{caption, imageType})
	s.mu.Unlock()
	if s.RetrieveFunc != nil {
		return s.RetrieveFunc(ctx, caption, imageType)
	}
	return []inference.Document{json.RawMessage(strconv.Quote("document about " + caption))}, nil
}

func (s *Service) InterpretSingle(ctx context.Context, req inference.InterpretSingleRequest) (string, error) {
	s.record(inference.EndpointInterpretSingle)
	s.mu.Lock()
	s.interpretSingleRequests = append(s.interpretSingleRequests, req)
	s.mu.Unlock()
	if s.InterpretSingleFunc != nil {
		return s.InterpretSingleFunc(ctx, req)
	}
	return "interpretation of " + req.Caption, nil
}

func (s *Service) Translate(ctx context.Context, text string) (string, error) {
	s.record(inference.EndpointTranslate)
	if s.TranslateFunc != nil {
		return s.TranslateFunc(ctx, text)
	}
	return "번역: " + text, nil
}

func (s *Service) Question(ctx context.Context, req inference.QuestionRequest) (string, error) {
	n := s.record(inference.EndpointQuestions)
	s.mu.Lock()
	s.questionRequests = append(s.questionRequests, req)
	s.mu.Unlock()
	if s.QuestionFunc != nil {
		return s.QuestionFunc(ctx, req)
	}
	return fmt.Sprintf("question %d", n), nil
}

func (s *Service) InterpretFinal(ctx context.Context, req inference.FinalRequest) (string, error) {
	s.record(inference.EndpointInterpretFinal)
	s.mu.Lock()
	s.finalRequests = append(s.finalRequests, req)
	s.mu.Unlock()
	if s.InterpretFinalFunc != nil {
		return s.InterpretFinalFunc(ctx, req)
	}
	return "final interpretation", nil
}
