package inference_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Art-Therapy-Chat/web-front/internal/inference"
	"github.com/Art-Therapy-Chat/web-front/internal/inference/inferencetest"
	"github.com/Art-Therapy-Chat/web-front/internal/models"
	"github.com/Art-Therapy-Chat/web-front/internal/testhelpers"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, svc inference.Service) *inference.Client {
	t.Helper()
	server := inferencetest.NewServer(svc)
	t.Cleanup(server.Close)
	return inference.NewClient(server.URL+"/", 5*time.Second, testhelpers.NewLogger(io.Discard))
}

func TestClient_RoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := inferencetest.NewService()
	client := newClient(t, svc)

	caption, err := client.Caption(ctx, []byte("house"))
	require.NoError(t, err)
	require.Equal(t, inference.Caption{Primary: "house 그림", Secondary: "a drawing of house"}, caption)

	docs, err := client.Retrieve(ctx, caption.Primary, models.CategoryHouse.Label())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.JSONEq(t, `"document about house 그림"`, string(docs[0]))
	require.Equal(t, [][2]string{{"house 그림", "집"}}, svc.RetrieveRequests())

	interpretation, err := client.InterpretSingle(ctx, inference.InterpretSingleRequest{
		Caption:   caption.Secondary,
		Documents: docs,
		ImageType: "집",
	})
	require.NoError(t, err)
	require.Equal(t, "interpretation of a drawing of house", interpretation)

	translated, err := client.Translate(ctx, interpretation)
	require.NoError(t, err)
	require.Equal(t, "번역: interpretation of a drawing of house", translated)

	question, err := client.Question(ctx, inference.QuestionRequest{
		Interpretations: map[models.Category]string{models.CategoryHouse: translated},
	})
	require.NoError(t, err)
	require.Equal(t, "question 1", question)

	final, err := client.InterpretFinal(ctx, inference.FinalRequest{
		Interpretations: map[models.Category]string{models.CategoryHouse: translated},
		Conversation:    []models.Message{{Role: models.RoleUser, Content: "1"}},
	})
	require.NoError(t, err)
	require.Equal(t, "final interpretation", final)

	require.Equal(t, []string{
		inference.EndpointCaption,
		inference.EndpointRetrieve,
		inference.EndpointInterpretSingle,
		inference.EndpointTranslate,
		inference.EndpointQuestions,
		inference.EndpointInterpretFinal,
	}, svc.Calls())
}

func TestClient_WireFormat(t *testing.T) {
	ctx := context.Background()
	var (
		mu     sync.Mutex
		bodies = map[string]string{}
	)
	body := func(path string) string {
		mu.Lock()
		defer mu.Unlock()
		return bodies[path]
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies[r.Method+" "+r.Header.Get("Content-Type")+" "+r.URL.Path] = string(raw)
		bodies[r.URL.Path] = string(raw)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/caption":
			_, _ = w.Write([]byte(`{"caption": "{\"ko\":\"집 그림\",\"en\":\"a house drawing\"}"}`))
		case "/interpret_single":
			_, _ = w.Write([]byte(`{"interpretation": "warm"}`))
		case "/questions":
			_, _ = w.Write([]byte(`{"question": "why?"}`))
		case "/interpret_final":
			_, _ = w.Write([]byte(`{"final": "done"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	client := inference.NewClient(server.URL, time.Second, testhelpers.NewLogger(io.Discard))

	caption, err := client.Caption(ctx, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, inference.Caption{Primary: "집 그림", Secondary: "a house drawing"}, caption)
	require.JSONEq(t, `{"image_base64": "aGVsbG8="}`, body("/caption"))
	require.NotEmpty(t, body("POST application/json /caption"), "captions are JSON POSTs")

	_, err = client.InterpretSingle(ctx, inference.InterpretSingleRequest{Caption: "a house drawing", ImageType: "집"})
	require.NoError(t, err)
	require.JSONEq(t, `{"caption": "a house drawing", "rag_docs": [], "image_type": "집"}`, body("/interpret_single"))

	_, err = client.Question(ctx, inference.QuestionRequest{})
	require.NoError(t, err)
	require.JSONEq(t, `{"conversation": []}`, body("/questions"))

	_, err = client.Question(ctx, inference.QuestionRequest{
		Interpretations: map[models.Category]string{models.CategoryTree: "tall"},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"conversation": [], "interpretations": {"tree": "tall"}}`, body("/questions"))

	_, err = client.InterpretFinal(ctx, inference.FinalRequest{
		Interpretations: map[models.Category]string{models.CategoryPerson: "calm"},
		Conversation:    []models.Message{{Role: models.RoleAssistant, Content: "q"}, {Role: models.RoleUser, Content: "a"}},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{
		"single_results": {"person": "calm"},
		"conversation": [{"role": "assistant", "content": "q"}, {"role": "user", "content": "a"}]
	}`, body("/interpret_final"))

	_, err = client.Translate(ctx, "text")
	require.ErrorIs(t, err, inference.ErrUnexpectedStatus)
}

func TestClient_Failures(t *testing.T) {
	ctx := context.Background()
	svc := inferencetest.NewService()
	svc.TranslateFunc = func(_ context.Context, _ string) (string, error) {
		return "", inferencetest.ErrScripted
	}
	svc.CaptionFunc = func(_ context.Context, _ []byte) (inference.Caption, error) {
		return inference.Caption{Primary: "only korean"}, nil
	}
	client := newClient(t, svc)

	_, err := client.Translate(ctx, "text")
	require.ErrorIs(t, err, inference.ErrUnexpectedStatus)

	_, err = client.Caption(ctx, []byte("house"))
	require.ErrorIs(t, err, inference.ErrMalformedCaption)
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})
	client := inference.NewClient(server.URL, 50*time.Millisecond, testhelpers.NewLogger(io.Discard))
	_, err := client.Translate(context.Background(), "text")
	require.Error(t, err)
}

func TestParseCaption(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    inference.Caption
		wantErr bool
	}{
		{name: "both locales", raw: `{"ko":"나무","en":"a tree"}`, want: inference.Caption{Primary: "나무", Secondary: "a tree"}},
		{name: "extra fields", raw: `{"ko":"나무","en":"a tree","confidence":0.9}`, want: inference.Caption{Primary: "나무", Secondary: "a tree"}},
		{name: "missing english", raw: `{"ko":"나무"}`, wantErr: true},
		{name: "not json", raw: `a tree`, wantErr: true},
		{name: "empty", raw: ``, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := inference.ParseCaption(tt.raw)
			if tt.wantErr {
				require.ErrorIs(t, err, inference.ErrMalformedCaption)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

type recorderFunc func(ctx context.Context, call inference.Call) error

func (f recorderFunc) RecordCall(ctx context.Context, call inference.Call) error {
	return f(ctx, call)
}

func TestJournaled(t *testing.T) {
	ctx := context.Background()
	svc := inferencetest.NewService()
	svc.InterpretFinalFunc = func(_ context.Context, _ inference.FinalRequest) (string, error) {
		return "", inferencetest.ErrScripted
	}
	var calls []inference.Call
	journaled := inference.Journaled(svc, recorderFunc(func(_ context.Context, call inference.Call) error {
		calls = append(calls, call)
		return nil
	}), testhelpers.NewLogger(io.Discard))

	_, err := journaled.Translate(ctx, "hello")
	require.NoError(t, err)
	_, err = journaled.InterpretFinal(ctx, inference.FinalRequest{})
	require.ErrorIs(t, err, inferencetest.ErrScripted)

	require.Len(t, calls, 2)
	require.Equal(t, inference.EndpointTranslate, calls[0].Endpoint)
	require.Empty(t, calls[0].Error)
	require.Equal(t, inference.EndpointInterpretFinal, calls[1].Endpoint)
	require.Equal(t, inferencetest.ErrScripted.Error(), calls[1].Error)

	// Recording failures do not leak into the result.
	failing := inference.Journaled(svc, recorderFunc(func(_ context.Context, _ inference.Call) error {
		return inferencetest.ErrScripted
	}), testhelpers.NewLogger(io.Discard))
	translated, err := failing.Translate(ctx, "hello")
	require.NoError(t, err)
	require.Equal(t, "번역: hello", translated)
}

func TestDocumentsPassThrough(t *testing.T) {
	ctx := context.Background()
	svc := inferencetest.NewService()
	svc.RetrieveFunc = func(_ context.Context, _, _ string) ([]inference.Document, error) {
		return []inference.Document{json.RawMessage(`{"title":"roof","score":0.8}`)}, nil
	}
	client := newClient(t, svc)

	docs, err := client.Retrieve(ctx, "집 그림", "집")
	require.NoError(t, err)
	_, err = client.InterpretSingle(ctx, inference.InterpretSingleRequest{Caption: "house", Documents: docs, ImageType: "집"})
	require.NoError(t, err)

	requests := svc.InterpretSingleRequests()
	require.Len(t, requests, 1)
	require.Len(t, requests[0].Documents, 1)
	require.JSONEq(t, `{"title":"roof","score":0.8}`, string(requests[0].Documents[0]))
}
