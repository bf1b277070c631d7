package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Art-Therapy-Chat/web-front/internal/gemini"
	"github.com/Art-Therapy-Chat/web-front/internal/inference"
	"github.com/Art-Therapy-Chat/web-front/internal/models"
	"github.com/Art-Therapy-Chat/web-front/internal/testhelpers"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type part struct {
	Text       string `json:"text"`
	InlineData *struct {
		MIMEType string `json:"mimeType"`
		Data     string `json:"data"`
	} `json:"inlineData"`
}

type generateRequest struct {
	Contents []struct {
		Role  string `json:"role"`
		Parts []part `json:"parts"`
	} `json:"contents"`
	SystemInstruction struct {
		Parts []part `json:"parts"`
	} `json:"systemInstruction"`
	GenerationConfig struct {
		ResponseMIMEType string `json:"responseMimeType"`
	} `json:"generationConfig"`
}

// fakeGemini answers generateContent calls with the scripted texts in order and records the requests.
type fakeGemini struct {
	mu       sync.Mutex
	replies  []string
	requests []generateRequest
	paths    []string
}

func (f *fakeGemini) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req generateRequest
	if err = json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.paths = append(f.paths, r.URL.Path)
	reply := ""
	if len(f.replies) > 0 {
		reply, f.replies = f.replies[0], f.replies[1:]
	}
	f.mu.Unlock()

	text, _ := json.Marshal(reply)
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":%s}]},"finishReason":"STOP"}],`+
		`"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":5}}`, text)
}

func newClient(t *testing.T, replies ...string) (*gemini.Client, *fakeGemini) {
	t.Helper()
	fake := &fakeGemini{replies: replies}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	client, err := gemini.NewClient(context.Background(), gemini.Config{Endpoint: server.URL},
		testhelpers.NewLogger(io.Discard), option.WithHTTPClient(server.Client()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, fake
}

func TestClient_Caption(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    inference.Caption
		wantErr error
	}{
		{
			name:  "plain",
			reply: `{"ko": "작은 집", "en": "a small house"}`,
			want:  inference.Caption{Primary: "작은 집", Secondary: "a small house"},
		},
		{
			name:  "fenced",
			reply: "```json\n{\"ko\": \"큰 나무\", \"en\": \"a big tree\"}\n```",
			want:  inference.Caption{Primary: "큰 나무", Secondary: "a big tree"},
		},
		{
			name:    "missing english",
			reply:   `{"ko": "집"}`,
			wantErr: inference.ErrMalformedCaption,
		},
		{
			name:    "empty",
			reply:   "",
			wantErr: gemini.ErrEmptyResponse,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, fake := newClient(t, tt.reply)
			image := []byte("\x89PNG\r\n\x1a\nrest")
			caption, err := client.Caption(context.Background(), image)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, caption)

			require.Len(t, fake.requests, 1)
			require.True(t, strings.HasSuffix(fake.paths[0], "/models/"+gemini.DefaultModel+":generateContent"))
			req := fake.requests[0]
			require.Equal(t, "application/json", req.GenerationConfig.ResponseMIMEType)
			require.Len(t, req.Contents, 1)
			require.Len(t, req.Contents[0].Parts, 2)
			inline := req.Contents[0].Parts[1].InlineData
			require.NotNil(t, inline)
			require.Equal(t, "image/png", inline.MIMEType)
			require.Equal(t, base64.StdEncoding.EncodeToString(image), inline.Data)
		})
	}
}

func TestClient_Question(t *testing.T) {
	interpretations := map[models.Category]string{models.CategoryHouse: "a warm house"}

	t.Run("first question", func(t *testing.T) {
		client, fake := newClient(t, "What is inside the house?")
		question, err := client.Question(context.Background(), inference.QuestionRequest{
			Conversation:    []models.Message{},
			Interpretations: interpretations,
		})
		require.NoError(t, err)
		require.Equal(t, "What is inside the house?", question)
		req := fake.requests[0]
		require.Contains(t, req.SystemInstruction.Parts[0].Text, "- House: a warm house")
		require.Equal(t, "Please ask your first question.", req.Contents[0].Parts[0].Text)
		require.Empty(t, req.GenerationConfig.ResponseMIMEType)
	})

	t.Run("next question", func(t *testing.T) {
		client, fake := newClient(t, "Who lives there?")
		_, err := client.Question(context.Background(), inference.QuestionRequest{
			Conversation: []models.Message{
				{Role: models.RoleAssistant, Content: "What is inside the house?"},
				{Role: models.RoleUser, Content: "A fireplace."},
			},
		})
		require.NoError(t, err)
		req := fake.requests[0]
		require.NotContains(t, req.SystemInstruction.Parts[0].Text, "Interpretations of the drawings")
		require.Equal(t,
			"Therapist: What is inside the house?\nPerson: A fireplace.\n\nAsk your next question.",
			req.Contents[0].Parts[0].Text)
	})
}

func TestClient_TextOperations(t *testing.T) {
	ctx := context.Background()
	client, fake := newClient(t, "interpretation", " 번역 ", "final")

	interpretation, err := client.InterpretSingle(ctx, inference.InterpretSingleRequest{
		Caption:   "a small house",
		ImageType: models.CategoryHouse.Label(),
	})
	require.NoError(t, err)
	require.Equal(t, "interpretation", interpretation)

	translation, err := client.Translate(ctx, "hello")
	require.NoError(t, err)
	require.Equal(t, "번역", translation)

	final, err := client.InterpretFinal(ctx, inference.FinalRequest{
		Interpretations: map[models.Category]string{models.CategoryTree: "a strong tree"},
		Conversation:    []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "final", final)
	require.Contains(t, fake.requests[2].Contents[0].Parts[0].Text, "- Tree: a strong tree")

	documents, err := client.Retrieve(ctx, "caption", "집")
	require.NoError(t, err)
	require.Empty(t, documents)
	require.Len(t, fake.requests, 3)
}
