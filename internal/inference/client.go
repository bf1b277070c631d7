package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Art-Therapy-Chat/web-front/internal/errors"
	"github.com/Art-Therapy-Chat/web-front/internal/models"
)

var (
	ErrUnexpectedStatus = errors.NewSentinel("unexpected response status")
	ErrMalformedCaption = errors.NewSentinel("malformed caption")
)

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 8 << 20

// Client calls the inference services over HTTP. Every request is a JSON POST to baseURL/<endpoint>.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  *slog.Logger
}

// NewClient creates a client for the services at baseURL. timeout bounds every single request.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("source", "inference.Client")),
	}
}

func (c *Client) post(ctx context.Context, endpoint string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "marshal request", slog.String("endpoint", endpoint))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "create request", slog.String("endpoint", endpoint))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request", slog.String("endpoint", endpoint))
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			c.logger.LogAttrs(ctx, slog.LevelWarn, "could not close response body",
				errors.SlogError(errors.Wrap(err, "close body")))
		}
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return errors.Wrap(err, "read response", slog.String("endpoint", endpoint))
	}
	c.logger.LogAttrs(ctx, slog.LevelDebug, "inference response",
		slog.String("endpoint", endpoint),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Wrap(ErrUnexpectedStatus, "inference service failed",
			slog.String("endpoint", endpoint),
			slog.Int("status", resp.StatusCode),
			slog.String("body", truncate(string(respBody), 512))) //nolint:mnd // enough to see the error
	}

	if err = json.Unmarshal(respBody, out); err != nil {
		return errors.Wrap(err, "decode response", slog.String("endpoint", endpoint))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Caption requests a bilingual caption of image.
func (c *Client) Caption(ctx context.Context, image []byte) (Caption, error) {
	var out CaptionResponseBody
	in := CaptionRequestBody{ImageBase64: base64.StdEncoding.EncodeToString(image)}
	if err := c.post(ctx, EndpointCaption, in, &out); err != nil {
		return Caption{}, err
	}
	return ParseCaption(out.Caption)
}

// ParseCaption decodes the JSON-encoded caption pair returned by the caption service.
func ParseCaption(raw string) (Caption, error) {
	var caption Caption
	if err := json.Unmarshal([]byte(raw), &caption); err != nil {
		return Caption{}, errors.Wrap(ErrMalformedCaption, err.Error(), slog.String("caption", raw))
	}
	if caption.Primary == "" || caption.Secondary == "" {
		return Caption{}, errors.Wrap(ErrMalformedCaption, "missing locale", slog.String("caption", raw))
	}
	return caption, nil
}

// Retrieve looks up reference documents for a caption.
func (c *Client) Retrieve(ctx context.Context, caption string, imageType string) ([]Document, error) {
	var out RetrieveResponseBody
	in := RetrieveRequestBody{Caption: caption, ImageType: imageType}
	if err := c.post(ctx, EndpointRetrieve, in, &out); err != nil {
		return nil, err
	}
	return out.Documents, nil
}

// InterpretSingle interprets one sketch from its caption and the retrieved documents.
func (c *Client) InterpretSingle(ctx context.Context, req InterpretSingleRequest) (string, error) {
	var out InterpretSingleResponseBody
	docs := req.Documents
	if docs == nil {
		docs = []Document{}
	}
	in := InterpretSingleRequestBody{Caption: req.Caption, Documents: docs, ImageType: req.ImageType}
	if err := c.post(ctx, EndpointInterpretSingle, in, &out); err != nil {
		return "", err
	}
	return out.Interpretation, nil
}

// Translate translates text into Korean.
func (c *Client) Translate(ctx context.Context, text string) (string, error) {
	var out TranslateResponseBody
	if err := c.post(ctx, EndpointTranslate, TranslateRequestBody{Text: text}, &out); err != nil {
		return "", err
	}
	return out.Translated, nil
}

// Question generates the next question of the conversation.
func (c *Client) Question(ctx context.Context, req QuestionRequest) (string, error) {
	var out QuestionResponseBody
	in := QuestionRequestBody{Conversation: nonNilMessages(req.Conversation), Interpretations: req.Interpretations}
	if err := c.post(ctx, EndpointQuestions, in, &out); err != nil {
		return "", err
	}
	return out.Question, nil
}

// InterpretFinal synthesizes the final interpretation.
func (c *Client) InterpretFinal(ctx context.Context, req FinalRequest) (string, error) {
	var out FinalResponseBody
	results := req.Interpretations
	if results == nil {
		results = map[models.Category]string{}
	}
	in := FinalRequestBody{SingleResults: results, Conversation: nonNilMessages(req.Conversation)}
	if err := c.post(ctx, EndpointInterpretFinal, in, &out); err != nil {
		return "", err
	}
	return out.Final, nil
}

func nonNilMessages(messages []models.Message) []models.Message {
	if messages == nil {
		return []models.Message{}
	}
	return messages
}
