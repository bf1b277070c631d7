// Package gemini implements the inference operations on top of the Gemini API.
package gemini

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Art-Therapy-Chat/web-front/internal/errors"
	"github.com/Art-Therapy-Chat/web-front/internal/inference"
	"github.com/Art-Therapy-Chat/web-front/internal/prompt"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const DefaultModel = "gemini-1.5-flash"

var ErrEmptyResponse = errors.NewSentinel("response has no text")

type Config struct {
	APIKey string
	Model  string
	// Endpoint overrides the Gemini API endpoint.
	Endpoint string
}

// Client is an [inference.Service] backed by a Gemini model. Like the OpenAI backend it has no document store.
type Client struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewClient connects to the Gemini API. Extra options are applied after the ones derived from config.
func NewClient(ctx context.Context, config Config, logger *slog.Logger, opts ...option.ClientOption) (*Client, error) {
	var clientOpts []option.ClientOption
	if key := strings.TrimSpace(config.APIKey); key != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(key))
	}
	if config.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(config.Endpoint))
	}
	client, err := genai.NewClient(ctx, append(clientOpts, opts...)...)
	if err != nil {
		return nil, errors.Wrap(err, "new gemini client")
	}
	model := strings.TrimSpace(config.Model)
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		client: client,
		model:  model,
		logger: logger.With(slog.String("source", "gemini.Client")),
	}, nil
}

func (c *Client) Close() error {
	return errors.Wrap(c.client.Close(), "close gemini client")
}

func (c *Client) generate(ctx context.Context, system string, json bool, parts ...genai.Part) (string, error) {
	model := c.client.GenerativeModel(c.model)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	if json {
		model.ResponseMIMEType = "application/json"
	}
	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", errors.Wrap(err, "generate content", slog.String("model", c.model))
	}
	text := strings.TrimSpace(firstText(resp))
	if text == "" {
		return "", ErrEmptyResponse
	}
	if resp.UsageMetadata != nil {
		c.logger.LogAttrs(ctx, slog.LevelDebug, "generated content",
			slog.Int("prompt_tokens", int(resp.UsageMetadata.PromptTokenCount)),
			slog.Int("candidates_tokens", int(resp.UsageMetadata.CandidatesTokenCount)))
	}
	return text, nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func (c *Client) Caption(ctx context.Context, image []byte) (inference.Caption, error) {
	text, err := c.generate(ctx, prompt.Caption, true,
		genai.Text(prompt.CaptionRequest),
		genai.Blob{MIMEType: http.DetectContentType(image), Data: image},
	)
	if err != nil {
		return inference.Caption{}, errors.Wrap(err, "caption sketch")
	}
	caption, err := inference.ParseCaption(prompt.StripCodeFences(text))
	if err != nil {
		return inference.Caption{}, errors.Wrap(err, "parse caption")
	}
	return caption, nil
}

// Retrieve returns no documents.
func (c *Client) Retrieve(context.Context, string, string) ([]inference.Document, error) {
	return []inference.Document{}, nil
}

func (c *Client) InterpretSingle(ctx context.Context, req inference.InterpretSingleRequest) (string, error) {
	text, err := c.generate(ctx, prompt.Interpret, false, genai.Text(prompt.InterpretSingle(req)))
	if err != nil {
		return "", errors.Wrap(err, "interpret sketch", slog.String("image_type", req.ImageType))
	}
	return text, nil
}

func (c *Client) Translate(ctx context.Context, text string) (string, error) {
	translation, err := c.generate(ctx, prompt.Translate, false, genai.Text(text))
	if err != nil {
		return "", errors.Wrap(err, "translate")
	}
	return translation, nil
}

// Question sends the conversation as a transcript. Gemini chats must open with a user turn while the
// conversation opens with the assistant's question.
func (c *Client) Question(ctx context.Context, req inference.QuestionRequest) (string, error) {
	system := prompt.Question
	if len(req.Interpretations) > 0 {
		system += "\n\n" + prompt.Interpretations(req.Interpretations)
	}
	input := prompt.FirstQuestion
	if len(req.Conversation) > 0 {
		input = prompt.Transcript(req.Conversation) + "\n" + prompt.NextQuestion
	}
	text, err := c.generate(ctx, system, false, genai.Text(input))
	if err != nil {
		return "", errors.Wrap(err, "generate question")
	}
	return text, nil
}

func (c *Client) InterpretFinal(ctx context.Context, req inference.FinalRequest) (string, error) {
	input, err := prompt.FinalInput(req)
	if err != nil {
		return "", err
	}
	text, err := c.generate(ctx, prompt.Final, false, genai.Text(input))
	if err != nil {
		return "", errors.Wrap(err, "final synthesis")
	}
	return text, nil
}
