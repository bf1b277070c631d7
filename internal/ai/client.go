// Package ai implements the inference operations on top of the OpenAI chat completion API.
package ai

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Art-Therapy-Chat/web-front/internal/artifact"
	"github.com/Art-Therapy-Chat/web-front/internal/errors"
	"github.com/Art-Therapy-Chat/web-front/internal/inference"
	"github.com/Art-Therapy-Chat/web-front/internal/models"
	"github.com/Art-Therapy-Chat/web-front/internal/prompt"
	"github.com/sashabaranov/go-openai"
)

const MaxTokens = 2048

var ErrEmptyCompletion = errors.NewSentinel("completion has no content")

type Config struct {
	APIKey string
	Model  string
	// BaseURL overrides the OpenAI API endpoint, e.g. for compatible gateways.
	BaseURL string
}

// Client is an [inference.Service] backed by an OpenAI model. It has no document store, so retrieval always
// returns no documents.
type Client struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

func NewClient(config Config, logger *slog.Logger) *Client {
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	model := config.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Client{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
		logger: logger.With(slog.String("source", "ai.Client")),
	}
}

func (c *Client) complete(
	ctx context.Context,
	messages []openai.ChatCompletionMessage,
	format *openai.ChatCompletionResponseFormat,
) (string, error) {
	completion, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{ //nolint:exhaustruct // this is better for readability
			Model:          c.model,
			MaxTokens:      MaxTokens,
			Messages:       messages,
			ResponseFormat: format,
		},
	)
	if err != nil {
		return "", errors.Wrap(err, "create chat completion", slog.String("model", c.model))
	}
	if len(completion.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyCompletion
	}
	c.logger.LogAttrs(ctx, slog.LevelDebug, "chat completion",
		slog.Int("prompt_tokens", completion.Usage.PromptTokens),
		slog.Int("completion_tokens", completion.Usage.CompletionTokens))
	return content, nil
}

func system(content string) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: content}
}

func user(content string) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: content}
}

func (c *Client) Caption(ctx context.Context, image []byte) (inference.Caption, error) {
	dataURL := artifact.EncodeDataURL(http.DetectContentType(image), image)
	messages := []openai.ChatCompletionMessage{
		system(prompt.Caption),
		{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt.CaptionRequest},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    dataURL,
						Detail: openai.ImageURLDetailLow,
					},
				},
			},
		},
	}
	content, err := c.complete(ctx, messages, &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	})
	if err != nil {
		return inference.Caption{}, errors.Wrap(err, "caption sketch")
	}
	caption, err := inference.ParseCaption(prompt.StripCodeFences(content))
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
	content, err := c.complete(ctx, []openai.ChatCompletionMessage{
		system(prompt.Interpret),
		user(prompt.InterpretSingle(req)),
	}, nil)
	if err != nil {
		return "", errors.Wrap(err, "interpret sketch", slog.String("image_type", req.ImageType))
	}
	return content, nil
}

func (c *Client) Translate(ctx context.Context, text string) (string, error) {
	content, err := c.complete(ctx, []openai.ChatCompletionMessage{system(prompt.Translate), user(text)}, nil)
	if err != nil {
		return "", errors.Wrap(err, "translate")
	}
	return content, nil
}

func (c *Client) Question(ctx context.Context, req inference.QuestionRequest) (string, error) {
	messages := []openai.ChatCompletionMessage{system(prompt.Question)}
	if len(req.Interpretations) > 0 {
		messages = append(messages, system(prompt.Interpretations(req.Interpretations)))
	}
	messages = append(messages, conversationMessages(req.Conversation)...)
	if len(req.Conversation) == 0 {
		messages = append(messages, user(prompt.FirstQuestion))
	}
	content, err := c.complete(ctx, messages, nil)
	if err != nil {
		return "", errors.Wrap(err, "generate question")
	}
	return content, nil
}

func (c *Client) InterpretFinal(ctx context.Context, req inference.FinalRequest) (string, error) {
	input, err := prompt.FinalInput(req)
	if err != nil {
		return "", err
	}
	content, err := c.complete(ctx, []openai.ChatCompletionMessage{system(prompt.Final), user(input)}, nil)
	if err != nil {
		return "", errors.Wrap(err, "final synthesis")
	}
	return content, nil
}

func conversationMessages(conversation []models.Message) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(conversation))
	for _, msg := range conversation {
		role := openai.ChatMessageRoleUser
		if msg.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	return messages
}
