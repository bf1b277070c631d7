package inference

import (
	"github.com/Art-Therapy-Chat/web-front/internal/models"
)

// JSON bodies exchanged with the HTTP services.

type CaptionRequestBody struct {
	ImageBase64 string `json:"image_base64"`
}

type CaptionResponseBody struct {
	// Caption is itself a JSON document encoding a [Caption].
	Caption string `json:"caption"`
}

type RetrieveRequestBody struct {
	Caption   string `json:"caption"`
	ImageType string `json:"image_type"`
}

type RetrieveResponseBody struct {
	Documents []Document `json:"rag_docs"`
}

type InterpretSingleRequestBody struct {
	Caption   string     `json:"caption"`
	Documents []Document `json:"rag_docs"`
	ImageType string     `json:"image_type"`
}

type InterpretSingleResponseBody struct {
	Interpretation string `json:"interpretation"`
}

type TranslateRequestBody struct {
	Text string `json:"text"`
}

type TranslateResponseBody struct {
	Translated string `json:"translated"`
}

type QuestionRequestBody struct {
	Conversation    []models.Message           `json:"conversation"`
	Interpretations map[models.Category]string `json:"interpretations,omitempty"`
}

type QuestionResponseBody struct {
	Question string `json:"question"`
}

type FinalRequestBody struct {
	SingleResults map[models.Category]string `json:"single_results"`
	Conversation  []models.Message           `json:"conversation"`
}

type FinalResponseBody struct {
	Final string `json:"final"`
}
