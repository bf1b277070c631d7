// Package inference describes the remote services the interpretation engine depends on and provides an
// HTTP client for them.
package inference

import (
	"context"
	"encoding/json"

	"github.com/Art-Therapy-Chat/web-front/internal/models"
)

// Endpoint names double as URL paths of the HTTP services.
const (
	EndpointCaption         = "caption"
	EndpointRetrieve        = "rag"
	EndpointInterpretSingle = "interpret_single"
	EndpointTranslate       = "translate"
	EndpointQuestions       = "questions"
	EndpointInterpretFinal  = "interpret_final"
)

// Caption is the bilingual description of a sketch.
type Caption struct {
	// Primary is the Korean caption shown to the user and used for retrieval.
	Primary string `json:"ko"`
	// Secondary is the English caption used for interpretation.
	Secondary string `json:"en"`
}

// Document is a retrieved reference document. It is passed through to the interpretation service untouched.
type Document = json.RawMessage

// InterpretSingleRequest asks for the interpretation of one sketch.
type InterpretSingleRequest struct {
	Caption   string
	Documents []Document
	ImageType string
}

// QuestionRequest asks for the next question of the conversation.
type QuestionRequest struct {
	Conversation []models.Message
	// Interpretations seed the very first question only.
	Interpretations map[models.Category]string
}

// FinalRequest asks for the synthesis of all interpretations and the conversation.
type FinalRequest struct {
	Interpretations map[models.Category]string
	Conversation    []models.Message
}

// Service is the set of inference operations the engine calls. Every method is a blocking remote call.
type Service interface {
	Caption(ctx context.Context, image []byte) (Caption, error)
	Retrieve(ctx context.Context, caption string, imageType string) ([]Document, error)
	InterpretSingle(ctx context.Context, req InterpretSingleRequest) (string, error)
	Translate(ctx context.Context, text string) (string, error)
	Question(ctx context.Context, req QuestionRequest) (string, error)
	InterpretFinal(ctx context.Context, req FinalRequest) (string, error)
}
