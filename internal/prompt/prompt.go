// Package prompt holds the instructions the model backed inference services share.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Art-Therapy-Chat/web-front/internal/errors"
	"github.com/Art-Therapy-Chat/web-front/internal/inference"
	"github.com/Art-Therapy-Chat/web-front/internal/models"
)

const Caption = `You describe hand-drawn sketches of a house-tree-person drawing test.
Describe what is drawn: objects, their size, placement, proportions, line quality and notable omissions.
Do not interpret. Answer with a JSON object {"ko": "<description in Korean>", "en": "<description in English>"}.`

// CaptionRequest accompanies the image of a caption request.
const CaptionRequest = "Describe this drawing."

const Interpret = `You are an art therapist experienced with the house-tree-person test.
Interpret the drawing described by the user for the given subject. Use the reference documents when relevant.
Answer in English with a short paragraph. Do not diagnose.`

const Translate = `Translate the user's text to natural Korean. Answer with the translation only.`

const Question = `You are an art therapist talking with the person who made a house-tree-person drawing.
Ask exactly one short, open question in English that helps to understand the drawings and the person better.
Do not repeat earlier questions. Answer with the question only.`

// FirstQuestion asks for the opening question of an empty conversation.
const FirstQuestion = "Please ask your first question."

// NextQuestion asks for a question after a transcript.
const NextQuestion = "Ask your next question."

const Final = `You are an art therapist. Write the final interpretation of a house-tree-person drawing test in
Korean. Combine the per-drawing interpretations with what the person said in the conversation. Be supportive
and do not diagnose.`

// InterpretSingle is the user input of an interpretation request.
func InterpretSingle(req inference.InterpretSingleRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\nDrawing: %s\n", req.ImageType, req.Caption)
	for i, doc := range req.Documents {
		fmt.Fprintf(&b, "Reference %d: %s\n", i+1, string(doc))
	}
	return b.String()
}

// Interpretations lists the interpretations in category order.
func Interpretations(interpretations map[models.Category]string) string {
	var b strings.Builder
	b.WriteString("Interpretations of the drawings:\n")
	for _, c := range models.Categories {
		if interpretation, ok := interpretations[c]; ok {
			fmt.Fprintf(&b, "- %s: %s\n", c.DisplayName(), interpretation)
		}
	}
	return b.String()
}

// Transcript renders the conversation as text for models without a chat history.
func Transcript(conversation []models.Message) string {
	var b strings.Builder
	for _, m := range conversation {
		speaker := "Person"
		if m.Role == models.RoleAssistant {
			speaker = "Therapist"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, m.Content)
	}
	return b.String()
}

// FinalInput is the user input of a final synthesis request.
func FinalInput(req inference.FinalRequest) (string, error) {
	conversation, err := json.Marshal(req.Conversation)
	if err != nil {
		return "", errors.Wrap(err, "marshal conversation")
	}
	return Interpretations(req.Interpretations) + "\nConversation:\n" + string(conversation), nil
}

// StripCodeFences removes a Markdown code fence some models wrap JSON answers in.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if newline := strings.IndexByte(s, '\n'); newline >= 0 {
		s = s[newline+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
