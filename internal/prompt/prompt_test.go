package prompt_test

import (
	"encoding/json"
	"testing"

	"github.com/Art-Therapy-Chat/web-front/internal/inference"
	"github.com/Art-Therapy-Chat/web-front/internal/models"
	"github.com/Art-Therapy-Chat/web-front/internal/prompt"
	"github.com/stretchr/testify/require"
)

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: ` {"ko":"집"} `, want: `{"ko":"집"}`},
		{name: "json fence", in: "```json\n{\"ko\":\"집\"}\n```", want: `{"ko":"집"}`},
		{name: "bare fence", in: "```\n{}\n```\n", want: `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, prompt.StripCodeFences(tt.in))
		})
	}
}

func TestInterpretations_CategoryOrder(t *testing.T) {
	got := prompt.Interpretations(map[models.Category]string{
		models.CategoryPerson: "p",
		models.CategoryHouse:  "h",
	})
	require.Equal(t, "Interpretations of the drawings:\n- House: h\n- Person: p\n", got)
}

func TestInterpretSingle(t *testing.T) {
	got := prompt.InterpretSingle(inference.InterpretSingleRequest{
		Caption:   "a small house",
		ImageType: "집",
		Documents: []inference.Document{json.RawMessage(`"doors"`)},
	})
	require.Equal(t, "Subject: 집\nDrawing: a small house\nReference 1: \"doors\"\n", got)
}

func TestTranscript(t *testing.T) {
	got := prompt.Transcript([]models.Message{
		{Role: models.RoleAssistant, Content: "Who lives here?"},
		{Role: models.RoleUser, Content: "My family."},
	})
	require.Equal(t, "Therapist: Who lives here?\nPerson: My family.\n", got)
}

func TestFinalInput(t *testing.T) {
	got, err := prompt.FinalInput(inference.FinalRequest{
		Interpretations: map[models.Category]string{models.CategoryTree: "t"},
		Conversation:    []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t,
		"Interpretations of the drawings:\n- Tree: t\n\nConversation:\n[{\"role\":\"user\",\"content\":\"hi\"}]", got)
}
