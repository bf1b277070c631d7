package models

// Role tells who authored a message.
type Role string

const (
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// Message is a single entry of the conversation log. The JSON shape is the one the
// question and final synthesis services expect.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Phase is the stage of an interpretation session. It is derived from the session state.
type Phase string

const (
	// PhaseCollecting waits for sketches and for the pipeline to be started.
	PhaseCollecting Phase = "collecting"
	// PhaseInterpreting has per-category interpretations and waits for the first question.
	PhaseInterpreting Phase = "interpreting"
	// PhaseQALoop accepts answers until the answer limit is reached.
	PhaseQALoop Phase = "qa_loop"
	// PhaseFinalizing has all answers but no final interpretation yet.
	PhaseFinalizing Phase = "finalizing"
	// PhaseComplete has a final interpretation.
	PhaseComplete Phase = "complete"
)

// Snapshot is a read-only copy of a session for presentation.
type Snapshot struct {
	ID                  string              `json:"id"`
	Phase               Phase               `json:"phase"`
	Busy                bool                `json:"busy"`
	Artifacts           []Category          `json:"artifacts"`
	Captions            map[Category]string `json:"captions"`
	Interpretations     map[Category]string `json:"interpretations"`
	Conversation        []Message           `json:"conversation"`
	AnswerCount         int                 `json:"answer_count"`
	MaxAnswers          int                 `json:"max_answers"`
	FinalInterpretation string              `json:"final_interpretation"`
}

// HasArtifact reports whether the snapshot holds a sketch for c.
func (s Snapshot) HasArtifact(c Category) bool {
	for _, a := range s.Artifacts {
		if a == c {
			return true
		}
	}
	return false
}

// Progress is sent while an interpretation runs, once per finished sketch.
type Progress struct {
	Category Category `json:"category"`
	Failed   bool     `json:"failed"`
	// Done counts the finished sketches out of Total.
	Done  int `json:"done"`
	Total int `json:"total"`
}
