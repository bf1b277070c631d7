// Package interpret runs an interpretation session in the terminal.
package interpret

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Art-Therapy-Chat/web-front/internal/backend"
	"github.com/Art-Therapy-Chat/web-front/internal/errors"
	"github.com/Art-Therapy-Chat/web-front/internal/logging"
	"github.com/Art-Therapy-Chat/web-front/internal/models"
	"github.com/Art-Therapy-Chat/web-front/internal/pipeline"
	"github.com/Art-Therapy-Chat/web-front/internal/session"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var Group = &cobra.Group{
	ID:    "interpret",
	Title: "Interpretation",
}

type options struct {
	sketches     map[models.Category]*string
	backend      string
	url          string
	model        string
	maxAnswers   int
	timeout      time.Duration
	finalRetries int
	verbose      bool
	transcript   string
}

// NewCommand returns the interpret command. Answers are read line by line from stdin.
func NewCommand() *cobra.Command {
	opts := options{sketches: map[models.Category]*string{}}
	cmd := &cobra.Command{
		Use:     "interpret",
		GroupID: "interpret",
		Short:   "Interpret sketches and answer the follow-up questions",
		Long: `Interprets the given house, tree and person sketches, then asks follow-up questions and reads one ` +
			`answer per line from stdin until the final interpretation is ready`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}
	for _, c := range models.Categories {
		opts.sketches[c] = cmd.Flags().String(string(c), "", fmt.Sprintf("path to the %s sketch", c))
	}
	cmd.Flags().StringVar(&opts.backend, "backend", backend.HTTP, `inference backend, "http", "openai" or "gemini"`)
	cmd.Flags().StringVar(&opts.url, "url", "http://localhost:8000", "base URL of the inference services")
	cmd.Flags().StringVar(&opts.model, "model", "", "OpenAI or Gemini model, defaults to the client default")
	cmd.Flags().IntVar(&opts.maxAnswers, "max-answers", session.DefaultMaxAnswers, "answers before the final interpretation")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "timeout of a single inference call")
	cmd.Flags().IntVar(&opts.finalRetries, "final-retries", 1, "retries of a failed final interpretation")
	cmd.Flags().StringVar(&opts.transcript, "transcript", "", "write the session to this YAML file at the end")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log inference calls to stderr")
	return cmd
}

func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, opts options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(logging.NewContextHandler(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))

	service, release, err := backend.New(ctx, backend.Config{
		Name:         opts.backend,
		URL:          opts.url,
		Timeout:      opts.timeout,
		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:  opts.model,
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GeminiModel:  opts.model,
	}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = release() }()
	s := session.New("cli", service, pipeline.NewOrchestrator(service, opts.timeout, logger), opts.maxAnswers,
		opts.timeout, logger)

	for _, c := range models.Categories {
		path := *opts.sketches[c]
		if path == "" {
			continue
		}
		var image []byte
		if image, err = os.ReadFile(path); err != nil {
			return errors.Wrap(err, "read sketch", slog.String("path", path))
		}
		s.SetArtifact(c, image)
	}

	if err = s.RunInterpretation(ctx); err != nil {
		return errors.Wrap(err, "run interpretation")
	}
	snapshot := s.Snapshot()
	printInterpretations(stdout, snapshot)
	p := printer{w: stdout}
	p.flush(snapshot)

	err = converse(ctx, s, stdin, stdout, &p, opts.finalRetries)
	if opts.transcript != "" {
		if writeErr := writeTranscript(opts.transcript, s.Snapshot()); writeErr != nil {
			return errors.Join(err, writeErr)
		}
	}
	return err
}

// converse reads answers until the final interpretation is ready or stdin ends.
func converse(ctx context.Context, s *session.Session, stdin io.Reader, stdout io.Writer, p *printer, retries int) error {
	answers := bufio.NewScanner(stdin)
	for {
		switch s.Phase() {
		case models.PhaseComplete:
			_, _ = fmt.Fprintf(stdout, "\n== 최종 종합 해석 ==\n%s\n", s.Snapshot().FinalInterpretation)
			return nil
		case models.PhaseFinalizing:
			if retries <= 0 {
				return errors.New("final interpretation failed")
			}
			retries--
			if err := s.RetryFinalSynthesis(ctx); err != nil {
				return errors.Wrap(err, "retry final interpretation")
			}
		default:
			_, _ = fmt.Fprint(stdout, "> ")
			if !answers.Scan() {
				if err := answers.Err(); err != nil {
					return errors.Wrap(err, "read answer")
				}
				_, _ = fmt.Fprintln(stdout)
				return nil
			}
			err := s.SubmitAnswer(ctx, answers.Text())
			if errors.Is(err, session.ErrEmptyAnswer) {
				continue
			}
			if err != nil {
				return errors.Wrap(err, "submit answer")
			}
		}
		p.flush(s.Snapshot())
	}
}

type transcriptMessage struct {
	Role    models.Role `yaml:"role"`
	Content string      `yaml:"content"`
}

type transcript struct {
	Captions            map[models.Category]string `yaml:"captions"`
	Interpretations     map[models.Category]string `yaml:"interpretations"`
	Conversation        []transcriptMessage        `yaml:"conversation"`
	FinalInterpretation string                     `yaml:"final_interpretation,omitempty"`
}

func writeTranscript(path string, snapshot models.Snapshot) error {
	t := transcript{
		Captions:            snapshot.Captions,
		Interpretations:     snapshot.Interpretations,
		Conversation:        make([]transcriptMessage, 0, len(snapshot.Conversation)),
		FinalInterpretation: snapshot.FinalInterpretation,
	}
	for _, m := range snapshot.Conversation {
		t.Conversation = append(t.Conversation, transcriptMessage{Role: m.Role, Content: m.Content})
	}
	data, err := yaml.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "marshal transcript")
	}
	if err = os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrap(err, "write transcript", slog.String("path", path))
	}
	return nil
}

func printInterpretations(w io.Writer, snapshot models.Snapshot) {
	for _, c := range snapshot.Artifacts {
		_, _ = fmt.Fprintf(w, "== %s ==\n", c.DisplayName())
		if caption := snapshot.Captions[c]; caption != "" {
			_, _ = fmt.Fprintf(w, "%s\n", caption)
		}
		interpretation, ok := snapshot.Interpretations[c]
		if !ok {
			interpretation = "(해석 실패)"
		}
		_, _ = fmt.Fprintf(w, "%s\n\n", interpretation)
	}
}

// printer writes the assistant messages that were not printed yet.
type printer struct {
	w       io.Writer
	printed int
}

func (p *printer) flush(snapshot models.Snapshot) {
	if len(snapshot.Conversation) < p.printed {
		p.printed = 0
	}
	for _, m := range snapshot.Conversation[p.printed:] {
		if m.Role == models.RoleAssistant {
			_, _ = fmt.Fprintln(p.w, strings.TrimSpace(m.Content))
		}
	}
	p.printed = len(snapshot.Conversation)
}
