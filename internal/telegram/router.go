// Package telegram runs interpretation sessions in Telegram chats. Users send their sketches as photos captioned
// with the subject, start the interpretation with /interpret and answer the questions with plain messages.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/Art-Therapy-Chat/web-front/internal/errors"
	"github.com/Art-Therapy-Chat/web-front/internal/logging"
	"github.com/Art-Therapy-Chat/web-front/internal/models"
	"github.com/Art-Therapy-Chat/web-front/internal/session"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// HelpText explains how to use the bot.
const HelpText = "집, 나무, 사람 그림을 사진으로 보내 주세요. 사진 설명에 '집', '나무' 또는 '사람'을 적어 주세요.\n" +
	"그림을 모두 보냈으면 /interpret 로 해석을 시작합니다.\n" +
	"/status 진행 상황, /retry 최종 해석 다시 시도, /reset 처음부터 다시 시작"

// Replies sent to the chat.
const (
	AskCategoryText  = "어떤 그림인지 사진 설명에 '집', '나무' 또는 '사람'을 적어 주세요."
	InterpretingText = "그림을 해석하고 있습니다. 잠시만 기다려 주세요..."
	ResetText        = "모든 내용을 지웠습니다. 그림을 다시 보내 주세요."
	UnknownCommand   = "알 수 없는 명령입니다. /start 로 사용법을 확인하세요."
	DownloadFailed   = "사진을 받지 못했습니다. 다시 보내 주세요."
	FailedText       = "오류가 발생했습니다. 잠시 후 다시 시도해 주세요."
	FinalHeader      = "최종 종합 해석"
)

// maxMessageLength is the Telegram limit for the text of one message.
const maxMessageLength = 4096

// maxPhotoSize bounds the downloaded sketches.
const maxPhotoSize = 10 << 20

// Bot is the part of the Telegram Bot API the router uses.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

type Router struct {
	bot        Bot
	sessions   *session.Manager
	httpClient *http.Client
	logger     *slog.Logger

	mu sync.Mutex
	// chats maps the chat ID to its session ID.
	chats map[int64]string
}

func NewRouter(bot Bot, sessions *session.Manager, httpClient *http.Client, logger *slog.Logger) *Router {
	return &Router{
		bot:        bot,
		sessions:   sessions,
		httpClient: httpClient,
		logger:     logger.With(slog.String("source", "telegram.Router")),
		chats:      map[int64]string{},
	}
}

// session returns the session of the chat, creating it when it does not exist or has been evicted.
func (r *Router) session(ctx context.Context, chatID int64) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.sessions.GetOrCreate(ctx, r.chats[chatID])
	if err != nil {
		return nil, errors.Wrap(err, "get session", slog.Int64("chat_id", chatID))
	}
	r.chats[chatID] = s.ID()
	return s, nil
}

// HandleUpdate processes one update. It blocks while inference runs, so callers handle updates concurrently.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID
	s, err := r.session(ctx, chatID)
	if err != nil {
		r.logger.LogAttrs(ctx, slog.LevelError, "session unavailable", errors.SlogError(err))
		return
	}
	ctx = logging.WithAttrs(ctx, slog.Int64("chat_id", chatID), slog.String("session_id", s.ID()))

	switch {
	case msg.IsCommand():
		r.handleCommand(ctx, chatID, s, msg.Command())
	case len(msg.Photo) > 0:
		r.acceptPhoto(ctx, chatID, s, msg)
	case strings.TrimSpace(msg.Text) != "":
		r.answer(ctx, chatID, s, msg.Text)
	}
}

func (r *Router) handleCommand(ctx context.Context, chatID int64, s *session.Session, command string) {
	switch command {
	case "start", "help":
		r.send(ctx, chatID, HelpText)
	case "interpret":
		r.send(ctx, chatID, InterpretingText)
		r.run(ctx, chatID, s, true, s.RunInterpretation)
	case "retry":
		r.run(ctx, chatID, s, false, s.RetryFinalSynthesis)
	case "status":
		r.send(ctx, chatID, formatStatus(s.Snapshot()))
	case "reset":
		s.Reset()
		r.send(ctx, chatID, ResetText)
	default:
		r.send(ctx, chatID, UnknownCommand)
	}
}

func (r *Router) acceptPhoto(ctx context.Context, chatID int64, s *session.Session, msg *tgbotapi.Message) {
	category, ok := ParseCategory(msg.Caption)
	if !ok {
		r.send(ctx, chatID, AskCategoryText)
		return
	}
	// The last size is the largest.
	photo := msg.Photo[len(msg.Photo)-1]
	image, err := r.download(ctx, photo.FileID)
	if err != nil {
		r.logger.LogAttrs(ctx, slog.LevelError, "photo download failed", errors.SlogError(err))
		r.send(ctx, chatID, DownloadFailed)
		return
	}
	s.SetArtifact(category, image)
	r.send(ctx, chatID, fmt.Sprintf("%s 그림을 받았습니다.", category.Label()))
}

func (r *Router) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := r.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, errors.Wrap(err, "get file url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "download file")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("unexpected status", slog.Int("status", resp.StatusCode))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoSize+1))
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}
	if len(data) > maxPhotoSize {
		return nil, errors.New("photo too large")
	}
	return data, nil
}

func (r *Router) answer(ctx context.Context, chatID int64, s *session.Session, text string) {
	r.run(ctx, chatID, s, false, func(ctx context.Context) error {
		return s.SubmitAnswer(ctx, text)
	})
}

// run performs a session operation and sends the assistant messages it added. An interpretation restarts the
// conversation, so its results are sent in full.
func (r *Router) run(
	ctx context.Context,
	chatID int64,
	s *session.Session,
	interpretation bool,
	op func(ctx context.Context) error,
) {
	before := s.Snapshot()
	if err := op(ctx); err != nil {
		r.reject(ctx, chatID, err)
		return
	}
	after := s.Snapshot()

	from := len(before.Conversation)
	if interpretation {
		r.send(ctx, chatID, formatInterpretations(after))
		from = 0
	}
	for _, m := range after.Conversation[min(from, len(after.Conversation)):] {
		if m.Role == models.RoleAssistant {
			r.send(ctx, chatID, m.Content)
		}
	}
	if after.Phase == models.PhaseComplete && before.Phase != models.PhaseComplete {
		r.send(ctx, chatID, FinalHeader+"\n\n"+after.FinalInterpretation)
	}
}

func (r *Router) reject(ctx context.Context, chatID int64, err error) {
	text, ok := RejectionText(err)
	if !ok {
		r.logger.LogAttrs(ctx, slog.LevelError, "request failed", errors.SlogError(err))
		text = FailedText
	}
	r.send(ctx, chatID, text)
}

// RejectionText explains a rejected session operation. ok is false for unexpected errors.
func RejectionText(err error) (string, bool) {
	switch {
	case errors.Is(err, session.ErrBusy):
		return "이전 요청을 처리하고 있습니다. 잠시만 기다려 주세요.", true
	case errors.Is(err, session.ErrNoArtifacts):
		return "먼저 그림을 한 장 이상 보내 주세요.", true
	case errors.Is(err, session.ErrEmptyAnswer):
		return "답변을 입력해 주세요.", true
	case errors.Is(err, session.ErrNotReady):
		return "먼저 /interpret 로 해석을 시작해 주세요.", true
	case errors.Is(err, session.ErrFinalizing):
		return "최종 해석을 기다리고 있습니다. 실패했다면 /retry 로 다시 시도하세요.", true
	case errors.Is(err, session.ErrNotFinalizing):
		return "다시 시도할 최종 해석이 없습니다.", true
	default:
		return "", false
	}
}

func (r *Router) send(ctx context.Context, chatID int64, text string) {
	for _, chunk := range splitMessage(text, maxMessageLength) {
		if _, err := r.bot.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			r.logger.LogAttrs(ctx, slog.LevelError, "send message failed", errors.SlogError(err))
			return
		}
	}
}

// splitMessage cuts text into chunks of at most limit characters, preferring line breaks.
func splitMessage(text string, limit int) []string {
	var chunks []string
	for utf8.RuneCountInString(text) > limit {
		runes := []rune(text)
		cut := string(runes[:limit])
		if i := strings.LastIndexByte(cut, '\n'); i > 0 {
			cut = cut[:i]
		}
		chunks = append(chunks, cut)
		text = strings.TrimLeft(text[len(cut):], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// ParseCategory reads the subject from a photo caption, in English or Korean.
func ParseCategory(caption string) (models.Category, bool) {
	caption = strings.ToLower(strings.TrimSpace(caption))
	if c, ok := models.ParseCategory(caption); ok {
		return c, true
	}
	for _, c := range models.Categories {
		if caption == c.Label() {
			return c, true
		}
	}
	return "", false
}

func formatInterpretations(snapshot models.Snapshot) string {
	var b strings.Builder
	for _, c := range models.Categories {
		if interpretation, ok := snapshot.Interpretations[c]; ok {
			fmt.Fprintf(&b, "[%s]\n%s\n\n", c.Label(), interpretation)
		}
	}
	return strings.TrimSpace(b.String())
}

func formatStatus(snapshot models.Snapshot) string {
	var b strings.Builder
	received := make([]string, 0, len(snapshot.Artifacts))
	for _, c := range snapshot.Artifacts {
		received = append(received, c.Label())
	}
	if len(received) == 0 {
		received = append(received, "없음")
	}
	fmt.Fprintf(&b, "받은 그림: %s\n", strings.Join(received, ", "))
	fmt.Fprintf(&b, "답변: %d/%d\n", snapshot.AnswerCount, snapshot.MaxAnswers)
	fmt.Fprintf(&b, "단계: %s", snapshot.Phase)
	return b.String()
}
