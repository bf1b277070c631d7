package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/Art-Therapy-Chat/web-front/internal/artifact"
	"github.com/Art-Therapy-Chat/web-front/internal/contexthelpers"
	"github.com/Art-Therapy-Chat/web-front/internal/errors"
	"github.com/Art-Therapy-Chat/web-front/internal/session"
	"github.com/Art-Therapy-Chat/web-front/ui"
)

const maxJSONBody = 16 << 20

func (app *application) serverError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		method = r.Method
		uri    = r.URL.RequestURI()
	)

	app.logger.LogAttrs(r.Context(), slog.LevelError, "server error",
		slog.String("method", method), slog.String("uri", uri), errors.SlogError(err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func (app *application) clientError(w http.ResponseWriter, r *http.Request, status int) {
	var (
		method = r.Method
		uri    = r.URL.RequestURI()
	)

	app.logger.LogAttrs(r.Context(), slog.LevelDebug, http.StatusText(status),
		slog.String("method", method), slog.String("uri", uri))
	http.Error(w, http.StatusText(status), status)
}

func (app *application) notFound(w http.ResponseWriter, r *http.Request) {
	app.clientError(w, r, http.StatusNotFound)
}

// rejectionStatus maps the errors of rejected session operations to a status code. ok is false for unexpected
// errors.
func rejectionStatus(err error) (int, bool) {
	switch {
	case errors.Is(err, session.ErrEmptyAnswer),
		errors.Is(err, session.ErrNoArtifacts),
		errors.Is(err, artifact.ErrInvalidImage):
		return http.StatusBadRequest, true
	case errors.Is(err, session.ErrBusy),
		errors.Is(err, session.ErrNotReady),
		errors.Is(err, session.ErrFinalizing),
		errors.Is(err, session.ErrNotFinalizing):
		return http.StatusConflict, true
	default:
		return 0, false
	}
}

// rejectionMessage is the text shown to the user for a rejected operation.
func rejectionMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrEmptyAnswer):
		return "답변을 입력해 주세요."
	case errors.Is(err, session.ErrNoArtifacts):
		return "먼저 그림을 하나 이상 업로드해 주세요."
	case errors.Is(err, artifact.ErrInvalidImage):
		return "이미지를 읽을 수 없습니다."
	case errors.Is(err, session.ErrBusy):
		return "이전 요청을 처리하고 있습니다. 잠시 후 다시 시도해 주세요."
	case errors.Is(err, session.ErrNotReady):
		return "먼저 그림 해석을 시작해 주세요."
	case errors.Is(err, session.ErrFinalizing):
		return "최종 해석을 기다리는 중입니다. 최종 해석을 다시 시도해 주세요."
	case errors.Is(err, session.ErrNotFinalizing):
		return "다시 시도할 최종 해석이 없습니다."
	default:
		return http.StatusText(http.StatusInternalServerError)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return errors.Wrap(err, "decode JSON body")
	}
	return nil
}

// parsePages parses the embedded templates. The nonce and csrf functions are replaced per request in render.
func parsePages() (*template.Template, error) {
	t, err := template.New("pages").Funcs(template.FuncMap{
		"nonce": func() template.HTMLAttr {
			panic("not implemented")
		},
		"csrf": func() template.HTML {
			panic("not implemented")
		},
	}).ParseFS(ui.Files, "templates/*.gohtml")
	if err != nil {
		return nil, errors.Wrap(err, "parse templates")
	}
	return t, nil
}

// render executes the named template. Use "base" for full pages.
func (app *application) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	var (
		err error
		t   *template.Template
	)

	if t, err = app.pages.Clone(); err != nil {
		app.serverError(w, r, errors.Wrap(err, "clone templates"))
		return
	}

	buf := new(bytes.Buffer)
	ctx := r.Context()
	nonce := fmt.Sprintf("nonce=\"%s\"", contexthelpers.CSPNonce(ctx))
	csrf := fmt.Sprintf("<input type=\"hidden\" name=\"csrf_token\" value=\"%s\"/>", contexthelpers.CSRFToken(ctx))
	t.Funcs(template.FuncMap{
		"nonce": func() template.HTMLAttr {
			return template.HTMLAttr(nonce) //nolint:gosec // the nonce is not provided by the user.
		},
		"csrf": func() template.HTML {
			return template.HTML(csrf) //nolint:gosec // the token is not provided by the user.
		},
	})
	if err = t.ExecuteTemplate(buf, name, data); err != nil {
		app.serverError(w, r, errors.Wrap(err, "execute template", slog.String("template", name)))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)

	_, _ = buf.WriteTo(w)
}
