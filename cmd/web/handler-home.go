package main

import (
	"context"
	"io"
	"net/http"

	"github.com/Art-Therapy-Chat/web-front/internal/artifact"
	"github.com/Art-Therapy-Chat/web-front/internal/errors"
	"github.com/Art-Therapy-Chat/web-front/internal/models"
	"github.com/Art-Therapy-Chat/web-front/internal/session"
)

const maxUploadSize = 10 << 20

type categoryView struct {
	Category       models.Category
	Name           string
	Label          string
	Present        bool
	HasResult      bool
	Caption        string
	Interpretation string
}

type homeTemplateData struct {
	Snapshot   models.Snapshot
	Categories []categoryView
	// Error is shown above the page, ChatError inside the conversation.
	Error     string
	ChatError string
}

func newHomeTemplateData(s *session.Session) homeTemplateData {
	snapshot := s.Snapshot()
	categories := make([]categoryView, 0, len(models.Categories))
	for _, c := range models.Categories {
		caption, hasResult := snapshot.Captions[c]
		categories = append(categories, categoryView{
			Category:       c,
			Name:           c.DisplayName(),
			Label:          c.Label(),
			Present:        snapshot.HasArtifact(c),
			HasResult:      hasResult,
			Caption:        caption,
			Interpretation: snapshot.Interpretations[c],
		})
	}
	return homeTemplateData{
		Snapshot:   snapshot,
		Categories: categories,
	}
}

func (app *application) home(w http.ResponseWriter, r *http.Request) {
	app.render(w, r, http.StatusOK, "base", newHomeTemplateData(engineSessionFrom(r)))
}

// pageResult redirects back to the page after a successful form post and shows rejections on the page.
func (app *application) pageResult(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	status, ok := rejectionStatus(err)
	if !ok {
		app.serverError(w, r, err)
		return
	}
	data := newHomeTemplateData(engineSessionFrom(r))
	data.Error = rejectionMessage(err)
	app.render(w, r, status, "base", data)
}

// chatResult answers htmx requests with the conversation partial and plain form posts like pageResult.
func (app *application) chatResult(w http.ResponseWriter, r *http.Request, err error) {
	if !app.htmx.NewHandler(w, r).IsHxRequest() {
		app.pageResult(w, r, err)
		return
	}
	data := newHomeTemplateData(engineSessionFrom(r))
	if err != nil {
		if _, ok := rejectionStatus(err); !ok {
			app.serverError(w, r, err)
			return
		}
		data.ChatError = rejectionMessage(err)
	}
	app.render(w, r, http.StatusOK, "conversation", data)
}

func (app *application) uploadArtifact(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		app.clientError(w, r, http.StatusBadRequest)
		return
	}
	category, ok := models.ParseCategory(r.PostFormValue("category"))
	if !ok {
		app.clientError(w, r, http.StatusBadRequest)
		return
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		app.pageResult(w, r, errors.Wrap(artifact.ErrInvalidImage, "no file"))
		return
	}
	defer file.Close()
	image, err := io.ReadAll(file)
	if err != nil {
		app.serverError(w, r, errors.Wrap(err, "read upload"))
		return
	}
	if len(image) == 0 {
		app.pageResult(w, r, errors.Wrap(artifact.ErrInvalidImage, "empty file"))
		return
	}
	engineSessionFrom(r).SetArtifact(category, image)
	app.pageResult(w, r, nil)
}

func (app *application) deleteArtifact(w http.ResponseWriter, r *http.Request) {
	category, ok := models.ParseCategory(r.PathValue("category"))
	if !ok {
		app.notFound(w, r)
		return
	}
	engineSessionFrom(r).ClearArtifact(category)
	app.pageResult(w, r, nil)
}

// The interpretation chains outlive a disconnected client, the session drops them on reset.
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (app *application) interpret(w http.ResponseWriter, r *http.Request) {
	app.pageResult(w, r, engineSessionFrom(r).RunInterpretation(detached(r)))
}

func (app *application) answer(w http.ResponseWriter, r *http.Request) {
	app.chatResult(w, r, engineSessionFrom(r).SubmitAnswer(detached(r), r.PostFormValue("answer")))
}

func (app *application) retryFinal(w http.ResponseWriter, r *http.Request) {
	app.chatResult(w, r, engineSessionFrom(r).RetryFinalSynthesis(detached(r)))
}

func (app *application) reset(w http.ResponseWriter, r *http.Request) {
	engineSessionFrom(r).Reset()
	app.pageResult(w, r, nil)
}
