package main

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Art-Therapy-Chat/web-front/internal/artifact"
	"github.com/Art-Therapy-Chat/web-front/internal/errors"
	"github.com/Art-Therapy-Chat/web-front/internal/inference"
	"github.com/Art-Therapy-Chat/web-front/internal/models"
)

const (
	defaultCallsLimit = 50
	maxCallsLimit     = 500
)

// apiResult responds with the session snapshot or the rejection.
func (app *application) apiResult(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, engineSessionFrom(r).Snapshot())
		return
	}
	status, ok := rejectionStatus(err)
	if !ok {
		app.logger.LogAttrs(r.Context(), slog.LevelError, "server error",
			slog.String("method", r.Method), slog.String("uri", r.URL.RequestURI()), errors.SlogError(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: http.StatusText(http.StatusInternalServerError)})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (app *application) apiSnapshot(w http.ResponseWriter, r *http.Request) {
	app.apiResult(w, r, nil)
}

type putArtifactRequest struct {
	// Image is a data URL or a bare base64 payload.
	Image string `json:"image"`
}

func (app *application) apiPutArtifact(w http.ResponseWriter, r *http.Request) {
	category, ok := models.ParseCategory(r.PathValue("category"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown category"})
		return
	}
	var req putArtifactRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	image, err := artifact.DecodeDataURL(req.Image)
	if err != nil {
		app.apiResult(w, r, err)
		return
	}
	engineSessionFrom(r).SetArtifact(category, image)
	app.apiResult(w, r, nil)
}

func (app *application) apiDeleteArtifact(w http.ResponseWriter, r *http.Request) {
	category, ok := models.ParseCategory(r.PathValue("category"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown category"})
		return
	}
	engineSessionFrom(r).ClearArtifact(category)
	app.apiResult(w, r, nil)
}

func (app *application) apiInterpret(w http.ResponseWriter, r *http.Request) {
	app.apiResult(w, r, engineSessionFrom(r).RunInterpretation(detached(r)))
}

type answerRequest struct {
	Answer string `json:"answer"`
}

func (app *application) apiAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	app.apiResult(w, r, engineSessionFrom(r).SubmitAnswer(detached(r), req.Answer))
}

func (app *application) apiRetryFinal(w http.ResponseWriter, r *http.Request) {
	app.apiResult(w, r, engineSessionFrom(r).RetryFinalSynthesis(detached(r)))
}

func (app *application) apiReset(w http.ResponseWriter, r *http.Request) {
	engineSessionFrom(r).Reset()
	app.apiResult(w, r, nil)
}

type inferenceCallsResponse struct {
	Calls []inference.Call `json:"calls"`
}

func (app *application) apiInferenceCalls(w http.ResponseWriter, r *http.Request) {
	limit := defaultCallsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxCallsLimit)
	}
	calls, err := app.journal.Recent(r.Context(), limit)
	if err != nil {
		app.apiResult(w, r, errors.Wrap(err, "recent inference calls"))
		return
	}
	writeJSON(w, http.StatusOK, inferenceCallsResponse{Calls: calls})
}
