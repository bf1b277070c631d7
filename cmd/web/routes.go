package main

import (
	"net/http"
	"time"

	"github.com/justinas/alice"
)

func (app *application) routes(writeTimeout time.Duration) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/healthy", app.healthy)

	session := alice.New(app.sessionManager.LoadAndSave, app.engineSession)
	api := session.Append(requireJSON)
	pages := session.Append(noSurf, commonContext)

	mux.Handle("GET /api/session", api.ThenFunc(app.apiSnapshot))
	mux.Handle("PUT /api/artifacts/{category}", api.ThenFunc(app.apiPutArtifact))
	mux.Handle("DELETE /api/artifacts/{category}", api.ThenFunc(app.apiDeleteArtifact))
	mux.Handle("POST /api/interpret", api.ThenFunc(app.apiInterpret))
	mux.Handle("POST /api/answers", api.ThenFunc(app.apiAnswer))
	mux.Handle("POST /api/final/retry", api.ThenFunc(app.apiRetryFinal))
	mux.Handle("POST /api/reset", api.ThenFunc(app.apiReset))
	mux.Handle("GET /api/inference-calls", api.ThenFunc(app.apiInferenceCalls))

	mux.Handle("GET /{$}", pages.ThenFunc(app.home))
	mux.Handle("POST /artifacts", pages.ThenFunc(app.uploadArtifact))
	mux.Handle("POST /artifacts/{category}/delete", pages.ThenFunc(app.deleteArtifact))
	mux.Handle("POST /interpret", pages.ThenFunc(app.interpret))
	mux.Handle("POST /answers", pages.ThenFunc(app.answer))
	mux.Handle("POST /final/retry", pages.ThenFunc(app.retryFinal))
	mux.Handle("POST /reset", pages.ThenFunc(app.reset))

	// Event streams outlive the write timeout and must not be buffered by the timeout or session handlers.
	root := http.NewServeMux()
	root.HandleFunc("GET /api/sessions/{id}/progress", app.apiProgress)
	root.Handle("/", timeoutHandler(mux, writeTimeout))

	standard := alice.New(app.recoverPanic, app.logRequest, secureHeaders)
	return standard.Then(root)
}
