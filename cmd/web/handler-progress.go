package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Art-Therapy-Chat/web-front/internal/errors"
	"github.com/Art-Therapy-Chat/web-front/internal/models"
)

// apiProgress streams the progress of a running interpretation as server-sent events. Every stream ends with
// a snapshot event once the interpretation is done, or right away when none runs.
func (app *application) apiProgress(w http.ResponseWriter, r *http.Request) {
	s, ok := app.sessions.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown session"})
		return
	}
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		app.serverError(w, r, errors.Wrap(err, "clear write deadline"))
		return
	}

	// Subscribe before responding so that a client holding the response headers is known to be subscribed.
	var events chan models.Progress
	select {
	case <-r.Context().Done():
		return
	case events = <-app.sessions.Progress(s.ID()):
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		app.logger.LogAttrs(r.Context(), slog.LevelDebug, "progress stream closed", errors.SlogError(err))
		return
	}
	for events != nil {
		select {
		case <-r.Context().Done():
			return
		case p, open := <-events:
			if !open {
				events = nil
				break
			}
			if err := writeEvent(w, rc, "progress", p); err != nil {
				app.logger.LogAttrs(r.Context(), slog.LevelDebug, "progress stream closed", errors.SlogError(err))
				return
			}
		}
	}
	if err := writeEvent(w, rc, "snapshot", s.Snapshot()); err != nil {
		app.logger.LogAttrs(r.Context(), slog.LevelDebug, "progress stream closed", errors.SlogError(err))
	}
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	if _, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return errors.Wrap(err, "write event")
	}
	return errors.Wrap(rc.Flush(), "flush event")
}
