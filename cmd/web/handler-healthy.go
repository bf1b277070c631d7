package main

import "net/http"

type healthResponse struct {
	Status string `json:"status"`
	// Sessions counts the live interpretation sessions.
	Sessions int `json:"sessions"`
}

func (app *application) healthy(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Sessions: app.sessions.Len()})
}
