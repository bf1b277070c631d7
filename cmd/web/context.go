package main

import (
	"context"
	"net/http"

	"github.com/Art-Therapy-Chat/web-front/internal/session"
)

type contextKey string

const engineSessionContextKey = contextKey("engineSession")

func setEngineSession(r *http.Request, s *session.Session) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), engineSessionContextKey, s))
}

// engineSessionFrom returns the session bound by the engineSession middleware.
func engineSessionFrom(r *http.Request) *session.Session {
	s, ok := r.Context().Value(engineSessionContextKey).(*session.Session)
	if !ok {
		panic("engine session middleware missing")
	}
	return s
}
