package inferencetest

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/Art-Therapy-Chat/web-front/internal/inference"
)

// NewServer exposes svc over HTTP with the JSON protocol of the real inference services. Failures of svc are
// answered with 502 Bad Gateway. Close the returned server when done.
func NewServer(svc inference.Service) *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /"+inference.EndpointCaption, func(w http.ResponseWriter, r *http.Request) {
		var in inference.CaptionRequestBody
		if !decode(w, r, &in) {
			return
		}
		image, err := base64.StdEncoding.DecodeString(in.ImageBase64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
			return
		}
		caption, err := svc.Caption(r.Context(), image)
		if failed(w, err) {
			return
		}
		encoded, _ := json.Marshal(caption)
		writeJSON(w, http.StatusOK, inference.CaptionResponseBody{Caption: string(encoded)})
	})

	mux.HandleFunc("POST /"+inference.EndpointRetrieve, func(w http.ResponseWriter, r *http.Request) {
		var in inference.RetrieveRequestBody
		if !decode(w, r, &in) {
			return
		}
		docs, err := svc.Retrieve(r.Context(), in.Caption, in.ImageType)
		if failed(w, err) {
			return
		}
		writeJSON(w, http.StatusOK, inference.RetrieveResponseBody{Documents: docs})
	})

	mux.HandleFunc("POST /"+inference.EndpointInterpretSingle, func(w http.ResponseWriter, r *http.Request) {
		var in inference.InterpretSingleRequestBody
		if !decode(w, r, &in) {
			return
		}
		interpretation, err := svc.InterpretSingle(r.Context(), inference.InterpretSingleRequest{
			Caption:   in.Caption,
			Documents: in.Documents,
			ImageType: in.ImageType,
		})
		if failed(w, err) {
			return
		}
		writeJSON(w, http.StatusOK, inference.InterpretSingleResponseBody{Interpretation: interpretation})
	})

	mux.HandleFunc("POST /"+inference.EndpointTranslate, func(w http.ResponseWriter, r *http.Request) {
		var in inference.TranslateRequestBody
		if !decode(w, r, &in) {
			return
		}
		translated, err := svc.Translate(r.Context(), in.Text)
		if failed(w, err) {
			return
		}
		writeJSON(w, http.StatusOK, inference.TranslateResponseBody{Translated: translated})
	})

	mux.HandleFunc("POST /"+inference.EndpointQuestions, func(w http.ResponseWriter, r *http.Request) {
		var in inference.QuestionRequestBody
		if !decode(w, r, &in) {
			return
		}
		question, err := svc.Question(r.Context(), inference.QuestionRequest{
			Conversation:    in.Conversation,
			Interpretations: in.Interpretations,
		})
		if failed(w, err) {
			return
		}
		writeJSON(w, http.StatusOK, inference.QuestionResponseBody{Question: question})
	})

	mux.HandleFunc("POST /"+inference.EndpointInterpretFinal, func(w http.ResponseWriter, r *http.Request) {
		var in inference.FinalRequestBody
		if !decode(w, r, &in) {
			return
		}
		final, err := svc.InterpretFinal(r.Context(), inference.FinalRequest{
			Interpretations: in.SingleResults,
			Conversation:    in.Conversation,
		})
		if failed(w, err) {
			return
		}
		writeJSON(w, http.StatusOK, inference.FinalResponseBody{Final: final})
	})

	return httptest.NewServer(mux)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return false
	}
	return true
}

func failed(w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}
	writeJSON(w, http.StatusBadGateway, map[string]string{"detail": err.Error()})
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
