package main

import (
	"io"
	"net/http"
	"os"

	"github.com/angeloszaimis/mesh-gateway/internal/httpserver"
)

const maxEchoBytes = 64 << 10

type echoResponse struct {
	Service   string              `json:"service"`
	PID       int                 `json:"pid"`
	Method    string              `json:"method"`
	Path      string              `json:"path"`
	Query     map[string][]string `json:"query,omitempty"`
	RequestID string              `json:"requestId,omitempty"`
	Body      string              `json:"body,omitempty"`
}

func newEchoHandler(name string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		httpserver.WriteJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": name,
		})
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEchoBytes))
		if err != nil {
			httpserver.WriteError(w, http.StatusRequestEntityTooLarge, "Request body too large", "")
			return
		}

		httpserver.WriteJSON(w, http.StatusOK, echoResponse{
			Service:   name,
			PID:       os.Getpid(),
			Method:    r.Method,
			Path:      r.URL.Path,
			Query:     r.URL.Query(),
			RequestID: httpserver.RequestIDFrom(r.Context()),
			Body:      string(body),
		})
	})

	return mux
}
