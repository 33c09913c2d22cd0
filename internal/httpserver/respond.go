package httpserver

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the JSON shape of every error answered by the gateway.
type ErrorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, msg, details string) {
	WriteJSON(w, status, ErrorBody{Error: msg, Details: details})
}
