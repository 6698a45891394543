// Package api serves the project REST API under /api/1.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

// ErrorBody is the JSON body of every API error response
type ErrorBody struct {
	Error ErrorMessage `json:"error"`
}

// ErrorMessage carries the human readable error
type ErrorMessage struct {
	Msg string `json:"msg"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("Failed to write response body")
	}
}

// WriteError writes {"error":{"msg":msg}} with the given status
func WriteError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorBody{Error: ErrorMessage{Msg: msg}})
}
