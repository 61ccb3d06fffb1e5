package handler

import (
	"net/http"

	"github.com/pairprep/interview-server-go/internal/httputil"
	"github.com/pairprep/interview-server-go/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

// sessionResponse is the envelope for single-session endpoints.
type sessionResponse struct {
	Session model.SessionView `json:"session"`
	Message string            `json:"message,omitempty"`
}

// sessionListResponse is the envelope for listing endpoints.
type sessionListResponse struct {
	Sessions []model.SessionView `json:"sessions"`
}
