package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pairprep/interview-server-go/internal/config"
	apperrors "github.com/pairprep/interview-server-go/internal/errors"
	"github.com/pairprep/interview-server-go/internal/middleware"
	"github.com/pairprep/interview-server-go/internal/model"
	"github.com/pairprep/interview-server-go/internal/service"
)

type SessionHandler struct {
	sessionService *service.SessionService
	eventsHandler  *EventsHandler
}

func NewSessionHandler(sessionService *service.SessionService, eventsHandler *EventsHandler) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		eventsHandler:  eventsHandler,
	}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Get("/", h.ListActive)
	r.Get("/mine", h.ListMine)
	r.Get("/{id}", h.GetByID)
	r.Post("/{id}/join", h.Join)
	r.Post("/{id}/leave", h.Leave)
	r.Post("/{id}/remove-participant", h.RemoveParticipant)
	r.Post("/{id}/end", h.End)
	if h.eventsHandler != nil {
		r.Get("/{id}/events", h.eventsHandler.ServeHTTP)
	}

	return r
}

type createSessionRequest struct {
	Problem         string `json:"problem"`
	Difficulty      string `json:"difficulty"`
	MaxParticipants int    `json:"maxParticipants,omitempty"`
}

// POST /sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	session, err := h.sessionService.Create(r.Context(), user, service.CreateSessionInput{
		Problem:         req.Problem,
		Difficulty:      req.Difficulty,
		MaxParticipants: req.MaxParticipants,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, sessionResponse{Session: *session})
}

// GET /sessions?status=active
func (h *SessionHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	status, err := statusParam(r, model.SessionStatusActive)
	if err != nil {
		writeError(w, err)
		return
	}
	if status != model.SessionStatusActive {
		writeError(w, apperrors.InvalidInput("status", "only active sessions can be listed here"))
		return
	}

	sessions, err := h.sessionService.ListActive(r.Context(), config.SessionListLimit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionListResponse{Sessions: sessions})
}

// GET /sessions/mine?status=completed
func (h *SessionHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	status, err := statusParam(r, model.SessionStatusCompleted)
	if err != nil {
		writeError(w, err)
		return
	}

	sessions, err := h.sessionService.ListMine(r.Context(), user.ID, status, config.SessionListLimit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionListResponse{Sessions: sessions})
}

// GET /sessions/{id}
func (h *SessionHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	session, err := h.sessionService.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{Session: *session})
}

// POST /sessions/{id}/join
func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.sessionService.Join(r.Context(), id, user)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{Session: result.Session, Message: result.Message})
}

// POST /sessions/{id}/leave
func (h *SessionHandler) Leave(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.sessionService.Leave(r.Context(), id, user)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{Session: result.Session, Message: result.Message})
}

type removeParticipantRequest struct {
	ParticipantID string `json:"participantId"`
}

// POST /sessions/{id}/remove-participant
func (h *SessionHandler) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req removeParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	result, err := h.sessionService.RemoveParticipant(r.Context(), id, user, req.ParticipantID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{Session: result.Session, Message: result.Message})
}

// POST /sessions/{id}/end
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.sessionService.End(r.Context(), id, user)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{Session: result.Session, Message: result.Message})
}

// sessionIDParam validates the path id. A malformed id maps to NotFound so
// probing with junk ids is indistinguishable from a missing session.
func sessionIDParam(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		return "", apperrors.NotFound("Session")
	}
	return id, nil
}

func statusParam(r *http.Request, fallback model.SessionStatus) (model.SessionStatus, error) {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		return fallback, nil
	}
	status := model.SessionStatus(raw)
	if !status.Valid() {
		return "", apperrors.InvalidInput("status", "must be active or completed")
	}
	return status, nil
}
