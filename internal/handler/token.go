package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/pairprep/interview-server-go/internal/middleware"
	"github.com/pairprep/interview-server-go/internal/stream"
)

// CredentialsIssuer mints realtime credentials for one provider user.
type CredentialsIssuer interface {
	UserToken(externalID string, ttl time.Duration) (*stream.UserCredentials, error)
}

// TokenHandler hands out the provider credentials the client needs to open
// its own call and chat connections.
type TokenHandler struct {
	issuer CredentialsIssuer
	ttl    time.Duration
}

func NewTokenHandler(issuer CredentialsIssuer, ttl time.Duration) *TokenHandler {
	return &TokenHandler{issuer: issuer, ttl: ttl}
}

func (h *TokenHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/token", h.GetToken)
	return r
}

// GET /chat/token
func (h *TokenHandler) GetToken(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	creds, err := h.issuer.UserToken(user.ExternalID, h.ttl)
	if err != nil {
		log.Error().Err(err).Str("userId", user.ID).Msg("failed to mint realtime credentials")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to issue credentials"})
		return
	}

	writeJSON(w, http.StatusOK, creds)
}
