package client

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	apperrors "github.com/pairprep/interview-server-go/internal/errors"
	"github.com/pairprep/interview-server-go/internal/model"
	"github.com/pairprep/interview-server-go/internal/stream"
)

// State is the controller's membership belief for one session view.
type State string

const (
	// StateUnknown: no confirmed membership yet; EnsureMembership may act.
	StateUnknown State = "unknown"
	// StateJoining: a join request is in flight.
	StateJoining State = "joining"
	// StateMember: the local user is the host or a participant.
	StateMember State = "member"
	// StateBlocked: membership is impossible (session full, completed, or
	// gone). Not retryable on the same session view.
	StateBlocked State = "blocked"
)

// SessionAPI is the slice of Client the controller needs.
type SessionAPI interface {
	GetSession(ctx context.Context, sessionID string) (*model.SessionView, error)
	Join(ctx context.Context, sessionID string) (*SessionResult, error)
	Leave(ctx context.Context, sessionID string) (*SessionResult, error)
	Credentials(ctx context.Context) (*stream.UserCredentials, error)
}

// Controller reconciles the local user's membership in one session. It is
// not an authority: the server decides; the controller derives its state
// from session snapshots and drives at most one auto-join per snapshot.
type Controller struct {
	api        SessionAPI
	sessionID  string
	externalID string

	mu            sync.Mutex
	state         State
	session       *model.SessionView
	isHost        bool
	joinAttempted bool
	blockReason   string
}

func NewController(api SessionAPI, sessionID, localExternalID string) *Controller {
	return &Controller{
		api:        api,
		sessionID:  sessionID,
		externalID: localExternalID,
		state:      StateUnknown,
	}
}

// Sync replaces the controller's session snapshot and re-derives membership.
// A fresh snapshot re-arms the single auto-join attempt.
func (c *Controller) Sync(view model.SessionView) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joinAttempted = false
	c.apply(view)
}

// EnsureMembership drives the state machine until the local user is a
// member or membership is impossible. It is idempotent: once a member,
// calls are no-ops; a join is attempted at most once per session snapshot.
func (c *Controller) EnsureMembership(ctx context.Context) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateMember, StateBlocked:
		return c.state, nil
	case StateJoining:
		// A concurrent call is already driving the join.
		return c.state, nil
	}

	if c.session == nil {
		view, err := c.fetch(ctx)
		if err != nil {
			return c.state, err
		}
		if view == nil {
			// Blocked during fetch (session gone).
			return c.state, nil
		}
		c.apply(*view)
		if c.state == StateMember || c.state == StateBlocked {
			return c.state, nil
		}
	}

	if c.session.Status != model.SessionStatusActive {
		c.block("session has ended")
		return c.state, nil
	}

	if c.joinAttempted {
		return c.state, nil
	}
	c.joinAttempted = true
	c.state = StateJoining

	// Release the lock around the network call; re-derive after.
	c.mu.Unlock()
	result, err := c.api.Join(ctx, c.sessionID)
	c.mu.Lock()

	if err != nil {
		switch {
		case IsSessionFull(err):
			c.block(apiMessage(err))
			return c.state, nil
		case IsNotFound(err):
			c.block("session no longer exists")
			return c.state, nil
		default:
			// Transient failure: stay unknown so a fresh snapshot can retry.
			c.state = StateUnknown
			return c.state, err
		}
	}

	c.apply(result.Session)
	return c.state, nil
}

// Credentials returns realtime provider credentials. Only a member may open
// the call and chat connections.
func (c *Controller) Credentials(ctx context.Context) (*stream.UserCredentials, error) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state != StateMember {
		return nil, &APIError{Code: apperrors.ErrCodeInvalidState, Message: "not a session member"}
	}
	return c.api.Credentials(ctx)
}

// Close tears down the local user's membership on navigation away. A
// participant leaves; the host keeps the session alive for the others.
// Teardown failures are logged, never propagated.
func (c *Controller) Close(ctx context.Context) {
	c.mu.Lock()
	state := c.state
	isHost := c.isHost
	c.state = StateUnknown
	c.session = nil
	c.joinAttempted = false
	c.mu.Unlock()

	if state != StateMember || isHost {
		return
	}
	if _, err := c.api.Leave(ctx, c.sessionID); err != nil {
		log.Warn().Err(err).Str("sessionId", c.sessionID).Msg("leave on close failed")
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) IsHost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isHost
}

// BlockReason explains StateBlocked; empty otherwise.
func (c *Controller) BlockReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockReason
}

// Session returns the last seen snapshot, nil if none.
func (c *Controller) Session() *model.SessionView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// apply installs a snapshot and derives state from it. Caller holds c.mu.
func (c *Controller) apply(view model.SessionView) {
	c.session = &view
	c.isHost = view.Host.ExternalID == c.externalID

	if c.isHost || hasMember(view.Participants, c.externalID) {
		c.state = StateMember
		c.blockReason = ""
		return
	}
	if c.state != StateBlocked {
		c.state = StateUnknown
	}
}

func (c *Controller) fetch(ctx context.Context) (*model.SessionView, error) {
	c.mu.Unlock()
	view, err := c.api.GetSession(ctx, c.sessionID)
	c.mu.Lock()
	if err != nil {
		if IsNotFound(err) {
			c.block("session no longer exists")
			return nil, nil
		}
		return nil, err
	}
	return view, nil
}

func (c *Controller) block(reason string) {
	c.state = StateBlocked
	if reason == "" {
		reason = "cannot join this session"
	}
	c.blockReason = reason
}

func hasMember(participants []model.UserSummary, externalID string) bool {
	for _, p := range participants {
		if p.ExternalID == externalID {
			return true
		}
	}
	return false
}

func apiMessage(err error) string {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.Message
	}
	return ""
}
