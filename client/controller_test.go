package client

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	apperrors "github.com/pairprep/interview-server-go/internal/errors"
	"github.com/pairprep/interview-server-go/internal/model"
	"github.com/pairprep/interview-server-go/internal/stream"
)

type mockSessionAPI struct {
	mock.Mock
}

func (m *mockSessionAPI) GetSession(ctx context.Context, sessionID string) (*model.SessionView, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SessionView), args.Error(1)
}

func (m *mockSessionAPI) Join(ctx context.Context, sessionID string) (*SessionResult, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SessionResult), args.Error(1)
}

func (m *mockSessionAPI) Leave(ctx context.Context, sessionID string) (*SessionResult, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SessionResult), args.Error(1)
}

func (m *mockSessionAPI) Credentials(ctx context.Context) (*stream.UserCredentials, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stream.UserCredentials), args.Error(1)
}

func sessionView(hostExternalID string, participantExternalIDs ...string) model.SessionView {
	view := model.SessionView{
		ID:              "sess-1",
		Problem:         "Two Sum",
		Difficulty:      model.DifficultyEasy,
		Host:            model.UserSummary{ExternalID: hostExternalID, Name: "Host"},
		MaxParticipants: 3,
		Status:          model.SessionStatusActive,
		CallID:          "session_1700000000000_abc123",
	}
	for _, id := range participantExternalIDs {
		view.Participants = append(view.Participants, model.UserSummary{ExternalID: id})
	}
	return view
}

func TestControllerEnsureMembership(t *testing.T) {
	t.Run("host is a member without joining", func(t *testing.T) {
		api := new(mockSessionAPI)
		ctrl := NewController(api, "sess-1", "ext-host")
		ctrl.Sync(sessionView("ext-host"))

		state, err := ctrl.EnsureMembership(context.Background())

		assert.NoError(t, err)
		assert.Equal(t, StateMember, state)
		assert.True(t, ctrl.IsHost())
		api.AssertNotCalled(t, "Join", mock.Anything, mock.Anything)
	})

	t.Run("existing participant is a member without joining", func(t *testing.T) {
		api := new(mockSessionAPI)
		ctrl := NewController(api, "sess-1", "ext-p1")
		ctrl.Sync(sessionView("ext-host", "ext-p1"))

		state, err := ctrl.EnsureMembership(context.Background())

		assert.NoError(t, err)
		assert.Equal(t, StateMember, state)
		assert.False(t, ctrl.IsHost())
		api.AssertNotCalled(t, "Join", mock.Anything, mock.Anything)
	})

	t.Run("non-member auto-joins once", func(t *testing.T) {
		api := new(mockSessionAPI)
		ctrl := NewController(api, "sess-1", "ext-p1")
		ctrl.Sync(sessionView("ext-host"))

		joined := sessionView("ext-host", "ext-p1")
		api.On("Join", mock.Anything, "sess-1").Return(&SessionResult{Session: joined}, nil).Once()

		state, err := ctrl.EnsureMembership(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, StateMember, state)

		// A second call is a no-op.
		state, err = ctrl.EnsureMembership(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, StateMember, state)
		api.AssertExpectations(t)
	})

	t.Run("fetches a snapshot when none was synced", func(t *testing.T) {
		api := new(mockSessionAPI)
		ctrl := NewController(api, "sess-1", "ext-p1")

		view := sessionView("ext-host", "ext-p1")
		api.On("GetSession", mock.Anything, "sess-1").Return(&view, nil)

		state, err := ctrl.EnsureMembership(context.Background())

		assert.NoError(t, err)
		assert.Equal(t, StateMember, state)
	})

	t.Run("capacity rejection blocks without retry", func(t *testing.T) {
		api := new(mockSessionAPI)
		ctrl := NewController(api, "sess-1", "ext-p4")
		ctrl.Sync(sessionView("ext-host", "ext-p1", "ext-p2", "ext-p3"))

		full := &APIError{
			StatusCode: http.StatusConflict,
			Code:       apperrors.ErrCodeSessionFull,
			Message:    "Session is full (max 3 participants)",
		}
		api.On("Join", mock.Anything, "sess-1").Return(nil, full).Once()

		state, err := ctrl.EnsureMembership(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, StateBlocked, state)
		assert.Equal(t, "Session is full (max 3 participants)", ctrl.BlockReason())

		// Blocked is terminal for this snapshot: no second join.
		state, err = ctrl.EnsureMembership(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, StateBlocked, state)
		api.AssertExpectations(t)
	})

	t.Run("vanished session blocks", func(t *testing.T) {
		api := new(mockSessionAPI)
		ctrl := NewController(api, "sess-1", "ext-p1")

		gone := &APIError{StatusCode: http.StatusNotFound, Code: apperrors.ErrCodeNotFound, Message: "Session not found"}
		api.On("GetSession", mock.Anything, "sess-1").Return(nil, gone)

		state, err := ctrl.EnsureMembership(context.Background())

		assert.NoError(t, err)
		assert.Equal(t, StateBlocked, state)
		assert.Equal(t, "session no longer exists", ctrl.BlockReason())
	})

	t.Run("completed session blocks", func(t *testing.T) {
		api := new(mockSessionAPI)
		ctrl := NewController(api, "sess-1", "ext-p1")

		view := sessionView("ext-host")
		view.Status = model.SessionStatusCompleted
		ctrl.Sync(view)

		state, err := ctrl.EnsureMembership(context.Background())

		assert.NoError(t, err)
		assert.Equal(t, StateBlocked, state)
		api.AssertNotCalled(t, "Join", mock.Anything, mock.Anything)
	})

	t.Run("transient join failure surfaces but does not loop", func(t *testing.T) {
		api := new(mockSessionAPI)
		ctrl := NewController(api, "sess-1", "ext-p1")
		ctrl.Sync(sessionView("ext-host"))

		api.On("Join", mock.Anything, "sess-1").Return(nil, errors.New("connection refused")).Once()

		state, err := ctrl.EnsureMembership(context.Background())
		assert.Error(t, err)
		assert.Equal(t, StateUnknown, state)

		// Same snapshot: the join is not re-attempted.
		state, err = ctrl.EnsureMembership(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, StateUnknown, state)
		api.AssertExpectations(t)
	})

	t.Run("fresh snapshot re-arms the join attempt", func(t *testing.T) {
		api := new(mockSessionAPI)
		ctrl := NewController(api, "sess-1", "ext-p1")
		ctrl.Sync(sessionView("ext-host"))

		api.On("Join", mock.Anything, "sess-1").Return(nil, errors.New("connection refused")).Once()
		_, err := ctrl.EnsureMembership(context.Background())
		assert.Error(t, err)

		joined := sessionView("ext-host", "ext-p1")
		api.On("Join", mock.Anything, "sess-1").Return(&SessionResult{Session: joined}, nil).Once()
		ctrl.Sync(sessionView("ext-host"))

		state, err := ctrl.EnsureMembership(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, StateMember, state)
		api.AssertExpectations(t)
	})
}

func TestControllerCredentials(t *testing.T) {
	t.Run("members get credentials", func(t *testing.T) {
		api := new(mockSessionAPI)
		ctrl := NewController(api, "sess-1", "ext-host")
		ctrl.Sync(sessionView("ext-host"))

		creds := &stream.UserCredentials{APIKey: "key", Token: "token"}
		api.On("Credentials", mock.Anything).Return(creds, nil)

		got, err := ctrl.Credentials(context.Background())

		assert.NoError(t, err)
		assert.Equal(t, creds, got)
	})

	t.Run("non-members are refused locally", func(t *testing.T) {
		api := new(mockSessionAPI)
		ctrl := NewController(api, "sess-1", "ext-p1")

		_, err := ctrl.Credentials(context.Background())

		assert.Error(t, err)
		api.AssertNotCalled(t, "Credentials", mock.Anything)
	})
}

func TestControllerClose(t *testing.T) {
	t.Run("participant leaves on close", func(t *testing.T) {
		api := new(mockSessionAPI)
		ctrl := NewController(api, "sess-1", "ext-p1")
		ctrl.Sync(sessionView("ext-host", "ext-p1"))

		api.On("Leave", mock.Anything, "sess-1").Return(&SessionResult{}, nil).Once()

		ctrl.Close(context.Background())

		assert.Equal(t, StateUnknown, ctrl.State())
		assert.Nil(t, ctrl.Session())
		api.AssertExpectations(t)
	})

	t.Run("host does not leave on close", func(t *testing.T) {
		api := new(mockSessionAPI)
		ctrl := NewController(api, "sess-1", "ext-host")
		ctrl.Sync(sessionView("ext-host"))

		ctrl.Close(context.Background())

		api.AssertNotCalled(t, "Leave", mock.Anything, mock.Anything)
	})

	t.Run("close never propagates teardown failures", func(t *testing.T) {
		api := new(mockSessionAPI)
		ctrl := NewController(api, "sess-1", "ext-p1")
		ctrl.Sync(sessionView("ext-host", "ext-p1"))

		api.On("Leave", mock.Anything, "sess-1").Return(nil, errors.New("timeout"))

		assert.NotPanics(t, func() {
			ctrl.Close(context.Background())
		})
	})

	t.Run("close on a non-member is a no-op", func(t *testing.T) {
		api := new(mockSessionAPI)
		ctrl := NewController(api, "sess-1", "ext-p1")

		ctrl.Close(context.Background())

		api.AssertNotCalled(t, "Leave", mock.Anything, mock.Anything)
	})
}
