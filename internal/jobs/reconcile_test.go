package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/pairprep/interview-server-go/internal/model"
	"github.com/pairprep/interview-server-go/internal/repository"
	"github.com/pairprep/interview-server-go/internal/stream"
)

type mockSessionRepo struct {
	mock.Mock
}

func (m *mockSessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionRepo) FindDetail(ctx context.Context, id string) (*model.SessionDetail, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SessionDetail), args.Error(1)
}

func (m *mockSessionRepo) ListByStatus(ctx context.Context, status model.SessionStatus, limit int) ([]model.SessionDetail, error) {
	args := m.Called(ctx, status, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.SessionDetail), args.Error(1)
}

func (m *mockSessionRepo) ListByMember(ctx context.Context, userID string, status model.SessionStatus, limit int) ([]model.SessionDetail, error) {
	args := m.Called(ctx, userID, status, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.SessionDetail), args.Error(1)
}

func (m *mockSessionRepo) AddParticipant(ctx context.Context, sessionID, userID string) (bool, error) {
	args := m.Called(ctx, sessionID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockSessionRepo) RemoveParticipant(ctx context.Context, sessionID, userID string) (bool, error) {
	args := m.Called(ctx, sessionID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockSessionRepo) MarkCompleted(ctx context.Context, id string, resourcesReleased bool) error {
	args := m.Called(ctx, id, resourcesReleased)
	return args.Error(0)
}

func (m *mockSessionRepo) MarkReleased(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockSessionRepo) ListUnreleased(ctx context.Context, limit int) ([]model.Session, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Session), args.Error(1)
}

func (m *mockSessionRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockSessionRepo) WithTx(tx *sqlx.Tx) repository.SessionRepository {
	return m
}

type mockProvisioner struct {
	mock.Mock
}

func (m *mockProvisioner) CreateCall(ctx context.Context, callID string, meta stream.CallMetadata) error {
	args := m.Called(ctx, callID, meta)
	return args.Error(0)
}

func (m *mockProvisioner) DeleteCall(ctx context.Context, callID string) error {
	args := m.Called(ctx, callID)
	return args.Error(0)
}

func (m *mockProvisioner) CreateChatChannel(ctx context.Context, callID string, meta stream.ChannelMetadata) error {
	args := m.Called(ctx, callID, meta)
	return args.Error(0)
}

func (m *mockProvisioner) DeleteChatChannel(ctx context.Context, callID string) error {
	args := m.Called(ctx, callID)
	return args.Error(0)
}

func (m *mockProvisioner) AddMembers(ctx context.Context, callID string, externalIDs []string) error {
	args := m.Called(ctx, callID, externalIDs)
	return args.Error(0)
}

func (m *mockProvisioner) RemoveMembers(ctx context.Context, callID string, externalIDs []string) error {
	args := m.Called(ctx, callID, externalIDs)
	return args.Error(0)
}

func leakedSession(id, callID string) model.Session {
	return model.Session{
		ID:                id,
		Status:            model.SessionStatusCompleted,
		CallID:            callID,
		ResourcesReleased: false,
	}
}

func TestReconcileReleasesLeakedResources(t *testing.T) {
	repo := new(mockSessionRepo)
	prov := new(mockProvisioner)
	job := NewReconcileJob(repo, prov, time.Minute)

	repo.On("ListUnreleased", mock.Anything, reconcileBatchSize).Return([]model.Session{
		leakedSession("sess-1", "call-1"),
		leakedSession("sess-2", "call-2"),
	}, nil)
	prov.On("DeleteCall", mock.Anything, "call-1").Return(nil)
	prov.On("DeleteChatChannel", mock.Anything, "call-1").Return(nil)
	repo.On("MarkReleased", mock.Anything, "sess-1").Return(nil)
	prov.On("DeleteCall", mock.Anything, "call-2").Return(nil)
	prov.On("DeleteChatChannel", mock.Anything, "call-2").Return(nil)
	repo.On("MarkReleased", mock.Anything, "sess-2").Return(nil)

	job.reconcile()

	repo.AssertExpectations(t)
	prov.AssertExpectations(t)
}

func TestReconcileKeepsSessionUnreleasedOnFailure(t *testing.T) {
	t.Run("call deletion fails", func(t *testing.T) {
		repo := new(mockSessionRepo)
		prov := new(mockProvisioner)
		job := NewReconcileJob(repo, prov, time.Minute)

		repo.On("ListUnreleased", mock.Anything, reconcileBatchSize).
			Return([]model.Session{leakedSession("sess-1", "call-1")}, nil)
		prov.On("DeleteCall", mock.Anything, "call-1").Return(errors.New("provider down"))

		job.reconcile()

		repo.AssertNotCalled(t, "MarkReleased", mock.Anything, mock.Anything)
		prov.AssertNotCalled(t, "DeleteChatChannel", mock.Anything, mock.Anything)
	})

	t.Run("chat deletion fails", func(t *testing.T) {
		repo := new(mockSessionRepo)
		prov := new(mockProvisioner)
		job := NewReconcileJob(repo, prov, time.Minute)

		repo.On("ListUnreleased", mock.Anything, reconcileBatchSize).
			Return([]model.Session{leakedSession("sess-1", "call-1")}, nil)
		prov.On("DeleteCall", mock.Anything, "call-1").Return(nil)
		prov.On("DeleteChatChannel", mock.Anything, "call-1").Return(errors.New("provider down"))

		job.reconcile()

		repo.AssertNotCalled(t, "MarkReleased", mock.Anything, mock.Anything)
	})
}

func TestReconcileToleratesListFailure(t *testing.T) {
	repo := new(mockSessionRepo)
	prov := new(mockProvisioner)
	job := NewReconcileJob(repo, prov, time.Minute)

	repo.On("ListUnreleased", mock.Anything, reconcileBatchSize).Return(nil, errors.New("db gone"))

	assert.NotPanics(t, job.reconcile)
	prov.AssertNotCalled(t, "DeleteCall", mock.Anything, mock.Anything)
}

func TestReconcileJobStartStop(t *testing.T) {
	repo := new(mockSessionRepo)
	prov := new(mockProvisioner)
	job := NewReconcileJob(repo, prov, time.Hour)

	repo.On("ListUnreleased", mock.Anything, reconcileBatchSize).Return([]model.Session{}, nil)

	job.Start()
	time.Sleep(20 * time.Millisecond)
	job.Stop()

	repo.AssertCalled(t, "ListUnreleased", mock.Anything, reconcileBatchSize)
}
