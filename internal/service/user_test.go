package service

import (
	"context"
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/pairprep/interview-server-go/internal/identity"
	"github.com/pairprep/interview-server-go/internal/model"
)

type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) FindByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockUserRepo) Upsert(ctx context.Context, params model.UpsertUserParams) (*model.User, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func TestUserServiceResolve(t *testing.T) {
	principal := &identity.Principal{
		ExternalID:   "ext-1",
		Name:         "Alice",
		Email:        "alice@example.com",
		ProfileImage: "https://example.com/alice.png",
	}

	t.Run("upserts the principal's user row", func(t *testing.T) {
		repo := new(mockUserRepo)
		svc := NewUserService(repo)

		want := &model.User{ID: "user-1", ExternalID: "ext-1", Name: "Alice"}
		repo.On("Upsert", mock.Anything, model.UpsertUserParams{
			ExternalID:   "ext-1",
			Name:         "Alice",
			Email:        "alice@example.com",
			ProfileImage: "https://example.com/alice.png",
		}).Return(want, nil)

		user, err := svc.Resolve(context.Background(), principal)

		assert.NoError(t, err)
		assert.Equal(t, want, user)
		repo.AssertExpectations(t)
	})

	t.Run("defaults the display name when the token has none", func(t *testing.T) {
		repo := new(mockUserRepo)
		svc := NewUserService(repo)

		repo.On("Upsert", mock.Anything, mock.MatchedBy(func(p model.UpsertUserParams) bool {
			return p.Name == "User"
		})).Return(&model.User{ID: "user-2"}, nil)

		_, err := svc.Resolve(context.Background(), &identity.Principal{ExternalID: "ext-2"})

		assert.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("falls back to external id lookup on duplicate email", func(t *testing.T) {
		repo := new(mockUserRepo)
		svc := NewUserService(repo)

		dup := &pq.Error{Code: "23505"}
		existing := &model.User{ID: "user-1", ExternalID: "ext-1"}
		repo.On("Upsert", mock.Anything, mock.Anything).Return(nil, dup)
		repo.On("FindByExternalID", mock.Anything, "ext-1").Return(existing, nil)

		user, err := svc.Resolve(context.Background(), principal)

		assert.NoError(t, err)
		assert.Equal(t, existing, user)
	})

	t.Run("falls back to email lookup when external id is unknown", func(t *testing.T) {
		repo := new(mockUserRepo)
		svc := NewUserService(repo)

		dup := &pq.Error{Code: "23505"}
		existing := &model.User{ID: "user-1", Email: "alice@example.com"}
		repo.On("Upsert", mock.Anything, mock.Anything).Return(nil, dup)
		repo.On("FindByExternalID", mock.Anything, "ext-1").Return(nil, nil)
		repo.On("FindByEmail", mock.Anything, "alice@example.com").Return(existing, nil)

		user, err := svc.Resolve(context.Background(), principal)

		assert.NoError(t, err)
		assert.Equal(t, existing, user)
	})

	t.Run("propagates non-duplicate upsert errors", func(t *testing.T) {
		repo := new(mockUserRepo)
		svc := NewUserService(repo)

		repo.On("Upsert", mock.Anything, mock.Anything).Return(nil, errors.New("db gone"))

		_, err := svc.Resolve(context.Background(), principal)

		assert.Error(t, err)
		repo.AssertNotCalled(t, "FindByExternalID", mock.Anything, mock.Anything)
	})

	t.Run("surfaces the duplicate when no fallback row exists", func(t *testing.T) {
		repo := new(mockUserRepo)
		svc := NewUserService(repo)

		dup := &pq.Error{Code: "23505"}
		repo.On("Upsert", mock.Anything, mock.Anything).Return(nil, dup)
		repo.On("FindByExternalID", mock.Anything, "ext-1").Return(nil, nil)
		repo.On("FindByEmail", mock.Anything, "alice@example.com").Return(nil, nil)

		_, err := svc.Resolve(context.Background(), principal)

		assert.Error(t, err)
	})
}
