package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/pairprep/interview-server-go/internal/model"
)

type UserRepository interface {
	FindByExternalID(ctx context.Context, externalID string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	Upsert(ctx context.Context, params model.UpsertUserParams) (*model.User, error)
}

type userRepo struct {
	db sqlxDB
}

func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) FindByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		SELECT * FROM users WHERE external_id = $1
	`, externalID)
	return HandleNotFound(&user, err)
}

func (r *userRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		SELECT * FROM users WHERE email = $1
	`, email)
	return HandleNotFound(&user, err)
}

// Upsert creates the user on first sight of the external identity, refreshing
// profile fields on subsequent requests. A conflicting email belonging to a
// different external identity surfaces as a unique violation; callers fall
// back to an email lookup in that case.
func (r *userRepo) Upsert(ctx context.Context, params model.UpsertUserParams) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		INSERT INTO users (external_id, name, email, profile_image)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			profile_image = EXCLUDED.profile_image,
			updated_at = NOW()
		RETURNING *
	`, params.ExternalID, params.Name, params.Email, params.ProfileImage)
	if err != nil {
		return nil, err
	}
	return &user, nil
}
