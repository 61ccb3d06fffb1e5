package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/pairprep/interview-server-go/internal/identity"
	"github.com/pairprep/interview-server-go/internal/model"
	"github.com/pairprep/interview-server-go/internal/repository"
)

// UserService is the user directory: it maps identity-provider principals
// to internal user rows, creating them on first sight.
type UserService struct {
	userRepo repository.UserRepository
}

func NewUserService(userRepo repository.UserRepository) *UserService {
	return &UserService{userRepo: userRepo}
}

// Resolve upserts the user row for a verified principal. When the upsert
// trips over an email already registered under a different external
// identity, the existing row wins; the principal is never left without a
// user.
func (s *UserService) Resolve(ctx context.Context, principal *identity.Principal) (*model.User, error) {
	user, err := s.userRepo.Upsert(ctx, model.UpsertUserParams{
		ExternalID:   principal.ExternalID,
		Name:         displayName(principal),
		Email:        principal.Email,
		ProfileImage: principal.ProfileImage,
	})
	if err == nil {
		return user, nil
	}

	if !repository.IsUniqueViolation(err) {
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	log.Warn().
		Str("externalId", principal.ExternalID).
		Msg("user upsert hit duplicate email, falling back to lookup")

	user, lookupErr := s.userRepo.FindByExternalID(ctx, principal.ExternalID)
	if lookupErr != nil {
		return nil, fmt.Errorf("find user by external id: %w", lookupErr)
	}
	if user != nil {
		return user, nil
	}

	if principal.Email != "" {
		user, lookupErr = s.userRepo.FindByEmail(ctx, principal.Email)
		if lookupErr != nil {
			return nil, fmt.Errorf("find user by email: %w", lookupErr)
		}
		if user != nil {
			return user, nil
		}
	}

	return nil, fmt.Errorf("upsert user: %w", err)
}

func displayName(p *identity.Principal) string {
	if p.Name != "" {
		return p.Name
	}
	return "User"
}
