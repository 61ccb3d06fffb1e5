package model

import (
	"time"
)

type User struct {
	ID           string    `db:"id" json:"id"`
	ExternalID   string    `db:"external_id" json:"externalId"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	ProfileImage string    `db:"profile_image" json:"profileImage"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

type UpsertUserParams struct {
	ExternalID   string
	Name         string
	Email        string
	ProfileImage string
}

// UserSummary is the user shape embedded in session responses.
type UserSummary struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	ProfileImage string `json:"profileImage"`
	ExternalID   string `json:"externalId"`
}

func (u User) Summary() UserSummary {
	return UserSummary{
		Name:         u.Name,
		Email:        u.Email,
		ProfileImage: u.ProfileImage,
		ExternalID:   u.ExternalID,
	}
}
