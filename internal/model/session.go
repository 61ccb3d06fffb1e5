package model

import (
	"time"
)

type Session struct {
	ID                string        `db:"id" json:"id"`
	Problem           string        `db:"problem" json:"problem"`
	Difficulty        Difficulty    `db:"difficulty" json:"difficulty"`
	HostID            string        `db:"host_id" json:"hostId"`
	MaxParticipants   int           `db:"max_participants" json:"maxParticipants"`
	Status            SessionStatus `db:"status" json:"status"`
	CallID            string        `db:"call_id" json:"callId"`
	ResourcesReleased bool          `db:"resources_released" json:"-"`
	CreatedAt         time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updatedAt"`
}

type CreateSessionParams struct {
	Problem         string
	Difficulty      Difficulty
	HostID          string
	MaxParticipants int
	CallID          string
}

// SessionDetail is a session with its host and participants loaded,
// participants in join order.
type SessionDetail struct {
	Session
	Host         User
	Participants []User
}

func (d *SessionDetail) IsHost(userID string) bool {
	return d.HostID == userID
}

func (d *SessionDetail) HasParticipant(userID string) bool {
	for _, p := range d.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// SessionView is the wire representation of a session. Host and participants
// are expanded to user summaries; everything else mirrors the stored row.
type SessionView struct {
	ID              string        `json:"id"`
	Problem         string        `json:"problem"`
	Difficulty      Difficulty    `json:"difficulty"`
	Host            UserSummary   `json:"host"`
	Participants    []UserSummary `json:"participants"`
	MaxParticipants int           `json:"maxParticipants"`
	Status          SessionStatus `json:"status"`
	CallID          string        `json:"callId"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

func (d *SessionDetail) View() SessionView {
	participants := make([]UserSummary, 0, len(d.Participants))
	for _, p := range d.Participants {
		participants = append(participants, p.Summary())
	}
	return SessionView{
		ID:              d.ID,
		Problem:         d.Problem,
		Difficulty:      d.Difficulty,
		Host:            d.Host.Summary(),
		Participants:    participants,
		MaxParticipants: d.MaxParticipants,
		Status:          d.Status,
		CallID:          d.CallID,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}
