// Package stream is the adapter for the external realtime provider backing
// each session's video call and chat channel. It holds no session state;
// every operation is keyed by the session's callId.
package stream

import (
	"context"
)

// CallMetadata is attached to a call at creation time.
type CallMetadata struct {
	CreatedByID string `json:"created_by_id"`
	Problem     string `json:"problem"`
	Difficulty  string `json:"difficulty"`
	SessionID   string `json:"session_id"`
}

// ChannelMetadata is attached to a chat channel at creation time.
type ChannelMetadata struct {
	Name        string   `json:"name"`
	CreatedByID string   `json:"created_by_id"`
	Members     []string `json:"members,omitempty"`
}

// Provisioner creates and tears down provider-side resources for a session.
// The lifecycle manager decides per call whether a failure is fatal (create
// path) or tolerated (teardown and membership-removal paths).
type Provisioner interface {
	CreateCall(ctx context.Context, callID string, meta CallMetadata) error
	DeleteCall(ctx context.Context, callID string) error
	CreateChatChannel(ctx context.Context, callID string, meta ChannelMetadata) error
	DeleteChatChannel(ctx context.Context, callID string) error
	AddMembers(ctx context.Context, callID string, externalIDs []string) error
	RemoveMembers(ctx context.Context, callID string, externalIDs []string) error
}
