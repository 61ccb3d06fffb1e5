// Package identity resolves bearer tokens issued by the external identity
// provider into principals. The server never stores credentials of its own;
// a verified principal is lazily materialized as a user row on first sight.
package identity

import (
	"context"
)

// Principal is the provider-side identity carried by a verified token.
type Principal struct {
	ExternalID   string
	Name         string
	Email        string
	ProfileImage string
}

// Verifier validates a bearer token and extracts the principal it asserts.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}
