package revocation

import (
	"context"
	"time"
)

// Registry tracks token identifiers invalidated before their natural
// expiry. Entries only need to live until the token would have expired
// anyway; both backends drop them afterwards.
//
// Callers should fail open on IsRevoked errors: logout is best-effort and
// token expiry is the hard backstop. Failing closed would turn a registry
// outage into a full authentication outage.
type Registry interface {
	// Revoke records jti until expiresAt. Revoking an already-expired
	// token is a no-op.
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	// IsRevoked reports whether jti was revoked and has not yet aged out.
	IsRevoked(ctx context.Context, jti string) (bool, error)
}
