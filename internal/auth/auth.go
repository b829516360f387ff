// Package auth provides the session authenticator that gates every transport
// connection, plus client-side token sources.
//
// Authentication is a one-time gate: [Authenticator.Authenticate] is called
// exactly once per connection, before any transport channel exists, and is
// never retried — a failure terminates the connection attempt. The verified
// [SessionIdentity] it produces is immutable and lives for exactly as long as
// the connection.
package auth

import "fmt"

// Reason identifies why an authentication attempt was refused. The values
// are wire-visible: the server sends them verbatim in the rejected handshake
// message.
type Reason string

const (
	// ReasonMalformed means the token could not be parsed at all.
	ReasonMalformed Reason = "Malformed"

	// ReasonExpired means the token's expiry instant has passed.
	ReasonExpired Reason = "Expired"

	// ReasonSignatureInvalid means the token's signature does not verify
	// against the trusted secret, or uses an unexpected signing method.
	ReasonSignatureInvalid Reason = "SignatureInvalid"

	// ReasonRevokedOrUnknown means the token parsed and verified but its
	// subject or token id is revoked, or a required claim is missing.
	ReasonRevokedOrUnknown Reason = "RevokedOrUnknown"
)

// AuthError is the typed error returned by [Authenticator.Authenticate].
// Exactly one [Reason] applies to every failure.
type AuthError struct {
	// Reason classifies the failure.
	Reason Reason

	// Err is the underlying parse/verification error, if any.
	Err error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("auth: %s", e.Reason)
	}
	return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Authenticator verifies a bearer token and produces a session identity.
// Implementations must be safe for concurrent use — the server authenticates
// connections from many goroutines.
type Authenticator interface {
	Authenticate(token string) (SessionIdentity, error)
}
