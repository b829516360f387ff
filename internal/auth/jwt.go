package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// Compile-time interface assertion.
var _ Authenticator = (*JWTAuthenticator)(nil)

// SessionIdentity is the verified identity produced by a successful
// authentication: the subject, the token's expiry instant, and a freshly
// generated unique session id. Immutable; owned by the transport channel for
// the life of the connection.
type SessionIdentity struct {
	// Subject is the verified token subject ("sub" claim).
	Subject string

	// ExpiresAt is the token's expiry instant ("exp" claim).
	ExpiresAt time.Time

	// SessionID uniquely identifies this connection's session.
	SessionID string
}

// JWTAuthenticator verifies HMAC-SHA256 signed JWTs against a shared secret.
// Only HMAC signing methods are accepted; a token signed with any other
// method fails with [ReasonSignatureInvalid] (algorithm confusion is treated
// as a forged signature, not a malformed token).
//
// Safe for concurrent use. The revocation list may be swapped at runtime via
// [JWTAuthenticator.SetRevoked] (config hot-reload).
type JWTAuthenticator struct {
	secret []byte
	parser *jwt.Parser

	mu      sync.RWMutex
	revoked map[string]struct{}
}

// NewJWT creates an authenticator verifying against secret. revoked lists
// token ids and subjects refused at the gate; it may be empty.
func NewJWT(secret []byte, revoked []string) (*JWTAuthenticator, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: signing secret must not be empty")
	}
	a := &JWTAuthenticator{
		secret: secret,
		// Expiry is strict: no leeway.
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})),
	}
	a.SetRevoked(revoked)
	return a, nil
}

// SetRevoked replaces the revocation list. Applies to subsequent
// authentications only; live sessions are not torn down.
func (a *JWTAuthenticator) SetRevoked(revoked []string) {
	set := make(map[string]struct{}, len(revoked))
	for _, r := range revoked {
		set[r] = struct{}{}
	}
	a.mu.Lock()
	a.revoked = set
	a.mu.Unlock()
}

// Authenticate implements [Authenticator]. Every failure is an *[AuthError]
// carrying exactly one [Reason].
func (a *JWTAuthenticator) Authenticate(token string) (SessionIdentity, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := a.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return SessionIdentity{}, &AuthError{Reason: classify(err), Err: err}
	}

	// The library only validates exp when the claim is present; a token
	// without an expiry is refused outright.
	if claims.ExpiresAt == nil {
		return SessionIdentity{}, &AuthError{Reason: ReasonRevokedOrUnknown,
			Err: errors.New("token has no expiry claim")}
	}
	if claims.Subject == "" {
		return SessionIdentity{}, &AuthError{Reason: ReasonRevokedOrUnknown,
			Err: errors.New("token has no subject claim")}
	}

	a.mu.RLock()
	_, subjectRevoked := a.revoked[claims.Subject]
	_, idRevoked := a.revoked[claims.ID]
	a.mu.RUnlock()
	if subjectRevoked || (claims.ID != "" && idRevoked) {
		return SessionIdentity{}, &AuthError{Reason: ReasonRevokedOrUnknown,
			Err: errors.New("token subject or id is revoked")}
	}

	return SessionIdentity{
		Subject:   claims.Subject,
		ExpiresAt: claims.ExpiresAt.Time,
		SessionID: uuid.NewString(),
	}, nil
}

// classify maps a jwt parse/verification error to the one matching [Reason].
func classify(err error) Reason {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return ReasonSignatureInvalid
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ReasonMalformed
	default:
		return ReasonRevokedOrUnknown
	}
}
