// Package token implements the join-token codec: HMAC-SHA256 signing and
// verification of the short-lived bearer credential a client presents to
// attach to a room. It replaces the JWKS/asymmetric validation the session
// service used for its auth0-issued tokens with symmetric HS256 keyed by a
// single process-wide shared secret, since this service mints its own
// tokens rather than trusting a third-party identity provider.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// FailKind enumerates the ways verify can fail, matching the codes a caller
// needs to decide how to respond (401 at the Front Door, or an in-band error).
type FailKind string

const (
	FailNone         FailKind = ""
	FailMalformed    FailKind = "malformed"
	FailBadSignature FailKind = "bad-signature"
	FailBadHeader    FailKind = "bad-header"
	FailBadPayload   FailKind = "bad-payload"
	FailExpired      FailKind = "expired"
	FailRoomMismatch FailKind = "room-mismatch"
)

// Claims is the join token's payload: sub/room/name plus the registered
// exp/iat/jti fields.
type Claims struct {
	Room string `json:"room"`
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// VerifyError wraps a FailKind so callers can branch on it with errors.As.
type VerifyError struct {
	Kind FailKind
}

func (e *VerifyError) Error() string {
	return "token: " + string(e.Kind)
}

func fail(kind FailKind) (*Claims, FailKind, error) {
	return nil, kind, &VerifyError{Kind: kind}
}

// Sign emits a compact HS256 JWT: base64url(header).base64url(payload).base64url(HMAC-SHA256(...)).
func Sign(claims Claims, secret string) (string, error) {
	if secret == "" {
		return "", errors.New("token: empty secret")
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(secret))
}

// VerifyOptions constrains what a verified token must additionally satisfy.
type VerifyOptions struct {
	ExpectedRoom string
	Now          time.Time
}

// Verify checks the signature, decodes claims, and enforces exp and room
// binding. It never panics on attacker-controlled input; every failure mode
// returns a FailKind a caller can map to a wire error code.
func Verify(tokenString string, secret string, opts VerifyOptions) (*Claims, FailKind, error) {
	if tokenString == "" {
		return fail(FailMalformed)
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("token: unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(func() time.Time { return now }))

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return fail(FailMalformed)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return fail(FailBadSignature)
		case errors.Is(err, jwt.ErrTokenExpired):
			return fail(FailExpired)
		case errors.Is(err, jwt.ErrTokenUnverifiable):
			return fail(FailBadHeader)
		default:
			return fail(FailBadPayload)
		}
	}
	if parsed == nil || !parsed.Valid {
		return fail(FailBadSignature)
	}

	if claims.Subject == "" || claims.Room == "" || claims.ExpiresAt == nil {
		return fail(FailBadPayload)
	}
	if !claims.ExpiresAt.After(now) {
		return fail(FailExpired)
	}

	if opts.ExpectedRoom != "" && claims.Room != opts.ExpectedRoom {
		return fail(FailRoomMismatch)
	}

	return claims, FailNone, nil
}
