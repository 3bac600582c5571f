package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func claimsFor(sub, room string, ttl time.Duration, now time.Time) Claims {
	return Claims{
		Room: room,
		Name: "Alice",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func TestSignVerify_RoundTrip(t *testing.T) {
	now := time.Now()
	c := claimsFor("alice", "R", 2*time.Minute, now)

	tok, err := Sign(c, "shh")
	require.NoError(t, err)

	got, kind, err := Verify(tok, "shh", VerifyOptions{Now: now.Add(time.Second)})
	require.NoError(t, err)
	assert.Equal(t, FailNone, kind)
	assert.Equal(t, "alice", got.Subject)
	assert.Equal(t, "R", got.Room)
	assert.Equal(t, "Alice", got.Name)
}

func TestVerify_ExpectedRoomMatch(t *testing.T) {
	now := time.Now()
	c := claimsFor("bob", "room-42", time.Minute, now)
	tok, err := Sign(c, "shh")
	require.NoError(t, err)

	_, kind, err := Verify(tok, "shh", VerifyOptions{ExpectedRoom: "room-42", Now: now})
	require.NoError(t, err)
	assert.Equal(t, FailNone, kind)
}

func TestVerify_RoomMismatch(t *testing.T) {
	now := time.Now()
	c := claimsFor("bob", "room-42", time.Minute, now)
	tok, err := Sign(c, "shh")
	require.NoError(t, err)

	_, kind, err := Verify(tok, "shh", VerifyOptions{ExpectedRoom: "other-room", Now: now})
	require.Error(t, err)
	assert.Equal(t, FailRoomMismatch, kind)
}

func TestVerify_Expired(t *testing.T) {
	now := time.Now()
	c := claimsFor("bob", "R", -time.Minute, now.Add(-2*time.Minute))
	tok, err := Sign(c, "shh")
	require.NoError(t, err)

	_, kind, err := Verify(tok, "shh", VerifyOptions{Now: now})
	require.Error(t, err)
	assert.Equal(t, FailExpired, kind)
}

func TestVerify_BadSignature(t *testing.T) {
	now := time.Now()
	c := claimsFor("bob", "R", time.Minute, now)
	tok, err := Sign(c, "shh")
	require.NoError(t, err)

	_, kind, err := Verify(tok, "wrong-secret", VerifyOptions{Now: now})
	require.Error(t, err)
	assert.Equal(t, FailBadSignature, kind)
}

func TestVerify_Malformed(t *testing.T) {
	_, kind, err := Verify("not-a-jwt", "shh", VerifyOptions{})
	require.Error(t, err)
	assert.Equal(t, FailMalformed, kind)

	_, kind, err = Verify("a.b", "shh", VerifyOptions{})
	require.Error(t, err)
	assert.Equal(t, FailMalformed, kind)
}

func TestVerify_MissingRoomOrSubject(t *testing.T) {
	now := time.Now()
	c := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}
	tok, err := Sign(c, "shh")
	require.NoError(t, err)

	_, kind, err := Verify(tok, "shh", VerifyOptions{Now: now})
	require.Error(t, err)
	assert.Equal(t, FailBadPayload, kind)
}

func TestVerify_RejectsAlgNone(t *testing.T) {
	// A token signed with "none" must never verify, even without a secret.
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, claimsFor("eve", "R", time.Minute, time.Now()))
	tok, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, kind, err := Verify(tok, "shh", VerifyOptions{})
	require.Error(t, err)
	assert.NotEqual(t, FailNone, kind)
}
