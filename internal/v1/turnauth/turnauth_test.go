package turnauth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMint_NoSecretConfigured(t *testing.T) {
	creds, ok := Mint("alice", "", time.Hour, time.Now())
	assert.False(t, ok)
	assert.Nil(t, creds)
}

func TestMint_DerivesExpectedShape(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	creds, ok := Mint("alice", "turn-secret", time.Hour, now)
	require.True(t, ok)
	require.NotNil(t, creds)

	wantExpiry := now.Unix() + 3600
	wantUsername := fmt.Sprintf("%d:alice", wantExpiry)
	assert.Equal(t, wantUsername, creds.Username)
	assert.Equal(t, 3600, creds.TTLSeconds)

	mac := hmac.New(sha1.New, []byte("turn-secret"))
	mac.Write([]byte(wantUsername))
	wantCredential := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	assert.Equal(t, wantCredential, creds.Credential)
}

func TestMint_DifferentSecretsDiverge(t *testing.T) {
	now := time.Now()
	a, _ := Mint("bob", "secret-a", time.Minute, now)
	b, _ := Mint("bob", "secret-b", time.Minute, now)
	assert.NotEqual(t, a.Credential, b.Credential)
}

func TestClampTTL(t *testing.T) {
	assert.Equal(t, 3600*time.Second, ClampTTL(0))
	assert.Equal(t, 3600*time.Second, ClampTTL(-5))
	assert.Equal(t, 60*time.Second, ClampTTL(10))
	assert.Equal(t, 120*time.Second, ClampTTL(120))
}
