// Package turnauth mints short-lived TURN REST API credentials: a
// username of "<expiresAt>:<userId>" and a password derived by
// HMAC-SHA1 over that username, keyed by a shared secret configured on
// the TURN server itself. The derivation is stdlib crypto/hmac +
// crypto/sha1, the same primitives the TURN REST API convention has used
// since rfc5766-turn-server popularized it; no third-party library in the
// retrieved pack implements this narrow, fixed-format derivation, so
// reaching for one would only wrap two stdlib calls.
package turnauth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"time"
)

// Credentials is the minted (username, credential, ttl) triple.
type Credentials struct {
	Username   string
	Credential string
	TTLSeconds int
}

// Mint derives ephemeral TURN credentials for userID, valid for ttl.
// It returns (nil, false) when sharedSecret is empty: no shared secret
// configured means no TURN block should appear in a response.
func Mint(userID string, sharedSecret string, ttl time.Duration, now time.Time) (*Credentials, bool) {
	if sharedSecret == "" {
		return nil, false
	}

	ttlSeconds := int(ttl / time.Second)
	expiresAt := now.Unix() + int64(ttlSeconds)
	username := fmt.Sprintf("%d:%s", expiresAt, userID)

	mac := hmac.New(sha1.New, []byte(sharedSecret))
	mac.Write([]byte(username))
	credential := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return &Credentials{
		Username:   username,
		Credential: credential,
		TTLSeconds: ttlSeconds,
	}, true
}

// ClampTTL enforces the configured-TTL floor of 60s with a default of 3600s.
func ClampTTL(seconds int) time.Duration {
	if seconds <= 0 {
		seconds = 3600
	}
	if seconds < 60 {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second
}
