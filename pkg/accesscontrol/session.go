package accesscontrol

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// SessionsCollection is the persistence.Port collection name for sessions.
const SessionsCollection = "sessions"

// Session is the persisted session record (spec §3). The opaque token
// itself is never persisted — only its hash — so a Persistence Port leak
// cannot be used to forge sessions.
type Session struct {
	ID              string    `json:"id"` // equals TokenHash; used as the record id for direct lookup
	TokenHash       string    `json:"token_hash"`
	UserID          string    `json:"user_id"`
	TenantID        string    `json:"tenant_id"`
	PasswordVersion int       `json:"password_version"` // snapshot of User.PasswordVersion at mint time
	IssuedAt        time.Time `json:"issued_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	Revoked         bool      `json:"revoked"`
}

func (s Session) Live(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}

// tokenCodec mints opaque bearer tokens and hashes them for storage/lookup.
// Hashing is HMAC-SHA256 keyed by the deployment secret rather than plain
// SHA-256, so a Persistence Port dump alone cannot be used to enumerate
// valid hashes for a guessed token (spec §4.3 "opaque to clients").
type tokenCodec struct {
	secret []byte
}

func newTokenCodec(secret string) tokenCodec {
	return tokenCodec{secret: []byte(secret)}
}

// mint generates a new opaque token and its storage hash.
func (c tokenCodec) mint() (token, hash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generating session token: %w", err)
	}
	token = hex.EncodeToString(raw)
	return token, c.hash(token), nil
}

func (c tokenCodec) hash(token string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}
