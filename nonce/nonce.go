// Package nonce creates and verifies CSRF nonces tied to a named action, a
// user and a login session.
//
// A nonce is valid for one lifetime. The lifetime is split in two ticks so a
// nonce created near the end of a tick keeps working for at least half a
// lifetime.
package nonce

import (
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/zeebo/blake3"
)

// DefaultLifetime is the lifetime used when none is configured.
const DefaultLifetime = 24 * time.Hour

// Result values of Verify.
const (
	Invalid  = 0
	Current  = 1
	Previous = 2
)

// Generator creates and verifies nonces with a secret key.
type Generator struct {
	key      [32]byte
	lifetime time.Duration
	now      func() time.Time
}

// New returns a Generator whose key is derived from secret.
func New(secret string, lifetime time.Duration) *Generator {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &Generator{
		key:      blake3.Sum256([]byte(secret)),
		lifetime: lifetime,
		now:      time.Now,
	}
}

// Create returns the nonce for action in the current tick.
func (g *Generator) Create(action string, userID int, session string) string {
	return g.hash(g.tick(), action, userID, session)
}

// Verify reports whether nonce is valid for action. It returns Current when
// the nonce was created in the current tick, Previous when it was created in
// the previous one and Invalid otherwise.
func (g *Generator) Verify(nonce, action string, userID int, session string) int {
	if nonce == "" {
		return Invalid
	}
	tick := g.tick()
	if equal(nonce, g.hash(tick, action, userID, session)) {
		return Current
	}
	if equal(nonce, g.hash(tick-1, action, userID, session)) {
		return Previous
	}
	return Invalid
}

func (g *Generator) tick() int64 {
	half := int64(g.lifetime/time.Second) / 2
	if half < 1 {
		half = 1
	}
	now := g.now().Unix()
	return (now + half - 1) / half
}

func (g *Generator) hash(tick int64, action string, userID int, session string) string {
	h, err := blake3.NewKeyed(g.key[:])
	if err != nil {
		panic("nonce: keyed hash initialization failed: " + err.Error())
	}
	h.Write([]byte(strconv.FormatInt(tick, 10) + "|" + action + "|" + strconv.Itoa(userID) + "|" + session))
	sum := hex.EncodeToString(h.Sum(nil))
	return sum[len(sum)-12 : len(sum)-2]
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
