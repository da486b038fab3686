// Package commit implements the resolution fairness scheme: a SHA-256 hash
// binding the outcome to a random secret is published on the market before
// the secret is revealed, so the outcome cannot be altered after the fact.
// Verification is an audit aid, not a gate; a mismatch never blocks an
// already-committed resolution.
package commit

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/solcast/marketd/internal/domain"
)

// secretLen is the byte length of the random secret before hex encoding.
const secretLen = 32

// Commitment is the hash/secret pair for one resolution. The hash is stored
// immediately; the secret stays private until the resolution commits.
type Commitment struct {
	Hash   string
	Secret string
}

// New draws a fresh secret and computes the commitment hash for the given
// outcome and market.
func New(outcome domain.Outcome, marketID string) (Commitment, error) {
	buf := make([]byte, secretLen)
	if _, err := rand.Read(buf); err != nil {
		return Commitment{}, fmt.Errorf("commit: read random secret: %w", err)
	}
	secret := hex.EncodeToString(buf)
	return Commitment{
		Hash:   Hash(outcome, secret, marketID),
		Secret: secret,
	}, nil
}

// Hash computes SHA-256(outcome || secret || marketID) as lowercase hex.
func Hash(outcome domain.Outcome, secret, marketID string) string {
	h := sha256.Sum256([]byte(string(outcome) + secret + marketID))
	return hex.EncodeToString(h[:])
}

// Verify reports whether hash matches the revealed (outcome, secret,
// marketID) triple. The compare is constant-time.
func Verify(hash string, outcome domain.Outcome, secret, marketID string) bool {
	want := Hash(outcome, secret, marketID)
	return subtle.ConstantTimeCompare([]byte(hash), []byte(want)) == 1
}
