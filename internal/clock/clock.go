// Package clock wraps the monotonic wall-clock reads and identifier
// generation the rest of the agent depends on, so tests can substitute a
// fixed clock without threading a time source through every call site.
package clock

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// Clock returns whole seconds since the Unix epoch, UTC.
type Clock interface {
	Now() int64
}

// real is the Clock used in production: time.Now truncated to seconds.
type real struct{}

// New returns the production Clock.
func New() Clock {
	return real{}
}

func (real) Now() int64 {
	return nowFunc()
}

// NewID returns a fresh UUIDv4 string, used for round ids and lock owner
// pids (spec §3 Round, Execution lock).
func NewID() string {
	return uuid.NewString()
}

// SHA256Hex returns the first n hex characters of the SHA-256 digest of b.
// Used by the status projector for its tamper-detection checksum (spec
// §4.11).
func SHA256Hex(b []byte, n int) string {
	sum := sha256.Sum256(b)
	full := hex.EncodeToString(sum[:])
	if n >= len(full) {
		return full
	}
	return full[:n]
}
