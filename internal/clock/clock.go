// Package clock provides the time source and reference generator used by
// the ledger and the order state machine. Both are injected so tests can
// pin time and make references deterministic.
package clock

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock is the time source for the core services.
type Clock interface {
	Now() time.Time
}

// System is a Clock backed by time.Now.
type System struct{}

// Now returns the current time.
func (System) Now() time.Time {
	return time.Now()
}

// Fixed is a Clock pinned to a settable instant, for tests.
type Fixed struct {
	T time.Time
}

// Now returns the pinned instant.
func (f *Fixed) Now() time.Time {
	return f.T
}

// Advance moves the pinned instant forward.
func (f *Fixed) Advance(d time.Duration) {
	f.T = f.T.Add(d)
}

// RefGenerator produces globally unique ledger references.
type RefGenerator struct {
	clock Clock
}

// NewRefGenerator creates a reference generator on the given clock.
func NewRefGenerator(c Clock) *RefGenerator {
	return &RefGenerator{clock: c}
}

// Next returns a new reference with the given prefix, e.g. "TXN".
// The reference combines nanosecond time with a random suffix so that
// two references generated on the same clock tick never collide.
func (g *RefGenerator) Next(prefix string) string {
	now := g.clock.Now().UnixNano()
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		// crypto/rand never fails on supported platforms; fall back to
		// the low bits of the timestamp rather than panic mid-post.
		for i := range suffix {
			suffix[i] = byte(now >> (8 * i))
		}
	}
	return fmt.Sprintf("%s-%s-%s",
		strings.ToUpper(prefix),
		strings.ToUpper(strconv.FormatInt(now, 36)),
		strings.ToUpper(hex.EncodeToString(suffix)),
	)
}
