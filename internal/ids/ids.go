// Package ids mints primary keys for users, roles, permissions and refresh
// tokens. Keys are ULIDs, so rows created close together still sort by time.
package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// lockedEntropy serialises reads: ulid.Monotonic is not safe for concurrent use.
type lockedEntropy struct {
	mu  sync.Mutex
	src *ulid.MonotonicEntropy
}

func (l *lockedEntropy) Read(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.src.Read(p)
}

var entropy = &lockedEntropy{
	src: ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0),
}

// New mints a fresh identifier.
func New() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
