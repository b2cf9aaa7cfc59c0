// Package ids generates the message identifiers producers attach to events.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a ULID stamped with the current time.
func CreateULID() string {
	return NewAt(time.Now())
}

// NewAt returns a 26-character ULID whose timestamp part is t, so message
// IDs sort by when the event happened. A zero t means now.
func NewAt(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}

	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Time returns the timestamp encoded in id.
func Time(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()).UTC(), nil
}
