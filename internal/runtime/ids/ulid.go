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

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
func CreateULID() string {
	return newULID(time.Now()).String()
}

// ExecutionID identifies one attempt at executing a task. Several attempts of
// the same task id (for example after a reconnect) get distinct execution ids.
func ExecutionID() string {
	return "exec_" + CreateULID()
}

// Time extracts the creation time encoded in a ULID or execution id.
func Time(id string) (time.Time, bool) {
	if len(id) > 26 {
		id = id[len(id)-26:]
	}
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()), true
}

func newULID(at time.Time) ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy)
}
