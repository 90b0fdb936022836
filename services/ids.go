package services

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// newID returns a ULID; ids sort by creation time.
func newID() string {
	return ulid.Make().String()
}

// now is truncated to microseconds so timestamps survive a round trip
// through PostgreSQL unchanged.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
