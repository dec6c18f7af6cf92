package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btclog/v2"
)

// DefaultDir is the cache directory used when none is configured.
const DefaultDir = "disney_responses"

// ErrNotFound is returned when no entry exists for a key.
var ErrNotFound = errors.New("cache entry not found")

// Config holds configuration for the cache store.
type Config struct {
	// Dir is the root directory entries are written under.
	Dir string

	// Now is the clock used to stamp and age entries.
	Now func() time.Time

	// Log receives cache diagnostics.
	Log btclog.Logger
}

// DefaultConfig returns a config rooted at DefaultDir using the wall clock.
func DefaultConfig() Config {
	return Config{
		Dir: DefaultDir,
		Now: time.Now,
		Log: btclog.Disabled,
	}
}

// Entry is a stored payload together with the key it answers and the time
// it was written.
type Entry struct {
	// Scope identifies what the entry answers, for example an entity slug.
	Scope string

	// Date is the query date partition.
	Date string

	// Kind separates payload types that share a scope.
	Kind string

	// CreatedAt is when the entry was written. Freshness is always judged
	// against this, never against file modification times.
	CreatedAt time.Time

	// Blob is the stored payload, byte-identical to what was written. It
	// is nil for header-only lookups.
	Blob []byte
}

// Age returns how old the entry is at now.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// IsFresh reports whether the entry is younger than ttl at now. An entry is
// expired once its age reaches ttl, so a zero ttl means nothing is fresh.
func (e Entry) IsFresh(now time.Time, ttl time.Duration) bool {
	return e.Age(now) < ttl
}

// Error describes a failed cache read or write. Callers treat it as a miss
// for that key only.
type Error struct {
	// Op is the failed operation (read, write, cleanup).
	Op string

	// Path is the file or directory involved.
	Path string

	// Err is the underlying cause.
	Err error
}

// Error returns the error message.
func (e *Error) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}
