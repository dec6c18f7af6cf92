// Package cache persists raw upstream payloads on local disk, keyed by
// (scope, date, kind). Each entry lives in its own file so that a write is
// a single atomic rename and readers never observe a partially written
// entry.
//
// Layout:
//
//	<dir>/<date>/<kind>-<slug>-<hash>.entry
//
// The file starts with one JSON header line carrying the key and creation
// time, followed by the payload exactly as it was written.
package cache

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// entryVersion is the header format version.
	entryVersion = 1

	entrySuffix = ".entry"
	tempPrefix  = ".tmp-"

	// hashLen is the number of hex characters of the key digest kept in
	// the file name.
	hashLen = 16

	// maxSlugLen bounds the readable part of a file name.
	maxSlugLen = 48
)

// errCorrupt marks an entry file whose header cannot be trusted.
var errCorrupt = errors.New("corrupt entry")

// header is the first line of every entry file.
type header struct {
	Version   int       `json:"v"`
	Scope     string    `json:"scope"`
	Date      string    `json:"date"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a directory-backed cache of upstream payloads. It is safe for
// concurrent use within a single process.
type Store struct {
	cfg Config
}

// NewStore creates a store rooted at cfg.Dir, creating the directory if it
// does not exist.
func NewStore(cfg Config) (*Store, error) {
	defaults := DefaultConfig()
	if cfg.Dir == "" {
		cfg.Dir = defaults.Dir
	}
	if cfg.Now == nil {
		cfg.Now = defaults.Now
	}
	if cfg.Log == nil {
		cfg.Log = defaults.Log
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, &Error{Op: "init", Path: cfg.Dir, Err: err}
	}

	return &Store{cfg: cfg}, nil
}

// Dir returns the root directory of the store.
func (s *Store) Dir() string {
	return s.cfg.Dir
}

// Now returns the current time according to the store's clock.
func (s *Store) Now() time.Time {
	return s.cfg.Now()
}

// Has reports whether a readable entry exists for the key, regardless of
// its age.
func (s *Store) Has(scope, date, kind string) bool {
	_, err := s.Entry(scope, date, kind)
	return err == nil
}

// IsFresh reports whether an entry exists for the key and is younger than
// ttl.
func (s *Store) IsFresh(scope, date, kind string, ttl time.Duration) bool {
	e, err := s.Entry(scope, date, kind)
	if err != nil {
		return false
	}

	return e.IsFresh(s.cfg.Now(), ttl)
}

// Entry returns the key and creation time of an entry without loading its
// payload. It returns ErrNotFound if there is no entry.
func (s *Store) Entry(scope, date, kind string) (Entry, error) {
	return s.lookup(scope, date, kind, false)
}

// Read returns the stored payload for the key. It returns ErrNotFound if
// there is no entry.
func (s *Store) Read(scope, date, kind string) ([]byte, error) {
	e, err := s.lookup(scope, date, kind, true)
	if err != nil {
		return nil, err
	}

	return e.Blob, nil
}

// Load returns the full entry, payload included.
func (s *Store) Load(scope, date, kind string) (Entry, error) {
	return s.lookup(scope, date, kind, true)
}

// Write stores blob under the key, replacing any previous entry. The entry
// is written to a temporary file in the same directory, synced, and renamed
// into place, so concurrent readers see either the old or the new entry.
func (s *Store) Write(scope, date, kind string, blob []byte) error {
	dir := s.dateDir(date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &Error{Op: "write", Path: dir, Err: err}
	}

	hdr, err := json.Marshal(header{
		Version:   entryVersion,
		Scope:     scope,
		Date:      date,
		Kind:      kind,
		CreatedAt: s.cfg.Now(),
	})
	if err != nil {
		return &Error{Op: "write", Path: dir, Err: err}
	}

	path := s.entryPath(scope, date, kind)
	if err := writeAtomic(dir, path, hdr, blob); err != nil {
		return &Error{Op: "write", Path: path, Err: err}
	}

	s.cfg.Log.Debugf("Cached %s %q for %s (%d bytes)", kind, scope, date,
		len(blob))

	return nil
}

// writeAtomic writes header and blob into a temp file in dir and renames it
// to path.
func writeAtomic(dir, path string, hdr, blob []byte) error {
	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Remove the temp file on any failure below. After a successful rename
	// this is a no-op error we ignore.
	defer os.Remove(tmpName)

	w := bufio.NewWriter(tmp)
	if _, err := w.Write(hdr); err != nil {
		tmp.Close()
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		tmp.Close()
		return err
	}
	if _, err := w.Write(blob); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Cleanup removes every entry whose age has reached retention, along with
// entry files that can no longer be read and temp files left behind by
// interrupted writes. Date directories left empty are removed. It returns
// the number of entries removed. Running it twice in a row removes nothing
// the second time.
func (s *Store) Cleanup(retention time.Duration) (int, error) {
	now := s.cfg.Now()

	dates, err := os.ReadDir(s.cfg.Dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return 0, nil
	case err != nil:
		return 0, &Error{Op: "cleanup", Path: s.cfg.Dir, Err: err}
	}

	var (
		removed int
		errs    []error
	)
	for _, d := range dates {
		if !d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}

		dir := filepath.Join(s.cfg.Dir, d.Name())
		n, err := s.cleanupDir(dir, now, retention)
		removed += n
		if err != nil {
			errs = append(errs, err)
		}
	}

	s.cfg.Log.Infof("Cache cleanup removed %d entries older than %v",
		removed, retention)

	return removed, errors.Join(errs...)
}

// cleanupDir sweeps a single date directory.
func (s *Store) cleanupDir(
	dir string, now time.Time, retention time.Duration,
) (int, error) {

	files, err := os.ReadDir(dir)
	if err != nil {
		return 0, &Error{Op: "cleanup", Path: dir, Err: err}
	}

	var (
		removed int
		kept    int
		errs    []error
	)
	for _, f := range files {
		path := filepath.Join(dir, f.Name())

		switch {
		case strings.HasPrefix(f.Name(), tempPrefix):
			info, err := f.Info()
			if err == nil && now.Sub(info.ModTime()) < retention {
				kept++
				continue
			}
			if err := os.Remove(path); err != nil &&
				!errors.Is(err, fs.ErrNotExist) {

				errs = append(errs, &Error{
					Op: "cleanup", Path: path, Err: err,
				})
				kept++
			}

		case strings.HasSuffix(f.Name(), entrySuffix):
			e, err := readEntry(path, false)
			switch {
			// Removed by a concurrent sweep.
			case errors.Is(err, ErrNotFound):
				continue

			case errors.Is(err, errCorrupt):
				s.cfg.Log.Warnf("Removing unreadable cache entry "+
					"%s: %v", path, err)

			// An I/O failure says nothing about the entry's age.
			case err != nil:
				errs = append(errs, err)
				kept++
				continue

			case e.Age(now) < retention:
				kept++
				continue
			}

			if err := os.Remove(path); err != nil &&
				!errors.Is(err, fs.ErrNotExist) {

				errs = append(errs, &Error{
					Op: "cleanup", Path: path, Err: err,
				})
				kept++
				continue
			}
			removed++

		default:
			kept++
		}
	}

	if kept == 0 {
		if err := os.Remove(dir); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {

			errs = append(errs, &Error{
				Op: "cleanup", Path: dir, Err: err,
			})
		}
	}

	return removed, errors.Join(errs...)
}

// Dates returns the date partitions currently present, in ascending order.
func (s *Store) Dates() ([]string, error) {
	dirs, err := os.ReadDir(s.cfg.Dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, &Error{Op: "list", Path: s.cfg.Dir, Err: err}
	}

	var dates []string
	for _, d := range dirs {
		if d.IsDir() && !strings.HasPrefix(d.Name(), ".") {
			dates = append(dates, d.Name())
		}
	}

	return dates, nil
}

// Count returns how many entries of the given kind exist for a date.
func (s *Store) Count(date, kind string) (int, error) {
	dir := s.dateDir(date)

	files, err := os.ReadDir(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return 0, nil
	case err != nil:
		return 0, &Error{Op: "list", Path: dir, Err: err}
	}

	prefix := slug(kind) + "-"

	var n int
	for _, f := range files {
		name := f.Name()
		if strings.HasPrefix(name, prefix) &&
			strings.HasSuffix(name, entrySuffix) {

			n++
		}
	}

	return n, nil
}

// lookup reads the entry for a key and checks that its header really
// belongs to that key.
func (s *Store) lookup(
	scope, date, kind string, withBlob bool,
) (Entry, error) {

	path := s.entryPath(scope, date, kind)

	e, err := readEntry(path, withBlob)
	if err != nil {
		return Entry{}, err
	}
	if e.Scope != scope || e.Date != date || e.Kind != kind {
		return Entry{}, &Error{
			Op:   "read",
			Path: path,
			Err: fmt.Errorf("%w: header key %s/%s/%s", errCorrupt,
				e.Kind, e.Date, e.Scope),
		}
	}

	return e, nil
}

// readEntry parses an entry file. Only the header line is read unless
// withBlob is set.
func readEntry(path string, withBlob bool) (Entry, error) {
	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Entry{}, ErrNotFound
	case err != nil:
		return Entry{}, &Error{Op: "read", Path: path, Err: err}
	}
	defer f.Close()

	r := bufio.NewReader(f)

	line, err := r.ReadBytes('\n')
	switch {
	case err != nil && !errors.Is(err, io.EOF):
		return Entry{}, &Error{Op: "read", Path: path, Err: err}

	case err != nil:
		return Entry{}, &Error{
			Op: "read", Path: path,
			Err: fmt.Errorf("%w: missing header line", errCorrupt),
		}
	}

	var h header
	if err := json.Unmarshal(bytes.TrimSpace(line), &h); err != nil {
		return Entry{}, &Error{
			Op: "read", Path: path,
			Err: fmt.Errorf("%w: %v", errCorrupt, err),
		}
	}
	if h.Version != entryVersion || h.CreatedAt.IsZero() {
		return Entry{}, &Error{
			Op: "read", Path: path,
			Err: fmt.Errorf("%w: unsupported header", errCorrupt),
		}
	}

	e := Entry{
		Scope:     h.Scope,
		Date:      h.Date,
		Kind:      h.Kind,
		CreatedAt: h.CreatedAt,
	}
	if withBlob {
		blob, err := io.ReadAll(r)
		if err != nil {
			return Entry{}, &Error{Op: "read", Path: path, Err: err}
		}
		e.Blob = blob
	}

	return e, nil
}

// dateDir returns the directory holding a date's entries.
func (s *Store) dateDir(date string) string {
	return filepath.Join(s.cfg.Dir, slug(date))
}

// entryPath returns the file path for a key. The digest keeps distinct keys
// apart even when their slugs coincide.
func (s *Store) entryPath(scope, date, kind string) string {
	sum := sha256.Sum256([]byte(kind + "|" + scope + "|" + date))
	digest := hex.EncodeToString(sum[:])[:hashLen]

	name := slug(kind) + "-" + slug(scope) + "-" + digest + entrySuffix

	return filepath.Join(s.dateDir(date), name)
}

// slug renders s as a short file name fragment made of lowercase letters,
// digits, dashes and underscores.
func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if b.Len() >= maxSlugLen {
			break
		}

		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-',
			r == '_':

			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}

	return b.String()
}
