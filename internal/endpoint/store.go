// Package endpoint persists the message-bus endpoint address across
// restarts. The on-disk format is a single line holding the literal
// host[:port] string; a trailing newline is tolerated and stripped so
// the stored and in-memory values compare byte-identical.
//
// Reads fail soft: a missing, empty, or unreadable file yields the
// compiled-in default so the node can always reach for *some* broker.
// Writes go through a temp file and rename so a reader never observes
// a partially written value.
package endpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Default is the compiled-in bus endpoint used when nothing valid has
// been persisted.
const Default = "10.0.0.10"

// MaxLen is the longest endpoint value accepted, in bytes. Matches the
// fixed parse buffer on the HTTP surface.
const MaxLen = 63

// fileName is the single-record file under the data directory.
const fileName = "bus_endpoint"

// Store reads and writes the persisted bus endpoint.
type Store struct {
	path string
}

// NewStore creates a store rooted at dataDir. The directory is not
// created here; writes report storage unavailability instead.
func NewStore(dataDir string) *Store {
	return &Store{path: filepath.Join(dataDir, fileName)}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Read returns the persisted endpoint, or [Default] when the file is
// missing, empty, or unreadable. It never returns an error: storage
// trouble on the read path degrades to the default address.
func (s *Store) Read() string {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Default
	}
	value := strings.TrimRight(string(data), "\r\n")
	if value == "" {
		return Default
	}
	return value
}

// Write persists addr, replacing any previous value. The write is
// atomic from a reader's perspective: the new content lands in a temp
// file in the same directory and is renamed over the record. Returns
// an error when the underlying storage cannot be written; callers are
// expected to log it and carry on with the in-memory value.
func (s *Store) Write(addr string) error {
	if addr == "" {
		return fmt.Errorf("endpoint must not be empty")
	}
	if len(addr) > MaxLen {
		return fmt.Errorf("endpoint exceeds %d bytes", MaxLen)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, fileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("storage unavailable: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(addr + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write endpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write endpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace endpoint record: %w", err)
	}
	return nil
}
