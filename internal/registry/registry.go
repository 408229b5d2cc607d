// Package registry is the durable, file-backed store of processes
// started by a prior invocation. One JSON record per (group, item) pair
// lives under a fixed per-user directory so a later `down` can locate
// and signal processes it did not spawn itself.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ValidityWindow bounds trust in a record's metadata. PID reuse means a
// recorded PID may belong to an unrelated process; a record older than
// this window is treated as stale by CleanupStale. Liveness itself is
// probed on every read regardless of the window.
const ValidityWindow = 5 * time.Minute

// Entry is one persisted process record.
type Entry struct {
	PID           int    `json:"pid"`
	Group         string `json:"group"`
	Item          string `json:"item"`
	StartedAtMs   int64  `json:"started_at_ms"`
	RestartPolicy string `json:"restart_policy"`
	FullCmd       string `json:"command"`
}

// StartedAt returns the recorded start time.
func (e Entry) StartedAt() time.Time {
	return time.UnixMilli(e.StartedAtMs)
}

// Registry stores entries as individual files under dir.
type Registry struct {
	dir string
}

// DefaultDir is the per-user record directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "easycli", "procs")
	}
	return filepath.Join(home, ".easycli", "procs")
}

// New opens (and creates if needed) a registry rooted at dir. An empty
// dir selects the per-user default.
func New(dir string) (*Registry, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	return &Registry{dir: dir}, nil
}

func (r *Registry) Dir() string { return r.dir }

// encodeKey maps an arbitrary name to a filename segment. Bytes outside
// [A-Za-z0-9_-] are hex-escaped with '%', which keeps the mapping
// injective so distinct (group, item) pairs can never collide.
func encodeKey(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02x", c)
		}
	}
	return b.String()
}

// entryPath derives the record file for a (group, item) pair. The '.'
// separator cannot appear in an encoded segment, so the mapping is
// collision free and group records share a common filename prefix.
func (r *Registry) entryPath(group, item string) string {
	return filepath.Join(r.dir, encodeKey(group)+"."+encodeKey(item)+".json")
}

// Write persists an entry, overwriting any prior record for the same
// (group, item) key. Last writer wins; there is no cross-process lock.
func (r *Registry) Write(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return os.WriteFile(r.entryPath(e.Group, e.Item), data, 0o600)
}

// ReadByGroup enumerates the group's entries. Corrupt records are
// skipped, never fatal.
func (r *Registry) ReadByGroup(group string) ([]Entry, error) {
	return r.read(encodeKey(group) + ".")
}

// ReadAll enumerates every entry, skipping corrupt records.
func (r *Registry) ReadAll() ([]Entry, error) {
	return r.read("")
}

func (r *Registry) read(prefix string) ([]Entry, error) {
	des, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Entry
	for _, de := range des {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.dir, name))
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		if e.Group == "" || e.Item == "" {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// IsValid reports whether the entry can be trusted: its PID must be
// alive and its recorded start time recent enough that PID reuse is
// unlikely. Callers that only need liveness use IsRunning directly.
func (r *Registry) IsValid(e Entry) bool {
	if !IsRunning(e.PID) {
		return false
	}
	return time.Since(e.StartedAt()) <= ValidityWindow
}

// CleanupStale deletes every entry that fails IsValid and returns the
// removed set. Called at the start of a new `up` so fresh registrations
// never collide with leftovers of a dead run.
func (r *Registry) CleanupStale() ([]Entry, error) {
	entries, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	var removed []Entry
	for _, e := range entries {
		if r.IsValid(e) {
			continue
		}
		if err := r.Delete(e.Group, e.Item); err != nil {
			return removed, err
		}
		removed = append(removed, e)
	}
	return removed, nil
}

// Delete removes one record. Deleting an absent record is not an error.
func (r *Registry) Delete(group, item string) error {
	err := os.Remove(r.entryPath(group, item))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// DeleteGroup removes every record of the group. Idempotent.
func (r *Registry) DeleteGroup(group string) error {
	entries, err := r.ReadByGroup(group)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := r.Delete(e.Group, e.Item); err != nil {
			return err
		}
	}
	return nil
}
