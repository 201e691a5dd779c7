// Package cache provides hash-based change detection between sync runs.
// Directory records are hashed over their sync-relevant fields; unchanged
// records are skipped without touching the database. The cache lives in a
// single JSON file and is advisory: losing it only costs one full resync.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// Detector tracks content hashes of synced objects across runs. It is safe
// for concurrent use.
type Detector struct {
	mu     sync.Mutex
	path   string
	hashes map[string]string
	dirty  bool
}

// NewDetector loads the hash cache from path; a missing or unreadable file
// starts an empty cache.
func NewDetector(path string) *Detector {
	d := &Detector{path: path, hashes: make(map[string]string)}
	data, err := os.ReadFile(path)
	if err != nil {
		return d
	}
	if err := json.Unmarshal(data, &d.hashes); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("discarding unreadable hash cache")
		d.hashes = make(map[string]string)
	}
	return d
}

// HasChanged reports whether the object differs from the hash recorded for
// (kind, id), and records the new hash. New objects count as changed.
func (d *Detector) HasChanged(kind, id string, obj interface{}) bool {
	data, err := json.Marshal(obj)
	if err != nil {
		// unhashable objects are always treated as changed
		return true
	}
	sum := sha256.Sum256(data)
	newHash := hex.EncodeToString(sum[:])
	key := kind + ":" + id

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hashes[key] == newHash {
		return false
	}
	d.hashes[key] = newHash
	d.dirty = true
	return true
}

// MarkDeleted drops the hash for a removed object.
func (d *Detector) MarkDeleted(kind, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := kind + ":" + id
	if _, ok := d.hashes[key]; ok {
		delete(d.hashes, key)
		d.dirty = true
	}
}

// Clear empties the cache, forcing the next run to treat everything as
// changed.
func (d *Detector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hashes = make(map[string]string)
	d.dirty = true
}

// Commit persists the cache if it changed since load. Called once at the
// end of a successful run, never mid-run, so a failed run doesn't record
// objects it didn't actually sync.
func (d *Detector) Commit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.dirty {
		return nil
	}
	if dir := filepath.Dir(d.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating cache directory: %w", err)
		}
	}
	data, err := json.Marshal(d.hashes)
	if err != nil {
		return err
	}
	if err := os.WriteFile(d.path, data, 0o644); err != nil {
		return fmt.Errorf("writing hash cache: %w", err)
	}
	d.dirty = false
	return nil
}
