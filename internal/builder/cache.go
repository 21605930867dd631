package builder

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"maps"
	"os"
	"path/filepath"
	"sync"
)

// Cache is the persisted source-path → content-hash mapping for one project.
// It is shared by every concurrently building module, so all access goes
// through the mutex. A path with no entry counts as changed.
type Cache struct {
	path string

	mu      sync.Mutex
	entries map[string]string
}

// LoadCache reads the hash cache from disk. A missing file yields an empty
// cache; every file then hashes as changed.
func LoadCache(path string) (*Cache, error) {
	c := &Cache{path: path, entries: make(map[string]string)}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, err
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&c.entries); err != nil {
		return nil, err
	}
	return c, nil
}

// Refresh records the current hash for a file and reports whether it differs
// from the previous one. The entry is overwritten even when unchanged: the
// cache always reflects the latest observed content, and the recompilation
// decision is made separately by the caller.
func (c *Cache) Refresh(file, hash string) (changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.entries[file]
	c.entries[file] = hash
	return !ok || prev != hash
}

// Flush writes the cache through to disk. Called at the end of every
// module's hashing phase so a crash mid-build never leaves a stale cache.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// Snapshot returns a copy of the current entries.
func (c *Cache) Snapshot() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.entries)
}

// hashFile computes the content hash used for change detection.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
