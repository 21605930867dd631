package builder

import (
	"maps"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestCacheRefresh(t *testing.T) {
	cache, err := LoadCache(filepath.Join(t.TempDir(), "hashes.json"))
	if err != nil {
		t.Fatalf("LoadCache() error: %v", err)
	}

	// an unknown file always counts as changed
	if !cache.Refresh("a.c", "hash1") {
		t.Error("Refresh() of an unknown file = false, want true")
	}
	// refreshing with the same hash is a no-change
	if cache.Refresh("a.c", "hash1") {
		t.Error("Refresh() with an identical hash = true, want false")
	}
	// a differing hash is a change
	if !cache.Refresh("a.c", "hash2") {
		t.Error("Refresh() with a new hash = false, want true")
	}
	// and the entry must have been overwritten by the previous call
	if cache.Refresh("a.c", "hash2") {
		t.Error("Refresh() did not overwrite the entry")
	}
}

func TestCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hashes.json")

	cache, err := LoadCache(path)
	if err != nil {
		t.Fatalf("LoadCache() error: %v", err)
	}
	cache.Refresh("a.c", "hash1")
	cache.Refresh("b.swift", "hash2")
	if err := cache.Flush(); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}

	reloaded, err := LoadCache(path)
	if err != nil {
		t.Fatalf("LoadCache() after flush error: %v", err)
	}
	want := map[string]string{"a.c": "hash1", "b.swift": "hash2"}
	if !maps.Equal(reloaded.Snapshot(), want) {
		t.Errorf("reloaded entries = %v, want %v", reloaded.Snapshot(), want)
	}

	if reloaded.Refresh("a.c", "hash1") {
		t.Error("Refresh() after reload = true, want false")
	}
}

func TestCacheConcurrentRefresh(t *testing.T) {
	cache, err := LoadCache(filepath.Join(t.TempDir(), "hashes.json"))
	if err != nil {
		t.Fatalf("LoadCache() error: %v", err)
	}

	// concurrent refreshes of distinct files must land exactly like a
	// sequential run would
	var wg sync.WaitGroup
	files := []string{"a.c", "b.c", "c.xm", "d.swift", "e.m"}
	for _, file := range files {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !cache.Refresh(file, "hash-"+file) {
				t.Errorf("Refresh(%q) = false, want true", file)
			}
		}()
	}
	wg.Wait()

	snap := cache.Snapshot()
	for _, file := range files {
		if snap[file] != "hash-"+file {
			t.Errorf("entry for %q = %q", file, snap[file])
		}
	}
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.c")
	if err := os.WriteFile(path, []byte("int main() {}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	h1, err := hashFile(path)
	if err != nil {
		t.Fatalf("hashFile() error: %v", err)
	}
	h2, err := hashFile(path)
	if err != nil {
		t.Fatalf("hashFile() error: %v", err)
	}
	if h1 != h2 {
		t.Error("hashing the same content twice gave different hashes")
	}

	if err := os.WriteFile(path, []byte("int main() { return 1; }\n"), 0644); err != nil {
		t.Fatal(err)
	}
	h3, err := hashFile(path)
	if err != nil {
		t.Fatalf("hashFile() error: %v", err)
	}
	if h3 == h1 {
		t.Error("hash did not change with the content")
	}
}
