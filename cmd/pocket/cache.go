package main

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ThakeeNathees/pocketlang-sub001/vm"
)

// Current schema version - increment when cacheEntry changes.
const imageCacheSchema uint16 = 1

// imageCache stores compiled module images keyed by script path and source.
// Safe for concurrent use.
type imageCache struct {
	mu  sync.RWMutex
	dir string
}

// cacheEntry is the on-disk form of a cached image.
type cacheEntry struct {
	Schema       uint16
	ImageVersion int
	Path         string
	Image        []byte
}

type cacheKey [sha256.Size]byte

func openImageCache(dir string) *imageCache {
	return &imageCache{dir: dir}
}

func imageKey(path, source string) cacheKey {
	h := sha256.New()
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write([]byte(source))
	var key cacheKey
	copy(key[:], h.Sum(nil))
	return key
}

func (c *imageCache) pathFor(key cacheKey) string {
	return filepath.Join(c.dir, "images", hex.EncodeToString(key[:])+".mp")
}

// Put writes the image of the script at path.
func (c *imageCache) Put(key cacheKey, path string, image []byte) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	entry := cacheEntry{
		Schema:       imageCacheSchema,
		ImageVersion: vm.ImageVersion,
		Path:         path,
		Image:        image,
	}
	if err := msgpack.NewEncoder(f).Encode(&entry); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	// Atomic replace.
	return os.Rename(f.Name(), p)
}

// Get returns the cached image for key. Entries of another schema or image
// version are misses.
func (c *imageCache) Get(key cacheKey) ([]byte, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(c.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	var entry cacheEntry
	if err := msgpack.NewDecoder(f).Decode(&entry); err != nil {
		return nil, false, err
	}
	if entry.Schema != imageCacheSchema || entry.ImageVersion != vm.ImageVersion {
		return nil, false, nil
	}
	return entry.Image, true, nil
}
