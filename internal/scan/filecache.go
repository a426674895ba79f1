package scan

import (
	"context"
	"fmt"
	"sync"

	"github.com/franz/media-catalog/internal/store"
	"github.com/franz/media-catalog/internal/util"
)

// SongFileLister lists the files a catalog already owns
type SongFileLister interface {
	SongFilesByCatalog(ctx context.Context, catalogID int64) ([]store.SongFile, error)
}

// FileCache indexes the files already cataloged so a crawl can skip them
// without touching the filesystem. It is loaded once per run from a single
// table scan and never refreshed; files added by another process during the
// run are not guaranteed to be seen.
type FileCache struct {
	source    SongFileLister
	catalogID int64

	once    sync.Once
	loadErr error

	mu      sync.RWMutex
	entries map[string]int64
}

// NewFileCache creates an unloaded cache for a catalog. A nil source gives
// an empty cache.
func NewFileCache(source SongFileLister, catalogID int64) *FileCache {
	return &FileCache{
		source:    source,
		catalogID: catalogID,
		entries:   make(map[string]int64),
	}
}

// Load builds the cache. Only the first call queries the store.
func (c *FileCache) Load(ctx context.Context) error {
	c.once.Do(func() {
		if c.source == nil {
			return
		}
		files, err := c.source.SongFilesByCatalog(ctx, c.catalogID)
		if err != nil {
			c.loadErr = fmt.Errorf("failed to load file cache: %w", err)
			return
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		for _, f := range files {
			c.entries[cacheKey(f.File)] = f.ID
		}
		util.DebugLog("File cache for catalog %d: %d entries", c.catalogID, len(files))
	})
	return c.loadErr
}

func cacheKey(path string) string {
	return util.NormalizePath(path, false)
}

// Lookup returns the song ID cataloged for path
func (c *FileCache) Lookup(path string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.entries[cacheKey(path)]
	return id, ok
}

// Contains reports whether path is already cataloged, ignoring case
func (c *FileCache) Contains(path string) bool {
	_, ok := c.Lookup(path)
	return ok
}

// Add records a file inserted during this run
func (c *FileCache) Add(path string, songID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(path)] = songID
}

// Len returns the number of cached files
func (c *FileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
