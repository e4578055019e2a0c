package store

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"sync"
	"time"
)

// DefaultRecentWindow is how long after a modification a file counts as
// recently modified for ranking purposes.
const DefaultRecentWindow = 15 * time.Minute

// Catalog is the in-memory chunk metadata store. It supplies full chunk
// payloads for IDs returned by the sparse/dense indices, plus per-file
// editor state consumed by score boosting.
type Catalog struct {
	mu           sync.RWMutex
	chunks       map[string]*Chunk
	byFile       map[string][]string // file path -> chunk IDs
	openFiles    map[string]struct{}
	recentWindow time.Duration
	now          func() time.Time // injectable for tests
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		chunks:       make(map[string]*Chunk),
		byFile:       make(map[string][]string),
		openFiles:    make(map[string]struct{}),
		recentWindow: DefaultRecentWindow,
		now:          time.Now,
	}
}

// SaveChunks inserts or replaces chunks.
func (c *Catalog) SaveChunks(ctx context.Context, chunks []*Chunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, chunk := range chunks {
		if chunk.ID == "" {
			return fmt.Errorf("chunk with empty ID (file %s)", chunk.FilePath)
		}
		if old, exists := c.chunks[chunk.ID]; exists {
			c.removeFromFileLocked(old.FilePath, chunk.ID)
		}
		c.chunks[chunk.ID] = chunk
		c.byFile[chunk.FilePath] = append(c.byFile[chunk.FilePath], chunk.ID)
	}
	return nil
}

// GetChunks returns the chunks for the given IDs, preserving input order.
// Unknown IDs are skipped.
func (c *Catalog) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Chunk, 0, len(ids))
	for _, id := range ids {
		if chunk, ok := c.chunks[id]; ok {
			out = append(out, chunk)
		}
	}
	return out, nil
}

// DeleteByFile removes all chunks belonging to a file and returns their IDs.
func (c *Catalog) DeleteByFile(path string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := c.byFile[path]
	for _, id := range ids {
		delete(c.chunks, id)
	}
	delete(c.byFile, path)
	return ids
}

// MarkFileOpen records whether a file is currently open in an editor.
func (c *Catalog) MarkFileOpen(path string, open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if open {
		c.openFiles[path] = struct{}{}
	} else {
		delete(c.openFiles, path)
	}
}

// FileState returns the editor/recency flags for a file. A file is
// recently modified when any of its chunks carries a ModTime inside the
// recency window.
func (c *Catalog) FileState(path string) FileState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	state := FileState{}
	if _, ok := c.openFiles[path]; ok {
		state.Open = true
	}

	cutoff := c.now().Add(-c.recentWindow)
	for _, id := range c.byFile[path] {
		if chunk, ok := c.chunks[id]; ok && chunk.ModTime.After(cutoff) {
			state.RecentlyModified = true
			break
		}
	}
	return state
}

// Count returns the number of chunks.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.chunks)
}

// catalogSnapshot is the gob persistence form.
type catalogSnapshot struct {
	Chunks []*Chunk
}

// Save writes the catalog to path via gob.
func (c *Catalog) Save(path string) error {
	c.mu.RLock()
	snap := catalogSnapshot{Chunks: make([]*Chunk, 0, len(c.chunks))}
	for _, chunk := range c.chunks {
		snap.Chunks = append(snap.Chunks, chunk)
	}
	c.mu.RUnlock()

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create catalog file: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(snap); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode catalog: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close catalog file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load replaces the catalog contents from a gob snapshot.
func (c *Catalog) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open catalog file: %w", err)
	}
	defer f.Close()

	var snap catalogSnapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return fmt.Errorf("decode catalog: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.chunks = make(map[string]*Chunk, len(snap.Chunks))
	c.byFile = make(map[string][]string)
	for _, chunk := range snap.Chunks {
		c.chunks[chunk.ID] = chunk
		c.byFile[chunk.FilePath] = append(c.byFile[chunk.FilePath], chunk.ID)
	}
	return nil
}

// removeFromFileLocked drops a chunk ID from a file's list. Caller holds mu.
func (c *Catalog) removeFromFileLocked(path, id string) {
	ids := c.byFile[path]
	for i, existing := range ids {
		if existing == id {
			c.byFile[path] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(c.byFile[path]) == 0 {
		delete(c.byFile, path)
	}
}
