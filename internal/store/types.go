// Package store provides the retrieval collaborators consumed by the search
// pipeline: a bleve-backed keyword index, an HNSW vector store, and an
// in-memory chunk catalog supplying candidate payloads and file state.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ChunkKind classifies a parsed source unit.
type ChunkKind string

const (
	ChunkKindFunction ChunkKind = "function"
	ChunkKindMethod   ChunkKind = "method"
	ChunkKindClass    ChunkKind = "class"
	ChunkKindSection  ChunkKind = "section"
	ChunkKindBlock    ChunkKind = "block"
)

// Chunk represents a retrievable unit of source text with a stable identifier.
type Chunk struct {
	ID        string    // stable chunk identifier
	FilePath  string    // relative to project root
	Language  string    // go, typescript, python, ...
	Kind      ChunkKind // function, class, method, section, ...
	Content   string    // raw chunk text
	StartLine int       // 1-indexed
	EndLine   int       // inclusive
	ModTime   time.Time // owning file's last modification time
}

// SparseResult is a single keyword-search hit.
type SparseResult struct {
	ChunkID      string
	Score        float64
	MatchedTerms []string
}

// DenseResult is a single vector-similarity hit.
type DenseResult struct {
	ChunkID string
	Score   float64 // normalized similarity (0-1)
}

// SparseIndex provides BM25-style keyword search.
type SparseIndex interface {
	// Index adds chunks to the index.
	Index(ctx context.Context, chunks []*Chunk) error

	// Search returns chunks matching query, ordered by descending score.
	Search(ctx context.Context, query string, limit int) ([]*SparseResult, error)

	// Delete removes chunks from the index.
	Delete(ctx context.Context, chunkIDs []string) error

	// Close releases resources.
	Close() error
}

// VectorStore provides nearest-neighbor search over embeddings.
type VectorStore interface {
	// Add inserts vectors with their IDs. Existing IDs are replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds the k nearest neighbors, ordered by descending score.
	Search(ctx context.Context, query []float32, k int) ([]*DenseResult, error)

	// Delete removes vectors by ID.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of vectors.
	Count() int

	// Save and Load persist the store.
	Save(path string) error
	Load(path string) error
	Close() error
}

// FileState describes editor/recency flags for a file, consumed by
// score boosting downstream.
type FileState struct {
	Open             bool
	RecentlyModified bool
}

// ErrDimensionMismatch indicates a vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// IsTestFile checks if a file path is a test file.
// Supports Go (_test.go), JavaScript/TypeScript (.test.js, .spec.ts, etc.),
// and Python (test_*.py, *_test.py), plus common test directories.
func IsTestFile(filePath string) bool {
	if strings.HasSuffix(filePath, "_test.go") {
		return true
	}

	if strings.Contains(filePath, ".test.") || strings.Contains(filePath, ".spec.") {
		return true
	}

	fileName := filePath
	if idx := strings.LastIndex(filePath, "/"); idx >= 0 {
		fileName = filePath[idx+1:]
	}
	if strings.HasPrefix(fileName, "test_") && strings.HasSuffix(fileName, ".py") {
		return true
	}
	if strings.HasSuffix(fileName, "_test.py") {
		return true
	}

	if strings.Contains(filePath, "/test/") || strings.Contains(filePath, "/tests/") {
		return true
	}
	if strings.HasPrefix(filePath, "test/") || strings.HasPrefix(filePath, "tests/") {
		return true
	}
	if strings.Contains(filePath, "/__tests__/") || strings.HasPrefix(filePath, "__tests__/") {
		return true
	}

	return false
}
