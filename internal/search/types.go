// Package search implements the retrieval pipeline: hybrid score fusion,
// result boosting and diversification, query caching, optional reranking,
// and token-budgeted context assembly.
package search

import (
	"context"
	"time"

	"github.com/knath2000/codebase-indexing-sub001/internal/store"
)

// HybridScore carries the per-source scores behind a fused candidate.
type HybridScore struct {
	Dense         float64 `json:"dense"`
	Sparse        float64 `json:"sparse"`
	Combined      float64 `json:"combined"`
	InBothSources bool    `json:"in_both_sources"`
}

// CandidateMetadata holds the file-level flags consumed by boosting.
type CandidateMetadata struct {
	IsTest           bool `json:"is_test"`
	RecentlyModified bool `json:"recently_modified"`
	CurrentlyOpen    bool `json:"currently_open"`
}

// Candidate is a scored search result flowing through the pipeline.
type Candidate struct {
	ChunkID   string            `json:"chunk_id"`
	FilePath  string            `json:"file_path"`
	StartLine int               `json:"start_line"`
	EndLine   int               `json:"end_line"`
	Language  string            `json:"language,omitempty"`
	Kind      store.ChunkKind   `json:"kind,omitempty"`
	Content   string            `json:"content"`
	Score     float64           `json:"score"`
	Hybrid    *HybridScore      `json:"hybrid,omitempty"`
	Metadata  CandidateMetadata `json:"metadata"`
}

// Clone returns a deep copy of the candidate.
func (c *Candidate) Clone() *Candidate {
	out := *c
	if c.Hybrid != nil {
		h := *c.Hybrid
		out.Hybrid = &h
	}
	return &out
}

// Query is a search request.
type Query struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
	Kind     string `json:"kind,omitempty"`
	FilePath string `json:"file_path,omitempty"`
	Limit    int    `json:"limit,omitempty"`

	MinScore float64 `json:"min_score,omitempty"`

	// Hybrid overrides the configured hybrid toggle when non-nil.
	Hybrid *bool `json:"hybrid,omitempty"`

	// Rerank overrides the configured rerank toggle when non-nil.
	Rerank        *bool         `json:"rerank,omitempty"`
	RerankTimeout time.Duration `json:"rerank_timeout,omitempty"`

	MaxPerFile int `json:"max_per_file,omitempty"`

	PreferFunctions bool `json:"prefer_functions,omitempty"`
	PreferClasses   bool `json:"prefer_classes,omitempty"`

	// PreferImplementation disables the implementation-over-documentation
	// boost when explicitly set to false.
	PreferImplementation *bool `json:"prefer_implementation,omitempty"`
}

// CodeReference is one entry in an assembled context window. It may merge
// several adjacent candidates from the same file.
type CodeReference struct {
	FilePath  string          `json:"file_path"`
	StartLine int             `json:"start_line"`
	EndLine   int             `json:"end_line"`
	Language  string          `json:"language,omitempty"`
	Kind      store.ChunkKind `json:"kind,omitempty"`
	Content   string          `json:"content"`
	Score     float64         `json:"score"`
	Tokens    int             `json:"tokens"`
	Merged    int             `json:"merged"` // number of candidates merged in
}

// ContextWindow is a token-budgeted set of code references.
type ContextWindow struct {
	TokenBudget int              `json:"token_budget"`
	TokensUsed  int              `json:"tokens_used"`
	References  []*CodeReference `json:"references"`
	Truncated   bool             `json:"truncated"`
	Summary     string           `json:"summary,omitempty"`
}

// ResultMetadata describes how a search was executed.
type ResultMetadata struct {
	TotalResults int   `json:"total_results"`
	ElapsedMs    int64 `json:"elapsed_ms"`
	CacheHit     bool  `json:"cache_hit"`
	HybridUsed   bool  `json:"hybrid_used"`
	Reranked     bool  `json:"reranked"`
}

// Result is the response to a search query.
type Result struct {
	Candidates []*Candidate   `json:"candidates"`
	Metadata   ResultMetadata `json:"metadata"`
}

// ContextResult pairs search results with an assembled context window.
type ContextResult struct {
	Window   *ContextWindow `json:"window"`
	Metadata ResultMetadata `json:"metadata"`
}

// ChunkSource supplies chunk payloads and file state for candidate
// enrichment. Implemented by store.Catalog.
type ChunkSource interface {
	GetChunks(ctx context.Context, ids []string) ([]*store.Chunk, error)
	FileState(path string) store.FileState
}
