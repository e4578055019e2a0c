package search

import (
	"context"
	"log/slog"
	"time"

	"github.com/knath2000/codebase-indexing-sub001/internal/store"
)

// rerankShortlistSize is how many top candidates are sent to the reranker.
const rerankShortlistSize = 10

// RerankedDoc is a single entry in a reranker response. Beyond the chunk
// identifier and score it may carry enough payload to reconstruct a
// candidate the orchestrator cannot resolve locally.
type RerankedDoc struct {
	ChunkID   string          `json:"chunk_id"`
	Score     float64         `json:"score"`
	FilePath  string          `json:"file_path,omitempty"`
	Content   string          `json:"content,omitempty"`
	Language  string          `json:"language,omitempty"`
	Kind      store.ChunkKind `json:"kind,omitempty"`
	StartLine int             `json:"start_line,omitempty"`
	EndLine   int             `json:"end_line,omitempty"`
}

// Reranker scores a candidate shortlist with a cross-encoder model.
// Cross-encoders jointly encode query-document pairs for more accurate
// relevance than the retrieval scores, at higher cost per pair.
type Reranker interface {
	// Rerank returns the shortlist reordered by relevance, best first,
	// truncated to topK when topK > 0.
	Rerank(ctx context.Context, query string, candidates []*Candidate, topK int) ([]RerankedDoc, error)

	// Enabled reports whether the reranker service is usable.
	Enabled(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// NoopReranker returns candidates in their original order. Used when
// reranking is disabled.
type NoopReranker struct{}

// Verify interface implementation at compile time.
var _ Reranker = (*NoopReranker)(nil)

func (n *NoopReranker) Rerank(_ context.Context, _ string, candidates []*Candidate, topK int) ([]RerankedDoc, error) {
	docs := make([]RerankedDoc, len(candidates))
	for i, c := range candidates {
		docs[i] = RerankedDoc{ChunkID: c.ChunkID, Score: c.Score}
	}
	if topK > 0 && topK < len(docs) {
		docs = docs[:topK]
	}
	return docs, nil
}

func (n *NoopReranker) Enabled(_ context.Context) bool { return false }

func (n *NoopReranker) Close() error { return nil }

// Orchestrator drives the optional rerank pass: shortlist selection, budget
// enforcement, and splicing the returned order back onto the full list.
type Orchestrator struct {
	reranker Reranker
	enabled  bool
	logger   *slog.Logger
}

// NewOrchestrator creates a rerank orchestrator. A nil reranker behaves as
// permanently disabled.
func NewOrchestrator(reranker Reranker, enabled bool, logger *slog.Logger) *Orchestrator {
	if reranker == nil {
		reranker = &NoopReranker{}
		enabled = false
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{reranker: reranker, enabled: enabled, logger: logger}
}

// Rerank reorders candidates using the external reranker, subject to the
// remaining wall-clock budget. On any skip condition or failure the input
// order is returned unchanged with reranked=false; rerank problems degrade,
// they never fail the request.
func (o *Orchestrator) Rerank(ctx context.Context, q *Query, cands []*Candidate, budget time.Duration) ([]*Candidate, bool) {
	if !o.rerankRequested(q) {
		return cands, false
	}
	if len(cands) < 2 {
		o.logger.Debug("rerank_skipped", slog.String("reason", "too_few_candidates"),
			slog.Int("count", len(cands)))
		return cands, false
	}
	if budget <= 0 {
		o.logger.Debug("rerank_skipped", slog.String("reason", "budget_exhausted"))
		return cands, false
	}
	if q.RerankTimeout > 0 && q.RerankTimeout < budget {
		budget = q.RerankTimeout
	}
	if !o.reranker.Enabled(ctx) {
		o.logger.Debug("rerank_skipped", slog.String("reason", "reranker_unavailable"))
		return cands, false
	}

	shortlistSize := rerankShortlistSize
	if len(cands) < shortlistSize {
		shortlistSize = len(cands)
	}
	shortlist := cands[:shortlistSize]

	topK := shortlistSize
	if q.Limit > 0 && q.Limit < topK {
		topK = q.Limit
	}

	rerankCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	start := time.Now()
	docs, err := o.reranker.Rerank(rerankCtx, q.Text, shortlist, topK)
	if err != nil {
		o.logger.Warn("rerank_failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)))
		return cands, false
	}

	o.logger.Debug("rerank_complete",
		slog.Int("shortlist", shortlistSize),
		slog.Int("returned", len(docs)),
		slog.Duration("elapsed", time.Since(start)))

	return o.splice(docs, shortlist, cands), true
}

// rerankRequested resolves the query override against the global toggle.
func (o *Orchestrator) rerankRequested(q *Query) bool {
	if q.Rerank != nil {
		return *q.Rerank
	}
	return o.enabled
}

// splice rebuilds the full candidate list: the reranked order first, then
// shortlist members the reranker dropped, then everything past the
// shortlist, deduplicated by chunk ID. Returned IDs with no local candidate
// are reconstructed from the response payload.
func (o *Orchestrator) splice(docs []RerankedDoc, shortlist, all []*Candidate) []*Candidate {
	byID := make(map[string]*Candidate, len(all))
	for _, c := range all {
		byID[c.ChunkID] = c
	}

	out := make([]*Candidate, 0, len(all))
	seen := make(map[string]struct{}, len(all))

	for _, doc := range docs {
		if _, dup := seen[doc.ChunkID]; dup {
			continue
		}
		seen[doc.ChunkID] = struct{}{}

		if cand, ok := byID[doc.ChunkID]; ok {
			cand.Score = doc.Score
			out = append(out, cand)
			continue
		}
		out = append(out, &Candidate{
			ChunkID:   doc.ChunkID,
			FilePath:  doc.FilePath,
			StartLine: doc.StartLine,
			EndLine:   doc.EndLine,
			Language:  doc.Language,
			Kind:      doc.Kind,
			Content:   doc.Content,
			Score:     doc.Score,
		})
	}

	for _, c := range shortlist {
		if _, dup := seen[c.ChunkID]; !dup {
			seen[c.ChunkID] = struct{}{}
			out = append(out, c)
		}
	}
	for _, c := range all[min(len(shortlist), len(all)):] {
		if _, dup := seen[c.ChunkID]; !dup {
			seen[c.ChunkID] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}
