package search

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/knath2000/codebase-indexing-sub001/internal/config"
	"github.com/knath2000/codebase-indexing-sub001/internal/embed"
	"github.com/knath2000/codebase-indexing-sub001/internal/errors"
	"github.com/knath2000/codebase-indexing-sub001/internal/store"
)

// fetchMultiplier oversamples each retrieval source so fusion and filtering
// have enough candidates to work with.
const fetchMultiplier = 3

// Pipeline sequences a query through cache check, retrieval, fusion,
// optimization, optional reranking, and caching. It is stateless per request
// except for the shared query cache.
type Pipeline struct {
	cfg       *config.Config
	logger    *slog.Logger
	embedder  embed.Embedder
	vectors   store.VectorStore
	sparse    store.SparseIndex
	chunks    ChunkSource
	fusion    *FusionEngine
	optimizer *ContextOptimizer
	cache     *QueryCache
	rerank    *Orchestrator
	assembler *ContextAssembler

	stats stageStats
}

// PipelineDeps bundles the pipeline's collaborators.
type PipelineDeps struct {
	Embedder Embedder
	Vectors  store.VectorStore
	Sparse   store.SparseIndex
	Chunks   ChunkSource
	Reranker Reranker
	Logger   *slog.Logger
}

// Embedder is re-exported so callers wiring the pipeline need only this
// package.
type Embedder = embed.Embedder

// NewPipeline creates a search pipeline. The cache sweep starts immediately;
// call Close to stop it.
func NewPipeline(cfg *config.Config, deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cache := NewQueryCache(QueryCacheConfig{
		TTL:           cfg.Cache.TTL,
		Capacity:      cfg.Cache.Capacity,
		MaxCacheable:  cfg.Cache.MaxCacheableResults,
		SweepInterval: cfg.Cache.SweepInterval,
	})
	cache.Start()

	return &Pipeline{
		cfg:       cfg,
		logger:    logger,
		embedder:  deps.Embedder,
		vectors:   deps.Vectors,
		sparse:    deps.Sparse,
		chunks:    deps.Chunks,
		fusion:    NewFusionEngine(cfg.Search.Alpha),
		optimizer: NewContextOptimizer(),
		cache:     cache,
		rerank:    NewOrchestrator(deps.Reranker, cfg.Reranker.Enabled, logger),
		assembler: NewContextAssembler(),
	}
}

// Search runs the full pipeline and returns the ranked candidate list.
func (p *Pipeline) Search(ctx context.Context, q *Query) (*Result, error) {
	start := time.Now()

	if strings.TrimSpace(q.Text) == "" {
		return nil, errors.ValidationError("query text must not be empty")
	}
	p.applyDefaults(q)

	if cached := p.cache.Get(q); cached != nil {
		p.logger.Debug("cache_hit", slog.String("query", q.Text))
		return &Result{
			Candidates: cached,
			Metadata: ResultMetadata{
				TotalResults: len(cached),
				ElapsedMs:    time.Since(start).Milliseconds(),
				CacheHit:     true,
			},
		}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Search.Timeout)
	defer cancel()

	hybrid := p.cfg.Search.Hybrid
	if q.Hybrid != nil {
		hybrid = *q.Hybrid
	}

	dense, sparse, err := p.fetch(ctx, q, hybrid)
	if err != nil {
		return nil, err
	}

	fuseStart := time.Now()
	cands := p.fusion.Fuse(dense, sparse, q, hybrid)
	p.stats.record(stageFuse, time.Since(fuseStart))

	optStart := time.Now()
	cands = p.optimizer.Optimize(cands, q)
	cands = p.applyFilters(cands, q)
	p.stats.record(stageOptimize, time.Since(optStart))

	rerankStart := time.Now()
	budget := p.cfg.Search.Timeout - time.Since(start)
	cands, reranked := p.rerank.Rerank(ctx, q, cands, budget)
	p.stats.record(stageRerank, time.Since(rerankStart))

	if len(cands) > q.Limit {
		cands = cands[:q.Limit]
	}

	if p.cache.ShouldCache(q, cands) {
		p.cache.Put(q, cands)
	}

	elapsed := time.Since(start)
	p.logger.Debug("search_complete",
		slog.String("query", q.Text),
		slog.Int("results", len(cands)),
		slog.Bool("hybrid", hybrid),
		slog.Bool("reranked", reranked),
		slog.Duration("elapsed", elapsed))

	return &Result{
		Candidates: cands,
		Metadata: ResultMetadata{
			TotalResults: len(cands),
			ElapsedMs:    elapsed.Milliseconds(),
			HybridUsed:   hybrid && len(sparse) > 0 && len(dense) > 0,
			Reranked:     reranked,
		},
	}, nil
}

// SearchForCodeReferences runs Search and assembles the results into a
// token-budgeted context window.
func (p *Pipeline) SearchForCodeReferences(ctx context.Context, q *Query, tokenBudget int) (*ContextResult, error) {
	if tokenBudget <= 0 {
		tokenBudget = p.cfg.Context.TokenBudget
	}

	result, err := p.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	asmStart := time.Now()
	window := p.assembler.Assemble(result.Candidates, tokenBudget)
	p.stats.record(stageAssemble, time.Since(asmStart))

	meta := result.Metadata
	meta.ElapsedMs += time.Since(asmStart).Milliseconds()
	return &ContextResult{Window: window, Metadata: meta}, nil
}

// fetch runs the retrieval sources concurrently: embedding plus vector
// search on one branch, keyword search on the other when hybrid is on.
func (p *Pipeline) fetch(ctx context.Context, q *Query, hybrid bool) (dense, sparse []*Candidate, err error) {
	fetchLimit := q.Limit * fetchMultiplier

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		embedStart := time.Now()
		vector, err := p.embedder.Embed(gctx, q.Text)
		p.stats.record(stageEmbed, time.Since(embedStart))
		if err != nil {
			return errors.StageError(errors.ErrCodeEmbeddingFailed, "embedding", err)
		}

		denseStart := time.Now()
		hits, err := p.vectors.Search(gctx, vector, fetchLimit)
		p.stats.record(stageDense, time.Since(denseStart))
		if err != nil {
			return errors.StageError(errors.ErrCodeDenseSearchFailed, "dense search", err)
		}

		dense, err = p.enrich(gctx, denseIDs(hits), denseScores(hits))
		return err
	})

	if hybrid {
		g.Go(func() error {
			sparseStart := time.Now()
			hits, err := p.sparse.Search(gctx, q.Text, fetchLimit)
			p.stats.record(stageSparse, time.Since(sparseStart))
			if err != nil {
				return errors.StageError(errors.ErrCodeSparseSearchFailed, "sparse search", err)
			}

			ids := make([]string, len(hits))
			scores := make(map[string]float64, len(hits))
			for i, h := range hits {
				ids[i] = h.ChunkID
				scores[h.ChunkID] = h.Score
			}
			sparse, err = p.enrich(gctx, ids, scores)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return dense, sparse, nil
}

// enrich resolves chunk IDs into candidates with full payloads and file
// state flags.
func (p *Pipeline) enrich(ctx context.Context, ids []string, scores map[string]float64) ([]*Candidate, error) {
	chunks, err := p.chunks.GetChunks(ctx, ids)
	if err != nil {
		return nil, errors.StageError(errors.ErrCodeInternal, "chunk lookup", err)
	}

	cands := make([]*Candidate, 0, len(chunks))
	for _, chunk := range chunks {
		state := p.chunks.FileState(chunk.FilePath)
		cands = append(cands, &Candidate{
			ChunkID:   chunk.ID,
			FilePath:  chunk.FilePath,
			StartLine: chunk.StartLine,
			EndLine:   chunk.EndLine,
			Language:  chunk.Language,
			Kind:      chunk.Kind,
			Content:   chunk.Content,
			Score:     scores[chunk.ID],
			Metadata: CandidateMetadata{
				IsTest:           store.IsTestFile(chunk.FilePath),
				RecentlyModified: state.RecentlyModified,
				CurrentlyOpen:    state.Open,
			},
		})
	}
	return cands, nil
}

// applyFilters drops candidates failing the query's language, kind, file,
// and score constraints.
func (p *Pipeline) applyFilters(cands []*Candidate, q *Query) []*Candidate {
	minScore := q.MinScore
	if minScore <= 0 {
		minScore = p.cfg.Search.MinScore
	}

	out := cands[:0]
	for _, c := range cands {
		if q.Language != "" && c.Language != q.Language {
			continue
		}
		if q.Kind != "" && string(c.Kind) != q.Kind {
			continue
		}
		if q.FilePath != "" && c.FilePath != q.FilePath {
			continue
		}
		if c.Score < minScore {
			continue
		}
		out = append(out, c)
	}
	return out
}

// applyDefaults fills in limit defaults and caps.
func (p *Pipeline) applyDefaults(q *Query) {
	if q.Limit <= 0 {
		q.Limit = p.cfg.Search.DefaultLimit
	}
	if q.Limit > p.cfg.Search.MaxLimit {
		q.Limit = p.cfg.Search.MaxLimit
	}
}

// InvalidateFile drops cache entries touching a changed file. Wired to the
// file watcher.
func (p *Pipeline) InvalidateFile(path string) int {
	removed := p.cache.InvalidateFile(path)
	if removed > 0 {
		p.logger.Debug("cache_invalidated",
			slog.String("path", path),
			slog.Int("entries", removed))
	}
	return removed
}

// InvalidateLanguage drops cache entries touching a language.
func (p *Pipeline) InvalidateLanguage(lang string) int {
	return p.cache.InvalidateLanguage(lang)
}

// ClearCaches empties the query cache.
func (p *Pipeline) ClearCaches() {
	p.cache.Clear()
}

// PipelineStats combines cache counters with per-stage time shares.
type PipelineStats struct {
	Cache  CacheStats         `json:"cache"`
	Stages map[string]float64 `json:"stage_percentages"`
}

// Stats returns cache and stage telemetry.
func (p *Pipeline) Stats() PipelineStats {
	return PipelineStats{
		Cache:  p.cache.Stats(),
		Stages: p.stats.percentages(),
	}
}

// Close stops the cache sweep.
func (p *Pipeline) Close() error {
	p.cache.Stop()
	return nil
}

// Stage identifiers for telemetry.
const (
	stageEmbed    = "embed"
	stageDense    = "dense"
	stageSparse   = "sparse"
	stageFuse     = "fuse"
	stageOptimize = "optimize"
	stageRerank   = "rerank"
	stageAssemble = "assemble"
)

// stageStats accumulates time spent per pipeline stage.
type stageStats struct {
	mu        sync.Mutex
	durations map[string]time.Duration
}

func (s *stageStats) record(stage string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.durations == nil {
		s.durations = make(map[string]time.Duration)
	}
	s.durations[stage] += d
}

// percentages returns each stage's share of total recorded time.
func (s *stageStats) percentages() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total time.Duration
	for _, d := range s.durations {
		total += d
	}

	out := make(map[string]float64, len(s.durations))
	if total == 0 {
		return out
	}
	for stage, d := range s.durations {
		out[stage] = 100 * float64(d) / float64(total)
	}
	return out
}

func denseIDs(hits []*store.DenseResult) []string {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	return ids
}

func denseScores(hits []*store.DenseResult) map[string]float64 {
	scores := make(map[string]float64, len(hits))
	for _, h := range hits {
		scores[h.ChunkID] = h.Score
	}
	return scores
}
