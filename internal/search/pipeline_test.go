package search

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knath2000/codebase-indexing-sub001/internal/config"
	"github.com/knath2000/codebase-indexing-sub001/internal/errors"
	"github.com/knath2000/codebase-indexing-sub001/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubEmbedder struct {
	vector []float32
	err    error
}

func (s *stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return s.vector, s.err
}
func (s *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vector
	}
	return out, s.err
}
func (s *stubEmbedder) Dimensions() int   { return len(s.vector) }
func (s *stubEmbedder) ModelName() string { return "stub" }
func (s *stubEmbedder) Close() error      { return nil }

type stubVectors struct {
	hits []*store.DenseResult
	err  error
}

func (s *stubVectors) Add(context.Context, []string, [][]float32) error { return nil }
func (s *stubVectors) Search(context.Context, []float32, int) ([]*store.DenseResult, error) {
	return s.hits, s.err
}
func (s *stubVectors) Delete(context.Context, []string) error { return nil }
func (s *stubVectors) Count() int                             { return len(s.hits) }
func (s *stubVectors) Save(string) error                      { return nil }
func (s *stubVectors) Load(string) error                      { return nil }
func (s *stubVectors) Close() error                           { return nil }

type stubSparse struct {
	hits []*store.SparseResult
	err  error
}

func (s *stubSparse) Index(context.Context, []*store.Chunk) error { return nil }
func (s *stubSparse) Search(context.Context, string, int) ([]*store.SparseResult, error) {
	return s.hits, s.err
}
func (s *stubSparse) Delete(context.Context, []string) error { return nil }
func (s *stubSparse) Close() error                           { return nil }

func testCatalog(t *testing.T, chunks ...*store.Chunk) *store.Catalog {
	t.Helper()
	catalog := store.NewCatalog()
	require.NoError(t, catalog.SaveChunks(context.Background(), chunks))
	return catalog
}

func testChunk(id, path string) *store.Chunk {
	return &store.Chunk{
		ID:        id,
		FilePath:  path,
		Language:  "go",
		Kind:      store.ChunkKindFunction,
		Content:   "func " + id + "() {}",
		StartLine: 1,
		EndLine:   5,
	}
}

func newTestPipeline(t *testing.T, deps PipelineDeps) *Pipeline {
	t.Helper()
	cfg := config.Default()
	if deps.Logger == nil {
		deps.Logger = testLogger()
	}
	p := NewPipeline(cfg, deps)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPipeline_RejectsEmptyQuery(t *testing.T) {
	p := newTestPipeline(t, PipelineDeps{
		Embedder: &stubEmbedder{vector: []float32{1, 0}},
		Vectors:  &stubVectors{},
		Sparse:   &stubSparse{},
		Chunks:   testCatalog(t),
	})

	for _, text := range []string{"", "   ", "\t\n"} {
		_, err := p.Search(context.Background(), &Query{Text: text})
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeInvalidQuery, errors.GetCode(err))
	}
}

func TestPipeline_HybridSearch(t *testing.T) {
	catalog := testCatalog(t,
		testChunk("dense-hit", "internal/a.go"),
		testChunk("both-hit", "internal/b.go"),
		testChunk("sparse-hit", "internal/c.go"),
	)

	p := newTestPipeline(t, PipelineDeps{
		Embedder: &stubEmbedder{vector: []float32{1, 0}},
		Vectors: &stubVectors{hits: []*store.DenseResult{
			{ChunkID: "dense-hit", Score: 0.9},
			{ChunkID: "both-hit", Score: 0.8},
		}},
		Sparse: &stubSparse{hits: []*store.SparseResult{
			{ChunkID: "both-hit", Score: 0.7},
			{ChunkID: "sparse-hit", Score: 0.6},
		}},
		Chunks: catalog,
	})

	result, err := p.Search(context.Background(), &Query{Text: "find handler"})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 3)

	assert.True(t, result.Metadata.HybridUsed)
	assert.False(t, result.Metadata.CacheHit)
	assert.False(t, result.Metadata.Reranked)

	// both-hit blends both sources: 0.7*0.8 + 0.3*0.7 = 0.77, which beats
	// dense-hit's 0.7*0.9 = 0.63 before boosts (boosts treat all three alike).
	assert.Equal(t, "both-hit", result.Candidates[0].ChunkID)
	require.NotNil(t, result.Candidates[0].Hybrid)
	assert.True(t, result.Candidates[0].Hybrid.InBothSources)
}

func TestPipeline_HybridOffSkipsSparse(t *testing.T) {
	catalog := testCatalog(t, testChunk("dense-hit", "internal/a.go"))
	sparse := &stubSparse{err: fmt.Errorf("sparse index must not be called")}

	p := newTestPipeline(t, PipelineDeps{
		Embedder: &stubEmbedder{vector: []float32{1, 0}},
		Vectors:  &stubVectors{hits: []*store.DenseResult{{ChunkID: "dense-hit", Score: 0.9}}},
		Sparse:   sparse,
		Chunks:   catalog,
	})

	off := false
	result, err := p.Search(context.Background(), &Query{Text: "find handler", Hybrid: &off})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.False(t, result.Metadata.HybridUsed)
}

func TestPipeline_EmbeddingFailurePropagates(t *testing.T) {
	p := newTestPipeline(t, PipelineDeps{
		Embedder: &stubEmbedder{err: fmt.Errorf("model offline")},
		Vectors:  &stubVectors{},
		Sparse:   &stubSparse{},
		Chunks:   testCatalog(t),
	})

	_, err := p.Search(context.Background(), &Query{Text: "find handler"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeEmbeddingFailed, errors.GetCode(err))
	assert.True(t, errors.IsRetryable(err))
}

func TestPipeline_DenseFailurePropagates(t *testing.T) {
	p := newTestPipeline(t, PipelineDeps{
		Embedder: &stubEmbedder{vector: []float32{1, 0}},
		Vectors:  &stubVectors{err: fmt.Errorf("index corrupt")},
		Sparse:   &stubSparse{},
		Chunks:   testCatalog(t),
	})

	_, err := p.Search(context.Background(), &Query{Text: "find handler"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDenseSearchFailed, errors.GetCode(err))
}

func TestPipeline_SparseFailurePropagates(t *testing.T) {
	catalog := testCatalog(t, testChunk("dense-hit", "internal/a.go"))

	p := newTestPipeline(t, PipelineDeps{
		Embedder: &stubEmbedder{vector: []float32{1, 0}},
		Vectors:  &stubVectors{hits: []*store.DenseResult{{ChunkID: "dense-hit", Score: 0.9}}},
		Sparse:   &stubSparse{err: fmt.Errorf("index closed")},
		Chunks:   catalog,
	})

	_, err := p.Search(context.Background(), &Query{Text: "find handler"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSparseSearchFailed, errors.GetCode(err))
}

func TestPipeline_CacheRoundTrip(t *testing.T) {
	catalog := testCatalog(t, testChunk("hit", "internal/a.go"))

	p := newTestPipeline(t, PipelineDeps{
		Embedder: &stubEmbedder{vector: []float32{1, 0}},
		Vectors:  &stubVectors{hits: []*store.DenseResult{{ChunkID: "hit", Score: 0.9}}},
		Sparse:   &stubSparse{},
		Chunks:   catalog,
	})

	q := &Query{Text: "find handler"}
	first, err := p.Search(context.Background(), q)
	require.NoError(t, err)
	assert.False(t, first.Metadata.CacheHit)

	second, err := p.Search(context.Background(), &Query{Text: "find handler"})
	require.NoError(t, err)
	assert.True(t, second.Metadata.CacheHit)
	require.Len(t, second.Candidates, 1)
	assert.Equal(t, "hit", second.Candidates[0].ChunkID)
}

func TestPipeline_FiltersAndLimit(t *testing.T) {
	goChunk := testChunk("go-fn", "internal/a.go")
	pyChunk := testChunk("py-fn", "scripts/tool.py")
	pyChunk.Language = "python"
	catalog := testCatalog(t, goChunk, pyChunk)

	p := newTestPipeline(t, PipelineDeps{
		Embedder: &stubEmbedder{vector: []float32{1, 0}},
		Vectors: &stubVectors{hits: []*store.DenseResult{
			{ChunkID: "go-fn", Score: 0.9},
			{ChunkID: "py-fn", Score: 0.8},
		}},
		Sparse: &stubSparse{},
		Chunks: catalog,
	})

	result, err := p.Search(context.Background(), &Query{Text: "find handler", Language: "python"})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "py-fn", result.Candidates[0].ChunkID)
}

func TestPipeline_MetadataEnrichment(t *testing.T) {
	chunk := testChunk("open-fn", "internal/a.go")
	chunk.ModTime = time.Now()
	testFile := testChunk("test-fn", "internal/a_test.go")
	catalog := testCatalog(t, chunk, testFile)
	catalog.MarkFileOpen("internal/a.go", true)

	p := newTestPipeline(t, PipelineDeps{
		Embedder: &stubEmbedder{vector: []float32{1, 0}},
		Vectors: &stubVectors{hits: []*store.DenseResult{
			{ChunkID: "open-fn", Score: 0.5},
			{ChunkID: "test-fn", Score: 0.5},
		}},
		Sparse: &stubSparse{},
		Chunks: catalog,
	})

	result, err := p.Search(context.Background(), &Query{Text: "find handler"})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 2)

	byID := map[string]*Candidate{}
	for _, c := range result.Candidates {
		byID[c.ChunkID] = c
	}
	assert.True(t, byID["open-fn"].Metadata.CurrentlyOpen)
	assert.True(t, byID["open-fn"].Metadata.RecentlyModified)
	assert.False(t, byID["open-fn"].Metadata.IsTest)
	assert.True(t, byID["test-fn"].Metadata.IsTest)
	assert.Equal(t, "open-fn", result.Candidates[0].ChunkID,
		"open and recent file outranks the test file at equal source score")
}

func TestPipeline_SearchForCodeReferences(t *testing.T) {
	catalog := testCatalog(t,
		testChunk("a", "internal/a.go"),
		testChunk("b", "internal/b.go"),
	)

	p := newTestPipeline(t, PipelineDeps{
		Embedder: &stubEmbedder{vector: []float32{1, 0}},
		Vectors: &stubVectors{hits: []*store.DenseResult{
			{ChunkID: "a", Score: 0.9},
			{ChunkID: "b", Score: 0.8},
		}},
		Sparse: &stubSparse{},
		Chunks: catalog,
	})

	result, err := p.SearchForCodeReferences(context.Background(), &Query{Text: "find handler"}, 1000)
	require.NoError(t, err)
	require.NotNil(t, result.Window)
	assert.Len(t, result.Window.References, 2)
	assert.LessOrEqual(t, result.Window.TokensUsed, result.Window.TokenBudget)
	assert.False(t, result.Window.Truncated)
}

func TestPipeline_StatsAndInvalidation(t *testing.T) {
	catalog := testCatalog(t, testChunk("hit", "internal/a.go"))

	p := newTestPipeline(t, PipelineDeps{
		Embedder: &stubEmbedder{vector: []float32{1, 0}},
		Vectors:  &stubVectors{hits: []*store.DenseResult{{ChunkID: "hit", Score: 0.9}}},
		Sparse:   &stubSparse{},
		Chunks:   catalog,
	})

	_, err := p.Search(context.Background(), &Query{Text: "find handler"})
	require.NoError(t, err)

	stats := p.Stats()
	assert.Equal(t, 1, stats.Cache.Size)

	removed := p.InvalidateFile("internal/a.go")
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, p.Stats().Cache.Size)

	_, err = p.Search(context.Background(), &Query{Text: "find handler"})
	require.NoError(t, err)
	p.ClearCaches()
	assert.Equal(t, 0, p.Stats().Cache.Size)
}
