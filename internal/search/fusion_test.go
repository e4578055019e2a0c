package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knath2000/codebase-indexing-sub001/internal/store"
)

func denseCand(id, path string, score float64) *Candidate {
	return &Candidate{ChunkID: id, FilePath: path, Score: score, Metadata: CandidateMetadata{IsTest: true}}
}

// Metadata.IsTest=true in these fixtures keeps the non-test bonus out of the
// way so blend math stays easy to assert.

func TestFusionEngine_BlendBothSources(t *testing.T) {
	engine := NewFusionEngine(0.7)
	impl := func(b bool) *bool { return &b }(false)

	dense := []*Candidate{
		denseCand("a", "pkg/a.go", 0.9),
		denseCand("b", "pkg/b.go", 0.5),
	}
	sparse := []*Candidate{
		denseCand("a", "pkg/a.go", 0.6),
		denseCand("c", "pkg/c.go", 0.8),
	}

	out := engine.Fuse(dense, sparse, &Query{PreferImplementation: impl}, true)
	require.Len(t, out, 3)

	byID := map[string]*Candidate{}
	for _, c := range out {
		byID[c.ChunkID] = c
	}

	// a: in both sources, 0.7*0.9 + 0.3*0.6 = 0.81
	require.NotNil(t, byID["a"].Hybrid)
	assert.True(t, byID["a"].Hybrid.InBothSources)
	assert.InDelta(t, 0.81, byID["a"].Hybrid.Combined, 1e-9)

	// b: dense only, sparse contributes 0: 0.7*0.5 = 0.35
	assert.False(t, byID["b"].Hybrid.InBothSources)
	assert.InDelta(t, 0.35, byID["b"].Hybrid.Combined, 1e-9)

	// c: sparse only: 0.3*0.8 = 0.24
	assert.InDelta(t, 0.24, byID["c"].Hybrid.Combined, 1e-9)

	assert.Equal(t, "a", out[0].ChunkID)
	assert.Equal(t, "b", out[1].ChunkID)
	assert.Equal(t, "c", out[2].ChunkID)
}

func TestFusionEngine_AlphaExtremes(t *testing.T) {
	impl := func(b bool) *bool { return &b }(false)
	q := &Query{PreferImplementation: impl}

	dense := []*Candidate{
		denseCand("a", "pkg/a.go", 0.9),
		denseCand("b", "pkg/b.go", 0.6),
	}
	sparse := []*Candidate{
		denseCand("b", "pkg/b.go", 0.95),
		denseCand("a", "pkg/a.go", 0.3),
	}

	// alpha=1: ranking follows dense scores.
	out := NewFusionEngine(1.0).Fuse(cloneAll(dense), cloneAll(sparse), q, true)
	assert.Equal(t, "a", out[0].ChunkID)
	assert.Equal(t, "b", out[1].ChunkID)

	// alpha=0: ranking follows sparse scores.
	out = NewFusionEngine(0.0).Fuse(cloneAll(dense), cloneAll(sparse), q, true)
	assert.Equal(t, "b", out[0].ChunkID)
	assert.Equal(t, "a", out[1].ChunkID)
}

func cloneAll(cands []*Candidate) []*Candidate {
	out := make([]*Candidate, len(cands))
	for i, c := range cands {
		out[i] = c.Clone()
	}
	return out
}

func TestFusionEngine_PassthroughWhenHybridOff(t *testing.T) {
	engine := NewFusionEngine(0.7)
	impl := func(b bool) *bool { return &b }(false)

	dense := []*Candidate{denseCand("a", "pkg/a.go", 0.9)}
	sparse := []*Candidate{denseCand("b", "pkg/b.go", 0.8)}

	out := engine.Fuse(dense, sparse, &Query{PreferImplementation: impl}, false)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].ChunkID)
	assert.Nil(t, out[0].Hybrid, "passthrough results carry no hybrid breakdown")
}

func TestFusionEngine_FallsBackToSparseWhenDenseEmpty(t *testing.T) {
	engine := NewFusionEngine(0.7)
	impl := func(b bool) *bool { return &b }(false)

	sparse := []*Candidate{denseCand("b", "pkg/b.go", 0.8)}

	out := engine.Fuse(nil, sparse, &Query{PreferImplementation: impl}, false)
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].ChunkID)
}

func TestFusionEngine_DeterministicTieBreak(t *testing.T) {
	engine := NewFusionEngine(0.7)
	impl := func(b bool) *bool { return &b }(false)

	dense := []*Candidate{
		{ChunkID: "z", FilePath: "pkg/z.go", StartLine: 5, Score: 0.5, Metadata: CandidateMetadata{IsTest: true}},
		{ChunkID: "a2", FilePath: "pkg/a.go", StartLine: 30, Score: 0.5, Metadata: CandidateMetadata{IsTest: true}},
		{ChunkID: "a1", FilePath: "pkg/a.go", StartLine: 10, Score: 0.5, Metadata: CandidateMetadata{IsTest: true}},
	}
	sparse := []*Candidate{denseCand("other", "pkg/o.go", 0.1)}

	out := engine.Fuse(dense, sparse, &Query{PreferImplementation: impl}, true)
	require.Len(t, out, 4)
	assert.Equal(t, "a1", out[0].ChunkID)
	assert.Equal(t, "a2", out[1].ChunkID)
	assert.Equal(t, "z", out[2].ChunkID)
}

func TestFusionEngine_ImplementationBeatsDocumentation(t *testing.T) {
	engine := NewFusionEngine(0.7)

	cands := []*Candidate{
		{ChunkID: "impl", FilePath: "src/foo.ts", Kind: store.ChunkKindFunction, Score: 0.5, Metadata: CandidateMetadata{IsTest: true}},
		{ChunkID: "doc", FilePath: "README.md", Kind: store.ChunkKindSection, Score: 0.5, Metadata: CandidateMetadata{IsTest: true}},
	}

	out := engine.Fuse(cands, nil, &Query{}, true)
	require.Len(t, out, 2)
	assert.Equal(t, "impl", out[0].ChunkID)
	// 0.5 * 1.30 * 1.15 vs 0.5 * 0.85
	assert.InDelta(t, 0.7475, out[0].Score, 1e-9)
	assert.InDelta(t, 0.425, out[1].Score, 1e-9)
}

func TestFusionEngine_ImplementationBoostUnclamped(t *testing.T) {
	engine := NewFusionEngine(0.7)

	cands := []*Candidate{
		{ChunkID: "hot", FilePath: "pkg/hot.go", Kind: store.ChunkKindFunction, Score: 0.95,
			Metadata: CandidateMetadata{IsTest: true}},
	}

	out := engine.Fuse(cands, nil, &Query{}, true)
	require.Len(t, out, 1)
	// 0.95 * 1.30 * 1.15 = 1.420..., the multiplicative pass does not clamp
	// but the metadata pass caps the final value.
	assert.Equal(t, 1.0, out[0].Score)
}

func TestFusionEngine_MetadataBonuses(t *testing.T) {
	engine := NewFusionEngine(0.7)
	impl := func(b bool) *bool { return &b }(false)

	cands := []*Candidate{
		{ChunkID: "open", FilePath: "a.go", Score: 0.4,
			Metadata: CandidateMetadata{CurrentlyOpen: true, IsTest: true}},
		{ChunkID: "recent", FilePath: "b.go", Score: 0.4,
			Metadata: CandidateMetadata{RecentlyModified: true, IsTest: true}},
		{ChunkID: "nontest", FilePath: "c.go", Score: 0.4,
			Metadata: CandidateMetadata{IsTest: false}},
		{ChunkID: "plain", FilePath: "d.go", Score: 0.4,
			Metadata: CandidateMetadata{IsTest: true}},
	}

	out := engine.Fuse(cands, nil, &Query{PreferImplementation: impl}, true)
	byID := map[string]float64{}
	for _, c := range out {
		byID[c.ChunkID] = c.Score
	}

	assert.InDelta(t, 0.55, byID["open"], 1e-9)
	assert.InDelta(t, 0.50, byID["recent"], 1e-9)
	assert.InDelta(t, 0.45, byID["nontest"], 1e-9)
	assert.InDelta(t, 0.40, byID["plain"], 1e-9)
}

func TestFusionEngine_PreferImplementationDisabled(t *testing.T) {
	engine := NewFusionEngine(0.7)
	impl := func(b bool) *bool { return &b }(false)

	cands := []*Candidate{
		{ChunkID: "doc", FilePath: "README.md", Score: 0.6, Metadata: CandidateMetadata{IsTest: true}},
	}

	out := engine.Fuse(cands, nil, &Query{PreferImplementation: impl}, true)
	require.Len(t, out, 1)
	assert.InDelta(t, 0.6, out[0].Score, 1e-9, "no multiplicative pass when disabled")
}

func TestIsDocumentationFile(t *testing.T) {
	docs := []string{
		"README.md",
		"notes.txt",
		"guide.rst",
		"manual.adoc",
		"book.asciidoc",
		"docs/api.go",
		"documentation/setup.go",
		"CHANGELOG",
		"LICENSE",
		"CONTRIBUTING",
	}
	for _, path := range docs {
		assert.True(t, isDocumentationFile(path), path)
	}

	code := []string{
		"internal/search/fusion.go",
		"src/app.ts",
		"lib/util.py",
	}
	for _, path := range code {
		assert.False(t, isDocumentationFile(path), path)
	}
}
