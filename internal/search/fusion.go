package search

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/knath2000/codebase-indexing-sub001/internal/store"
)

// Scoring constants. The implementation boost pass is multiplicative and
// deliberately unclamped; the metadata pass is additive and clamps to 1.0.
// The two passes evolved separately and their combination rules differ.
const (
	// DefaultAlpha weights dense scores in hybrid blending.
	DefaultAlpha = 0.7

	implementationBoost  = 1.30
	documentationPenalty = 0.85
	definitionKindBoost  = 1.15

	recentlyModifiedBonus = 0.10
	currentlyOpenBonus    = 0.15
	nonTestBonus          = 0.05
)

var docExtensions = map[string]struct{}{
	".md":       {},
	".txt":      {},
	".rst":      {},
	".adoc":     {},
	".asciidoc": {},
}

var docPathPatterns = []string{
	"readme",
	"changelog",
	"license",
	"contributing",
	"docs/",
	"documentation/",
}

// FusionEngine merges dense and sparse result lists into one ranked list and
// applies the scoring passes.
type FusionEngine struct {
	alpha float64
}

// NewFusionEngine creates a fusion engine with the given dense weight.
// Out-of-range values fall back to the default.
func NewFusionEngine(alpha float64) *FusionEngine {
	if alpha < 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	return &FusionEngine{alpha: alpha}
}

// Fuse merges the dense and sparse candidate lists. With hybrid off, or when
// one source returned nothing, the surviving list passes through without
// blending. The boost passes run on every path.
func (f *FusionEngine) Fuse(dense, sparse []*Candidate, q *Query, hybrid bool) []*Candidate {
	var merged []*Candidate
	switch {
	case !hybrid || len(sparse) == 0:
		merged = dense
		if len(merged) == 0 {
			merged = sparse
		}
	case len(dense) == 0:
		merged = sparse
	default:
		merged = f.blend(dense, sparse)
	}

	f.applyImplementationBoost(merged, q)
	f.applyMetadataBoost(merged)

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	return merged
}

// blend combines the two lists with combined = alpha*dense + (1-alpha)*sparse,
// using 0 for the source that did not return a candidate.
func (f *FusionEngine) blend(dense, sparse []*Candidate) []*Candidate {
	byID := make(map[string]*Candidate, len(dense)+len(sparse))

	for _, c := range dense {
		cand := c.Clone()
		cand.Hybrid = &HybridScore{Dense: c.Score}
		byID[c.ChunkID] = cand
	}
	for _, c := range sparse {
		if existing, ok := byID[c.ChunkID]; ok {
			existing.Hybrid.Sparse = c.Score
			existing.Hybrid.InBothSources = true
			continue
		}
		cand := c.Clone()
		cand.Hybrid = &HybridScore{Sparse: c.Score}
		byID[c.ChunkID] = cand
	}

	merged := make([]*Candidate, 0, len(byID))
	for _, cand := range byID {
		cand.Hybrid.Combined = f.alpha*cand.Hybrid.Dense + (1-f.alpha)*cand.Hybrid.Sparse
		cand.Score = cand.Hybrid.Combined
		merged = append(merged, cand)
	}

	// Deterministic ordering: combined descending, then path, then start line.
	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		return a.StartLine < b.StartLine
	})
	return merged
}

// applyImplementationBoost multiplies scores to favor implementation files
// over documentation, and definition chunks over loose blocks. The result is
// intentionally not clamped.
func (f *FusionEngine) applyImplementationBoost(cands []*Candidate, q *Query) {
	if q != nil && q.PreferImplementation != nil && !*q.PreferImplementation {
		return
	}

	for _, c := range cands {
		if isDocumentationFile(c.FilePath) {
			c.Score *= documentationPenalty
		} else {
			c.Score *= implementationBoost
		}
		switch c.Kind {
		case store.ChunkKindFunction, store.ChunkKindClass, store.ChunkKindMethod:
			c.Score *= definitionKindBoost
		}
	}
}

// applyMetadataBoost adds file-state bonuses and clamps the sum to 1.0.
func (f *FusionEngine) applyMetadataBoost(cands []*Candidate) {
	for _, c := range cands {
		score := c.Score
		if c.Metadata.RecentlyModified {
			score += recentlyModifiedBonus
		}
		if c.Metadata.CurrentlyOpen {
			score += currentlyOpenBonus
		}
		if !c.Metadata.IsTest {
			score += nonTestBonus
		}
		if score > 1.0 {
			score = 1.0
		}
		c.Score = score
	}
}

// isDocumentationFile reports whether a path looks like documentation rather
// than implementation, by extension or path pattern.
func isDocumentationFile(path string) bool {
	lower := strings.ToLower(path)
	if _, ok := docExtensions[filepath.Ext(lower)]; ok {
		return true
	}
	for _, pattern := range docPathPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
