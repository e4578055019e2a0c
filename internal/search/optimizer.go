package search

import (
	"sort"

	"github.com/knath2000/codebase-indexing-sub001/internal/store"
)

// kindPreferenceBonus is the additive bump applied by preferFunctions and
// preferClasses.
const kindPreferenceBonus = 0.10

// ContextOptimizer reshapes a ranked candidate list: chunk-kind preference
// boosts, per-file caps, and language diversification.
type ContextOptimizer struct{}

// NewContextOptimizer creates an optimizer.
func NewContextOptimizer() *ContextOptimizer {
	return &ContextOptimizer{}
}

// Optimize applies the query's reshaping preferences and re-sorts by score.
func (o *ContextOptimizer) Optimize(cands []*Candidate, q *Query) []*Candidate {
	if q.PreferFunctions {
		o.BoostByKind(cands, store.ChunkKindFunction, kindPreferenceBonus)
		o.BoostByKind(cands, store.ChunkKindMethod, kindPreferenceBonus)
	}
	if q.PreferClasses {
		o.BoostByKind(cands, store.ChunkKindClass, kindPreferenceBonus)
	}
	if q.Language == "" {
		cands = o.DiversifyByLanguage(cands)
	}
	if q.MaxPerFile > 0 {
		cands = o.LimitPerFile(cands, q.MaxPerFile)
	}

	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].Score > cands[j].Score
	})
	return cands
}

// BoostByKind adds delta to every candidate of the given kind, clamped to 1.0.
func (o *ContextOptimizer) BoostByKind(cands []*Candidate, kind store.ChunkKind, delta float64) {
	for _, c := range cands {
		if c.Kind != kind {
			continue
		}
		c.Score += delta
		if c.Score > 1.0 {
			c.Score = 1.0
		}
	}
}

// DiversifyByLanguage caps each language group to max(2, total/distinct),
// floor division, preserving per-group order. The cap is approximate rather
// than a strict global round-robin.
func (o *ContextOptimizer) DiversifyByLanguage(cands []*Candidate) []*Candidate {
	if len(cands) == 0 {
		return cands
	}

	groups := make(map[string][]*Candidate)
	var order []string
	for _, c := range cands {
		if _, seen := groups[c.Language]; !seen {
			order = append(order, c.Language)
		}
		groups[c.Language] = append(groups[c.Language], c)
	}

	limit := len(cands) / len(groups)
	if limit < 2 {
		limit = 2
	}

	out := make([]*Candidate, 0, len(cands))
	for _, lang := range order {
		group := groups[lang]
		if len(group) > limit {
			group = group[:limit]
		}
		out = append(out, group...)
	}
	return out
}

// LimitPerFile keeps only the first maxPerFile candidates per file path,
// preserving their pre-existing order.
func (o *ContextOptimizer) LimitPerFile(cands []*Candidate, maxPerFile int) []*Candidate {
	if maxPerFile <= 0 {
		return cands
	}

	counts := make(map[string]int)
	out := make([]*Candidate, 0, len(cands))
	for _, c := range cands {
		if counts[c.FilePath] >= maxPerFile {
			continue
		}
		counts[c.FilePath]++
		out = append(out, c)
	}
	return out
}
