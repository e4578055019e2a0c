package search

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Assembly constants.
const (
	// maxGroupLineGap is the largest line gap allowed when merging nearby
	// candidates from the same file into one reference.
	maxGroupLineGap = 10

	// gapMarkerThreshold is the line gap above which a marker is inserted
	// between merged snippets.
	gapMarkerThreshold = 3

	gapMarker = "... (gap) ..."

	// charsPerToken is the assumed characters-per-token ratio for the
	// budget estimate.
	charsPerToken = 3.5

	// maxSummaryKinds caps the distinct chunk kinds listed in the
	// truncation summary.
	maxSummaryKinds = 3
)

// ContextAssembler groups ranked candidates into code references and fills a
// token budget.
type ContextAssembler struct{}

// NewContextAssembler creates an assembler.
func NewContextAssembler() *ContextAssembler {
	return &ContextAssembler{}
}

// candidateGroup collects nearby candidates from one file during assembly.
type candidateGroup struct {
	filePath  string
	members   []*Candidate
	startLine int
	endLine   int
}

// Assemble groups candidates and accepts groups in rank order until the next
// one would exceed the token budget. TokensUsed never exceeds the budget.
func (a *ContextAssembler) Assemble(cands []*Candidate, tokenBudget int) *ContextWindow {
	window := &ContextWindow{
		TokenBudget: tokenBudget,
		References:  []*CodeReference{},
	}
	if len(cands) == 0 {
		return window
	}

	groups := a.group(cands)

	for i, g := range groups {
		ref := a.merge(g)
		if window.TokensUsed+ref.Tokens > tokenBudget {
			window.Truncated = true
			window.Summary = a.summarize(groups[i:])
			break
		}
		window.References = append(window.References, ref)
		window.TokensUsed += ref.Tokens
	}
	return window
}

// group walks candidates in rank order, attaching each to the most recent
// group for its file when the line gap allows, otherwise starting a new one.
func (a *ContextAssembler) group(cands []*Candidate) []*candidateGroup {
	var groups []*candidateGroup
	latest := make(map[string]*candidateGroup)

	for _, c := range cands {
		g, ok := latest[c.FilePath]
		if ok && a.joinable(g, c) {
			g.members = append(g.members, c)
			if c.StartLine < g.startLine {
				g.startLine = c.StartLine
			}
			if c.EndLine > g.endLine {
				g.endLine = c.EndLine
			}
			continue
		}

		g = &candidateGroup{
			filePath:  c.FilePath,
			members:   []*Candidate{c},
			startLine: c.StartLine,
			endLine:   c.EndLine,
		}
		groups = append(groups, g)
		latest[c.FilePath] = g
	}
	return groups
}

// joinable reports whether a candidate belongs to an existing group: same
// file and either overlapping the group's range or within the allowed gap
// past its end.
func (a *ContextAssembler) joinable(g *candidateGroup, c *Candidate) bool {
	if c.StartLine <= g.endLine && c.EndLine >= g.startLine {
		return true
	}
	if gap := c.StartLine - g.endLine; gap >= 0 && gap <= maxGroupLineGap {
		return true
	}
	// Lower-ranked candidate sitting just before the group's range.
	gap := g.startLine - c.EndLine
	return gap >= 0 && gap <= maxGroupLineGap
}

// merge builds one CodeReference from a group: snippets concatenated in line
// order with gap markers, mean score, and kind/language/metadata from the
// highest-scoring member.
func (a *ContextAssembler) merge(g *candidateGroup) *CodeReference {
	members := make([]*Candidate, len(g.members))
	copy(members, g.members)
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].StartLine < members[j].StartLine
	})

	var parts []string
	var scoreSum float64
	best := members[0]
	prevEnd := -1

	for _, m := range members {
		if prevEnd >= 0 && m.StartLine-prevEnd > gapMarkerThreshold {
			parts = append(parts, gapMarker)
		}
		parts = append(parts, m.Content)
		if m.EndLine > prevEnd {
			prevEnd = m.EndLine
		}
		scoreSum += m.Score
		if m.Score > best.Score {
			best = m
		}
	}

	content := strings.Join(parts, "\n")
	return &CodeReference{
		FilePath:  g.filePath,
		StartLine: g.startLine,
		EndLine:   g.endLine,
		Language:  best.Language,
		Kind:      best.Kind,
		Content:   content,
		Score:     scoreSum / float64(len(members)),
		Tokens:    estimateTokens(content),
		Merged:    len(members),
	}
}

// summarize describes the groups excluded by the budget: omitted candidate
// count, distinct files, and up to three distinct chunk kinds.
func (a *ContextAssembler) summarize(omitted []*candidateGroup) string {
	candidates := 0
	files := make(map[string]struct{})
	kinds := make([]string, 0, maxSummaryKinds)
	seenKinds := make(map[string]struct{})
	moreKinds := false

	for _, g := range omitted {
		candidates += len(g.members)
		files[g.filePath] = struct{}{}
		for _, m := range g.members {
			kind := string(m.Kind)
			if kind == "" {
				continue
			}
			if _, seen := seenKinds[kind]; seen {
				continue
			}
			seenKinds[kind] = struct{}{}
			if len(kinds) < maxSummaryKinds {
				kinds = append(kinds, kind)
			} else {
				moreKinds = true
			}
		}
	}

	kindList := strings.Join(kinds, ", ")
	if moreKinds {
		kindList += ", ..."
	}
	if kindList == "" {
		return fmt.Sprintf("%d additional results truncated from %d files", candidates, len(files))
	}
	return fmt.Sprintf("%d additional results truncated from %d files (%s)", candidates, len(files), kindList)
}

// estimateTokens approximates the token cost of a snippet.
func estimateTokens(text string) int {
	return int(math.Ceil(float64(len(text)) / charsPerToken))
}
