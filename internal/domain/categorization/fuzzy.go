package categorization

import (
	"sort"
	"strings"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Suggestion is a rule whose pattern nearly matches a description
type Suggestion struct {
	Pattern  string `json:"pattern"`
	Category string `json:"category"`
	Score    int    `json:"score"`    // 0-100, higher is closer
	Distance int    `json:"distance"` // Levenshtein distance to the closest window
}

// FuzzyMatcher proposes categories for descriptions that no rule matched,
// catching typos and truncations like "UBR TRIP" or "SHUTTERSTO".
// It only suggests; rules remain the single source of assigned categories.
type FuzzyMatcher struct {
	mu       sync.RWMutex
	patterns []fuzzyPattern
}

type fuzzyPattern struct {
	normalized string
	words      int
	category   string
}

// NewFuzzyMatcher creates a matcher over the contains and exact rules of rs
func NewFuzzyMatcher(rs *RuleSet) *FuzzyMatcher {
	fm := &FuzzyMatcher{}
	fm.Build(rs)
	return fm
}

// Build replaces the pattern list
func (fm *FuzzyMatcher) Build(rs *RuleSet) {
	var patterns []fuzzyPattern
	if rs != nil {
		seen := make(map[string]struct{})
		for _, r := range rs.Rules {
			if r.MatchType == MatchTypeRegex {
				continue
			}
			p := normalizeDescription(r.Pattern)
			if p == "" {
				continue
			}
			// first rule wins, same as the engine
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			patterns = append(patterns, fuzzyPattern{
				normalized: p,
				words:      len(strings.Fields(p)),
				category:   r.Category,
			})
		}
	}

	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.patterns = patterns
}

// Suggest ranks patterns by similarity to description and keeps those scoring
// at least threshold. limit <= 0 keeps all.
func (fm *FuzzyMatcher) Suggest(description string, threshold, limit int) []Suggestion {
	fm.mu.RLock()
	defer fm.mu.RUnlock()

	normalized := normalizeDescription(description)
	if normalized == "" || len(fm.patterns) == 0 {
		return nil
	}
	words := strings.Fields(normalized)

	var out []Suggestion
	for _, p := range fm.patterns {
		dist := closestWindow(words, p)
		score := similarity(dist, len(p.normalized))
		if score < threshold {
			continue
		}
		out = append(out, Suggestion{
			Pattern:  p.normalized,
			Category: p.category,
			Score:    score,
			Distance: dist,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// PatternCount returns the number of patterns in the matcher
func (fm *FuzzyMatcher) PatternCount() int {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	return len(fm.patterns)
}

// closestWindow compares the pattern with every run of the same number of words
func closestWindow(words []string, p fuzzyPattern) int {
	n := p.words
	if n > len(words) {
		n = len(words)
	}
	best := -1
	for i := 0; i+n <= len(words); i++ {
		window := strings.Join(words[i:i+n], " ")
		d := fuzzy.LevenshteinDistance(p.normalized, window)
		if best < 0 || d < best {
			best = d
		}
	}
	return best
}

// similarity maps an edit distance onto 0-100 relative to the pattern length
func similarity(distance, length int) int {
	if length == 0 || distance < 0 {
		return 0
	}
	if distance >= length {
		return 0
	}
	return 100 - distance*100/length
}
