package categorization

import (
	"regexp"
	"strings"
	"sync"

	"github.com/cloudflare/ahocorasick"

	"github.com/FACorreiaa/statement-recon/pkg/fold"
)

// DefaultCategory is returned when no rule matches
const DefaultCategory = "uncategorized"

// MatchResult is the winning rule for a description
type MatchResult struct {
	RuleIndex int
	Rule      Rule
}

type compiledRule struct {
	rule  Rule
	regex *regexp.Regexp // regex rules only
	exact string         // folded pattern of exact rules
}

// Engine categorizes descriptions with an ordered rule list; the rule with the
// lowest index that matches wins. Contains-rules are matched together with
// Aho-Corasick in a single pass over the folded description.
type Engine struct {
	mu         sync.RWMutex
	rules      []compiledRule
	matcher    *ahocorasick.Matcher
	patterns   []string // unique folded contains-patterns, in matcher order
	patternIdx [][]int  // rule indexes per pattern, ascending
	others     []int    // indexes of regex and exact rules, ascending
	categories []string
}

// NewEngine builds an engine from a validated rule set
func NewEngine(rs *RuleSet) *Engine {
	e := &Engine{}
	e.Replace(rs)
	return e
}

// Replace swaps the rule list. Concurrent Match calls see either the old or the new set.
func (e *Engine) Replace(rs *RuleSet) {
	var (
		rules      []compiledRule
		patterns   []string
		patternIdx [][]int
		others     []int
		categories []string
	)

	if rs != nil {
		categories = append(categories, rs.Categories...)
		byPattern := make(map[string]int)

		for i, r := range rs.Rules {
			cr := compiledRule{rule: r}
			switch r.MatchType {
			case MatchTypeRegex:
				re, err := regexp.Compile("(?i)" + r.Pattern)
				if err != nil {
					// unvalidated input; the rule can never match
					rules = append(rules, cr)
					continue
				}
				cr.regex = re
				others = append(others, i)
			case MatchTypeExact:
				cr.exact = normalizeDescription(r.Pattern)
				others = append(others, i)
			default:
				p := normalizeDescription(r.Pattern)
				if p == "" {
					rules = append(rules, cr)
					continue
				}
				if idx, ok := byPattern[p]; ok {
					patternIdx[idx] = append(patternIdx[idx], i)
				} else {
					byPattern[p] = len(patterns)
					patterns = append(patterns, p)
					patternIdx = append(patternIdx, []int{i})
				}
			}
			rules = append(rules, cr)
		}
	}

	var matcher *ahocorasick.Matcher
	if len(patterns) > 0 {
		bytePatterns := make([][]byte, len(patterns))
		for i, p := range patterns {
			bytePatterns[i] = []byte(p)
		}
		matcher = ahocorasick.NewMatcher(bytePatterns)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = rules
	e.matcher = matcher
	e.patterns = patterns
	e.patternIdx = patternIdx
	e.others = others
	e.categories = categories
}

// Match returns the first matching rule, or nil
func (e *Engine) Match(description string) *MatchResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.match(normalizeDescription(description))
}

// Categorize returns the category of the first matching rule or DefaultCategory
func (e *Engine) Categorize(description string) string {
	if m := e.Match(description); m != nil {
		return m.Rule.Category
	}
	return DefaultCategory
}

// CategorizeBatch categorizes many descriptions under a single read lock
func (e *Engine) CategorizeBatch(descriptions []string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]string, len(descriptions))
	for i, d := range descriptions {
		out[i] = DefaultCategory
		if m := e.match(normalizeDescription(d)); m != nil {
			out[i] = m.Rule.Category
		}
	}
	return out
}

// Categories returns the labels declared by the rule set
func (e *Engine) Categories() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.categories...)
}

// RuleCount returns the number of rules loaded in the engine
func (e *Engine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

func (e *Engine) match(normalized string) *MatchResult {
	best := -1

	if e.matcher != nil {
		// Match mutates per-node counters; readers share the matcher under RLock
		for _, idx := range e.matcher.MatchThreadSafe([]byte(normalized)) {
			if idx < 0 || idx >= len(e.patternIdx) {
				continue
			}
			if first := e.patternIdx[idx][0]; best < 0 || first < best {
				best = first
			}
		}
	}

	for _, i := range e.others {
		if best >= 0 && i > best {
			break
		}
		cr := e.rules[i]
		if cr.regex != nil && cr.regex.MatchString(normalized) {
			best = i
			break
		}
		if cr.exact != "" && cr.exact == normalized {
			best = i
			break
		}
	}

	if best < 0 {
		return nil
	}
	return &MatchResult{RuleIndex: best, Rule: e.rules[best].rule}
}

// normalizeDescription folds accents, upper-cases and collapses whitespace
func normalizeDescription(s string) string {
	return strings.Join(strings.Fields(fold.Upper(s)), " ")
}
