package categorization

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var embeddedRules []byte

// ErrMalformedRules is returned when a rule document cannot be decoded
var ErrMalformedRules = errors.New("malformed rules")

// MatchType defines how a pattern is compared with a description
type MatchType string

const (
	// MatchTypeContains requires the pattern to be a substring of the description
	MatchTypeContains MatchType = "contains"
	// MatchTypeRegex evaluates the pattern as a case-insensitive regular expression
	MatchTypeRegex MatchType = "regex"
	// MatchTypeExact requires the whole description to equal the pattern
	MatchTypeExact MatchType = "exact"
)

// Rule maps a description pattern to a category label
type Rule struct {
	Pattern   string    `yaml:"pattern" json:"pattern"`
	Category  string    `yaml:"category" json:"category"`
	MatchType MatchType `yaml:"match_type" json:"match_type"`
}

// RuleSet is the ordered rule list plus the labels users may pick
type RuleSet struct {
	Categories []string `yaml:"categories" json:"categories"`
	Rules      []Rule   `yaml:"rules" json:"rules"`
}

// RuleError names the offending rule
type RuleError struct {
	Index  int
	Reason string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %d: %s", e.Index, e.Reason)
}

// DefaultRules returns the embedded rule set
func DefaultRules() (*RuleSet, error) {
	return ParseRules(embeddedRules)
}

// LoadRules reads a YAML rule file. An empty path returns the defaults.
func LoadRules(path string) (*RuleSet, error) {
	if path == "" {
		return DefaultRules()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	rs, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("rules %s: %w", path, err)
	}
	return rs, nil
}

// ParseRules decodes YAML (JSON is a subset) and validates the result
func ParseRules(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRules, err)
	}
	rs.normalize()
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// SaveRules writes the rule set as YAML
func SaveRules(path string, rs *RuleSet) error {
	data, err := yaml.Marshal(rs)
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write rules %s: %w", path, err)
	}
	return nil
}

// Validate checks every rule. A non-empty category list restricts rule labels.
func (rs *RuleSet) Validate() error {
	allowed := make(map[string]struct{}, len(rs.Categories))
	for _, c := range rs.Categories {
		if strings.TrimSpace(c) == "" {
			return errors.New("empty category label")
		}
		allowed[c] = struct{}{}
	}

	for i, r := range rs.Rules {
		if r.Pattern == "" {
			return &RuleError{Index: i, Reason: "empty pattern"}
		}
		if r.Category == "" {
			return &RuleError{Index: i, Reason: "empty category"}
		}
		if len(allowed) > 0 {
			if _, ok := allowed[r.Category]; !ok {
				return &RuleError{Index: i, Reason: fmt.Sprintf("category %q is not declared", r.Category)}
			}
		}
		switch r.MatchType {
		case MatchTypeContains, MatchTypeExact:
		case MatchTypeRegex:
			if _, err := regexp.Compile(r.Pattern); err != nil {
				return &RuleError{Index: i, Reason: fmt.Sprintf("invalid regex: %v", err)}
			}
		default:
			return &RuleError{Index: i, Reason: fmt.Sprintf("unknown match_type %q", r.MatchType)}
		}
	}
	return nil
}

// MarshalJSON keeps empty lists as [] rather than null
func (rs RuleSet) MarshalJSON() ([]byte, error) {
	type plain RuleSet
	if rs.Categories == nil {
		rs.Categories = []string{}
	}
	if rs.Rules == nil {
		rs.Rules = []Rule{}
	}
	return json.Marshal(plain(rs))
}

// normalize trims fields and defaults the match type to contains
func (rs *RuleSet) normalize() {
	for i := range rs.Categories {
		rs.Categories[i] = strings.TrimSpace(rs.Categories[i])
	}
	for i := range rs.Rules {
		r := &rs.Rules[i]
		r.Pattern = strings.TrimSpace(r.Pattern)
		r.Category = strings.TrimSpace(r.Category)
		r.MatchType = MatchType(strings.ToLower(strings.TrimSpace(string(r.MatchType))))
		if r.MatchType == "" {
			r.MatchType = MatchTypeContains
		}
	}
}
