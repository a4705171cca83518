package categorization

import (
	"fmt"
	"log/slog"
	"sync"
)

// defaultSuggestThreshold keeps suggestions within roughly one edit per four characters
const defaultSuggestThreshold = 75

// Service owns the active rule set: it categorizes descriptions, validates
// replacements and persists them when a rules file is configured.
type Service struct {
	mu        sync.RWMutex
	rules     *RuleSet
	engine    *Engine
	fuzzy     *FuzzyMatcher
	rulesPath string
	logger    *slog.Logger
}

// NewService creates a service from an initial rule set. rulesPath may be empty.
func NewService(rs *RuleSet, rulesPath string, logger *slog.Logger) *Service {
	return &Service{
		rules:     rs,
		engine:    NewEngine(rs),
		fuzzy:     NewFuzzyMatcher(rs),
		rulesPath: rulesPath,
		logger:    logger,
	}
}

// Categorize returns the category of one description
func (s *Service) Categorize(description string) string {
	return s.engine.Categorize(description)
}

// CategorizeBatch categorizes descriptions in order
func (s *Service) CategorizeBatch(descriptions []string) []string {
	return s.engine.CategorizeBatch(descriptions)
}

// Categories returns the labels users may assign
func (s *Service) Categories() []string {
	return s.engine.Categories()
}

// Suggest proposes categories for a description no rule matched
func (s *Service) Suggest(description string, limit int) []Suggestion {
	return s.fuzzy.Suggest(description, defaultSuggestThreshold, limit)
}

// Rules returns a copy of the active rule set
func (s *Service) Rules() RuleSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.rules == nil {
		return RuleSet{}
	}
	return RuleSet{
		Categories: append([]string(nil), s.rules.Categories...),
		Rules:      append([]Rule(nil), s.rules.Rules...),
	}
}

// ReplaceRules validates rs and makes it the active rule set. Rows already
// stored keep their categories; only later ingestions see the new rules.
func (s *Service) ReplaceRules(rs *RuleSet) error {
	if rs == nil {
		return fmt.Errorf("nil rule set")
	}
	rs.normalize()
	if err := rs.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rulesPath != "" {
		if err := SaveRules(s.rulesPath, rs); err != nil {
			return err
		}
	}
	s.rules = rs
	s.engine.Replace(rs)
	s.fuzzy.Build(rs)

	s.logger.Info("categorization rules replaced",
		slog.Int("rules", len(rs.Rules)),
		slog.Int("categories", len(rs.Categories)),
	)
	return nil
}
