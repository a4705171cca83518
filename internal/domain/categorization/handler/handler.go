// Package handler exposes the categorization rules over HTTP.
package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/FACorreiaa/statement-recon/internal/domain/categorization"
	"github.com/FACorreiaa/statement-recon/pkg/response"
)

const (
	maxRulesBytes   = 1 << 20
	defaultSuggest  = 5
	maxSuggestLimit = 50
)

// RulesSetter installs a validated rule set for later ingestions
type RulesSetter interface {
	SetRules(rs *categorization.RuleSet) error
}

// CategorizationHandler serves the rule and category routes
type CategorizationHandler struct {
	svc    *categorization.Service
	setter RulesSetter
	logger *slog.Logger
}

// NewCategorizationHandler creates the handler
func NewCategorizationHandler(svc *categorization.Service, setter RulesSetter, logger *slog.Logger) *CategorizationHandler {
	return &CategorizationHandler{svc: svc, setter: setter, logger: logger}
}

// Routes mounts /rules and /categories
func (h *CategorizationHandler) Routes(r chi.Router) {
	r.Route("/rules", func(r chi.Router) {
		r.Get("/", h.GetRules)
		r.Put("/", h.ReplaceRules)
		r.Get("/suggest", h.Suggest)
	})
	r.Get("/categories", h.Categories)
}

// SuggestResponse is the rule outcome for a description plus near misses
type SuggestResponse struct {
	Description string                      `json:"description"`
	Category    string                      `json:"category"`
	Suggestions []categorization.Suggestion `json:"suggestions"`
}

// GetRules returns the active rule set as JSON
func (h *CategorizationHandler) GetRules(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, h.svc.Rules())
}

// ReplaceRules accepts a YAML or JSON rule set. An invalid set is rejected
// whole and the active rules stay in place.
func (h *CategorizationHandler) ReplaceRules(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRulesBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, "rule set too large")
			return
		}
		response.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		response.Error(w, http.StatusBadRequest, "request body is empty")
		return
	}

	rs, err := categorization.ParseRules(data)
	if err != nil {
		h.writeRuleError(w, err)
		return
	}
	if err := h.setter.SetRules(rs); err != nil {
		h.writeRuleError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, h.svc.Rules())
}

func (h *CategorizationHandler) writeRuleError(w http.ResponseWriter, err error) {
	var ruleErr *categorization.RuleError
	if errors.As(err, &ruleErr) {
		response.ErrorWithDetails(w, http.StatusBadRequest, err.Error(), map[string]any{
			"index":  ruleErr.Index,
			"reason": ruleErr.Reason,
		})
		return
	}
	if errors.Is(err, categorization.ErrMalformedRules) {
		response.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Error("failed to replace rules", slog.Any("error", err))
	response.Error(w, http.StatusInternalServerError, "failed to replace rules")
}

// Suggest categorizes q and lists rules that nearly match it
func (h *CategorizationHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		response.Error(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := defaultSuggest
	if s := r.URL.Query().Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			response.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(v, maxSuggestLimit)
	}

	suggestions := h.svc.Suggest(q, limit)
	if suggestions == nil {
		suggestions = []categorization.Suggestion{}
	}
	response.JSON(w, http.StatusOK, SuggestResponse{
		Description: q,
		Category:    h.svc.Categorize(q),
		Suggestions: suggestions,
	})
}

// Categories lists the labels users may assign
func (h *CategorizationHandler) Categories(w http.ResponseWriter, r *http.Request) {
	cats := h.svc.Categories()
	if cats == nil {
		cats = []string{}
	}
	response.JSON(w, http.StatusOK, cats)
}
