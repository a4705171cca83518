// Package handler exposes the reconciliation workflow over HTTP.
package handler

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/FACorreiaa/statement-recon/internal/domain/reconciliation"
	"github.com/FACorreiaa/statement-recon/pkg/money"
	"github.com/FACorreiaa/statement-recon/pkg/response"
)

// ReconciliationHandler serves the transaction routes
type ReconciliationHandler struct {
	svc        *reconciliation.Service
	allowReset bool
	logger     *slog.Logger
}

// NewReconciliationHandler creates the handler. Reset is refused unless allowReset is set.
func NewReconciliationHandler(svc *reconciliation.Service, allowReset bool, logger *slog.Logger) *ReconciliationHandler {
	return &ReconciliationHandler{svc: svc, allowReset: allowReset, logger: logger}
}

// Routes mounts the transaction and summary routes
func (h *ReconciliationHandler) Routes(r chi.Router) {
	r.Route("/transactions", func(r chi.Router) {
		r.Get("/", h.List)
		r.Delete("/", h.Reset)
		r.Get("/export", h.Export)
		r.Post("/kame", h.MoveToKame)
		r.Get("/{rowID}", h.Get)
		r.Patch("/{rowID}", h.Update)
	})
	r.Get("/summary", h.Summary)
}

// TransactionResponse is the JSON form of a row. Amounts are decimal strings.
type TransactionResponse struct {
	RowID          int64   `json:"row_id"`
	StatementID    string  `json:"statement_id"`
	Date           string  `json:"date"`
	Description    string  `json:"description"`
	Amount         string  `json:"amount"`
	AmountDisplay  string  `json:"amount_display"`
	AmountCents    int64   `json:"amount_cents"`
	Balance        *string `json:"balance,omitempty"`
	OriginalAmount *string `json:"original_amount,omitempty"`
	Currency       string  `json:"currency"`
	Category       string  `json:"category"`
	Reconciled     bool    `json:"reconciled"`
	EnteredInKame  bool    `json:"entered_in_kame"`
	City           string  `json:"city,omitempty"`
	Country        string  `json:"country,omitempty"`
	Reference      string  `json:"reference,omitempty"`
}

// PatchRequest updates the user-owned fields of a row
type PatchRequest struct {
	Category      *string `json:"category"`
	EnteredInKame *bool   `json:"entered_in_kame"`
	Reconciled    *bool   `json:"reconciled"`
}

// KameRequest selects the rows to move to Kame
type KameRequest struct {
	RowIDs []int64 `json:"row_ids"`
}

// SummaryResponse is the JSON form of a period summary
type SummaryResponse struct {
	Total           string             `json:"total"`
	TotalCents      int64              `json:"total_cents"`
	Average         string             `json:"average"`
	Count           int                `json:"count"`
	ReconciledCount int                `json:"reconciled_count"`
	PendingCount    int                `json:"pending_count"`
	EnteredCount    int                `json:"entered_count"`
	TopDescriptions []DescriptionTotal `json:"top_descriptions"`
	Trend           []MonthTotal       `json:"trend"`
}

type DescriptionTotal struct {
	Description string `json:"description"`
	Total       string `json:"total"`
	Count       int    `json:"count"`
}

type MonthTotal struct {
	Month string `json:"month"`
	Total string `json:"total"`
}

// List returns rows filtered by year, month, pending and q
func (h *ReconciliationHandler) List(w http.ResponseWriter, r *http.Request) {
	year, month, err := periodParams(r)
	if err != nil {
		response.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	f, err := filterParams(r)
	if err != nil {
		response.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	txs, err := h.svc.ListTransactions(r.Context(), year, month, f)
	if err != nil {
		h.logger.Error("failed to list transactions", slog.Any("error", err))
		response.Error(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	out := make([]TransactionResponse, 0, len(txs))
	for _, t := range txs {
		out = append(out, toTransactionResponse(t))
	}
	response.JSON(w, http.StatusOK, out)
}

// Get returns one row
func (h *ReconciliationHandler) Get(w http.ResponseWriter, r *http.Request) {
	rowID, ok := rowIDParam(w, r)
	if !ok {
		return
	}
	t, err := h.svc.Get(r.Context(), rowID)
	if err != nil {
		h.writeError(w, "get transaction", err)
		return
	}
	response.JSON(w, http.StatusOK, toTransactionResponse(*t))
}

// Update applies a patch and returns the updated row
func (h *ReconciliationHandler) Update(w http.ResponseWriter, r *http.Request) {
	rowID, ok := rowIDParam(w, r)
	if !ok {
		return
	}
	var req PatchRequest
	if err := response.Decode(r.Body, &req); err != nil {
		response.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Category == nil && req.EnteredInKame == nil && req.Reconciled == nil {
		response.Error(w, http.StatusBadRequest, "nothing to update")
		return
	}

	t, err := h.svc.Apply(r.Context(), rowID, reconciliation.Patch{
		Category:   req.Category,
		Entered:    req.EnteredInKame,
		Reconciled: req.Reconciled,
	})
	if err != nil {
		h.writeError(w, "update transaction", err)
		return
	}
	response.JSON(w, http.StatusOK, toTransactionResponse(*t))
}

// MoveToKame flags reconciled, categorized rows as entered in Kame
func (h *ReconciliationHandler) MoveToKame(w http.ResponseWriter, r *http.Request) {
	var req KameRequest
	if err := response.Decode(r.Body, &req); err != nil {
		response.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.RowIDs) == 0 {
		response.Error(w, http.StatusBadRequest, "row_ids is required")
		return
	}

	n, err := h.svc.MoveToKame(r.Context(), req.RowIDs)
	if err != nil {
		h.writeError(w, "move to kame", err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]int64{"moved": n})
}

// Export downloads the filtered rows as CSV or XLSX
func (h *ReconciliationHandler) Export(w http.ResponseWriter, r *http.Request) {
	format, err := reconciliation.ParseExportFormat(strings.ToLower(r.URL.Query().Get("format")))
	if err != nil {
		response.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	f, err := filterParams(r)
	if err != nil {
		response.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	// buffered so a failed export still gets a proper error status
	var buf bytes.Buffer
	if err := h.svc.Export(r.Context(), &buf, format, f); err != nil {
		h.logger.Error("failed to export transactions", slog.Any("error", err))
		response.Error(w, http.StatusInternalServerError, "failed to export transactions")
		return
	}

	name := fmt.Sprintf("transactions_%s.%s", time.Now().UTC().Format("20060102"), format)
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// Summary aggregates a period. Without year everything is summarized.
func (h *ReconciliationHandler) Summary(w http.ResponseWriter, r *http.Request) {
	year, month, err := periodParams(r)
	if err != nil {
		response.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	sum, err := h.svc.Summary(r.Context(), year, month)
	if err != nil {
		h.logger.Error("failed to summarize transactions", slog.Any("error", err))
		response.Error(w, http.StatusInternalServerError, "failed to summarize transactions")
		return
	}
	response.JSON(w, http.StatusOK, toSummaryResponse(sum))
}

// Reset deletes every row and document
func (h *ReconciliationHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if !h.allowReset {
		response.Error(w, http.StatusForbidden, "reset is disabled")
		return
	}
	if err := h.svc.Reset(r.Context()); err != nil {
		h.logger.Error("failed to reset store", slog.Any("error", err))
		response.Error(w, http.StatusInternalServerError, "failed to reset store")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ReconciliationHandler) writeError(w http.ResponseWriter, op string, err error) {
	var notReady *reconciliation.NotReadyError
	switch {
	case errors.As(err, &notReady):
		response.ErrorWithDetails(w, http.StatusConflict, err.Error(), map[string]any{"row_ids": notReady.RowIDs})
	case errors.Is(err, reconciliation.ErrRowNotFound):
		response.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, reconciliation.ErrInvalidCategory):
		response.Error(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("reconciliation request failed", slog.String("op", op), slog.Any("error", err))
		response.Error(w, http.StatusInternalServerError, op+" failed")
	}
}

func rowIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "rowID"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(w, http.StatusBadRequest, "invalid row id")
		return 0, false
	}
	return id, true
}

func periodParams(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	year, err := intParam(q.Get("year"), "year")
	if err != nil {
		return 0, 0, err
	}
	month, err := intParam(q.Get("month"), "month")
	if err != nil {
		return 0, 0, err
	}
	if month < 0 || month > 12 {
		return 0, 0, fmt.Errorf("month must be between 1 and 12")
	}
	if month > 0 && year == 0 {
		return 0, 0, fmt.Errorf("month requires year")
	}
	return year, month, nil
}

func filterParams(r *http.Request) (reconciliation.Filter, error) {
	q := r.URL.Query()
	f := reconciliation.Filter{Search: strings.TrimSpace(q.Get("q"))}
	if p := q.Get("pending"); p != "" {
		pending, err := strconv.ParseBool(p)
		if err != nil {
			return f, fmt.Errorf("invalid pending %q", p)
		}
		f.PendingOnly = pending
	}
	return f, nil
}

func intParam(s, name string) (int, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	return v, nil
}

func toTransactionResponse(t reconciliation.Transaction) TransactionResponse {
	currency := t.Currency
	if currency == "" {
		currency = reconciliation.CurrencyUSD
	}
	amount := money.New(t.AmountCents, currency)
	out := TransactionResponse{
		RowID:         t.RowID,
		StatementID:   t.StatementID,
		Date:          t.Date.Format(reconciliation.DateLayout),
		Description:   t.Description,
		Amount:        amount.String(),
		AmountDisplay: amount.Display(),
		AmountCents:   t.AmountCents,
		Currency:      currency,
		Category:      t.Category,
		Reconciled:    t.Reconciled,
		EnteredInKame: t.EnteredInKame,
		City:          t.City,
		Country:       t.Country,
		Reference:     t.Reference,
	}
	if t.BalanceCents != nil {
		s := money.New(*t.BalanceCents, currency).String()
		out.Balance = &s
	}
	if t.OriginalAmountCents != nil {
		s := money.New(*t.OriginalAmountCents, currency).String()
		out.OriginalAmount = &s
	}
	return out
}

func toSummaryResponse(s *reconciliation.Summary) SummaryResponse {
	out := SummaryResponse{
		Total:           money.New(s.TotalCents, reconciliation.CurrencyUSD).String(),
		TotalCents:      s.TotalCents,
		Average:         money.New(s.AverageCents, reconciliation.CurrencyUSD).String(),
		Count:           s.Count,
		ReconciledCount: s.ReconciledCount,
		PendingCount:    s.PendingCount,
		EnteredCount:    s.EnteredCount,
		TopDescriptions: make([]DescriptionTotal, 0, len(s.TopDescriptions)),
		Trend:           make([]MonthTotal, 0, len(s.Trend)),
	}
	for _, d := range s.TopDescriptions {
		out.TopDescriptions = append(out.TopDescriptions, DescriptionTotal{
			Description: d.Description,
			Total:       money.New(d.TotalCents, reconciliation.CurrencyUSD).String(),
			Count:       d.Count,
		})
	}
	for _, m := range s.Trend {
		out.Trend = append(out.Trend, MonthTotal{
			Month: m.Month,
			Total: money.New(m.TotalCents, reconciliation.CurrencyUSD).String(),
		})
	}
	return out
}
