package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// CategoryCatalog supplies the labels users may assign
type CategoryCatalog interface {
	Categories() []string
}

// Service implements the reconciliation workflow on top of a Store
type Service struct {
	store   Store
	catalog CategoryCatalog
	logger  *slog.Logger
}

// NewService creates a reconciliation service. catalog may be nil to accept any label.
func NewService(store Store, catalog CategoryCatalog, logger *slog.Logger) *Service {
	return &Service{store: store, catalog: catalog, logger: logger}
}

// Patch carries the user-editable fields of a row; nil fields are left alone
type Patch struct {
	Category   *string
	Entered    *bool
	Reconciled *bool
}

// Summary aggregates the transactions of a period
type Summary struct {
	TotalCents      int64
	Count           int
	AverageCents    int64
	ReconciledCount int
	PendingCount    int
	EnteredCount    int
	TopDescriptions []DescriptionTotal
	Trend           []MonthTotal
}

// DescriptionTotal is the spend of one description
type DescriptionTotal struct {
	Description string
	TotalCents  int64
	Count       int
}

// MonthTotal is the net amount of one calendar month ("2024-03")
type MonthTotal struct {
	Month      string
	TotalCents int64
}

const topDescriptions = 10

// ListTransactions returns the rows of a month. month 0 selects a whole year,
// year 0 selects everything.
func (s *Service) ListTransactions(ctx context.Context, year, month int, f Filter) ([]Transaction, error) {
	if month < 0 || month > 12 {
		return nil, fmt.Errorf("invalid month %d", month)
	}
	if year > 0 && month > 0 {
		return s.store.QueryByMonth(ctx, year, month, f)
	}

	all, err := s.store.All(ctx, f)
	if err != nil {
		return nil, err
	}
	if year == 0 {
		return all, nil
	}
	out := all[:0]
	for _, t := range all {
		if t.Date.Year() == year {
			out = append(out, t)
		}
	}
	return out, nil
}

// Get returns one row
func (s *Service) Get(ctx context.Context, rowID int64) (*Transaction, error) {
	return s.store.Get(ctx, rowID)
}

// SetCategory assigns a user label. Labels are trimmed and, when a catalog is
// configured, must be one of its categories.
func (s *Service) SetCategory(ctx context.Context, rowID int64, label string) error {
	label, err := s.validCategory(label)
	if err != nil {
		return err
	}
	if err := s.store.UpdateCategory(ctx, rowID, label); err != nil {
		return err
	}
	s.logger.Info("category updated", slog.Int64("row_id", rowID), slog.String("category", label))
	return nil
}

// SetEntered flips the Kame flag of one row
func (s *Service) SetEntered(ctx context.Context, rowID int64, entered bool) error {
	return s.store.UpdateEnteredFlag(ctx, rowID, entered)
}

// SetReconciled flips the reconciled flag of one row
func (s *Service) SetReconciled(ctx context.Context, rowID int64, reconciled bool) error {
	return s.store.UpdateReconciled(ctx, rowID, reconciled)
}

// Apply validates the whole patch, writes it in one statement and returns the updated row.
// Either every field of the patch is stored or none is.
func (s *Service) Apply(ctx context.Context, rowID int64, p Patch) (*Transaction, error) {
	if p.Category != nil {
		label, err := s.validCategory(*p.Category)
		if err != nil {
			return nil, err
		}
		p.Category = &label
	}

	if err := s.store.UpdateFields(ctx, rowID, p); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, rowID)
}

// MoveToKame flags the selected rows as entered in Kame. Every row must exist,
// be reconciled and carry a category, otherwise nothing is written.
func (s *Service) MoveToKame(ctx context.Context, rowIDs []int64) (int64, error) {
	ids := uniqueIDs(rowIDs)
	if len(ids) == 0 {
		return 0, nil
	}

	rows, err := s.store.Find(ctx, ids)
	if err != nil {
		return 0, err
	}
	found := make(map[int64]Transaction, len(rows))
	for _, t := range rows {
		found[t.RowID] = t
	}

	var notReady []int64
	for _, id := range ids {
		t, ok := found[id]
		if !ok {
			return 0, fmt.Errorf("%w: %d", ErrRowNotFound, id)
		}
		if !t.Reconciled || !t.Categorized() {
			notReady = append(notReady, id)
		}
	}
	if len(notReady) > 0 {
		return 0, &NotReadyError{RowIDs: notReady}
	}

	n, err := s.store.MarkEntered(ctx, ids)
	if err != nil {
		return 0, err
	}
	s.logger.Info("rows moved to kame", slog.Int64("count", n))
	return n, nil
}

// Summary computes totals, the top descriptions by spend and the monthly trend
func (s *Service) Summary(ctx context.Context, year, month int) (*Summary, error) {
	txs, err := s.ListTransactions(ctx, year, month, Filter{})
	if err != nil {
		return nil, err
	}
	return Summarize(txs), nil
}

// Summarize aggregates an arbitrary set of rows
func Summarize(txs []Transaction) *Summary {
	sum := &Summary{Count: len(txs)}
	byDesc := make(map[string]*DescriptionTotal)
	byMonth := make(map[string]int64)

	for _, t := range txs {
		sum.TotalCents += t.AmountCents
		if t.Reconciled {
			sum.ReconciledCount++
		} else {
			sum.PendingCount++
		}
		if t.EnteredInKame {
			sum.EnteredCount++
		}

		d, ok := byDesc[t.Description]
		if !ok {
			d = &DescriptionTotal{Description: t.Description}
			byDesc[t.Description] = d
		}
		d.TotalCents += t.AmountCents
		d.Count++

		byMonth[t.Date.Format("2006-01")] += t.AmountCents
	}

	if sum.Count > 0 {
		sum.AverageCents = decimal.NewFromInt(sum.TotalCents).
			Div(decimal.NewFromInt(int64(sum.Count))).
			Round(0).
			IntPart()
	}

	sum.TopDescriptions = make([]DescriptionTotal, 0, len(byDesc))
	for _, d := range byDesc {
		sum.TopDescriptions = append(sum.TopDescriptions, *d)
	}
	sort.Slice(sum.TopDescriptions, func(i, j int) bool {
		a, b := abs(sum.TopDescriptions[i].TotalCents), abs(sum.TopDescriptions[j].TotalCents)
		if a != b {
			return a > b
		}
		return sum.TopDescriptions[i].Description < sum.TopDescriptions[j].Description
	})
	if len(sum.TopDescriptions) > topDescriptions {
		sum.TopDescriptions = sum.TopDescriptions[:topDescriptions]
	}

	sum.Trend = make([]MonthTotal, 0, len(byMonth))
	for m, total := range byMonth {
		sum.Trend = append(sum.Trend, MonthTotal{Month: m, TotalCents: total})
	}
	sort.Slice(sum.Trend, func(i, j int) bool { return sum.Trend[i].Month < sum.Trend[j].Month })

	return sum
}

// Documents lists processed statements
func (s *Service) Documents(ctx context.Context) ([]Document, error) {
	return s.store.Documents(ctx)
}

// Reset wipes the store
func (s *Service) Reset(ctx context.Context) error {
	if err := s.store.Reset(ctx); err != nil {
		return err
	}
	s.logger.Warn("reconciliation store reset")
	return nil
}

func (s *Service) validCategory(label string) (string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", fmt.Errorf("%w: empty label", ErrInvalidCategory)
	}
	if label == DefaultCategory || s.catalog == nil {
		return label, nil
	}
	allowed := s.catalog.Categories()
	if len(allowed) == 0 {
		return label, nil
	}
	for _, c := range allowed {
		if strings.EqualFold(c, label) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, label)
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
