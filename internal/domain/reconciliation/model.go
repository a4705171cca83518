// Package reconciliation holds the canonical transaction model, the persistence
// contract and the user-facing reconciliation workflow.
package reconciliation

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/FACorreiaa/statement-recon/pkg/fold"
)

const (
	// DefaultCategory is assigned when no rule matches
	DefaultCategory = "uncategorized"
	// CurrencyUSD is the only currency of the international statement
	CurrencyUSD = "USD"
	// DateLayout renders calendar dates
	DateLayout = "2006-01-02"
)

// Transaction is one canonical statement line.
// Identity fields (fingerprint, statement, date, description, amounts) are
// write-once; Category, EnteredInKame and Reconciled belong to the user.
type Transaction struct {
	RowID               int64
	Fingerprint         string
	StatementID         string
	Date                time.Time
	Description         string
	AmountCents         int64
	BalanceCents        *int64
	Currency            string
	Category            string
	EnteredInKame       bool
	Reconciled          bool
	Country             string
	City                string
	Reference           string
	OriginalAmountCents *int64
	CreatedAt           time.Time
}

// IsDebit reports whether the amount leaves the account
func (t Transaction) IsDebit() bool {
	return t.AmountCents < 0
}

// Categorized reports whether a real label has been assigned
func (t Transaction) Categorized() bool {
	c := strings.TrimSpace(t.Category)
	return c != "" && c != DefaultCategory
}

// Document is a processed statement file
type Document struct {
	ID             uuid.UUID
	StatementID    string
	FileName       string
	ChecksumSHA256 string
	FormatVersion  string
	StatementDate  *time.Time
	HolderName     string
	RowsInserted   int
	ProcessedAt    time.Time
}

// InsertResult reports what InsertNew actually wrote
type InsertResult struct {
	Inserted  []Transaction
	Conflicts int
}

// Filter narrows store queries.
type Filter struct {
	// PendingOnly keeps rows not yet entered in Kame
	PendingOnly bool
	// Search matches descriptions ignoring case and accents
	Search string
}

// Matches applies the filter to a single row.
func (f Filter) Matches(t Transaction) bool {
	if f.PendingOnly && t.EnteredInKame {
		return false
	}
	q := strings.TrimSpace(f.Search)
	if q == "" {
		return true
	}
	desc := fold.Lower(t.Description)
	needle := fold.Lower(q)
	if strings.Contains(desc, needle) {
		return true
	}
	// tolerate a single typo against whole words for longer queries
	if len(needle) < 4 || strings.Contains(needle, " ") {
		return false
	}
	for _, word := range strings.Fields(desc) {
		if fuzzy.LevenshteinDistance(needle, word) <= 1 {
			return true
		}
	}
	return false
}

func applyFilter(txs []Transaction, f Filter) []Transaction {
	if !f.PendingOnly && strings.TrimSpace(f.Search) == "" {
		return txs
	}
	out := txs[:0]
	for _, t := range txs {
		if f.Matches(t) {
			out = append(out, t)
		}
	}
	return out
}

// MonthRange returns [first day, first day of next month) in UTC
func MonthRange(year, month int) (time.Time, time.Time) {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
