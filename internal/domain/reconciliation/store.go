package reconciliation

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrRowNotFound is returned when an update targets an unknown row id
	ErrRowNotFound = errors.New("row not found")
	// ErrInvalidCategory is returned for empty or disallowed labels
	ErrInvalidCategory = errors.New("invalid category")
	// ErrNotReadyForKame wraps the rows that block a Kame move
	ErrNotReadyForKame = errors.New("rows not ready for kame")
)

// StoreWriteError reports a failed insert batch. Nothing from the batch was kept.
type StoreWriteError struct {
	StatementID string
	Op          string
	Err         error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write %s for statement %s: %v", e.Op, e.StatementID, e.Err)
}

func (e *StoreWriteError) Unwrap() error {
	return e.Err
}

// patchArgs turns the optional patch fields into query arguments; nil keeps the column
func patchArgs(p Patch) (category, entered, reconciled any) {
	if p.Category != nil {
		category = *p.Category
	}
	if p.Entered != nil {
		entered = *p.Entered
	}
	if p.Reconciled != nil {
		reconciled = *p.Reconciled
	}
	return category, entered, reconciled
}

// NotReadyError lists the rows that are not reconciled or not categorized
type NotReadyError struct {
	RowIDs []int64
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("%d rows must be reconciled and categorized: %v", len(e.RowIDs), e.RowIDs)
}

func (e *NotReadyError) Unwrap() error {
	return ErrNotReadyForKame
}

// Store persists transactions and documents.
// InsertNew must serialize concurrent batches of the same statement and never
// modify an existing row; updates are last-writer-wins per row.
type Store interface {
	ExistingFingerprints(ctx context.Context, statementID string) (map[string]struct{}, error)
	InsertNew(ctx context.Context, doc Document, txs []Transaction) (InsertResult, error)

	UpdateCategory(ctx context.Context, rowID int64, category string) error
	UpdateEnteredFlag(ctx context.Context, rowID int64, entered bool) error
	UpdateReconciled(ctx context.Context, rowID int64, reconciled bool) error
	// UpdateFields writes every non-nil field of p in a single statement
	UpdateFields(ctx context.Context, rowID int64, p Patch) error
	MarkEntered(ctx context.Context, rowIDs []int64) (int64, error)

	Get(ctx context.Context, rowID int64) (*Transaction, error)
	Find(ctx context.Context, rowIDs []int64) ([]Transaction, error)
	QueryByMonth(ctx context.Context, year, month int, f Filter) ([]Transaction, error)
	All(ctx context.Context, f Filter) ([]Transaction, error)
	Documents(ctx context.Context) ([]Document, error)
	Reset(ctx context.Context) error
}
