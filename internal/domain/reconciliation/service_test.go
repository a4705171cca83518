package reconciliation

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type staticCatalog []string

func (c staticCatalog) Categories() []string { return c }

func newTestService(t *testing.T) (*Service, *SQLiteStore) {
	t.Helper()
	store := newSQLiteStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, staticCatalog{"comida", "Uber", "Airbnb", "Groceries"}, logger), store
}

func seed(t *testing.T, store *SQLiteStore, txs ...Transaction) []Transaction {
	t.Helper()
	doc := testDocument(txs[0].StatementID)
	result, err := store.InsertNew(context.Background(), doc, txs)
	require.NoError(t, err)
	return result.Inserted
}

func TestService_SetCategory(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	rows := seed(t, store, testTransaction("S", "fp-1", 5, "UBER TRIP", -1250))
	rowID := rows[0].RowID

	tests := []struct {
		name    string
		label   string
		want    string
		wantErr error
	}{
		{"allowed label", "Uber", "Uber", nil},
		{"trimmed and case folded", "  comida ", "comida", nil},
		{"reset to default", DefaultCategory, DefaultCategory, nil},
		{"empty", "   ", "", ErrInvalidCategory},
		{"not in catalog", "Casino", "", ErrInvalidCategory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.SetCategory(ctx, rowID, tt.label)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			got, err := svc.Get(ctx, rowID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Category)
		})
	}

	assert.ErrorIs(t, svc.SetCategory(ctx, 9999, "Uber"), ErrRowNotFound)
}

func TestService_ApplyPatch(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	rows := seed(t, store, testTransaction("S", "fp-1", 5, "AIRBNB", -30000))

	category := "Airbnb"
	reconciled := true
	got, err := svc.Apply(ctx, rows[0].RowID, Patch{Category: &category, Reconciled: &reconciled})
	require.NoError(t, err)
	assert.Equal(t, "Airbnb", got.Category)
	assert.True(t, got.Reconciled)
	assert.False(t, got.EnteredInKame)

	bad := ""
	_, err = svc.Apply(ctx, rows[0].RowID, Patch{Category: &bad, Reconciled: &reconciled})
	assert.ErrorIs(t, err, ErrInvalidCategory)

	_, err = svc.Apply(ctx, 12345, Patch{Reconciled: &reconciled})
	assert.ErrorIs(t, err, ErrRowNotFound)
}

type failingPatchStore struct {
	*SQLiteStore
}

func (failingPatchStore) UpdateFields(context.Context, int64, Patch) error {
	return errors.New("disk I/O error")
}

func TestService_ApplyWritesNothingOnFailure(t *testing.T) {
	ctx := context.Background()
	_, store := newTestService(t)
	rows := seed(t, store, testTransaction("S", "fp-1", 5, "AIRBNB", -30000))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(failingPatchStore{store}, staticCatalog{"Airbnb"}, logger)

	category := "Airbnb"
	reconciled := true
	_, err := svc.Apply(ctx, rows[0].RowID, Patch{Category: &category, Reconciled: &reconciled})
	require.Error(t, err)

	got, err := store.Get(ctx, rows[0].RowID)
	require.NoError(t, err)
	assert.Equal(t, DefaultCategory, got.Category)
	assert.False(t, got.Reconciled)
}

func TestService_MoveToKame(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	rows := seed(t, store,
		testTransaction("S", "fp-1", 5, "UBER TRIP", -1250),
		testTransaction("S", "fp-2", 6, "AIRBNB", -30000),
	)
	ready, notReady := rows[0].RowID, rows[1].RowID

	require.NoError(t, svc.SetCategory(ctx, ready, "Uber"))
	require.NoError(t, svc.SetReconciled(ctx, ready, true))
	// reconciled but still uncategorized
	require.NoError(t, svc.SetReconciled(ctx, notReady, true))

	_, err := svc.MoveToKame(ctx, []int64{ready, notReady})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotReadyForKame)
	var nr *NotReadyError
	require.True(t, errors.As(err, &nr))
	assert.Equal(t, []int64{notReady}, nr.RowIDs)

	got, err := svc.Get(ctx, ready)
	require.NoError(t, err)
	assert.False(t, got.EnteredInKame, "nothing is written when one row is not ready")

	_, err = svc.MoveToKame(ctx, []int64{ready, 777})
	assert.ErrorIs(t, err, ErrRowNotFound)

	n, err := svc.MoveToKame(ctx, []int64{ready, ready})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	pending, err := svc.ListTransactions(ctx, 2024, 3, Filter{PendingOnly: true})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, notReady, pending[0].RowID)
}

func TestService_ListTransactionsScopes(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	feb := testTransaction("S", "fp-feb", 10, "HUBSPOT", -4500)
	feb.Date = time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)
	old := testTransaction("S", "fp-old", 10, "HUBSPOT", -4500)
	old.Date = time.Date(2023, 12, 10, 0, 0, 0, 0, time.UTC)
	seed(t, store, feb, old, testTransaction("S", "fp-mar", 2, "CANVA", -1200))

	month, err := svc.ListTransactions(ctx, 2024, 3, Filter{})
	require.NoError(t, err)
	assert.Len(t, month, 1)

	year, err := svc.ListTransactions(ctx, 2024, 0, Filter{})
	require.NoError(t, err)
	assert.Len(t, year, 2)

	all, err := svc.ListTransactions(ctx, 0, 0, Filter{Search: "hubspt"})
	require.NoError(t, err)
	assert.Len(t, all, 2, "single typo still matches")

	_, err = svc.ListTransactions(ctx, 2024, 13, Filter{})
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	feb := testTransaction("S", "f4", 1, "UBER TRIP", -1000)
	feb.Date = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	refund := testTransaction("S", "f5", 9, "PAGO", 5000)
	refund.Reconciled = true

	txs := []Transaction{
		testTransaction("S", "f1", 2, "UBER TRIP", -1000),
		testTransaction("S", "f2", 3, "UBER TRIP", -1500),
		testTransaction("S", "f3", 4, "AIRBNB", -30000),
		feb,
		refund,
	}

	sum := Summarize(txs)
	assert.Equal(t, 5, sum.Count)
	assert.Equal(t, int64(-28500), sum.TotalCents)
	assert.Equal(t, int64(-5700), sum.AverageCents)
	assert.Equal(t, 1, sum.ReconciledCount)
	assert.Equal(t, 4, sum.PendingCount)

	require.Len(t, sum.TopDescriptions, 3)
	assert.Equal(t, "AIRBNB", sum.TopDescriptions[0].Description)
	assert.Equal(t, "PAGO", sum.TopDescriptions[1].Description)
	assert.Equal(t, "UBER TRIP", sum.TopDescriptions[2].Description)
	assert.Equal(t, int64(-3500), sum.TopDescriptions[2].TotalCents)
	assert.Equal(t, 3, sum.TopDescriptions[2].Count)

	require.Len(t, sum.Trend, 2)
	assert.Equal(t, MonthTotal{Month: "2024-02", TotalCents: -1000}, sum.Trend[0])
	assert.Equal(t, MonthTotal{Month: "2024-03", TotalCents: -27500}, sum.Trend[1])

	empty := Summarize(nil)
	assert.Zero(t, empty.AverageCents)
	assert.Empty(t, empty.TopDescriptions)
}

func TestService_ExportCSV(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	balance := int64(90470)
	tx := testTransaction("S", "fp-1", 5, "SUPERMARKET XYZ", -4530)
	tx.BalanceCents = &balance
	seed(t, store, tx)

	var buf bytes.Buffer
	require.NoError(t, svc.Export(ctx, &buf, ExportCSV, Filter{}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(exportHeaders, ","), lines[0])

	var rows []ExportRow
	require.NoError(t, gocsv.UnmarshalString(buf.String(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "2024-03-05", rows[0].Date)
	assert.Equal(t, "-45.30", rows[0].Amount)
	assert.Equal(t, "904.70", rows[0].Balance)
	assert.Equal(t, "", rows[0].OriginalAmount)
}

func TestService_ExportXLSX(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	seed(t, store, testTransaction("S", "fp-1", 5, "SUPERMARKET XYZ", -4530))

	var buf bytes.Buffer
	require.NoError(t, svc.Export(ctx, &buf, ExportXLSX, Filter{}))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Transactions")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "description", rows[0][2])
	assert.Equal(t, "SUPERMARKET XYZ", rows[1][2])
	assert.Equal(t, "-45.3", rows[1][6])
}

func TestParseExportFormat(t *testing.T) {
	f, err := ParseExportFormat("")
	require.NoError(t, err)
	assert.Equal(t, ExportCSV, f)

	f, err = ParseExportFormat("xlsx")
	require.NoError(t, err)
	assert.Equal(t, ExportXLSX, f)

	_, err = ParseExportFormat("pdf")
	assert.Error(t, err)
}
