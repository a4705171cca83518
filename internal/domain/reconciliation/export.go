package reconciliation

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/gocarina/gocsv"
	"github.com/xuri/excelize/v2"

	"github.com/FACorreiaa/statement-recon/pkg/money"
)

// ExportFormat selects the export encoding
type ExportFormat string

const (
	ExportCSV  ExportFormat = "csv"
	ExportXLSX ExportFormat = "xlsx"
)

// ParseExportFormat accepts "csv" (default) or "xlsx"
func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(s) {
	case "", ExportCSV:
		return ExportCSV, nil
	case ExportXLSX:
		return ExportXLSX, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// ContentType returns the MIME type of the format
func (f ExportFormat) ContentType() string {
	if f == ExportXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// ExportRow is the flat representation written to CSV and XLSX
type ExportRow struct {
	RowID          int64  `csv:"row_id"`
	Date           string `csv:"date"`
	Description    string `csv:"description"`
	City           string `csv:"city"`
	Country        string `csv:"country"`
	Reference      string `csv:"reference"`
	Amount         string `csv:"amount"`
	OriginalAmount string `csv:"original_amount"`
	Balance        string `csv:"balance"`
	Currency       string `csv:"currency"`
	Category       string `csv:"category"`
	Reconciled     bool   `csv:"reconciled"`
	EnteredInKame  bool   `csv:"entered_in_kame"`
	StatementID    string `csv:"statement_id"`
}

var exportHeaders = []string{
	"row_id", "date", "description", "city", "country", "reference", "amount",
	"original_amount", "balance", "currency", "category", "reconciled",
	"entered_in_kame", "statement_id",
}

// ToExportRow flattens a transaction; amounts use a dot decimal separator
func ToExportRow(t Transaction) ExportRow {
	return ExportRow{
		RowID:          t.RowID,
		Date:           t.Date.Format(DateLayout),
		Description:    t.Description,
		City:           t.City,
		Country:        t.Country,
		Reference:      t.Reference,
		Amount:         money.FormatCents(t.AmountCents, money.FormatUS),
		OriginalAmount: optionalCents(t.OriginalAmountCents),
		Balance:        optionalCents(t.BalanceCents),
		Currency:       t.Currency,
		Category:       t.Category,
		Reconciled:     t.Reconciled,
		EnteredInKame:  t.EnteredInKame,
		StatementID:    t.StatementID,
	}
}

// Export writes the filtered rows in the requested format
func (s *Service) Export(ctx context.Context, w io.Writer, format ExportFormat, f Filter) error {
	txs, err := s.store.All(ctx, f)
	if err != nil {
		return err
	}
	rows := make([]ExportRow, 0, len(txs))
	for _, t := range txs {
		rows = append(rows, ToExportRow(t))
	}

	switch format {
	case ExportXLSX:
		return writeXLSX(w, rows)
	default:
		return writeCSV(w, rows)
	}
}

func writeCSV(w io.Writer, rows []ExportRow) error {
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

func writeXLSX(w io.Writer, rows []ExportRow) error {
	const sheet = "Transactions"

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	header := make([]any, len(exportHeaders))
	for i, h := range exportHeaders {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []any{
			r.RowID, r.Date, r.Description, r.City, r.Country, r.Reference,
			numberOrBlank(r.Amount), numberOrBlank(r.OriginalAmount), numberOrBlank(r.Balance),
			r.Currency, r.Category, r.Reconciled, r.EnteredInKame, r.StatementID,
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", r.RowID, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func optionalCents(v *int64) string {
	if v == nil {
		return ""
	}
	return money.FormatCents(*v, money.FormatUS)
}

// numberOrBlank keeps amounts numeric in the spreadsheet
func numberOrBlank(s string) any {
	if s == "" {
		return ""
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
