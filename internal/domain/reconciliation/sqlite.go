package reconciliation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLiteStore implements Store on a SQLite database opened by db.OpenSQLite.
// The connection must begin transactions with BEGIN IMMEDIATE.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open database
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

var _ Store = (*SQLiteStore)(nil)

// ExistingFingerprints returns every fingerprint already stored for a statement
func (s *SQLiteStore) ExistingFingerprints(ctx context.Context, statementID string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fingerprint FROM statement_transactions WHERE statement_id = ?`, statementID)
	if err != nil {
		return nil, fmt.Errorf("query fingerprints: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		out[fp] = struct{}{}
	}
	return out, rows.Err()
}

// InsertNew writes the batch and the document record in one write transaction
func (s *SQLiteStore) InsertNew(ctx context.Context, doc Document, txs []Transaction) (InsertResult, error) {
	var result InsertResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, &StoreWriteError{StatementID: doc.StatementID, Op: "begin", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO statement_transactions (
			fingerprint, statement_id, tx_date, description, amount_cents, balance_cents,
			currency, category, country, city, reference, original_amount_cents, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (statement_id, fingerprint) DO NOTHING
		RETURNING row_id
	`)
	if err != nil {
		return result, &StoreWriteError{StatementID: doc.StatementID, Op: "prepare", Err: err}
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, t := range txs {
		err := stmt.QueryRowContext(ctx,
			t.Fingerprint,
			t.StatementID,
			t.Date.Format(DateLayout),
			t.Description,
			t.AmountCents,
			nullInt(t.BalanceCents),
			t.Currency,
			t.Category,
			t.Country,
			t.City,
			t.Reference,
			nullInt(t.OriginalAmountCents),
			now.Format(time.RFC3339Nano),
		).Scan(&t.RowID)
		if errors.Is(err, sql.ErrNoRows) {
			result.Conflicts++
			continue
		}
		if err != nil {
			return InsertResult{}, &StoreWriteError{StatementID: doc.StatementID, Op: "insert", Err: err}
		}
		t.CreatedAt = now
		result.Inserted = append(result.Inserted, t)
	}

	processedAt := doc.ProcessedAt
	if processedAt.IsZero() {
		processedAt = now
	}
	var statementDate sql.NullString
	if doc.StatementDate != nil {
		statementDate = sql.NullString{String: doc.StatementDate.Format(DateLayout), Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO statement_documents (
			id, statement_id, file_name, checksum_sha256, format_version,
			statement_date, holder_name, rows_inserted, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (statement_id) DO UPDATE SET
			file_name = excluded.file_name,
			checksum_sha256 = excluded.checksum_sha256,
			format_version = excluded.format_version,
			statement_date = COALESCE(excluded.statement_date, statement_documents.statement_date),
			holder_name = excluded.holder_name,
			rows_inserted = statement_documents.rows_inserted + excluded.rows_inserted,
			processed_at = excluded.processed_at
	`,
		doc.ID.String(),
		doc.StatementID,
		doc.FileName,
		doc.ChecksumSHA256,
		doc.FormatVersion,
		statementDate,
		doc.HolderName,
		len(result.Inserted),
		processedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return InsertResult{}, &StoreWriteError{StatementID: doc.StatementID, Op: "register document", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return InsertResult{}, &StoreWriteError{StatementID: doc.StatementID, Op: "commit", Err: err}
	}
	return result, nil
}

// UpdateCategory sets the user label of one row
func (s *SQLiteStore) UpdateCategory(ctx context.Context, rowID int64, category string) error {
	return s.updateOne(ctx, `UPDATE statement_transactions SET category = ? WHERE row_id = ?`, category, rowID)
}

// UpdateEnteredFlag sets the Kame flag of one row
func (s *SQLiteStore) UpdateEnteredFlag(ctx context.Context, rowID int64, entered bool) error {
	return s.updateOne(ctx, `UPDATE statement_transactions SET entered_in_kame = ? WHERE row_id = ?`, entered, rowID)
}

// UpdateReconciled sets the reconciled flag of one row
func (s *SQLiteStore) UpdateReconciled(ctx context.Context, rowID int64, reconciled bool) error {
	return s.updateOne(ctx, `UPDATE statement_transactions SET reconciled = ? WHERE row_id = ?`, reconciled, rowID)
}

// UpdateFields applies a patch to one row atomically
func (s *SQLiteStore) UpdateFields(ctx context.Context, rowID int64, p Patch) error {
	category, entered, reconciled := patchArgs(p)
	res, err := s.db.ExecContext(ctx,
		`UPDATE statement_transactions SET
			category = COALESCE(?, category),
			entered_in_kame = COALESCE(?, entered_in_kame),
			reconciled = COALESCE(?, reconciled)
		WHERE row_id = ?`,
		category, entered, reconciled, rowID)
	if err != nil {
		return fmt.Errorf("update row %d: %w", rowID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update row %d: %w", rowID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrRowNotFound, rowID)
	}
	return nil
}

func (s *SQLiteStore) updateOne(ctx context.Context, query string, value any, rowID int64) error {
	res, err := s.db.ExecContext(ctx, query, value, rowID)
	if err != nil {
		return fmt.Errorf("update row %d: %w", rowID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update row %d: %w", rowID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrRowNotFound, rowID)
	}
	return nil
}

// MarkEntered flags all given rows as entered in Kame in one transaction
func (s *SQLiteStore) MarkEntered(ctx context.Context, rowIDs []int64) (int64, error) {
	if len(rowIDs) == 0 {
		return 0, nil
	}
	placeholders, args := inClause(rowIDs)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mark entered: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE statement_transactions SET entered_in_kame = 1 WHERE row_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("mark entered: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark entered: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mark entered: %w", err)
	}
	return n, nil
}

// Get returns one row
func (s *SQLiteStore) Get(ctx context.Context, rowID int64) (*Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM statement_transactions WHERE row_id = ?`, rowID)
	t, err := scanSQLiteTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRowNotFound, rowID)
	}
	if err != nil {
		return nil, fmt.Errorf("get row %d: %w", rowID, err)
	}
	return &t, nil
}

// Find returns the rows among rowIDs that exist, ordered by row id
func (s *SQLiteStore) Find(ctx context.Context, rowIDs []int64) ([]Transaction, error) {
	if len(rowIDs) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(rowIDs)
	return s.query(ctx, Filter{},
		`SELECT `+transactionColumns+` FROM statement_transactions WHERE row_id IN (`+placeholders+`) ORDER BY row_id`, args...)
}

// QueryByMonth returns the rows dated inside a calendar month
func (s *SQLiteStore) QueryByMonth(ctx context.Context, year, month int, f Filter) ([]Transaction, error) {
	start, end := MonthRange(year, month)
	query := `SELECT ` + transactionColumns + ` FROM statement_transactions
		WHERE tx_date >= ? AND tx_date < ?`
	if f.PendingOnly {
		query += ` AND entered_in_kame = 0`
	}
	query += ` ORDER BY tx_date, row_id`
	return s.query(ctx, f, query, start.Format(DateLayout), end.Format(DateLayout))
}

// All returns every row ordered by date
func (s *SQLiteStore) All(ctx context.Context, f Filter) ([]Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM statement_transactions`
	if f.PendingOnly {
		query += ` WHERE entered_in_kame = 0`
	}
	query += ` ORDER BY tx_date, row_id`
	return s.query(ctx, f, query)
}

func (s *SQLiteStore) query(ctx context.Context, f Filter, query string, args ...any) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanSQLiteTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return applyFilter(out, f), nil
}

// Documents lists processed documents, latest first
func (s *SQLiteStore) Documents(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, statement_id, file_name, checksum_sha256, format_version,
			statement_date, holder_name, rows_inserted, processed_at
		FROM statement_documents
		ORDER BY processed_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			d             Document
			id            string
			statementDate sql.NullString
			processedAt   string
		)
		if err := rows.Scan(
			&id,
			&d.StatementID,
			&d.FileName,
			&d.ChecksumSHA256,
			&d.FormatVersion,
			&statementDate,
			&d.HolderName,
			&d.RowsInserted,
			&processedAt,
		); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if d.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse document id: %w", err)
		}
		if statementDate.Valid {
			sd, err := time.Parse(DateLayout, statementDate.String)
			if err != nil {
				return nil, fmt.Errorf("parse statement date: %w", err)
			}
			d.StatementDate = &sd
		}
		if d.ProcessedAt, err = time.Parse(time.RFC3339Nano, processedAt); err != nil {
			return nil, fmt.Errorf("parse processed_at: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Reset removes every row and document. AUTOINCREMENT keeps row ids increasing.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"statement_transactions", "statement_documents"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func scanSQLiteTransaction(row scanner) (Transaction, error) {
	var (
		t         Transaction
		date      string
		createdAt string
		balance   sql.NullInt64
		original  sql.NullInt64
	)
	err := row.Scan(
		&t.RowID,
		&t.Fingerprint,
		&t.StatementID,
		&date,
		&t.Description,
		&t.AmountCents,
		&balance,
		&t.Currency,
		&t.Category,
		&t.EnteredInKame,
		&t.Reconciled,
		&t.Country,
		&t.City,
		&t.Reference,
		&original,
		&createdAt,
	)
	if err != nil {
		return t, err
	}
	if t.Date, err = time.Parse(DateLayout, date); err != nil {
		return t, fmt.Errorf("parse tx_date %q: %w", date, err)
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return t, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	if balance.Valid {
		v := balance.Int64
		t.BalanceCents = &v
	}
	if original.Valid {
		v := original.Int64
		t.OriginalAmountCents = &v
	}
	return t, nil
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func inClause(ids []int64) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}
