package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of *pgxpool.Pool the store needs
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const transactionColumns = `row_id, fingerprint, statement_id, tx_date, description, amount_cents,
	balance_cents, currency, category, entered_in_kame, reconciled, country, city, reference,
	original_amount_cents, created_at`

type scanner interface {
	Scan(dest ...any) error
}

// PostgresStore implements Store on PostgreSQL
type PostgresStore struct {
	db PgxPool
}

// NewPostgresStore creates a store backed by a pgx pool
func NewPostgresStore(db PgxPool) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// ExistingFingerprints returns every fingerprint already stored for a statement
func (s *PostgresStore) ExistingFingerprints(ctx context.Context, statementID string) (map[string]struct{}, error) {
	rows, err := s.db.Query(ctx,
		`SELECT fingerprint FROM statement_transactions WHERE statement_id = $1`, statementID)
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

// InsertNew writes the batch and the document record in one transaction
// holding a per-statement advisory lock. Rows whose fingerprint appeared since
// the caller's read are skipped, never updated.
func (s *PostgresStore) InsertNew(ctx context.Context, doc Document, txs []Transaction) (InsertResult, error) {
	var result InsertResult

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return result, &StoreWriteError{StatementID: doc.StatementID, Op: "begin", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, doc.StatementID); err != nil {
		return result, &StoreWriteError{StatementID: doc.StatementID, Op: "lock", Err: err}
	}

	const insertQuery = `
		INSERT INTO statement_transactions (
			fingerprint, statement_id, tx_date, description, amount_cents, balance_cents,
			currency, category, country, city, reference, original_amount_cents
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (statement_id, fingerprint) DO NOTHING
		RETURNING row_id, created_at
	`

	for _, t := range txs {
		err := tx.QueryRow(ctx, insertQuery,
			t.Fingerprint,
			t.StatementID,
			t.Date,
			t.Description,
			t.AmountCents,
			t.BalanceCents,
			t.Currency,
			t.Category,
			t.Country,
			t.City,
			t.Reference,
			t.OriginalAmountCents,
		).Scan(&t.RowID, &t.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			result.Conflicts++
			continue
		}
		if err != nil {
			return InsertResult{}, &StoreWriteError{StatementID: doc.StatementID, Op: "insert", Err: err}
		}
		result.Inserted = append(result.Inserted, t)
	}

	processedAt := doc.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO statement_documents (
			id, statement_id, file_name, checksum_sha256, format_version,
			statement_date, holder_name, rows_inserted, processed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (statement_id) DO UPDATE SET
			file_name = EXCLUDED.file_name,
			checksum_sha256 = EXCLUDED.checksum_sha256,
			format_version = EXCLUDED.format_version,
			statement_date = COALESCE(EXCLUDED.statement_date, statement_documents.statement_date),
			holder_name = EXCLUDED.holder_name,
			rows_inserted = statement_documents.rows_inserted + EXCLUDED.rows_inserted,
			processed_at = EXCLUDED.processed_at
	`,
		doc.ID,
		doc.StatementID,
		doc.FileName,
		doc.ChecksumSHA256,
		doc.FormatVersion,
		doc.StatementDate,
		doc.HolderName,
		len(result.Inserted),
		processedAt,
	)
	if err != nil {
		return InsertResult{}, &StoreWriteError{StatementID: doc.StatementID, Op: "register document", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return InsertResult{}, &StoreWriteError{StatementID: doc.StatementID, Op: "commit", Err: err}
	}
	return result, nil
}

// UpdateCategory sets the user label of one row
func (s *PostgresStore) UpdateCategory(ctx context.Context, rowID int64, category string) error {
	return s.updateOne(ctx, `UPDATE statement_transactions SET category = $2 WHERE row_id = $1`, rowID, category)
}

// UpdateEnteredFlag sets the Kame flag of one row
func (s *PostgresStore) UpdateEnteredFlag(ctx context.Context, rowID int64, entered bool) error {
	return s.updateOne(ctx, `UPDATE statement_transactions SET entered_in_kame = $2 WHERE row_id = $1`, rowID, entered)
}

// UpdateReconciled sets the reconciled flag of one row
func (s *PostgresStore) UpdateReconciled(ctx context.Context, rowID int64, reconciled bool) error {
	return s.updateOne(ctx, `UPDATE statement_transactions SET reconciled = $2 WHERE row_id = $1`, rowID, reconciled)
}

// UpdateFields applies a patch to one row atomically
func (s *PostgresStore) UpdateFields(ctx context.Context, rowID int64, p Patch) error {
	category, entered, reconciled := patchArgs(p)
	tag, err := s.db.Exec(ctx,
		`UPDATE statement_transactions SET
			category = COALESCE($2, category),
			entered_in_kame = COALESCE($3, entered_in_kame),
			reconciled = COALESCE($4, reconciled)
		WHERE row_id = $1`,
		rowID, category, entered, reconciled)
	if err != nil {
		return fmt.Errorf("update row %d: %w", rowID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrRowNotFound, rowID)
	}
	return nil
}

func (s *PostgresStore) updateOne(ctx context.Context, query string, rowID int64, value any) error {
	tag, err := s.db.Exec(ctx, query, rowID, value)
	if err != nil {
		return fmt.Errorf("update row %d: %w", rowID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrRowNotFound, rowID)
	}
	return nil
}

// MarkEntered flags all given rows as entered in Kame in a single statement
func (s *PostgresStore) MarkEntered(ctx context.Context, rowIDs []int64) (int64, error) {
	if len(rowIDs) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE statement_transactions SET entered_in_kame = TRUE WHERE row_id = ANY($1)`, rowIDs)
	if err != nil {
		return 0, fmt.Errorf("mark entered: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Get returns one row
func (s *PostgresStore) Get(ctx context.Context, rowID int64) (*Transaction, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM statement_transactions WHERE row_id = $1`, rowID)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRowNotFound, rowID)
	}
	if err != nil {
		return nil, fmt.Errorf("get row %d: %w", rowID, err)
	}
	return &t, nil
}

// Find returns the rows among rowIDs that exist, ordered by row id
func (s *PostgresStore) Find(ctx context.Context, rowIDs []int64) ([]Transaction, error) {
	if len(rowIDs) == 0 {
		return nil, nil
	}
	return s.query(ctx, Filter{},
		`SELECT `+transactionColumns+` FROM statement_transactions WHERE row_id = ANY($1) ORDER BY row_id`, rowIDs)
}

// QueryByMonth returns the rows dated inside a calendar month
func (s *PostgresStore) QueryByMonth(ctx context.Context, year, month int, f Filter) ([]Transaction, error) {
	start, end := MonthRange(year, month)
	query := `SELECT ` + transactionColumns + ` FROM statement_transactions
		WHERE tx_date >= $1 AND tx_date < $2`
	if f.PendingOnly {
		query += ` AND NOT entered_in_kame`
	}
	query += ` ORDER BY tx_date, row_id`
	return s.query(ctx, f, query, start, end)
}

// All returns every row ordered by date
func (s *PostgresStore) All(ctx context.Context, f Filter) ([]Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM statement_transactions`
	if f.PendingOnly {
		query += ` WHERE NOT entered_in_kame`
	}
	query += ` ORDER BY tx_date, row_id`
	return s.query(ctx, f, query)
}

func (s *PostgresStore) query(ctx context.Context, f Filter, query string, args ...any) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
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
func (s *PostgresStore) Documents(ctx context.Context) ([]Document, error) {
	rows, err := s.db.Query(ctx, `
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
		var d Document
		if err := rows.Scan(
			&d.ID,
			&d.StatementID,
			&d.FileName,
			&d.ChecksumSHA256,
			&d.FormatVersion,
			&d.StatementDate,
			&d.HolderName,
			&d.RowsInserted,
			&d.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Reset removes every row and document. Row ids keep increasing afterwards.
func (s *PostgresStore) Reset(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `TRUNCATE statement_transactions, statement_documents`); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

func scanTransaction(row scanner) (Transaction, error) {
	var t Transaction
	err := row.Scan(
		&t.RowID,
		&t.Fingerprint,
		&t.StatementID,
		&t.Date,
		&t.Description,
		&t.AmountCents,
		&t.BalanceCents,
		&t.Currency,
		&t.Category,
		&t.EnteredInKame,
		&t.Reconciled,
		&t.Country,
		&t.City,
		&t.Reference,
		&t.OriginalAmountCents,
		&t.CreatedAt,
	)
	return t, err
}
