package db

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLiteAppliesMigrations(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "nested", "recon.db")

	sqlDB, err := OpenSQLite(ctx, path, logger)
	require.NoError(t, err)
	defer sqlDB.Close()

	for _, table := range []string{"statement_documents", "statement_transactions"} {
		var name string
		err := sqlDB.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}
}

func TestOpenSQLiteIsReentrant(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "recon.db")

	first, err := OpenSQLite(ctx, path, logger)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := OpenSQLite(ctx, path, logger)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}
