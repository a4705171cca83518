package cron

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	importservice "github.com/FACorreiaa/statement-recon/internal/domain/import/service"
)

type stubIngester struct {
	seen    []string
	results map[string]importservice.Status
}

func (s *stubIngester) Ingest(_ context.Context, req importservice.IngestRequest) (*importservice.IngestionReport, error) {
	s.seen = append(s.seen, req.FileName)
	status, ok := s.results[req.FileName]
	if !ok {
		return nil, errors.New("unreadable document")
	}
	return &importservice.IngestionReport{StatementID: req.FileName, Status: status, Inserted: 1}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("05/03 UBER 1.00"), 0o644))
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func TestScanInbox(t *testing.T) {
	inbox := t.TempDir()
	ing := &stubIngester{results: map[string]importservice.Status{
		"a_march.pdf": importservice.StatusSucceeded,
		"b_april.TXT": importservice.StatusPartial,
		"c_empty.txt": importservice.StatusFailed,
	}}
	s := NewScheduler(ing, inbox, "@every 1h", testLogger())
	require.NoError(t, s.Start())
	t.Cleanup(func() { <-s.Stop().Done() })

	for _, name := range []string{"a_march.pdf", "b_april.TXT", "c_empty.txt", "d_broken.pdf", "notes.md"} {
		writeFile(t, inbox, name)
	}
	require.NoError(t, os.Mkdir(filepath.Join(inbox, "nested.pdf"), 0o755))

	res, err := s.ScanInbox(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ScanResult{Processed: 2, Failed: 2}, res)
	assert.Equal(t, []string{"a_march.pdf", "b_april.TXT", "c_empty.txt", "d_broken.pdf"}, ing.seen)
	assert.Equal(t, []string{"notes.md"}, listDir(t, inbox))
	assert.Equal(t, []string{"a_march.pdf", "b_april.TXT"}, listDir(t, filepath.Join(inbox, processedDir)))
	assert.Equal(t, []string{"c_empty.txt", "d_broken.pdf"}, listDir(t, filepath.Join(inbox, failedDir)))
}

func TestScanInboxKeepsEarlierCopies(t *testing.T) {
	inbox := t.TempDir()
	ing := &stubIngester{results: map[string]importservice.Status{"march.pdf": importservice.StatusSucceeded}}
	s := NewScheduler(ing, inbox, "@every 1h", testLogger())
	require.NoError(t, s.Start())
	t.Cleanup(func() { <-s.Stop().Done() })

	for range 2 {
		writeFile(t, inbox, "march.pdf")
		_, err := s.ScanInbox(context.Background())
		require.NoError(t, err)
	}

	processed := listDir(t, filepath.Join(inbox, processedDir))
	require.Len(t, processed, 2)
	assert.Contains(t, processed, "march.pdf")
}

func TestScanInboxCancelled(t *testing.T) {
	inbox := t.TempDir()
	writeFile(t, inbox, "march.pdf")
	ing := &stubIngester{}
	s := NewScheduler(ing, inbox, "@every 1h", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.ScanInbox(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, ing.seen)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := NewScheduler(&stubIngester{}, t.TempDir(), "every tuesday", testLogger())
	assert.Error(t, s.Start())
}
