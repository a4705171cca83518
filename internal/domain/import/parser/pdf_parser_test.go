package parser

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainTextExtractor(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		data []byte
		want []string
	}{
		{"single page", []byte("05/03 A 1.00\n"), []string{"05/03 A 1.00\n"}},
		{"form feeds", []byte("page one\fpage two\f"), []string{"page one", "page two"}},
		{"bom and crlf", []byte("\xEF\xBB\xBFline\r\nnext"), []string{"line\nnext"}},
		{"latin-1", []byte("INFORMACI\xD3N"), []string{"INFORMACIÓN"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pages, err := PlainTextExtractor{}.Pages(ctx, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, pages)
		})
	}

	_, err := PlainTextExtractor{}.Pages(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestDetectExtractor(t *testing.T) {
	pdf := NewPDFToTextExtractor("")
	assert.Equal(t, "pdftotext", pdf.Bin)

	assert.Same(t, pdf, DetectExtractor([]byte("%PDF-1.7\n..."), pdf))
	assert.IsType(t, PlainTextExtractor{}, DetectExtractor([]byte("05/03 A 1.00"), pdf))
	assert.IsType(t, PlainTextExtractor{}, DetectExtractor([]byte("%PDF-1.7"), nil))
	assert.True(t, IsPDF([]byte("%PDF-1.4")))
	assert.False(t, IsPDF([]byte("%PDX")))
}

func TestPDFToTextExtractorRunsBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in requires a POSIX shell")
	}
	// stand-in that echoes stdin, ignoring the pdftotext flags
	bin := filepath.Join(t.TempDir(), "fake-pdftotext")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\ncat\n"), 0o755))

	pages, err := NewPDFToTextExtractor(bin).Pages(context.Background(), []byte("first\fsecond\f"))
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, pages)
}

func TestPDFToTextExtractorFailure(t *testing.T) {
	ext := NewPDFToTextExtractor(filepath.Join(t.TempDir(), "missing-binary"))
	_, err := ext.Pages(context.Background(), []byte("%PDF-1.7"))
	assert.Error(t, err)

	_, err = ext.Pages(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyDocument)
}
