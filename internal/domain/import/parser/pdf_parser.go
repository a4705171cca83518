package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// ErrEmptyDocument is returned when an upload carries no bytes
var ErrEmptyDocument = errors.New("empty document")

var pdfMagic = []byte("%PDF-")

// TextExtractor turns an uploaded document into page-ordered text
type TextExtractor interface {
	Pages(ctx context.Context, data []byte) ([]string, error)
}

// PDFToTextExtractor shells out to poppler's pdftotext in layout mode
type PDFToTextExtractor struct {
	Bin string
}

// NewPDFToTextExtractor uses bin, or "pdftotext" from PATH when empty
func NewPDFToTextExtractor(bin string) *PDFToTextExtractor {
	if bin == "" {
		bin = "pdftotext"
	}
	return &PDFToTextExtractor{Bin: bin}
}

// Pages runs pdftotext with the document on stdin
func (e *PDFToTextExtractor) Pages(ctx context.Context, data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.Bin, "-layout", "-enc", "UTF-8", "-", "-")
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("pdftotext: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("pdftotext: %w", err)
	}
	return splitPages(stdout.String()), nil
}

// PlainTextExtractor accepts text that was already extracted, with pages
// separated by form feeds. Latin-1 input is decoded to UTF-8.
type PlainTextExtractor struct{}

func (PlainTextExtractor) Pages(_ context.Context, data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}
	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}
	return splitPages(text), nil
}

// IsPDF reports whether data starts with the PDF magic bytes
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, pdfMagic)
}

// DetectExtractor returns pdf for PDF documents and a PlainTextExtractor otherwise
func DetectExtractor(data []byte, pdf TextExtractor) TextExtractor {
	if IsPDF(data) && pdf != nil {
		return pdf
	}
	return PlainTextExtractor{}
}

func decodeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if utf8.Valid(data) {
		return string(data), nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode latin-1: %w", err)
	}
	return string(decoded), nil
}

func splitPages(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	pages := strings.Split(text, "\f")
	// pdftotext terminates every page with a form feed
	for len(pages) > 0 && strings.TrimSpace(pages[len(pages)-1]) == "" {
		pages = pages[:len(pages)-1]
	}
	return pages
}
