// Package storage archives the raw statement documents received by the ingestion API.
package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no archived file matches the requested id
var ErrNotFound = errors.New("file not found")

// FileInfo contains metadata about a stored file
type FileInfo struct {
	ID             uuid.UUID `json:"id"`
	StatementID    string    `json:"statement_id"`
	Name           string    `json:"name"`
	Size           int64     `json:"size"`
	ContentType    string    `json:"content_type"`
	ChecksumSHA256 string    `json:"checksum_sha256"`
	Path           string    `json:"path"` // Internal storage path
	CreatedAt      time.Time `json:"created_at"`
}

// Storage defines the archive operations, grouped by statement id
type Storage interface {
	// Upload stores a file and returns its metadata
	Upload(ctx context.Context, statementID string, filename string, contentType string, r io.Reader) (*FileInfo, error)

	// Download retrieves a file by its ID
	Download(ctx context.Context, statementID string, fileID uuid.UUID) (io.ReadCloser, *FileInfo, error)

	// List returns every archived file of a statement
	List(ctx context.Context, statementID string) ([]*FileInfo, error)

	// GetInfo returns metadata for a file without downloading
	GetInfo(ctx context.Context, statementID string, fileID uuid.UUID) (*FileInfo, error)
}
