package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalStorage implements Storage using the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local filesystem storage
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStorage{basePath: basePath}, nil
}

// Upload stores a file and returns its metadata
func (s *LocalStorage) Upload(ctx context.Context, statementID string, filename string, contentType string, r io.Reader) (*FileInfo, error) {
	fileID := uuid.New()

	dir := s.statementDir(statementID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create statement directory: %w", err)
	}

	storedFilename := fmt.Sprintf("%s_%s", fileID.String()[:8], sanitizeFilename(filename))
	filePath := filepath.Join(dir, storedFilename)

	f, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hash), r)
	if err != nil {
		os.Remove(filePath)
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	info := &FileInfo{
		ID:             fileID,
		StatementID:    statementID,
		Name:           filename,
		Size:           size,
		ContentType:    contentType,
		ChecksumSHA256: hex.EncodeToString(hash.Sum(nil)),
		Path:           storedFilename,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.saveMetadata(statementID, fileID, info); err != nil {
		os.Remove(filePath)
		return nil, err
	}

	return info, nil
}

// Download retrieves a file by its ID
func (s *LocalStorage) Download(ctx context.Context, statementID string, fileID uuid.UUID) (io.ReadCloser, *FileInfo, error) {
	info, err := s.GetInfo(ctx, statementID, fileID)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(filepath.Join(s.statementDir(statementID), info.Path))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}

	return f, info, nil
}

// List returns every archived file of a statement, oldest first
func (s *LocalStorage) List(ctx context.Context, statementID string) ([]*FileInfo, error) {
	metaDir := filepath.Join(s.statementDir(statementID), ".meta")
	if _, err := os.Stat(metaDir); os.IsNotExist(err) {
		return []*FileInfo{}, nil
	}

	entries, err := os.ReadDir(metaDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata: %w", err)
	}

	files := make([]*FileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		id, err := uuid.Parse(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}

		info, err := s.GetInfo(ctx, statementID, id)
		if err != nil {
			continue
		}
		files = append(files, info)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].CreatedAt.Before(files[j].CreatedAt) })
	return files, nil
}

// GetInfo returns metadata for a file without downloading
func (s *LocalStorage) GetInfo(ctx context.Context, statementID string, fileID uuid.UUID) (*FileInfo, error) {
	metaPath := filepath.Join(s.statementDir(statementID), ".meta", fileID.String()+".json")

	data, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, fileID)
		}
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var info FileInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}

	return &info, nil
}

func (s *LocalStorage) statementDir(statementID string) string {
	return filepath.Join(s.basePath, sanitizeFilename(statementID))
}

// saveMetadata saves file metadata to a JSON file
func (s *LocalStorage) saveMetadata(statementID string, fileID uuid.UUID, info *FileInfo) error {
	metaDir := filepath.Join(s.statementDir(statementID), ".meta")
	if err := os.MkdirAll(metaDir, 0755); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if err := os.WriteFile(filepath.Join(metaDir, fileID.String()+".json"), data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	return nil
}

// sanitizeFilename keeps letters, digits, dot, dash and underscore
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "file"
	}
	return out
}
