// Package handler exposes statement ingestion over HTTP.
package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/FACorreiaa/statement-recon/internal/domain/import/parser"
	importservice "github.com/FACorreiaa/statement-recon/internal/domain/import/service"
	"github.com/FACorreiaa/statement-recon/internal/domain/import/sniffer"
	"github.com/FACorreiaa/statement-recon/internal/domain/reconciliation"
	"github.com/FACorreiaa/statement-recon/pkg/response"
	"github.com/FACorreiaa/statement-recon/pkg/storage"
)

// Ingester runs one statement through the pipeline
type Ingester interface {
	Ingest(ctx context.Context, req importservice.IngestRequest) (*importservice.IngestionReport, error)
}

// DocumentLister lists processed statements
type DocumentLister interface {
	Documents(ctx context.Context) ([]reconciliation.Document, error)
}

// ImportHandler serves the statement routes
type ImportHandler struct {
	ingester  Ingester
	documents DocumentLister
	archive   storage.Storage
	maxBytes  int64
	logger    *slog.Logger
}

// NewImportHandler creates the handler. archive may be nil when archiving is off.
func NewImportHandler(ingester Ingester, documents DocumentLister, archive storage.Storage, maxBytes int64, logger *slog.Logger) *ImportHandler {
	return &ImportHandler{
		ingester:  ingester,
		documents: documents,
		archive:   archive,
		maxBytes:  maxBytes,
		logger:    logger,
	}
}

// Routes mounts the handler under /statements
func (h *ImportHandler) Routes(r chi.Router) {
	r.Route("/statements", func(r chi.Router) {
		r.Post("/", h.Upload)
		r.Get("/", h.ListDocuments)
		r.Get("/{statementID}/files", h.ListFiles)
		r.Get("/{statementID}/files/{fileID}", h.DownloadFile)
	})
}

// ReportResponse is the JSON form of an ingestion report
type ReportResponse struct {
	ID                string                         `json:"id"`
	StatementID       string                         `json:"statement_id"`
	FileName          string                         `json:"file_name"`
	FormatVersion     string                         `json:"format_version"`
	HolderName        string                         `json:"holder_name,omitempty"`
	StatementDate     string                         `json:"statement_date,omitempty"`
	Status            string                         `json:"status"`
	Blocks            int                            `json:"blocks"`
	Parsed            int                            `json:"parsed"`
	Inserted          int                            `json:"inserted"`
	DuplicatesSkipped int                            `json:"duplicates_skipped"`
	Excluded          int                            `json:"excluded"`
	ParseFailures     []importservice.ParseFailure   `json:"parse_failures"`
	BalanceWarnings   []importservice.BalanceWarning `json:"balance_warnings"`
	ArchiveID         string                         `json:"archive_id,omitempty"`
	ElapsedMS         int64                          `json:"elapsed_ms"`
}

// DocumentResponse is one processed statement
type DocumentResponse struct {
	ID             string `json:"id"`
	StatementID    string `json:"statement_id"`
	FileName       string `json:"file_name"`
	ChecksumSHA256 string `json:"checksum_sha256"`
	FormatVersion  string `json:"format_version"`
	StatementDate  string `json:"statement_date,omitempty"`
	HolderName     string `json:"holder_name,omitempty"`
	RowsInserted   int    `json:"rows_inserted"`
	ProcessedAt    string `json:"processed_at"`
}

// FileResponse is one archived upload
type FileResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Size           int64  `json:"size"`
	ContentType    string `json:"content_type"`
	ChecksumSHA256 string `json:"checksum_sha256"`
	CreatedAt      string `json:"created_at"`
}

// Upload ingests a statement sent as multipart field "file" or as the raw body.
// Query parameters: filename (raw body only), format, period=YYYY-MM, exclude=a,b
func (h *ImportHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}

	name, data, err := readUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("document exceeds %d bytes", tooLarge.Limit))
			return
		}
		response.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	req := importservice.IngestRequest{
		FileName:      name,
		Data:          data,
		FormatVersion: strings.TrimSpace(q.Get("format")),
		ExcludeTerms:  splitList(q.Get("exclude")),
	}
	if p := strings.TrimSpace(q.Get("period")); p != "" {
		period, err := sniffer.ParsePeriod(p)
		if err != nil {
			response.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Period = period
	}

	report, err := h.ingester.Ingest(r.Context(), req)
	if err != nil {
		h.writeIngestError(w, name, err)
		return
	}

	status := http.StatusOK
	if report.Inserted > 0 {
		status = http.StatusCreated
	}
	response.JSON(w, status, toReportResponse(report))
}

func (h *ImportHandler) writeIngestError(w http.ResponseWriter, name string, err error) {
	var segErr *parser.SegmentationError
	var storeErr *reconciliation.StoreWriteError
	switch {
	case errors.As(err, &segErr):
		response.ErrorWithDetails(w, http.StatusUnprocessableEntity, err.Error(), map[string]any{
			"pages":  segErr.Pages,
			"layout": segErr.Layout,
		})
	case errors.Is(err, parser.ErrEmptyDocument),
		errors.Is(err, parser.ErrUnknownFormat),
		errors.Is(err, sniffer.ErrInvalidPeriod):
		response.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled):
		h.logger.Warn("ingestion cancelled", slog.String("file", name))
		response.Error(w, http.StatusServiceUnavailable, "request cancelled")
	case errors.As(err, &storeErr):
		h.logger.Error("failed to store statement",
			slog.String("file", name),
			slog.String("statement_id", storeErr.StatementID),
			slog.Any("error", err))
		response.Error(w, http.StatusInternalServerError, "failed to store statement")
	default:
		h.logger.Error("ingestion failed", slog.String("file", name), slog.Any("error", err))
		response.Error(w, http.StatusInternalServerError, "ingestion failed")
	}
}

// ListDocuments returns processed statements, newest first
func (h *ImportHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.documents.Documents(r.Context())
	if err != nil {
		h.logger.Error("failed to list documents", slog.Any("error", err))
		response.Error(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	out := make([]DocumentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDocumentResponse(d))
	}
	response.JSON(w, http.StatusOK, out)
}

// ListFiles returns the archived uploads of a statement
func (h *ImportHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		response.Error(w, http.StatusNotFound, "archiving is disabled")
		return
	}
	files, err := h.archive.List(r.Context(), chi.URLParam(r, "statementID"))
	if err != nil {
		h.logger.Error("failed to list archived files", slog.Any("error", err))
		response.Error(w, http.StatusInternalServerError, "failed to list files")
		return
	}
	out := make([]FileResponse, 0, len(files))
	for _, f := range files {
		out = append(out, FileResponse{
			ID:             f.ID.String(),
			Name:           f.Name,
			Size:           f.Size,
			ContentType:    f.ContentType,
			ChecksumSHA256: f.ChecksumSHA256,
			CreatedAt:      f.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	response.JSON(w, http.StatusOK, out)
}

// DownloadFile streams one archived upload
func (h *ImportHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		response.Error(w, http.StatusNotFound, "archiving is disabled")
		return
	}
	fileID, err := uuid.Parse(chi.URLParam(r, "fileID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid file id")
		return
	}

	rc, info, err := h.archive.Download(r.Context(), chi.URLParam(r, "statementID"), fileID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "file not found")
			return
		}
		h.logger.Error("failed to download archived file", slog.Any("error", err))
		response.Error(w, http.StatusInternalServerError, "failed to download file")
		return
	}
	defer rc.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": info.Name}))
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("archived file download interrupted", slog.Any("error", err))
	}
}

func readUpload(r *http.Request) (string, []byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return "", nil, err
			}
			return "", nil, fmt.Errorf("multipart field %q is required", "file")
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return "", nil, err
		}
		return filepath.Base(header.Filename), data, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return "", nil, err
	}
	name := strings.TrimSpace(r.URL.Query().Get("filename"))
	if name == "" {
		name = "statement.pdf"
	}
	return filepath.Base(name), data, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func toReportResponse(rep *importservice.IngestionReport) ReportResponse {
	out := ReportResponse{
		ID:                rep.ID.String(),
		StatementID:       rep.StatementID,
		FileName:          rep.FileName,
		FormatVersion:     rep.FormatVersion,
		HolderName:        rep.HolderName,
		Status:            string(rep.Status),
		Blocks:            rep.Blocks,
		Parsed:            rep.Parsed,
		Inserted:          rep.Inserted,
		DuplicatesSkipped: rep.DuplicatesSkipped,
		Excluded:          rep.Excluded,
		ParseFailures:     rep.ParseFailures,
		BalanceWarnings:   rep.BalanceWarnings,
		ElapsedMS:         rep.Elapsed.Milliseconds(),
	}
	if out.ParseFailures == nil {
		out.ParseFailures = []importservice.ParseFailure{}
	}
	if out.BalanceWarnings == nil {
		out.BalanceWarnings = []importservice.BalanceWarning{}
	}
	if rep.StatementDate != nil {
		out.StatementDate = rep.StatementDate.Format(reconciliation.DateLayout)
	}
	if rep.ArchiveID != nil {
		out.ArchiveID = rep.ArchiveID.String()
	}
	return out
}

func toDocumentResponse(d reconciliation.Document) DocumentResponse {
	out := DocumentResponse{
		ID:             d.ID.String(),
		StatementID:    d.StatementID,
		FileName:       d.FileName,
		ChecksumSHA256: d.ChecksumSHA256,
		FormatVersion:  d.FormatVersion,
		HolderName:     d.HolderName,
		RowsInserted:   d.RowsInserted,
		ProcessedAt:    d.ProcessedAt.UTC().Format(time.RFC3339),
	}
	if d.StatementDate != nil {
		out.StatementDate = d.StatementDate.Format(reconciliation.DateLayout)
	}
	return out
}

