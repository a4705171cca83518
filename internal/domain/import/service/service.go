// Package service orchestrates statement ingestion: text extraction,
// metadata sniffing, segmentation, normalization, deduplication,
// categorization and persistence.
package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/statement-recon/internal/domain/categorization"
	"github.com/FACorreiaa/statement-recon/internal/domain/import/dedup"
	"github.com/FACorreiaa/statement-recon/internal/domain/import/normalizer"
	"github.com/FACorreiaa/statement-recon/internal/domain/import/parser"
	"github.com/FACorreiaa/statement-recon/internal/domain/import/sniffer"
	"github.com/FACorreiaa/statement-recon/internal/domain/reconciliation"
	"github.com/FACorreiaa/statement-recon/pkg/metrics"
	"github.com/FACorreiaa/statement-recon/pkg/storage"
)

// Status of an ingestion
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

const excerptLen = 120

// CategorizationService assigns categories to descriptions in input order
type CategorizationService interface {
	CategorizeBatch(descriptions []string) []string
	ReplaceRules(rs *categorization.RuleSet) error
}

// IngestRequest is one uploaded statement
type IngestRequest struct {
	FileName string
	Data     []byte
	// FormatVersion overrides detection when set
	FormatVersion string
	// Period anchors the year of dates printed without one
	Period       sniffer.Period
	ExcludeTerms []string
}

// ParseFailure is a block that could not become a transaction
type ParseFailure struct {
	Block   int    `json:"block"`
	Page    int    `json:"page"`
	Excerpt string `json:"excerpt"`
	Reason  string `json:"reason"`
}

// BalanceWarning flags a row whose printed balance does not follow from the
// previous balance plus its amount. Advisory only.
type BalanceWarning struct {
	Index    int   `json:"index"`
	Expected int64 `json:"expected_cents"`
	Actual   int64 `json:"actual_cents"`
}

// IngestionReport summarizes what one ingestion did
type IngestionReport struct {
	ID                uuid.UUID
	StatementID       string
	FileName          string
	FormatVersion     string
	HolderName        string
	StatementDate     *time.Time
	Blocks            int
	Parsed            int
	Inserted          int
	DuplicatesSkipped int
	Excluded          int
	ParseFailures     []ParseFailure
	BalanceWarnings   []BalanceWarning
	Status            Status
	ArchiveID         *uuid.UUID
	Elapsed           time.Duration
}

// Config holds coordinator settings
type Config struct {
	DefaultFormat string
	ExcludeTerms  []string
	// Workers bounds parallel normalization, 0 means GOMAXPROCS
	Workers int
}

// IngestionService runs the ingestion pipeline
type IngestionService struct {
	store       reconciliation.Store
	categorizer CategorizationService
	pdf         parser.TextExtractor
	archive     storage.Storage // Optional: nil disables archiving
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	cfg         Config
	logger      *slog.Logger
	now         func() time.Time
}

// NewIngestionService creates a coordinator
func NewIngestionService(store reconciliation.Store, categorizer CategorizationService, pdf parser.TextExtractor, cfg Config, logger *slog.Logger) *IngestionService {
	return &IngestionService{
		store:       store,
		categorizer: categorizer,
		pdf:         pdf,
		tracer:      otel.Tracer("github.com/FACorreiaa/statement-recon/internal/domain/import/service"),
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// WithArchive archives every uploaded document in st
func (s *IngestionService) WithArchive(st storage.Storage) *IngestionService {
	s.archive = st
	return s
}

// WithMetrics records ingestion counters
func (s *IngestionService) WithMetrics(m *metrics.Metrics) *IngestionService {
	s.metrics = m
	return s
}

// SetRules replaces the categorization rules used by later ingestions
func (s *IngestionService) SetRules(rs *categorization.RuleSet) error {
	return s.categorizer.ReplaceRules(rs)
}

// Ingest processes one document. Malformed blocks are reported, not fatal;
// a document with no parseable rows yields a failed report and no error.
// Segmentation and store failures are returned as errors.
func (s *IngestionService) Ingest(ctx context.Context, req IngestRequest) (*IngestionReport, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "ingest.statement",
		trace.WithAttributes(attribute.String("file.name", req.FileName), attribute.Int("file.size", len(req.Data))))
	defer span.End()

	report, err := s.ingest(ctx, req)
	status := "error"
	if report != nil {
		report.Elapsed = time.Since(start)
		status = string(report.Status)
		span.SetAttributes(
			attribute.String("statement.id", report.StatementID),
			attribute.String("statement.format", report.FormatVersion),
			attribute.Int("ingest.inserted", report.Inserted),
			attribute.Int("ingest.duplicates", report.DuplicatesSkipped),
			attribute.Int("ingest.failures", len(report.ParseFailures)),
		)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.ObserveIngestion(status, 0, 0, 0, time.Since(start))
		return nil, err
	}

	s.metrics.ObserveIngestion(status, report.Inserted, report.DuplicatesSkipped, len(report.ParseFailures), report.Elapsed)
	return report, nil
}

func (s *IngestionService) ingest(ctx context.Context, req IngestRequest) (*IngestionReport, error) {
	if len(req.Data) == 0 {
		return nil, parser.ErrEmptyDocument
	}

	pages, err := parser.DetectExtractor(req.Data, s.pdf).Pages(ctx, req.Data)
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}

	md := sniffer.Sniff(pages, sniffer.Options{
		FileName:       req.FileName,
		DeclaredFormat: req.FormatVersion,
		DefaultFormat:  s.cfg.DefaultFormat,
		Period:         req.Period,
		Now:            s.now(),
	})
	layout, err := parser.LayoutFor(md.FormatVersion)
	if err != nil {
		return nil, err
	}
	if format, confidence := sniffer.DetectNumberFormat(pages); confidence >= 0.8 && format != layout.NumberFormat {
		s.logger.Warn("amounts look like a different number format than the layout",
			slog.String("statement_id", md.StatementID),
			slog.String("layout", layout.Name),
			slog.String("detected", format.String()),
			slog.Float64("confidence", confidence))
	}

	report := &IngestionReport{
		ID:            uuid.New(),
		StatementID:   md.StatementID,
		FileName:      req.FileName,
		FormatVersion: layout.Name,
		HolderName:    md.HolderName,
		StatementDate: md.StatementDate,
	}

	blocks, err := parser.Segment(pages, layout)
	if err != nil {
		return nil, err
	}
	report.Blocks = len(blocks)

	sc := normalizer.StatementContext{
		StatementID: md.StatementID,
		Layout:      layout,
		PeriodYear:  md.Period.Year,
		PeriodMonth: md.Period.Month,
		Currency:    reconciliation.CurrencyUSD,
	}
	parsed, failures := s.normalizeBlocks(ctx, blocks, sc)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	report.Parsed = len(parsed)
	report.ParseFailures = failures
	report.BalanceWarnings = balanceWarnings(parsed)

	if len(parsed) == 0 {
		report.Status = StatusFailed
		s.logger.Warn("no transactions parsed",
			slog.String("statement_id", md.StatementID),
			slog.Int("blocks", len(blocks)),
			slog.Int("failures", len(failures)))
		return report, nil
	}

	kept, excluded := excludeTerms(parsed, append(append([]string(nil), s.cfg.ExcludeTerms...), req.ExcludeTerms...))
	report.Excluded = excluded

	dedup.Assign(kept)
	existing, err := s.store.ExistingFingerprints(ctx, md.StatementID)
	if err != nil {
		return nil, fmt.Errorf("load existing fingerprints: %w", err)
	}
	fresh, duplicates := dedup.Filter(kept, existing)

	if len(fresh) > 0 {
		descriptions := make([]string, len(fresh))
		for i, t := range fresh {
			descriptions[i] = t.Description
		}
		for i, category := range s.categorizer.CategorizeBatch(descriptions) {
			if i < len(fresh) && category != "" {
				fresh[i].Category = category
			}
		}
	}

	doc := reconciliation.Document{
		ID:             uuid.New(),
		StatementID:    md.StatementID,
		FileName:       req.FileName,
		ChecksumSHA256: checksum(req.Data),
		FormatVersion:  layout.Name,
		StatementDate:  md.StatementDate,
		HolderName:     md.HolderName,
		ProcessedAt:    s.now().UTC(),
	}
	result, err := s.store.InsertNew(ctx, doc, fresh)
	if err != nil {
		return nil, err
	}

	report.Inserted = len(result.Inserted)
	// conflicts are rows a concurrent ingestion of the same statement won
	report.DuplicatesSkipped = duplicates + result.Conflicts
	report.Status = StatusSucceeded
	if len(failures) > 0 {
		report.Status = StatusPartial
	}

	report.ArchiveID = s.archiveDocument(ctx, md.StatementID, req)

	s.logger.Info("statement ingested",
		slog.String("statement_id", report.StatementID),
		slog.String("format", report.FormatVersion),
		slog.Int("blocks", report.Blocks),
		slog.Int("inserted", report.Inserted),
		slog.Int("duplicates", report.DuplicatesSkipped),
		slog.Int("excluded", report.Excluded),
		slog.Int("failures", len(report.ParseFailures)),
		slog.Int("balance_warnings", len(report.BalanceWarnings)))
	return report, nil
}

// normalizeBlocks runs the normalizer over a bounded worker pool. Output keeps
// block order.
func (s *IngestionService) normalizeBlocks(ctx context.Context, blocks []parser.Block, sc normalizer.StatementContext) ([]reconciliation.Transaction, []ParseFailure) {
	type outcome struct {
		tx   reconciliation.Transaction
		err  error
		done bool
	}
	outcomes := make([]outcome, len(blocks))

	workerCount := s.cfg.Workers
	if workerCount <= 0 {
		workerCount = runtime.GOMAXPROCS(0)
	}
	if workerCount > len(blocks) {
		workerCount = len(blocks)
	}

	jobs := make(chan int, workerCount*4)
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				tx, err := normalizer.Normalize(blocks[idx], sc)
				outcomes[idx] = outcome{tx: tx, err: err, done: true}
			}
		}()
	}

feed:
	for i := range blocks {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	var (
		parsed   = make([]reconciliation.Transaction, 0, len(blocks))
		failures []ParseFailure
	)
	for i, o := range outcomes {
		if !o.done {
			continue
		}
		if o.err == nil {
			parsed = append(parsed, o.tx)
			continue
		}
		reason := o.err.Error()
		var malformed *normalizer.MalformedTransactionError
		if errors.As(o.err, &malformed) {
			reason = malformed.Reason
		}
		failures = append(failures, ParseFailure{
			Block:   blocks[i].Index,
			Page:    blocks[i].Page,
			Excerpt: excerpt(blocks[i].Text()),
			Reason:  reason,
		})
	}
	return parsed, failures
}

// balanceWarnings checks consecutive rows that both carry a balance
func balanceWarnings(txs []reconciliation.Transaction) []BalanceWarning {
	var warnings []BalanceWarning
	for i := 1; i < len(txs); i++ {
		prev, cur := txs[i-1].BalanceCents, txs[i].BalanceCents
		if prev == nil || cur == nil {
			continue
		}
		expected := *prev + txs[i].AmountCents
		if expected != *cur {
			warnings = append(warnings, BalanceWarning{Index: i, Expected: expected, Actual: *cur})
		}
	}
	return warnings
}

// excludeTerms drops rows whose description contains any term, ignoring
// case and accents
func excludeTerms(txs []reconciliation.Transaction, terms []string) ([]reconciliation.Transaction, int) {
	var folded []string
	for _, term := range terms {
		if f := normalizer.Fold(term); f != "" {
			folded = append(folded, f)
		}
	}
	if len(folded) == 0 {
		return txs, 0
	}

	kept := make([]reconciliation.Transaction, 0, len(txs))
	excluded := 0
	for _, t := range txs {
		desc := normalizer.Fold(t.Description)
		drop := false
		for _, term := range folded {
			if strings.Contains(desc, term) {
				drop = true
				break
			}
		}
		if drop {
			excluded++
			continue
		}
		kept = append(kept, t)
	}
	return kept, excluded
}

func (s *IngestionService) archiveDocument(ctx context.Context, statementID string, req IngestRequest) *uuid.UUID {
	if s.archive == nil {
		return nil
	}
	contentType := "text/plain; charset=utf-8"
	if parser.IsPDF(req.Data) {
		contentType = "application/pdf"
	}
	info, err := s.archive.Upload(ctx, statementID, req.FileName, contentType, bytes.NewReader(req.Data))
	if err != nil {
		s.logger.Warn("failed to archive statement",
			slog.String("statement_id", statementID),
			slog.Any("error", err))
		return nil
	}
	return &info.ID
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func excerpt(s string) string {
	if len(s) <= excerptLen {
		return s
	}
	cut := excerptLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
