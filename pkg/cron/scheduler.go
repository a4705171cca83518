// Package cron provides scheduled background jobs using robfig/cron.
package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	importservice "github.com/FACorreiaa/statement-recon/internal/domain/import/service"
)

const (
	processedDir = "processed"
	failedDir    = "failed"
	scanTimeout  = 30 * time.Minute
)

// Ingester runs one statement through the ingestion pipeline
type Ingester interface {
	Ingest(ctx context.Context, req importservice.IngestRequest) (*importservice.IngestionReport, error)
}

// ScanResult counts what one inbox scan did
type ScanResult struct {
	Processed int
	Failed    int
}

// Scheduler periodically ingests statements dropped into an inbox directory.
// Ingested files move to inbox/processed, rejected ones to inbox/failed.
type Scheduler struct {
	cron     *cron.Cron
	ingester Ingester
	inbox    string
	schedule string
	logger   *slog.Logger
}

// NewScheduler creates a scheduler that scans inbox on a standard 5-field cron schedule
func NewScheduler(ingester Ingester, inbox, schedule string, logger *slog.Logger) *Scheduler {
	cronLogger := cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	return &Scheduler{
		cron:     c,
		ingester: ingester,
		inbox:    inbox,
		schedule: schedule,
		logger:   logger,
	}
}

// Start creates the inbox directories and schedules the scan.
func (s *Scheduler) Start() error {
	for _, dir := range []string{s.inbox, filepath.Join(s.inbox, processedDir), filepath.Join(s.inbox, failedDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create inbox %s: %w", dir, err)
		}
	}

	if _, err := s.cron.AddFunc(s.schedule, s.scanJob); err != nil {
		return fmt.Errorf("schedule inbox scan %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		slog.String("inbox", s.inbox),
		slog.String("schedule", s.schedule),
		slog.Int("jobs", len(s.cron.Entries())),
	)
	return nil
}

// Stop stops scheduling; the returned context is done when a running scan finishes.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

func (s *Scheduler) scanJob() {
	ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
	defer cancel()

	res, err := s.ScanInbox(ctx)
	if err != nil {
		s.logger.Error("inbox scan failed", slog.Any("error", err))
		return
	}
	if res.Processed+res.Failed > 0 {
		s.logger.Info("inbox scan completed",
			slog.Int("processed", res.Processed),
			slog.Int("failed", res.Failed),
		)
	}
}

// ScanInbox ingests every statement file in the inbox, oldest name first
func (s *Scheduler) ScanInbox(ctx context.Context) (ScanResult, error) {
	var res ScanResult

	entries, err := os.ReadDir(s.inbox)
	if err != nil {
		return res, fmt.Errorf("read inbox: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && isStatementFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ok := s.ingestFile(ctx, name)
		dest := processedDir
		if ok {
			res.Processed++
		} else {
			res.Failed++
			dest = failedDir
		}
		if err := s.move(name, dest); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *Scheduler) ingestFile(ctx context.Context, name string) bool {
	data, err := os.ReadFile(filepath.Join(s.inbox, name))
	if err != nil {
		s.logger.Warn("failed to read inbox file", slog.String("file", name), slog.Any("error", err))
		return false
	}

	report, err := s.ingester.Ingest(ctx, importservice.IngestRequest{FileName: name, Data: data})
	if err != nil {
		s.logger.Warn("inbox file rejected", slog.String("file", name), slog.Any("error", err))
		return false
	}
	if report.Status == importservice.StatusFailed {
		s.logger.Warn("inbox file produced no transactions",
			slog.String("file", name),
			slog.String("statement_id", report.StatementID),
			slog.Int("parse_failures", len(report.ParseFailures)),
		)
		return false
	}

	s.logger.Debug("inbox file ingested",
		slog.String("file", name),
		slog.String("statement_id", report.StatementID),
		slog.Int("inserted", report.Inserted),
	)
	return true
}

// move never overwrites: a name already taken in dest gets a timestamp prefix
func (s *Scheduler) move(name, dest string) error {
	target := filepath.Join(s.inbox, dest, name)
	if _, err := os.Stat(target); err == nil {
		target = filepath.Join(s.inbox, dest, time.Now().UTC().Format("20060102T150405.000000000")+"_"+name)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", target, err)
	}
	if err := os.Rename(filepath.Join(s.inbox, name), target); err != nil {
		return fmt.Errorf("move %s to %s: %w", name, dest, err)
	}
	return nil
}

func isStatementFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf", ".txt":
		return true
	}
	return false
}
