// Package importer turns uploaded CSV and spreadsheet files into sales and points ledger
// records, writes them in batches and tracks each job as a pollable task.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

const (
	DefaultBatchSize  = 100
	DefaultJobTimeout = 30 * time.Minute
)

type Options struct {
	BatchSize  int
	MaxRows    int
	JobTimeout time.Duration
	// CreateCustomers lets sales imports create customers for unknown phones.
	CreateCustomers bool
}

// Store is what a job needs from persistence.
type Store interface {
	BatchStore
	CustomerIndex
}

// Upload is a file saved by the HTTP layer. The service owns Path from Start on and
// always removes it.
type Upload struct {
	Path        string
	Filename    string
	ContentType string
	Kind        Kind
}

type Started struct {
	ID string
	// Total is zero until the job has parsed the file; pollers read the corrected count
	// from the task snapshot.
	Total int
}

type Service struct {
	store      Store
	tracker    *Tracker
	writer     *Writer
	normalizer *Normalizer
	opts       Options
	logger     *slog.Logger

	// OnComplete, if set, is called from the job goroutine with the final snapshot.
	OnComplete func(ctx context.Context, snap Snapshot)

	wg sync.WaitGroup
}

func NewService(store Store, reconciler Reconciler, tracker *Tracker, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = DefaultJobTimeout
	}
	logger = logger.With("component", "importer")
	writer := NewWriter(store, reconciler, logger)
	writer.CreateCustomers = opts.CreateCustomers
	return &Service{
		store:      store,
		tracker:    tracker,
		writer:     writer,
		normalizer: NewNormalizer(),
		opts:       opts,
		logger:     logger,
	}
}

// SetClock replaces the clock used for defaulted ledger dates.
func (s *Service) SetClock(now func() time.Time) {
	s.normalizer.Now = now
}

// Start registers a task and returns at once; parsing and writing happen in the
// background. Only an unsupported format is returned as an error. Files that turn out to
// be empty, too long or malformed complete their task with a job-level error.
func (s *Service) Start(ctx context.Context, up Upload) (Started, error) {
	format, err := DetectFormat(up.Filename, up.ContentType)
	if err != nil {
		s.removeUpload(up.Path)
		return Started{}, err
	}

	id := s.tracker.Create(up.Kind, up.Filename, 0)
	s.logger.Info("import_started", "import_id", id, "kind", up.Kind, "filename", up.Filename)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.removeUpload(up.Path)
		jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.JobTimeout)
		defer cancel()

		table, err := s.readUpload(up.Path, format)
		if err != nil {
			s.logger.Warn("import_parse_failed", "import_id", id, "filename", up.Filename, "error", err)
			s.finish(jobCtx, id, err.Error())
			return
		}
		s.tracker.SetTotal(id, len(table.Rows))
		s.run(jobCtx, id, up.Kind, table)
	}()
	return Started{ID: id}, nil
}

func (s *Service) removeUpload(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("import_upload_cleanup_failed", "path", path, "error", err)
	}
}

func (s *Service) readUpload(path string, format Format) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	return ReadTable(f, format, s.opts.MaxRows)
}

func (s *Service) run(ctx context.Context, id string, kind Kind, table *Table) {
	logger := s.logger.With("import_id", id, "kind", kind)
	logger.Info("import_parsed", "rows", len(table.Rows))
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("import_panicked", "panic", rec)
			s.finish(ctx, id, fmt.Sprintf("internal error: %v", rec))
		}
	}()

	s.tracker.Begin(id)

	resolver := NewResolver(s.store)
	if err := resolver.Preload(ctx); err != nil {
		logger.Error("import_failed", "error", err)
		s.finish(ctx, id, err.Error())
		return
	}

	batch := 0
	for start := 0; start < len(table.Rows); start += s.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			logger.Error("import_aborted", "error", err)
			s.finish(ctx, id, fmt.Sprintf("import aborted: %v", err))
			return
		}
		chunk := table.Rows[start:min(start+s.opts.BatchSize, len(table.Rows))]
		batch++

		var (
			warnings []string
			invalid  int
		)
		records := make([]Record, 0, len(chunk))
		for _, row := range chunk {
			rec, rowWarnings, err := s.normalizer.Normalize(kind, row)
			warnings = append(warnings, rowWarnings...)
			if err != nil {
				invalid++
				warnings = append(warnings, err.Error())
				continue
			}
			rec.tag(id)
			resolver.Annotate(&rec)
			records = append(records, rec)
		}

		result := s.writer.WriteBatch(ctx, kind, batch, records, resolver)
		warnings = append(warnings, result.Warnings...)
		s.tracker.Advance(id, len(chunk), result.Success, result.Failed+invalid, chunk[len(chunk)-1].Number, warnings)
	}

	s.finish(ctx, id, "")
}

func (s *Service) finish(ctx context.Context, id, message string) {
	if !s.tracker.Complete(id, message) {
		return
	}
	snap, ok := s.tracker.Peek(id)
	if !ok {
		return
	}
	s.logger.Info("import_completed",
		"import_id", id,
		"processed", snap.Processed,
		"success", snap.Success,
		"failed", snap.Failed,
		"error", snap.Error,
	)
	if s.OnComplete != nil {
		s.OnComplete(ctx, snap)
	}
}

func (s *Service) Status(id string) (Snapshot, error) {
	return s.tracker.Snapshot(id)
}

func (s *Service) Clear(id string) error {
	return s.tracker.Clear(id)
}

// Wait blocks until every running job has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}
