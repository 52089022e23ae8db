package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/sheets"
	"fintrack/internal/storage"
)

// ExportProcessorConfig holds configuration for the export processor
type ExportProcessorConfig struct {
	// PollInterval is how often pending records are swept (default: 30s)
	PollInterval time.Duration

	// BatchSize is the max number of records exported per sweep (default: 10)
	BatchSize int
}

// DefaultExportProcessorConfig returns sensible defaults
func DefaultExportProcessorConfig() ExportProcessorConfig {
	return ExportProcessorConfig{
		PollInterval: 30 * time.Second,
		BatchSize:    10,
	}
}

// ExportStore is the storage side of exporting: reading records and
// tracking their export status.
type ExportStore interface {
	PendingExports(ctx context.Context, limit int) ([]storage.ExportRef, error)
	MarkExported(ctx context.Context, kind core.RecordKind, id int64) error
	MarkExportFailed(ctx context.Context, kind core.RecordKind, id int64) error
	GetExpense(ctx context.Context, userID string, id int64) (core.Expense, error)
	GetCardBill(ctx context.Context, userID string, id int64) (core.CardBill, error)
	GetIncome(ctx context.Context, userID string, id int64) (core.Income, error)
}

// ExportProcessor copies records to the spreadsheet. It runs on demand for
// record events and as a periodic sweep for anything events missed.
type ExportProcessor struct {
	store    ExportStore
	exporter sheets.RecordExporter
	config   ExportProcessorConfig
	logger   *log.Logger

	// serializes exports so an event and a sweep never append the same
	// record twice
	exportMu sync.Mutex

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewExportProcessor(store ExportStore, exporter sheets.RecordExporter, config ExportProcessorConfig, logger *log.Logger) *ExportProcessor {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultExportProcessorConfig().PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultExportProcessorConfig().BatchSize
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &ExportProcessor{
		store:    store,
		exporter: exporter,
		config:   config,
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// ErrNotExportable is returned for record kinds that have no sheet.
var ErrNotExportable = errors.New("record kind is not exported")

// ExportOne exports a single record and updates its export status. A
// record that no longer exists is skipped without error.
func (p *ExportProcessor) ExportOne(ctx context.Context, ref storage.ExportRef) error {
	p.exportMu.Lock()
	defer p.exportMu.Unlock()
	return p.exportLocked(ctx, ref)
}

func (p *ExportProcessor) exportLocked(ctx context.Context, ref storage.ExportRef) error {
	rowRef, err := p.append(ctx, ref)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		p.logger.InfoContext(ctx, "Record gone before export, skipping",
			log.FieldRecordKind, ref.Kind,
			log.FieldRecordID, ref.ID)
		return nil
	case errors.Is(err, ErrNotExportable):
		return err
	case err != nil:
		if markErr := p.store.MarkExportFailed(ctx, ref.Kind, ref.ID); markErr != nil {
			p.logger.ErrorContext(ctx, "Failed to mark export error",
				log.FieldError, markErr,
				log.FieldRecordKind, ref.Kind,
				log.FieldRecordID, ref.ID)
		}
		return fmt.Errorf("export %s %d: %w", ref.Kind, ref.ID, err)
	}

	// The row is written; a failed status update only means it may be
	// appended again by a later sweep.
	if err := p.store.MarkExported(ctx, ref.Kind, ref.ID); err != nil {
		p.logger.WarnContext(ctx, "Failed to mark record as exported",
			log.FieldError, err,
			log.FieldRecordKind, ref.Kind,
			log.FieldRecordID, ref.ID)
	}
	p.logger.InfoContext(ctx, "Exported record to spreadsheet",
		log.FieldRecordKind, ref.Kind,
		log.FieldRecordID, ref.ID,
		"row_ref", rowRef)
	return nil
}

func (p *ExportProcessor) append(ctx context.Context, ref storage.ExportRef) (string, error) {
	switch ref.Kind {
	case core.KindExpense:
		e, err := p.store.GetExpense(ctx, ref.UserID, ref.ID)
		if err != nil {
			return "", err
		}
		return p.exporter.AppendExpense(ctx, e)
	case core.KindCardBill:
		b, err := p.store.GetCardBill(ctx, ref.UserID, ref.ID)
		if err != nil {
			return "", err
		}
		return p.exporter.AppendCardBill(ctx, b)
	case core.KindIncome:
		in, err := p.store.GetIncome(ctx, ref.UserID, ref.ID)
		if err != nil {
			return "", err
		}
		return p.exporter.AppendIncome(ctx, in)
	default:
		return "", fmt.Errorf("%w: %s", ErrNotExportable, ref.Kind)
	}
}

// ExportPending exports up to one batch of pending or failed records and
// returns how many were exported.
func (p *ExportProcessor) ExportPending(ctx context.Context) (int, error) {
	p.exportMu.Lock()
	defer p.exportMu.Unlock()

	refs, err := p.store.PendingExports(ctx, p.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending exports: %w", err)
	}
	if len(refs) == 0 {
		return 0, nil
	}

	p.logger.DebugContext(ctx, "Processing export batch", "count", len(refs))

	exported := 0
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return exported, err
		}
		if err := p.exportLocked(ctx, ref); err != nil {
			p.logger.WarnContext(ctx, "Export failed",
				log.FieldError, err,
				log.FieldRecordKind, ref.Kind,
				log.FieldRecordID, ref.ID)
			continue
		}
		exported++
	}
	return exported, nil
}

// Start begins the sweep loop. Returns an error if already running.
func (p *ExportProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("export processor is already running")
	}
	p.running = true
	stopCh, doneCh := make(chan struct{}), make(chan struct{})
	p.stopCh, p.doneCh = stopCh, doneCh
	p.mu.Unlock()

	go p.runLoop(ctx, stopCh, doneCh)

	p.logger.InfoContext(ctx, "Export processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)
	return nil
}

// Stop signals the loop and waits for it to exit or ctx to end.
func (p *ExportProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.running = false
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		p.logger.InfoContext(ctx, "Export processor stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Export processor stop timed out")
		return ctx.Err()
	}
}

func (p *ExportProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *ExportProcessor) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.sweep(ctx)
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *ExportProcessor) sweep(ctx context.Context) {
	n, err := p.ExportPending(ctx)
	if err != nil && ctx.Err() == nil {
		p.logger.ErrorContext(ctx, "Export sweep failed", log.FieldError, err)
		return
	}
	if n > 0 {
		p.logger.InfoContext(ctx, "Export sweep complete", "exported", n)
	}
}
