package worker

import (
	"context"
	"errors"
	"fmt"

	"fintrack/internal/amqp"
	"fintrack/internal/log"
	"fintrack/internal/services"
	"fintrack/internal/storage"
)

// Exporter is the part of services.ExportProcessor the worker drives.
type Exporter interface {
	ExportOne(ctx context.Context, ref storage.ExportRef) error
	ExportPending(ctx context.Context) (int, error)
}

// ExportWorker reacts to record events by exporting the record to the
// spreadsheet.
type ExportWorker struct {
	exporter     Exporter
	startupLimit int
	logger       *log.Logger
}

// NewExportWorker builds a worker. At startup it runs up to startupBatches
// export batches to catch up on events missed while it was down.
func NewExportWorker(exporter Exporter, startupBatches int, logger *log.Logger) *ExportWorker {
	if startupBatches <= 0 {
		startupBatches = 5
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &ExportWorker{
		exporter:     exporter,
		startupLimit: startupBatches,
		logger:       logger.WithComponent(log.ComponentWorker),
	}
}

// HandleRecordEvent processes one event from the queue. Returning an error
// requeues the message.
func (w *ExportWorker) HandleRecordEvent(ctx context.Context, evt *amqp.RecordEvent) error {
	w.logger.InfoContext(ctx, "Processing record event",
		"type", evt.Type,
		log.FieldRecordKind, evt.Kind,
		log.FieldRecordID, evt.ID,
		log.FieldUserID, evt.UserID)

	switch evt.Type {
	case amqp.EventCreated, amqp.EventUpdated:
	default:
		// Exported rows are never removed.
		w.logger.DebugContext(ctx, "Ignoring record event",
			"type", evt.Type,
			log.FieldRecordKind, evt.Kind,
			log.FieldRecordID, evt.ID)
		return nil
	}

	err := w.exporter.ExportOne(ctx, storage.ExportRef{Kind: evt.Kind, ID: evt.ID, UserID: evt.UserID})
	if errors.Is(err, services.ErrNotExportable) {
		w.logger.DebugContext(ctx, "Record kind has no sheet, skipping", log.FieldRecordKind, evt.Kind)
		return nil
	}
	if err != nil {
		return fmt.Errorf("export %s %d: %w", evt.Kind, evt.ID, err)
	}
	return nil
}

// StartupSyncCheck exports records left pending while the worker was down.
func (w *ExportWorker) StartupSyncCheck(ctx context.Context) error {
	total := 0
	for i := 0; i < w.startupLimit; i++ {
		n, err := w.exporter.ExportPending(ctx)
		if err != nil {
			return fmt.Errorf("startup export: %w", err)
		}
		total += n
		if n == 0 {
			break
		}
	}

	if total == 0 {
		w.logger.InfoContext(ctx, "No pending records found on startup")
		return nil
	}
	w.logger.InfoContext(ctx, "Startup export completed", "exported", total)
	return nil
}
