package ingest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"go.uber.org/zap"

	"telegram-warehouse/internal/models"
	"telegram-warehouse/internal/notify"
	"telegram-warehouse/internal/store"
	"telegram-warehouse/internal/warehouse"
)

// Source is the local store the batches are read from.
type Source interface {
	ListPartitions() iter.Seq[models.PartitionKey]
	ReadMessageBatch(key models.PartitionKey) ([]models.RawMessage, error)
	ReadDetections() ([]models.RawDetection, error)
}

// Warehouse is the loader the batches are written to.
type Warehouse interface {
	EnsureSchema(ctx context.Context) error
	LoadMessages(ctx context.Context, key models.PartitionKey, records []models.RawMessage) (int64, error)
	LoadDetections(ctx context.Context, records []models.RawDetection) (int64, error)
	Verify(ctx context.Context, table warehouse.Table) (int64, error)
	VerifyChannel(ctx context.Context, channel string) (int64, error)
}

// Options selects what one ingestion run loads.
type Options struct {
	Date           string // only partitions of this date when set
	SkipMessages   bool
	SkipDetections bool
}

// Report is the outcome of one ingestion run.
type Report struct {
	Partitions    int
	MessageRows   int64
	DetectionRows int64
	LoadErrors    []error
	Anomalies     []error
}

// OK reports whether every load succeeded and verified.
func (r Report) OK() bool {
	return len(r.LoadErrors) == 0 && len(r.Anomalies) == 0
}

// Ingestor lands the local store in the warehouse.
type Ingestor struct {
	source   Source
	wh       Warehouse
	notifier notify.Notifier
	logger   *zap.Logger
}

// New creates an Ingestor.
func New(source Source, wh Warehouse, notifier notify.Notifier, logger *zap.Logger) *Ingestor {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Ingestor{
		source:   source,
		wh:       wh,
		notifier: notifier,
		logger:   logger,
	}
}

// Run ensures the schema, then loads messages and detections. Only a schema
// failure or cancellation is returned as an error; per-partition and
// per-table failures are collected in the report. Messages and detections
// are loaded independently, so a failure in one does not stop the other.
func (i *Ingestor) Run(ctx context.Context, opts Options) (Report, error) {
	var report Report
	if opts.Date != "" {
		if _, err := models.ParsePartitionDate(opts.Date); err != nil {
			return report, err
		}
	}

	if err := i.wh.EnsureSchema(ctx); err != nil {
		return report, err
	}

	if !opts.SkipMessages {
		if err := i.loadMessages(ctx, opts.Date, &report); err != nil {
			return report, err
		}
	}
	if !opts.SkipDetections {
		if err := i.loadDetections(ctx, &report); err != nil {
			return report, err
		}
	}

	i.alert(ctx, &report)
	i.logger.Info("Data ingestion completed",
		zap.Int("partitions", report.Partitions),
		zap.Int64("message_rows", report.MessageRows),
		zap.Int64("detection_rows", report.DetectionRows),
		zap.Int("load_errors", len(report.LoadErrors)),
		zap.Int("anomalies", len(report.Anomalies)))
	return report, ctx.Err()
}

func (i *Ingestor) loadMessages(ctx context.Context, date string, report *Report) error {
	for key := range i.source.ListPartitions() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if date != "" && key.Date != date {
			continue
		}
		report.Partitions++
		if key.IsEmpty() {
			i.logger.Info("Empty partition, nothing to load", zap.String("partition", key.String()))
			continue
		}

		err := i.loadPartition(ctx, key, report)
		if warehouse.IsFatal(err) {
			return err
		}
		if err != nil {
			report.LoadErrors = append(report.LoadErrors, err)
			i.logger.Error("Failed to ingest partition", zap.String("partition", key.String()), zap.Error(err))
		}
	}
	return nil
}

func (i *Ingestor) loadPartition(ctx context.Context, key models.PartitionKey, report *Report) error {
	records, err := i.source.ReadMessageBatch(key)
	if err != nil {
		return &warehouse.LoadError{Table: warehouse.MessagesTable, Partition: key.String(), Err: err}
	}
	before, err := i.wh.VerifyChannel(ctx, key.Channel)
	if err != nil {
		return &warehouse.LoadError{Table: warehouse.MessagesTable, Partition: key.String(), Err: err}
	}
	n, err := i.wh.LoadMessages(ctx, key, records)
	if err != nil {
		return err
	}
	report.MessageRows += n

	after, err := i.wh.VerifyChannel(ctx, key.Channel)
	if err != nil {
		return &warehouse.LoadError{Table: warehouse.MessagesTable, Partition: key.String(), Err: err}
	}
	if err := warehouse.CheckAppend(warehouse.MessagesTable, key.String(), int64(len(records)), before, after); err != nil {
		i.anomaly(report, err)
	}
	return nil
}

func (i *Ingestor) loadDetections(ctx context.Context, report *Report) error {
	records, err := i.source.ReadDetections()
	if errors.Is(err, store.ErrNoDetections) {
		i.logger.Warn("Detection batch not found, keeping the warehouse snapshot", zap.Error(err))
		return nil
	}
	if err != nil {
		report.LoadErrors = append(report.LoadErrors, &warehouse.LoadError{Table: warehouse.DetectionsTable, Err: err})
		i.logger.Error("Failed to read detection batch", zap.Error(err))
		return nil
	}

	n, loadErr := i.wh.LoadDetections(ctx, records)
	if warehouse.IsFatal(loadErr) {
		return loadErr
	}
	if loadErr != nil {
		report.LoadErrors = append(report.LoadErrors, loadErr)
		i.logger.Error("Failed to ingest detections", zap.Error(loadErr))
	} else {
		report.DetectionRows = n
	}

	// The count is taken even after a failed load to report the surviving snapshot.
	count, err := i.wh.Verify(ctx, warehouse.DetectionsTable)
	if err != nil {
		report.LoadErrors = append(report.LoadErrors, &warehouse.LoadError{Table: warehouse.DetectionsTable, Err: err})
		return nil
	}
	if loadErr != nil {
		i.logger.Warn("Detection snapshot kept after failed load", zap.Int64("rows", count))
		return nil
	}
	if err := warehouse.CheckReplace(warehouse.DetectionsTable, int64(len(records)), count); err != nil {
		i.anomaly(report, err)
	}
	return nil
}

func (i *Ingestor) anomaly(report *Report, err error) {
	report.Anomalies = append(report.Anomalies, err)
	i.logger.Warn("Verification anomaly", zap.Error(err))
}

// alert sends one message summarising anomalies and load errors, if any.
func (i *Ingestor) alert(ctx context.Context, report *Report) {
	if report.OK() {
		return
	}
	var b strings.Builder
	for _, err := range report.Anomalies {
		fmt.Fprintf(&b, "- %v\n", err)
	}
	for _, err := range report.LoadErrors {
		fmt.Fprintf(&b, "- %v\n", err)
	}
	subject := fmt.Sprintf("Warehouse load: %d anomalies, %d load errors", len(report.Anomalies), len(report.LoadErrors))
	if err := i.notifier.Notify(ctx, subject, b.String()); err != nil {
		i.logger.Warn("Failed to send alert", zap.Error(err))
	}
}
