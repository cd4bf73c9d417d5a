package warehouse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"telegram-warehouse/internal/models"
)

// insertChunk bounds the rows per multi-row INSERT so the statement stays
// under the bind-parameter limits of both drivers.
const insertChunk = 500

// Loader lands message and detection batches in the raw tables. It owns one
// connection pool for data loads; schema setup uses a connection of its own
// (see EnsureSchema). Messages and detections are committed independently.
type Loader struct {
	db      *sqlx.DB
	dialect Dialect
	dsn     string
	logger  *zap.Logger
	now     func() time.Time
}

// Option customises a Loader.
type Option func(*Loader)

// WithClock sets the clock used for ingested_at.
func WithClock(now func() time.Time) Option {
	return func(l *Loader) { l.now = now }
}

// Open connects to the warehouse. A connection failure is a SchemaError: the
// run cannot proceed without the warehouse.
func Open(ctx context.Context, driver, dsn string, logger *zap.Logger, opts ...Option) (*Loader, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, &SchemaError{Op: "connect", Err: err}
	}
	dsn = dialect.DSN(dsn)

	db, err := sqlx.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, &SchemaError{Op: "connect", Err: fmt.Errorf("failed to open database: %w", err)}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &SchemaError{Op: "connect", Err: fmt.Errorf("failed to connect to database: %w", err)}
	}

	l := &Loader{
		db:      db,
		dialect: dialect,
		dsn:     dsn,
		logger:  logger,
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	logger.Info("Successfully connected to the warehouse", zap.String("driver", driver))
	return l, nil
}

// Close releases the load connection pool.
func (l *Loader) Close() error {
	return l.db.Close()
}

// DB exposes the load connection pool for read-side callers sharing the run.
func (l *Loader) DB() *sqlx.DB {
	return l.db
}

// Dialect returns the SQL dialect of the warehouse.
func (l *Loader) Dialect() Dialect {
	return l.dialect
}

type messageRow struct {
	Channel    string    `db:"channel"`
	Content    string    `db:"content"`
	IngestedAt time.Time `db:"ingested_at"`
}

// LoadMessages appends one row per record to raw.telegram_messages, all tagged
// with the same ingested_at taken at load time. There is no deduplication:
// loading the same partition twice doubles its rows. The batch is committed as
// one transaction and returns the number of rows inserted.
func (l *Loader) LoadMessages(ctx context.Context, key models.PartitionKey, records []models.RawMessage) (int64, error) {
	fail := func(err error) (int64, error) {
		return 0, &LoadError{Table: MessagesTable, Partition: key.String(), Err: err}
	}
	if err := key.Validate(); err != nil {
		return fail(err)
	}
	if len(records) == 0 {
		l.logger.Info("Empty partition, nothing to load", zap.String("partition", key.String()))
		return 0, nil
	}
	if key.IsEmpty() {
		return fail(fmt.Errorf("partition %s has no channel for %d records", key, len(records)))
	}
	if err := models.ValidateBatch(key.Channel, records); err != nil {
		return fail(err)
	}

	ingestedAt := l.now().UTC()
	rows := make([]messageRow, 0, len(records))
	for _, r := range records {
		content, err := json.Marshal(r)
		if err != nil {
			return fail(fmt.Errorf("failed to encode message %d: %w", r.MessageID, err))
		}
		rows = append(rows, messageRow{Channel: key.Channel, Content: string(content), IngestedAt: ingestedAt})
	}

	query := fmt.Sprintf(`INSERT INTO %s (channel, content, ingested_at) VALUES (:channel, :content, :ingested_at)`,
		l.dialect.Qualify(MessagesTable))

	n, err := l.inTx(ctx, func(tx *sqlx.Tx) (int64, error) {
		return insertChunks(ctx, tx, query, rows)
	})
	if err != nil {
		l.logger.Error("Failed to load message batch",
			append(DBErrorFields(err), zap.String("partition", key.String()))...)
		return fail(err)
	}
	l.logger.Info("Ingested messages",
		zap.String("partition", key.String()),
		zap.Int64("rows", n),
		zap.Time("ingested_at", ingestedAt))
	return n, nil
}

// LoadDetections replaces the whole content of raw.detection_results with
// records. The delete and the inserts share one transaction, so a failed load
// leaves the previous snapshot in place.
func (l *Loader) LoadDetections(ctx context.Context, records []models.RawDetection) (int64, error) {
	fail := func(err error) (int64, error) {
		return 0, &LoadError{Table: DetectionsTable, Err: err}
	}
	var invalid []error
	for i, d := range records {
		if err := d.Validate(); err != nil {
			invalid = append(invalid, fmt.Errorf("record %d: %w", i, err))
		}
	}
	if err := errors.Join(invalid...); err != nil {
		return fail(err)
	}

	table := l.dialect.Qualify(DetectionsTable)
	query := fmt.Sprintf(`INSERT INTO %s (channel, image_path, label, confidence, x_min, y_min, x_max, y_max)
		VALUES (:channel, :image_path, :label, :confidence, :x_min, :y_min, :x_max, :y_max)`, table)

	n, err := l.inTx(ctx, func(tx *sqlx.Tx) (int64, error) {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return 0, fmt.Errorf("failed to clear %s: %w", table, err)
		}
		return insertChunks(ctx, tx, query, records)
	})
	if err != nil {
		l.logger.Error("Failed to load detection batch", DBErrorFields(err)...)
		return fail(err)
	}
	l.logger.Info("Successfully ingested detections", zap.String("table", DetectionsTable.String()), zap.Int64("rows", n))
	return n, nil
}

// Verify counts the rows of table and logs the result.
func (l *Loader) Verify(ctx context.Context, table Table) (int64, error) {
	var count int64
	if err := l.db.GetContext(ctx, &count, "SELECT count(*) FROM "+l.dialect.Qualify(table)); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	l.logger.Info("Verification: rows present in warehouse", zap.String("table", table.String()), zap.Int64("count", count))
	return count, nil
}

// VerifyChannel counts the message rows of one channel.
func (l *Loader) VerifyChannel(ctx context.Context, channel string) (int64, error) {
	var count int64
	query := l.db.Rebind("SELECT count(*) FROM " + l.dialect.Qualify(MessagesTable) + " WHERE channel = ?")
	if err := l.db.GetContext(ctx, &count, query, channel); err != nil {
		return 0, fmt.Errorf("failed to count messages of %s: %w", channel, err)
	}
	l.logger.Debug("Verification: channel rows present",
		zap.String("table", MessagesTable.String()),
		zap.String("channel", channel),
		zap.Int64("count", count))
	return count, nil
}

func (l *Loader) inTx(ctx context.Context, fn func(tx *sqlx.Tx) (int64, error)) (int64, error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	n, err := fn(tx)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			l.logger.Warn("Rollback failed", zap.Error(rbErr))
		}
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return n, nil
}

// insertChunks runs a named multi-row INSERT for rows in chunks.
func insertChunks[T any](ctx context.Context, tx *sqlx.Tx, query string, rows []T) (int64, error) {
	var total int64
	for start := 0; start < len(rows); start += insertChunk {
		end := min(start+insertChunk, len(rows))
		res, err := tx.NamedExecContext(ctx, query, rows[start:end])
		if err != nil {
			return 0, fmt.Errorf("failed to insert rows %d-%d: %w", start, end-1, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
