package warehouse

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// EnsureSchema creates the raw schema and tables if they are missing. It runs
// on its own connection, opened and closed here, so the DDL is committed
// before any data is loaded and no later load failure can roll it back.
// Calling it again is a no-op.
func (l *Loader) EnsureSchema(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &SchemaError{Op: "setup", Err: err}
	}

	db, err := sql.Open(l.dialect.DriverName(), l.dsn)
	if err != nil {
		return &SchemaError{Op: "connect", Err: err}
	}

	m, err := newMigrate(db, l.dialect)
	if err != nil {
		db.Close()
		return &SchemaError{Op: "migrate init", Err: err}
	}
	m.Log = &migrateLogger{logger: l.logger}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			l.logger.Warn("Failed to close migration connection", zap.NamedError("source", srcErr), zap.NamedError("database", dbErr))
		}
	}()

	// migrate has no context support; stop it when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		select {
		case m.GracefulStop <- true:
		default:
		}
	})
	defer stop()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			l.logger.Info("Warehouse schema already up to date.")
			return nil
		}
		l.logger.Error("Failed to apply warehouse schema", DBErrorFields(err)...)
		return &SchemaError{Op: "migrate", Err: err}
	}

	version, _, err := m.Version()
	if err != nil {
		return &SchemaError{Op: "version", Err: err}
	}
	l.logger.Info("Database schema and tables verified.", zap.Uint("version", version))
	return nil
}

func newMigrate(db *sql.DB, dialect Dialect) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations/"+string(dialect))
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	var driver database.Driver
	switch dialect {
	case Postgres:
		driver, err = postgres.WithInstance(db, &postgres.Config{})
	case SQLite:
		driver, err = sqlite.WithInstance(db, &sqlite.Config{})
	default:
		err = fmt.Errorf("no migration driver for %q", dialect)
	}
	if err != nil {
		src.Close()
		return nil, err
	}

	return migrate.NewWithInstance("iofs", src, string(dialect), driver)
}

type migrateLogger struct {
	logger *zap.Logger
}

func (m *migrateLogger) Printf(format string, v ...interface{}) {
	m.logger.Sugar().Debugf("migrate: "+format, v...)
}

func (m *migrateLogger) Verbose() bool {
	return false
}
