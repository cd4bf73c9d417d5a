package warehouse

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	_ "modernc.org/sqlite"
)

func init() {
	sqlx.BindDriver(string(SQLite), sqlx.QUESTION)
}

// Table is a schema-qualified warehouse table.
type Table struct {
	Schema string
	Name   string
}

func (t Table) String() string {
	return t.Schema + "." + t.Name
}

// Raw tables owned by the loader.
var (
	MessagesTable   = Table{Schema: RawSchema, Name: "telegram_messages"}
	DetectionsTable = Table{Schema: RawSchema, Name: "detection_results"}
)

// RawSchema holds the landing tables.
const RawSchema = "raw"

// Dialect selects the SQL flavour of the warehouse. SQLite has no schemas, so
// schema-qualified names are flattened to <schema>_<table> there.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ParseDialect maps a configured driver name to a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch Dialect(strings.ToLower(driver)) {
	case Postgres:
		return Postgres, nil
	case SQLite:
		return SQLite, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", driver)
}

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	return string(d)
}

// Qualify returns the table name as it must appear in SQL.
func (d Dialect) Qualify(t Table) string {
	if d == SQLite {
		return t.Schema + "_" + t.Name
	}
	return t.Schema + "." + t.Name
}

// DSN adjusts a configured data source name for the driver. SQLite file
// databases get a busy timeout so the schema connection and the load
// connection can take turns on the same file.
func (d Dialect) DSN(dsn string) string {
	if d != SQLite || strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)"
}
