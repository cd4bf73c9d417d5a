package warehouse

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// SchemaError is a failure to reach the warehouse or to set up its schema.
// The warehouse is unusable without it, so it aborts the run.
type SchemaError struct {
	Op  string
	Err error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("warehouse schema %s: %v", e.Op, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// LoadError is a failed load of one table or partition. It is recoverable:
// the transaction was rolled back and other loads may proceed.
type LoadError struct {
	Table     Table
	Partition string
	Err       error
}

func (e *LoadError) Error() string {
	if e.Partition != "" {
		return fmt.Sprintf("load %s (partition %s): %v", e.Table, e.Partition, e.Err)
	}
	return fmt.Sprintf("load %s: %v", e.Table, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// VerificationAnomaly reports a post-load row count that does not match the
// input batch. It is a warning for operators, never retried.
type VerificationAnomaly struct {
	Table     Table
	Partition string
	Input     int64
	Expected  int64
	Actual    int64
}

func (e *VerificationAnomaly) Error() string {
	where := e.Table.String()
	if e.Partition != "" {
		where += " (partition " + e.Partition + ")"
	}
	return fmt.Sprintf("verification anomaly on %s: loaded %d records, expected %d rows, found %d",
		where, e.Input, e.Expected, e.Actual)
}

// IsFatal reports whether err must abort the run.
func IsFatal(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// IsAnomaly reports whether err is a verification warning.
func IsAnomaly(err error) bool {
	var va *VerificationAnomaly
	return errors.As(err, &va)
}

// CheckAppend verifies an append-only load: the table must have grown by at
// least input rows.
func CheckAppend(table Table, partition string, input, before, after int64) error {
	if input == 0 {
		return nil
	}
	if after < before+input {
		return &VerificationAnomaly{Table: table, Partition: partition, Input: input, Expected: before + input, Actual: after}
	}
	return nil
}

// CheckReplace verifies a full-replace load: the table must hold exactly the
// input rows.
func CheckReplace(table Table, input, after int64) error {
	if after != input {
		return &VerificationAnomaly{Table: table, Input: input, Expected: input, Actual: after}
	}
	return nil
}

// DBErrorFields extracts the PostgreSQL error details worth logging.
func DBErrorFields(err error) []zap.Field {
	fields := []zap.Field{zap.Error(err)}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		fields = append(fields,
			zap.String("sqlstate", string(pqErr.Code)),
			zap.String("sqlstate_name", pqErr.Code.Name()),
		)
		if pqErr.Detail != "" {
			fields = append(fields, zap.String("detail", pqErr.Detail))
		}
		if pqErr.Table != "" {
			fields = append(fields, zap.String("db_table", pqErr.Table))
		}
	}
	return fields
}
