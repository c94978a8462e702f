package load

import (
	"context"
	"fmt"
	"strings"

	"sheet-ingest/internal/config"
	"sheet-ingest/internal/dataset"
	"sheet-ingest/internal/logging"
	"sheet-ingest/internal/util"
)

// ColumnType is the storage class used when creating or widening a table.
type ColumnType int

const (
	TypeText ColumnType = iota
	TypeNumber
	TypeBool
	TypeTimestamp
)

func (t ColumnType) String() string {
	switch t {
	case TypeNumber:
		return "number"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	default:
		return "text"
	}
}

func columnTypeForKind(k dataset.Kind) ColumnType {
	switch k {
	case dataset.KindNumber:
		return TypeNumber
	case dataset.KindBool:
		return TypeBool
	default:
		return TypeText
	}
}

// Column describes an existing destination column.
type Column struct {
	Name string
	// Required is true for NOT NULL columns without a default value.
	Required bool
}

// ColumnDef describes a column to create.
type ColumnDef struct {
	Name string
	Type ColumnType
}

// WriteRequest carries the rows for one Replace or Append call. Rows hold
// values in Columns order.
type WriteRequest struct {
	Table   string
	Columns []string
	Rows    [][]interface{}
	// RunIDColumn and RunID make an Append idempotent: when both are set and
	// the table already holds rows with RunID, nothing is written.
	RunIDColumn string
	RunID       string
	// NoWait makes a cross-process table lock held by another writer fail
	// with ErrDestinationBusy instead of queueing behind it.
	NoWait bool
}

// Destination is a warehouse table store. Implementations classify their
// errors with ErrDestinationUnavailable and ErrSchemaMismatch.
type Destination interface {
	// Name identifies the destination (type and masked DSN) for write arbitration.
	Name() string
	// Columns returns the table's columns in ordinal order and whether it exists.
	Columns(ctx context.Context, table string) ([]Column, bool, error)
	CreateTable(ctx context.Context, table string, cols []ColumnDef) error
	// AddColumns adds nullable columns.
	AddColumns(ctx context.Context, table string, cols []ColumnDef) error
	// Replace atomically swaps the table contents for req.Rows.
	Replace(ctx context.Context, req WriteRequest) (int64, error)
	// Append adds req.Rows in one transaction. skipped reports an idempotent retry.
	Append(ctx context.Context, req WriteRequest) (written int64, skipped bool, err error)
	Close() error
}

// NewDestination connects to the configured destination. The dsn argument is
// the already-resolved connection string.
func NewDestination(ctx context.Context, cfg config.DestinationConfig, dsn string) (Destination, error) {
	destType := strings.ToLower(cfg.Type)
	logging.Logf(logging.Debug, "Creating %s destination for %s", destType, util.MaskCredentials(dsn))
	if dsn == "" {
		return nil, fmt.Errorf("a connection string is required for destination type '%s' (dsn, --dsn or %s)", cfg.Type, config.DSNEnvVar)
	}
	switch destType {
	case config.DestinationTypePostgres:
		return NewPostgresDestination(ctx, dsn)
	case config.DestinationTypeSQLite:
		return NewSQLiteDestination(ctx, dsn)
	case config.DestinationTypeMySQL:
		return NewMySQLDestination(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported destination type '%s'", cfg.Type)
	}
}

// TargetFor binds a connected destination to the table settings of cfg.
func TargetFor(cfg config.DestinationConfig, dest Destination) Target {
	return Target{
		Destination:     dest,
		Table:           cfg.Table,
		CreateIfMissing: config.BoolValue(cfg.CreateIfMissing, true),
		SnapshotColumn:  cfg.SnapshotColumn,
		RunIDColumn:     config.StringValue(cfg.RunIDColumn, config.DefaultRunIDColumn),
		OnConflict:      cfg.OnConflict,
	}
}

// splitTable separates an optional schema prefix from the table name.
func splitTable(table string) (schema, name string) {
	if i := strings.LastIndex(table, "."); i >= 0 {
		return table[:i], table[i+1:]
	}
	return "", table
}
