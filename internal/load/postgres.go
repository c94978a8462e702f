package load

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sheet-ingest/internal/dataset"
	"sheet-ingest/internal/logging"
	"sheet-ingest/internal/util"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxPoolNewFunc allows overriding pgxpool.New for testing.
var pgxPoolNewFunc = pgxpool.New

// pgPool is the subset of *pgxpool.Pool used by PostgresDestination.
type pgPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresDestination writes through a pgx connection pool. REPLACE runs
// TRUNCATE and COPY in one transaction; both modes take a transaction-scoped
// advisory lock on the table name so writers in other processes queue.
type PostgresDestination struct {
	pool   pgPool
	masked string
}

// NewPostgresDestination creates the pool and verifies connectivity.
func NewPostgresDestination(ctx context.Context, connStr string) (*PostgresDestination, error) {
	masked := util.MaskCredentials(connStr)
	pool, err := pgxPoolNewFunc(ctx, connStr)
	if err != nil {
		logging.Logf(logging.Error, "PostgresDestination failed to create connection pool: %s", masked)
		return nil, fmt.Errorf("%w: failed to create connection pool (using %s): %w", ErrDestinationUnavailable, masked, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: connection to %s timed out: %w", ErrDestinationUnavailable, masked, err)
		}
		return nil, fmt.Errorf("%w: failed to connect to %s: %w", ErrDestinationUnavailable, masked, err)
	}
	logging.Logf(logging.Debug, "PostgresDestination connected to %s", masked)
	return &PostgresDestination{pool: pool, masked: masked}, nil
}

func (p *PostgresDestination) Name() string { return "postgres:" + p.masked }

func (p *PostgresDestination) Close() error {
	p.pool.Close()
	return nil
}

func pgIdentifier(table string) pgx.Identifier {
	schema, name := splitTable(table)
	if schema == "" {
		return pgx.Identifier{name}
	}
	return pgx.Identifier{schema, name}
}

const pgColumnsQuery = `SELECT column_name::text, data_type::text,
       is_nullable = 'NO' AND column_default IS NULL AND is_identity = 'NO' AND is_generated = 'NEVER'
FROM information_schema.columns
WHERE table_schema = COALESCE($1::text, current_schema()) AND table_name = $2
ORDER BY ordinal_position`

// pgQuerier is satisfied by both the pool and a transaction.
type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

type pgColumn struct {
	Column
	dataType string
}

func (p *PostgresDestination) describe(ctx context.Context, q pgQuerier, table string) ([]pgColumn, error) {
	schema, name := splitTable(table)
	var schemaArg interface{}
	if schema != "" {
		schemaArg = schema
	}
	rows, err := q.Query(ctx, pgColumnsQuery, schemaArg, name)
	if err != nil {
		return nil, classifyPgError(ctx, err, "introspection", table)
	}
	defer rows.Close()
	var cols []pgColumn
	for rows.Next() {
		var c pgColumn
		if err := rows.Scan(&c.Name, &c.dataType, &c.Required); err != nil {
			return nil, fmt.Errorf("PostgresDestination failed to scan column metadata for '%s': %w", table, err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError(ctx, err, "introspection", table)
	}
	return cols, nil
}

func (p *PostgresDestination) Columns(ctx context.Context, table string) ([]Column, bool, error) {
	described, err := p.describe(ctx, p.pool, table)
	if err != nil {
		return nil, false, err
	}
	cols := make([]Column, len(described))
	for i, c := range described {
		cols[i] = c.Column
	}
	return cols, len(cols) > 0, nil
}

func pgType(t ColumnType) string {
	switch t {
	case TypeNumber:
		return "DOUBLE PRECISION"
	case TypeBool:
		return "BOOLEAN"
	case TypeTimestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

func (p *PostgresDestination) CreateTable(ctx context.Context, table string, cols []ColumnDef) error {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = pgx.Identifier{c.Name}.Sanitize() + " " + pgType(c.Type)
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", pgIdentifier(table).Sanitize(), strings.Join(parts, ", "))
	logging.Logf(logging.Debug, "PostgresDestination: %s", stmt)
	if _, err := p.pool.Exec(ctx, stmt); err != nil {
		return classifyPgError(ctx, err, "create table", table)
	}
	return nil
}

func (p *PostgresDestination) AddColumns(ctx context.Context, table string, cols []ColumnDef) error {
	return p.inTx(ctx, "add columns", table, func(tx pgx.Tx) error {
		for _, c := range cols {
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
				pgIdentifier(table).Sanitize(), pgx.Identifier{c.Name}.Sanitize(), pgType(c.Type))
			logging.Logf(logging.Debug, "PostgresDestination: %s", stmt)
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *PostgresDestination) Replace(ctx context.Context, req WriteRequest) (int64, error) {
	var written int64
	err := p.inTx(ctx, "replace", req.Table, func(tx pgx.Tx) error {
		if err := lockTable(ctx, tx, req.Table, req.NoWait); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+pgIdentifier(req.Table).Sanitize()); err != nil {
			return err
		}
		n, err := p.copyRows(ctx, tx, req)
		written = n
		return err
	})
	return written, err
}

func (p *PostgresDestination) Append(ctx context.Context, req WriteRequest) (int64, bool, error) {
	var written int64
	var skipped bool
	err := p.inTx(ctx, "append", req.Table, func(tx pgx.Tx) error {
		if err := lockTable(ctx, tx, req.Table, req.NoWait); err != nil {
			return err
		}
		if req.RunIDColumn != "" && req.RunID != "" {
			query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1)",
				pgIdentifier(req.Table).Sanitize(), pgx.Identifier{req.RunIDColumn}.Sanitize())
			if err := tx.QueryRow(ctx, query, req.RunID).Scan(&skipped); err != nil {
				return err
			}
			if skipped {
				return nil
			}
		}
		n, err := p.copyRows(ctx, tx, req)
		written = n
		return err
	})
	return written, skipped, err
}

// lockTable serializes writers to the same table across processes until the
// transaction ends. With noWait a held lock fails with ErrDestinationBusy.
func lockTable(ctx context.Context, tx pgx.Tx, table string, noWait bool) error {
	if !noWait {
		_, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", table)
		return err
	}
	var locked bool
	if err := tx.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock(hashtext($1))", table).Scan(&locked); err != nil {
		return err
	}
	if !locked {
		return fmt.Errorf("%w: another process is writing '%s'", ErrDestinationBusy, table)
	}
	return nil
}

func (p *PostgresDestination) copyRows(ctx context.Context, tx pgx.Tx, req WriteRequest) (int64, error) {
	if len(req.Rows) == 0 {
		return 0, nil
	}
	described, err := p.describe(ctx, tx, req.Table)
	if err != nil {
		return 0, err
	}
	types := make(map[string]string, len(described))
	for _, c := range described {
		types[c.Name] = c.dataType
	}
	rows := make([][]interface{}, len(req.Rows))
	for i, r := range req.Rows {
		out := make([]interface{}, len(r))
		for j, v := range r {
			out[j] = coerceForPg(types[req.Columns[j]], v)
		}
		rows[i] = out
	}

	copyCount, err := tx.CopyFrom(ctx, pgIdentifier(req.Table), req.Columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, err
	}
	if copyCount != int64(len(rows)) {
		logging.Logf(logging.Warning, "PostgresDestination (COPY): expected to copy %d rows to '%s', driver reported %d", len(rows), req.Table, copyCount)
	}
	return copyCount, nil
}

// coerceForPg converts a dataset scalar to what the column's data type expects
// when the conversion is lossless, e.g. numbers written into a text column.
// Anything else is passed through and rejected by the server or driver.
func coerceForPg(dataType string, v interface{}) interface{} {
	if v == nil {
		return nil
	}
	switch dataType {
	case "text", "character varying", "character":
		if _, ok := v.(string); !ok {
			return dataset.FormatValue(v)
		}
	case "double precision", "real", "numeric":
		if s, ok := v.(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f
			}
		}
	case "bigint", "integer", "smallint":
		switch val := v.(type) {
		case float64:
			if val == float64(int64(val)) {
				return int64(val)
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
				return n
			}
		}
	case "boolean":
		if s, ok := v.(string); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
				return b
			}
		}
	}
	return v
}

// inTx runs fn in a transaction and commits it; any error rolls back.
func (p *PostgresDestination) inTx(ctx context.Context, op, table string, fn func(pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return classifyPgError(ctx, err, op+" (begin)", table)
	}
	committed := false
	defer func() {
		if !committed {
			// The caller's context may already be done; roll back regardless.
			rbCtx, rbCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer rbCancel()
			if err := tx.Rollback(rbCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
				logging.Logf(logging.Error, "PostgresDestination (%s): failed to roll back transaction on '%s': %v", op, table, err)
			}
		}
	}()

	if err := fn(tx); err != nil {
		return classifyPgError(ctx, err, op, table)
	}
	if err := tx.Commit(ctx); err != nil {
		return classifyPgError(ctx, err, op+" (commit)", table)
	}
	committed = true
	return nil
}

// classifyPgError maps driver and server errors onto the load sentinels.
func classifyPgError(ctx context.Context, err error, op, table string) error {
	if errors.Is(err, ErrDestinationUnavailable) || errors.Is(err, ErrSchemaMismatch) || errors.Is(err, ErrDestinationBusy) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w: PostgresDestination (%s) on '%s' timed out: %w", ErrDestinationUnavailable, op, table, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		logging.Logf(logging.Error, "PostgresDestination (%s) failed for '%s'. PG Error Code: %s, Message: %s, Detail: %s", op, table, pgErr.Code, pgErr.Message, pgErr.Detail)
		switch pgErrorClass(pgErr.Code) {
		case "22", "23", "42":
			return fmt.Errorf("%w: PostgresDestination (%s) on '%s': %w", ErrSchemaMismatch, op, table, err)
		case "08", "53", "57":
			return fmt.Errorf("%w: PostgresDestination (%s) on '%s': %w", ErrDestinationUnavailable, op, table, err)
		}
		return fmt.Errorf("PostgresDestination (%s) failed for '%s': %w", op, table, err)
	}
	if pgconn.Timeout(err) {
		return fmt.Errorf("%w: PostgresDestination (%s) on '%s' timed out: %w", ErrDestinationUnavailable, op, table, err)
	}
	// Client-side encode failures surface before any PgError exists.
	if strings.Contains(err.Error(), "encode") {
		return fmt.Errorf("%w: PostgresDestination (%s) on '%s': %w", ErrSchemaMismatch, op, table, err)
	}
	logging.Logf(logging.Error, "PostgresDestination (%s) failed for '%s'. Error: %v", op, table, err)
	return fmt.Errorf("PostgresDestination (%s) failed for '%s': %w", op, table, err)
}

func pgErrorClass(code string) string {
	if len(code) < 2 {
		return ""
	}
	return code[:2]
}
