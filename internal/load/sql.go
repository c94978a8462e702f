package load

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"sheet-ingest/internal/logging"
	"sheet-ingest/internal/util"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	dialectSQLite = "sqlite"
	dialectMySQL  = "mysql"

	// Rows per multi-row INSERT are bounded by the dialect's parameter limit.
	maxRowsPerInsert = 500
	sqliteMaxParams  = 32000
	mysqlMaxParams   = 60000

	stagingSuffix = "__staging"
	oldSuffix     = "__old"

	// lockPrefix namespaces MySQL named locks; names are capped at 64 characters.
	lockPrefix = "sheet-ingest/"
)

// sqlOpenFunc allows overriding sql.Open for testing.
var sqlOpenFunc = sql.Open

// SQLDestination writes through database/sql for SQLite (modernc) and MySQL
// (go-sql-driver). SQLite replaces in one transaction; MySQL has no
// transactional DDL and swaps in a staging table with RENAME TABLE.
type SQLDestination struct {
	db      *sql.DB
	dialect string
	masked  string
	// key identifies the database independently of DSN spelling and credentials.
	key string
}

// NewSQLiteDestination opens a SQLite database file. A DSN without query
// parameters gets a busy timeout and WAL journaling.
func NewSQLiteDestination(ctx context.Context, dsn string) (*SQLDestination, error) {
	path := strings.TrimPrefix(dsn, "sqlite://")
	if !strings.Contains(path, "?") {
		path += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sqlOpenFunc("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite '%s': %w", ErrDestinationUnavailable, dsn, err)
	}
	// One writer connection; transactions then never contend for the file lock.
	db.SetMaxOpenConns(1)
	return finishOpen(ctx, db, dialectSQLite, dsn, sqliteKey(dsn))
}

// sqliteKey resolves the database file so that "warehouse.db",
// "./warehouse.db" and "sqlite://warehouse.db" name the same destination.
func sqliteKey(dsn string) string {
	path := strings.TrimPrefix(dsn, "sqlite://")
	path = strings.TrimPrefix(path, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return dsn
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// NewMySQLDestination opens a MySQL connection pool. Accepts the driver DSN
// format (user:pass@tcp(host:3306)/db) or a mysql:// URL.
func NewMySQLDestination(ctx context.Context, dsn string) (*SQLDestination, error) {
	cfg, err := mysql.ParseDSN(strings.TrimPrefix(dsn, "mysql://"))
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn '%s': %w", maskMySQLDSN(dsn), err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	if _, ok := cfg.Params["charset"]; !ok {
		cfg.Params["charset"] = "utf8mb4"
	}
	db, err := sqlOpenFunc("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("%w: open mysql %s: %w", ErrDestinationUnavailable, maskMySQLDSN(dsn), err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)
	return finishOpen(ctx, db, dialectMySQL, maskMySQLDSN(dsn), mysqlKey(cfg))
}

// mysqlKey names the server and database without user or options.
func mysqlKey(cfg *mysql.Config) string {
	return fmt.Sprintf("%s(%s)/%s", cfg.Net, cfg.Addr, cfg.DBName)
}

func finishOpen(ctx context.Context, db *sql.DB, dialect, display, key string) (*SQLDestination, error) {
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %s ping to %s timed out: %w", ErrDestinationUnavailable, dialect, display, err)
		}
		return nil, fmt.Errorf("%w: %s ping to %s failed: %w", ErrDestinationUnavailable, dialect, display, err)
	}
	logging.Logf(logging.Debug, "SQLDestination (%s) connected to %s", dialect, display)
	return &SQLDestination{db: db, dialect: dialect, masked: display, key: key}, nil
}

// maskMySQLDSN hides the password of a driver-format DSN.
func maskMySQLDSN(dsn string) string {
	trimmed := strings.TrimPrefix(dsn, "mysql://")
	cfg, err := mysql.ParseDSN(trimmed)
	if err != nil || cfg.Passwd == "" {
		return util.MaskCredentials(dsn)
	}
	cfg.Passwd = "********"
	return cfg.FormatDSN()
}

// Name returns the dialect and the normalized database identity.
func (d *SQLDestination) Name() string {
	if d.key == "" {
		return d.dialect + ":" + d.masked
	}
	return d.dialect + ":" + d.key
}

func (d *SQLDestination) Close() error { return d.db.Close() }

func (d *SQLDestination) quoteIdent(name string) string {
	if d.dialect == dialectMySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d *SQLDestination) quoteTable(table string) string {
	schema, name := splitTable(table)
	if schema == "" {
		return d.quoteIdent(name)
	}
	return d.quoteIdent(schema) + "." + d.quoteIdent(name)
}

func (d *SQLDestination) sqlType(t ColumnType) string {
	if d.dialect == dialectMySQL {
		switch t {
		case TypeNumber:
			return "DOUBLE"
		case TypeBool:
			return "BOOLEAN"
		case TypeTimestamp:
			return "DATETIME(6)"
		default:
			return "LONGTEXT"
		}
	}
	switch t {
	case TypeNumber:
		return "REAL"
	case TypeBool:
		return "INTEGER"
	default:
		// Timestamps are stored as RFC 3339 text, which sorts chronologically.
		return "TEXT"
	}
}

func (d *SQLDestination) Columns(ctx context.Context, table string) ([]Column, bool, error) {
	var query string
	var args []interface{}
	schema, name := splitTable(table)
	if d.dialect == dialectMySQL {
		query = `SELECT COLUMN_NAME,
       IS_NULLABLE = 'NO' AND COLUMN_DEFAULT IS NULL AND EXTRA NOT LIKE '%auto_increment%'
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = COALESCE(?, DATABASE()) AND TABLE_NAME = ?
ORDER BY ORDINAL_POSITION`
		var schemaArg interface{}
		if schema != "" {
			schemaArg = schema
		}
		args = []interface{}{schemaArg, name}
	} else {
		query = `SELECT name, "notnull" = 1 AND dflt_value IS NULL AND NOT (pk = 1 AND upper(type) = 'INTEGER')
FROM pragma_table_info(?)
ORDER BY cid`
		args = []interface{}{name}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, d.classify(ctx, err, "introspection", table)
	}
	defer rows.Close()
	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Required); err != nil {
			return nil, false, fmt.Errorf("SQLDestination (%s) failed to scan column metadata for '%s': %w", d.dialect, table, err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, false, d.classify(ctx, err, "introspection", table)
	}
	return cols, len(cols) > 0, nil
}

func (d *SQLDestination) createStatement(table string, cols []ColumnDef) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = d.quoteIdent(c.Name) + " " + d.sqlType(c.Type)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", d.quoteTable(table), strings.Join(parts, ", "))
}

func (d *SQLDestination) CreateTable(ctx context.Context, table string, cols []ColumnDef) error {
	stmt := d.createStatement(table, cols)
	logging.Logf(logging.Debug, "SQLDestination (%s): %s", d.dialect, stmt)
	if _, err := d.db.ExecContext(ctx, stmt); err != nil {
		return d.classify(ctx, err, "create table", table)
	}
	return nil
}

func (d *SQLDestination) AddColumns(ctx context.Context, table string, cols []ColumnDef) error {
	for _, c := range cols {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", d.quoteTable(table), d.quoteIdent(c.Name), d.sqlType(c.Type))
		logging.Logf(logging.Debug, "SQLDestination (%s): %s", d.dialect, stmt)
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return d.classify(ctx, err, "add columns", table)
		}
	}
	return nil
}

func (d *SQLDestination) Replace(ctx context.Context, req WriteRequest) (int64, error) {
	if d.dialect == dialectMySQL {
		var written int64
		err := d.withTableLock(ctx, req, func() error {
			n, err := d.replaceViaStaging(ctx, req)
			written = n
			return err
		})
		return written, err
	}
	var written int64
	err := d.inTx(ctx, "replace", req.Table, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+d.quoteTable(req.Table)); err != nil {
			return err
		}
		n, err := d.insertRows(ctx, tx, req.Table, req)
		written = n
		return err
	})
	return written, err
}

// replaceViaStaging loads a copy of the table and swaps it in with one atomic
// RENAME TABLE, so readers see either the old or the new contents.
// The caller holds the table's named lock, so the staging table is private.
func (d *SQLDestination) replaceViaStaging(ctx context.Context, req WriteRequest) (int64, error) {
	live := d.quoteTable(req.Table)
	staging := d.quoteTable(req.Table + stagingSuffix)
	old := d.quoteTable(req.Table + oldSuffix)

	// 1. Start from an empty copy of the live table's definition. Leftovers
	// from an interrupted run are dropped first.
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS " + staging,
		"DROP TABLE IF EXISTS " + old,
		fmt.Sprintf("CREATE TABLE %s LIKE %s", staging, live),
	} {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return 0, d.classify(ctx, err, "replace (staging)", req.Table)
		}
	}
	dropStaging := func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := d.db.ExecContext(cleanupCtx, "DROP TABLE IF EXISTS "+staging); err != nil {
			logging.Logf(logging.Warning, "SQLDestination (mysql): failed to drop staging table for '%s': %v", req.Table, err)
		}
	}

	// 2. Fill the staging table in one transaction.
	var written int64
	err := d.inTx(ctx, "replace (load staging)", req.Table, func(tx *sql.Tx) error {
		n, err := d.insertRows(ctx, tx, req.Table+stagingSuffix, req)
		written = n
		return err
	})
	if err != nil {
		dropStaging()
		return 0, err
	}

	// 3. Swap both names in one statement, then discard the previous contents.
	rename := fmt.Sprintf("RENAME TABLE %s TO %s, %s TO %s", live, old, staging, live)
	if _, err := d.db.ExecContext(ctx, rename); err != nil {
		dropStaging()
		return 0, d.classify(ctx, err, "replace (swap)", req.Table)
	}
	if _, err := d.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+old); err != nil {
		logging.Logf(logging.Warning, "SQLDestination (mysql): swap of '%s' succeeded but dropping the previous copy failed: %v", req.Table, err)
	}
	return written, nil
}

func (d *SQLDestination) Append(ctx context.Context, req WriteRequest) (int64, bool, error) {
	var written int64
	var skipped bool
	if d.dialect == dialectMySQL {
		// An append must not land in a table that a concurrent replace is about to rename away.
		err := d.withTableLock(ctx, req, func() error {
			n, s, err := d.appendRows(ctx, req)
			written, skipped = n, s
			return err
		})
		return written, skipped, err
	}
	return d.appendRows(ctx, req)
}

func (d *SQLDestination) appendRows(ctx context.Context, req WriteRequest) (int64, bool, error) {
	var written int64
	var skipped bool
	err := d.inTx(ctx, "append", req.Table, func(tx *sql.Tx) error {
		if req.RunIDColumn != "" && req.RunID != "" {
			query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = ?)", d.quoteTable(req.Table), d.quoteIdent(req.RunIDColumn))
			var found int
			if err := tx.QueryRowContext(ctx, query, req.RunID).Scan(&found); err != nil {
				return err
			}
			if found != 0 {
				skipped = true
				return nil
			}
		}
		n, err := d.insertRows(ctx, tx, req.Table, req)
		written = n
		return err
	})
	return written, skipped, err
}

// insertRows writes req.Rows into table with multi-row INSERT statements.
func (d *SQLDestination) insertRows(ctx context.Context, tx *sql.Tx, table string, req WriteRequest) (int64, error) {
	if len(req.Rows) == 0 || len(req.Columns) == 0 {
		return 0, nil
	}
	maxParams := sqliteMaxParams
	if d.dialect == dialectMySQL {
		maxParams = mysqlMaxParams
	}
	batch := maxParams / len(req.Columns)
	if batch > maxRowsPerInsert {
		batch = maxRowsPerInsert
	}
	if batch < 1 {
		return 0, fmt.Errorf("%w: %d columns exceed the %s parameter limit", ErrSchemaMismatch, len(req.Columns), d.dialect)
	}

	quoted := make([]string, len(req.Columns))
	for i, c := range req.Columns {
		quoted[i] = d.quoteIdent(c)
	}
	rowPlaceholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(req.Columns)), ", ") + ")"
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", d.quoteTable(table), strings.Join(quoted, ", "))

	var written int64
	for start := 0; start < len(req.Rows); start += batch {
		end := start + batch
		if end > len(req.Rows) {
			end = len(req.Rows)
		}
		chunk := req.Rows[start:end]
		placeholders := make([]string, len(chunk))
		args := make([]interface{}, 0, len(chunk)*len(req.Columns))
		for i, row := range chunk {
			placeholders[i] = rowPlaceholder
			for _, v := range row {
				args = append(args, d.bindValue(v))
			}
		}
		res, err := tx.ExecContext(ctx, prefix+strings.Join(placeholders, ", "), args...)
		if err != nil {
			return written, fmt.Errorf("insert of rows %d-%d failed: %w", start, end-1, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			written += n
		} else {
			written += int64(len(chunk))
		}
	}
	return written, nil
}

// withTableLock runs fn while holding a MySQL named lock on req.Table. The lock
// belongs to a dedicated connection, so it serializes writers in every process
// that uses the same server. With req.NoWait a held lock fails immediately
// with ErrDestinationBusy; otherwise the wait is bounded by ctx.
func (d *SQLDestination) withTableLock(ctx context.Context, req WriteRequest, fn func() error) error {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return d.classify(ctx, err, "lock (connect)", req.Table)
	}
	defer conn.Close()

	schema, name := splitTable(req.Table)
	var schemaArg interface{}
	if schema != "" {
		schemaArg = schema
	}
	var got sql.NullInt64
	err = conn.QueryRowContext(ctx,
		"SELECT GET_LOCK(LEFT(CONCAT(?, COALESCE(?, DATABASE()), '.', ?), 64), ?)",
		lockPrefix, schemaArg, name, mysqlLockTimeout(ctx, req.NoWait)).Scan(&got)
	if err != nil {
		return d.classify(ctx, err, "lock", req.Table)
	}
	if err := lockOutcome(got, req.Table, req.NoWait); err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.ExecContext(releaseCtx,
			"DO RELEASE_LOCK(LEFT(CONCAT(?, COALESCE(?, DATABASE()), '.', ?), 64))",
			lockPrefix, schemaArg, name); err != nil {
			logging.Logf(logging.Warning, "SQLDestination (mysql): failed to release lock on '%s': %v", req.Table, err)
		}
	}()
	return fn()
}

// mysqlLockTimeout converts the wait policy into GET_LOCK seconds: 0 for
// noWait, the remaining ctx deadline rounded up, or -1 (forever) without one.
func mysqlLockTimeout(ctx context.Context, noWait bool) int {
	if noWait {
		return 0
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return -1
	}
	secs := int(math.Ceil(time.Until(deadline).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// lockOutcome interprets GET_LOCK: 1 acquired, 0 timed out, NULL failed.
func lockOutcome(got sql.NullInt64, table string, noWait bool) error {
	switch {
	case got.Valid && got.Int64 == 1:
		return nil
	case got.Valid && noWait:
		return fmt.Errorf("%w: another process is writing '%s'", ErrDestinationBusy, table)
	case got.Valid:
		return fmt.Errorf("%w: timed out waiting for another process writing '%s'", ErrDestinationUnavailable, table)
	default:
		return fmt.Errorf("%w: mysql could not take the write lock on '%s'", ErrDestinationUnavailable, table)
	}
}

// bindValue adapts dataset scalars to the driver.
func (d *SQLDestination) bindValue(v interface{}) interface{} {
	t, ok := v.(time.Time)
	if !ok {
		return v
	}
	if d.dialect == dialectSQLite {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return t.UTC()
}

func (d *SQLDestination) inTx(ctx context.Context, op, table string, fn func(*sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return d.classify(ctx, err, op+" (begin)", table)
	}
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				logging.Logf(logging.Error, "SQLDestination (%s/%s): failed to roll back transaction on '%s': %v", d.dialect, op, table, err)
			}
		}
	}()
	if err := fn(tx); err != nil {
		return d.classify(ctx, err, op, table)
	}
	if err := tx.Commit(); err != nil {
		return d.classify(ctx, err, op+" (commit)", table)
	}
	committed = true
	return nil
}

// mysqlSchemaErrors are server error numbers caused by rows that do not fit the table.
var mysqlSchemaErrors = map[uint16]bool{
	1048: true, // column cannot be null
	1054: true, // unknown column
	1146: true, // table doesn't exist
	1264: true, // out of range value
	1292: true, // truncated incorrect value
	1364: true, // field doesn't have a default value
	1366: true, // incorrect value for column
	1406: true, // data too long
}

// classify maps driver errors onto the load sentinels.
func (d *SQLDestination) classify(ctx context.Context, err error, op, table string) error {
	if errors.Is(err, ErrDestinationUnavailable) || errors.Is(err, ErrSchemaMismatch) || errors.Is(err, ErrDestinationBusy) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w: %s (%s) on '%s' timed out: %w", ErrDestinationUnavailable, d.dialect, op, table, err)
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return fmt.Errorf("%w: %s (%s) on '%s': %w", ErrDestinationUnavailable, d.dialect, op, table, err)
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		logging.Logf(logging.Error, "SQLDestination (mysql/%s) failed for '%s'. Error %d: %s", op, table, myErr.Number, myErr.Message)
		if mysqlSchemaErrors[myErr.Number] {
			return fmt.Errorf("%w: mysql (%s) on '%s': %w", ErrSchemaMismatch, op, table, err)
		}
		return fmt.Errorf("mysql (%s) failed for '%s': %w", op, table, err)
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		logging.Logf(logging.Error, "SQLDestination (sqlite/%s) failed for '%s'. Code %d: %v", op, table, liteErr.Code(), err)
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_MISMATCH, sqlite3.SQLITE_TOOBIG:
			return fmt.Errorf("%w: sqlite (%s) on '%s': %w", ErrSchemaMismatch, op, table, err)
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_READONLY, sqlite3.SQLITE_IOERR:
			return fmt.Errorf("%w: sqlite (%s) on '%s': %w", ErrDestinationUnavailable, op, table, err)
		}
		return fmt.Errorf("sqlite (%s) failed for '%s': %w", op, table, err)
	}

	logging.Logf(logging.Error, "SQLDestination (%s/%s) failed for '%s'. Error: %v", d.dialect, op, table, err)
	return fmt.Errorf("%s (%s) failed for '%s': %w", d.dialect, op, table, err)
}
