// Package load writes validated rows into a warehouse table with REPLACE or
// APPEND_SNAPSHOT semantics.
package load

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sheet-ingest/internal/config"
	"sheet-ingest/internal/dataset"
	"sheet-ingest/internal/logging"
)

var (
	// ErrDestinationUnavailable covers connect and ping failures and timeouts.
	ErrDestinationUnavailable = errors.New("destination unavailable")
	// ErrSchemaMismatch means the rows do not fit the destination table.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrDestinationBusy means another run holds the table and onConflict is reject.
	ErrDestinationBusy = errors.New("destination busy")
)

// Mode selects how accepted rows are written.
type Mode string

const (
	// Replace swaps the table contents for the accepted rows.
	Replace Mode = config.ModeReplace
	// AppendSnapshot adds the accepted rows tagged with a capture timestamp.
	AppendSnapshot Mode = config.ModeAppendSnapshot
)

// ParseMode converts a configured mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case Replace, AppendSnapshot:
		return m, nil
	default:
		return "", fmt.Errorf("unknown write mode '%s', must be '%s' or '%s'", s, Replace, AppendSnapshot)
	}
}

// Target is a destination table together with its load settings.
type Target struct {
	Destination     Destination
	Table           string
	CreateIfMissing bool
	// SnapshotColumn receives capturedAt in AppendSnapshot mode.
	SnapshotColumn string
	// RunIDColumn receives the run id in AppendSnapshot mode. Empty disables it.
	RunIDColumn string
	// OnConflict is config.ConflictWait or config.ConflictReject.
	OnConflict string
}

// Result describes a completed load.
type Result struct {
	Table       string    `json:"table" msgpack:"table"`
	Mode        Mode      `json:"mode" msgpack:"mode"`
	RowsWritten int64     `json:"rowsWritten" msgpack:"rowsWritten"`
	CapturedAt  time.Time `json:"capturedAt,omitempty" msgpack:"capturedAt,omitempty"`
	RunID       string    `json:"runID,omitempty" msgpack:"runID,omitempty"`
	Created     bool      `json:"created,omitempty" msgpack:"created,omitempty"`
	Widened     []string  `json:"widened,omitempty" msgpack:"widened,omitempty"`
	Skipped     bool      `json:"skipped,omitempty" msgpack:"skipped,omitempty"`
}

// guard is shared by every Load call in the process.
var guard = newTableGuard()

// Load writes the accepted rows to target using mode. capturedAt and runID
// tag AppendSnapshot rows; runID is also the idempotency key. Schema changes
// are limited to creating a missing table and, in AppendSnapshot mode, adding
// nullable columns.
func Load(ctx context.Context, accepted *dataset.Dataset, target Target, mode Mode, capturedAt time.Time, runID string) (*Result, error) {
	if target.Destination == nil {
		return nil, fmt.Errorf("load target has no destination")
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	if accepted == nil {
		accepted = &dataset.Dataset{}
	}
	log := logging.WithRun(runID)
	table := target.Table
	res := &Result{Table: table, Mode: mode, RunID: runID}
	capturedAt = capturedAt.UTC()

	// Work out the written columns before taking the table.
	defs, err := planColumns(accepted, target, mode, runID)
	if err != nil {
		return nil, err
	}
	columns := make([]string, len(defs))
	for i, d := range defs {
		columns[i] = d.Name
	}

	// Serialize writers to the same table within this process.
	dest := target.Destination
	key := dest.Name() + "/" + table
	wait := target.OnConflict != config.ConflictReject
	release, err := guard.acquire(ctx, key, wait)
	if err != nil {
		return nil, err
	}
	defer release()

	// Create the table, or check the existing schema against the rows.
	existing, exists, err := dest.Columns(ctx, table)
	if err != nil {
		return nil, wrapLoadErr(ctx, err, "failed to inspect table '%s'", table)
	}

	if !exists {
		if !target.CreateIfMissing {
			return nil, fmt.Errorf("%w: table '%s' does not exist and createIfMissing is disabled", ErrSchemaMismatch, table)
		}
		if err := dest.CreateTable(ctx, table, defs); err != nil {
			return nil, wrapLoadErr(ctx, err, "failed to create table '%s'", table)
		}
		res.Created = true
		log.Logf(logging.Info, "Created table '%s' with columns %v", table, columns)
	} else {
		missing := missingColumns(existing, defs)
		if len(missing) > 0 {
			names := defNames(missing)
			if mode == Replace {
				return nil, fmt.Errorf("%w: table '%s' has no columns %v; replace never alters the schema", ErrSchemaMismatch, table, names)
			}
			if err := dest.AddColumns(ctx, table, missing); err != nil {
				return nil, wrapLoadErr(ctx, err, "failed to add columns %v to '%s'", names, table)
			}
			res.Widened = names
			log.Logf(logging.Info, "Widened table '%s' with nullable columns %v", table, names)
		}
		if required := unsuppliedRequired(existing, columns); len(required) > 0 {
			return nil, fmt.Errorf("%w: table '%s' requires NOT NULL columns %v that the rows do not supply", ErrSchemaMismatch, table, required)
		}
	}

	// Rows go out in column order, with the snapshot tags appended last.
	req := WriteRequest{Table: table, Columns: columns, Rows: make([][]interface{}, 0, accepted.Len()), NoWait: !wait}
	for _, row := range accepted.Rows {
		values := row.Values(accepted.Columns)
		if mode == AppendSnapshot {
			values = append(values, capturedAt)
			if target.RunIDColumn != "" {
				values = append(values, runIDValue(runID))
			}
		}
		req.Rows = append(req.Rows, values)
	}

	// Write in one unit. Both destinations also lock the table across processes.
	start := time.Now()
	switch mode {
	case Replace:
		n, err := dest.Replace(ctx, req)
		if err != nil {
			return nil, wrapLoadErr(ctx, err, "replace into '%s' failed", table)
		}
		res.RowsWritten = n
	case AppendSnapshot:
		res.CapturedAt = capturedAt
		if target.RunIDColumn != "" && runID != "" {
			req.RunIDColumn, req.RunID = target.RunIDColumn, runID
		}
		n, skipped, err := dest.Append(ctx, req)
		if err != nil {
			return nil, wrapLoadErr(ctx, err, "append into '%s' failed", table)
		}
		res.RowsWritten, res.Skipped = n, skipped
	}

	if res.Skipped {
		log.Logf(logging.Warning, "Table '%s' already holds rows for this run; nothing written", table)
	} else {
		log.Logf(logging.Info, "Wrote %d rows to '%s' (%s) in %v", res.RowsWritten, table, mode, time.Since(start).Round(time.Millisecond))
	}
	return res, nil
}

// planColumns returns the written columns in order: the dataset header, then
// the snapshot and run id columns in AppendSnapshot mode.
func planColumns(ds *dataset.Dataset, target Target, mode Mode, runID string) ([]ColumnDef, error) {
	if len(ds.Columns) == 0 {
		return nil, fmt.Errorf("%w: dataset has no columns", ErrSchemaMismatch)
	}
	kinds := ds.ColumnKinds()
	defs := make([]ColumnDef, 0, len(ds.Columns)+2)
	for _, c := range ds.Columns {
		defs = append(defs, ColumnDef{Name: c, Type: columnTypeForKind(kinds[c])})
	}
	if mode != AppendSnapshot {
		return defs, nil
	}

	snapshot := target.SnapshotColumn
	if snapshot == "" {
		snapshot = config.DefaultSnapshotColumn
	}
	for _, extra := range []string{snapshot, target.RunIDColumn} {
		if extra != "" && ds.HasColumn(extra) {
			return nil, fmt.Errorf("%w: source column '%s' collides with the snapshot metadata column", ErrSchemaMismatch, extra)
		}
	}
	if snapshot == target.RunIDColumn {
		return nil, fmt.Errorf("%w: snapshot column and run id column are both '%s'", ErrSchemaMismatch, snapshot)
	}
	defs = append(defs, ColumnDef{Name: snapshot, Type: TypeTimestamp})
	if target.RunIDColumn != "" {
		defs = append(defs, ColumnDef{Name: target.RunIDColumn, Type: TypeText})
	}
	return defs, nil
}

func missingColumns(existing []Column, defs []ColumnDef) []ColumnDef {
	have := make(map[string]bool, len(existing))
	for _, c := range existing {
		have[c.Name] = true
	}
	var missing []ColumnDef
	for _, d := range defs {
		if !have[d.Name] {
			missing = append(missing, d)
		}
	}
	return missing
}

func unsuppliedRequired(existing []Column, columns []string) []string {
	supplied := make(map[string]bool, len(columns))
	for _, c := range columns {
		supplied[c] = true
	}
	var out []string
	for _, c := range existing {
		if c.Required && !supplied[c.Name] {
			out = append(out, c.Name)
		}
	}
	return out
}

func defNames(defs []ColumnDef) []string {
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

func runIDValue(runID string) interface{} {
	if runID == "" {
		return nil
	}
	return runID
}

// wrapLoadErr adds context to a destination error and maps timeouts and
// cancellation to ErrDestinationUnavailable.
func wrapLoadErr(ctx context.Context, err error, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, ErrDestinationUnavailable) || errors.Is(err, ErrSchemaMismatch) || errors.Is(err, ErrDestinationBusy) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return fmt.Errorf("%w: %s: timed out or cancelled: %w", ErrDestinationUnavailable, msg, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
