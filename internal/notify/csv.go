package notify

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"sheet-ingest/internal/logging"
)

// rejectedHeader is the fixed layout of the rejected-rows file. The row's own
// cells are kept as one JSON object so jobs with different columns can share
// a file.
var rejectedHeader = []string{"run_id", "job", "row_index", "rules", "messages", "values"}

var (
	fileLocksMu sync.Mutex
	fileLocks   = map[string]*sync.Mutex{}
)

// lockFor returns the process-wide mutex for path, so sinks of concurrent
// jobs appending to the same file do not interleave rows.
func lockFor(path string) *sync.Mutex {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	fileLocksMu.Lock()
	defer fileLocksMu.Unlock()
	mu, ok := fileLocks[abs]
	if !ok {
		mu = &sync.Mutex{}
		fileLocks[abs] = mu
	}
	return mu
}

// CSVSink appends every rejected row of a run to a CSV file together with
// the rules it failed and their messages. The header is written only when
// the file is new or empty.
type CSVSink struct {
	filePath string
}

// NewCSVSink checks that the directory for filePath exists or can be created.
// The file itself is opened per Send.
func NewCSVSink(filePath string) (*CSVSink, error) {
	if strings.TrimSpace(filePath) == "" {
		return nil, errors.New("CSVSink requires a file path")
	}
	dir := filepath.Dir(filePath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("CSVSink failed to create directory for '%s': %w", filePath, err)
		}
	}
	return &CSVSink{filePath: filePath}, nil
}

func (s *CSVSink) Send(_ context.Context, ev Event) error {
	if ev.Report == nil || len(ev.Report.Rejected) == 0 {
		return nil
	}
	mu := lockFor(s.filePath)
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(s.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("CSVSink failed to open '%s': %w", s.filePath, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		logging.Logf(logging.Debug, "CSVSink writing header to '%s'", s.filePath)
		if err := w.Write(rejectedHeader); err != nil {
			return fmt.Errorf("CSVSink failed to write header to '%s': %w", s.filePath, err)
		}
	}

	for _, rej := range ev.Report.Rejected {
		failures := ev.Report.FailuresFor(rej.Row)
		messages := make([]string, len(failures))
		for i, f := range failures {
			messages[i] = f.Rule + ": " + f.Message
		}
		values, err := json.Marshal(rej.Values)
		if err != nil {
			return fmt.Errorf("CSVSink failed to encode row %d: %w", rej.Row, err)
		}
		record := []string{
			ev.RunID,
			ev.Job,
			strconv.Itoa(rej.Row),
			strings.Join(rej.Rules, "; "),
			strings.Join(messages, "; "),
			string(values),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("CSVSink failed to write row %d to '%s': %w", rej.Row, s.filePath, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("CSVSink failed to flush '%s': %w", s.filePath, err)
	}
	logging.WithRun(ev.RunID).Logf(logging.Debug, "CSVSink appended %d rejected rows to '%s'", len(ev.Report.Rejected), s.filePath)
	return nil
}
