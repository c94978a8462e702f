package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"sheet-ingest/internal/config"
	"sheet-ingest/internal/dataset"

	"github.com/xuri/excelize/v2"
)

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

func mustFetcher(t *testing.T, cfg config.SourceConfig) Fetcher {
	t.Helper()
	f, err := NewFetcher(cfg)
	if err != nil {
		t.Fatalf("NewFetcher(%+v) error: %v", cfg, err)
	}
	return f
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

func TestFetch_CSVOverHTTP(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte("name,age,active\nAlice,30,true\nBob,,false\n"))
	}))
	defer server.Close()

	f := mustFetcher(t, config.SourceConfig{
		Type:       config.SourceTypeCSV,
		InferTypes: boolPtr(true),
		Timeout:    5 * time.Second,
		Headers:    map[string]string{"Authorization": "Bearer abc"},
	})
	ds, err := f.Fetch(context.Background(), server.URL+"/export?format=csv")
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if gotAuth != "Bearer abc" {
		t.Errorf("Authorization header = %q, want configured value", gotAuth)
	}
	want := &dataset.Dataset{
		Columns: []string{"name", "age", "active"},
		Rows: []dataset.Row{
			{"name": "Alice", "age": 30.0, "active": true},
			{"name": "Bob", "age": nil, "active": false},
		},
	}
	if !reflect.DeepEqual(ds, want) {
		t.Errorf("Fetch() = %+v, want %+v", ds, want)
	}
}

func TestFetch_CSVOptions(t *testing.T) {
	testCases := []struct {
		name    string
		cfg     config.SourceConfig
		content string
		want    *dataset.Dataset
	}{
		{
			name:    "semicolon and comments",
			cfg:     config.SourceConfig{Type: "csv", Delimiter: ";", CommentChar: "#"},
			content: "# exported 2024\nid;label\n1;\"a;b\"\n# trailing note\n",
			want: &dataset.Dataset{
				Columns: []string{"id", "label"},
				Rows:    []dataset.Row{{"id": 1.0, "label": "a;b"}},
			},
		},
		{
			name:    "no inference keeps strings",
			cfg:     config.SourceConfig{Type: "csv", InferTypes: boolPtr(false)},
			content: "zip,flag\n01234,true\n",
			want: &dataset.Dataset{
				Columns: []string{"zip", "flag"},
				Rows:    []dataset.Row{{"zip": "01234", "flag": "true"}},
			},
		},
		{
			name:    "header only",
			cfg:     config.SourceConfig{Type: "csv"},
			content: "a,b\n",
			want:    &dataset.Dataset{Columns: []string{"a", "b"}, Rows: []dataset.Row{}},
		},
		{
			name:    "byte order mark",
			cfg:     config.SourceConfig{Type: "csv"},
			content: "\ufeffid\nx\n",
			want:    &dataset.Dataset{Columns: []string{"id"}, Rows: []dataset.Row{{"id": "x"}}},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, "data.csv", tc.content)
			ds, err := mustFetcher(t, tc.cfg).Fetch(context.Background(), path)
			if err != nil {
				t.Fatalf("Fetch() error: %v", err)
			}
			if !reflect.DeepEqual(ds, tc.want) {
				t.Errorf("Fetch() = %+v, want %+v", ds, tc.want)
			}
		})
	}
}

func TestFetch_FileURL(t *testing.T) {
	path := writeFile(t, "data.csv", "k\nv\n")
	ds, err := mustFetcher(t, config.SourceConfig{Type: "csv"}).Fetch(context.Background(), "file://"+filepath.ToSlash(path))
	if err != nil {
		t.Fatalf("Fetch(file://) error: %v", err)
	}
	if ds.Len() != 1 || ds.Rows[0]["k"] != "v" {
		t.Errorf("Fetch(file://) = %+v", ds)
	}
}

func TestFetch_SourceUnavailable(t *testing.T) {
	notFound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "sign in required", http.StatusUnauthorized)
	}))
	defer notFound.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	closed := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	closedURL := closed.URL
	closed.Close()

	// A private export redirects to a sign-in page that answers 200.
	signIn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/export":
			http.Redirect(w, r, "/login?continue=export", http.StatusFound)
		case "/login":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte("<!DOCTYPE html><html><body>Sign in</body></html>"))
		case "/untyped":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("\n  <HTML><body>Sign in to continue</body></HTML>"))
		}
	}))
	defer signIn.Close()

	testCases := []struct {
		name       string
		sourceType string
		timeout    time.Duration
		locator    string
		wantMsg    string
	}{
		{name: "http 401", locator: notFound.URL, wantMsg: "HTTP 401"},
		{name: "timeout", timeout: 50 * time.Millisecond, locator: slow.URL, wantMsg: "timed out"},
		{name: "connection refused", locator: closedURL, wantMsg: "request to"},
		{name: "missing file", locator: filepath.Join(t.TempDir(), "absent.csv"), wantMsg: "absent.csv"},
		{name: "directory", locator: t.TempDir(), wantMsg: "is a directory"},
		{name: "redirect to sign-in page", locator: signIn.URL + "/export", wantMsg: "returned an HTML page"},
		{name: "html body with text content type", locator: signIn.URL + "/untyped", wantMsg: "returned an HTML page"},
		{name: "sign-in page for xlsx", sourceType: "xlsx", locator: signIn.URL + "/export", wantMsg: "/login"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sourceType := tc.sourceType
			if sourceType == "" {
				sourceType = "csv"
			}
			f := mustFetcher(t, config.SourceConfig{Type: sourceType, Timeout: tc.timeout})
			_, err := f.Fetch(context.Background(), tc.locator)
			if !errors.Is(err, ErrSourceUnavailable) {
				t.Fatalf("Fetch() error = %v, want ErrSourceUnavailable", err)
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("Fetch() error = %q, want it to contain %q", err.Error(), tc.wantMsg)
			}
		})
	}
}

func TestFetch_MalformedCSV(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		wantMsg string
	}{
		{name: "ragged long row", content: "a,b\n1,2\n3,4,5\n", wantMsg: "row 3 has 3 fields"},
		{name: "ragged short row", content: "a,b\n1\n", wantMsg: "row 2 has 1 fields"},
		{name: "empty resource", content: "", wantMsg: "header row is required"},
		{name: "duplicate header", content: "a,a\n1,2\n", wantMsg: "duplicate column name"},
		{name: "empty header name", content: "a,,c\n1,2,3\n", wantMsg: "empty column name"},
		{name: "bad quoting", content: "a,b\n\"unterminated,2\n", wantMsg: "parse error"},
		{name: "latin-1 bytes", content: "name\ncaf\xe9\n", wantMsg: "not valid UTF-8"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, "bad.csv", tc.content)
			_, err := mustFetcher(t, config.SourceConfig{Type: "csv"}).Fetch(context.Background(), path)
			if !errors.Is(err, ErrMalformedSource) {
				t.Fatalf("Fetch() error = %v, want ErrMalformedSource", err)
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("Fetch() error = %q, want it to contain %q", err.Error(), tc.wantMsg)
			}
		})
	}
}

// writeWorkbook saves a workbook whose sheets hold the given cell rows.
func writeWorkbook(t *testing.T, sheets map[string][][]interface{}, order []string) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, name := range order {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				t.Fatalf("SetSheetName: %v", err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			t.Fatalf("NewSheet(%s): %v", name, err)
		}
		for r, row := range sheets[name] {
			cell, _ := excelize.CoordinatesToCellName(1, r+1)
			rowCopy := row
			if err := f.SetSheetRow(name, cell, &rowCopy); err != nil {
				t.Fatalf("SetSheetRow: %v", err)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "book.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	return path
}

func TestFetch_XLSX(t *testing.T) {
	path := writeWorkbook(t, map[string][][]interface{}{
		"Summary": {{"note"}, {"ignore me"}},
		"People": {
			{"name", "age", "city"},
			{"Alice", 30, "Oslo"},
			{"Bob", 41},
		},
	}, []string{"Summary", "People"})

	wantPeople := &dataset.Dataset{
		Columns: []string{"name", "age", "city"},
		Rows: []dataset.Row{
			{"name": "Alice", "age": 30.0, "city": "Oslo"},
			{"name": "Bob", "age": 41.0, "city": nil},
		},
	}
	testCases := []struct {
		name string
		cfg  config.SourceConfig
		want *dataset.Dataset
	}{
		{name: "by name", cfg: config.SourceConfig{Type: "xlsx", SheetName: "People"}, want: wantPeople},
		{name: "by index", cfg: config.SourceConfig{Type: "xlsx", SheetIndex: intPtr(1)}, want: wantPeople},
		{name: "name wins over index", cfg: config.SourceConfig{Type: "xlsx", SheetName: "People", SheetIndex: intPtr(0)}, want: wantPeople},
		{
			name: "first sheet by default",
			cfg:  config.SourceConfig{Type: "xlsx"},
			want: &dataset.Dataset{Columns: []string{"note"}, Rows: []dataset.Row{{"note": "ignore me"}}},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ds, err := mustFetcher(t, tc.cfg).Fetch(context.Background(), path)
			if err != nil {
				t.Fatalf("Fetch() error: %v", err)
			}
			if !reflect.DeepEqual(ds, tc.want) {
				t.Errorf("Fetch() = %+v, want %+v", ds, tc.want)
			}
		})
	}
}

func TestFetch_MalformedXLSX(t *testing.T) {
	ragged := writeWorkbook(t, map[string][][]interface{}{
		"Data": {{"a", "b"}, {1, 2, 3}},
	}, []string{"Data"})
	corrupt := writeFile(t, "corrupt.xlsx", "this is not a zip archive")

	testCases := []struct {
		name    string
		cfg     config.SourceConfig
		locator string
		wantMsg string
	}{
		{name: "row wider than header", cfg: config.SourceConfig{Type: "xlsx"}, locator: ragged, wantMsg: "has 3 cells, header has 2"},
		{name: "missing sheet", cfg: config.SourceConfig{Type: "xlsx", SheetName: "Nope"}, locator: ragged, wantMsg: "sheet 'Nope' not found"},
		{name: "index out of range", cfg: config.SourceConfig{Type: "xlsx", SheetIndex: intPtr(4)}, locator: ragged, wantMsg: "out of bounds"},
		{name: "corrupt container", cfg: config.SourceConfig{Type: "xlsx"}, locator: corrupt, wantMsg: "failed to open workbook"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := mustFetcher(t, tc.cfg).Fetch(context.Background(), tc.locator)
			if !errors.Is(err, ErrMalformedSource) {
				t.Fatalf("Fetch() error = %v, want ErrMalformedSource", err)
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("Fetch() error = %q, want it to contain %q", err.Error(), tc.wantMsg)
			}
		})
	}
}

func TestNewFetcher_Errors(t *testing.T) {
	testCases := []struct {
		name string
		cfg  config.SourceConfig
	}{
		{name: "unknown type", cfg: config.SourceConfig{Type: "parquet"}},
		{name: "multi-char delimiter", cfg: config.SourceConfig{Type: "csv", Delimiter: "||"}},
		{name: "multi-char comment", cfg: config.SourceConfig{Type: "csv", CommentChar: "//"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewFetcher(tc.cfg); err == nil {
				t.Errorf("NewFetcher(%+v) expected an error", tc.cfg)
			}
		})
	}
}

func TestIsHTML(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        bool
	}{
		{"html media type", "text/html; charset=utf-8", "name,age\n", true},
		{"xhtml media type", "application/xhtml+xml", "", true},
		{"doctype sniffed", "application/octet-stream", "\ufeff <!doctype HTML>\n<html>", true},
		{"html tag sniffed", "", "<html lang=\"en\">", true},
		{"csv", "text/csv", "name,age\nAlice,30\n", false},
		{"csv mentioning html", "text/csv", "tag\n<html>\n", false},
		{"bad media type falls back to body", ";;", "a,b\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isHTML(tt.contentType, []byte(tt.body)); got != tt.want {
				t.Errorf("isHTML(%q, %q) = %v, want %v", tt.contentType, tt.body, got, tt.want)
			}
		})
	}
}
