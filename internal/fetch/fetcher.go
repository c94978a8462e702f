// Package fetch retrieves a tabular resource from a locator and turns it into
// a dataset.Dataset.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"sheet-ingest/internal/config"
	"sheet-ingest/internal/dataset"
	"sheet-ingest/internal/logging"
	"sheet-ingest/internal/util"
)

var (
	// ErrSourceUnavailable means the resource could not be retrieved: network
	// failure, HTTP status >= 400, missing file or timeout.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrMalformedSource means the resource was retrieved but is not a usable
	// table: bad encoding, bad header, ragged rows or an unreadable container.
	ErrMalformedSource = errors.New("malformed source")
)

// maxResourceBytes bounds how much of a resource is read into memory.
const maxResourceBytes = 512 << 20

// Fetcher retrieves the resource at locator and parses it into a Dataset.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) (*dataset.Dataset, error)
}

// tableParser extracts the header and string cells from raw resource bytes.
type tableParser interface {
	format() string
	parse(data []byte) (header []string, records [][]string, err error)
}

// ResourceFetcher implements Fetcher for http(s) URLs, file:// URLs and paths.
type ResourceFetcher struct {
	parser  tableParser
	infer   bool
	timeout time.Duration
	headers map[string]string
	client  *http.Client
}

// httpClient is shared by fetchers; per-request deadlines come from the context.
var httpClient = &http.Client{}

// NewFetcher builds a Fetcher for the configured source format.
func NewFetcher(cfg config.SourceConfig) (Fetcher, error) {
	var parser tableParser
	switch strings.ToLower(cfg.Type) {
	case config.SourceTypeCSV:
		p, err := newCSVParser(cfg.Delimiter, cfg.CommentChar)
		if err != nil {
			return nil, fmt.Errorf("failed to create CSV parser: %w", err)
		}
		parser = p
	case config.SourceTypeXLSX:
		parser = newXLSXParser(cfg.SheetName, cfg.SheetIndex)
	default:
		return nil, fmt.Errorf("unsupported source type '%s'", cfg.Type)
	}
	logging.Logf(logging.Debug, "Created %s fetcher (timeout %v)", parser.format(), cfg.Timeout)
	return &ResourceFetcher{
		parser:  parser,
		infer:   config.BoolValue(cfg.InferTypes, true),
		timeout: cfg.Timeout,
		headers: cfg.Headers,
		client:  httpClient,
	}, nil
}

// Fetch retrieves and parses the resource. Errors wrap ErrSourceUnavailable or
// ErrMalformedSource.
func (f *ResourceFetcher) Fetch(ctx context.Context, locator string) (*dataset.Dataset, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	masked := util.MaskLocator(locator)
	start := time.Now()

	data, err := f.open(ctx, locator)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: fetching '%s' timed out after %v: %v", ErrSourceUnavailable, masked, time.Since(start).Round(time.Millisecond), err)
		}
		return nil, err
	}
	logging.Logf(logging.Debug, "Fetched %d bytes from '%s' in %v", len(data), masked, time.Since(start).Round(time.Millisecond))

	header, records, err := f.parser.parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s resource '%s': %v", ErrMalformedSource, f.parser.format(), masked, err)
	}
	ds, err := dataset.New(header, records, f.infer)
	if err != nil {
		return nil, fmt.Errorf("%w: %s resource '%s': %v", ErrMalformedSource, f.parser.format(), masked, err)
	}
	logging.Logf(logging.Info, "Fetched %d rows x %d columns from '%s'", ds.Len(), len(ds.Columns), masked)
	return ds, nil
}

// open reads the whole resource into memory.
func (f *ResourceFetcher) open(ctx context.Context, locator string) ([]byte, error) {
	if u, err := url.Parse(locator); err == nil {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			return f.get(ctx, locator)
		case "file":
			path := u.Path
			if u.Host != "" && u.Host != "localhost" {
				path = "//" + u.Host + u.Path
			}
			return readFile(ctx, path)
		}
	}
	return readFile(ctx, locator)
}

func (f *ResourceFetcher) get(ctx context.Context, locator string) ([]byte, error) {
	masked := util.MaskLocator(locator)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid request for '%s': %v", ErrSourceUnavailable, masked, err)
	}
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request to '%s' failed: %w", ErrSourceUnavailable, masked, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResourceBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response from '%s' failed: %w", ErrSourceUnavailable, masked, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: '%s' returned HTTP %d: %s", ErrSourceUnavailable, masked, resp.StatusCode, util.Snippet(body))
	}
	if len(body) > maxResourceBytes {
		return nil, fmt.Errorf("%w: '%s' exceeds %d bytes", ErrMalformedSource, masked, maxResourceBytes)
	}
	// Private exports redirect to a sign-in page that answers 200.
	if isHTML(resp.Header.Get("Content-Type"), body) {
		return nil, fmt.Errorf("%w: '%s' returned an HTML page instead of a tabular resource (login or permission page?): %s",
			ErrSourceUnavailable, util.MaskLocator(resp.Request.URL.String()), util.Snippet(body))
	}
	return body, nil
}

// isHTML reports whether a response is a web page, by media type or by its
// first non-blank bytes.
func isHTML(contentType string, body []byte) bool {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if mediaType == "text/html" || mediaType == "application/xhtml+xml" {
			return true
		}
	}
	head := bytes.TrimLeft(bytes.TrimPrefix(body, []byte("\ufeff")), " \t\r\n")
	if len(head) > 64 {
		head = head[:64]
	}
	head = bytes.ToLower(head)
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}

func readFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: '%s' is a directory", ErrSourceUnavailable, path)
	}
	if info.Size() > maxResourceBytes {
		return nil, fmt.Errorf("%w: '%s' exceeds %d bytes", ErrMalformedSource, path, maxResourceBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return data, nil
}

// checkUTF8 reports the byte offset of the first invalid sequence.
func checkUTF8(data []byte) error {
	if utf8.Valid(data) {
		return nil
	}
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			return fmt.Errorf("content is not valid UTF-8 (first invalid byte at offset %d)", i)
		}
		i += size
	}
	return fmt.Errorf("content is not valid UTF-8")
}
