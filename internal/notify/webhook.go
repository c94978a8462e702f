package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sheet-ingest/internal/config"
	"sheet-ingest/internal/logging"
	"sheet-ingest/internal/util"

	"github.com/vmihailenco/msgpack/v5"
)

var webhookClient = &http.Client{}

// WebhookSink POSTs a Summary of each run, encoded as JSON or msgpack.
// Any non-2xx response is an error.
type WebhookSink struct {
	url     string
	format  string
	timeout time.Duration
	headers map[string]string
}

// NewWebhookSink validates the sink configuration.
func NewWebhookSink(cfg config.SinkConfig) (*WebhookSink, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("WebhookSink requires a url")
	}
	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = config.DefaultWebhookFormat
	}
	if format != config.WebhookFormatJSON && format != config.WebhookFormatMsgpack {
		return nil, fmt.Errorf("WebhookSink: unsupported format '%s' (must be %s or %s)", cfg.Format, config.WebhookFormatJSON, config.WebhookFormatMsgpack)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultNotifyTimeout
	}
	return &WebhookSink{url: cfg.URL, format: format, timeout: timeout, headers: cfg.Headers}, nil
}

func (s *WebhookSink) encode(summary Summary) ([]byte, string, error) {
	if s.format == config.WebhookFormatMsgpack {
		b, err := msgpack.Marshal(summary)
		return b, "application/msgpack", err
	}
	b, err := json.Marshal(summary)
	return b, "application/json", err
}

func (s *WebhookSink) Send(ctx context.Context, ev Event) error {
	masked := util.MaskLocator(s.url)
	body, contentType, err := s.encode(NewSummary(ev))
	if err != nil {
		return fmt.Errorf("WebhookSink failed to encode summary as %s: %w", s.format, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("WebhookSink failed to build request for '%s': %w", masked, err)
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := webhookClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("WebhookSink POST to '%s' timed out after %v: %w", masked, s.timeout, err)
		}
		return fmt.Errorf("WebhookSink POST to '%s' failed: %w", masked, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("WebhookSink POST to '%s' returned HTTP %d: %s", masked, resp.StatusCode, util.Snippet(respBody))
	}
	logging.WithRun(ev.RunID).Logf(logging.Debug, "WebhookSink delivered %d-byte %s summary to '%s' (HTTP %d)", len(body), s.format, masked, resp.StatusCode)
	return nil
}
