package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pingtower/pingtower/internal/model"
)

// HTTPSink posts batches as newline-delimited JSON rows to a single URL.
// The format matches the ClickHouse HTTP interface with a
// `INSERT ... FORMAT JSONEachRow` query, but any endpoint accepting NDJSON
// works.
type HTTPSink struct {
	url    string
	client *http.Client
}

// NewHTTPSink creates a sink writing to url.
func NewHTTPSink(url string) *HTTPSink {
	return &HTTPSink{
		url: url,
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 3 * time.Second}).DialContext,
			},
		},
	}
}

// sinkRow is the flat analytics row; nil status codes become 0 there, the
// way the original columnar table stored them.
type sinkRow struct {
	TargetID   int64  `json:"target_id"`
	TS         string `json:"ts"`
	OK         uint8  `json:"ok"`
	StatusCode int    `json:"status_code"`
	LatencyMs  int64  `json:"latency_ms"`
	ErrorText  string `json:"error_text"`
}

func (s *HTTPSink) WriteBatch(ctx context.Context, batch []model.CheckResult) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, res := range batch {
		row := sinkRow{
			TargetID:  res.TargetID,
			TS:        res.TS.UTC().Format(time.RFC3339Nano),
			LatencyMs: res.LatencyMs,
			ErrorText: res.ErrorText,
		}
		if res.OK {
			row.OK = 1
		}
		if res.StatusCode != nil {
			row.StatusCode = *res.StatusCode
		}
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("sink: encode row: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, &buf)
	if err != nil {
		return fmt.Errorf("sink: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sink: post batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("sink: post batch: status %d", resp.StatusCode)
	}
	return nil
}
