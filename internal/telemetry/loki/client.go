// Package loki pushes session events consumed from Kafka to Grafana Loki.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"taskboard-auth/backend/internal/telemetry"
)

const job = "taskboard-auth"

// PushRequest is the Loki push API request body (v1).
type PushRequest struct {
	Streams []Stream `json:"streams"`
}

// Stream is a single stream with labels and log entries.
type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"` // each entry is [timestamp_ns, log_line]
}

// labelSanitize replaces characters that are invalid in Loki label values we emit.
var labelSanitize = regexp.MustCompile(`[^a-zA-Z0-9_\-:.]`)

// Client pushes log lines to one Loki instance.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a Client for baseURL (e.g. http://localhost:3100). httpClient may be nil.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("loki: base URL is empty")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: baseURL, http: httpClient}, nil
}

// PushEventJSON parses a session event (Kafka message value), labels the stream with its
// type and source, and pushes the raw JSON line. Unparseable payloads are pushed with the
// current time and only the job label. User and session IDs stay in the line, not in labels,
// to keep stream cardinality low.
func (c *Client) PushEventJSON(ctx context.Context, rawJSON []byte) error {
	labels := map[string]string{}
	ts := time.Now().UTC()
	var ev telemetry.Event
	if err := json.Unmarshal(rawJSON, &ev); err == nil {
		if ev.Type != "" {
			labels["event_type"] = ev.Type
		}
		if ev.Source != "" {
			labels["source"] = ev.Source
		}
		if !ev.CreatedAt.IsZero() {
			ts = ev.CreatedAt
		}
	}
	return c.PushEvent(ctx, ts, string(rawJSON), labels)
}

// PushEvent sends a single log line. Returns an error if the request fails or Loki returns non-2xx.
func (c *Client) PushEvent(ctx context.Context, timestamp time.Time, line string, labels map[string]string) error {
	streamLabels := make(map[string]string, len(labels)+1)
	streamLabels["job"] = job
	for k, v := range labels {
		if sanitized := labelSanitize.ReplaceAllString(strings.TrimSpace(v), "_"); sanitized != "" {
			streamLabels[k] = sanitized
		}
	}
	payload, err := json.Marshal(PushRequest{Streams: []Stream{{
		Stream: streamLabels,
		Values: [][]string{{strconv.FormatInt(timestamp.UnixNano(), 10), line}},
	}}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/loki/api/v1/push", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("loki: push returned %s", resp.Status)
	}
	return nil
}
