package sis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"sis-grade-sync/internal/config"
	"sis-grade-sync/internal/logger"
	"sis-grade-sync/pkg/errors"

	"github.com/rs/zerolog"
)

const (
	contentTypeJSON = "application/json"
	contentTypeXML  = "application/xml"
)

// Client talks to the SIS REST web services. It holds no session state;
// callers pass the token obtained from Authenticate (usually via a Session).
type Client struct {
	baseURL     string
	httpClient  *http.Client
	pageSize    int
	searchLevel string
	debug       DebugSink
	log         zerolog.Logger
}

// NewClient builds a client. sink may be nil, in which case nothing is captured.
func NewClient(cfg config.SISConfig, sink DebugSink) *Client {
	pageSize := cfg.SearchPageSize
	if pageSize <= 0 {
		pageSize = 250
	}
	level := cfg.SearchLevel
	if level == "" {
		level = "Short"
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		pageSize:    pageSize,
		searchLevel: level,
		debug:       sink,
		log:         logger.Component("sis"),
	}
}

type param struct {
	key, value string
}

// request describes one SIS call. Query parameters keep their order on the wire.
type request struct {
	method      string
	path        string
	query       []param
	body        []byte
	contentType string
	token       string
	capture     string
}

type response struct {
	status int
	body   []byte
}

func (r request) url(base string) string {
	if len(r.query) == 0 {
		return base + r.path
	}
	parts := make([]string, 0, len(r.query))
	for _, p := range r.query {
		parts = append(parts, url.QueryEscape(p.key)+"="+url.QueryEscape(p.value))
	}
	return base + r.path + "?" + strings.Join(parts, "&")
}

// execute performs the round trip. Transport failures and 5xx answers without a
// readable body are retryable; 401/403 on an authenticated call map to ErrUnauthorized.
func (c *Client) execute(ctx context.Context, r request) (*response, error) {
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url(c.baseURL), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	contentType := r.contentType
	if contentType == "" {
		contentType = contentTypeJSON
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", contentTypeJSON)
	if r.token != "" {
		req.Header.Set("sessionId", r.token)
	}

	if r.capture != "" && r.body != nil {
		c.capture(ctx, r.capture+".request", r.body)
	}

	c.log.Debug().Str("method", r.method).Str("path", r.path).Msg("SIS request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewRetryableError(err, "SIS request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewRetryableError(err, "failed to read SIS response")
	}

	if r.capture != "" {
		c.capture(ctx, r.capture+".response", data)
	}

	if r.token != "" && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		return nil, fmt.Errorf("%s: HTTP %d: %w", r.path, resp.StatusCode, errors.ErrUnauthorized)
	}

	return &response{status: resp.StatusCode, body: data}, nil
}

// decode unmarshals a JSON answer. An unreadable body on a 5xx is treated as a
// transient outage rather than a protocol error.
func (c *Client) decode(endpoint string, resp *response, v any) error {
	if err := json.Unmarshal(resp.body, v); err != nil {
		if resp.status >= http.StatusInternalServerError || resp.status == http.StatusTooManyRequests {
			return errors.NewRetryableError(fmt.Errorf("HTTP %d", resp.status), endpoint+" unavailable")
		}
		return fmt.Errorf("failed to decode %s response (HTTP %d): %w", endpoint, resp.status, err)
	}
	return nil
}

func (c *Client) capture(ctx context.Context, name string, payload []byte) {
	if c.debug == nil {
		return
	}
	if err := c.debug.Write(ctx, name, payload); err != nil {
		c.log.Warn().Err(err).Str("name", name).Msg("Failed to capture SIS payload")
	}
}

func marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return data, nil
}
