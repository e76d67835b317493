// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pphsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Abdulhalim7177/MotivAid-Native-sub001/clinical"
	"github.com/Abdulhalim7177/MotivAid-Native-sub001/rowproto"
)

// RemoteAPI is the remote system of record, addressed per table.
type RemoteAPI interface {
	Insert(ctx context.Context, table clinical.Table, row clinical.Row) (string, error)
	Update(ctx context.Context, table clinical.Table, id string, fields clinical.Row) error
	Delete(ctx context.Context, table clinical.Table, id string) error
	Select(ctx context.Context, table clinical.Table, filter map[string]string) ([]clinical.Row, error)
}

// HTTPRemote talks to the row API over HTTP with a bearer token.
type HTTPRemote struct {
	BaseURL string
	Token   func(context.Context) (string, error) // returns JWT
	HTTP    *http.Client

	// Transient 503/429 answers are retried in place with exponential
	// backoff, up to Attempts tries in total.
	Attempts   int
	BackoffMin time.Duration
	BackoffMax time.Duration

	logger *slog.Logger
}

// NewHTTPRemote creates a client for the row API at baseURL.
func NewHTTPRemote(baseURL string, tok func(context.Context) (string, error), logger *slog.Logger) *HTTPRemote {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPRemote{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      tok,
		HTTP:       &http.Client{Timeout: 30 * time.Second},
		Attempts:   3,
		BackoffMin: 200 * time.Millisecond,
		BackoffMax: 2 * time.Second,
		logger:     logger,
	}
}

func (c *HTTPRemote) rowsURL(table clinical.Table, id string) string {
	u := c.BaseURL + "/rows/" + url.PathEscape(string(table))
	if id != "" {
		u += "/" + url.PathEscape(id)
	}
	return u
}

func (c *HTTPRemote) Insert(ctx context.Context, table clinical.Table, row clinical.Row) (string, error) {
	var resp rowproto.InsertResponse
	if err := c.do(ctx, http.MethodPost, c.rowsURL(table, ""), row, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("insert into %s returned no id", table)
	}
	return resp.ID, nil
}

func (c *HTTPRemote) Update(ctx context.Context, table clinical.Table, id string, fields clinical.Row) error {
	return c.do(ctx, http.MethodPatch, c.rowsURL(table, id), fields, nil)
}

func (c *HTTPRemote) Delete(ctx context.Context, table clinical.Table, id string) error {
	return c.do(ctx, http.MethodDelete, c.rowsURL(table, id), nil, nil)
}

func (c *HTTPRemote) Select(ctx context.Context, table clinical.Table, filter map[string]string) ([]clinical.Row, error) {
	u := c.rowsURL(table, "")
	if len(filter) > 0 {
		q := url.Values{}
		for k, v := range filter {
			q.Set(k, v)
		}
		u += "?" + q.Encode()
	}
	var resp rowproto.SelectResponse
	if err := c.do(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return nil, err
	}
	rows := make([]clinical.Row, 0, len(resp.Rows))
	for _, raw := range resp.Rows {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var row clinical.Row
		if err := dec.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode %s row: %w", table, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (c *HTTPRemote) do(ctx context.Context, method, u string, body any, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		payload = b
	}

	attempts := c.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := c.BackoffMin
	for attempt := 1; ; attempt++ {
		err := c.doOnce(ctx, method, u, payload, out)
		var rerr *RemoteError
		if err == nil || attempt >= attempts || !errors.As(err, &rerr) || !rerr.Retryable() {
			return err
		}
		c.logger.Debug("Retrying transient remote error", "method", method, "url", u, "attempt", attempt, "error", err)
		if err := sleepWithContext(ctx, backoff); err != nil {
			return fmt.Errorf("%w: %v", ErrNetwork, err)
		}
		backoff *= 2
		if c.BackoffMax > 0 && backoff > c.BackoffMax {
			backoff = c.BackoffMax
		}
	}
}

func (c *HTTPRemote) doOnce(ctx context.Context, method, u string, payload []byte, out any) error {
	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != nil {
		tok, err := c.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to obtain token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		rerr := &RemoteError{StatusCode: resp.StatusCode}
		var er rowproto.ErrorResponse
		if b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); len(b) > 0 {
			if json.Unmarshal(b, &er) == nil && er.Error != "" {
				rerr.Code, rerr.Message = er.Error, er.Message
			} else {
				rerr.Message = strings.TrimSpace(string(b))
			}
		}
		return rerr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", ErrNetwork, err)
	}
	return nil
}
