// Package client talks to a whosprinting server over HTTP. It implements
// session.Transport and feeds the server's event stream into a session.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"whosprinting-backend/internal/session"
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server responded %d", e.Code)
	}
	return fmt.Sprintf("server responded %d: %s", e.Code, e.Message)
}

// HistoryEntry is one finished occupancy as reported by the server.
// Name fields are empty for private operators.
type HistoryEntry struct {
	Username       string    `json:"username"`
	DisplayName    string    `json:"displayName"`
	PrintInPrivate bool      `json:"printInPrivate"`
	Outcome        string    `json:"outcome"`
	PeriodStart    time.Time `json:"periodStart"`
	PeriodEnd      time.Time `json:"periodEnd"`
}

// Client is an HTTP implementation of session.Transport.
type Client struct {
	endpoint string
	http     *http.Client
	stream   *http.Client
	// Paces reconnects of the event stream.
	reconnect *rate.Limiter
	logger    *log.Logger
}

var _ session.Transport = (*Client)(nil)

// New creates a client for the plugin pluginID served at baseURL.
func New(baseURL, pluginID string, timeout time.Duration, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		endpoint:  strings.TrimRight(baseURL, "/") + "/api/plugin/" + url.PathEscape(pluginID),
		http:      &http.Client{Timeout: timeout},
		stream:    &http.Client{},
		reconnect: rate.NewLimiter(rate.Every(2*time.Second), 1),
		logger:    logger,
	}
}

func (c *Client) ListOperators(ctx context.Context) ([]session.OperatorSummary, error) {
	var resp struct {
		Users []session.OperatorSummary `json:"users"`
	}
	if err := c.get(ctx, "list", &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

func (c *Client) CurrentHolder(ctx context.Context) (*session.OperatorSummary, error) {
	var resp struct {
		User *session.OperatorSummary `json:"user"`
	}
	if err := c.get(ctx, "get_whos_printing", &resp); err != nil {
		return nil, err
	}
	if resp.User == nil || resp.User.Username == "" {
		return nil, nil
	}
	return resp.User, nil
}

// History returns the finished occupancies the server keeps, newest first.
func (c *Client) History(ctx context.Context) ([]HistoryEntry, error) {
	var resp struct {
		History []HistoryEntry `json:"history"`
	}
	if err := c.get(ctx, "history", &resp); err != nil {
		return nil, err
	}
	return resp.History, nil
}

func (c *Client) NotifyStarted(ctx context.Context, username string) error {
	return c.post(ctx, map[string]any{"command": "PrintStarted", "whosPrinting": username})
}

func (c *Client) NotifyFailed(ctx context.Context) error {
	return c.post(ctx, map[string]any{"command": "PrintFailed"})
}

func (c *Client) NotifyFinished(ctx context.Context) error {
	return c.post(ctx, map[string]any{"command": "PrintFinished"})
}

func (c *Client) NotifyFakeTag(ctx context.Context) error {
	return c.post(ctx, map[string]any{"command": "FakeTag"})
}

// ScanTag reports a raw tag read to the server.
func (c *Client) ScanTag(ctx context.Context, raw string) error {
	return c.post(ctx, map[string]any{"command": "TagScanned", "tagId": raw})
}

func (c *Client) RegisterOperator(ctx context.Context, reg session.Registration) error {
	return c.post(ctx, struct {
		Command string `json:"command"`
		session.Registration
	}{Command: "RegisterUser", Registration: reg})
}

func (c *Client) get(ctx context.Context, command string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?command="+url.QueryEscape(command), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeStatusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeStatusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
	}
	return &StatusError{Code: resp.StatusCode, Message: body.Error}
}
