// Package apiclient calls the RugMania API from the client side.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"rugmania-backend/internal/models"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUnavailable  = errors.New("api unavailable")
)

// Error is a non-2xx response carrying the API's error envelope.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api %d: %s", e.Status, e.Message)
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case ErrUnavailable:
		return e.Status >= 500 || e.Status == http.StatusTooManyRequests
	}
	return false
}

type envelope struct {
	OK           bool   `json:"ok"`
	Error        string `json:"error"`
	ErrorDetails struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errorDetails"`
}

type Client struct {
	base string
	http *http.Client

	mu    sync.RWMutex
	token string
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var env envelope
		if json.Unmarshal(data, &env) == nil {
			if env.Error != "" {
				apiErr.Message = env.Error
			}
			apiErr.Code = env.ErrorDetails.Code
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return nil
}

// RequestToken exchanges a signed session-access message for a bearer
// token and keeps it for later calls.
func (c *Client) RequestToken(ctx context.Context, req models.TokenRequest) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/token", nil, req, &out); err != nil {
		return "", err
	}
	c.SetToken(out.Token)
	return out.Token, nil
}

func (c *Client) PutSession(ctx context.Context, req models.SaveSessionRequest) error {
	return c.do(ctx, http.MethodPost, "/api/sessions", nil, req, nil)
}

// GetSession returns ErrNotFound when the player has no pending session.
func (c *Client) GetSession(ctx context.Context, address string) (*models.SessionSeeds, error) {
	var out models.SessionSeeds
	err := c.do(ctx, http.MethodGet, "/api/sessions", url.Values{"address": {address}}, nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteSession(ctx context.Context, address string) (int64, error) {
	var out struct {
		Deleted int64 `json:"deleted"`
	}
	err := c.do(ctx, http.MethodDelete, "/api/sessions", url.Values{"address": {address}}, nil, &out)
	return out.Deleted, err
}

// RecordSettlement reports duplicate=true when the txRef was already
// recorded; that is still a success.
func (c *Client) RecordSettlement(ctx context.Context, req models.SettlementRequest) (bool, error) {
	var out struct {
		Duplicate bool `json:"duplicate"`
	}
	err := c.do(ctx, http.MethodPost, "/api/settlements", nil, req, &out)
	return out.Duplicate, err
}
