// Package freebox implements a client for the router's local HTTP API.
//
// Every endpoint answers with the same envelope:
//
//	{"success": bool, "msg": "...", "error_code": "...", "result": {...}}
//
// success:false is a logical failure even on HTTP 200.
package freebox

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

	"github.com/HerbHall/linkbeat/internal/credential"
	"go.uber.org/zap"
)

// authHeader carries the session token on authenticated calls.
const authHeader = "X-Fbx-App-Auth"

// Client talks to one router's API. It is stateless: session tokens are
// returned to the caller, never cached here.
type Client struct {
	base   string
	appID  string
	creds  *credential.Store
	http   *http.Client
	logger *zap.Logger

	// pairPollInterval separates authorization status polls.
	// Overridable in tests.
	pairPollInterval time.Duration
}

// NewClient creates a device API client. base is the API root, e.g.
// "http://mafreebox.freebox.fr/api/v8".
func NewClient(base, appID string, creds *credential.Store, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		base:             strings.TrimRight(base, "/"),
		appID:            appID,
		creds:            creds,
		http:             &http.Client{Timeout: timeout},
		logger:           logger,
		pairPollInterval: 2 * time.Second,
	}
}

// do issues one request and decodes the envelope. A non-2xx response or
// transport error returns *APIError; a success:false envelope returns
// *apiFailure; otherwise result is decoded into out when non-nil.
func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(authHeader, token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &APIError{Status: resp.StatusCode, Msg: err.Error()}
	}

	var env struct {
		Success   bool            `json:"success"`
		Msg       string          `json:"msg"`
		ErrorCode string          `json:"error_code"`
		Result    json.RawMessage `json:"result"`
	}
	decodeErr := json.Unmarshal(data, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := env.Msg
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		if env.ErrorCode != "" {
			msg = fmt.Sprintf("%s (%s)", msg, env.ErrorCode)
		}
		return &APIError{Status: resp.StatusCode, Msg: msg}
	}
	if decodeErr != nil {
		return &APIError{Status: resp.StatusCode, Msg: fmt.Sprintf("decode response: %v", decodeErr)}
	}
	if !env.Success {
		return &apiFailure{Msg: env.Msg, Code: env.ErrorCode}
	}

	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return &APIError{Status: resp.StatusCode, Msg: fmt.Sprintf("decode result: %v", err)}
		}
	}
	return nil
}

// asFailure extracts an envelope-level failure, if err is one.
func asFailure(err error) (*apiFailure, bool) {
	var fail *apiFailure
	ok := errors.As(err, &fail)
	return fail, ok
}
