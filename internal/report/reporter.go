// Package report delivers signed heartbeat payloads to the remote
// collector with bounded, fixed-delay retries.
package report

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// heartbeatPath is the collector path segment appended during endpoint
// normalization.
const heartbeatPath = "/heartbeat"

// ErrEndpointNotFound marks a 404 from the collector. The path is
// misconfigured; retrying cannot help.
var ErrEndpointNotFound = errors.New("collector returned 404: heartbeat endpoint not found, check collector.url")

// DeliveryError is returned once every attempt has failed, or
// immediately when the failure is permanent.
type DeliveryError struct {
	Attempts int
	LastErr  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("heartbeat delivery failed after %d attempt(s): %v", e.Attempts, e.LastErr)
}

func (e *DeliveryError) Unwrap() error {
	return e.LastErr
}

// Reporter signs and posts heartbeat payloads.
type Reporter struct {
	client     *http.Client
	endpoint   *url.URL
	secret     []byte
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger

	// Injection points for tests.
	now      func() time.Time
	sleep    func(time.Duration)
	newNonce func() (string, error)
}

// NewReporter builds a reporter for the given collector URL. The URL is
// normalized once here; maxRetries counts extra attempts beyond the
// first.
func NewReporter(endpoint, secret string, maxRetries int, retryDelay time.Duration, logger *zap.Logger) (*Reporter, error) {
	normalized, err := NormalizeEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return nil, fmt.Errorf("parse collector url %q: %w", normalized, err)
	}

	return &Reporter{
		client:     &http.Client{Timeout: 15 * time.Second},
		endpoint:   u,
		secret:     []byte(secret),
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger,
		now:        time.Now,
		sleep:      time.Sleep,
		newNonce:   newNonce,
	}, nil
}

// NormalizeEndpoint appends the heartbeat path segment unless the path
// already ends with it. Scheme, host, port, and query are preserved.
// Idempotent: normalizing twice yields the same URL.
func NormalizeEndpoint(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse collector url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("collector url %q: scheme and host are required", raw)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	if !strings.HasSuffix(u.Path, heartbeatPath) {
		u.Path += heartbeatPath
	}
	return u.String(), nil
}

// Send delivers one payload. Each attempt is signed with a fresh
// timestamp and nonce; a stale signature is never replayed. A 404 fails
// immediately; any other failure is retried up to maxRetries times with
// a fixed delay. On success the collector's response body is returned.
func (r *Reporter) Send(ctx context.Context, payload any) ([]byte, error) {
	body, err := canonicalBody(payload)
	if err != nil {
		return nil, err
	}

	attempts := 0
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			r.sleep(r.retryDelay)
		}
		attempts++

		respBody, err := r.attempt(ctx, body)
		if err == nil {
			return respBody, nil
		}
		lastErr = err

		if errors.Is(err, ErrEndpointNotFound) {
			return nil, &DeliveryError{Attempts: attempts, LastErr: err}
		}
		r.logger.Warn("heartbeat delivery attempt failed",
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", r.maxRetries+1),
			zap.Error(err),
		)
	}

	return nil, &DeliveryError{Attempts: attempts, LastErr: lastErr}
}

// canonicalBody encodes the payload. Struct field order makes the JSON
// encoding canonical, so signer and verifier hash identical bytes.
func canonicalBody(payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal heartbeat payload: %w", err)
	}
	return body, nil
}

// attempt performs a single signed POST.
func (r *Reporter) attempt(ctx context.Context, body []byte) ([]byte, error) {
	sendAttemptsTotal.Inc()

	ts := strconv.FormatInt(r.now().Unix(), 10)
	nonce, err := r.newNonce()
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sig := r.sign(ts, nonce, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create collector request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+sig)
	req.Header.Set("Signature-Timestamp", ts)
	req.Header.Set("Signature-Nonce", nonce)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", r.endpoint.Host, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read collector response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrEndpointNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("collector returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return respBody, nil
}

// sign computes the request signature over the canonical message. The
// message binds method, path, timestamp, nonce, and a hash of the exact
// body bytes, so the collector can recompute and compare.
func (r *Reporter) sign(ts, nonce string, body []byte) string {
	bodyHash := sha256.Sum256(body)
	msg := strings.Join([]string{
		http.MethodPost,
		r.endpoint.Path,
		ts,
		nonce,
		base64.RawURLEncoding.EncodeToString(bodyHash[:]),
	}, "\n")

	mac := hmac.New(sha256.New, r.secret)
	mac.Write([]byte(msg))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// newNonce returns 16 fresh random bytes, hex encoded.
func newNonce() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
