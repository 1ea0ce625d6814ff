package freebox

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"net/http"

	"go.uber.org/zap"
)

// Login performs the challenge/response handshake and returns a fresh
// session token. The long-lived app token never crosses the wire: the
// device sees only a one-time HMAC-SHA1 proof of it.
func (c *Client) Login(ctx context.Context) (string, error) {
	cred, err := c.creds.Load()
	if err != nil {
		return "", err
	}

	var ch struct {
		Challenge string `json:"challenge"`
	}
	if err := c.do(ctx, http.MethodGet, "/login/", "", nil, &ch); err != nil {
		if fail, ok := asFailure(err); ok {
			return "", &ChallengeError{Msg: fail.Error()}
		}
		return "", err
	}

	mac := hmac.New(sha1.New, []byte(cred.AppToken))
	mac.Write([]byte(ch.Challenge))
	password := hex.EncodeToString(mac.Sum(nil))

	body := map[string]string{
		"app_id":   c.appID,
		"password": password,
	}
	var sess struct {
		SessionToken string `json:"session_token"`
	}
	if err := c.do(ctx, http.MethodPost, "/login/session/", "", body, &sess); err != nil {
		if fail, ok := asFailure(err); ok {
			return "", &SessionError{Msg: fail.Error()}
		}
		return "", err
	}

	c.logger.Debug("device session opened", zap.String("app_id", c.appID))
	return sess.SessionToken, nil
}

// Logout closes the given session. A no-op for an empty token. Failures
// come back as *LogoutError, which callers treat as non-fatal.
func (c *Client) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := c.do(ctx, http.MethodPost, "/login/logout/", token, nil, nil); err != nil {
		return &LogoutError{Err: err}
	}
	c.logger.Debug("device session closed")
	return nil
}
