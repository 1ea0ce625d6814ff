package freebox

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/HerbHall/linkbeat/internal/credential"
	"go.uber.org/zap"
)

// Authorization track statuses reported by the device.
const (
	trackPending = "pending"
	trackGranted = "granted"
	trackDenied  = "denied"
	trackTimeout = "timeout"
)

// Pair runs the one-time authorization flow: it asks the router for an
// app token, prompts the operator to approve on the device's front
// panel, polls until the request is resolved, and persists the granted
// credential. prompt receives operator-facing text (usually stderr).
func (c *Client) Pair(ctx context.Context, appName, appVersion, deviceName string, prompt io.Writer) (*credential.Credential, error) {
	body := map[string]string{
		"app_id":      c.appID,
		"app_name":    appName,
		"app_version": appVersion,
		"device_name": deviceName,
	}
	var auth struct {
		AppToken string `json:"app_token"`
		TrackID  int    `json:"track_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/login/authorize/", "", body, &auth); err != nil {
		if fail, ok := asFailure(err); ok {
			return nil, fmt.Errorf("authorization refused: %s", fail.Error())
		}
		return nil, err
	}

	fmt.Fprintln(prompt, "Authorization requested.")
	fmt.Fprintln(prompt, "Press the arrow button on the router's front panel to approve...")

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pairPollInterval):
		}

		var track struct {
			Status string `json:"status"`
		}
		path := fmt.Sprintf("/login/authorize/%d", auth.TrackID)
		if err := c.do(ctx, http.MethodGet, path, "", nil, &track); err != nil {
			if fail, ok := asFailure(err); ok {
				return nil, fmt.Errorf("authorization tracking failed: %s", fail.Error())
			}
			return nil, err
		}

		switch track.Status {
		case trackPending:
			continue
		case trackGranted:
			cred := &credential.Credential{
				AppToken:  auth.AppToken,
				TrackID:   auth.TrackID,
				AppID:     c.appID,
				CreatedAt: time.Now().UTC(),
			}
			if err := c.creds.Save(cred); err != nil {
				return nil, err
			}
			c.logger.Info("pairing complete",
				zap.String("app_id", c.appID),
				zap.String("credentials", c.creds.Path()),
			)
			return cred, nil
		case trackDenied:
			return nil, fmt.Errorf("authorization denied on the device")
		case trackTimeout:
			return nil, fmt.Errorf("authorization timed out: no one approved on the device")
		default:
			return nil, fmt.Errorf("unexpected authorization status %q", track.Status)
		}
	}
}
