package freebox

import (
	"context"
	"net/http"
)

// ConnectionInfo is one WAN status snapshot as reported by the router.
// Values are ephemeral: a fresh snapshot is fetched on every poll.
type ConnectionInfo struct {
	// State is one of up, down, going_up, going_down.
	State string `json:"state"`
	// Type is the connection type (ethernet, rfc2684, pppoatm).
	Type string `json:"type"`
	// Media is the physical link (ftth, xdsl, ethernet, 4g).
	Media string `json:"media"`

	IPv4 string `json:"ipv4"`
	IPv6 string `json:"ipv6"`

	// Provisioned capacity, bits per second.
	BandwidthDown int64 `json:"bandwidth_down"`
	BandwidthUp   int64 `json:"bandwidth_up"`

	// Instantaneous rates, bytes per second.
	RateDown int64 `json:"rate_down"`
	RateUp   int64 `json:"rate_up"`

	// Cumulative counters since the router booted.
	BytesDown int64 `json:"bytes_down"`
	BytesUp   int64 `json:"bytes_up"`

	// Outgoing port range usable behind carrier-grade NAT, [low, high].
	IPv4PortRange []int `json:"ipv4_port_range"`
}

// ConnectionInfo retrieves the current WAN snapshot. It never retries:
// retry and re-login policy belong to the heartbeat scheduler.
func (c *Client) ConnectionInfo(ctx context.Context, token string) (*ConnectionInfo, error) {
	var info ConnectionInfo
	if err := c.do(ctx, http.MethodGet, "/connection/", token, nil, &info); err != nil {
		if fail, ok := asFailure(err); ok {
			return nil, &APIError{Status: http.StatusOK, Msg: fail.Error()}
		}
		return nil, err
	}
	return &info, nil
}
