package heartbeat

import (
	"time"

	"github.com/HerbHall/linkbeat/internal/freebox"
)

// unknownValue fills string fields the snapshot did not provide.
const unknownValue = "unknown"

// Record is the wire payload posted to the collector, derived
// deterministically from one connection snapshot plus its capture time.
// Every field is always present: absent optionals become "unknown",
// null, or 0 so the collector schema stays stable.
type Record struct {
	Timestamp string `json:"timestamp"`
	State     string `json:"state"`
	Type      string `json:"type"`
	Media     string `json:"media"`

	IPv4 *string `json:"ipv4"`
	IPv6 *string `json:"ipv6"`

	BandwidthDown int64 `json:"bandwidth_down"`
	BandwidthUp   int64 `json:"bandwidth_up"`
	RateDown      int64 `json:"rate_down"`
	RateUp        int64 `json:"rate_up"`
	BytesDown     int64 `json:"bytes_down"`
	BytesUp       int64 `json:"bytes_up"`

	PortRangeLow  int `json:"port_range_low"`
	PortRangeHigh int `json:"port_range_high"`

	LatencyMs *float64 `json:"latency_ms"`
}

// BuildRecord maps a snapshot 1:1 onto the wire payload. info may be
// nil or partially filled; latencyMs is nil when probing is disabled or
// failed.
func BuildRecord(info *freebox.ConnectionInfo, latencyMs *float64, at time.Time) *Record {
	rec := &Record{
		Timestamp: at.UTC().Format(time.RFC3339),
		State:     unknownValue,
		Type:      unknownValue,
		Media:     unknownValue,
		LatencyMs: latencyMs,
	}
	if info == nil {
		return rec
	}

	if info.State != "" {
		rec.State = info.State
	}
	if info.Type != "" {
		rec.Type = info.Type
	}
	if info.Media != "" {
		rec.Media = info.Media
	}
	if info.IPv4 != "" {
		v := info.IPv4
		rec.IPv4 = &v
	}
	if info.IPv6 != "" {
		v := info.IPv6
		rec.IPv6 = &v
	}

	rec.BandwidthDown = info.BandwidthDown
	rec.BandwidthUp = info.BandwidthUp
	rec.RateDown = info.RateDown
	rec.RateUp = info.RateUp
	rec.BytesDown = info.BytesDown
	rec.BytesUp = info.BytesUp

	if len(info.IPv4PortRange) == 2 {
		rec.PortRangeLow = info.IPv4PortRange[0]
		rec.PortRangeHigh = info.IPv4PortRange[1]
	}

	return rec
}
