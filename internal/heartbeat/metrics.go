package heartbeat

import "github.com/prometheus/client_golang/prometheus"

// Prometheus agent metrics.
var (
	heartbeatsSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "linkbeat_heartbeats_sent_total",
			Help: "Total number of heartbeats delivered to the collector.",
		},
	)
	heartbeatFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkbeat_heartbeat_failures_total",
			Help: "Total number of failed heartbeat iterations.",
		},
		[]string{"reason"},
	)
	loginsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "linkbeat_logins_total",
			Help: "Total number of device session logins.",
		},
	)
	lastSuccessTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "linkbeat_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successfully delivered heartbeat.",
		},
	)
)

// Failure reasons for heartbeatFailuresTotal.
const (
	reasonAuth    = "auth"
	reasonFetch   = "fetch"
	reasonDeliver = "deliver"
)

func init() {
	prometheus.MustRegister(heartbeatsSentTotal)
	prometheus.MustRegister(heartbeatFailuresTotal)
	prometheus.MustRegister(loginsTotal)
	prometheus.MustRegister(lastSuccessTimestamp)
}
