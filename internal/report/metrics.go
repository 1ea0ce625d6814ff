package report

import "github.com/prometheus/client_golang/prometheus"

// sendAttemptsTotal counts every delivery attempt, retries included.
var sendAttemptsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "linkbeat_send_attempts_total",
		Help: "Total number of heartbeat delivery attempts, including retries.",
	},
)

func init() {
	prometheus.MustRegister(sendAttemptsTotal)
}
