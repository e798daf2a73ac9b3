package admin

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the process-wide counters the session core updates as it
// runs; they are exposed by NewServer's handler alongside the default
// Go/process collectors.
var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "teapotnet_sessions_active",
		Help: "Number of currently established peer sessions.",
	})

	RequestsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "teapotnet_requests_pending",
		Help: "Number of outbound and inbound requests currently held in the core's request tables.",
	})

	BytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teapotnet_bytes_sent_total",
		Help: "Total plaintext bytes written to peer sessions before encryption.",
	})

	BytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teapotnet_bytes_received_total",
		Help: "Total plaintext bytes read from peer sessions after decryption.",
	})

	Rekeys = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teapotnet_session_rekeys_total",
		Help: "Number of session cipher rekey operations completed.",
	})

	RendezvousPairings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teapotnet_rendezvous_pairings_total",
		Help: "Number of meeting-point connection pairs spliced.",
	})

	RendezvousTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teapotnet_rendezvous_timeouts_total",
		Help: "Number of meeting-point legs that timed out waiting for a partner.",
	})
)
