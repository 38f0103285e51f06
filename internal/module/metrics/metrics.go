package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// UpdateSessionsTotal counts finished update sessions by outcome.
	UpdateSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abls_update_sessions_total",
			Help: "Total number of finished firmware update sessions.",
		},
		[]string{"result"}, // success, failed, aborted, rollback
	)

	// UpdateProgress is the running session's progress in percent.
	UpdateProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "abls_update_progress_percent",
			Help: "Progress of the active firmware update session.",
		},
	)

	// SafetyRefusalsTotal counts safety gate refusals by reason.
	SafetyRefusalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abls_safety_refusals_total",
			Help: "Total number of safety gate refusals.",
		},
		[]string{"reason"},
	)

	// CommandsReceivedTotal counts operator commands by type.
	CommandsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abls_commands_received_total",
			Help: "Total number of operator command packets received.",
		},
		[]string{"command"},
	)

	// DatagramsRejectedTotal counts malformed datagrams dropped at the
	// protocol boundary.
	DatagramsRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "abls_datagrams_rejected_total",
			Help: "Total number of malformed datagrams discarded.",
		},
	)

	// FlashBytesWrittenTotal counts bytes programmed into flash.
	FlashBytesWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "abls_flash_bytes_written_total",
			Help: "Total bytes written to program flash by updates.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		UpdateSessionsTotal,
		UpdateProgress,
		SafetyRefusalsTotal,
		CommandsReceivedTotal,
		DatagramsRejectedTotal,
		FlashBytesWrittenTotal,
	)
}
