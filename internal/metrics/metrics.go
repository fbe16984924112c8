package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchpit",
			Name:      "runs_total",
			Help:      "Update runs by terminal stage.",
		},
		[]string{"outcome"},
	)

	StageTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchpit",
			Name:      "stage_transitions_total",
			Help:      "Orchestrator stage transitions.",
		},
		[]string{"stage"},
	)

	PromptsShown = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchpit",
			Name:      "prompts_shown_total",
			Help:      "Prompts raised to the presentation layer.",
		},
		[]string{"prompt"},
	)

	DownloadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "launchpit",
			Name:      "download_bytes_total",
			Help:      "Archive bytes fetched over the network.",
		},
	)

	InstallDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "launchpit",
			Name:      "install_duration_seconds",
			Help:      "Time spent expanding archives into the version store.",
		},
	)
)

// Register registers the launcher metrics into the default registry.
func Register() {
	prometheus.MustRegister(RunsTotal, StageTransitions, PromptsShown, DownloadBytes, InstallDuration)
}
