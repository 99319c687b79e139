package obs

import "github.com/prometheus/client_golang/prometheus"

// buildInfo is a constant-1 gauge labelled with version/commit.
var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Authgate build information.",
	},
	[]string{"service", "version", "commit"},
)

// SetBuildInfo publishes build_info{service=...,version=...,commit=...} 1.
// Init must have been called first.
func SetBuildInfo(service, version, commit string) {
	buildInfo.WithLabelValues(service, version, commit).Set(1)
}
