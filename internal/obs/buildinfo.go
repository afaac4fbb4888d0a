package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerBuildInfo sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata of the running brokergate binary.",
		},
		[]string{"version", "commit"},
	)
)

// InitBuildInfo publishes build_info{version, commit} = 1. Calling it
// again only relabels; registration happens on the first call.
func InitBuildInfo(version, commit string) {
	registerBuildInfo.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(version, commit).Set(1)
}
