package engine

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce    sync.Once
	dispatchTotal  *prometheus.CounterVec
	callbackTotal  *prometheus.CounterVec
	probeRefreshes prometheus.Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		dispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slipway",
			Subsystem: "engine",
			Name:      "dispatches_total",
			Help:      "Build dispatch attempts by result",
		}, []string{"result"})

		callbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slipway",
			Subsystem: "engine",
			Name:      "callbacks_total",
			Help:      "Build callbacks processed by reported status",
		}, []string{"status"})

		refreshes := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "slipway",
			Subsystem: "engine",
			Name:      "probe_refreshes_total",
			Help:      "Stale statuses refreshed from the platform probe",
		})
		probeRefreshes = refreshes

		for _, collector := range []prometheus.Collector{dispatchTotal, callbackTotal, refreshes} {
			if err := prometheus.Register(collector); err != nil {
				if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
					switch existing := are.ExistingCollector.(type) {
					case *prometheus.CounterVec:
						if collector == dispatchTotal {
							dispatchTotal = existing
						} else {
							callbackTotal = existing
						}
					case prometheus.Counter:
						probeRefreshes = existing
					}
				}
			}
		}
	})
}

func recordDispatch(result string) {
	if dispatchTotal != nil {
		dispatchTotal.WithLabelValues(result).Inc()
	}
}

func recordCallback(status string) {
	if callbackTotal != nil {
		callbackTotal.WithLabelValues(status).Inc()
	}
}

func recordProbeRefresh() {
	if probeRefreshes != nil {
		probeRefreshes.Inc()
	}
}
