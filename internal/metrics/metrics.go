// Package metrics exposes the bridge's Prometheus counters and gauges.
// It is deliberately thin: a handful of vectors the observers and
// monitor package increment inline, registered once at process start
// and served over the ops status API's mux.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var registry = prometheus.NewRegistry()

func init() {
	registry.MustRegister(
		EventsHandled,
		EmissionsFailed,
		MonitorLagBlocks,
	)
}

// Registry returns the registry the ops status API's /metrics endpoint
// should serve.
func Registry() *prometheus.Registry { return registry }

// factory builds collectors without registering them; the init blocks
// register each one with registry exactly once.
var factory = promauto.With(nil)

// EventsHandled counts every history record an observer commits,
// partitioned by source network and the status it was recorded with
// (emitted or rejected). Events skipped as already processed are not
// counted.
var EventsHandled = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ncg_bridge",
	Name:      "events_handled_total",
	Help:      "Source events an observer has finished processing.",
}, []string{"network", "status"})

// EmissionsFailed counts sink-side failures (stage rejection, mint
// revert, RPC error). The failed event stays recorded in history and is
// not retried automatically.
var EmissionsFailed = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ncg_bridge",
	Name:      "emissions_failed_total",
	Help:      "Sink emission attempts that returned an error.",
}, []string{"network"})

// MonitorLagBlocks reports how many confirmed blocks behind the
// source chain's tip a monitor's cursor currently sits.
var MonitorLagBlocks = factory.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "ncg_bridge",
	Name:      "monitor_lag_blocks",
	Help:      "Confirmed blocks between a monitor's cursor and the chain tip.",
}, []string{"monitor"})
