package metrics

import (
	"context"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/process"
)

var (
	processCPUPercent = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "ncg_bridge",
		Name:      "process_cpu_percent",
		Help:      "CPU usage of the bridge process, sampled periodically.",
	})
	processRSSBytes = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "ncg_bridge",
		Name:      "process_resident_memory_bytes",
		Help:      "Resident memory of the bridge process, sampled periodically.",
	})
)

func init() {
	registry.MustRegister(processCPUPercent, processRSSBytes)
}

// RunProcessSampler periodically samples the bridge's own CPU and
// memory usage into the process gauges, until ctx is canceled. The
// sampling is self-contained (no external agent) since the bridge
// already runs on hosts without a sidecar exporter.
func RunProcessSampler(ctx context.Context, interval time.Duration) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn("metrics: process sampler disabled, could not open self", "err", err)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pct, err := proc.CPUPercent(); err == nil {
				processCPUPercent.Set(pct)
			}
			if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
				processRSSBytes.Set(float64(mem.RSS))
			}
		}
	}
}
