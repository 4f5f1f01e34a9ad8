// Package health collects a host-level snapshot for the /api/health
// endpoint. It is observability only; nothing in the pipeline depends on it.
package health

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

type Snapshot struct {
	Hostname      string  `json:"hostname"`
	UptimeSeconds uint64  `json:"uptimeSeconds"`
	Procs         uint64  `json:"procs"`
	NumCPU        int     `json:"numCpu"`
	Load1         float64 `json:"load1"`
	MemUsedPct    float64 `json:"memUsedPct"`
	Goroutines    int     `json:"goroutines"`
}

func Collect() (*Snapshot, error) {
	info, err := host.Info()
	if err != nil {
		return nil, err
	}

	snapshot := &Snapshot{
		Hostname:      info.Hostname,
		UptimeSeconds: info.Uptime,
		Procs:         info.Procs,
		NumCPU:        runtime.NumCPU(),
		Goroutines:    runtime.NumGoroutine(),
	}

	// Load and memory are best effort; not every platform reports them.
	if avg, err := load.Avg(); err == nil {
		snapshot.Load1 = avg.Load1
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snapshot.MemUsedPct = vm.UsedPercent
	}

	return snapshot, nil
}
