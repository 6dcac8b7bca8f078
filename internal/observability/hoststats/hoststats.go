// Package hoststats reports the host and process the worker runs on.
package hoststats

import (
	"context"
	"os"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/diitku/diitku-offline/internal/errors"
)

// Stats is a point-in-time snapshot.
type Stats struct {
	Hostname          string  `json:"hostname"`
	OS                string  `json:"os"`
	Platform          string  `json:"platform"`
	UptimeSeconds     uint64  `json:"uptime_seconds"`
	MemoryTotal       uint64  `json:"memory_total"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	ProcessRSS        uint64  `json:"process_rss"`
	ProcessThreads    int32   `json:"process_threads"`
}

// Collect gathers host and process stats. Host and memory failures are
// returned; process details are best effort.
func Collect(ctx context.Context) (*Stats, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, statsError(err, "host")
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, statsError(err, "memory")
	}
	s := &Stats{
		Hostname:          info.Hostname,
		OS:                info.OS,
		Platform:          info.Platform,
		UptimeSeconds:     info.Uptime,
		MemoryTotal:       vm.Total,
		MemoryUsedPercent: vm.UsedPercent,
	}

	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return s, nil
	}
	if mi, err := p.MemoryInfoWithContext(ctx); err == nil {
		s.ProcessRSS = mi.RSS
	}
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		s.ProcessThreads = n
	}
	return s, nil
}

func statsError(err error, source string) error {
	return errors.New(err).
		Component("hoststats").
		Category(errors.CategorySystem).
		Context("source", source).
		Build()
}
