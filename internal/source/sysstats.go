package source

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// SysStats reports on the machine daybook runs on. It needs no credentials;
// whatever gopsutil cannot read on this platform is simply left out.
type SysStats struct {
	disabled bool
}

func NewSysStats(disabled bool) *SysStats {
	return &SysStats{disabled: disabled}
}

func (s *SysStats) Name() string { return "sysstats" }

func (s *SysStats) Fetch(ctx context.Context) (map[string]any, error) {
	if s.disabled {
		return nil, ErrSkipped
	}

	payload := map[string]any{}
	var problems []string

	if info, err := host.InfoWithContext(ctx); err != nil {
		problems = append(problems, fmt.Sprintf("host: %v", err))
	} else {
		payload["hostname"] = info.Hostname
		payload["os"] = fmt.Sprintf("%s %s", info.Platform, info.PlatformVersion)
		payload["uptime_hours"] = round1(float64(info.Uptime) / 3600)
	}

	if avg, err := load.AvgWithContext(ctx); err != nil {
		problems = append(problems, fmt.Sprintf("load: %v", err))
	} else {
		payload["load_1"] = round1(avg.Load1)
		payload["load_5"] = round1(avg.Load5)
		payload["load_15"] = round1(avg.Load15)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		problems = append(problems, fmt.Sprintf("memory: %v", err))
	} else {
		payload["memory_used_percent"] = round1(vm.UsedPercent)
		payload["memory_total_gb"] = round1(float64(vm.Total) / (1 << 30))
	}

	if percents, err := cpu.PercentWithContext(ctx, time.Second, false); err != nil {
		problems = append(problems, fmt.Sprintf("cpu: %v", err))
	} else if len(percents) > 0 {
		payload["cpu_percent"] = round1(percents[0])
	}

	if len(payload) == 0 {
		return nil, fmt.Errorf("no system stats readable: %v", problems)
	}
	if len(problems) > 0 {
		return payload, fmt.Errorf("partial system stats: %v", problems)
	}
	return payload, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
