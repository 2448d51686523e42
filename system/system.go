package system

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Version is stamped at build time.
var Version = "develop"

type Information struct {
	Version string `json:"version"`
	System  System `json:"system"`
}

type System struct {
	Architecture  string  `json:"architecture"`
	CPUThreads    int     `json:"cpu_threads"`
	MemoryBytes   uint64  `json:"memory_bytes"`
	KernelVersion string  `json:"kernel_version"`
	OS            string  `json:"os"`
	UptimeSeconds uint64  `json:"uptime_seconds"`
	LoadAvg1      float64 `json:"load_average1"`
	LoadAvg5      float64 `json:"load_average5"`
	LoadAvg15     float64 `json:"load_average15"`
}

// GetSystemInformation collects a summary of the host the platform runs on.
func GetSystemInformation(ctx context.Context) (*Information, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, err
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return nil, err
	}

	return &Information{
		Version: Version,
		System: System{
			Architecture:  runtime.GOARCH,
			CPUThreads:    runtime.NumCPU(),
			MemoryBytes:   vm.Total,
			KernelVersion: info.KernelVersion,
			OS:            info.OS,
			UptimeSeconds: info.Uptime,
			LoadAvg1:      avg.Load1,
			LoadAvg5:      avg.Load5,
			LoadAvg15:     avg.Load15,
		},
	}, nil
}
