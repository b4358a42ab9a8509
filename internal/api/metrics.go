package api

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// ServerMetrics метрики процесса для /status
type ServerMetrics struct {
	StartTime time.Time
}

// ProcessStats снимок состояния процесса
type ProcessStats struct {
	Uptime      string  `json:"uptime"`
	MemoryMB    float64 `json:"memory_mb"`
	RSSMB       float64 `json:"rss_mb,omitempty"`
	CPUPercent  float64 `json:"cpu_percent"`
	Goroutines  int     `json:"goroutines"`
	NumGC       uint32  `json:"num_gc"`
	LogicalCPUs int     `json:"logical_cpus"`
}

// NewServerMetrics создает новый экземпляр метрик
func NewServerMetrics() *ServerMetrics {
	return &ServerMetrics{
		StartTime: time.Now(),
	}
}

// GetUptime возвращает время работы сервера
func (sm *ServerMetrics) GetUptime() string {
	uptime := time.Since(sm.StartTime)

	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60
	seconds := int(uptime.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dд %dч %dм %dс", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dч %dм %dс", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dм %dс", minutes, seconds)
	default:
		return fmt.Sprintf("%dс", seconds)
	}
}

// Snapshot собирает статистику процесса. Ошибки gopsutil не фатальны:
// соответствующие поля остаются нулевыми.
func (sm *ServerMetrics) Snapshot() ProcessStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := ProcessStats{
		Uptime:     sm.GetUptime(),
		MemoryMB:   float64(m.Alloc) / 1024 / 1024,
		Goroutines: runtime.NumGoroutine(),
		NumGC:      m.NumGC,
	}

	if n, err := cpu.Counts(true); err == nil {
		stats.LogicalCPUs = n
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return stats
	}
	if pct, err := proc.CPUPercent(); err == nil {
		stats.CPUPercent = pct
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		stats.RSSMB = float64(mem.RSS) / 1024 / 1024
	}
	return stats
}
