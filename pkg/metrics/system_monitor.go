package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemStats 系统统计信息
type SystemStats struct {
	Timestamp  time.Time   `json:"timestamp"`
	CPUPercent float64     `json:"cpu_percent"`
	Memory     MemoryStats `json:"memory"`
	Goroutines int         `json:"goroutines"`
	HeapAlloc  uint64      `json:"heap_alloc"`
	Hostname   string      `json:"hostname,omitempty"`
	Uptime     uint64      `json:"uptime,omitempty"`
}

// MemoryStats 内存统计信息
type MemoryStats struct {
	Total        uint64  `json:"total"`
	Used         uint64  `json:"used"`
	UsagePercent float64 `json:"usage_percent"`
}

// SystemMonitor 周期采集主机与运行时信息，同时写入 Prometheus 仪表盘
type SystemMonitor struct {
	mu       sync.RWMutex
	latest   *SystemStats
	metrics  *Metrics
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	started  bool
}

// NewSystemMonitor 创建系统监控器；m 可为 nil
func NewSystemMonitor(m *Metrics, interval time.Duration) *SystemMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &SystemMonitor{
		metrics:  m,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start 启动监控
func (sm *SystemMonitor) Start() {
	sm.mu.Lock()
	if sm.started {
		sm.mu.Unlock()
		return
	}
	sm.started = true
	sm.mu.Unlock()

	go sm.monitorLoop()
}

// Stop 停止监控
func (sm *SystemMonitor) Stop() {
	sm.stopOnce.Do(func() { close(sm.stopChan) })
}

func (sm *SystemMonitor) monitorLoop() {
	ticker := time.NewTicker(sm.interval)
	defer ticker.Stop()

	sm.Collect()
	for {
		select {
		case <-ticker.C:
			sm.Collect()
		case <-sm.stopChan:
			return
		}
	}
}

// Collect 立即采集一次；gopsutil 失败的项保留零值
func (sm *SystemMonitor) Collect() *SystemStats {
	stats := &SystemStats{
		Timestamp:  time.Now(),
		Goroutines: runtime.NumGoroutine(),
	}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		stats.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.Memory = MemoryStats{Total: vm.Total, Used: vm.Used, UsagePercent: vm.UsedPercent}
	}
	if info, err := host.Info(); err == nil {
		stats.Hostname = info.Hostname
		stats.Uptime = info.Uptime
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	stats.HeapAlloc = ms.HeapAlloc

	if sm.metrics != nil {
		sm.metrics.SetSystemCPUUsage(stats.CPUPercent)
		sm.metrics.SetSystemMemoryUsage("used", stats.Memory.Used)
		sm.metrics.SetSystemMemoryUsage("heap", stats.HeapAlloc)
		sm.metrics.SetSystemGoroutines(stats.Goroutines)
	}

	sm.mu.Lock()
	sm.latest = stats
	sm.mu.Unlock()
	return stats
}

// GetLatestStats 获取最新统计信息，从未采集时现场采集
func (sm *SystemMonitor) GetLatestStats() *SystemStats {
	sm.mu.RLock()
	latest := sm.latest
	sm.mu.RUnlock()
	if latest == nil {
		return sm.Collect()
	}
	return latest
}
