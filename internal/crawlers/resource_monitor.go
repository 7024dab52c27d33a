package crawlers

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceMonitor 系统资源监控器
// 根据可用内存和CPU计算可同时运行的浏览器会话数, 供批量爬取限流
type ResourceMonitor struct {
	config ResourceMonitorConfig

	totalMemory uint64

	mu            sync.RWMutex
	availMemory   int64
	lastCPUUsage  float64
	cachedMax     int
	lastCacheTime time.Time

	cancelFunc context.CancelFunc
	isRunning  bool
}

// ResourceMonitorConfig 资源监控器配置
type ResourceMonitorConfig struct {
	SafetyReserveMemory int64 // 安全保留内存(字节)
	SafetyThreshold     int64 // 安全阈值(字节)
	CPULoadThreshold    int   // CPU负载阈值(%), >=200 视为禁用
	MaxSessionsLimit    int   // 绝对最大会话数
	SessionMemoryUsage  int64 // 单个会话平均内存消耗(字节)
}

// DefaultResourceMonitorConfig 默认配置
func DefaultResourceMonitorConfig() ResourceMonitorConfig {
	return ResourceMonitorConfig{
		SafetyReserveMemory: 1024 * 1024 * 1024, // 1GB
		SafetyThreshold:     500 * 1024 * 1024,  // 500MB
		CPULoadThreshold:    80,
		MaxSessionsLimit:    8,
		SessionMemoryUsage:  200 * 1024 * 1024, // 整页截图的标签页内存占用较高
	}
}

// MemoryStatus 内存状态信息
type MemoryStatus struct {
	TotalMemory     uint64
	AvailableMemory int64 // 扣除安全保留后的可用内存
	MemoryPressure  string
}

// NewResourceMonitor 创建资源监控器实例
func NewResourceMonitor(config ResourceMonitorConfig) *ResourceMonitor {
	defaults := DefaultResourceMonitorConfig()
	if config.SessionMemoryUsage <= 0 {
		config.SessionMemoryUsage = defaults.SessionMemoryUsage
	}
	if config.MaxSessionsLimit <= 0 {
		config.MaxSessionsLimit = defaults.MaxSessionsLimit
	}

	rm := &ResourceMonitor{config: config}

	vmStat, err := mem.VirtualMemory()
	if err != nil {
		log.Warn().Err(err).Msg("获取系统内存失败,使用默认值")
		rm.totalMemory = 4 * 1024 * 1024 * 1024
		rm.availMemory = int64(rm.totalMemory) / 2
	} else {
		rm.totalMemory = vmStat.Total
		rm.availMemory = int64(vmStat.Available)
	}
	log.Debug().Msgf("系统总内存: %.2f GB", float64(rm.totalMemory)/(1024*1024*1024))

	return rm
}

// StartMonitoring 启动后台采样 (幂等)
func (rm *ResourceMonitor) StartMonitoring(interval time.Duration) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.isRunning {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rm.cancelFunc = cancel
	rm.isRunning = true

	go rm.monitoringLoop(ctx, interval)
}

func (rm *ResourceMonitor) monitoringLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rm.sample()
		}
	}
}

// sample 采样可用内存和CPU使用率
func (rm *ResourceMonitor) sample() {
	var avail int64 = -1
	if vmStat, err := mem.VirtualMemory(); err == nil {
		avail = int64(vmStat.Available)
	}

	cpuUsage := 0.0
	percentages, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		log.Warn().Err(err).Msg("获取CPU使用率失败")
	} else if len(percentages) > 0 {
		cpuUsage = percentages[0]
	}

	rm.mu.Lock()
	if avail >= 0 {
		rm.availMemory = avail
	}
	rm.lastCPUUsage = cpuUsage
	rm.mu.Unlock()
}

// StopMonitoring 停止后台采样
func (rm *ResourceMonitor) StopMonitoring() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.isRunning && rm.cancelFunc != nil {
		rm.cancelFunc()
		rm.isRunning = false
		rm.cancelFunc = nil
	}
}

func (rm *ResourceMonitor) usableMemory() int64 {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.availMemory - rm.config.SafetyReserveMemory
}

// CalculateMaxSessions 计算当前允许的最大并发会话数 (结果缓存1秒)
func (rm *ResourceMonitor) CalculateMaxSessions() int {
	rm.mu.RLock()
	if time.Since(rm.lastCacheTime) < time.Second && rm.cachedMax > 0 {
		cached := rm.cachedMax
		rm.mu.RUnlock()
		return cached
	}
	rm.mu.RUnlock()

	usable := rm.usableMemory()

	byMemory := 1
	if usable > rm.config.SafetyThreshold {
		byMemory = int((usable - rm.config.SafetyThreshold) / rm.config.SessionMemoryUsage)
	}

	result := min(byMemory, runtime.NumCPU(), rm.config.MaxSessionsLimit)
	if result < 1 {
		result = 1
	}

	rm.mu.Lock()
	rm.cachedMax = result
	rm.lastCacheTime = time.Now()
	rm.mu.Unlock()

	return result
}

// CheckResourceAvailability 检查是否允许再启动一个会话
func (rm *ResourceMonitor) CheckResourceAvailability() (bool, string) {
	usable := rm.usableMemory()
	if usable < rm.config.SafetyThreshold {
		availableMB := usable / (1024 * 1024)
		log.Warn().Msgf("可用内存不足(当前%dMB),会话创建受限", availableMB)
		return false, fmt.Sprintf("内存不足(当前%dMB)", availableMB)
	}

	if rm.config.CPULoadThreshold < 200 {
		rm.mu.RLock()
		cpuUsage := rm.lastCPUUsage
		rm.mu.RUnlock()

		if cpuUsage > float64(rm.config.CPULoadThreshold) {
			return false, fmt.Sprintf("CPU负载过高(当前%.1f%%)", cpuUsage)
		}
	}

	return true, ""
}

// GetMemoryStatus 获取当前内存状态
func (rm *ResourceMonitor) GetMemoryStatus() MemoryStatus {
	usable := rm.usableMemory()

	var pressure string
	availableMB := usable / (1024 * 1024)
	switch {
	case availableMB < 200:
		pressure = "emergency"
	case availableMB < 300:
		pressure = "critical"
	case availableMB < 500:
		pressure = "warning"
	default:
		pressure = "normal"
	}

	return MemoryStatus{
		TotalMemory:     rm.totalMemory,
		AvailableMemory: usable,
		MemoryPressure:  pressure,
	}
}
