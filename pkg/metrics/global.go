package metrics

import (
	"sync"
)

var (
	globalMetrics *Metrics
	once          sync.Once
	mu            sync.RWMutex
)

// Default 返回注册在默认注册表上的全局指标实例
func Default() *Metrics {
	once.Do(func() {
		mu.Lock()
		if globalMetrics == nil {
			globalMetrics = NewMetrics(nil)
		}
		mu.Unlock()
	})
	mu.RLock()
	defer mu.RUnlock()
	return globalMetrics
}

// SetDefault 替换全局指标实例（测试时注入独立注册表）
func SetDefault(m *Metrics) {
	once.Do(func() {})
	mu.Lock()
	defer mu.Unlock()
	globalMetrics = m
}
