package callbacks

import (
	"context"
	"sync"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/schema"

	"prompt-compiler/internal/eino/config"
)

// MetricsHandler 指标回调处理器，按节点名统计调用次数与耗时
type MetricsHandler struct {
	cfg     *config.MetricsCallbackConfig
	metrics *MetricsCollector
}

// MetricsCollector 指标收集器
type MetricsCollector struct {
	mu sync.RWMutex

	// 调用计数
	TotalCalls      int64
	SuccessfulCalls int64
	FailedCalls     int64

	// 延迟统计
	TotalLatencyMs   int64
	ComponentLatency map[string]*LatencyStats

	// 节点调用与失败计数
	ComponentCalls  map[string]int64
	ComponentErrors map[string]int64
}

// LatencyStats 延迟统计
type LatencyStats struct {
	Count   int64
	TotalMs int64
	MinMs   int64
	MaxMs   int64
}

// NewMetricsHandler 创建指标回调处理器
func NewMetricsHandler(cfg *config.MetricsCallbackConfig) *MetricsHandler {
	return &MetricsHandler{
		cfg: cfg,
		metrics: &MetricsCollector{
			ComponentLatency: make(map[string]*LatencyStats),
			ComponentCalls:   make(map[string]int64),
			ComponentErrors:  make(map[string]int64),
		},
	}
}

// OnStart 节点开始执行时调用
func (h *MetricsHandler) OnStart(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
	if !h.cfg.Enabled {
		return ctx
	}

	h.metrics.mu.Lock()
	h.metrics.TotalCalls++
	h.metrics.ComponentCalls[info.Name]++
	h.metrics.mu.Unlock()

	return context.WithValue(ctx, metricsStartTimeKey, time.Now())
}

// OnEnd 节点执行完成时调用
func (h *MetricsHandler) OnEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	if !h.cfg.Enabled {
		return ctx
	}

	startTime, ok := ctx.Value(metricsStartTimeKey).(time.Time)
	if !ok {
		return ctx
	}
	durationMs := time.Since(startTime).Milliseconds()

	h.metrics.mu.Lock()
	defer h.metrics.mu.Unlock()

	h.metrics.SuccessfulCalls++
	h.metrics.TotalLatencyMs += durationMs

	stats, exists := h.metrics.ComponentLatency[info.Name]
	if !exists {
		stats = &LatencyStats{
			MinMs: durationMs,
			MaxMs: durationMs,
		}
		h.metrics.ComponentLatency[info.Name] = stats
	}

	stats.Count++
	stats.TotalMs += durationMs
	if durationMs < stats.MinMs {
		stats.MinMs = durationMs
	}
	if durationMs > stats.MaxMs {
		stats.MaxMs = durationMs
	}

	return ctx
}

// OnError 节点执行出错时调用
func (h *MetricsHandler) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	if !h.cfg.Enabled {
		return ctx
	}

	h.metrics.mu.Lock()
	defer h.metrics.mu.Unlock()

	h.metrics.FailedCalls++
	h.metrics.ComponentErrors[info.Name]++

	return ctx
}

// OnStartWithStreamInput 流式输入开始时调用
func (h *MetricsHandler) OnStartWithStreamInput(ctx context.Context, info *callbacks.RunInfo, input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	if input != nil {
		input.Close()
	}
	return h.OnStart(ctx, info, nil)
}

// OnEndWithStreamOutput 流式输出结束时调用
func (h *MetricsHandler) OnEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo, output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	if output != nil {
		output.Close()
	}
	return h.OnEnd(ctx, info, nil)
}

// GetMetrics 获取当前指标快照
func (h *MetricsHandler) GetMetrics() map[string]interface{} {
	h.metrics.mu.RLock()
	defer h.metrics.mu.RUnlock()

	avgLatency := int64(0)
	if h.metrics.SuccessfulCalls > 0 {
		avgLatency = h.metrics.TotalLatencyMs / h.metrics.SuccessfulCalls
	}

	componentStats := make(map[string]interface{}, len(h.metrics.ComponentLatency))
	for name, stats := range h.metrics.ComponentLatency {
		avgMs := int64(0)
		if stats.Count > 0 {
			avgMs = stats.TotalMs / stats.Count
		}
		componentStats[name] = map[string]interface{}{
			"count":  stats.Count,
			"avg_ms": avgMs,
			"min_ms": stats.MinMs,
			"max_ms": stats.MaxMs,
		}
	}

	calls := make(map[string]int64, len(h.metrics.ComponentCalls))
	for k, v := range h.metrics.ComponentCalls {
		calls[k] = v
	}
	errs := make(map[string]int64, len(h.metrics.ComponentErrors))
	for k, v := range h.metrics.ComponentErrors {
		errs[k] = v
	}

	return map[string]interface{}{
		"total_calls":      h.metrics.TotalCalls,
		"successful_calls": h.metrics.SuccessfulCalls,
		"failed_calls":     h.metrics.FailedCalls,
		"avg_latency_ms":   avgLatency,
		"component_stats":  componentStats,
		"component_calls":  calls,
		"component_errors": errs,
	}
}

// Reset 重置指标
func (h *MetricsHandler) Reset() {
	h.metrics.mu.Lock()
	defer h.metrics.mu.Unlock()

	h.metrics.TotalCalls = 0
	h.metrics.SuccessfulCalls = 0
	h.metrics.FailedCalls = 0
	h.metrics.TotalLatencyMs = 0
	h.metrics.ComponentLatency = make(map[string]*LatencyStats)
	h.metrics.ComponentCalls = make(map[string]int64)
	h.metrics.ComponentErrors = make(map[string]int64)
}

const (
	metricsStartTimeKey contextKey = "metrics_start_time"
)
