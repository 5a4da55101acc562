package callbacks

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/schema"

	"prompt-compiler/internal/eino/config"
	"prompt-compiler/pkg/logger"
)

// LoggingHandler 实现基于日志的 Callback 处理器。
// 它会在流水线节点开始、结束或出错时记录日志，节点字段通过 InjectFields 传递给节点内部的日志。
type LoggingHandler struct {
	logger logger.Logger
	cfg    *config.LoggingCallbackConfig
}

// NewLoggingHandler 创建一个新的日志回调处理器。
// 参数 log: 底层日志记录器。
// 参数 cfg: 日志回调配置，Level 为 info 时开始与完成事件按 Info 级别输出。
// 返回: callbacks.Handler 接口实现。
func NewLoggingHandler(log logger.Logger, cfg *config.LoggingCallbackConfig) callbacks.Handler {
	return &LoggingHandler{
		logger: log,
		cfg:    cfg,
	}
}

// log 按配置级别输出常规事件
func (h *LoggingHandler) log(ctx context.Context, msg string, args ...interface{}) {
	if strings.EqualFold(h.cfg.Level, "info") {
		h.logger.InfoContext(ctx, msg, args...)
		return
	}
	h.logger.DebugContext(ctx, msg, args...)
}

// OnStart 在节点开始执行时被调用。
// 记录节点名称、类型和开始时间，并将开始时间注入上下文以计算耗时。
func (h *LoggingHandler) OnStart(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
	if !h.cfg.Enabled {
		return ctx
	}

	ctx = context.WithValue(ctx, startTimeKey, time.Now())

	// 注入节点字段，后续日志自动携带
	ctx = logger.InjectFields(ctx, logger.Fields{
		"component": info.Component,
		"node":      info.Name,
	})

	h.log(ctx, "节点开始执行", "type", info.Type)

	return ctx
}

// OnEnd 在节点执行完成时被调用
func (h *LoggingHandler) OnEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	if !h.cfg.Enabled {
		return ctx
	}

	h.log(ctx, "节点执行完成",
		"type", info.Type,
		"duration_ms", elapsedMs(ctx, startTimeKey),
	)

	return ctx
}

// OnError 在节点执行出错时被调用。
// 错误始终按 Error 级别输出。
func (h *LoggingHandler) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	if !h.cfg.Enabled {
		return ctx
	}

	h.logger.ErrorContext(ctx, "节点执行出错",
		"component", info.Component,
		"node", info.Name,
		"duration_ms", elapsedMs(ctx, startTimeKey),
		"error", err.Error(),
	)

	return ctx
}

// OnStartWithStreamInput 在流式输入开始时被调用。
// 流水线不消费流内容，直接关闭。
func (h *LoggingHandler) OnStartWithStreamInput(ctx context.Context, info *callbacks.RunInfo, input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	if input != nil {
		input.Close()
	}
	return h.OnStart(ctx, info, nil)
}

// OnEndWithStreamOutput 在流式输出结束时被调用
func (h *LoggingHandler) OnEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo, output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	if output != nil {
		output.Close()
	}
	return h.OnEnd(ctx, info, nil)
}

// elapsedMs 计算从上下文记录的开始时间到现在的毫秒数，没有开始时间时返回 0
func elapsedMs(ctx context.Context, key contextKey) int64 {
	startTime, ok := ctx.Value(key).(time.Time)
	if !ok {
		return 0
	}
	return time.Since(startTime).Milliseconds()
}

// contextKey 定义了上下文键的类型，用于防止键名冲突。
type contextKey string

const (
	// startTimeKey 用于在上下文中存储节点开始执行的时间。
	startTimeKey contextKey = "callback_start_time"
)
