package callbacks

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"prompt-compiler/internal/eino/config"
	"prompt-compiler/pkg/logger"
)

// TracingHandler 跨度日志回调处理器。
// 以请求 ID 作为 Trace ID，为每个节点生成跨度并以日志形式输出。
type TracingHandler struct {
	cfg    *config.TracingCallbackConfig
	logger logger.Logger
	spanID atomic.Uint64
}

// SpanInfo 跨度信息
type SpanInfo struct {
	TraceID   string
	SpanID    string
	ParentID  string
	Component string
	Name      string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Status    string
	Error     error
}

// NewTracingHandler 创建跨度日志回调处理器
func NewTracingHandler(cfg *config.TracingCallbackConfig, log logger.Logger) callbacks.Handler {
	return &TracingHandler{
		cfg:    cfg,
		logger: log,
	}
}

// OnStart 节点开始执行时调用
func (h *TracingHandler) OnStart(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
	if !h.cfg.Enabled {
		return ctx
	}

	traceID := ExtractTraceID(ctx)
	if traceID == "" {
		traceID = uuid.New().String()
		ctx = WithTraceID(ctx, traceID)
	}

	parentID := ""
	if parent := getCurrentSpan(ctx); parent != nil {
		parentID = parent.SpanID
	}

	span := &SpanInfo{
		TraceID:   traceID,
		SpanID:    h.generateSpanID(),
		ParentID:  parentID,
		Component: string(info.Component),
		Name:      info.Name,
		StartTime: time.Now(),
	}
	ctx = context.WithValue(ctx, currentSpanKey, span)

	h.logger.DebugContext(ctx, "开始跨度",
		"trace_id", span.TraceID,
		"span_id", span.SpanID,
		"parent_id", span.ParentID,
		"name", span.Name,
	)

	return ctx
}

// OnEnd 节点执行完成时调用
func (h *TracingHandler) OnEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	if !h.cfg.Enabled {
		return ctx
	}

	span := getCurrentSpan(ctx)
	if span == nil {
		return ctx
	}
	span.finish("OK", nil)

	h.logger.DebugContext(ctx, "结束跨度",
		"trace_id", span.TraceID,
		"span_id", span.SpanID,
		"duration_ms", span.Duration.Milliseconds(),
		"status", span.Status,
	)

	return ctx
}

// OnError 节点执行出错时调用
func (h *TracingHandler) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	if !h.cfg.Enabled {
		return ctx
	}

	span := getCurrentSpan(ctx)
	if span == nil {
		return ctx
	}
	span.finish("ERROR", err)

	h.logger.WarnContext(ctx, "跨度出错",
		"trace_id", span.TraceID,
		"span_id", span.SpanID,
		"duration_ms", span.Duration.Milliseconds(),
		"error", err.Error(),
	)

	return ctx
}

// OnStartWithStreamInput 流式输入开始时调用
func (h *TracingHandler) OnStartWithStreamInput(ctx context.Context, info *callbacks.RunInfo, input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	if input != nil {
		input.Close()
	}
	return h.OnStart(ctx, info, nil)
}

// OnEndWithStreamOutput 流式输出结束时调用
func (h *TracingHandler) OnEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo, output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	if output != nil {
		output.Close()
	}
	return h.OnEnd(ctx, info, nil)
}

func (s *SpanInfo) finish(status string, err error) {
	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
	s.Status = status
	s.Error = err
}

// generateSpanID 生成进程内唯一的 Span ID
func (h *TracingHandler) generateSpanID() string {
	return fmt.Sprintf("%016x", h.spanID.Add(1))
}

// getCurrentSpan 从上下文获取当前跨度
func getCurrentSpan(ctx context.Context) *SpanInfo {
	if span, ok := ctx.Value(currentSpanKey).(*SpanInfo); ok {
		return span
	}
	return nil
}

const (
	traceIDKey     contextKey = "trace_id"
	currentSpanKey contextKey = "current_span"
)

// WithTraceID 设置 Trace ID 到上下文
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// ExtractTraceID 从上下文提取 Trace ID。
// 未显式设置时使用日志字段中的 request_id。
func ExtractTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceIDKey).(string); ok && traceID != "" {
		return traceID
	}
	if id, ok := logger.FieldsFromContext(ctx)["request_id"].(string); ok {
		return id
	}
	return ""
}
