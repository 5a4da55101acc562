package logger

import (
	"context"
	"log/slog"
	"sort"
)

// Fields 注入到上下文中的日志字段
type Fields map[string]any

type fieldsKey struct{}

// InjectFields 将字段合并进上下文，同名字段后写覆盖先写。
// 之后所有 *Context 日志调用都会自动携带这些字段。
func InjectFields(ctx context.Context, fields Fields) context.Context {
	if len(fields) == 0 {
		return ctx
	}

	merged := make(Fields, len(fields))
	for k, v := range FieldsFromContext(ctx) {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return context.WithValue(ctx, fieldsKey{}, merged)
}

// FieldsFromContext 读取上下文中的日志字段
func FieldsFromContext(ctx context.Context) Fields {
	if ctx == nil {
		return nil
	}
	fields, _ := ctx.Value(fieldsKey{}).(Fields)
	return fields
}

// fieldsHandler 在输出前把上下文字段追加到记录上
type fieldsHandler struct {
	next slog.Handler
}

func (h *fieldsHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *fieldsHandler) Handle(ctx context.Context, record slog.Record) error {
	fields := FieldsFromContext(ctx)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			record.AddAttrs(slog.Any(k, fields[k]))
		}
	}
	return h.next.Handle(ctx, record)
}

func (h *fieldsHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fieldsHandler{next: h.next.WithAttrs(attrs)}
}

func (h *fieldsHandler) WithGroup(name string) slog.Handler {
	return &fieldsHandler{next: h.next.WithGroup(name)}
}
