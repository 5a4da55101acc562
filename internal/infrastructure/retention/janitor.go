// Package retention 定期清理超过保留天数的历史版本。
//
// 清理器在后台运行，启动时立即执行一次，之后按固定间隔执行，ctx 取消后退出。
package retention

import (
	"context"
	"time"

	"prompt-compiler/pkg/logger"
)

// MinInterval 清理间隔下限
const MinInterval = time.Minute

// Purger 按保留天数删除历史版本
type Purger interface {
	DeleteOlderThan(ctx context.Context, retentionDays int) (int, error)
}

// CycleStats 单轮清理结果
type CycleStats struct {
	Deleted int
	Elapsed time.Duration
	Err     error
}

// Janitor 历史版本清理器
type Janitor struct {
	purger   Purger
	days     int
	interval time.Duration
	log      logger.Logger

	// onCycle 每轮结束后回调，测试使用
	onCycle func(CycleStats)
}

// NewJanitor 创建清理器，interval 小于 MinInterval 时使用 MinInterval
func NewJanitor(purger Purger, days int, interval time.Duration, log logger.Logger) *Janitor {
	if interval < MinInterval {
		interval = MinInterval
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Janitor{
		purger:   purger,
		days:     days,
		interval: interval,
		log:      log,
	}
}

// Start 运行清理循环，阻塞直到 ctx 被取消
func (j *Janitor) Start(ctx context.Context) {
	j.log.InfoContext(ctx, "历史版本清理器启动",
		"retention_days", j.days,
		"interval", j.interval.String())

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			j.log.InfoContext(context.Background(), "历史版本清理器已停止")
			return
		case <-ticker.C:
			j.runCycle(ctx)
		}
	}
}

// RunOnce 立即执行一轮清理
func (j *Janitor) RunOnce(ctx context.Context) CycleStats {
	return j.runCycle(ctx)
}

func (j *Janitor) runCycle(ctx context.Context) CycleStats {
	start := time.Now()
	deleted, err := j.purger.DeleteOlderThan(ctx, j.days)
	stats := CycleStats{Deleted: deleted, Elapsed: time.Since(start), Err: err}

	switch {
	case err != nil:
		j.log.WarnContext(ctx, "历史版本清理失败", "retention_days", j.days, "error", err)
	case deleted > 0:
		j.log.InfoContext(ctx, "历史版本清理完成",
			"deleted", deleted,
			"elapsed_ms", stats.Elapsed.Milliseconds())
	}

	if j.onCycle != nil {
		j.onCycle(stats)
	}
	return stats
}
