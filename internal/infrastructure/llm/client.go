// Package llm 封装大模型调用：限流、超时、重试以及 JSON 响应解析
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"prompt-compiler/pkg/logger"
)

// 支持的模型提供方
const (
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderHeuristic = "heuristic"
)

// ErrEmptyResponse 模型没有返回任何内容
var ErrEmptyResponse = errors.New("llm returned empty response")

// Config 大模型客户端配置
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string

	// Timeout 单次调用超时
	Timeout time.Duration
	// MaxRetries 失败后的最大重试次数，0 表示不重试
	MaxRetries int
	// RetryDelay 线性退避的基础间隔，第 n 次重试等待 n*RetryDelay
	RetryDelay time.Duration

	// RateLimit 每秒请求数，<=0 表示不限流
	RateLimit float64
	Burst     int
}

// Client 大模型客户端
type Client struct {
	model   llms.Model
	limiter *rate.Limiter
	cfg     Config
	logger  logger.Logger
}

// New 根据配置创建客户端
func New(cfg Config, log logger.Logger) (*Client, error) {
	var (
		model llms.Model
		err   error
	)

	switch cfg.Provider {
	case ProviderOpenAI:
		opts := []openai.Option{
			openai.WithModel(cfg.Model),
			openai.WithToken(cfg.APIKey),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
	case ProviderOllama:
		model, err = ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s model: %w", cfg.Provider, err)
	}

	return NewWithModel(model, cfg, log), nil
}

// NewWithModel 使用已有的模型实例创建客户端
func NewWithModel(model llms.Model, cfg Config, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetDefault()
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		model:   model,
		limiter: rate.NewLimiter(limit, burst),
		cfg:     cfg,
		logger:  log,
	}
}

// Complete 发送 system + user 两条消息并返回模型文本
//
// 参数:
//
//	ctx: 上下文，取消后立即返回
//	system: 系统提示词
//	user: 用户消息
//	temperature: 采样温度
//
// 返回:
//
//	string: 模型返回的文本
//	error: 重试耗尽后的最后一次错误
func (c *Client) Complete(ctx context.Context, system, user string, temperature float64) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.RetryDelay * time.Duration(attempt)
			c.logger.WarnContext(ctx, "大模型调用失败，准备重试",
				"attempt", attempt,
				"delay", delay.String(),
				"error", lastErr)
			if err := sleep(ctx, delay); err != nil {
				return "", err
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}

		start := time.Now()
		content, err := c.generate(ctx, messages, temperature)
		if err == nil {
			c.logger.DebugContext(ctx, "大模型调用成功",
				"model", c.cfg.Model,
				"duration_ms", time.Since(start).Milliseconds(),
				"response_length", len(content))
			return content, nil
		}

		lastErr = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
	}

	return "", fmt.Errorf("llm call failed after %d attempts: %w", c.cfg.MaxRetries+1, lastErr)
}

func (c *Client) generate(ctx context.Context, messages []llms.MessageContent, temperature float64) (string, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	resp, err := c.model.GenerateContent(ctx, messages, llms.WithTemperature(temperature))
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
