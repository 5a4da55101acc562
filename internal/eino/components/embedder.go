// Package components 提供相似版本索引所需的 Eino 组件工厂函数
package components

import (
	"context"
	"fmt"
	"time"

	openaiembed "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"

	"prompt-compiler/internal/eino/config"
)

// NewEmbedder 根据配置创建 Embedder。
// 仅支持 OpenAI 兼容接口，其他模型服务通过 base_url 接入。
func NewEmbedder(ctx context.Context, cfg *config.EmbedderConfig) (embedding.Embedder, error) {
	switch cfg.Provider {
	case "openai":
		return newOpenAIEmbedder(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

func newOpenAIEmbedder(ctx context.Context, cfg *config.EmbedderConfig) (embedding.Embedder, error) {
	embedCfg := &openaiembed.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Timeout: time.Duration(cfg.Timeout) * time.Second,
	}

	if cfg.BaseURL != "" {
		embedCfg.BaseURL = cfg.BaseURL
	}

	// Azure OpenAI
	if cfg.ByAzure {
		embedCfg.ByAzure = true
		embedCfg.APIVersion = cfg.APIVersion
	}

	if cfg.Dimensions != nil {
		embedCfg.Dimensions = cfg.Dimensions
	}

	return openaiembed.NewEmbedder(ctx, embedCfg)
}
