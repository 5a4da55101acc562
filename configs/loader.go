package configs

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	einoconfig "prompt-compiler/internal/eino/config"
	"prompt-compiler/internal/infrastructure/llm"
)

// configPaths 配置文件搜索路径，使用第一个可读取的文件
var configPaths = []string{
	"configs/config.yaml",
	"config.yaml",
	"/etc/prompt-compiler/config.yaml",
}

// Load 加载并验证应用程序配置。
// 它按照以下优先级顺序加载配置：
// 1. 默认配置
// 2. 配置文件（config.yaml，支持多个搜索路径）
// 3. 环境变量（覆盖配置文件中的值）
//
// 参数 ctx: 上下文对象。
// 返回加载并验证后的 Config 指针，如果出错则返回 error。
func Load(ctx context.Context) (*Config, error) {
	// .env 文件是可选的
	_ = godotenv.Load()

	config := DefaultConfig()

	for _, path := range configPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
		break
	}

	loadFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// DefaultConfig 创建并返回一个包含默认值的 Config 对象。
// 默认使用内存存储与启发式语义服务，无需任何外部依赖即可启动。
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                    "0.0.0.0",
			Port:                    8080,
			ReadTimeout:             30 * time.Second,
			WriteTimeout:            120 * time.Second,
			IdleTimeout:             60 * time.Second,
			GracefulShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			Format: "text",
		},
		LLM: LLMConfig{
			Provider:   llm.ProviderHeuristic,
			Model:      "gpt-4o-mini",
			Timeout:    30 * time.Second,
			MaxRetries: 2,
			RetryDelay: time.Second,
			RateLimit:  5,
			Burst:      5,
		},
		Storage: StorageConfig{
			Type: "memory",
			Redis: RedisStorageConfig{
				Addr:        "localhost:6379",
				Prefix:      "prompt_compiler",
				PoolSize:    20,
				DialTimeout: 5 * time.Second,
			},
		},
		Compiler: CompilerConfig{
			SelfCheckPolicy: einoconfig.SelfCheckKeep,
			SeedTemplates:   true,
		},
		Retention: RetentionConfig{
			Enabled:  false,
			Days:     30,
			Interval: 24 * time.Hour,
		},
		Eino: *einoconfig.DefaultEinoConfig(),
	}
}

// loadFromEnv 从环境变量中读取配置并覆盖 Config 中的值
func loadFromEnv(config *Config) {
	if port := os.Getenv("PROMPT_COMPILER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 && p <= 65535 {
			config.Server.Port = p
		}
	}

	// 大模型配置
	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		config.LLM.Provider = provider
	}
	if model := os.Getenv("LLM_MODEL"); model != "" {
		config.LLM.Model = model
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
		config.Eino.Similarity.Embedder.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		if config.LLM.Provider == llm.ProviderOpenAI {
			config.LLM.BaseURL = baseURL
		}
		config.Eino.Similarity.Embedder.BaseURL = baseURL
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" && config.LLM.Provider == llm.ProviderOllama {
		config.LLM.BaseURL = baseURL
	}

	// 存储配置
	if storageType := os.Getenv("STORAGE_TYPE"); storageType != "" {
		config.Storage.Type = storageType
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		config.Storage.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		config.Storage.Redis.Password = password
	}

	// 相似索引向量库
	if host := os.Getenv("QDRANT_HOST"); host != "" {
		config.Eino.Similarity.Retriever.Qdrant.Host = host
		config.Eino.Similarity.Indexer.Qdrant.Host = host
	}
}
