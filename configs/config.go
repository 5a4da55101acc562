package configs

import (
	"fmt"
	"time"

	einoconfig "prompt-compiler/internal/eino/config"
	"prompt-compiler/internal/infrastructure/llm"
)

// Config 主配置结构体，定义了应用程序的所有配置项。
// 包含服务器、日志、大模型、存储、编译器、历史保留和 Eino 编排层的配置信息。
type Config struct {
	Server    ServerConfig          `yaml:"server"`
	Logging   LoggingConfig         `yaml:"logging"`
	LLM       LLMConfig             `yaml:"llm"`
	Storage   StorageConfig         `yaml:"storage"`
	Compiler  CompilerConfig        `yaml:"compiler"`
	Retention RetentionConfig       `yaml:"retention"`
	Eino      einoconfig.EinoConfig `yaml:"eino"` // Eino 框架配置
}

// ServerConfig 定义服务器相关的配置参数。
// 包含监听地址、端口、超时设置等。
type ServerConfig struct {
	Host                    string        `yaml:"host"`
	Port                    int           `yaml:"port"`
	ReadTimeout             time.Duration `yaml:"read_timeout"`
	WriteTimeout            time.Duration `yaml:"write_timeout"`
	IdleTimeout             time.Duration `yaml:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// LoggingConfig 定义日志系统的配置参数。
// 包含日志级别、输出目标（stdout/stderr/file）和格式（text/json）。
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
	Format   string `yaml:"format"`
}

// LLMConfig 大模型配置。provider 为 heuristic 时不调用任何外部模型。
type LLMConfig struct {
	Provider   string        `yaml:"provider"` // openai, ollama, heuristic
	Model      string        `yaml:"model"`
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	RateLimit  float64       `yaml:"rate_limit"` // 每秒请求数
	Burst      int           `yaml:"burst"`
}

// StorageConfig 模板与历史版本的存储配置
type StorageConfig struct {
	Type  string             `yaml:"type"` // memory, redis
	Redis RedisStorageConfig `yaml:"redis"`
}

// RedisStorageConfig Redis 文档存储配置
type RedisStorageConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	Prefix      string        `yaml:"prefix"`
	PoolSize    int           `yaml:"pool_size"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// CompilerConfig 编译流水线的业务配置
type CompilerConfig struct {
	// SelfCheckPolicy 自检未通过时的处理策略：keep 保留重写结果，revert 回退到组合结果
	SelfCheckPolicy string   `yaml:"self_check_policy"`
	ForbiddenWords  []string `yaml:"forbidden_words"`

	// SeedTemplates 模板目录为空时是否导入预置模板
	SeedTemplates bool `yaml:"seed_templates"`
	// TemplatesFile 预置模板文件，为空时使用内置模板
	TemplatesFile string `yaml:"templates_file"`
}

// RetentionConfig 历史版本保留配置
type RetentionConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Days     int           `yaml:"days"`
	Interval time.Duration `yaml:"interval"`
}

// Validate 检查 Config 配置结构体的有效性。
// 依次调用各个子配置项的 Validate 方法，如果发现无效配置，返回相应的错误。
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config validation failed: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config validation failed: %w", err)
	}

	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm config validation failed: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config validation failed: %w", err)
	}

	if err := c.Compiler.Validate(); err != nil {
		return fmt.Errorf("compiler config validation failed: %w", err)
	}

	if err := c.Retention.Validate(); err != nil {
		return fmt.Errorf("retention config validation failed: %w", err)
	}

	if err := c.Eino.Validate(); err != nil {
		return fmt.Errorf("eino config validation failed: %w", err)
	}

	return nil
}

// Validate 检查 ServerConfig 配置的有效性。
// 确保端口号在有效范围内，且超时设置为正数。
func (s *ServerConfig) Validate() error {
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("invalid port: %d", s.Port)
	}

	if s.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be positive")
	}

	if s.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive")
	}

	if s.GracefulShutdownTimeout <= 0 {
		s.GracefulShutdownTimeout = 30 * time.Second
	}

	return nil
}

// Validate 检查 LoggingConfig 配置的有效性。
// 确保日志级别、输出目标和格式有效，如果输出到文件，确保文件路径已指定。
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}

	if !validLevels[l.Level] {
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	validOutputs := map[string]bool{
		"stdout": true, "stderr": true, "file": true,
	}

	if !validOutputs[l.Output] {
		return fmt.Errorf("invalid log output: %s", l.Output)
	}

	if l.Output == "file" && l.FilePath == "" {
		return fmt.Errorf("file path is required when output is file")
	}

	// 验证日志格式，空值默认为 text
	validFormats := map[string]bool{
		"text": true, "json": true, "": true,
	}

	if !validFormats[l.Format] {
		return fmt.Errorf("invalid log format: %s", l.Format)
	}

	return nil
}

// Validate 检查 LLMConfig 配置的有效性，并补全超时与重试的默认值
func (l *LLMConfig) Validate() error {
	switch l.Provider {
	case llm.ProviderHeuristic:
		return nil
	case llm.ProviderOpenAI:
		if l.APIKey == "" {
			return fmt.Errorf("api_key is required for openai provider")
		}
	case llm.ProviderOllama:
		if l.BaseURL == "" {
			return fmt.Errorf("base_url is required for ollama provider")
		}
	default:
		return fmt.Errorf("unsupported llm provider: %s", l.Provider)
	}

	if l.Model == "" {
		return fmt.Errorf("model is required")
	}
	if l.Timeout <= 0 {
		l.Timeout = 30 * time.Second
	}
	if l.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if l.RetryDelay <= 0 {
		l.RetryDelay = time.Second
	}
	if l.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	return nil
}

// ClientConfig 转换为大模型客户端配置
func (l *LLMConfig) ClientConfig() llm.Config {
	return llm.Config{
		Provider:   l.Provider,
		Model:      l.Model,
		APIKey:     l.APIKey,
		BaseURL:    l.BaseURL,
		Timeout:    l.Timeout,
		MaxRetries: l.MaxRetries,
		RetryDelay: l.RetryDelay,
		RateLimit:  l.RateLimit,
		Burst:      l.Burst,
	}
}

// Validate 检查 StorageConfig 配置的有效性
func (s *StorageConfig) Validate() error {
	switch s.Type {
	case "memory":
		return nil
	case "redis":
		if s.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required")
		}
		if s.Redis.Prefix == "" {
			s.Redis.Prefix = "prompt_compiler"
		}
		if s.Redis.DialTimeout <= 0 {
			s.Redis.DialTimeout = 5 * time.Second
		}
		return nil
	default:
		return fmt.Errorf("unsupported storage type: %s", s.Type)
	}
}

// Validate 检查 CompilerConfig 配置的有效性，空策略默认为 keep
func (c *CompilerConfig) Validate() error {
	switch c.SelfCheckPolicy {
	case "":
		c.SelfCheckPolicy = einoconfig.SelfCheckKeep
	case einoconfig.SelfCheckKeep, einoconfig.SelfCheckRevert:
	default:
		return fmt.Errorf("unsupported self_check_policy: %s", c.SelfCheckPolicy)
	}
	return nil
}

// Validate 检查 RetentionConfig 配置的有效性
func (r *RetentionConfig) Validate() error {
	if !r.Enabled {
		return nil
	}
	if r.Days <= 0 {
		return fmt.Errorf("retention days must be positive")
	}
	if r.Interval <= 0 {
		return fmt.Errorf("retention interval must be positive")
	}
	return nil
}

// GetAddr 获取服务器的完整监听地址。
// 返回格式为 "Host:Port" 的字符串。
func (s *ServerConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
