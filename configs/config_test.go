package configs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"prompt-compiler/internal/domain/models"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig validation failed: %v", err)
	}
	if cfg.Storage.Type != "memory" || cfg.LLM.Provider != "heuristic" {
		t.Errorf("defaults should need no external services, got storage=%s llm=%s", cfg.Storage.Type, cfg.LLM.Provider)
	}
	if cfg.Eino.Similarity.Enabled {
		t.Error("similarity index should be off by default")
	}
}

func TestLLMConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  LLMConfig
		wantErr bool
	}{
		{"heuristic needs nothing", LLMConfig{Provider: "heuristic"}, false},
		{"openai with key", LLMConfig{Provider: "openai", Model: "gpt-4o-mini", APIKey: "sk-test"}, false},
		{"openai without key", LLMConfig{Provider: "openai", Model: "gpt-4o-mini"}, true},
		{"ollama without url", LLMConfig{Provider: "ollama", Model: "qwen2"}, true},
		{"ollama with url", LLMConfig{Provider: "ollama", Model: "qwen2", BaseURL: "http://localhost:11434"}, false},
		{"missing model", LLMConfig{Provider: "openai", APIKey: "sk-test"}, true},
		{"negative retries", LLMConfig{Provider: "openai", Model: "m", APIKey: "k", MaxRetries: -1}, true},
		{"unknown provider", LLMConfig{Provider: "bard"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLLMConfigDefaults(t *testing.T) {
	cfg := LLMConfig{Provider: "openai", Model: "gpt-4o-mini", APIKey: "sk-test"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Timeout != 30*time.Second || cfg.RetryDelay != time.Second {
		t.Errorf("defaults not applied: timeout=%v retry_delay=%v", cfg.Timeout, cfg.RetryDelay)
	}
	if got := cfg.ClientConfig(); got.Provider != "openai" || got.Timeout != cfg.Timeout {
		t.Errorf("client config = %+v", got)
	}
}

func TestStorageAndCompilerValidation(t *testing.T) {
	tests := []struct {
		name    string
		check   func() error
		wantErr bool
	}{
		{"memory storage", (&StorageConfig{Type: "memory"}).Validate, false},
		{"redis without addr", (&StorageConfig{Type: "redis"}).Validate, true},
		{"redis with addr", (&StorageConfig{Type: "redis", Redis: RedisStorageConfig{Addr: "localhost:6379"}}).Validate, false},
		{"unknown storage", (&StorageConfig{Type: "mongo"}).Validate, true},
		{"empty policy", (&CompilerConfig{}).Validate, false},
		{"revert policy", (&CompilerConfig{SelfCheckPolicy: "revert"}).Validate, false},
		{"unknown policy", (&CompilerConfig{SelfCheckPolicy: "retry"}).Validate, true},
		{"retention disabled", (&RetentionConfig{}).Validate, false},
		{"retention zero days", (&RetentionConfig{Enabled: true, Interval: time.Hour}).Validate, true},
		{"retention zero interval", (&RetentionConfig{Enabled: true, Days: 7}).Validate, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.check(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCompilerPolicyDefault(t *testing.T) {
	c := CompilerConfig{}
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if c.SelfCheckPolicy != "keep" {
		t.Errorf("policy = %q, want keep", c.SelfCheckPolicy)
	}
}

func TestLoggingConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  LoggingConfig
		wantErr bool
	}{
		{"stdout text", LoggingConfig{Level: "info", Output: "stdout", Format: "text"}, false},
		{"json", LoggingConfig{Level: "debug", Output: "stderr", Format: "json"}, false},
		{"file without path", LoggingConfig{Level: "info", Output: "file"}, true},
		{"bad level", LoggingConfig{Level: "trace", Output: "stdout"}, true},
		{"bad format", LoggingConfig{Level: "info", Output: "stdout", Format: "xml"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PROMPT_COMPILER_PORT", "9090")
	t.Setenv("LLM_PROVIDER", "ollama")
	t.Setenv("LLM_MODEL", "qwen2")
	t.Setenv("OLLAMA_BASE_URL", "http://ollama:11434")
	t.Setenv("STORAGE_TYPE", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("QDRANT_HOST", "qdrant")

	cfg := DefaultConfig()
	loadFromEnv(cfg)

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.LLM.Provider != "ollama" || cfg.LLM.Model != "qwen2" || cfg.LLM.BaseURL != "http://ollama:11434" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.Storage.Type != "redis" || cfg.Storage.Redis.Addr != "redis:6379" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Eino.Similarity.Retriever.Qdrant.Host != "qdrant" || cfg.Eino.Similarity.Indexer.Qdrant.Host != "qdrant" {
		t.Error("QDRANT_HOST should apply to retriever and indexer")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("env-derived config should validate: %v", err)
	}
}

func TestLoadFromEnvIgnoresInvalidPort(t *testing.T) {
	t.Setenv("PROMPT_COMPILER_PORT", "not-a-port")
	cfg := DefaultConfig()
	loadFromEnv(cfg)
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want default 8080", cfg.Server.Port)
	}
}

func TestBuiltinTemplates(t *testing.T) {
	templates, err := LoadTemplates("")
	if err != nil {
		t.Fatalf("load builtin templates: %v", err)
	}
	if len(templates) == 0 {
		t.Fatal("builtin templates should not be empty")
	}

	covered := make(map[models.TaskType]bool)
	for _, tpl := range templates {
		if tpl.Name == "" || tpl.Role == "" || tpl.Objective == "" || tpl.OutputFormat == "" {
			t.Errorf("template %q has empty required fields", tpl.Name)
		}
		for _, tt := range tpl.ApplicableTaskTypes {
			if models.ParseTaskType(string(tt)) != tt {
				t.Errorf("template %q has unknown task type %q", tpl.Name, tt)
			}
			covered[tt] = true
		}
	}
	for _, tt := range []models.TaskType{models.TaskGeneration, models.TaskAnalysis, models.TaskExtraction} {
		if !covered[tt] {
			t.Errorf("no builtin template for %s", tt)
		}
	}
}

func TestLoadTemplatesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	content := `templates:
  - name: 翻译
    role: 你是一位专业译者
    objective: "{{objective}}"
    output_format: 只输出译文
    applicable_task_types: [transformation]
    context_vars:
      target: 英文
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	templates, err := LoadTemplates(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(templates) != 1 {
		t.Fatalf("templates = %d, want 1", len(templates))
	}
	got := templates[0]
	if got.Name != "翻译" || got.ContextVars["target"] != "英文" || got.ApplicableTaskTypes[0] != models.TaskTransformation {
		t.Errorf("unexpected template: %+v", got)
	}

	if _, err := LoadTemplates(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}
