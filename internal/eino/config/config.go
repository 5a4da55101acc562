// Package config 定义 Eino 编排层的配置结构
package config

import (
	"errors"
	"fmt"
)

// 自检失败时的处理策略
const (
	SelfCheckKeep   = "keep"
	SelfCheckRevert = "revert"
)

// EinoConfig Eino 编排层的总配置。
// 包含编译流水线、相似版本索引以及回调系统的配置。
type EinoConfig struct {
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Similarity SimilarityConfig `yaml:"similarity"`
	Callbacks  CallbacksConfig  `yaml:"callbacks"`
}

// PipelineConfig 编译流水线配置
type PipelineConfig struct {
	// GraphName 编译流水线 Graph 名称，出现在回调信息中
	GraphName string `yaml:"graph_name"`

	// OptimizeGraphName 独立优化流程的 Graph 名称
	OptimizeGraphName string `yaml:"optimize_graph_name"`

	// IndexTimeout 持久化后写入相似索引的超时（秒）
	IndexTimeout int `yaml:"index_timeout"`
}

// SimilarityConfig 相似版本索引配置，默认关闭
type SimilarityConfig struct {
	Enabled bool `yaml:"enabled"`

	Embedder  EmbedderConfig  `yaml:"embedder"`
	Retriever RetrieverConfig `yaml:"retriever"`
	Indexer   IndexerConfig   `yaml:"indexer"`
	Search    SearchConfig    `yaml:"search"`
}

// EmbedderConfig 文本嵌入服务配置，使用 OpenAI 兼容接口
type EmbedderConfig struct {
	Provider   string `yaml:"provider"` // openai
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Timeout    int    `yaml:"timeout"`    // 秒
	Dimensions *int   `yaml:"dimensions"` // 向量维度（可选）

	// Azure OpenAI 专用
	ByAzure    bool   `yaml:"by_azure"`
	APIVersion string `yaml:"api_version"`
}

// RetrieverConfig 检索器配置，负责从向量数据库中召回相似版本
type RetrieverConfig struct {
	Provider       string  `yaml:"provider"` // qdrant, milvus, redis, es8
	Collection     string  `yaml:"collection"`
	TopK           int     `yaml:"top_k"`
	ScoreThreshold float64 `yaml:"score_threshold"`

	Qdrant QdrantRetrieverConfig `yaml:"qdrant"`
	Milvus MilvusRetrieverConfig `yaml:"milvus"`
	Redis  RedisRetrieverConfig  `yaml:"redis"`
	ES8    ES8RetrieverConfig    `yaml:"es8"`
}

// QdrantRetrieverConfig Qdrant 检索器配置
type QdrantRetrieverConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	UseTLS bool   `yaml:"use_tls"`
}

// MilvusRetrieverConfig Milvus 检索器配置
type MilvusRetrieverConfig struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	Partition    string   `yaml:"partition"`
	VectorField  string   `yaml:"vector_field"`
	OutputFields []string `yaml:"output_fields"`
	MetricType   string   `yaml:"metric_type"`
}

// RedisRetrieverConfig Redis 检索器配置
type RedisRetrieverConfig struct {
	Addr         string   `yaml:"addr"`
	Password     string   `yaml:"password"`
	DB           int      `yaml:"db"`
	Index        string   `yaml:"index"`
	Prefix       string   `yaml:"prefix"`
	VectorField  string   `yaml:"vector_field"`
	ReturnFields []string `yaml:"return_fields"`
}

// ES8RetrieverConfig Elasticsearch 8 检索器配置
type ES8RetrieverConfig struct {
	Addresses   []string `yaml:"addresses"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	Index       string   `yaml:"index"`
	VectorField string   `yaml:"vector_field"`
	Hybrid      bool     `yaml:"hybrid"`
}

// IndexerConfig 索引器配置，负责将已持久化的版本向量化写入向量数据库
type IndexerConfig struct {
	Provider   string `yaml:"provider"`
	Collection string `yaml:"collection"`
	VectorSize int    `yaml:"vector_size"`

	Qdrant QdrantIndexerConfig `yaml:"qdrant"`
	Milvus MilvusIndexerConfig `yaml:"milvus"`
	Redis  RedisIndexerConfig  `yaml:"redis"`
	ES8    ES8IndexerConfig    `yaml:"es8"`
}

// QdrantIndexerConfig Qdrant 索引器配置
type QdrantIndexerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	APIKey   string `yaml:"api_key"`
	UseTLS   bool   `yaml:"use_tls"`
	Distance string `yaml:"distance"` // Cosine, Euclid, Dot, Manhattan
}

// MilvusIndexerConfig Milvus 索引器配置
type MilvusIndexerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// RedisIndexerConfig Redis 索引器配置
type RedisIndexerConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// ES8IndexerConfig Elasticsearch 8 索引器配置
type ES8IndexerConfig struct {
	Addresses   []string `yaml:"addresses"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	Index       string   `yaml:"index"`
	VectorField string   `yaml:"vector_field"`
}

// SearchConfig 相似检索流程配置
type SearchConfig struct {
	// SelectionStrategy 结果排序策略：first, highest_score
	SelectionStrategy string  `yaml:"selection_strategy"`
	MinScore          float64 `yaml:"min_score"`
	MaxTopK           int     `yaml:"max_top_k"`

	// RetrieveTimeout 检索超时（秒）
	RetrieveTimeout int `yaml:"retrieve_timeout"`
}

// CallbacksConfig Graph 运行回调配置
type CallbacksConfig struct {
	Logging LoggingCallbackConfig `yaml:"logging"`
	Metrics MetricsCallbackConfig `yaml:"metrics"`
	Tracing TracingCallbackConfig `yaml:"tracing"`
}

// LoggingCallbackConfig 日志回调配置
type LoggingCallbackConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"` // debug, info
}

// MetricsCallbackConfig 指标回调配置
type MetricsCallbackConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingCallbackConfig 跨度日志回调配置
type TracingCallbackConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Validate 校验 Eino 配置
func (c *EinoConfig) Validate() error {
	if c.Pipeline.GraphName == "" {
		return errors.New("eino.pipeline.graph_name is required")
	}
	if !c.Similarity.Enabled {
		return nil
	}

	s := &c.Similarity
	if s.Embedder.Provider != "openai" {
		return fmt.Errorf("unsupported embedding provider: %s", s.Embedder.Provider)
	}
	for _, p := range []string{s.Retriever.Provider, s.Indexer.Provider} {
		switch p {
		case "qdrant", "milvus", "redis", "es8":
		default:
			return fmt.Errorf("unsupported vector store provider: %q", p)
		}
	}
	if s.Retriever.Provider != s.Indexer.Provider {
		return fmt.Errorf("retriever provider %s does not match indexer provider %s", s.Retriever.Provider, s.Indexer.Provider)
	}
	switch s.Search.SelectionStrategy {
	case "first", "highest_score":
	default:
		return fmt.Errorf("unsupported selection strategy: %s", s.Search.SelectionStrategy)
	}
	return nil
}

// DefaultEinoConfig 返回默认配置。
// 相似索引默认关闭，开启后使用 OpenAI Embedder 与 Qdrant。
func DefaultEinoConfig() *EinoConfig {
	return &EinoConfig{
		Pipeline: PipelineConfig{
			GraphName:         "prompt_compile",
			OptimizeGraphName: "prompt_optimize",
			IndexTimeout:      10,
		},
		Similarity: SimilarityConfig{
			Enabled: false,
			Embedder: EmbedderConfig{
				Provider: "openai",
				Model:    "text-embedding-3-small",
				Timeout:  30,
			},
			Retriever: RetrieverConfig{
				Provider:       "qdrant",
				Collection:     "prompt_versions",
				TopK:           5,
				ScoreThreshold: 0.5,
				Qdrant: QdrantRetrieverConfig{
					Host: "localhost",
					Port: 6334,
				},
			},
			Indexer: IndexerConfig{
				Provider:   "qdrant",
				Collection: "prompt_versions",
				VectorSize: 1536,
				Qdrant: QdrantIndexerConfig{
					Host:     "localhost",
					Port:     6334,
					Distance: "Cosine",
				},
			},
			Search: SearchConfig{
				SelectionStrategy: "highest_score",
				MinScore:          0,
				MaxTopK:           20,
				RetrieveTimeout:   30,
			},
		},
		Callbacks: CallbacksConfig{
			Logging: LoggingCallbackConfig{
				Enabled: true,
				Level:   "debug",
			},
			Metrics: MetricsCallbackConfig{
				Enabled: true,
			},
			Tracing: TracingCallbackConfig{
				Enabled: false,
			},
		},
	}
}
