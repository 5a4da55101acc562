package components

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	es8indexer "github.com/cloudwego/eino-ext/components/indexer/es8"
	milvusindexer "github.com/cloudwego/eino-ext/components/indexer/milvus"
	qdrantindexer "github.com/cloudwego/eino-ext/components/indexer/qdrant"
	redisindexer "github.com/cloudwego/eino-ext/components/indexer/redis"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/indexer"
	"github.com/cloudwego/eino/schema"
	qdrantClient "github.com/qdrant/go-client/qdrant"
	"github.com/redis/go-redis/v9"

	"prompt-compiler/internal/eino/config"
)

// ES 文档中的内容字段与向量字段
const (
	ESContentField = "content"
	ESVectorField  = "vector_content"
)

// NewIndexer 根据配置创建 Indexer，用于把已持久化版本的完整文本写入向量数据库。
// 参数 ctx: 上下文对象。
// 参数 cfg: Indexer 配置，包含后端类型、连接信息和集合名称。
// 参数 embedder: 索引时用于向量化文档。
// 返回: Indexer 实例，后端不支持或初始化失败时返回错误。
func NewIndexer(ctx context.Context, cfg *config.IndexerConfig, embedder embedding.Embedder) (indexer.Indexer, error) {
	switch cfg.Provider {
	case "qdrant":
		return newQdrantIndexer(ctx, cfg, embedder)
	case "milvus":
		return newMilvusIndexer(ctx, cfg, embedder)
	case "redis":
		return newRedisIndexer(ctx, cfg, embedder)
	case "es8":
		return newES8Indexer(ctx, cfg, embedder)
	default:
		return nil, fmt.Errorf("unsupported indexer provider: %s", cfg.Provider)
	}
}

func newQdrantIndexer(ctx context.Context, cfg *config.IndexerConfig, embedder embedding.Embedder) (indexer.Indexer, error) {
	client, err := NewQdrantClient(cfg.Qdrant.Host, cfg.Qdrant.Port, cfg.Qdrant.APIKey, cfg.Qdrant.UseTLS)
	if err != nil {
		return nil, err
	}

	return qdrantindexer.NewIndexer(ctx, &qdrantindexer.Config{
		Client:     client,
		Collection: cfg.Collection,
		VectorDim:  cfg.VectorSize,
		Distance:   parseQdrantDistance(cfg.Qdrant.Distance),
		Embedding:  embedder,
	})
}

// parseQdrantDistance 解析 Qdrant 距离类型，默认 Cosine
func parseQdrantDistance(dist string) qdrantClient.Distance {
	switch strings.ToLower(dist) {
	case "euclid", "euclidean":
		return qdrantClient.Distance_Euclid
	case "dot":
		return qdrantClient.Distance_Dot
	case "manhattan":
		return qdrantClient.Distance_Manhattan
	default:
		return qdrantClient.Distance_Cosine
	}
}

func newMilvusIndexer(ctx context.Context, cfg *config.IndexerConfig, embedder embedding.Embedder) (indexer.Indexer, error) {
	client, err := NewMilvusClient(ctx, cfg.Milvus.Host, cfg.Milvus.Port, cfg.Milvus.Username, cfg.Milvus.Password)
	if err != nil {
		return nil, err
	}

	return milvusindexer.NewIndexer(ctx, &milvusindexer.IndexerConfig{
		Client:     client,
		Collection: cfg.Collection,
		Embedding:  embedder,
	})
}

func newRedisIndexer(ctx context.Context, cfg *config.IndexerConfig, embedder embedding.Embedder) (indexer.Indexer, error) {
	rdb := NewRedisVectorClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)

	if err := EnsureRedisIndex(ctx, rdb, cfg.Collection, cfg.Redis.Prefix, cfg.VectorSize); err != nil {
		return nil, err
	}

	return redisindexer.NewIndexer(ctx, &redisindexer.IndexerConfig{
		Client:    rdb,
		KeyPrefix: cfg.Redis.Prefix,
		Embedding: embedder,
	})
}

// EnsureRedisIndex 创建 RediSearch 向量索引，索引已存在时直接返回
func EnsureRedisIndex(ctx context.Context, rdb *redis.Client, index, prefix string, dim int) error {
	args := []any{
		"FT.CREATE", index,
		"ON", "HASH",
		"PREFIX", "1", prefix,
		"SCHEMA",
		"content", "TEXT",
		"version_id", "TAG",
		"task_type", "TAG",
		"domain", "TAG",
		"vector_content", "VECTOR", "HNSW", "6",
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(dim),
		"DISTANCE_METRIC", "COSINE",
	}
	if err := rdb.Do(ctx, args...).Err(); err != nil {
		if strings.Contains(err.Error(), "Index already exists") {
			return nil
		}
		return fmt.Errorf("create redis index %s: %w", index, err)
	}
	return nil
}

func newES8Indexer(ctx context.Context, cfg *config.IndexerConfig, embedder embedding.Embedder) (indexer.Indexer, error) {
	esClient, err := NewESClient(cfg.ES8.Addresses, cfg.ES8.Username, cfg.ES8.Password)
	if err != nil {
		return nil, err
	}

	vectorField := cfg.ES8.VectorField
	if vectorField == "" {
		vectorField = ESVectorField
	}

	// 元数据平铺为顶层字段，便于过滤
	documentToFields := func(_ context.Context, doc *schema.Document) (map[string]es8indexer.FieldValue, error) {
		fields := map[string]es8indexer.FieldValue{
			ESContentField: {
				Value: doc.Content,
			},
			vectorField: {
				Value:    doc.Content,
				EmbedKey: vectorField,
			},
		}
		for k, v := range doc.MetaData {
			fields[k] = es8indexer.FieldValue{Value: v}
		}
		return fields, nil
	}

	return es8indexer.NewIndexer(ctx, &es8indexer.IndexerConfig{
		Client:           esClient,
		Index:            cfg.ES8.Index,
		Embedding:        embedder,
		DocumentToFields: documentToFields,
	})
}
