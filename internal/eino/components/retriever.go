package components

import (
	"context"
	"encoding/json"
	"fmt"

	es8retriever "github.com/cloudwego/eino-ext/components/retriever/es8"
	"github.com/cloudwego/eino-ext/components/retriever/es8/search_mode"
	milvusretriever "github.com/cloudwego/eino-ext/components/retriever/milvus"
	qdrantretriever "github.com/cloudwego/eino-ext/components/retriever/qdrant"
	redisretriever "github.com/cloudwego/eino-ext/components/retriever/redis"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	"github.com/elastic/go-elasticsearch/v8/typedapi/types"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"prompt-compiler/internal/eino/config"
)

// NewRetriever 根据配置创建 Eino Retriever 实例
func NewRetriever(ctx context.Context, cfg *config.RetrieverConfig, embedder embedding.Embedder) (retriever.Retriever, error) {
	switch cfg.Provider {
	case "qdrant":
		return newQdrantRetriever(ctx, cfg, embedder)
	case "milvus":
		return newMilvusRetriever(ctx, cfg, embedder)
	case "redis":
		return newRedisRetriever(ctx, cfg, embedder)
	case "es8":
		return newES8Retriever(ctx, cfg, embedder)
	default:
		return nil, fmt.Errorf("unsupported retriever provider: %s", cfg.Provider)
	}
}

// newQdrantRetriever 创建 Qdrant Retriever
func newQdrantRetriever(ctx context.Context, cfg *config.RetrieverConfig, embedder embedding.Embedder) (retriever.Retriever, error) {
	client, err := NewQdrantClient(cfg.Qdrant.Host, cfg.Qdrant.Port, cfg.Qdrant.APIKey, cfg.Qdrant.UseTLS)
	if err != nil {
		return nil, err
	}

	retrieverCfg := &qdrantretriever.Config{
		Client:     client,
		Collection: cfg.Collection,
		Embedding:  embedder,
		TopK:       cfg.TopK,
	}

	// 设置相似度阈值
	if cfg.ScoreThreshold > 0 {
		threshold := cfg.ScoreThreshold
		retrieverCfg.ScoreThreshold = &threshold
	}

	return qdrantretriever.NewRetriever(ctx, retrieverCfg)
}

// newMilvusRetriever 创建 Milvus Retriever
func newMilvusRetriever(ctx context.Context, cfg *config.RetrieverConfig, embedder embedding.Embedder) (retriever.Retriever, error) {
	client, err := NewMilvusClient(ctx, cfg.Milvus.Host, cfg.Milvus.Port, cfg.Milvus.Username, cfg.Milvus.Password)
	if err != nil {
		return nil, err
	}

	retrieverCfg := &milvusretriever.RetrieverConfig{
		Client:       client,
		Collection:   cfg.Collection,
		VectorField:  cfg.Milvus.VectorField,
		OutputFields: cfg.Milvus.OutputFields,
		TopK:         cfg.TopK,
		Embedding:    embedder,
	}
	if cfg.Milvus.Partition != "" {
		retrieverCfg.Partition = []string{cfg.Milvus.Partition}
	}
	// 未配置时沿用组件默认的度量方式
	if cfg.Milvus.MetricType != "" {
		retrieverCfg.MetricType = entity.MetricType(cfg.Milvus.MetricType)
	}

	return milvusretriever.NewRetriever(ctx, retrieverCfg)
}

// newRedisRetriever 创建 Redis Retriever
func newRedisRetriever(ctx context.Context, cfg *config.RetrieverConfig, embedder embedding.Embedder) (retriever.Retriever, error) {
	rdb := NewRedisVectorClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)

	index := cfg.Redis.Index
	if index == "" {
		index = cfg.Collection
	}

	retrieverCfg := &redisretriever.RetrieverConfig{
		Client:       rdb,
		Index:        index,
		VectorField:  cfg.Redis.VectorField,
		TopK:         cfg.TopK,
		Embedding:    embedder,
		ReturnFields: cfg.Redis.ReturnFields,
	}
	if cfg.ScoreThreshold > 0 {
		// Redis 返回余弦距离，相似度阈值换算为距离上限
		distance := 1 - cfg.ScoreThreshold
		retrieverCfg.DistanceThreshold = &distance
	}

	return redisretriever.NewRetriever(ctx, retrieverCfg)
}

// newES8Retriever 创建 Elasticsearch Retriever
func newES8Retriever(ctx context.Context, cfg *config.RetrieverConfig, embedder embedding.Embedder) (retriever.Retriever, error) {
	esClient, err := NewESClient(cfg.ES8.Addresses, cfg.ES8.Username, cfg.ES8.Password)
	if err != nil {
		return nil, err
	}

	vectorField := cfg.ES8.VectorField
	if vectorField == "" {
		vectorField = ESVectorField
	}

	retrieverCfg := &es8retriever.RetrieverConfig{
		Client: esClient,
		Index:  cfg.ES8.Index,
		TopK:   cfg.TopK,
		SearchMode: search_mode.SearchModeApproximate(&search_mode.ApproximateConfig{
			QueryFieldName:  ESContentField,
			VectorFieldName: vectorField,
			Hybrid:          cfg.ES8.Hybrid,
		}),
		ResultParser: parseESHit(vectorField),
		Embedding:    embedder,
	}
	if cfg.ScoreThreshold > 0 {
		threshold := cfg.ScoreThreshold
		retrieverCfg.ScoreThreshold = &threshold
	}

	return es8retriever.NewRetriever(ctx, retrieverCfg)
}

// parseESHit 把 ES 命中结果还原为文档，平铺的元数据字段写回 MetaData
func parseESHit(vectorField string) func(ctx context.Context, hit types.Hit) (*schema.Document, error) {
	return func(_ context.Context, hit types.Hit) (*schema.Document, error) {
		doc := &schema.Document{MetaData: map[string]any{}}
		if hit.Id_ != nil {
			doc.ID = *hit.Id_
		}

		var source map[string]any
		if len(hit.Source_) > 0 {
			if err := json.Unmarshal(hit.Source_, &source); err != nil {
				return nil, fmt.Errorf("decode es hit source: %w", err)
			}
		}
		for k, v := range source {
			switch k {
			case ESContentField:
				if s, ok := v.(string); ok {
					doc.Content = s
				}
			case vectorField:
			default:
				doc.MetaData[k] = v
			}
		}

		if hit.Score_ != nil {
			doc.MetaData["_score"] = float64(*hit.Score_)
		}
		return doc, nil
	}
}
