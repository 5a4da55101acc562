package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	milvusClient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	qdrantClient "github.com/qdrant/go-client/qdrant"
	redis "github.com/redis/go-redis/v9"

	"prompt-compiler/internal/domain/services"
	"prompt-compiler/internal/eino/components"
	"prompt-compiler/internal/eino/config"
)

var _ services.IndexCleaner = (*SimilarityIndexCleaner)(nil)

// SimilarityIndexCleaner 从向量数据库删除已清理版本的文档。
// Eino 没有提供删除接口，这里直接使用各向量数据库的客户端。
type SimilarityIndexCleaner struct {
	provider string

	collection      string
	qdrantClient    *qdrantClient.Client
	milvusClient    milvusClient.Client
	milvusPartition string
	redisClient     *redis.Client
	redisIndex      string
	redisPrefix     string
	esClient        *elasticsearch.Client
	esIndex         string
}

// NewSimilarityIndexCleaner 按检索器配置创建清理器
func NewSimilarityIndexCleaner(ctx context.Context, cfg *config.RetrieverConfig) (*SimilarityIndexCleaner, error) {
	c := &SimilarityIndexCleaner{
		provider:        cfg.Provider,
		collection:      cfg.Collection,
		milvusPartition: cfg.Milvus.Partition,
		redisIndex:      cfg.Redis.Index,
		redisPrefix:     cfg.Redis.Prefix,
		esIndex:         cfg.ES8.Index,
	}
	if c.redisIndex == "" {
		c.redisIndex = cfg.Collection
	}

	var err error
	switch cfg.Provider {
	case "qdrant":
		c.qdrantClient, err = components.NewQdrantClient(cfg.Qdrant.Host, cfg.Qdrant.Port, cfg.Qdrant.APIKey, cfg.Qdrant.UseTLS)
	case "milvus":
		c.milvusClient, err = components.NewMilvusClient(ctx, cfg.Milvus.Host, cfg.Milvus.Port, cfg.Milvus.Username, cfg.Milvus.Password)
	case "redis":
		c.redisClient = components.NewRedisVectorClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	case "es8":
		c.esClient, err = components.NewESClient(cfg.ES8.Addresses, cfg.ES8.Username, cfg.ES8.Password)
	default:
		return nil, fmt.Errorf("unsupported retriever provider for delete: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Remove 删除给定版本号对应的向量文档，部分失败时返回包含失败 ID 的错误
func (c *SimilarityIndexCleaner) Remove(ctx context.Context, versionIDs []string) error {
	if len(versionIDs) == 0 {
		return nil
	}

	switch c.provider {
	case "qdrant":
		return c.removeFromQdrant(ctx, versionIDs)
	case "milvus":
		return c.removeFromMilvus(ctx, versionIDs)
	case "redis":
		return c.removeFromRedis(ctx, versionIDs)
	case "es8":
		return c.removeFromElasticsearch(ctx, versionIDs)
	default:
		return fmt.Errorf("delete not supported for provider %s", c.provider)
	}
}

// Close 关闭与向量数据库的连接
func (c *SimilarityIndexCleaner) Close() error {
	switch {
	case c.qdrantClient != nil:
		return c.qdrantClient.Close()
	case c.milvusClient != nil:
		return c.milvusClient.Close()
	case c.redisClient != nil:
		return c.redisClient.Close()
	}
	return nil
}

func (c *SimilarityIndexCleaner) removeFromQdrant(ctx context.Context, ids []string) error {
	pointIDs := make([]*qdrantClient.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, &qdrantClient.PointId{
			PointIdOptions: &qdrantClient.PointId_Uuid{
				Uuid: id,
			},
		})
	}

	_, err := c.qdrantClient.Delete(ctx, &qdrantClient.DeletePoints{
		CollectionName: c.collection,
		Points: &qdrantClient.PointsSelector{
			PointsSelectorOneOf: &qdrantClient.PointsSelector_Points{
				Points: &qdrantClient.PointsIdsList{
					Ids: pointIDs,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("delete qdrant points: %w", err)
	}
	return nil
}

func (c *SimilarityIndexCleaner) removeFromMilvus(ctx context.Context, ids []string) error {
	if c.milvusClient == nil {
		return errors.New("milvus client is not configured")
	}

	idColumn := entity.NewColumnVarChar("id", ids)
	if err := c.milvusClient.DeleteByPks(ctx, c.collection, c.milvusPartition, idColumn); err != nil {
		return fmt.Errorf("delete milvus pks: %w", err)
	}
	return nil
}

func (c *SimilarityIndexCleaner) removeFromRedis(ctx context.Context, ids []string) error {
	if c.redisClient == nil {
		return errors.New("redis client is not configured")
	}

	failed := make([]string, 0)
	for _, id := range ids {
		key := id
		if c.redisPrefix != "" && !strings.HasPrefix(id, c.redisPrefix) {
			key = c.redisPrefix + id
		}
		// 索引文档是 HASH，删除 key 后 RediSearch 自动移除索引项
		if err := c.redisClient.Del(ctx, key).Err(); err != nil {
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("partial redis delete failure: %v", failed)
	}
	return nil
}

func (c *SimilarityIndexCleaner) removeFromElasticsearch(ctx context.Context, ids []string) error {
	if c.esClient == nil {
		return errors.New("elasticsearch client is not configured")
	}
	if c.esIndex == "" {
		return errors.New("elasticsearch index is not configured")
	}

	failed := make([]string, 0)
	for _, id := range ids {
		resp, err := c.esClient.Delete(c.esIndex, id, c.esClient.Delete.WithContext(ctx))
		if err != nil {
			failed = append(failed, id)
			continue
		}
		// 404 表示文档已不存在
		isErr := resp.IsError() && resp.StatusCode != 404
		_ = resp.Body.Close()
		if isErr {
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("partial elasticsearch delete failure: %v", failed)
	}
	return nil
}
