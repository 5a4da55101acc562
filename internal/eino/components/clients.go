package components

import (
	"context"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
	milvusClient "github.com/milvus-io/milvus-sdk-go/v2/client"
	qdrantClient "github.com/qdrant/go-client/qdrant"
	"github.com/redis/go-redis/v9"
)

// NewQdrantClient 创建 Qdrant 客户端
func NewQdrantClient(host string, port int, apiKey string, useTLS bool) (*qdrantClient.Client, error) {
	clientCfg := &qdrantClient.Config{
		Host: host,
		Port: port,
	}
	if apiKey != "" {
		clientCfg.APIKey = apiKey
	}
	if useTLS {
		clientCfg.UseTLS = true
	}

	client, err := qdrantClient.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return client, nil
}

// NewMilvusClient 创建 Milvus 客户端
func NewMilvusClient(ctx context.Context, host string, port int, username, password string) (milvusClient.Client, error) {
	client, err := milvusClient.NewClient(ctx, milvusClient.Config{
		Address:  fmt.Sprintf("%s:%d", host, port),
		Username: username,
		Password: password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}
	return client, nil
}

// NewRedisVectorClient 创建用于向量检索的 Redis 客户端，使用 RESP2 以兼容 FT.SEARCH 的返回格式
func NewRedisVectorClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		Protocol: 2,
	})
}

// NewESClient 创建 Elasticsearch 8 客户端
func NewESClient(addresses []string, username, password string) (*elasticsearch.Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,
		Username:  username,
		Password:  password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return client, nil
}
