// Package flows 提供 Eino Graph 流程定义：编译流水线、独立优化流程以及相似版本索引
package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/indexer"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"prompt-compiler/internal/domain/models"
	"prompt-compiler/internal/domain/repositories"
	"prompt-compiler/internal/eino/config"
	"prompt-compiler/internal/eino/nodes"
	"prompt-compiler/pkg/logger"
)

// SimilarityQuery 相似检索输入
type SimilarityQuery struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

// SimilarVersion 检索命中并回查到的历史版本
type SimilarVersion struct {
	nodes.SimilarityMatch
	Version *models.CompiledPrompt `json:"version"`
}

// SimilarityResult 相似检索输出
type SimilarityResult struct {
	Query   string            `json:"query"`
	Matches []*SimilarVersion `json:"matches"`
}

// SimilarityIndex 相似版本索引。
// 写入：已持久化版本 → 文档 → Indexer；检索：查询 → Retriever → 排序 → 回查版本仓储。
type SimilarityIndex struct {
	indexer   indexer.Indexer
	retriever retriever.Retriever
	versions  repositories.VersionRepository
	search    *config.SearchConfig
	topK      int
	handlers  []callbacks.Handler
	log       logger.Logger

	indexRunnable  compose.Runnable[*models.CompiledPrompt, []string]
	searchRunnable compose.Runnable[*SimilarityQuery, *SimilarityResult]
}

// NewSimilarityIndex 创建相似版本索引并编译写入与检索两个 Graph。
// 参数 idx: 向量写入组件。
// 参数 ret: 向量检索组件。
// 参数 versions: 版本仓储，用于回查命中的版本。
// 参数 cfg: 相似索引配置。
// 参数 log: 日志记录器。
// 参数 handlers: 运行时注入的回调处理器。
func NewSimilarityIndex(
	ctx context.Context,
	idx indexer.Indexer,
	ret retriever.Retriever,
	versions repositories.VersionRepository,
	cfg *config.SimilarityConfig,
	log logger.Logger,
	handlers ...callbacks.Handler,
) (*SimilarityIndex, error) {
	if log == nil {
		log = logger.GetDefault()
	}
	s := &SimilarityIndex{
		indexer:   idx,
		retriever: ret,
		versions:  versions,
		search:    &cfg.Search,
		topK:      cfg.Retriever.TopK,
		handlers:  handlers,
		log:       log,
	}

	var err error
	if s.indexRunnable, err = s.compileIndexGraph(ctx); err != nil {
		return nil, fmt.Errorf("compile similarity index graph: %w", err)
	}
	if s.searchRunnable, err = s.compileSearchGraph(ctx); err != nil {
		return nil, fmt.Errorf("compile similarity search graph: %w", err)
	}
	return s, nil
}

// VersionDocument 把版本转换为索引文档，文档 ID 与版本号一致
func VersionDocument(p *models.CompiledPrompt) *schema.Document {
	return &schema.Document{
		ID:      p.VersionID,
		Content: p.FullText,
		MetaData: map[string]any{
			nodes.MetaVersionID: p.VersionID,
			nodes.MetaTaskType:  string(p.Intent.TaskType),
			nodes.MetaDomain:    p.Intent.Domain,
			nodes.MetaCreatedAt: p.CreatedAt.Unix(),
		},
	}
}

func (s *SimilarityIndex) compileIndexGraph(ctx context.Context) (compose.Runnable[*models.CompiledPrompt, []string], error) {
	graph := compose.NewGraph[*models.CompiledPrompt, []string]()

	toDocs := compose.InvokableLambda(func(ctx context.Context, p *models.CompiledPrompt) ([]*schema.Document, error) {
		if p == nil || p.VersionID == "" {
			return nil, errors.New("version id is required for indexing")
		}
		return []*schema.Document{VersionDocument(p)}, nil
	})
	if err := graph.AddLambdaNode("to_document", toDocs); err != nil {
		return nil, fmt.Errorf("add to_document node: %w", err)
	}
	if err := graph.AddIndexerNode("index", s.indexer); err != nil {
		return nil, fmt.Errorf("add index node: %w", err)
	}

	if err := graph.AddEdge(compose.START, "to_document"); err != nil {
		return nil, fmt.Errorf("add edge START->to_document: %w", err)
	}
	if err := graph.AddEdge("to_document", "index"); err != nil {
		return nil, fmt.Errorf("add edge to_document->index: %w", err)
	}
	if err := graph.AddEdge("index", compose.END); err != nil {
		return nil, fmt.Errorf("add edge index->END: %w", err)
	}

	return graph.Compile(ctx, compose.WithGraphName("similarity_index"))
}

func (s *SimilarityIndex) compileSearchGraph(ctx context.Context) (compose.Runnable[*SimilarityQuery, *SimilarityResult], error) {
	graph := compose.NewGraph[*SimilarityQuery, *SimilarityResult]()

	// 1. 查询标准化
	prepare := compose.InvokableLambda(func(ctx context.Context, q *SimilarityQuery) (string, error) {
		text := nodes.NormalizeText(q.Query)
		if text == "" {
			return "", fmt.Errorf("%w: query is empty", ErrInvalidInput)
		}
		return text, nil
	})
	if err := graph.AddLambdaNode("prepare", prepare); err != nil {
		return nil, fmt.Errorf("add prepare node: %w", err)
	}

	// 2. 向量检索
	if err := graph.AddRetrieverNode("retrieve", s.retriever); err != nil {
		return nil, fmt.Errorf("add retriever node: %w", err)
	}

	// 3. 过滤与排序
	selector := nodes.NewResultSelector(s.search.SelectionStrategy, s.search.MinScore)
	if err := graph.AddLambdaNode("rank", compose.InvokableLambda(selector.Rank)); err != nil {
		return nil, fmt.Errorf("add rank node: %w", err)
	}

	// 4. 回查版本
	if err := graph.AddLambdaNode("hydrate", compose.InvokableLambda(s.hydrate)); err != nil {
		return nil, fmt.Errorf("add hydrate node: %w", err)
	}

	edges := [][2]string{
		{compose.START, "prepare"},
		{"prepare", "retrieve"},
		{"retrieve", "rank"},
		{"rank", "hydrate"},
		{"hydrate", compose.END},
	}
	for _, e := range edges {
		if err := graph.AddEdge(e[0], e[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", e[0], e[1], err)
		}
	}

	return graph.Compile(ctx, compose.WithGraphName("similarity_search"))
}

// hydrate 按命中的版本号回查仓储，已被清理的版本跳过
func (s *SimilarityIndex) hydrate(ctx context.Context, docs []*schema.Document) (*SimilarityResult, error) {
	result := &SimilarityResult{Matches: make([]*SimilarVersion, 0, len(docs))}
	seen := make(map[string]struct{}, len(docs))

	for _, doc := range docs {
		match := nodes.ToSimilarityMatch(doc)
		if match == nil {
			continue
		}
		if _, dup := seen[match.VersionID]; dup {
			continue
		}
		seen[match.VersionID] = struct{}{}

		version, err := s.versions.Get(ctx, match.VersionID)
		if errors.Is(err, repositories.ErrNotFound) {
			s.log.DebugContext(ctx, "相似版本已被清理，跳过", "version_id", match.VersionID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load version %s: %w", match.VersionID, err)
		}
		result.Matches = append(result.Matches, &SimilarVersion{SimilarityMatch: *match, Version: version})
	}
	return result, nil
}

// Index 将已持久化的版本写入相似索引
func (s *SimilarityIndex) Index(ctx context.Context, p *models.CompiledPrompt) error {
	ids, err := s.indexRunnable.Invoke(ctx, p, compose.WithCallbacks(s.handlers...))
	if err != nil {
		return fmt.Errorf("index version %s: %w", p.VersionID, err)
	}
	s.log.DebugContext(ctx, "版本已写入相似索引", "version_id", p.VersionID, "ids", ids)
	return nil
}

// Search 检索语义相似的历史版本
func (s *SimilarityIndex) Search(ctx context.Context, q *SimilarityQuery) (*SimilarityResult, error) {
	if q == nil || strings.TrimSpace(q.Query) == "" {
		return nil, fmt.Errorf("%w: query is empty", ErrInvalidInput)
	}

	topK := q.TopK
	if topK <= 0 {
		topK = s.topK
	}
	if s.search.MaxTopK > 0 && topK > s.search.MaxTopK {
		topK = s.search.MaxTopK
	}

	if s.search.RetrieveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.search.RetrieveTimeout)*time.Second)
		defer cancel()
	}

	opts := []compose.Option{compose.WithCallbacks(s.handlers...)}
	if topK > 0 {
		opts = append(opts, compose.WithRetrieverOption(retriever.WithTopK(topK)))
	}

	result, err := s.searchRunnable.Invoke(ctx, q, opts...)
	if err != nil {
		return nil, err
	}
	result.Query = q.Query
	if topK > 0 && len(result.Matches) > topK {
		result.Matches = result.Matches[:topK]
	}
	return result, nil
}
