package nodes

import (
	"context"
	"sort"

	"github.com/cloudwego/eino/schema"
)

// SelectionStrategy 相似检索结果的选择策略
type SelectionStrategy string

const (
	// StrategyFirst 保持检索器返回的顺序
	StrategyFirst SelectionStrategy = "first"
	// StrategyHighestScore 按分数降序
	StrategyHighestScore SelectionStrategy = "highest_score"
)

// ResultSelector 检索结果选择器
type ResultSelector struct {
	strategy SelectionStrategy
	minScore float64
}

// NewResultSelector 创建结果选择器，未知策略按 highest_score 处理
func NewResultSelector(strategy string, minScore float64) *ResultSelector {
	s := SelectionStrategy(strategy)
	if s != StrategyFirst {
		s = StrategyHighestScore
	}
	return &ResultSelector{
		strategy: s,
		minScore: minScore,
	}
}

// Rank 过滤低于阈值的文档并按策略排序 Lambda 函数
func (s *ResultSelector) Rank(ctx context.Context, docs []*schema.Document) ([]*schema.Document, error) {
	ranked := make([]*schema.Document, 0, len(docs))
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		if s.minScore > 0 && getDocScore(doc) < s.minScore {
			continue
		}
		ranked = append(ranked, doc)
	}

	if s.strategy == StrategyHighestScore {
		// 同分时保持检索器原有顺序
		sort.SliceStable(ranked, func(i, j int) bool {
			return getDocScore(ranked[i]) > getDocScore(ranked[j])
		})
	}
	return ranked, nil
}

// Select 选择最佳结果 Lambda 函数，无结果时返回 nil
func (s *ResultSelector) Select(ctx context.Context, docs []*schema.Document) (*schema.Document, error) {
	ranked, err := s.Rank(ctx, docs)
	if err != nil || len(ranked) == 0 {
		return nil, err
	}
	return ranked[0], nil
}

// getDocScore 从文档中获取分数
func getDocScore(doc *schema.Document) float64 {
	if doc == nil {
		return 0
	}

	if score, ok := doc.MetaData["score"].(float64); ok {
		return score
	}
	if score, ok := doc.MetaData["_score"].(float64); ok {
		return score
	}

	return 0
}
