package nodes

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// 相似索引文档的元数据键
const (
	MetaVersionID = "version_id"
	MetaTaskType  = "task_type"
	MetaDomain    = "domain"
	MetaCreatedAt = "created_at"
)

// SimilarityMatch 相似检索命中
type SimilarityMatch struct {
	VersionID string         `json:"version_id"`
	Score     float64        `json:"score"`
	TaskType  string         `json:"task_type,omitempty"`
	Domain    string         `json:"domain,omitempty"`
	Snippet   string         `json:"snippet,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// snippetLength 命中片段的最大字符数
const snippetLength = 120

// ToSimilarityMatches 将检索文档转换为命中列表 Lambda 函数，缺少版本号的文档被丢弃
func ToSimilarityMatches(ctx context.Context, docs []*schema.Document) ([]*SimilarityMatch, error) {
	matches := make([]*SimilarityMatch, 0, len(docs))
	for _, doc := range docs {
		if m := ToSimilarityMatch(doc); m != nil {
			matches = append(matches, m)
		}
	}
	return matches, nil
}

// ToSimilarityMatch 转换单个文档
func ToSimilarityMatch(doc *schema.Document) *SimilarityMatch {
	versionID := ExtractVersionID(doc)
	if versionID == "" {
		return nil
	}

	m := &SimilarityMatch{
		VersionID: versionID,
		Score:     getDocScore(doc),
		Snippet:   Truncate(doc.Content, snippetLength),
		Metadata:  doc.MetaData,
	}
	if v, ok := doc.MetaData[MetaTaskType].(string); ok {
		m.TaskType = v
	}
	if v, ok := doc.MetaData[MetaDomain].(string); ok {
		m.Domain = v
	}
	return m
}

// ExtractVersionID 从文档中提取版本号，元数据缺失时回退到文档 ID
func ExtractVersionID(doc *schema.Document) string {
	if doc == nil {
		return ""
	}

	if id, ok := doc.MetaData[MetaVersionID].(string); ok && id != "" {
		return id
	}

	return doc.ID
}
