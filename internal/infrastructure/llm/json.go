package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// StripCodeFence 去掉模型响应外层的 markdown 代码块标记
func StripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

// DecodeJSON 解析模型返回的 JSON，直接解析失败时先修复再解析
func DecodeJSON(content string, v any) error {
	cleaned := StripCodeFence(content)
	if cleaned == "" {
		return ErrEmptyResponse
	}

	if err := json.Unmarshal([]byte(cleaned), v); err == nil {
		return nil
	}

	repaired, err := jsonrepair.JSONRepair(cleaned)
	if err != nil {
		return fmt.Errorf("repair llm json: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("decode llm json: %w", err)
	}
	return nil
}
