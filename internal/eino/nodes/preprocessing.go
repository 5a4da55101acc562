// Package nodes 提供编译 Graph 中使用的 Lambda 节点实现：
// 输入标准化、关键词提取、规则校验、质量指标、模板排序、片段组合、自检与格式化。
package nodes

import (
	"context"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// 全角标点与数字映射表
var widthReplacer = strings.NewReplacer(
	"，", ",", "。", ".", "！", "!", "？", "?", "：", ":", "；", ";",
	"（", "(", "）", ")", "【", "[", "】", "]",
	"「", "\"", "」", "\"", "『", "\"", "』", "\"",
	"０", "0", "１", "1", "２", "2", "３", "3", "４", "4",
	"５", "5", "６", "6", "７", "7", "８", "8", "９", "9",
)

var (
	idCardPattern = regexp.MustCompile(`\d{17}[\dXx]`)
	phonePattern  = regexp.MustCompile(`1[3-9]\d{9}`)
	emailPattern  = regexp.MustCompile(`[\w.\-]+@[\w.\-]+\.\w+`)
)

// Normalizer 输入标准化器
type Normalizer struct{}

// NewNormalizer 创建标准化器
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize 标准化 Lambda 函数
func (n *Normalizer) Normalize(ctx context.Context, raw string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return NormalizeText(raw), nil
}

// NormalizeText 清洗原始输入。
// 全角标点和数字转为半角，移除控制字符，每行内连续空白合并为一个空格并去掉行首尾空白，
// 连续空行只保留一行。
func NormalizeText(raw string) string {
	if raw == "" {
		return ""
	}

	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = removeControlChars(text)
	text = widthReplacer.Replace(text)

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = normalizeWhitespace(line)
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}

	return strings.TrimSpace(strings.Join(out, "\n"))
}

// Redact 脱敏手机号、邮箱和身份证号
func Redact(text string) string {
	// 身份证号先于手机号替换，避免其中的数字被当作手机号
	text = idCardPattern.ReplaceAllString(text, "[身份证]")
	text = phonePattern.ReplaceAllString(text, "[手机号]")
	text = emailPattern.ReplaceAllString(text, "[邮箱]")
	return text
}

// Truncate 按字符数截断，超出时追加 "..."
func Truncate(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max]) + "..."
}

// normalizeWhitespace 规范化空白字符，将连续的空白字符替换为单个空格。
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// removeControlChars 移除字符串中的不可打印控制字符（保留换行和制表符）。
func removeControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
}
