package nodes

import (
	"sort"
	"strings"
	"unicode"

	"prompt-compiler/internal/domain/models"
)

// GeneralDomain 未命中任何领域词典时的领域
const GeneralDomain = "general"

type domainEntry struct {
	name  string
	words []string
}

// 领域词典，按优先级排列，命中数相同时取靠前者
var domainDictionary = []domainEntry{
	{"金融", []string{"财报", "股票", "投资", "交易", "金融", "银行", "资产"}},
	{"医疗", []string{"医疗", "健康", "病人", "诊断", "治疗", "药物", "医生"}},
	{"教育", []string{"教育", "学习", "课程", "学生", "教师", "培训", "考试"}},
	{"技术", []string{"代码", "编程", "开发", "系统", "算法", "数据", "AI"}},
	{"电商", []string{"购物", "商品", "订单", "支付", "物流", "店铺", "客户"}},
}

type taskRule struct {
	taskType models.TaskType
	verbs    []string
}

// 任务类型识别规则，按顺序匹配
var taskRules = []taskRule{
	{models.TaskAnalysis, []string{"分析"}},
	{models.TaskGeneration, []string{"生成", "写", "创作"}},
	{models.TaskExtraction, []string{"提取"}},
	{models.TaskTransformation, []string{"转换", "翻译"}},
	{models.TaskReasoning, []string{"推理", "判断"}},
	{models.TaskConversation, []string{"对话", "聊天"}},
}

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields("的 了 在 是 我 有 和 就 不 人 都 一 一个 上 也 很 到 说 要 去 你 会 着 没有 看 好 自己 这 能 可以 帮 帮我 请 一下") {
		stopWords[w] = struct{}{}
	}
}

// KeywordExtractor 关键词提取器
type KeywordExtractor struct {
	maxKeywords int
}

// NewKeywordExtractor 创建关键词提取器
func NewKeywordExtractor(maxKeywords int) *KeywordExtractor {
	if maxKeywords <= 0 {
		maxKeywords = 10
	}
	return &KeywordExtractor{maxKeywords: maxKeywords}
}

// Extract 提取关键词：先取领域词典命中词，再按词频补充
func (e *KeywordExtractor) Extract(text string) []string {
	keywords := make([]string, 0, e.maxKeywords)
	seen := make(map[string]struct{})
	add := func(w string) bool {
		if _, ok := seen[w]; ok {
			return len(keywords) < e.maxKeywords
		}
		seen[w] = struct{}{}
		keywords = append(keywords, w)
		return len(keywords) < e.maxKeywords
	}

	lower := strings.ToLower(text)
	for _, d := range domainDictionary {
		for _, w := range d.words {
			if strings.Contains(lower, strings.ToLower(w)) {
				if !add(w) {
					return keywords
				}
			}
		}
	}

	for _, w := range rankTokens(tokenize(text)) {
		if !add(w) {
			break
		}
	}
	return keywords
}

// DetectDomain 返回命中词典最多的领域，无命中时返回 general
func DetectDomain(text string) string {
	lower := strings.ToLower(text)
	best, bestHits := GeneralDomain, 0
	for _, d := range domainDictionary {
		hits := 0
		for _, w := range d.words {
			if strings.Contains(lower, strings.ToLower(w)) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = d.name, hits
		}
	}
	return best
}

// DetectTaskType 根据动作动词识别任务类型
func DetectTaskType(text string) models.TaskType {
	for _, rule := range taskRules {
		for _, v := range rule.verbs {
			if strings.Contains(text, v) {
				return rule.taskType
			}
		}
	}
	return models.TaskOther
}

// tokenize 切分文本。ASCII 单词转小写保留；其他字符连续段生成 2~4 字的 n-gram。
func tokenize(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return r
		}
		return ' '
	}, text)

	var tokens []string
	for _, part := range strings.Fields(cleaned) {
		for _, run := range splitScriptRuns(part) {
			if isASCII(run) {
				tokens = appendToken(tokens, strings.ToLower(run))
				continue
			}
			runes := []rune(run)
			for n := 2; n <= 4; n++ {
				for i := 0; i+n <= len(runes); i++ {
					tokens = appendToken(tokens, string(runes[i:i+n]))
				}
			}
		}
	}
	return tokens
}

func appendToken(tokens []string, tok string) []string {
	if len([]rune(tok)) <= 1 {
		return tokens
	}
	if _, stop := stopWords[tok]; stop {
		return tokens
	}
	return append(tokens, tok)
}

// splitScriptRuns 把字符串拆成 ASCII 段与非 ASCII 段
func splitScriptRuns(s string) []string {
	var runs []string
	var b strings.Builder
	prevASCII := false
	for i, r := range s {
		ascii := r < unicode.MaxASCII
		if i > 0 && ascii != prevASCII {
			runs = append(runs, b.String())
			b.Reset()
		}
		b.WriteRune(r)
		prevASCII = ascii
	}
	if b.Len() > 0 {
		runs = append(runs, b.String())
	}
	return runs
}

func isASCII(s string) bool {
	for _, r := range s {
		if r >= unicode.MaxASCII {
			return false
		}
	}
	return true
}

// rankTokens 按词频降序排列，频次相同按首次出现顺序
func rankTokens(tokens []string) []string {
	freq := make(map[string]int)
	first := make(map[string]int)
	order := make([]string, 0)
	for i, t := range tokens {
		if _, ok := freq[t]; !ok {
			first[t] = i
			order = append(order, t)
		}
		freq[t]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if freq[a] != freq[b] {
			return freq[a] > freq[b]
		}
		return first[a] < first[b]
	})
	return order
}
