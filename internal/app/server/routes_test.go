package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"prompt-compiler/internal/app/handlers"
	"prompt-compiler/internal/domain/models"
	"prompt-compiler/internal/domain/services"
	einocallbacks "prompt-compiler/internal/eino/callbacks"
	"prompt-compiler/internal/eino/config"
	"prompt-compiler/internal/eino/flows"
	"prompt-compiler/internal/infrastructure/semantic"
	"prompt-compiler/internal/infrastructure/stores/memory"
	"prompt-compiler/pkg/logger"
	"prompt-compiler/pkg/status"
)

type envelope struct {
	Success   bool            `json:"success"`
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"request_id"`
}

type stubSearcher struct {
	result *flows.SimilarityResult
	err    error
	query  *flows.SimilarityQuery
}

func (s *stubSearcher) Search(ctx context.Context, q *flows.SimilarityQuery) (*flows.SimilarityResult, error) {
	s.query = q
	return s.result, s.err
}

type testAPI struct {
	engine   *gin.Engine
	versions *memory.VersionStore
}

type apiOptions struct {
	similarity handlers.SimilaritySearcher
	metrics    handlers.PipelineMetrics
	checks     map[string]handlers.HealthChecker
}

func newTestAPI(t *testing.T, opts apiOptions) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx := context.Background()
	log := logger.NewWithWriter(io.Discard, slog.LevelError, "text")

	templates := memory.NewTemplateStore()
	versions := memory.NewVersionStore()
	catalog := services.NewTemplateCatalog(templates, log)
	history := services.NewHistoryService(versions, nil, log)

	sem := services.NewFallbackSemantics(
		semantic.NewHeuristicIntentService(),
		semantic.NewHeuristicRewriteService(nil),
		semantic.NewHeuristicEvaluationService(),
		log,
	)
	compiler, err := flows.NewCompilePipeline(ctx, sem, catalog, versions, nil, flows.CompileOptions{}, log)
	if err != nil {
		t.Fatalf("compile pipeline: %v", err)
	}
	optimizer, err := flows.NewOptimizePipeline(ctx, sem, "", log)
	if err != nil {
		t.Fatalf("optimize pipeline: %v", err)
	}

	engine := gin.New()
	SetupRoutes(engine, &Handlers{
		Prompt:   handlers.NewPromptHandler(compiler, optimizer, sem, nil, log),
		Template: handlers.NewTemplateHandler(catalog, log),
		History:  handlers.NewHistoryHandler(history, opts.similarity, log),
		System:   handlers.NewSystemHandler(opts.metrics, opts.checks, log),
	}, log)

	return &testAPI{engine: engine, versions: versions}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) envelope {
	t.Helper()

	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				t.Fatalf("marshal body: %v", err)
			}
			reader = bytes.NewReader(data)
		}
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("%s %s: http status = %d, body = %s", method, path, w.Code, w.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decode response: %v\n%s", method, path, err, w.Body.String())
	}
	return env
}

func decodeData(t *testing.T, env envelope, v any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode data: %v\n%s", err, env.Data)
	}
}

func TestCompileAndHistoryRoundTrip(t *testing.T) {
	api := newTestAPI(t, apiOptions{})

	env := api.do(t, http.MethodPost, "/api/compile", map[string]any{
		"user_input":         "帮我写一个分析财报的AI助手",
		"optimization_level": "high",
	})
	if !env.Success || env.Code != int(status.CodeOK) {
		t.Fatalf("compile failed: %+v", env)
	}
	if env.RequestID == "" {
		t.Error("response should carry a request id")
	}

	var out struct {
		CompiledPrompt struct {
			VersionID         string `json:"version_id"`
			FullText          string `json:"full_text"`
			OptimizationLevel string `json:"optimization_level"`
		} `json:"compiled_prompt"`
		Metrics *struct {
			Overall float64 `json:"overall_score"`
		} `json:"metrics"`
	}
	decodeData(t, env, &out)
	id := out.CompiledPrompt.VersionID
	if id == "" || out.CompiledPrompt.FullText == "" {
		t.Fatalf("compiled prompt incomplete: %+v", out.CompiledPrompt)
	}
	if out.CompiledPrompt.OptimizationLevel != "high" {
		t.Errorf("level = %s", out.CompiledPrompt.OptimizationLevel)
	}
	if out.Metrics == nil {
		t.Error("auto evaluation should be on by default")
	}

	env = api.do(t, http.MethodGet, "/api/history?limit=5", nil)
	var list handlers.HistoryList
	decodeData(t, env, &list)
	if list.Total != 1 || len(list.Versions) != 1 || list.Versions[0].VersionID != id {
		t.Errorf("history list = %+v", list)
	}

	env = api.do(t, http.MethodGet, "/api/history/"+id, nil)
	if !env.Success {
		t.Fatalf("history get: %+v", env)
	}
	var detail services.VersionDetail
	decodeData(t, env, &detail)
	if detail.Evaluation == nil {
		t.Error("evaluation record should be linked to the version")
	}

	env = api.do(t, http.MethodGet, "/api/history/"+id+"/export?format=markdown", nil)
	var exported handlers.ExportResult
	decodeData(t, env, &exported)
	if exported.Format != "markdown" || exported.Content == "" {
		t.Errorf("export = %+v", exported)
	}

	env = api.do(t, http.MethodGet, "/api/history/stats", nil)
	if !env.Success {
		t.Errorf("stats: %+v", env)
	}

	env = api.do(t, http.MethodGet, "/api/history/search?q="+url.QueryEscape("财报"), nil)
	if !env.Success {
		t.Errorf("search: %+v", env)
	}
}

func TestCompileValidation(t *testing.T) {
	api := newTestAPI(t, apiOptions{})

	tests := []struct {
		name string
		body any
	}{
		{"empty input", map[string]any{"user_input": "   "}},
		{"too long", map[string]any{"user_input": strings.Repeat("长", 20001)}},
		{"bad level", map[string]any{"user_input": "帮我写一个分析财报的AI助手", "optimization_level": "extreme"}},
		{"malformed json", `{"user_input":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := api.do(t, http.MethodPost, "/api/compile", tt.body)
			if env.Success {
				t.Fatalf("expected failure, got %+v", env)
			}
			if env.Code != int(status.ErrCodeInvalidParam) {
				t.Errorf("code = %d, want %d", env.Code, status.ErrCodeInvalidParam)
			}
		})
	}

	if n, _ := api.versions.Count(context.Background(), models.VersionFilter{}); n != 0 {
		t.Errorf("failed compiles must not persist versions, got %d", n)
	}
}

func TestHistoryNotFound(t *testing.T) {
	api := newTestAPI(t, apiOptions{})

	env := api.do(t, http.MethodGet, "/api/history/does-not-exist", nil)
	if env.Success || env.Code != int(status.ErrCodeNotFound) {
		t.Errorf("response = %+v, want code %d", env, status.ErrCodeNotFound)
	}

	env = api.do(t, http.MethodGet, "/api/history?limit=500", nil)
	if env.Code != int(status.ErrCodeInvalidParam) {
		t.Errorf("limit over 100 code = %d", env.Code)
	}

	env = api.do(t, http.MethodDelete, "/api/history/cleanup?days=0", nil)
	if env.Code != int(status.ErrCodeInvalidParam) {
		t.Errorf("cleanup days=0 code = %d", env.Code)
	}
}

func TestTemplateCRUD(t *testing.T) {
	api := newTestAPI(t, apiOptions{})

	env := api.do(t, http.MethodPost, "/api/templates", map[string]any{
		"name":                  "财报分析",
		"role":                  "你是一位{{domain}}分析师",
		"objective":             "{{objective}}",
		"output_format":         "Markdown 报告",
		"applicable_task_types": []string{"analysis"},
		"applicable_domains":    []string{"金融"},
		"usage_count":           99,
	})
	if !env.Success {
		t.Fatalf("create: %+v", env)
	}
	var created struct {
		ID         string `json:"template_id"`
		UsageCount int    `json:"usage_count"`
	}
	decodeData(t, env, &created)
	if created.ID == "" || created.UsageCount != 0 {
		t.Fatalf("created = %+v", created)
	}

	env = api.do(t, http.MethodPut, "/api/templates/"+created.ID, map[string]any{"name": "财报深度分析"})
	if !env.Success {
		t.Fatalf("update: %+v", env)
	}

	env = api.do(t, http.MethodGet, "/api/templates?task_type=analysis&domain="+url.QueryEscape("金融"), nil)
	var list handlers.TemplateList
	decodeData(t, env, &list)
	if list.Count != 1 || list.Templates[0].Name != "财报深度分析" {
		t.Errorf("list = %+v", list)
	}

	env = api.do(t, http.MethodGet, "/api/templates?task_type=poetry", nil)
	if env.Code != int(status.ErrCodeInvalidParam) {
		t.Errorf("unknown task type code = %d", env.Code)
	}

	env = api.do(t, http.MethodPost, "/api/templates", map[string]any{"name": "缺字段"})
	if env.Code != int(status.ErrCodeInvalidParam) {
		t.Errorf("invalid template code = %d", env.Code)
	}

	env = api.do(t, http.MethodDelete, "/api/templates/"+created.ID, nil)
	if !env.Success {
		t.Fatalf("delete: %+v", env)
	}
	env = api.do(t, http.MethodGet, "/api/templates/"+created.ID, nil)
	if env.Code != int(status.ErrCodeNotFound) {
		t.Errorf("get after delete code = %d", env.Code)
	}
}

func TestEvaluateAndCompare(t *testing.T) {
	api := newTestAPI(t, apiOptions{})

	env := api.do(t, http.MethodPost, "/api/evaluate", map[string]any{"prompt_text": "写一篇文章"})
	if !env.Success {
		t.Fatalf("evaluate: %+v", env)
	}
	var ev handlers.EvaluateResponse
	decodeData(t, env, &ev)
	if ev.Evaluation == nil || ev.Validation == nil {
		t.Errorf("evaluate response incomplete: %+v", ev)
	}

	env = api.do(t, http.MethodPost, "/api/evaluate/compare", map[string]any{
		"prompt_a": "写一篇文章",
		"prompt_b": "# 角色\n资深编辑\n\n# 目标\n写一篇 800 字的科普文章\n\n# 约束\n1. 面向高中生\n\n# 输出格式\nMarkdown",
	})
	if !env.Success {
		t.Fatalf("compare: %+v", env)
	}
	var cmpOut handlers.CompareResponse
	decodeData(t, env, &cmpOut)
	if cmpOut.VersionA == nil || cmpOut.VersionB == nil || cmpOut.Comparison == nil {
		t.Errorf("compare response incomplete: %+v", cmpOut)
	}

	env = api.do(t, http.MethodPost, "/api/evaluate/compare", map[string]any{"prompt_a": "写一篇文章"})
	if env.Code != int(status.ErrCodeInvalidParam) {
		t.Errorf("missing prompt_b code = %d", env.Code)
	}
}

func TestOptimize(t *testing.T) {
	api := newTestAPI(t, apiOptions{})

	env := api.do(t, http.MethodPost, "/api/optimize", map[string]any{
		"prompt_text":        "帮我写一个分析财报的AI助手",
		"optimization_level": "high",
	})
	if !env.Success {
		t.Fatalf("optimize: %+v", env)
	}
	var out flows.OptimizeOutput
	decodeData(t, env, &out)
	if out.OptimizedPrompt == "" || out.Comparison == nil {
		t.Errorf("optimize output incomplete: %+v", out)
	}

	env = api.do(t, http.MethodPost, "/api/optimize", map[string]any{"prompt_text": ""})
	if env.Code != int(status.ErrCodeInvalidParam) {
		t.Errorf("empty prompt code = %d", env.Code)
	}
}

func TestSimilarEndpoint(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		api := newTestAPI(t, apiOptions{})
		env := api.do(t, http.MethodGet, "/api/history/similar?q="+url.QueryEscape("财报"), nil)
		if env.Success || env.Code != int(status.ErrCodeUnavailable) {
			t.Errorf("response = %+v, want code %d", env, status.ErrCodeUnavailable)
		}
	})

	t.Run("enabled", func(t *testing.T) {
		searcher := &stubSearcher{result: &flows.SimilarityResult{Query: "财报"}}
		api := newTestAPI(t, apiOptions{similarity: searcher})

		env := api.do(t, http.MethodGet, "/api/history/similar?q="+url.QueryEscape("财报")+"&top_k=3", nil)
		if !env.Success {
			t.Fatalf("similar: %+v", env)
		}
		if searcher.query == nil || searcher.query.Query != "财报" || searcher.query.TopK != 3 {
			t.Errorf("query = %+v", searcher.query)
		}

		env = api.do(t, http.MethodGet, "/api/history/similar", nil)
		if env.Code != int(status.ErrCodeInvalidParam) {
			t.Errorf("missing q code = %d", env.Code)
		}
	})

	t.Run("backend failure", func(t *testing.T) {
		searcher := &stubSearcher{err: errors.New("qdrant unreachable")}
		api := newTestAPI(t, apiOptions{similarity: searcher})
		env := api.do(t, http.MethodGet, "/api/history/similar?q="+url.QueryEscape("财报"), nil)
		if env.Code != int(status.ErrCodeUnavailable) {
			t.Errorf("code = %d, want %d", env.Code, status.ErrCodeUnavailable)
		}
	})
}

func TestHealthAndPipelineStats(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		api := newTestAPI(t, apiOptions{checks: map[string]handlers.HealthChecker{
			"storage": func(ctx context.Context) error { return nil },
		}})
		env := api.do(t, http.MethodGet, "/api/health", nil)
		if !env.Success {
			t.Errorf("health: %+v", env)
		}
	})

	t.Run("degraded", func(t *testing.T) {
		api := newTestAPI(t, apiOptions{checks: map[string]handlers.HealthChecker{
			"storage": func(ctx context.Context) error { return errors.New("connection refused") },
		}})
		env := api.do(t, http.MethodGet, "/api/health", nil)
		if env.Success || env.Code != int(status.ErrCodeUnavailable) {
			t.Errorf("health: %+v", env)
		}
		var info struct {
			Status string `json:"status"`
		}
		decodeData(t, env, &info)
		if info.Status != "degraded" {
			t.Errorf("status = %q", info.Status)
		}
	})

	t.Run("metrics disabled", func(t *testing.T) {
		api := newTestAPI(t, apiOptions{})
		env := api.do(t, http.MethodGet, "/api/stats/pipeline", nil)
		if env.Code != int(status.ErrCodeUnavailable) {
			t.Errorf("code = %d", env.Code)
		}
	})

	t.Run("metrics enabled", func(t *testing.T) {
		metrics := einocallbacks.NewMetricsHandler(&config.MetricsCallbackConfig{Enabled: true})
		api := newTestAPI(t, apiOptions{metrics: metrics})
		env := api.do(t, http.MethodGet, "/api/stats/pipeline", nil)
		if !env.Success {
			t.Fatalf("pipeline stats: %+v", env)
		}
		var snapshot map[string]any
		decodeData(t, env, &snapshot)
		if _, ok := snapshot["total_calls"]; !ok {
			t.Errorf("snapshot = %v", snapshot)
		}
	})
}
