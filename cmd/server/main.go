package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/callbacks"
	redis "github.com/redis/go-redis/v9"

	"prompt-compiler/configs"
	"prompt-compiler/internal/app/handlers"
	"prompt-compiler/internal/app/server"
	"prompt-compiler/internal/domain/repositories"
	"prompt-compiler/internal/domain/services"
	einocallbacks "prompt-compiler/internal/eino/callbacks"
	"prompt-compiler/internal/eino/components"
	"prompt-compiler/internal/eino/flows"
	"prompt-compiler/internal/eino/nodes"
	"prompt-compiler/internal/infrastructure/llm"
	"prompt-compiler/internal/infrastructure/retention"
	"prompt-compiler/internal/infrastructure/semantic"
	"prompt-compiler/internal/infrastructure/stores/memory"
	redisstore "prompt-compiler/internal/infrastructure/stores/redis"
	"prompt-compiler/pkg/logger"
)

// main 主函数 - 应用程序入口点
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	earlyLogger := logger.Default()

	if err := initializeApplication(ctx, earlyLogger); err != nil {
		earlyLogger.ErrorContext(ctx, "应用程序初始化失败", "error", err)
		os.Exit(1)
	}
}

// storage 模板与版本仓储
type storage struct {
	templates repositories.TemplateRepository
	versions  repositories.VersionRepository
	health    handlers.HealthChecker
	close     func() error
}

// similarity 相似版本索引，未启用时各字段为空
type similarity struct {
	index   *flows.SimilarityIndex
	cleaner *flows.SimilarityIndexCleaner
}

// initializeApplication 初始化应用程序
func initializeApplication(ctx context.Context, earlyLogger logger.Logger) error {
	// 1. 加载配置
	config, err := configs.Load(ctx)
	if err != nil {
		return fmt.Errorf("配置加载失败: %w", err)
	}

	earlyLogger.InfoContext(ctx, "配置加载成功",
		"server_port", config.Server.Port,
		"llm_provider", config.LLM.Provider,
		"storage_type", config.Storage.Type,
		"similarity_enabled", config.Eino.Similarity.Enabled)

	// 2. 初始化日志服务
	appLogger := initializeLogger(config.Logging)
	logger.SetDefault(appLogger)
	appLogger.InfoContext(ctx, "日志服务初始化完成")

	// 3. 初始化存储
	store, err := initializeStorage(ctx, &config.Storage, appLogger)
	if err != nil {
		return fmt.Errorf("存储初始化失败: %w", err)
	}
	defer func() {
		if err := store.close(); err != nil {
			appLogger.WarnContext(ctx, "存储关闭失败", "error", err)
		}
	}()

	catalog := services.NewTemplateCatalog(store.templates, appLogger)
	if config.Compiler.SeedTemplates {
		if err := seedTemplates(ctx, catalog, config.Compiler.TemplatesFile, appLogger); err != nil {
			return fmt.Errorf("预置模板导入失败: %w", err)
		}
	}

	// 4. 初始化语义服务
	rules := nodes.NewRuleEngine(config.Compiler.ForbiddenWords)
	sem, err := initializeSemantics(&config.LLM, rules, appLogger)
	if err != nil {
		return fmt.Errorf("语义服务初始化失败: %w", err)
	}

	// 5. 初始化 Eino 回调与流水线
	factory := einocallbacks.NewFactory(&config.Eino.Callbacks, appLogger)
	cbHandlers := factory.CreateHandlers()

	sim, err := initializeSimilarity(ctx, config, store.versions, appLogger, cbHandlers)
	if err != nil {
		return fmt.Errorf("相似索引初始化失败: %w", err)
	}
	if sim.cleaner != nil {
		defer sim.cleaner.Close()
	}

	var indexer flows.VersionIndexer
	if sim.index != nil {
		indexer = sim.index
	}
	compiler, err := flows.NewCompilePipeline(ctx, sem, catalog, store.versions, indexer, flows.CompileOptions{
		GraphName:       config.Eino.Pipeline.GraphName,
		SelfCheckPolicy: config.Compiler.SelfCheckPolicy,
		ForbiddenWords:  config.Compiler.ForbiddenWords,
		IndexTimeout:    time.Duration(config.Eino.Pipeline.IndexTimeout) * time.Second,
	}, appLogger, cbHandlers...)
	if err != nil {
		return fmt.Errorf("编译流水线初始化失败: %w", err)
	}
	optimizer, err := flows.NewOptimizePipeline(ctx, sem, config.Eino.Pipeline.OptimizeGraphName, appLogger, cbHandlers...)
	if err != nil {
		return fmt.Errorf("优化流程初始化失败: %w", err)
	}
	appLogger.InfoContext(ctx, "Eino 流水线初始化完成", "callbacks", len(cbHandlers))

	// 6. 历史服务与保留清理
	var cleaner services.IndexCleaner
	if sim.cleaner != nil {
		cleaner = sim.cleaner
	}
	history := services.NewHistoryService(store.versions, cleaner, appLogger)
	if config.Retention.Enabled {
		janitor := retention.NewJanitor(history, config.Retention.Days, config.Retention.Interval, appLogger)
		go janitor.Start(ctx)
	}

	// 7. 初始化应用层
	var searcher handlers.SimilaritySearcher
	if sim.index != nil {
		searcher = sim.index
	}
	var metrics handlers.PipelineMetrics
	if mh := factory.GetMetricsHandler(); mh != nil {
		metrics = mh
	}
	checks := map[string]handlers.HealthChecker{"storage": store.health}

	httpServer := server.NewServer(&config.Server, &server.Handlers{
		Prompt:   handlers.NewPromptHandler(compiler, optimizer, sem, rules, appLogger),
		Template: handlers.NewTemplateHandler(catalog, appLogger),
		History:  handlers.NewHistoryHandler(history, searcher, appLogger),
		System:   handlers.NewSystemHandler(metrics, checks, appLogger),
	}, appLogger)

	// 8. 启动服务并等待停止信号
	return runApplication(ctx, httpServer, appLogger)
}

// initializeLogger 初始化日志服务
func initializeLogger(config configs.LoggingConfig) logger.Logger {
	var level slog.Level
	switch config.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	loggerConfig := logger.Config{
		Level:  level,
		Output: config.Output,
		Format: config.Format,
	}
	if config.Output == "file" {
		loggerConfig.FilePath = config.FilePath
	}
	return logger.New(loggerConfig)
}

// initializeStorage 按配置创建内存或 Redis 仓储
func initializeStorage(ctx context.Context, cfg *configs.StorageConfig, log logger.Logger) (*storage, error) {
	if cfg.Type != "redis" {
		log.InfoContext(ctx, "使用内存存储，重启后数据不保留")
		return &storage{
			templates: memory.NewTemplateStore(),
			versions:  memory.NewVersionStore(),
			health:    func(ctx context.Context) error { return nil },
			close:     func() error { return nil },
		}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		PoolSize:    cfg.Redis.PoolSize,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Redis.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis %s 失败: %w", cfg.Redis.Addr, err)
	}
	log.InfoContext(ctx, "Redis 存储连接成功", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.Prefix)

	return &storage{
		templates: redisstore.NewTemplateStore(client, cfg.Redis.Prefix, log),
		versions:  redisstore.NewVersionStore(client, cfg.Redis.Prefix, log),
		health:    func(ctx context.Context) error { return client.Ping(ctx).Err() },
		close:     client.Close,
	}, nil
}

// seedTemplates 模板目录为空时导入预置模板
func seedTemplates(ctx context.Context, catalog *services.TemplateCatalog, path string, log logger.Logger) error {
	templates, err := configs.LoadTemplates(path)
	if err != nil {
		return err
	}
	n, err := catalog.Seed(ctx, templates)
	if err != nil {
		return err
	}
	if n > 0 {
		log.InfoContext(ctx, "预置模板已导入", "count", n, "source", path)
	}
	return nil
}

// initializeSemantics 创建带降级的语义服务。
// heuristic 模式不访问任何外部模型。
func initializeSemantics(cfg *configs.LLMConfig, rules *nodes.RuleEngine, log logger.Logger) (*services.FallbackSemantics, error) {
	if cfg.Provider == llm.ProviderHeuristic {
		log.Info("使用启发式语义服务")
		return services.NewFallbackSemantics(
			semantic.NewHeuristicIntentService(),
			semantic.NewHeuristicRewriteService(rules),
			semantic.NewHeuristicEvaluationService(),
			log,
		), nil
	}

	client, err := llm.New(cfg.ClientConfig(), log)
	if err != nil {
		return nil, err
	}
	log.Info("大模型客户端初始化成功", "provider", cfg.Provider, "model", cfg.Model)

	return services.NewFallbackSemantics(
		semantic.NewLLMIntentService(client, log),
		semantic.NewLLMRewriteService(client, log),
		semantic.NewLLMEvaluationService(client, log),
		log,
	), nil
}

// initializeSimilarity 初始化相似版本索引：Embedder → Indexer/Retriever → 索引流程与清理器
func initializeSimilarity(
	ctx context.Context,
	config *configs.Config,
	versions repositories.VersionRepository,
	log logger.Logger,
	cbHandlers []callbacks.Handler,
) (*similarity, error) {
	simCfg := &config.Eino.Similarity
	if !simCfg.Enabled {
		log.InfoContext(ctx, "相似版本索引未启用")
		return &similarity{}, nil
	}

	log.InfoContext(ctx, "正在初始化 Embedder",
		"provider", simCfg.Embedder.Provider,
		"model", simCfg.Embedder.Model)
	embedder, err := components.NewEmbedder(ctx, &simCfg.Embedder)
	if err != nil {
		return nil, fmt.Errorf("Embedder 初始化失败: %w", err)
	}

	log.InfoContext(ctx, "正在初始化 Retriever",
		"provider", simCfg.Retriever.Provider,
		"collection", simCfg.Retriever.Collection)
	ret, err := components.NewRetriever(ctx, &simCfg.Retriever, embedder)
	if err != nil {
		return nil, fmt.Errorf("Retriever 初始化失败: %w", err)
	}

	log.InfoContext(ctx, "正在初始化 Indexer",
		"provider", simCfg.Indexer.Provider,
		"collection", simCfg.Indexer.Collection)
	idx, err := components.NewIndexer(ctx, &simCfg.Indexer, embedder)
	if err != nil {
		return nil, fmt.Errorf("Indexer 初始化失败: %w", err)
	}

	index, err := flows.NewSimilarityIndex(ctx, idx, ret, versions, simCfg, log, cbHandlers...)
	if err != nil {
		return nil, err
	}

	cleaner, err := flows.NewSimilarityIndexCleaner(ctx, &simCfg.Retriever)
	if err != nil {
		return nil, fmt.Errorf("相似索引清理器初始化失败: %w", err)
	}

	log.InfoContext(ctx, "相似版本索引初始化完成")
	return &similarity{index: index, cleaner: cleaner}, nil
}

// runApplication 运行应用程序，监听停止信号
// 此函数会阻塞直到收到停止信号、服务器错误或上下文取消
func runApplication(ctx context.Context, httpServer *server.Server, log logger.Logger) error {
	errChan := make(chan error, 1)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChan)

	httpServer.Start(ctx, errChan)

	select {
	case err := <-errChan:
		log.ErrorContext(ctx, "服务器运行错误", "error", err)
		return err

	case sig := <-signalChan:
		log.InfoContext(ctx, "收到停止信号，开始优雅关闭", "signal", sig.String())
		return httpServer.Shutdown(context.Background())

	case <-ctx.Done():
		log.InfoContext(ctx, "上下文取消，开始优雅关闭")
		return httpServer.Shutdown(context.Background())
	}
}
