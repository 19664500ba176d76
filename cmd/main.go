package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fyerfyer/doc-classify-QA-system/api"
	"github.com/fyerfyer/doc-classify-QA-system/api/handler"
	"github.com/fyerfyer/doc-classify-QA-system/api/middleware"
	qaconfig "github.com/fyerfyer/doc-classify-QA-system/config"
	"github.com/fyerfyer/doc-classify-QA-system/internal/cache"
	"github.com/fyerfyer/doc-classify-QA-system/internal/classifier"
	"github.com/fyerfyer/doc-classify-QA-system/internal/database"
	"github.com/fyerfyer/doc-classify-QA-system/internal/docstore"
	"github.com/fyerfyer/doc-classify-QA-system/internal/document"
	"github.com/fyerfyer/doc-classify-QA-system/internal/embedding"
	"github.com/fyerfyer/doc-classify-QA-system/internal/reader"
	"github.com/fyerfyer/doc-classify-QA-system/internal/repository"
	"github.com/fyerfyer/doc-classify-QA-system/internal/retriever"
	"github.com/fyerfyer/doc-classify-QA-system/internal/services"
	"github.com/fyerfyer/doc-classify-QA-system/pkg/storage"
	"github.com/fyerfyer/doc-classify-QA-system/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 命令行参数
type flags struct {
	Port         int           // 服务端口
	Mode         string        // 运行模式 (debug/release)
	LogLevel     string        // 日志级别
	LogFile      string        // 日志文件路径
	ReadTimeout  time.Duration // 读取超时
	WriteTimeout time.Duration // 写入超时
	StoragePath  string        // 文件存储路径
	DataDir      string        // 数据目录路径
	ConfigFile   string        // 配置文件路径
	DocStoreType string        // 文档存储类型
	Labels       string        // 逗号分隔的候选分类标签
	// 任务队列相关配置
	QueueEnabled     bool          // 是否启用任务队列
	RedisAddr        string        // Redis 地址
	RedisPassword    string        // Redis 密码
	RedisDB          int           // Redis 数据库编号
	QueueConcurrency int           // 任务队列处理并发数
	QueueRetryLimit  int           // 任务重试次数
	QueueRetryDelay  time.Duration // 任务重试延迟
}

func main() {
	// 解析命令行参数
	cliFlags := parseFlags()

	// 加载配置文件，命令行参数覆盖文件中的同名配置
	cfg, err := qaconfig.Load(cliFlags.ConfigFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg, cliFlags)

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	// 初始化日志
	logger := setupLogger(cfg.Logging)
	logger.Info("Starting document classification and QA system...")

	// 初始化数据库
	if err := setupDatabase(cfg, logger); err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}

	// 创建文件存储服务
	fileStorage, err := setupStorage(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}

	// 创建文档存储
	store, err := setupDocStore(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize document store: %v", err)
	}
	defer store.Close()

	// 创建零样本分类客户端（可选）
	classifyClient, documentClassifier := setupClassifier(cfg, logger)

	// 创建答案抽取服务
	readerService, err := setupReader(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize reader: %v", err)
	}

	// 创建文本预处理器
	preprocessor, err := setupPreprocessor(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize preprocessor: %v", err)
	}

	// 创建缓存服务
	cacheService, err := setupCache(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize cache: %v", err)
	}

	// 初始化任务队列（如果启用）
	var queue taskqueue.Queue
	if cfg.Queue.Enable {
		queue, err = setupTaskQueue(cfg, logger)
		if err != nil {
			logger.Fatalf("Failed to initialize task queue: %v", err)
		}
		defer queue.Close()
		logger.Info("Task queue initialized successfully")
	}

	// 初始化业务服务
	var repo repository.DocumentRepository
	if queue != nil {
		// 如果启用了任务队列，使用带队列的仓储
		repo = repository.NewDocumentRepositoryWithQueue(database.MustDB(), queue)
		logger.Info("Using document repository with task queue")
	} else {
		repo = repository.NewDocumentRepository()
	}

	statusManager := services.NewDocumentStatusManager(repo, logger)

	// 创建文档服务
	documentServiceOptions := []services.DocumentOption{
		services.WithDocumentRepository(repo),
		services.WithStatusManager(statusManager),
		services.WithBatchSize(16),
		services.WithLogger(logger),
	}

	if documentClassifier != nil {
		documentServiceOptions = append(documentServiceOptions,
			services.WithClassifier(documentClassifier))
		logger.Info("Zero-shot classification enabled for indexing")
	}

	// 可选的向量检索：嵌入客户端可用时分段入库前计算向量
	var embeddingRetriever *retriever.EmbeddingRetriever
	if embeddingClient := setupEmbedding(cfg, logger); embeddingClient != nil {
		embeddingRetriever, err = retriever.NewEmbeddingRetriever(store, embeddingClient,
			retriever.WithEmbeddingTopK(cfg.Search.Limit),
		)
		if err != nil {
			logger.Fatalf("Failed to initialize embedding retriever: %v", err)
		}
		documentServiceOptions = append(documentServiceOptions,
			services.WithEmbeddingRetriever(embeddingRetriever))
		logger.Info("Embedding retrieval enabled")
	}

	if queue != nil {
		documentServiceOptions = append(documentServiceOptions,
			services.WithTaskQueue(queue),
			services.WithAsyncProcessing(true),
		)
		logger.Info("Document processing will use async task queue")
	}

	documentService := services.NewDocumentService(
		fileStorage,
		preprocessor,
		store,
		documentServiceOptions...,
	)

	// 启动任务队列工作者，处理入队的文档处理任务
	var worker taskqueue.Worker
	if queue != nil {
		worker = setupWorker(queue, documentService, logger)
	}

	// 问答检索器：启用向量检索时优先使用，否则走BM25
	var qaRetriever retriever.Retriever
	if embeddingRetriever != nil {
		qaRetriever = embeddingRetriever
	} else {
		bm25, err := retriever.NewBM25Retriever(store,
			retriever.WithBM25TopK(cfg.Search.Limit),
			retriever.WithBM25MinScore(cfg.Search.MinScore),
		)
		if err != nil {
			logger.Fatalf("Failed to initialize BM25 retriever: %v", err)
		}
		qaRetriever = bm25
	}

	// 创建问答历史和问答服务
	historyRepo := repository.NewHistoryRepositoryWithDB(database.MustDB())
	historyService := services.NewHistoryService(historyRepo,
		services.WithHistoryLogger(logger),
	)

	qaServiceOptions := []services.QAOption{
		services.WithSearchLimit(cfg.Search.Limit),
		services.WithMinScore(cfg.Search.MinScore),
		services.WithHistory(historyRepo),
	}
	if cfg.Cache.TTL > 0 {
		qaServiceOptions = append(qaServiceOptions,
			services.WithCacheTTL(time.Duration(cfg.Cache.TTL)*time.Second))
	}

	qaService := services.NewQAService(
		qaRetriever,
		readerService,
		cacheService,
		qaServiceOptions...,
	)

	// 初始化API处理器
	routerConfig := api.RouterConfig{
		DocumentHandler: handler.NewDocumentHandler(documentService, fileStorage),
		QAHandler:       handler.NewQAHandler(qaService),
		ClassifyHandler: handler.NewClassifyHandler(classifyClient),
		HistoryHandler:  handler.NewHistoryHandler(historyService),
	}
	if queue != nil {
		routerConfig.TaskHandler = handler.NewTaskHandler(queue)
	}

	// 设置路由
	r := api.SetupRouter(routerConfig)

	// 启动HTTP服务器
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cliFlags.ReadTimeout,
		WriteTimeout: cliFlags.WriteTimeout,
	}

	// 优雅关闭
	go func() {
		// 启动服务
		logger.Infof("Server is running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 等待终止信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// 先停止任务队列工作者
	if worker != nil {
		worker.Stop()
	}

	// 创建带超时的上下文
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 优雅关闭服务器
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}

// parseFlags 解析命令行参数
func parseFlags() flags {
	cfg := flags{}

	// 服务配置
	flag.IntVar(&cfg.Port, "port", 8080, "Server port")
	flag.StringVar(&cfg.Mode, "mode", "debug", "Run mode (debug/release)")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug/info/warn/error)")
	flag.StringVar(&cfg.LogFile, "log-file", "", "Log file path (empty for stdout only)")
	flag.DurationVar(&cfg.ReadTimeout, "read-timeout", 30*time.Second, "Read timeout")
	flag.DurationVar(&cfg.WriteTimeout, "write-timeout", 30*time.Second, "Write timeout")

	// 存储配置
	flag.StringVar(&cfg.StoragePath, "storage", "./data/files", "File storage path")
	flag.StringVar(&cfg.DataDir, "data-dir", "./data", "Data directory path")

	// 文档存储配置
	flag.StringVar(&cfg.DocStoreType, "docstore", "", "Document store type (elasticsearch/memory/faiss/pgvector)")

	// 分类配置
	flag.StringVar(&cfg.Labels, "labels", "", "Comma separated candidate labels for classification")

	// 配置文件
	flag.StringVar(&cfg.ConfigFile, "config", "", "Path to config file")

	// 任务队列配置
	flag.BoolVar(&cfg.QueueEnabled, "queue", false, "Enable task queue")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", "localhost:6379", "Redis address for task queue")
	flag.StringVar(&cfg.RedisPassword, "redis-password", "", "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", 0, "Redis database number")
	flag.IntVar(&cfg.QueueConcurrency, "queue-concurrency", 10, "Task queue concurrency")
	flag.IntVar(&cfg.QueueRetryLimit, "queue-retry", 3, "Max retry attempts for failed tasks")
	flag.DurationVar(&cfg.QueueRetryDelay, "queue-retry-delay", time.Minute, "Delay between retry attempts")

	flag.Parse()
	return cfg
}

// applyFlags 用显式设置的命令行参数覆盖配置文件中的值
func applyFlags(cfg *qaconfig.Config, cliFlags flags) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Server.Port = cliFlags.Port
		case "mode":
			cfg.Server.Mode = cliFlags.Mode
		case "log-level":
			cfg.Logging.Level = cliFlags.LogLevel
		case "log-file":
			cfg.Logging.File = cliFlags.LogFile
		case "storage":
			cfg.Storage.Path = cliFlags.StoragePath
		case "docstore":
			cfg.DocStore.Type = cliFlags.DocStoreType
		case "labels":
			cfg.Classifier.Labels = splitLabels(cliFlags.Labels)
		case "queue":
			cfg.Queue.Enable = cliFlags.QueueEnabled
		case "redis-addr":
			cfg.Queue.RedisAddr = cliFlags.RedisAddr
		case "redis-password":
			cfg.Queue.RedisPassword = cliFlags.RedisPassword
		case "redis-db":
			cfg.Queue.RedisDB = cliFlags.RedisDB
		case "queue-concurrency":
			cfg.Queue.Concurrency = cliFlags.QueueConcurrency
		case "queue-retry":
			cfg.Queue.RetryLimit = cliFlags.QueueRetryLimit
		case "queue-retry-delay":
			cfg.Queue.RetryDelay = int(cliFlags.QueueRetryDelay.Seconds())
		}
	})

	// 数据目录决定sqlite数据库位置
	if cfg.Database.Type == "sqlite" && !filepath.IsAbs(cfg.Database.DSN) {
		cfg.Database.DSN = filepath.Join(cliFlags.DataDir, filepath.Base(cfg.Database.DSN))
	}

	// 环境变量优先级高于配置文件
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		cfg.Queue.RedisAddr = redisAddr
		cfg.Cache.Address = redisAddr
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		cfg.Queue.RedisPassword = redisPassword
		cfg.Cache.Password = redisPassword
	}
	if token := os.Getenv("HF_API_TOKEN"); token != "" {
		if cfg.Classifier.APIKey == "" {
			cfg.Classifier.APIKey = token
		}
		if cfg.Reader.APIKey == "" {
			cfg.Reader.APIKey = token
		}
	}
}

// splitLabels 解析逗号分隔的标签列表
func splitLabels(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	labels := make([]string, 0, len(parts))
	for _, part := range parts {
		if label := strings.TrimSpace(part); label != "" {
			labels = append(labels, label)
		}
	}
	return labels
}

// setupLogger 设置日志系统
func setupLogger(cfg qaconfig.LoggingConfig) *logrus.Logger {
	logger := middleware.GetLogger()

	// 设置日志级别
	switch cfg.Level {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	// 配置了日志文件时写入滚动日志
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		logger.SetOutput(io.MultiWriter(os.Stdout, rotator))
	}

	return logger
}

// setupDatabase 设置数据库
func setupDatabase(cfg *qaconfig.Config, logger *logrus.Logger) error {
	if cfg.Database.Type == "sqlite" {
		// 确保数据目录存在
		if err := os.MkdirAll(filepath.Dir(cfg.Database.DSN), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %v", err)
		}
	}

	dbConfig := &database.Config{
		Type: cfg.Database.Type,
		DSN:  cfg.Database.DSN,
	}

	return database.Setup(dbConfig, logger)
}

// setupStorage 设置文件存储服务
func setupStorage(cfg *qaconfig.Config) (storage.Storage, error) {
	if cfg.Storage.Type == "minio" {
		return storage.NewMinioStorage(storage.MinioConfig{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Bucket:    cfg.Storage.Bucket,
		})
	}

	// 确保存储目录存在
	if err := os.MkdirAll(cfg.Storage.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %v", err)
	}

	return storage.NewLocalStorage(storage.LocalConfig{
		Path: cfg.Storage.Path,
	})
}

// setupDocStore 设置文档存储
// 配置的实现初始化失败时回退到内存实现
func setupDocStore(cfg *qaconfig.Config, logger *logrus.Logger) (docstore.Store, error) {
	storeConfig := docstore.Config{
		Type:              cfg.DocStore.Type,
		Host:              cfg.DocStore.Host,
		Port:              cfg.DocStore.Port,
		Scheme:            cfg.DocStore.Scheme,
		Username:          cfg.DocStore.Username,
		Password:          cfg.DocStore.Password,
		Index:             cfg.DocStore.Index,
		DSN:               cfg.DocStore.DSN,
		Path:              cfg.DocStore.Path,
		Dimension:         cfg.DocStore.Dimension,
		DistanceType:      docstore.Cosine,
		CreateIfNotExists: true,
	}

	store, err := docstore.NewStore(storeConfig)
	if err != nil {
		logger.WithError(err).Warnf("Failed to initialize %s document store, falling back to in-memory store", cfg.DocStore.Type)
		storeConfig.Type = "memory"
		return docstore.NewStore(storeConfig)
	}

	logger.Infof("Document store initialized: %s", cfg.DocStore.Type)
	return store, nil
}

// setupClassifier 设置零样本分类客户端
// 未配置API密钥时返回nil，分类在处理流程中被跳过
func setupClassifier(cfg *qaconfig.Config, logger *logrus.Logger) (classifier.Client, *classifier.DocumentClassifier) {
	if cfg.Classifier.APIKey == "" {
		logger.Warn("Classifier API key not configured, classification disabled")
		return nil, nil
	}

	client, err := classifier.NewClient(cfg.Classifier.Provider,
		classifier.WithAPIKey(cfg.Classifier.APIKey),
		classifier.WithModel(cfg.Classifier.Model),
		classifier.WithEndpoint(cfg.Classifier.Endpoint),
		classifier.WithLabels(cfg.Classifier.Labels),
		classifier.WithMultiLabel(cfg.Classifier.MultiLabel),
		classifier.WithBatchSize(cfg.Classifier.BatchSize),
	)
	if err != nil {
		logger.WithError(err).Warn("Failed to initialize classifier client, classification disabled")
		return nil, nil
	}

	documentClassifier := classifier.NewDocumentClassifier(client,
		cfg.Classifier.BatchSize, cfg.Classifier.MaxWorkers)
	return client, documentClassifier
}

// setupReader 设置答案抽取服务
func setupReader(cfg *qaconfig.Config) (*reader.Reader, error) {
	client, err := reader.NewClient(cfg.Reader.Provider,
		reader.WithAPIKey(cfg.Reader.APIKey),
		reader.WithModel(cfg.Reader.Model),
		reader.WithEndpoint(cfg.Reader.Endpoint),
		reader.WithTopK(cfg.Reader.TopK),
	)
	if err != nil {
		return nil, err
	}

	return reader.NewReader(client,
		reader.WithReaderTopK(cfg.Reader.TopK),
		reader.WithContextWindow(cfg.Reader.ContextWindow),
		reader.WithMaxWorkers(cfg.Reader.MaxWorkers),
	), nil
}

// setupEmbedding 设置嵌入客户端，未启用时返回nil
func setupEmbedding(cfg *qaconfig.Config, logger *logrus.Logger) embedding.Client {
	if !cfg.Embedding.Enable {
		return nil
	}

	if cfg.Embedding.APIKey == "" {
		logger.Warn("Embedding enabled but API key not configured, embedding disabled")
		return nil
	}

	opts := []embedding.Option{
		embedding.WithAPIKey(cfg.Embedding.APIKey),
		embedding.WithModel(cfg.Embedding.Model),
		embedding.WithDimensions(cfg.Embedding.Dimensions),
		embedding.WithBatchSize(cfg.Embedding.BatchSize),
	}
	if cfg.Embedding.Endpoint != "" {
		opts = append(opts, embedding.WithBaseURL(cfg.Embedding.Endpoint))
	}

	client, err := embedding.NewClient(cfg.Embedding.Provider, opts...)
	if err != nil {
		logger.WithError(err).Warn("Failed to initialize embedding client, embedding disabled")
		return nil
	}

	return client
}

// setupPreprocessor 设置文本预处理器
func setupPreprocessor(cfg *qaconfig.Config) (*document.Preprocessor, error) {
	preprocessorConfig := document.PreprocessorConfig{
		CleanWhitespace:         cfg.Preprocess.CleanWhitespace,
		CleanEmptyLines:         cfg.Preprocess.CleanEmptyLines,
		CleanHeaderFooter:       cfg.Preprocess.CleanHeaderFooter,
		SplitBy:                 document.SplitUnit(cfg.Preprocess.SplitBy),
		SplitLength:             cfg.Preprocess.SplitLength,
		SplitOverlap:            cfg.Preprocess.SplitOverlap,
		RespectSentenceBoundary: cfg.Preprocess.RespectSentence,
		TokenEncoding:           cfg.Preprocess.TokenEncoding,
	}

	return document.NewPreprocessor(preprocessorConfig)
}

// setupCache 设置缓存服务
func setupCache(cfg *qaconfig.Config) (cache.Cache, error) {
	cacheConfig := cache.Config{
		Type:            cfg.Cache.Type,
		DefaultTTL:      time.Duration(cfg.Cache.TTL) * time.Second,
		CleanupInterval: 10 * time.Minute,
	}

	// 如果配置了Redis，添加Redis配置
	if cfg.Cache.Type == "redis" {
		cacheConfig.RedisAddr = cfg.Cache.Address
		cacheConfig.RedisPassword = cfg.Cache.Password
		cacheConfig.RedisDB = cfg.Cache.DB
	}

	return cache.NewCache(cacheConfig)
}

// setupTaskQueue 设置任务队列
func setupTaskQueue(cfg *qaconfig.Config, logger *logrus.Logger) (taskqueue.Queue, error) {
	queueConfig := &taskqueue.Config{
		RedisAddr:     cfg.Queue.RedisAddr,
		RedisPassword: cfg.Queue.RedisPassword,
		RedisDB:       cfg.Queue.RedisDB,
		Concurrency:   cfg.Queue.Concurrency,
		RetryLimit:    cfg.Queue.RetryLimit,
		RetryDelay:    time.Duration(cfg.Queue.RetryDelay) * time.Second,
	}

	logger.WithFields(logrus.Fields{
		"type":        cfg.Queue.Type,
		"redis_addr":  cfg.Queue.RedisAddr,
		"concurrency": cfg.Queue.Concurrency,
		"retry_limit": cfg.Queue.RetryLimit,
	}).Info("Setting up task queue")

	return taskqueue.NewQueue(cfg.Queue.Type, queueConfig)
}

// setupWorker 启动任务队列工作者，注册文档处理任务
func setupWorker(queue taskqueue.Queue, documentService *services.DocumentService, logger *logrus.Logger) taskqueue.Worker {
	redisQueue, ok := queue.(*taskqueue.RedisQueue)
	if !ok {
		logger.Warn("Task queue does not support workers, async processing unavailable")
		return nil
	}

	// 复用队列自身的配置
	worker := taskqueue.NewRedisWorker(redisQueue, nil)

	taskHandler := services.NewDocumentTaskHandler(documentService)
	for _, taskType := range taskHandler.GetTaskTypes() {
		worker.RegisterHandler(taskType, taskHandler)
	}

	if err := worker.Start(); err != nil {
		logger.WithError(err).Error("Failed to start task queue worker")
		return nil
	}

	logger.Info("Task queue worker started")
	return worker
}
