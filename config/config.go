package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用程序配置结构体
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DocStore   DocStoreConfig   `mapstructure:"docstore"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Reader     ReaderConfig     `mapstructure:"reader"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Preprocess PreprocessConfig `mapstructure:"preprocess"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Search     SearchConfig     `mapstructure:"search"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"` // 服务器主机
	Port int    `mapstructure:"port"` // 服务器端口
	Mode string `mapstructure:"mode"` // 运行模式：debug 或 release
}

// StorageConfig 存储配置
type StorageConfig struct {
	Type      string `mapstructure:"type"`     // 存储类型：local 或 minio
	Path      string `mapstructure:"path"`     // 本地存储路径
	Bucket    string `mapstructure:"bucket"`   // MinIO桶名称
	Endpoint  string `mapstructure:"endpoint"` // MinIO端点
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"` // 是否使用SSL
}

// DocStoreConfig 文档存储配置
type DocStoreConfig struct {
	Type      string `mapstructure:"type"`      // 存储类型：elasticsearch、memory、faiss 或 pgvector
	Host      string `mapstructure:"host"`      // Elasticsearch主机
	Port      int    `mapstructure:"port"`      // Elasticsearch端口
	Scheme    string `mapstructure:"scheme"`    // 协议：http 或 https
	Username  string `mapstructure:"username"`  // 认证用户名
	Password  string `mapstructure:"password"`  // 认证密码
	Index     string `mapstructure:"index"`     // 索引名称（pgvector下为表名）
	DSN       string `mapstructure:"dsn"`       // pgvector连接串
	Path      string `mapstructure:"path"`      // faiss索引文件路径
	Dimension int    `mapstructure:"dimension"` // 向量维度
}

// ClassifierConfig 零样本分类配置
type ClassifierConfig struct {
	Provider   string   `mapstructure:"provider"`    // 提供商：huggingface
	Model      string   `mapstructure:"model"`       // 模型名称
	APIKey     string   `mapstructure:"api_key"`     // API密钥
	Endpoint   string   `mapstructure:"endpoint"`    // 推理服务端点
	Labels     []string `mapstructure:"labels"`      // 候选标签
	MultiLabel bool     `mapstructure:"multi_label"` // 是否多标签分类
	BatchSize  int      `mapstructure:"batch_size"`  // 批处理大小
	MaxWorkers int      `mapstructure:"max_workers"` // 并发批次数
}

// ReaderConfig 答案抽取配置
type ReaderConfig struct {
	Provider      string `mapstructure:"provider"`       // 提供商：huggingface
	Model         string `mapstructure:"model"`          // 模型名称
	APIKey        string `mapstructure:"api_key"`        // API密钥
	Endpoint      string `mapstructure:"endpoint"`       // 推理服务端点
	TopK          int    `mapstructure:"top_k"`          // 返回答案数量
	ContextWindow int    `mapstructure:"context_window"` // 答案上下文窗口长度
	MaxWorkers    int    `mapstructure:"max_workers"`    // 并发抽取数
}

// EmbeddingConfig 向量嵌入模型配置
type EmbeddingConfig struct {
	Enable     bool   `mapstructure:"enable"`     // 是否启用向量检索
	Provider   string `mapstructure:"provider"`   // 提供商：tongyi 或 openai
	Model      string `mapstructure:"model"`      // 模型名称
	APIKey     string `mapstructure:"api_key"`    // API密钥
	Endpoint   string `mapstructure:"endpoint"`   // API端点
	BatchSize  int    `mapstructure:"batch_size"` // 批处理大小
	Dimensions int    `mapstructure:"dimensions"` // 向量维度
}

// PreprocessConfig 文本预处理配置
type PreprocessConfig struct {
	SplitBy           string `mapstructure:"split_by"`           // 分段单位：word、sentence、passage 或 token
	SplitLength       int    `mapstructure:"split_length"`       // 每段单位数量
	SplitOverlap      int    `mapstructure:"split_overlap"`      // 分段重叠单位数量
	CleanWhitespace   bool   `mapstructure:"clean_whitespace"`   // 是否清理行首尾空白
	CleanEmptyLines   bool   `mapstructure:"clean_empty_lines"`  // 是否合并连续空行
	CleanHeaderFooter bool   `mapstructure:"clean_header_footer"` // 是否去除页眉页脚
	RespectSentence   bool   `mapstructure:"respect_sentence"`   // 按词分段时是否对齐句子边界
	TokenEncoding     string `mapstructure:"token_encoding"`     // token分段使用的编码器
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Enable   bool   `mapstructure:"enable"`   // 是否启用问答缓存
	Type     string `mapstructure:"type"`     // 缓存类型：memory 或 redis
	Address  string `mapstructure:"address"`  // Redis地址
	Password string `mapstructure:"password"` // Redis密码
	DB       int    `mapstructure:"db"`       // Redis数据库
	TTL      int    `mapstructure:"ttl"`      // 缓存TTL（秒）
}

// QueueConfig 任务队列配置
type QueueConfig struct {
	Enable        bool   `mapstructure:"enable"`         // 是否启用任务队列
	Type          string `mapstructure:"type"`           // 队列类型：redis
	RedisAddr     string `mapstructure:"redis_addr"`     // Redis地址
	RedisPassword string `mapstructure:"redis_password"` // Redis密码
	RedisDB       int    `mapstructure:"redis_db"`       // Redis数据库编号
	Concurrency   int    `mapstructure:"concurrency"`    // 任务处理并发数
	RetryLimit    int    `mapstructure:"retry_limit"`    // 任务最大重试次数
	RetryDelay    int    `mapstructure:"retry_delay"`    // 重试延迟(秒)
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // 数据库类型: sqlite, mysql, postgres
	DSN  string `mapstructure:"dsn"`  // 数据源名称
}

// SearchConfig 检索配置
type SearchConfig struct {
	Limit    int     `mapstructure:"limit"`     // 检索结果数量限制
	MinScore float64 `mapstructure:"min_score"` // 最低相关度分数
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // 日志级别
	File       string `mapstructure:"file"`        // 日志文件路径，为空时只输出到stdout
	MaxSizeMB  int    `mapstructure:"max_size_mb"` // 单个日志文件最大体积(MB)
	MaxBackups int    `mapstructure:"max_backups"` // 保留的历史日志文件数量
	MaxAgeDays int    `mapstructure:"max_age_days"` // 日志保留天数
	Compress   bool   `mapstructure:"compress"`    // 是否压缩历史日志
}

// Load 从文件和环境变量加载配置
func Load(configPath string) (*Config, error) {
	var config Config

	// 设置默认配置路径
	if configPath == "" {
		configPath = "config.yaml" // 默认在当前目录寻找config.yaml
	}

	// 初始化viper
	v := viper.New()

	// 设置配置文件路径和类型
	v.SetConfigFile(configPath)

	// 尝试读取配置文件
	if err := v.ReadInConfig(); err != nil {
		// 如果找不到配置文件，创建一个默认配置文件
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("Warning: Config file not found at %s, using defaults", configPath)
			setDefaults(v)
			// 创建默认配置文件
			dir := filepath.Dir(configPath)
			if err := os.MkdirAll(dir, 0755); err == nil {
				if err := v.WriteConfigAs(configPath); err != nil {
					log.Printf("Warning: Could not write default config to %s: %v", configPath, err)
				}
			}
		} else {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}
	} else {
		log.Printf("Using config file: %s", v.ConfigFileUsed())
	}

	// 设置默认值
	setDefaults(v)

	// 支持环境变量覆盖
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 解析配置到结构体
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}

	// 展开形如${ENV_VAR}的配置值
	resConfig := processEnvironmentVariables(&config)

	return resConfig, nil
}

// processEnvironmentVariables 展开凭据类配置项中的环境变量引用
func processEnvironmentVariables(cfg *Config) *Config {
	cfg.Classifier.APIKey = expandEnv(cfg.Classifier.APIKey)
	cfg.Reader.APIKey = expandEnv(cfg.Reader.APIKey)
	cfg.Embedding.APIKey = expandEnv(cfg.Embedding.APIKey)
	cfg.DocStore.Password = expandEnv(cfg.DocStore.Password)
	cfg.Storage.SecretKey = expandEnv(cfg.Storage.SecretKey)
	cfg.Cache.Password = expandEnv(cfg.Cache.Password)
	cfg.Queue.RedisPassword = expandEnv(cfg.Queue.RedisPassword)
	return cfg
}

// expandEnv 将${ENV_VAR}形式的值替换为对应环境变量
// 环境变量未设置时返回空字符串，避免把占位符当作真实凭据使用
func expandEnv(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		envVar := value[2 : len(value)-1]
		return os.Getenv(envVar)
	}
	return value
}

// setDefaults 设置配置的默认值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")

	// 存储默认配置
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.path", "./data/files")
	v.SetDefault("storage.bucket", "docqa")
	v.SetDefault("storage.use_ssl", false)

	// 文档存储默认配置
	v.SetDefault("docstore.type", "elasticsearch")
	v.SetDefault("docstore.host", "localhost")
	v.SetDefault("docstore.port", 9200)
	v.SetDefault("docstore.scheme", "http")
	v.SetDefault("docstore.index", "documents")
	v.SetDefault("docstore.path", "./data/faiss")
	v.SetDefault("docstore.dimension", 768)

	// 分类默认配置
	v.SetDefault("classifier.provider", "huggingface")
	v.SetDefault("classifier.model", "cross-encoder/nli-distilroberta-base")
	v.SetDefault("classifier.api_key", "${HF_API_TOKEN}")
	v.SetDefault("classifier.labels", []string{})
	v.SetDefault("classifier.multi_label", false)
	v.SetDefault("classifier.batch_size", 8)
	v.SetDefault("classifier.max_workers", 4)

	// 答案抽取默认配置
	v.SetDefault("reader.provider", "huggingface")
	v.SetDefault("reader.model", "deepset/roberta-base-squad2")
	v.SetDefault("reader.api_key", "${HF_API_TOKEN}")
	v.SetDefault("reader.top_k", 5)
	v.SetDefault("reader.context_window", 150)
	v.SetDefault("reader.max_workers", 4)

	// 向量嵌入默认配置
	v.SetDefault("embedding.enable", false)
	v.SetDefault("embedding.provider", "tongyi")
	v.SetDefault("embedding.model", "text-embedding-v1")
	v.SetDefault("embedding.batch_size", 16)
	v.SetDefault("embedding.dimensions", 768)

	// 预处理默认配置
	v.SetDefault("preprocess.split_by", "word")
	v.SetDefault("preprocess.split_length", 200)
	v.SetDefault("preprocess.split_overlap", 0)
	v.SetDefault("preprocess.clean_whitespace", true)
	v.SetDefault("preprocess.clean_empty_lines", true)
	v.SetDefault("preprocess.clean_header_footer", false)
	v.SetDefault("preprocess.respect_sentence", true)

	// 缓存默认配置
	v.SetDefault("cache.enable", true)
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.ttl", 3600) // 1小时

	// 队列默认配置
	v.SetDefault("queue.enable", false)
	v.SetDefault("queue.type", "redis")
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.retry_limit", 3)
	v.SetDefault("queue.retry_delay", 60) // 60秒

	// 数据库默认配置
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "data/docqa.db")

	// 检索默认配置
	v.SetDefault("search.limit", 10)
	v.SetDefault("search.min_score", 0.0)

	// 日志默认配置
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.compress", true)
}
