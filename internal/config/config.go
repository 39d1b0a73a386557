package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Redis         RedisConfig         `yaml:"redis"`
	Firestore     FirestoreConfig     `yaml:"firestore"`
	Gemini        GeminiConfig        `yaml:"gemini"`
	ClickHouse    ClickHouseConfig    `yaml:"clickhouse"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Search        SearchConfig        `yaml:"search"`
	ConfigStore   ConfigStoreConfig   `yaml:"config_store"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type ElasticsearchConfig struct {
	Addresses         []string      `yaml:"addresses"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	IndexPrefix       string        `yaml:"index_prefix"`
	NumShards         int           `yaml:"num_shards"`
	NumReplicas       int           `yaml:"num_replicas"`
	BulkSize          int           `yaml:"bulk_size"`
	BulkFlushInterval time.Duration `yaml:"bulk_flush_interval"`
	EmbeddingDims     int           `yaml:"embedding_dims"`
}

type RedisConfig struct {
	Addresses    []string       `yaml:"addresses"`
	Password     string         `yaml:"password"`
	DB           int            `yaml:"db"`
	PoolSize     int            `yaml:"pool_size"`
	MinIdleConns int            `yaml:"min_idle_conns"`
	DialTimeout  time.Duration  `yaml:"dial_timeout"`
	ReadTimeout  time.Duration  `yaml:"read_timeout"`
	WriteTimeout time.Duration  `yaml:"write_timeout"`
	TTL          CacheTTLConfig `yaml:"ttl"`
}

type CacheTTLConfig struct {
	KeywordResults time.Duration `yaml:"keyword_results"`
	IntentResults  time.Duration `yaml:"intent_results"`
	StaleFallback  time.Duration `yaml:"stale_fallback"`
}

type FirestoreConfig struct {
	ProjectID       string        `yaml:"project_id"`
	CredentialsFile string        `yaml:"credentials_file"`
	Collection      string        `yaml:"collection"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

type GeminiConfig struct {
	APIKey         string        `yaml:"api_key"`
	TextModel      string        `yaml:"text_model"`
	EmbeddingModel string        `yaml:"embedding_model"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type ClickHouseConfig struct {
	Addresses    []string      `yaml:"addresses"`
	Database     string        `yaml:"database"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
}

type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	TopicChanges  string        `yaml:"topic_changes"`
	TopicDLQ      string        `yaml:"topic_dlq"`
	ConsumerGroup string        `yaml:"consumer_group"`
	BatchTimeout  time.Duration `yaml:"batch_timeout"`
	MaxRetries    int           `yaml:"max_retries"`
}

type SearchConfig struct {
	BusinessID          string               `yaml:"business_id"`
	MaxKeywordResults   int                  `yaml:"max_keyword_results"`
	MaxIntentResults    int                  `yaml:"max_intent_results"`
	MaxMatchReasons     int                  `yaml:"max_match_reasons"`
	SampleSize          int                  `yaml:"sample_size"`
	ScenarioBatchSize   int                  `yaml:"scenario_batch_size"`
	VectorSearchEnabled bool                 `yaml:"vector_search_enabled"`
	LexicalScoreDivisor float64              `yaml:"lexical_score_divisor"`
	QueryTimeout        time.Duration        `yaml:"query_timeout"`
	CircuitBreaker      CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry               RetryConfig          `yaml:"retry"`
	SlowQuery           SlowQueryConfig      `yaml:"slow_query"`
}

type CircuitBreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	InitialWait time.Duration `yaml:"initial_wait"`
	MaxWait     time.Duration `yaml:"max_wait"`
	Multiplier  float64       `yaml:"multiplier"`
}

type SlowQueryConfig struct {
	WarningThreshold  time.Duration `yaml:"warning_threshold"`
	CriticalThreshold time.Duration `yaml:"critical_threshold"`
}

type ConfigStoreConfig struct {
	Backend string `yaml:"backend"` // badger or elasticsearch
	Path    string `yaml:"path"`
}

type ObservabilityConfig struct {
	MetricsPort     int    `yaml:"metrics_port"`
	TracingEndpoint string `yaml:"tracing_endpoint"`
	LogLevel        string `yaml:"log_level"`
	ServiceName     string `yaml:"service_name"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Elasticsearch: ElasticsearchConfig{
			Addresses:         []string{"http://localhost:9200"},
			MaxRetries:        3,
			RequestTimeout:    2 * time.Second,
			IndexPrefix:       "store",
			NumShards:         1,
			NumReplicas:       0,
			BulkSize:          500,
			BulkFlushInterval: 5 * time.Second,
			EmbeddingDims:     768,
		},
		Redis: RedisConfig{
			Addresses:    []string{"localhost:6379"},
			PoolSize:     100,
			MinIdleConns: 10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  1 * time.Second,
			WriteTimeout: 1 * time.Second,
			TTL: CacheTTLConfig{
				KeywordResults: 2 * time.Minute,
				IntentResults:  5 * time.Minute,
				StaleFallback:  1 * time.Hour,
			},
		},
		Firestore: FirestoreConfig{
			Collection:     "products",
			RequestTimeout: 2 * time.Second,
		},
		Gemini: GeminiConfig{
			TextModel:      "gemini-2.0-flash",
			EmbeddingModel: "text-embedding-004",
			RequestTimeout: 15 * time.Second,
		},
		ClickHouse: ClickHouseConfig{
			Addresses:    []string{"localhost:9000"},
			Database:     "search_analytics",
			DialTimeout:  5 * time.Second,
			QueryTimeout: 2 * time.Second,
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			TopicChanges:  "catalog.changes",
			TopicDLQ:      "catalog.changes.dlq",
			ConsumerGroup: "intent-search-indexer",
			BatchTimeout:  1 * time.Second,
			MaxRetries:    3,
		},
		Search: SearchConfig{
			BusinessID:          "default",
			MaxKeywordResults:   20,
			MaxIntentResults:    10,
			MaxMatchReasons:     3,
			SampleSize:          30,
			ScenarioBatchSize:   5,
			VectorSearchEnabled: true,
			LexicalScoreDivisor: 10.0,
			QueryTimeout:        5 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				MaxRequests:      100,
				Interval:         30 * time.Second,
				Timeout:          30 * time.Second,
				FailureThreshold: 5,
			},
			Retry: RetryConfig{
				MaxAttempts: 2,
				InitialWait: 50 * time.Millisecond,
				MaxWait:     500 * time.Millisecond,
				Multiplier:  2.0,
			},
			SlowQuery: SlowQueryConfig{
				WarningThreshold:  500 * time.Millisecond,
				CriticalThreshold: 2 * time.Second,
			},
		},
		ConfigStore: ConfigStoreConfig{
			Backend: "badger",
			Path:    "data/configstore",
		},
		Observability: ObservabilityConfig{
			MetricsPort: 9090,
			LogLevel:    "info",
			ServiceName: "intent-search",
		},
	}
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if len(c.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("at least one elasticsearch address required")
	}
	if len(c.Redis.Addresses) == 0 {
		return fmt.Errorf("at least one redis address required")
	}
	if c.Search.BusinessID == "" {
		return fmt.Errorf("business id required")
	}
	if c.Search.MaxKeywordResults <= 0 {
		return fmt.Errorf("max keyword results must be positive")
	}
	if c.Search.MaxIntentResults <= 0 {
		return fmt.Errorf("max intent results must be positive")
	}
	if c.Search.ScenarioBatchSize <= 0 {
		return fmt.Errorf("scenario batch size must be positive")
	}
	if c.Search.SampleSize <= 0 {
		return fmt.Errorf("sample size must be positive")
	}
	if c.Search.LexicalScoreDivisor <= 0 {
		return fmt.Errorf("lexical score divisor must be positive")
	}
	switch c.ConfigStore.Backend {
	case "badger", "elasticsearch":
	default:
		return fmt.Errorf("unknown config store backend: %s", c.ConfigStore.Backend)
	}
	return nil
}
