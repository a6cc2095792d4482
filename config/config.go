package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Redis      RedisConfig      `json:"redis"`
	OpenAI     OpenAIConfig     `json:"openai"`
	Anthropic  AnthropicConfig  `json:"anthropic"`
	Reranker   RerankerConfig   `json:"reranker"`
	Retrieval  RetrievalConfig  `json:"retrieval"`
	Contextual ContextualConfig `json:"contextual"`
	Ingest     IngestConfig     `json:"ingest"`
}

type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	ReadTimeout    int      `json:"read_timeout"`
	WriteTimeout   int      `json:"write_timeout"`
	IdleTimeout    int      `json:"idle_timeout"`
	MaxUploadBytes int64    `json:"max_upload_bytes"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type DatabaseConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Password     string `json:"password"`
	Name         string `json:"name"`
	SSLMode      string `json:"ssl_mode"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
	MaxLifetime  int    `json:"max_lifetime"`
}

// RedisConfig holds configuration for the document-metadata cache.
// When Host is empty the cache runs purely in memory.
type RedisConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	Password        string `json:"password"`
	DB              int    `json:"db"`
	MetadataTTLSecs int    `json:"metadata_ttl_secs"`
}

// OpenAIConfig holds configuration for the embedding backend.
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	BaseURL        string `json:"base_url"`
	EmbeddingModel string `json:"embedding_model"`
	Dimensions     int    `json:"dimensions"`
	MaxBatchSize   int    `json:"max_batch_size"`
	Timeout        int    `json:"timeout"`
}

// AnthropicConfig holds configuration for the contextualizer LLM.
type AnthropicConfig struct {
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	Timeout int    `json:"timeout"`
}

// RerankerConfig holds configuration for the cross-encoder sidecar.
// An empty BaseURL disables reranking regardless of the UseRerank flag.
type RerankerConfig struct {
	BaseURL string `json:"base_url"`
	Timeout int    `json:"timeout"`
	Workers int    `json:"workers"`
}

// RetrievalConfig holds the feature flags and tunables of the query path.
type RetrievalConfig struct {
	UseHybridSearch     bool    `json:"use_hybrid_search"`
	UseRerank           bool    `json:"use_rerank"`
	DefaultTopK         int     `json:"default_top_k"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	SearchDeadlineMs    int     `json:"search_deadline_ms"`
	ContextBudgetMs     int     `json:"context_budget_ms"`
	ContextCharLimit    int     `json:"context_char_limit"`
}

// ContextualConfig holds configuration for contextual retrieval enrichment.
type ContextualConfig struct {
	Enabled              bool `json:"enabled"`
	MaxDailyRequests     int  `json:"max_daily_requests"`
	MaxTokensPerDocument int  `json:"max_tokens_per_document"`
	BatchThreshold       int  `json:"batch_threshold"`
	BatchTimeout         int  `json:"batch_timeout"`
	Concurrency          int  `json:"concurrency"`
	RequestTimeout       int  `json:"request_timeout"`
}

// IngestConfig holds tunables of the ingestion pipeline. DeadlineSecs
// bounds a single ingest run, which is detached from the uploading
// request and keeps going if the client disconnects.
type IngestConfig struct {
	ChunkSizeTokens    int `json:"chunk_size_tokens"`
	ChunkOverlapTokens int `json:"chunk_overlap_tokens"`
	EmbedRetries       int `json:"embed_retries"`
	DeadlineSecs       int `json:"deadline_secs"`
}

func LoadConfig() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:    getEnvAsInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout:   getEnvAsInt("SERVER_WRITE_TIMEOUT", 30),
			IdleTimeout:    getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
			MaxUploadBytes: int64(getEnvAsInt("MAX_UPLOAD_BYTES", 20*1024*1024)),
			AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "groupchat"),
			Password:     getEnv("DB_PASSWORD", ""),
			Name:         getEnv("DB_NAME", "groupchat"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
		},
		Redis: RedisConfig{
			Host:            getEnv("REDIS_HOST", ""),
			Port:            getEnvAsInt("REDIS_PORT", 6379),
			Password:        getEnv("REDIS_PASSWORD", ""),
			DB:              getEnvAsInt("REDIS_DB", 0),
			MetadataTTLSecs: getEnvAsInt("METADATA_CACHE_TTL", 300),
		},
		OpenAI: OpenAIConfig{
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			BaseURL:        getEnv("OPENAI_BASE_URL", ""),
			EmbeddingModel: getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			Dimensions:     getEnvAsInt("EMBEDDING_DIMENSIONS", 1536),
			MaxBatchSize:   getEnvAsInt("EMBEDDING_MAX_BATCH", 256),
			Timeout:        getEnvAsInt("OPENAI_TIMEOUT", 30),
		},
		Anthropic: AnthropicConfig{
			APIKey:  getEnv("ANTHROPIC_API_KEY", ""),
			Model:   getEnv("CONTEXTUAL_RETRIEVAL_MODEL", "claude-3-7-sonnet-latest"),
			Timeout: getEnvAsInt("ANTHROPIC_TIMEOUT", 30),
		},
		Reranker: RerankerConfig{
			BaseURL: getEnv("RERANKER_BASE_URL", ""),
			Timeout: getEnvAsInt("RERANKER_TIMEOUT", 5),
			Workers: getEnvAsInt("RERANKER_WORKERS", 4),
		},
		Retrieval: RetrievalConfig{
			UseHybridSearch:     getEnvAsBool("USE_HYBRID_SEARCH", false),
			UseRerank:           getEnvAsBool("USE_RERANK", false),
			DefaultTopK:         getEnvAsInt("RETRIEVAL_TOP_K", 5),
			SimilarityThreshold: getEnvAsFloat("SIMILARITY_THRESHOLD", 0.3),
			SearchDeadlineMs:    getEnvAsInt("SEARCH_DEADLINE_MS", 150),
			ContextBudgetMs:     getEnvAsInt("CONTEXT_BUDGET_MS", 400),
			ContextCharLimit:    getEnvAsInt("CONTEXT_CHAR_LIMIT", 4000),
		},
		Contextual: ContextualConfig{
			Enabled:              getEnvAsBool("ENABLE_CONTEXTUAL_RETRIEVAL", false),
			MaxDailyRequests:     getEnvAsInt("MAX_DAILY_CONTEXTUAL_REQUESTS", 1000),
			MaxTokensPerDocument: getEnvAsInt("MAX_CONTEXTUAL_TOKENS_PER_DOCUMENT", 100000),
			BatchThreshold:       getEnvAsInt("CONTEXTUAL_BATCH_THRESHOLD", 10),
			BatchTimeout:         getEnvAsInt("CONTEXTUAL_BATCH_TIMEOUT", 3600),
			Concurrency:          getEnvAsInt("CONTEXTUAL_CONCURRENCY", 4),
			RequestTimeout:       getEnvAsInt("CONTEXTUAL_PROCESSING_TIMEOUT", 120),
		},
		Ingest: IngestConfig{
			ChunkSizeTokens:    getEnvAsInt("CHUNK_SIZE_TOKENS", 800),
			ChunkOverlapTokens: getEnvAsInt("CHUNK_OVERLAP_TOKENS", 80),
			EmbedRetries:       getEnvAsInt("EMBED_RETRIES", 3),
			DeadlineSecs:       getEnvAsInt("INGEST_DEADLINE_SECS", 120),
		},
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func validateConfig(config *Config) error {
	if config.Database.Password == "" {
		return fmt.Errorf("database password is required (DB_PASSWORD)")
	}

	if config.OpenAI.APIKey == "" {
		return fmt.Errorf("embedding API key is required (OPENAI_API_KEY)")
	}

	if config.Contextual.Enabled && config.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when ENABLE_CONTEXTUAL_RETRIEVAL is set")
	}

	if config.Retrieval.UseRerank && config.Reranker.BaseURL == "" {
		return fmt.Errorf("RERANKER_BASE_URL is required when USE_RERANK is set")
	}

	if config.Ingest.ChunkOverlapTokens >= config.Ingest.ChunkSizeTokens {
		return fmt.Errorf("chunk overlap must be smaller than chunk size")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
