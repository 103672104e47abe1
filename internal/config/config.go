package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Storage  StorageConfig
	Parser   ParserConfig
	Embedder EmbedderConfig
	Pipeline PipelineConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	// AdminJWTSecret verifies bearer tokens on the admin surface.
	AdminJWTSecret string
}

type StorageConfig struct {
	Backend     string // "supabase" or "memory"
	SupabaseURL string
	SupabaseKey string
	Bucket      string
}

type ParserConfig struct {
	Backend         string // "http", "local" or "mock"
	URL             string
	CallbackBaseURL string
	SubmitTimeout   time.Duration
	Name            string
	Version         string
}

type EmbedderConfig struct {
	Backend       string // "openai" or "mock"
	OpenAIKey     string
	OpenAIBaseURL string
	Model         string
	Version       string
	Dimension     int
	BatchSize     int
	MaxConcurrent int
	CacheTTL      time.Duration
}

type PipelineConfig struct {
	Workers         int
	MaxRetries      int
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	StageTimeout    time.Duration
	ParseTimeout    time.Duration
	SweepInterval   time.Duration
	PollInterval    time.Duration
	PollMaxInterval time.Duration
	StagingStrategy string // "buffered" or "direct"
	ChunkSize       int
	ChunkOverlap    int
	ChunkStrategy   string
	ChunkerVersion  string
}

func Load() (*Config, error) {
	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	embedDim, err := getEnvInt("EMBED_DIMENSION", 1536)
	if err != nil {
		return nil, fmt.Errorf("invalid EMBED_DIMENSION: %w", err)
	}

	embedBatch, err := getEnvInt("EMBED_BATCH_SIZE", 100)
	if err != nil {
		return nil, fmt.Errorf("invalid EMBED_BATCH_SIZE: %w", err)
	}

	embedConc, err := getEnvInt("EMBED_MAX_CONCURRENT", 4)
	if err != nil {
		return nil, fmt.Errorf("invalid EMBED_MAX_CONCURRENT: %w", err)
	}

	workers, err := getEnvInt("PIPELINE_WORKERS", 4)
	if err != nil {
		return nil, fmt.Errorf("invalid PIPELINE_WORKERS: %w", err)
	}

	maxRetries, err := getEnvInt("PIPELINE_MAX_RETRIES", 3)
	if err != nil {
		return nil, fmt.Errorf("invalid PIPELINE_MAX_RETRIES: %w", err)
	}

	chunkSize, err := getEnvInt("CHUNK_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("invalid CHUNK_SIZE: %w", err)
	}

	chunkOverlap, err := getEnvInt("CHUNK_OVERLAP", 200)
	if err != nil {
		return nil, fmt.Errorf("invalid CHUNK_OVERLAP: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: port,
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       maxConns,
			MinConns:       minConns,
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Auth: AuthConfig{
			AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		},
		Storage: StorageConfig{
			Backend:     getEnv("STORAGE_BACKEND", "supabase"),
			SupabaseURL: getEnv("SUPABASE_URL", ""),
			SupabaseKey: getEnv("SUPABASE_SERVICE_KEY", ""),
			Bucket:      getEnv("STORAGE_BUCKET", "documents"),
		},
		Parser: ParserConfig{
			Backend:         getEnv("PARSER_BACKEND", "http"),
			URL:             getEnv("PARSER_URL", ""),
			CallbackBaseURL: getEnv("PARSER_CALLBACK_BASE_URL", "http://localhost:8080"),
			SubmitTimeout:   getEnvDuration("PARSER_SUBMIT_TIMEOUT", 30*time.Second),
			Name:            getEnv("PARSER_NAME", "docparse"),
			Version:         getEnv("PARSER_VERSION", "1"),
		},
		Embedder: EmbedderConfig{
			Backend:       getEnv("EMBED_BACKEND", "openai"),
			OpenAIKey:     getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL: getEnv("EMBED_OPENAI_BASE_URL", ""),
			Model:         getEnv("EMBED_MODEL", "text-embedding-3-small"),
			Version:       getEnv("EMBED_MODEL_VERSION", "1"),
			Dimension:     embedDim,
			BatchSize:     embedBatch,
			MaxConcurrent: embedConc,
			CacheTTL:      getEnvDuration("EMBED_CACHE_TTL", 24*time.Hour),
		},
		Pipeline: PipelineConfig{
			Workers:         workers,
			MaxRetries:      maxRetries,
			BackoffBase:     getEnvDuration("PIPELINE_BACKOFF_BASE", 30*time.Second),
			BackoffMax:      getEnvDuration("PIPELINE_BACKOFF_MAX", 15*time.Minute),
			StageTimeout:    getEnvDuration("PIPELINE_STAGE_TIMEOUT", 10*time.Minute),
			ParseTimeout:    getEnvDuration("PIPELINE_PARSE_TIMEOUT", 30*time.Minute),
			SweepInterval:   getEnvDuration("PIPELINE_SWEEP_INTERVAL", time.Minute),
			PollInterval:    getEnvDuration("PIPELINE_POLL_INTERVAL", time.Second),
			PollMaxInterval: getEnvDuration("PIPELINE_POLL_MAX_INTERVAL", 15*time.Second),
			StagingStrategy: getEnv("PIPELINE_STAGING_STRATEGY", "buffered"),
			ChunkSize:       chunkSize,
			ChunkOverlap:    chunkOverlap,
			ChunkStrategy:   getEnv("CHUNK_STRATEGY", "recursive"),
			ChunkerVersion:  getEnv("CHUNKER_VERSION", "1"),
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Parser.Backend == "http" && c.Parser.URL == "" {
		missing = append(missing, "PARSER_URL")
	}
	if c.Embedder.Backend == "openai" && c.Embedder.OpenAIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
