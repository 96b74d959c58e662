package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	// knowledge-file records: postgres | memory
	StoreBackend string
	DatabaseURL  string
	SslCertPath  string

	// chunk vectors: pgvector | qdrant | memory
	VectorBackend    string
	QdrantHost       string
	QdrantPort       int
	QdrantAPIKey     string
	QdrantUseTLS     bool
	QdrantCollection string

	// raw uploads: s3 | local
	ObjectBackend   string
	AwsAccessKey    string
	AwsSecretKey    string
	AwsRegion       string
	BucketName      string
	LocalStorageDir string

	// embeddings: gemini | openai
	EmbedProvider  string
	AIAPIKey       string
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	EmbedModel     string
	EmbedDim       int
	EmbedMaxTokens int

	ChunkSize        int
	ChunkOverlap     int
	EmbedConcurrency int
	EmbedMaxRetries  int
	IngestWorkers    int
	AttemptTimeout   time.Duration
	StuckAfter       time.Duration
	WorkDir          string
	UseReadability   bool

	// job delivery: memory | asynq
	QueueBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// LoadConfig loads the environment variables (and .env when present) and
// validates the selected backends.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),

		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", "postgres")),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		SslCertPath:  getEnv("SSL_CERT_PATH", ""),

		VectorBackend:    strings.ToLower(getEnv("VECTOR_BACKEND", "pgvector")),
		QdrantHost:       getEnv("QDRANT_HOST", "localhost"),
		QdrantPort:       getEnvInt("QDRANT_PORT", 6334),
		QdrantAPIKey:     getEnv("QDRANT_API_KEY", ""),
		QdrantUseTLS:     getEnvBool("QDRANT_USE_TLS", false),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "knowledge_chunks"),

		ObjectBackend:   strings.ToLower(getEnv("OBJECT_BACKEND", "s3")),
		AwsAccessKey:    getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey:    getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:       getEnv("AWS_REGION", "us-east-2"),
		BucketName:      getEnv("BUCKET_NAME", "knowledge-uploads"),
		LocalStorageDir: getEnv("LOCAL_STORAGE_DIR", "./data/uploads"),

		EmbedProvider:  strings.ToLower(getEnv("EMBED_PROVIDER", "gemini")),
		AIAPIKey:       getEnv("GEMINI_API_KEY", ""),
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
		EmbedModel:     getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:       getEnvInt("EMBED_DIM", 768),
		EmbedMaxTokens: getEnvInt("EMBED_MAX_TOKENS", 2048),

		ChunkSize:        getEnvInt("CHUNK_SIZE", 800),
		ChunkOverlap:     getEnvInt("CHUNK_OVERLAP", 100),
		EmbedConcurrency: getEnvInt("EMBED_CONCURRENCY", 4),
		EmbedMaxRetries:  getEnvInt("EMBED_MAX_RETRIES", 4),
		IngestWorkers:    getEnvInt("INGEST_WORKERS", 2),
		AttemptTimeout:   getEnvDuration("ATTEMPT_TIMEOUT", 10*time.Minute),
		StuckAfter:       getEnvDuration("STUCK_AFTER", 15*time.Minute),
		WorkDir:          getEnv("WORK_DIR", ""),
		UseReadability:   getEnvBool("USE_READABILITY", false),

		QueueBackend:  strings.ToLower(getEnv("QUEUE_BACKEND", "memory")),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every selected backend has what it needs.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreBackend {
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL not set"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	switch c.VectorBackend {
	case "pgvector":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("VECTOR_BACKEND=pgvector needs DATABASE_URL"))
		}
	case "qdrant":
		if c.QdrantHost == "" {
			errs = append(errs, errors.New("QDRANT_HOST not set"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown VECTOR_BACKEND %q", c.VectorBackend))
	}

	switch c.ObjectBackend {
	case "s3":
		if c.BucketName == "" {
			errs = append(errs, errors.New("BUCKET_NAME not set"))
		}
	case "local":
		if c.LocalStorageDir == "" {
			errs = append(errs, errors.New("LOCAL_STORAGE_DIR not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown OBJECT_BACKEND %q", c.ObjectBackend))
	}

	switch c.EmbedProvider {
	case "gemini", "openai":
	default:
		errs = append(errs, fmt.Errorf("unknown EMBED_PROVIDER %q", c.EmbedProvider))
	}

	switch c.QueueBackend {
	case "memory", "asynq":
	default:
		errs = append(errs, fmt.Errorf("unknown QUEUE_BACKEND %q", c.QueueBackend))
	}

	if c.ChunkSize <= 0 {
		errs = append(errs, errors.New("CHUNK_SIZE must be positive"))
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, errors.New("CHUNK_OVERLAP must be in [0, CHUNK_SIZE)"))
	}
	if c.EmbedDim < 0 {
		errs = append(errs, errors.New("EMBED_DIM must not be negative"))
	}

	return errors.Join(errs...)
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a bool, using default %t", key, v, def)
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}
