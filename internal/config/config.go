package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Storage  StorageConfig
	OCR      OCRConfig
	Ingest   IngestConfig
	Search   SearchConfig
}

type ServerConfig struct {
	Host string
	Port int
	// CORSOrigins lists the origins allowed to call the API; "*" allows any.
	CORSOrigins    []string
	RateLimitRPS   int
	RateLimitBurst int
}

type DatabaseConfig struct {
	URL      string
	MaxConns int
	MinConns int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	// JWTSecret enables bearer-token auth on the API when non-empty.
	JWTSecret string
}

type StorageConfig struct {
	// Dir is where uploaded document files are kept.
	Dir string
}

type OCRConfig struct {
	// Provider selects the recognizer backend: "tesseract", "openai" or
	// "anthropic". FallbackProvider, when set, is tried after the primary
	// exhausts its retries.
	Provider         string
	FallbackProvider string
	MaxRetries       int
	Languages        []string
	OpenAIKey        string
	OpenAIModel      string
	AnthropicKey     string
	AnthropicModel   string
}

type IngestConfig struct {
	SamplePages  int // pages sampled by the scanned-document classifier
	MinTextChars int // below this a sampled page counts as textless
	BatchSize    int // extractor progress/yield cadence
}

type SearchConfig struct {
	CacheTTLSeconds int
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

	ocrRetries, err := getEnvInt("OCR_MAX_RETRIES", 2)
	if err != nil {
		return nil, fmt.Errorf("invalid OCR_MAX_RETRIES: %w", err)
	}

	samplePages, err := getEnvInt("CLASSIFY_SAMPLE_PAGES", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid CLASSIFY_SAMPLE_PAGES: %w", err)
	}

	minChars, err := getEnvInt("CLASSIFY_MIN_CHARS", 16)
	if err != nil {
		return nil, fmt.Errorf("invalid CLASSIFY_MIN_CHARS: %w", err)
	}

	batchSize, err := getEnvInt("EXTRACT_BATCH_SIZE", 50)
	if err != nil {
		return nil, fmt.Errorf("invalid EXTRACT_BATCH_SIZE: %w", err)
	}

	cacheTTL, err := getEnvInt("SEARCH_CACHE_TTL", 30)
	if err != nil {
		return nil, fmt.Errorf("invalid SEARCH_CACHE_TTL: %w", err)
	}

	rateRPS, err := getEnvInt("RATE_LIMIT_RPS", 100)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
	}

	rateBurst, err := getEnvInt("RATE_LIMIT_BURST", 200)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BURST: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           port,
			CORSOrigins:    getEnvList("CORS_ORIGINS", []string{"*"}),
			RateLimitRPS:   rateRPS,
			RateLimitBurst: rateBurst,
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: maxConns,
			MinConns: minConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Storage: StorageConfig{
			Dir: getEnv("STORAGE_DIR", "data/documents"),
		},
		OCR: OCRConfig{
			Provider:         getEnv("OCR_PROVIDER", "tesseract"),
			FallbackProvider: getEnv("OCR_FALLBACK_PROVIDER", ""),
			MaxRetries:       ocrRetries,
			Languages:        getEnvList("OCR_LANGUAGES", []string{"eng"}),
			OpenAIKey:        getEnv("OPENAI_API_KEY", ""),
			OpenAIModel:      getEnv("OCR_OPENAI_MODEL", "gpt-4o"),
			AnthropicKey:     getEnv("ANTHROPIC_API_KEY", ""),
			AnthropicModel:   getEnv("OCR_ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		},
		Ingest: IngestConfig{
			SamplePages:  samplePages,
			MinTextChars: minChars,
			BatchSize:    batchSize,
		},
		Search: SearchConfig{
			CacheTTLSeconds: cacheTTL,
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

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
