package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	CORSAllowOrigin []string

	LLMProvider      string
	LLMModel         string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAITimeout    time.Duration
	ImageProvider    string
	ImageModel       string
	BrandFallback    bool
	RetryBackoff     time.Duration
	VariationWorkers int
	DuplicateSimilar float64
	RefineMaxIters   int
	CatalogPath      string

	SessionStore string
	DatabaseURL  string
	RedisURL     string
	SessionTTL   time.Duration

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string

	JWTSecret          string
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	UIRedirectURL      string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	store := normalizeSessionStore(getEnv("SESSION_STORE", "memory"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && store == "postgres" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production when SESSION_STORE=postgres")
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		Env:             env,
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),

		LLMProvider:      normalizeProvider(getEnv("LLM_PROVIDER", "mock"), "mock"),
		LLMModel:         getEnv("LLM_MODEL", "gpt-4o-mini"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", ""),
		OpenAITimeout:    time.Duration(getEnvInt("OPENAI_TIMEOUT_SECONDS", 120)) * time.Second,
		ImageProvider:    normalizeProvider(getEnv("IMAGE_PROVIDER", "placeholder"), "placeholder"),
		ImageModel:       getEnv("IMAGE_MODEL", "dall-e-3"),
		BrandFallback:    getEnvBool("BRAND_FALLBACK_DEFAULT", true),
		RetryBackoff:     getEnvDuration("GENERATION_RETRY_BACKOFF", 300*time.Millisecond),
		VariationWorkers: getEnvInt("VARIATION_CONCURRENCY", 3),
		DuplicateSimilar: getEnvFloat("DUPLICATE_THRESHOLD", 0.8),
		RefineMaxIters:   getEnvInt("REFINE_MAX_ITERATIONS", 10),
		CatalogPath:      getEnv("CATALOG_PATH", ""),

		SessionStore: store,
		DatabaseURL:  dbURL,
		RedisURL:     getEnv("REDIS_URL", ""),
		SessionTTL:   getEnvDuration("SESSION_TTL", 24*time.Hour),

		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", ""),

		JWTSecret:          os.Getenv("JWT_SECRET"),
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),
		UIRedirectURL:      getEnv("UI_REDIRECT_URL", ""),
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("config env %s invalid int: %v", key, err)
		return def
	}
	return val
}

func getEnvFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("config env %s invalid float: %v", key, err)
		return def
	}
	return val
}

func getEnvBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("config env %s invalid bool: %v", key, err)
		return def
	}
	return val
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("config env %s invalid duration: %v", key, err)
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeProvider(raw, def string) string {
	switch v := strings.ToLower(strings.TrimSpace(raw)); v {
	case "openai", "mock", "placeholder":
		return v
	default:
		return def
	}
}

func normalizeSessionStore(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "postgres", "pg":
		return "postgres"
	case "redis":
		return "redis"
	default:
		return "memory"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}
