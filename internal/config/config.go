package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Control ControlConfig
	Redis   RedisConfig
	Secrets SecretsConfig
	Embed   EmbedConfig
	Upload  UploadConfig
	Storage StorageConfig
	Chat    ChatConfig
}

type ServerConfig struct {
	Host string
	Port int
}

// ControlConfig points at the control-plane database holding tenants,
// credentials and upload records. Per-tenant vector stores are dialed
// separately from onboarded credentials.
type ControlConfig struct {
	URL      string
	MaxConns int
	MinConns int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SecretsConfig struct {
	// Key is the hex-encoded 32-byte key for credential ciphertext.
	Key string
}

type EmbedConfig struct {
	Model        string
	Dimensions   int
	BatchSize    int
	MaxAttempts  int
	BaseDelay    time.Duration
	RequestDelay time.Duration
	// ProbeKey is the pre-onboarding fallback provider key used only
	// for the onboarding connectivity probe default.
	ProbeKey string
}

type UploadConfig struct {
	MaxFileSizeMB     int
	AllowedExtensions []string
}

type StorageConfig struct {
	SupabaseURL string
	ServiceKey  string
	Bucket      string
}

type ChatConfig struct {
	// GatewayURL is the callback endpoint of the chat front-end
	// collaborator that delivers replies to sessions.
	GatewayURL   string
	GatewayToken string
}

func Load() (*Config, error) {
	// Missing .env is fine; real deployments use the environment.
	_ = godotenv.Load()

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
	dimensions, err := getEnvInt("EMBED_DIMENSIONS", 1536)
	if err != nil {
		return nil, fmt.Errorf("invalid EMBED_DIMENSIONS: %w", err)
	}
	batchSize, err := getEnvInt("EMBED_BATCH_SIZE", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid EMBED_BATCH_SIZE: %w", err)
	}
	maxAttempts, err := getEnvInt("EMBED_MAX_ATTEMPTS", 6)
	if err != nil {
		return nil, fmt.Errorf("invalid EMBED_MAX_ATTEMPTS: %w", err)
	}
	baseDelay, err := getEnvDuration("EMBED_RETRY_BASE_DELAY", 4*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid EMBED_RETRY_BASE_DELAY: %w", err)
	}
	requestDelay, err := getEnvDuration("EMBED_REQUEST_DELAY", 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid EMBED_REQUEST_DELAY: %w", err)
	}
	maxFileSize, err := getEnvInt("MAX_FILE_SIZE_MB", 15)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_FILE_SIZE_MB: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: port,
		},
		Control: ControlConfig{
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: maxConns,
			MinConns: minConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Secrets: SecretsConfig{
			Key: getEnv("SECRETS_KEY", ""),
		},
		Embed: EmbedConfig{
			Model:        getEnv("EMBED_MODEL", "text-embedding-3-small"),
			Dimensions:   dimensions,
			BatchSize:    batchSize,
			MaxAttempts:  maxAttempts,
			BaseDelay:    baseDelay,
			RequestDelay: requestDelay,
			ProbeKey:     getEnv("EMBED_PROBE_KEY", ""),
		},
		Upload: UploadConfig{
			MaxFileSizeMB:     maxFileSize,
			AllowedExtensions: splitList(getEnv("ALLOWED_EXTENSIONS", ".pdf,.docx,.txt,.md,.csv")),
		},
		Storage: StorageConfig{
			SupabaseURL: getEnv("SUPABASE_URL", ""),
			ServiceKey:  getEnv("SUPABASE_SERVICE_KEY", ""),
			Bucket:      getEnv("STORAGE_BUCKET", "uploads"),
		},
		Chat: ChatConfig{
			GatewayURL:   getEnv("CHAT_GATEWAY_URL", ""),
			GatewayToken: getEnv("CHAT_GATEWAY_TOKEN", ""),
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.Control.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Secrets.Key == "" {
		missing = append(missing, "SECRETS_KEY")
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

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.ToLower(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
