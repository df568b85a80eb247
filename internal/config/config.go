package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
// It follows the 12-factor app methodology by prioritizing environment variables.
type Config struct {
	Server ServerConfig
	Store  StoreConfig
	Redis  RedisConfig
	S3     S3Config
	Auth   AuthConfig
	Sync   SyncConfig
}

type ServerConfig struct {
	Port        string
	Environment string
}

// StoreConfig picks the snapshot store backend, "redis" or "mem".
type StoreConfig struct {
	Backend string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type S3Config struct {
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Endpoint  string
	PublicURL string
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// SyncConfig carries the sync engine tunables.
type SyncConfig struct {
	PageSize       int
	ReadDebounce   time.Duration
	UploadTick     time.Duration
	PreviewClipLen int
}

// LoadConfig loads configuration from environment variables.
// Defaults can be set here if needed.
func LoadConfig() (*Config, error) {
	// missing .env is fine, the environment may already be populated
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			Environment: getEnv("APP_ENV", "development"),
		},
		Store: StoreConfig{
			Backend: getEnv("STORE_BACKEND", "redis"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		S3: S3Config{
			Region:    getEnv("S3_REGION", "us-east-1"),
			Bucket:    getEnv("S3_BUCKET", "crewdeck-uploads"),
			AccessKey: getEnv("S3_ACCESS_KEY", ""),
			SecretKey: getEnv("S3_SECRET_KEY", ""),
			Endpoint:  getEnv("S3_ENDPOINT", ""),
			PublicURL: getEnv("S3_PUBLIC_URL", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret"),
			TokenTTL:  getEnvAsDuration("JWT_TTL", 24*time.Hour),
		},
		Sync: SyncConfig{
			PageSize:       getEnvAsInt("SYNC_PAGE_SIZE", 50),
			ReadDebounce:   getEnvAsDuration("SYNC_READ_DEBOUNCE", 650*time.Millisecond),
			UploadTick:     getEnvAsDuration("SYNC_UPLOAD_TICK", 180*time.Millisecond),
			PreviewClipLen: getEnvAsInt("SYNC_PREVIEW_CLIP", 140),
		},
	}, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}
