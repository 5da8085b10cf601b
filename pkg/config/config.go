package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds server configuration.
type Config struct {
	Port        string
	HealthPort  string
	LogLevel    string
	LogFormat   string
	DatabaseURL string
	Store       string
	DataDir     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimitRPS   float64
	RateLimitBurst int
	ActorRPM       int
	ActorBurst     int
	IdempotencyTTL time.Duration

	CORSOrigins []string
	AuthSeed    string
	TokenTTL    time.Duration
	PolicyFile  string

	ArtifactStorageType string
	ArtifactDir         string
	ArtifactBucket      string
	ArtifactRegion      string
	ArtifactEndpoint    string
	ArtifactPrefix      string

	OTelEnabled  bool
	OTelEndpoint string
	OTelInsecure bool
	Environment  string
}

// Load loads configuration from environment variables.
func Load() *Config {
	dataDir := getenv("DATA_DIR", "data")
	return &Config{
		Port:        getenv("PORT", "8080"),
		HealthPort:  getenv("HEALTH_PORT", "8081"),
		LogLevel:    strings.ToUpper(getenv("LOG_LEVEL", "INFO")),
		LogFormat:   strings.ToLower(getenv("LOG_FORMAT", "json")),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Store:       strings.ToLower(os.Getenv("STORE")),
		DataDir:     dataDir,

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getenvInt("REDIS_DB", 0),

		RateLimitRPS:   getenvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getenvInt("RATE_LIMIT_BURST", 40),
		ActorRPM:       getenvInt("ACTOR_RATE_LIMIT_RPM", 600),
		ActorBurst:     getenvInt("ACTOR_RATE_LIMIT_BURST", 60),
		IdempotencyTTL: getenvDuration("IDEMPOTENCY_TTL", 24*time.Hour),

		CORSOrigins: splitList(os.Getenv("CORS_ORIGINS")),
		AuthSeed:    os.Getenv("AUTH_SEED"),
		TokenTTL:    getenvDuration("TOKEN_TTL", 8*time.Hour),
		PolicyFile:  os.Getenv("POLICY_FILE"),

		ArtifactStorageType: strings.ToLower(getenv("ARTIFACT_STORAGE_TYPE", "fs")),
		ArtifactDir:         getenv("ARTIFACT_DIR", dataDir+"/evidence"),
		ArtifactBucket:      os.Getenv("ARTIFACT_BUCKET"),
		ArtifactRegion:      getenv("ARTIFACT_REGION", "us-east-1"),
		ArtifactEndpoint:    os.Getenv("ARTIFACT_ENDPOINT"),
		ArtifactPrefix:      os.Getenv("ARTIFACT_PREFIX"),

		OTelEnabled:  getenvBool("OTEL_ENABLED", false),
		OTelEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelInsecure: getenvBool("OTEL_INSECURE", true),
		Environment:  getenv("ENVIRONMENT", "development"),
	}
}

// LiteMode reports whether the service runs without an external database.
func (c *Config) LiteMode() bool {
	return c.DatabaseURL == "" || c.Store == "memory" || c.Store == "sqlite"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil && v > 0 {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
