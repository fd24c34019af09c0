package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName            string
	AppEnv             string
	AppPort            string
	DatabaseURL        string
	RedisURL           string
	NatsURL            string
	RubricCacheTTL     time.Duration
	OpenAIAPIKey       string
	AIGradingModel     string
	GradingConcurrency int
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ASSESS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Assess API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("rubric.cache_ttl", "5m")
	v.SetDefault("grading.concurrency", 20)

	ttlString := v.GetString("rubric.cache_ttl")
	if ttlString == "" {
		ttlString = "5m"
	}

	ttl, err := time.ParseDuration(ttlString)
	if err != nil {
		return Config{}, fmt.Errorf("invalid rubric cache ttl: %w", err)
	}

	cfg := Config{
		AppName:            v.GetString("app.name"),
		AppEnv:             v.GetString("app.env"),
		AppPort:            v.GetString("app.port"),
		DatabaseURL:        v.GetString("database.url"),
		RedisURL:           v.GetString("redis.url"),
		NatsURL:            v.GetString("nats.url"),
		RubricCacheTTL:     ttl,
		OpenAIAPIKey:       v.GetString("openai_api_key"),
		AIGradingModel:     v.GetString("ai_grading.model"),
		GradingConcurrency: v.GetInt("grading.concurrency"),
	}

	if cfg.GradingConcurrency <= 0 {
		cfg.GradingConcurrency = 20
	}

	return cfg, nil
}
