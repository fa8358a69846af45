package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	Mongo      MongoConfig
	JWT        JWTConfig
	Queue      QueueConfig
	RateLimit  RateLimitConfig
	SSE        SSEConfig
	Generation GenerationConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type MongoConfig struct {
	URI      string
	Database string
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type QueueConfig struct {
	Concurrency int
	MaxRetry    int
	TaskTimeout time.Duration
	Retention   time.Duration
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// Per-kind cap on task starts per second.
	CharacterStartsPerSec int
	ImageStartsPerSec     int
	VideoStartsPerSec     int
}

type RateLimitConfig struct {
	CreationPerHour int
	MediaPerHour    int
}

type SSEConfig struct {
	KeepaliveInterval time.Duration
}

// GenerationConfig holds the external generation collaborators. Enabled gates
// the best-effort imagery step during character creation.
type GenerationConfig struct {
	Enabled   bool
	ImageAPI  ImageAPIConfig
	Groq      GroqConfig
	Wavespeed WavespeedConfig
}

type ImageAPIConfig struct {
	BaseURL string
	Quality string
}

type GroqConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type WavespeedConfig struct {
	BaseURL string
	APIKey  string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "3000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("mongo.uri", "mongodb://localhost:27017")
	viper.SetDefault("mongo.database", "characterhub")
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("queue.concurrency", 5)
	viper.SetDefault("queue.max_retry", 3)
	viper.SetDefault("queue.task_timeout", "5m")
	viper.SetDefault("queue.retention", "24h")
	viper.SetDefault("queue.backoff_base", "2s")
	viper.SetDefault("queue.backoff_cap", "5m")
	viper.SetDefault("queue.character_starts_per_sec", 10)
	viper.SetDefault("queue.image_starts_per_sec", 5)
	viper.SetDefault("queue.video_starts_per_sec", 3)
	viper.SetDefault("ratelimit.creation_per_hour", 10)
	viper.SetDefault("ratelimit.media_per_hour", 30)
	viper.SetDefault("sse.keepalive_interval", "30s")
	viper.SetDefault("generation.enabled", false)
	viper.SetDefault("generation.image_api.base_url", "http://localhost:8000")
	viper.SetDefault("generation.image_api.quality", "hq")
	viper.SetDefault("generation.groq.base_url", "https://api.groq.com/openai/v1")
	viper.SetDefault("generation.groq.api_key", "")
	viper.SetDefault("generation.groq.model", "llama-3.3-70b-versatile")
	viper.SetDefault("generation.wavespeed.base_url", "https://api.wavespeed.ai/api/v3")
	viper.SetDefault("generation.wavespeed.api_key", "")

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
			Env:  viper.GetString("server.env"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Mongo: MongoConfig{
			URI:      viper.GetString("mongo.uri"),
			Database: viper.GetString("mongo.database"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		Queue: QueueConfig{
			Concurrency:           viper.GetInt("queue.concurrency"),
			MaxRetry:              viper.GetInt("queue.max_retry"),
			TaskTimeout:           viper.GetDuration("queue.task_timeout"),
			Retention:             viper.GetDuration("queue.retention"),
			BackoffBase:           viper.GetDuration("queue.backoff_base"),
			BackoffCap:            viper.GetDuration("queue.backoff_cap"),
			CharacterStartsPerSec: viper.GetInt("queue.character_starts_per_sec"),
			ImageStartsPerSec:     viper.GetInt("queue.image_starts_per_sec"),
			VideoStartsPerSec:     viper.GetInt("queue.video_starts_per_sec"),
		},
		RateLimit: RateLimitConfig{
			CreationPerHour: viper.GetInt("ratelimit.creation_per_hour"),
			MediaPerHour:    viper.GetInt("ratelimit.media_per_hour"),
		},
		SSE: SSEConfig{
			KeepaliveInterval: viper.GetDuration("sse.keepalive_interval"),
		},
		Generation: GenerationConfig{
			Enabled: viper.GetBool("generation.enabled"),
			ImageAPI: ImageAPIConfig{
				BaseURL: viper.GetString("generation.image_api.base_url"),
				Quality: viper.GetString("generation.image_api.quality"),
			},
			Groq: GroqConfig{
				BaseURL: viper.GetString("generation.groq.base_url"),
				APIKey:  viper.GetString("generation.groq.api_key"),
				Model:   viper.GetString("generation.groq.model"),
			},
			Wavespeed: WavespeedConfig{
				BaseURL: viper.GetString("generation.wavespeed.base_url"),
				APIKey:  viper.GetString("generation.wavespeed.api_key"),
			},
		},
	}

	return cfg, nil
}
