package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName          string
	AppEnv           string
	AppPort          string
	DatabaseURL      string
	RedisURL         string
	JWTSecret        string
	JWTRefreshSecret string
	CORSOrigins      string
	Cloudinary       CloudinaryConfig
	OpenAI           OpenAIConfig
	Feed             FeedConfig
	Sync             SyncConfig
	RateLimit        RateLimitConfig
	MaxUploadMB      int
}

// CloudinaryConfig holds media storage credentials.
type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// OpenAIConfig configures the assistant model.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
}

// FeedConfig selects the change-feed transports.
type FeedConfig struct {
	NodeID            string
	Buffer            int
	RedisEnabled      bool
	RedisPrefix       string
	NATSURL           string
	NATSSubjectPrefix string
	UpstreamURL       string
	UpstreamToken     string
	RetryInterval     time.Duration
}

// Transports lists the enabled feed transports in relay order.
func (f FeedConfig) Transports() []string {
	transports := []string{"local"}
	if f.RedisEnabled {
		transports = append(transports, "redis")
	}
	if f.NATSURL != "" {
		transports = append(transports, "nats")
	}
	if f.UpstreamURL != "" {
		transports = append(transports, "websocket")
	}
	return transports
}

// SyncConfig tunes the per-user sync sessions.
type SyncConfig struct {
	ConversationPollInterval time.Duration
	ThreadPollInterval       time.Duration
	NotificationPollInterval time.Duration
	PollRate                 float64
	PollBurst                int
	StreamKeepAlive          time.Duration
}

// RateLimitConfig bounds abusive clients per user.
type RateLimitConfig struct {
	RelationsPerSecond int
	UploadsPerMinute   int
	AssistantPerMinute int
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
	v.SetEnvPrefix("COMMUNITY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Community API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("cors.allow_origins", "*")
	v.SetDefault("cloudinary.folder", "community")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 512)
	v.SetDefault("openai.temperature", 0.4)
	v.SetDefault("feed.buffer", 64)
	v.SetDefault("feed.redis_prefix", "community:changes")
	v.SetDefault("feed.nats_subject_prefix", "community.changes")
	v.SetDefault("feed.retry_interval", "5s")
	v.SetDefault("sync.conversation_poll", "20s")
	v.SetDefault("sync.thread_poll", "20s")
	v.SetDefault("sync.notification_poll", "15s")
	v.SetDefault("sync.poll_rate", 2.0)
	v.SetDefault("sync.poll_burst", 3)
	v.SetDefault("sync.stream_keepalive", "30s")
	v.SetDefault("ratelimit.relations_per_second", 10)
	v.SetDefault("ratelimit.uploads_per_minute", 10)
	v.SetDefault("ratelimit.assistant_per_minute", 6)
	v.SetDefault("upload.max_mb", 5)

	durations := map[string]time.Duration{}
	for _, key := range []string{"feed.retry_interval", "sync.conversation_poll", "sync.thread_poll", "sync.notification_poll", "sync.stream_keepalive"} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil || parsed <= 0 {
			return Config{}, fmt.Errorf("invalid duration for %s: %q", key, v.GetString(key))
		}
		durations[key] = parsed
	}

	nodeID := strings.TrimSpace(v.GetString("feed.node_id"))
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	cfg := Config{
		AppName:          v.GetString("app.name"),
		AppEnv:           v.GetString("app.env"),
		AppPort:          v.GetString("app.port"),
		DatabaseURL:      v.GetString("database.url"),
		RedisURL:         v.GetString("redis.url"),
		JWTSecret:        v.GetString("jwt.secret"),
		JWTRefreshSecret: v.GetString("jwt.refresh_secret"),
		CORSOrigins:      v.GetString("cors.allow_origins"),
		Cloudinary: CloudinaryConfig{
			CloudName: v.GetString("cloudinary.cloud_name"),
			APIKey:    v.GetString("cloudinary.api_key"),
			APISecret: v.GetString("cloudinary.api_secret"),
			Folder:    v.GetString("cloudinary.folder"),
		},
		OpenAI: OpenAIConfig{
			APIKey:      v.GetString("openai.api_key"),
			BaseURL:     v.GetString("openai.base_url"),
			Model:       v.GetString("openai.model"),
			MaxTokens:   v.GetInt("openai.max_tokens"),
			Temperature: float32(v.GetFloat64("openai.temperature")),
		},
		Feed: FeedConfig{
			NodeID:            nodeID,
			Buffer:            v.GetInt("feed.buffer"),
			RedisPrefix:       v.GetString("feed.redis_prefix"),
			NATSURL:           v.GetString("feed.nats_url"),
			NATSSubjectPrefix: v.GetString("feed.nats_subject_prefix"),
			UpstreamURL:       v.GetString("feed.upstream_url"),
			UpstreamToken:     v.GetString("feed.upstream_token"),
			RetryInterval:     durations["feed.retry_interval"],
		},
		Sync: SyncConfig{
			ConversationPollInterval: durations["sync.conversation_poll"],
			ThreadPollInterval:       durations["sync.thread_poll"],
			NotificationPollInterval: durations["sync.notification_poll"],
			PollRate:                 v.GetFloat64("sync.poll_rate"),
			PollBurst:                v.GetInt("sync.poll_burst"),
			StreamKeepAlive:          durations["sync.stream_keepalive"],
		},
		RateLimit: RateLimitConfig{
			RelationsPerSecond: v.GetInt("ratelimit.relations_per_second"),
			UploadsPerMinute:   v.GetInt("ratelimit.uploads_per_minute"),
			AssistantPerMinute: v.GetInt("ratelimit.assistant_per_minute"),
		},
		MaxUploadMB: v.GetInt("upload.max_mb"),
	}
	cfg.Feed.RedisEnabled = cfg.RedisURL != "" && cfg.Feed.RedisPrefix != ""

	if cfg.JWTSecret == "" || cfg.JWTRefreshSecret == "" {
		return Config{}, fmt.Errorf("jwt secrets must be provided")
	}

	return cfg, nil
}
