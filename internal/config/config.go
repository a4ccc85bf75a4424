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

// ErrConfigMissing is wrapped by MissingConfigError.
var ErrConfigMissing = errors.New("required configuration missing")

// MissingConfigError names every absent required key.
type MissingConfigError struct {
	Keys []string
}

func (e *MissingConfigError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConfigMissing.Error(), strings.Join(e.Keys, ", "))
}

func (e *MissingConfigError) Unwrap() error {
	return ErrConfigMissing
}

type Config struct {
	App     AppConfig
	OpenAI  OpenAIConfig
	Session SessionConfig
	Poller  PollerConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	RealtimeLogPath    string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
	EventTopic         string
	MaxUploadMB        int
	ServiceName        string
	TracingEnabled     bool
	OtelEndpoint       string
}

type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	AssistantID     string
	ThreadID        string // optional shared thread, must come with VectorStoreID
	VectorStoreID   string
	Model           string
	TranscribeModel string
	TTSModel        string
	TTSVoice        string
	MaxRetries      int
	RequestTimeout  time.Duration
}

type SessionConfig struct {
	JWTSecret      string
	Store          string // "memory" | "redis"
	TTL            time.Duration
	BusyStaleAfter time.Duration
}

type PollerConfig struct {
	Interval     time.Duration
	Ceiling      time.Duration
	IndexCeiling time.Duration
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			RealtimeLogPath:    getEnv("REALTIME_LOG_FILE_PATH", "logs/realtime.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
			RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
			EventTopic:         getEnv("EVENT_TOPIC_NAME", "DOCQA_EVENTS"),
			MaxUploadMB:        getEnvAsInt("MAX_UPLOAD_MB", 20),
			ServiceName:        getEnv("OTEL_SERVICE_NAME", "ai-docqa-backend"),
			TracingEnabled:     getEnv("OTEL_ENABLED", "false") == "true",
			OtelEndpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		},
		OpenAI: OpenAIConfig{
			APIKey:          getEnv("OPENAI_API_KEY", ""),
			BaseURL:         getEnv("OPENAI_BASE_URL", ""),
			AssistantID:     getEnv("OPENAI_ASSISTANT_ID", ""),
			ThreadID:        getEnv("OPENAI_THREAD_ID", ""),
			VectorStoreID:   getEnv("OPENAI_VECTOR_STORE_ID", ""),
			Model:           getEnv("OPENAI_MODEL", "gpt-4o"),
			TranscribeModel: getEnv("OPENAI_TRANSCRIBE_MODEL", "whisper-1"),
			TTSModel:        getEnv("OPENAI_TTS_MODEL", "tts-1"),
			TTSVoice:        getEnv("OPENAI_TTS_VOICE", "alloy"),
			MaxRetries:      getEnvAsInt("OPENAI_MAX_RETRIES", 2),
			RequestTimeout:  getEnvAsDuration("OPENAI_REQUEST_TIMEOUT", 60*time.Second),
		},
		Session: SessionConfig{
			JWTSecret:      getEnv("JWT_SECRET", ""),
			Store:          getEnv("SESSION_STORE", "memory"),
			TTL:            getEnvAsDuration("SESSION_TTL", time.Hour),
			BusyStaleAfter: getEnvAsDuration("BUSY_STALE_AFTER", 5*time.Minute),
		},
		Poller: PollerConfig{
			Interval:     getEnvAsDuration("POLL_INTERVAL", 200*time.Millisecond),
			Ceiling:      getEnvAsDuration("POLL_CEILING", 60*time.Second),
			IndexCeiling: getEnvAsDuration("INDEX_POLL_CEILING", 120*time.Second),
		},
	}
}

// Validate reports every missing secret at once. Callers treat the error as fatal.
func (c *Config) Validate() error {
	var missing []string
	if c.OpenAI.APIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if c.OpenAI.AssistantID == "" {
		missing = append(missing, "OPENAI_ASSISTANT_ID")
	}
	if c.Session.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	// shared handles only make sense as a pair
	if c.OpenAI.ThreadID != "" && c.OpenAI.VectorStoreID == "" {
		missing = append(missing, "OPENAI_VECTOR_STORE_ID")
	}
	if c.OpenAI.VectorStoreID != "" && c.OpenAI.ThreadID == "" {
		missing = append(missing, "OPENAI_THREAD_ID")
	}
	if len(missing) > 0 {
		return &MissingConfigError{Keys: missing}
	}

	if c.Session.Store != "memory" && c.Session.Store != "redis" {
		return fmt.Errorf("SESSION_STORE must be memory or redis, got %q", c.Session.Store)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
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

// getEnvAsDuration accepts Go durations ("250ms") or plain seconds ("60").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if strValue == "" {
		return fallback
	}
	if d, err := time.ParseDuration(strValue); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(strValue); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
