// Package config loads client and emulator settings from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Client holds the settings of the chat client application.
type Client struct {
	APIURL            string
	WSURL             string
	Token             string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	TypingTimeout     time.Duration
	ReadMarkDelay     time.Duration
	HistoryLimit      int
	RequestTimeout    time.Duration
	MetricsAddr       string
	OTLPEndpoint      string
	ServiceName       string
	Environment       string
	NATSPort          int
}

// Emulator holds the settings of the local backend emulator.
type Emulator struct {
	Port        string
	JWTSecret   string
	TokenTTL    time.Duration
	SeedUsers   int
	CORSOrigins string
	NATSPort    int
}

// LoadClient reads the client settings.
func LoadClient() Client {
	return Client{
		APIURL:            getEnv("CHAT_API_URL", "http://localhost:3000"),
		WSURL:             getEnv("CHAT_WS_URL", "ws://localhost:3000/ws"),
		Token:             os.Getenv("CHAT_TOKEN"),
		ReconnectAttempts: getInt("CHAT_RECONNECT_ATTEMPTS", 5),
		ReconnectDelay:    getDuration("CHAT_RECONNECT_DELAY", 2*time.Second),
		TypingTimeout:     getDuration("CHAT_TYPING_TIMEOUT", 3*time.Second),
		ReadMarkDelay:     getDuration("CHAT_READ_MARK_DELAY", 500*time.Millisecond),
		HistoryLimit:      getInt("CHAT_HISTORY_LIMIT", 50),
		RequestTimeout:    getDuration("CHAT_REQUEST_TIMEOUT", 10*time.Second),
		MetricsAddr:       os.Getenv("METRICS_ADDR"),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName:       getEnv("OTEL_SERVICE_NAME", "chat-sync-client"),
		Environment:       getEnv("APP_ENV", "development"),
		NATSPort:          getInt("CLIENT_NATS_PORT", 4223),
	}
}

// LoadEmulator reads the emulator settings.
func LoadEmulator() Emulator {
	return Emulator{
		Port:        getEnv("PORT", "3000"),
		JWTSecret:   getEnv("JWT_SECRET", "dev-secret-change-me"),
		TokenTTL:    getDuration("TOKEN_TTL", 24*time.Hour),
		SeedUsers:   getInt("EMULATOR_SEED_USERS", 3),
		CORSOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:8080"),
		NATSPort:    getInt("NATS_PORT", 4222),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
