package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port        int
	NatsURL     string
	NatsToken   string
	DatabaseURL string
	LogLevel    string

	// Public base URL for telephony callbacks, e.g. https://dialer.example.com
	PublicBaseURL string

	TelephonyAccountSID string
	TelephonyAuthToken  string
	TelephonyFromNumber string
	TelephonyBaseURL    string

	OpenAIAPIKey    string
	ExtractionModel string
	EmbeddingModel  string

	CallsPerMinutePerCampaign int
	TranscriptionConcurrency  int
	TriangulationConcurrency  int
	TriangulationDebounceSec  int
	MaxStageAttempts          int
}

func Load() Config {
	return Config{
		Port:        envInt("DIALER_PORT", 8640),
		NatsURL:     envStr("NATS_URL", "nats://localhost:4222"),
		NatsToken:   envStr("NATS_TOKEN", ""),
		DatabaseURL: envStr("DATABASE_URL", ""),
		LogLevel:    envStr("LOG_LEVEL", "info"),

		PublicBaseURL: envStr("PUBLIC_BASE_URL", "http://localhost:8640"),

		TelephonyAccountSID: envStr("TELEPHONY_ACCOUNT_SID", ""),
		TelephonyAuthToken:  envStr("TELEPHONY_AUTH_TOKEN", ""),
		TelephonyFromNumber: envStr("TELEPHONY_FROM_NUMBER", ""),
		TelephonyBaseURL:    envStr("TELEPHONY_BASE_URL", "https://api.twilio.com"),

		OpenAIAPIKey:    envStr("OPENAI_API_KEY", ""),
		ExtractionModel: envStr("DIALER_EXTRACTION_MODEL", "gpt-4o"),
		EmbeddingModel:  envStr("DIALER_EMBEDDING_MODEL", "text-embedding-3-small"),

		CallsPerMinutePerCampaign: envInt("DIALER_CALLS_PER_MINUTE", 5),
		TranscriptionConcurrency:  envInt("DIALER_TRANSCRIPTION_CONCURRENCY", 4),
		TriangulationConcurrency:  envInt("DIALER_TRIANGULATION_CONCURRENCY", 2),
		TriangulationDebounceSec:  envInt("DIALER_TRIANGULATION_DEBOUNCE_SEC", 10),
		MaxStageAttempts:          envInt("DIALER_MAX_STAGE_ATTEMPTS", 4),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
