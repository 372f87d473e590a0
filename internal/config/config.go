// Package config provides process configuration for go-linguakit commands.
// Values come from the environment; a local .env file is loaded when present
// so development setups do not need to export everything by hand.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Defaults for the tutoring client.
const (
	DefaultServerURL    = "wss://api.linguakit.io/v1/conversation"
	DefaultAPIBaseURL   = "https://api.linguakit.io/v1"
	DefaultWebPort      = "8090"
	DefaultLanguage     = "es"
	DefaultLevel        = "beginner"
	DefaultVADType      = "semantic"
	DefaultVADEagerness = "medium"
)

// Config holds everything the tutor binary needs to start a session.
type Config struct {
	// ServerURL is the websocket endpoint of the conversation backend.
	ServerURL string

	// APIBaseURL is the REST endpoint for completion and summary calls.
	APIBaseURL string

	// Token is the bearer credential for the REST collaborator.
	Token string

	// Language, Level and Context describe the new-session init path.
	Language string
	Level    string
	Context  string

	// CurriculumID optionally ties the session to a curriculum lesson.
	CurriculumID string

	// ConversationID resumes an existing conversation when set.
	ConversationID string

	// VADType and VADEagerness configure voice-activity detection.
	VADType      string
	VADEagerness string

	// WebPort is the dashboard listen port.
	WebPort string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// SampleRate overrides the audio sample rate (Hz). 0 means default.
	SampleRate int
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first when it exists.
func Load() (*Config, error) {
	// Missing .env is fine; explicit env vars always win.
	_ = godotenv.Load()

	cfg := &Config{
		ServerURL:      getenv("LINGUAKIT_SERVER_URL", DefaultServerURL),
		APIBaseURL:     getenv("LINGUAKIT_API_URL", DefaultAPIBaseURL),
		Token:          os.Getenv("LINGUAKIT_TOKEN"),
		Language:       getenv("LINGUAKIT_LANGUAGE", DefaultLanguage),
		Level:          getenv("LINGUAKIT_LEVEL", DefaultLevel),
		Context:        os.Getenv("LINGUAKIT_CONTEXT"),
		CurriculumID:   os.Getenv("LINGUAKIT_CURRICULUM_ID"),
		ConversationID: os.Getenv("LINGUAKIT_CONVERSATION_ID"),
		VADType:        getenv("LINGUAKIT_VAD_TYPE", DefaultVADType),
		VADEagerness:   getenv("LINGUAKIT_VAD_EAGERNESS", DefaultVADEagerness),
		WebPort:        getenv("LINGUAKIT_WEB_PORT", DefaultWebPort),
		LogLevel:       getenv("LINGUAKIT_LOG_LEVEL", "info"),
	}

	if raw := os.Getenv("LINGUAKIT_SAMPLE_RATE"); raw != "" {
		rate, err := strconv.Atoi(raw)
		if err != nil || rate <= 0 {
			return nil, fmt.Errorf("config: invalid LINGUAKIT_SAMPLE_RATE %q", raw)
		}
		cfg.SampleRate = rate
	}

	return cfg, nil
}

// getenv returns the env value or the fallback when unset or empty.
func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
