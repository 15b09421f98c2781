package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

type Config struct {
	ModelProvider    string
	ModelName        string
	ModelTemperature float64
	ModelTimeout     time.Duration

	OpenAIBaseURL string
	OpenAIAPIKey  string
	GeminiAPIKey  string
	// ParamPrefix is the SSM prefix holding API keys not set in the environment.
	ParamPrefix string

	TurnWorkers          int
	RequestWorkers       int
	MaxTranscriptEntries int
	MaxMessageLength     int
	ResetKeyword         string

	ArchiveTable string
	LendersFile  string
	Port         int
}

func Default() Config {
	return Config{
		ModelProvider:        ProviderGemini,
		ModelTemperature:     0.6,
		ModelTimeout:         30 * time.Second,
		TurnWorkers:          4,
		RequestWorkers:       3,
		MaxTranscriptEntries: 50,
		MaxMessageLength:     2000,
		ResetKeyword:         "reset",
		Port:                 8000,
	}
}

// Load reads the configuration with FromEnv and validates it.
func Load() (Config, error) {
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv reads a local .env file when present, then the process
// environment. Malformed numbers and durations keep their defaults.
func FromEnv() Config {
	_ = godotenv.Load()

	cfg := Default()
	cfg.loadFromEnv()
	return cfg
}

func (c *Config) loadFromEnv() {
	envString(&c.ModelProvider, "MODEL_PROVIDER")
	c.ModelProvider = strings.ToLower(c.ModelProvider)
	envString(&c.ModelName, "MODEL_NAME")
	envString(&c.OpenAIBaseURL, "OPENAI_BASE_URL")
	envString(&c.OpenAIAPIKey, "OPENAI_API_KEY")
	envString(&c.GeminiAPIKey, "GOOGLE_GENAI_API_KEY")
	envString(&c.ParamPrefix, "PARAM_PREFIX")
	envString(&c.ResetKeyword, "RESET_KEYWORD")
	envString(&c.ArchiveTable, "ARCHIVE_TABLE")
	envString(&c.LendersFile, "LENDERS_FILE")

	if val := os.Getenv("MODEL_TEMPERATURE"); val != "" {
		if v, err := strconv.ParseFloat(val, 64); err == nil && v >= 0 {
			c.ModelTemperature = v
		}
	}
	if val := os.Getenv("MODEL_TIMEOUT"); val != "" {
		if v, err := time.ParseDuration(val); err == nil && v > 0 {
			c.ModelTimeout = v
		}
	}

	envInt(&c.TurnWorkers, "TURN_WORKERS")
	envInt(&c.RequestWorkers, "REQUEST_WORKERS")
	envInt(&c.MaxTranscriptEntries, "MAX_TRANSCRIPT_ENTRIES")
	envInt(&c.MaxMessageLength, "MAX_MESSAGE_LENGTH")
	envInt(&c.Port, "PORT")
}

// Validate checks that the selected provider has a key source.
func (c Config) Validate() error {
	switch c.ModelProvider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" && c.ParamPrefix == "" {
			return errors.New("config: GOOGLE_GENAI_API_KEY or PARAM_PREFIX must be set")
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" && c.ParamPrefix == "" {
			return errors.New("config: OPENAI_API_KEY or PARAM_PREFIX must be set")
		}
	default:
		return fmt.Errorf("config: unknown MODEL_PROVIDER %q", c.ModelProvider)
	}
	return nil
}

func envString(dst *string, key string) {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		*dst = val
	}
}

func envInt(dst *int, key string) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	if n, err := strconv.Atoi(val); err == nil && n > 0 {
		*dst = n
	}
}
