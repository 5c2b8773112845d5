package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every subsystem's configuration.
type Config struct {
	Server     ServerConfig
	AI         AIConfig
	Redis      RedisConfig
	Database   DatabaseConfig
	Deepgram   DeepgramConfig
	ElevenLabs ElevenLabsConfig
	Telnyx     TelnyxConfig
	Twilio     TwilioConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:     server,
		AI:         ai,
		Redis:      RedisConfig{URL: getEnvOrDefault("REDIS_URL", "redis://localhost:6379")},
		Database:   DatabaseConfig{URL: strings.TrimSpace(os.Getenv("DATABASE_URL"))},
		Deepgram:   loadDeepgramConfig(),
		ElevenLabs: loadElevenLabsConfig(),
		Telnyx:     TelnyxConfig{APIKey: strings.TrimSpace(os.Getenv("TELNYX_API_KEY"))},
		Twilio: TwilioConfig{
			AccountSID: strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID")),
			AuthToken:  strings.TrimSpace(os.Getenv("TWILIO_AUTH_TOKEN")),
		},
	}, nil
}

// ServerConfig describes the HTTP listener and the externally reachable
// websocket endpoint handed to telephony providers.
type ServerConfig struct {
	Addr        string
	PublicWSURL string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	wsURL := strings.TrimSpace(os.Getenv("NOMNOM_WS_URL"))
	if wsURL == "" {
		wsURL = "ws://localhost:" + strings.TrimPrefix(port, ":")
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" as-is.
		return ServerConfig{Addr: port, PublicWSURL: wsURL}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, PublicWSURL: wsURL}, nil
}

// RedisConfig holds the connection URL for call records and chat history.
type RedisConfig struct {
	URL string
}

// DatabaseConfig holds the postgres connection URL for business data.
type DatabaseConfig struct {
	URL string
}

// DeepgramConfig holds live transcription credentials.
type DeepgramConfig struct {
	APIKey string
}

func loadDeepgramConfig() DeepgramConfig {
	return DeepgramConfig{APIKey: strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY"))}
}

// ElevenLabsConfig holds speech synthesis credentials and voice selection.
type ElevenLabsConfig struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string
}

func loadElevenLabsConfig() ElevenLabsConfig {
	return ElevenLabsConfig{
		APIKey:       strings.TrimSpace(os.Getenv("ELEVEN_LABS_API_KEY")),
		VoiceID:      getEnvOrDefault("ELEVEN_LABS_VOICE_ID", ""),
		ModelID:      getEnvOrDefault("ELEVEN_LABS_MODEL_ID", ""),
		OutputFormat: getEnvOrDefault("ELEVEN_LABS_OUTPUT_FORMAT", ""),
	}
}

// TelnyxConfig holds the call-control and messaging API key.
type TelnyxConfig struct {
	APIKey string
}

// TwilioConfig holds REST API credentials.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
}

// AIConfig describes the chat model behind the response generator.
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled reports whether the required credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds a model instance from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials missing: provide ARK_API_KEY + ARK_MODEL or the AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
