package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ProviderConfig is the static record for one language-model backend.
type ProviderConfig struct {
	APIKey      string
	APIURL      string
	Model       string
	MaxTokens   int
	Temperature float64
}

type ChatConfig struct {
	MaxMessageLength   int
	MaxHistoryMessages int
}

type RateLimitConfig struct {
	Window          time.Duration
	MaxPerWindow    int
	MinDelay        time.Duration
	BlockDuration   time.Duration
	MaxPerMinute    int
	MaxPerDay       int
	CleanupInterval time.Duration
}

type SecurityConfig struct {
	RequireAPIKey     bool
	ClientAPIKeys     []string
	TrustedProxyCount int
	JWTSecret         string
	AdminToken        string
	AllowedOrigins    []string
}

type SessionConfig struct {
	MaxStoredMessages int
	IdleTTL           time.Duration
}

type Config struct {
	ServerPort      string
	Env             string
	DefaultProvider string
	Providers       map[string]ProviderConfig
	ProviderTimeout time.Duration

	Chat      ChatConfig
	RateLimit RateLimitConfig
	Security  SecurityConfig
	Session   SessionConfig

	KnowledgeDir string

	LogLevel  string
	LogFormat string
	LogDir    string

	TranscriptBackend string
	TranscriptDir     string
	DatabaseURL       string

	RedisURL      string
	OperatorQueue string
}

func Load() (*Config, error) {
	godotenv.Load()

	maxTokens, err := getEnvInt("MAX_TOKENS", 1000)
	if err != nil {
		return nil, err
	}
	temperature, err := getEnvFloat("TEMPERATURE", 0.3)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ServerPort:      getEnv("PORT", "3000"),
		Env:             getEnv("APP_ENV", "development"),
		DefaultProvider: getEnv("DEFAULT_AI_PROVIDER", "grok"),
		Providers: map[string]ProviderConfig{
			"grok": {
				APIKey:      getEnv("GROK_API_KEY", ""),
				APIURL:      getEnv("GROK_API_URL", "https://api.x.ai/v1"),
				Model:       getEnv("GROK_MODEL", "grok-4"),
				MaxTokens:   maxTokens,
				Temperature: temperature,
			},
			"gemini": {
				APIKey:      getEnv("GEMINI_API_KEY", ""),
				APIURL:      getEnv("GEMINI_API_URL", "https://generativelanguage.googleapis.com/v1"),
				Model:       getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
				MaxTokens:   maxTokens,
				Temperature: temperature,
			},
			"chatgpt": {
				APIKey:      getEnv("CHATGPT_API_KEY", ""),
				APIURL:      getEnv("CHATGPT_API_URL", "https://api.openai.com/v1"),
				Model:       getEnv("CHATGPT_MODEL", "gpt-5"),
				MaxTokens:   maxTokens,
				Temperature: temperature,
			},
		},
		KnowledgeDir:      getEnv("KNOWLEDGE_DIR", "data"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "text"),
		LogDir:            getEnv("LOG_DIR", "logs"),
		TranscriptBackend: strings.ToLower(getEnv("TRANSCRIPT_BACKEND", "file")),
		TranscriptDir:     getEnv("TRANSCRIPT_DIR", "logs/chats"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		RedisURL:          getEnv("REDIS_URL", ""),
		OperatorQueue:     getEnv("OPERATOR_QUEUE", "escalations"),
	}

	if cfg.ProviderTimeout, err = getEnvMillis("PROVIDER_TIMEOUT_MS", 30*time.Second); err != nil {
		return nil, err
	}

	if cfg.Chat.MaxMessageLength, err = getEnvInt("MAX_MESSAGE_LENGTH", 1000); err != nil {
		return nil, err
	}
	if cfg.Chat.MaxHistoryMessages, err = getEnvInt("MAX_HISTORY_MESSAGES", 10); err != nil {
		return nil, err
	}

	rl := &cfg.RateLimit
	if rl.Window, err = getEnvMillis("RATE_LIMIT_WINDOW_MS", time.Minute); err != nil {
		return nil, err
	}
	if rl.MaxPerWindow, err = getEnvInt("RATE_LIMIT_MAX_PER_WINDOW", 10); err != nil {
		return nil, err
	}
	if rl.MinDelay, err = getEnvMillis("RATE_LIMIT_MIN_DELAY_MS", 2*time.Second); err != nil {
		return nil, err
	}
	if rl.BlockDuration, err = getEnvMillis("RATE_LIMIT_BLOCK_DURATION_MS", 5*time.Minute); err != nil {
		return nil, err
	}
	if rl.MaxPerMinute, err = getEnvInt("RATE_LIMIT_MAX_PER_MINUTE", 20); err != nil {
		return nil, err
	}
	if rl.MaxPerDay, err = getEnvInt("RATE_LIMIT_MAX_PER_DAY", 10000); err != nil {
		return nil, err
	}
	if rl.CleanupInterval, err = getEnvMillis("RATE_LIMIT_CLEANUP_INTERVAL_MS", time.Minute); err != nil {
		return nil, err
	}

	sec := &cfg.Security
	sec.RequireAPIKey = getEnvBool("REQUIRE_API_KEY", false)
	sec.ClientAPIKeys = getEnvList("CLIENT_API_KEYS")
	sec.JWTSecret = getEnv("JWT_SECRET", "")
	sec.AdminToken = getEnv("ADMIN_TOKEN", "")
	sec.AllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS")
	if len(sec.AllowedOrigins) == 0 {
		sec.AllowedOrigins = []string{"*"}
	}
	if sec.TrustedProxyCount, err = getEnvInt("TRUSTED_PROXY_COUNT", len(getEnvList("TRUSTED_PROXIES"))); err != nil {
		return nil, err
	}

	if cfg.Session.MaxStoredMessages, err = getEnvInt("SESSION_MAX_STORED_MESSAGES", 0); err != nil {
		return nil, err
	}
	if cfg.Session.IdleTTL, err = getEnvMillis("SESSION_IDLE_TTL_MS", 24*time.Hour); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Warnings reports configuration problems that do not stop the server from
// starting but will make requests for the default provider fail.
func (c *Config) Warnings() []string {
	var warnings []string

	pc, ok := c.Providers[c.DefaultProvider]
	if !ok {
		return append(warnings, fmt.Sprintf("default provider %q is not configured", c.DefaultProvider))
	}
	if IsPlaceholderKey(pc.APIKey) {
		warnings = append(warnings, fmt.Sprintf("API key for %s is not set, configure %s_API_KEY",
			c.DefaultProvider, strings.ToUpper(c.DefaultProvider)))
	}
	if pc.APIURL == "" {
		warnings = append(warnings, fmt.Sprintf("API URL for %s is not set", c.DefaultProvider))
	}
	if c.Security.RequireAPIKey && len(c.Security.ClientAPIKeys) == 0 {
		warnings = append(warnings, "REQUIRE_API_KEY is set but no CLIENT_API_KEYS are configured, authentication is disabled")
	}
	return warnings
}

// IsPlaceholderKey reports whether key is empty or still holds a template
// value such as "your_grok_api_key_here".
func IsPlaceholderKey(key string) bool {
	key = strings.TrimSpace(key)
	return key == "" || strings.HasPrefix(key, "your_") || strings.HasSuffix(key, "_here")
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be a number: %w", key, err)
	}
	return f, nil
}

func getEnvMillis(key string, defaultVal time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal, nil
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be milliseconds: %w", key, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func getEnvBool(key string, defaultVal bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
