package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            string
	LLMProvider     string
	OpenAIAPIKey    string
	OpenAIModel     string
	AnthropicAPIKey string
	AnthropicModel  string
	Temperature     float64
	MemoryWindow    int
	RateLimitRPM    int
	LogDir          string
	KBPath          string
	EvalMode        bool
	LTMEnabled      bool
	PineconeAPIKey  string
	PineconeIndex   string
	DatabaseURL     string
}

func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("[INFO] No .env file found, using environment variables")
	}

	return Config{
		Port:            getEnv("PORT", "8000"),
		LLMProvider:     strings.ToLower(getEnv("LLM_PROVIDER", "openai")),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
		Temperature:     getEnvFloat("TEMPERATURE", 0.4),
		MemoryWindow:    getEnvInt("MEMORY_WINDOW", 12),
		RateLimitRPM:    getEnvInt("RATE_LIMIT_RPM", 60),
		LogDir:          getEnv("LOG_DIR", "results"),
		KBPath:          getEnv("KB_PATH", "kb.md"),
		EvalMode:        getEnvBool("EVAL_MODE", false),
		LTMEnabled:      getEnvBool("LTM_ENABLED", false),
		PineconeAPIKey:  os.Getenv("PINECONE_API_KEY"),
		PineconeIndex:   getEnv("PINECONE_INDEX", "coursebot-facts"),
		DatabaseURL:     os.Getenv("DB_URL"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("[ERROR] Invalid %s value %q, using default %d", key, value, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("[ERROR] Invalid %s value %q, using default %g", key, value, fallback)
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return fallback
	}
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	log.Printf("[ERROR] Invalid %s value %q, using default %t", key, value, fallback)
	return fallback
}
