package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Inference backends.
const (
	BackendBedrock = "bedrock"
	BackendClaude  = "claude"
	BackendOllama  = "ollama"
	BackendLorem   = "lorem"
)

type Config struct {
	ListenAddr       string
	InferenceBackend string
	ModelID          string
	AWSRegion        string
	ClaudeAPIKey     string
	ClaudeModel      string
	OllamaHost       string
	OllamaModel      string
	PromptsDir       string
	LogLevel         string
	LogFormat        string
	LogFile          string
	MaxUploadBytes   int64
}

// Load reads the configuration from the environment. Variables already set
// take precedence over the nearest .env file.
func Load() *Config {
	loadDotEnv()
	return &Config{
		ListenAddr:       getEnv("LISTEN_ADDR", ":8080"),
		InferenceBackend: getEnv("INFERENCE_BACKEND", BackendBedrock),
		ModelID:          getEnv("MODEL_ID", "eu.anthropic.claude-3-5-sonnet-20240620-v1:0"),
		AWSRegion:        getEnv("AWS_REGION", ""),
		ClaudeAPIKey:     getEnv("CLAUDE_API_KEY", ""),
		ClaudeModel:      getEnv("CLAUDE_MODEL", ""),
		OllamaHost:       getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OllamaModel:      getEnv("OLLAMA_MODEL", ""),
		PromptsDir:       getEnv("PROMPTS_DIR", ""),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "json"),
		LogFile:          getEnv("LOG_FILE", ""),
		MaxUploadBytes:   getEnvInt64("MAX_UPLOAD_BYTES", 20*1024*1024),
	}
}

// Validate reports settings the selected backend cannot run with.
func (c *Config) Validate() error {
	switch c.InferenceBackend {
	case BackendBedrock, BackendOllama, BackendLorem:
	case BackendClaude:
		if c.ClaudeAPIKey == "" {
			return fmt.Errorf("CLAUDE_API_KEY is required for the %s backend", BackendClaude)
		}
	default:
		return fmt.Errorf("unknown INFERENCE_BACKEND %q", c.InferenceBackend)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

// getEnvInt64 returns -1 for a value that does not parse, which Validate
// rejects.
func getEnvInt64(key string, defaultVal int64) int64 {
	val, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// loadDotEnv loads the first .env file found walking up from the working
// directory. A missing file is not an error.
func loadDotEnv() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}
