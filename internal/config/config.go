// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

var (
	currentConfig *Config
	configMutex   sync.RWMutex
)

// Config holds the process configuration, loaded once at startup.
type Config struct {
	Port         string
	DataDir      string
	DBPath       string
	StaticDir    string
	TemplatesDir string
	LogDir       string
	DebugMode    bool

	// LLM settings
	LLMProvider string
	LLMConfig   map[string]string
}

// Load reads configuration from the environment (and an optional .env
// file). The API key for the selected LLM provider is required: the
// narrator cannot run without it, so a missing key aborts startup.
func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		DataDir:      getEnvPath("DATA_DIR", "data"),
		StaticDir:    getEnvPath("STATIC_DIR", "static"),
		TemplatesDir: getEnv("TEMPLATES_DIR", "web/templates"),
		LogDir:       getEnvPath("LOG_DIR", "logs"),
		DebugMode:    getEnvBool("DEBUG_MODE", true),
		LLMProvider:  strings.ToLower(getEnv("LLM_PROVIDER", "groq")),
	}
	cfg.DBPath = getEnv("DB_PATH", filepath.Join(cfg.DataDir, "trpg.db"))

	apiKey, err := providerAPIKey(cfg.LLMProvider)
	if err != nil {
		return nil, err
	}
	cfg.LLMConfig = map[string]string{
		"api_key": apiKey,
	}
	if model := getEnv("LLM_MODEL", ""); model != "" {
		cfg.LLMConfig["default_model"] = model
	}
	if baseURL := getEnv("LLM_BASE_URL", ""); baseURL != "" {
		cfg.LLMConfig["base_url"] = baseURL
	}

	SetCurrentConfig(cfg)
	return cfg, nil
}

// providerAPIKey resolves the credential for a provider name.
func providerAPIKey(provider string) (string, error) {
	envVar := map[string]string{
		"groq":   "GROQ_API_KEY",
		"openai": "OPENAI_API_KEY",
	}[provider]
	if envVar == "" {
		return "", fmt.Errorf("unknown LLM provider: %s", provider)
	}

	key := os.Getenv(envVar)
	if key == "" {
		return "", fmt.Errorf("%s environment variable is not set", envVar)
	}
	return key, nil
}

// SetCurrentConfig stores the process-wide configuration.
func SetCurrentConfig(cfg *Config) {
	configMutex.Lock()
	defer configMutex.Unlock()
	currentConfig = cfg
}

// GetCurrentConfig returns the process-wide configuration.
func GetCurrentConfig() *Config {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return currentConfig
}

// getEnv returns the env value, or defaultValue when unset.
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvPath returns the env value as a directory path, creating it
// when it does not exist yet.
func getEnvPath(key, defaultValue string) string {
	path := getEnv(key, defaultValue)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			fmt.Printf("warning: failed to create directory %s: %v\n", path, err)
		}
	}

	return path
}

// getEnvBool parses a boolean env value.
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}
