package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Auth        AuthConfig                `json:"auth"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Agent       AgentConfig               `json:"agent"`
}

type BasicConfig struct {
	ServerAddress string   `json:"server_address"`
	CORSOrigins   []string `json:"cors_origins"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// AuthConfig holds the shared secret used to verify bearer tokens.
// TODOCHAT_AUTH_SECRET overrides the file value so deployments never
// need to write the secret to disk.
type AuthConfig struct {
	Secret string `json:"secret"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

// AgentConfig selects the model provider backing the task assistant.
type AgentConfig struct {
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if secret := os.Getenv("TODOCHAT_AUTH_SECRET"); secret != "" {
		cfg.Auth.Secret = secret
	}
	if cfg.Auth.Secret == "" {
		return nil, fmt.Errorf("auth secret must be configured")
	}

	// Relative sqlite paths resolve against the config file location.
	if dbCfg, ok := cfg.Databases["sqlite3"]; ok {
		if dbCfg.DSN != "" && dbCfg.DSN != ":memory:" && !filepath.IsAbs(dbCfg.DSN) {
			dbCfg.DSN = filepath.Join(filepath.Dir(absPath), dbCfg.DSN)
			cfg.Databases["sqlite3"] = dbCfg
		}
	}

	return &cfg, nil
}
