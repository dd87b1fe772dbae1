// Package config handles TaskPilot configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/taskpilot/config.yaml, /etc/taskpilot/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "taskpilot", "config.yaml"))
	}

	paths = append(paths, "/etc/taskpilot/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all TaskPilot configuration.
type Config struct {
	Listen   ListenConfig `yaml:"listen"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig   `yaml:"auth"`
	Cohere   CohereConfig `yaml:"cohere"`
	Chat     ChatConfig   `yaml:"chat"`
	LogLevel string       `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// DatabaseConfig defines the SQLite database location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig defines token issuing and verification settings.
type AuthConfig struct {
	// Secret signs and verifies bearer tokens (HS256). Required.
	Secret string `yaml:"secret"`
	// TokenTTL is how long issued tokens stay valid. Default: 7 days.
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// CohereConfig defines Cohere API settings.
type CohereConfig struct {
	APIKey string `yaml:"api_key"`
	// Model overrides the default chat model.
	Model string `yaml:"model"`
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string `yaml:"base_url"`
}

// ChatConfig tunes the chat orchestration loop.
type ChatConfig struct {
	// HistoryLimit is how many prior turns are sent to the model. Default: 20.
	HistoryLimit int `yaml:"history_limit"`
	// RequestTimeout bounds each provider completion call. Default: 60s.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// StrictConversations rejects a conversation_id that does not resolve
	// to a conversation owned by the requester. The default (false) keeps
	// the lenient behavior of silently starting a new conversation.
	StrictConversations bool `yaml:"strict_conversations"`
}

// Load reads configuration from a YAML file. A .env file in the working
// directory is loaded first so ${VAR} references in the YAML resolve
// against it.
func Load(path string) (*Config, error) {
	// Missing .env is fine; explicit env wins over file values.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen:   ListenConfig{Port: 8080},
		Database: DatabaseConfig{Path: "taskpilot.db"},
		Auth:     AuthConfig{TokenTTL: 7 * 24 * time.Hour},
		Cohere:   CohereConfig{Model: "command-r-08-2024"},
		Chat: ChatConfig{
			HistoryLimit:   20,
			RequestTimeout: 60 * time.Second,
		},
	}
}

// Validate reports configuration problems that would prevent startup.
func (c *Config) Validate() error {
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required")
	}
	if c.Cohere.APIKey == "" {
		return fmt.Errorf("cohere.api_key is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}
