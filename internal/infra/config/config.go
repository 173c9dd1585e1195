package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	LLM       LLMConfig       `yaml:"llm"`
	Chat      ChatConfig      `yaml:"chat"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Search    SearchConfig    `yaml:"search"`
	Retention RetentionConfig `yaml:"retention"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	TrustedProxies  []string      `yaml:"trusted_proxies,omitempty"`
	RequestsPerMin  int           `yaml:"requests_per_min"` // outer per-IP guard
	BurstSize       int           `yaml:"burst_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig holds conversation store settings.
type StoreConfig struct {
	Path string `yaml:"path"` // sqlite database file
}

// LLMConfig holds provider settings.
type LLMConfig struct {
	Default   string           `yaml:"default"` // provider name used for chat
	Titler    string           `yaml:"titler,omitempty"` // provider for title generation; empty = default
	Providers []ProviderConfig `yaml:"providers"`
}

// ProviderConfig defines a single LLM provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"` // "openai", "anthropic", "bedrock"
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key,omitempty"`
	BaseURL     string        `yaml:"base_url,omitempty"`
	Region      string        `yaml:"region,omitempty"` // bedrock
	ConnTimeout time.Duration `yaml:"conn_timeout,omitempty"`
	RespTimeout time.Duration `yaml:"resp_timeout,omitempty"`
	Pool        PoolConfig    `yaml:"pool,omitempty"`
	Breaker     BreakerConfig `yaml:"breaker,omitempty"`
}

// PoolConfig holds HTTP connection pool settings for a provider.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns,omitempty"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host,omitempty"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host,omitempty"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout,omitempty"`
}

// BreakerConfig configures the circuit breaker around a provider.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	Interval    time.Duration `yaml:"interval,omitempty"`
}

// ChatConfig holds generation settings for the chat path.
type ChatConfig struct {
	SystemPrompt       string  `yaml:"system_prompt,omitempty"`
	MaxTokens          int     `yaml:"max_tokens,omitempty"`
	Temperature        float64 `yaml:"temperature,omitempty"`
	HistoryTokenBudget int     `yaml:"history_token_budget,omitempty"` // 0 = no trimming
	TokenEncoding      string  `yaml:"token_encoding,omitempty"`       // tiktoken encoding name
}

// RateLimitConfig holds the per-session fixed-window limiter settings
// for the chat endpoint.
type RateLimitConfig struct {
	WindowMs      int           `yaml:"window_ms"`
	MaxRequests   int           `yaml:"max_requests"`
	SweepInterval time.Duration `yaml:"sweep_interval,omitempty"`
}

// SearchConfig holds web-search tool settings.
type SearchConfig struct {
	Enabled    bool   `yaml:"enabled"`
	APIKey     string `yaml:"api_key,omitempty"`
	BaseURL    string `yaml:"base_url,omitempty"`
	MaxResults int    `yaml:"max_results,omitempty"`
}

// RetentionConfig holds the conversation retention job settings.
type RetentionConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule,omitempty"` // cron expression, default daily
	MaxAge   string `yaml:"max_age,omitempty"`  // duration string, e.g. "720h"
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// TracerConfig holds OpenTelemetry settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// Default settings applied when the config file omits them.
const (
	defaultAddr            = ":8080"
	defaultStorePath       = "chatstream.db"
	defaultRequestsPerMin  = 120
	defaultBurstSize       = 30
	defaultWindowMs        = 60_000
	defaultMaxRequests     = 10
	defaultSweepInterval   = time.Minute
	defaultShutdownTimeout = 10 * time.Second
	defaultTokenEncoding   = "cl100k_base"
)

// Load reads, parses, validates, and applies defaults to a config file.
// When the CHATSTREAM_PASSPHRASE environment variable is set, "enc:" values
// are decrypted with it.
func Load(path string) (*Config, error) {
	if err := validatePermissions(path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	if passphrase := os.Getenv("CHATSTREAM_PASSPHRASE"); passphrase != "" {
		if err := decryptSecrets(&cfg, passphrase); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultAddr
	}
	if cfg.Server.RequestsPerMin <= 0 {
		cfg.Server.RequestsPerMin = defaultRequestsPerMin
	}
	if cfg.Server.BurstSize <= 0 {
		cfg.Server.BurstSize = defaultBurstSize
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = defaultStorePath
	}
	if cfg.RateLimit.WindowMs <= 0 {
		cfg.RateLimit.WindowMs = defaultWindowMs
	}
	if cfg.RateLimit.MaxRequests <= 0 {
		cfg.RateLimit.MaxRequests = defaultMaxRequests
	}
	if cfg.RateLimit.SweepInterval <= 0 {
		cfg.RateLimit.SweepInterval = defaultSweepInterval
	}
	if cfg.Chat.TokenEncoding == "" {
		cfg.Chat.TokenEncoding = defaultTokenEncoding
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "text"
	}
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = "0 3 * * *"
	}
	if cfg.Retention.MaxAge == "" {
		cfg.Retention.MaxAge = "720h"
	}
}

// decryptSecrets finds "enc:..." values in API keys and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i := range cfg.LLM.Providers {
		key := cfg.LLM.Providers[i].APIKey
		if strings.HasPrefix(key, "enc:") {
			decrypted, err := DecryptValue(strings.TrimPrefix(key, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("provider %s api_key: %w", cfg.LLM.Providers[i].Name, err)
			}
			cfg.LLM.Providers[i].APIKey = decrypted
		}
	}

	if strings.HasPrefix(cfg.Search.APIKey, "enc:") {
		decrypted, err := DecryptValue(strings.TrimPrefix(cfg.Search.APIKey, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("search api_key: %w", err)
		}
		cfg.Search.APIKey = decrypted
	}

	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts an AES-256-GCM encrypted value.
func DecryptValue(encrypted, passphrase string) (string, error) {
	parts := strings.SplitN(encrypted, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}

	data, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}

	return string(plaintext), nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
