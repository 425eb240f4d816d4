// Package config loads engine-wide settings from environment variables and
// a YAML sessions file, the same layering the rest of the stack uses:
// env for secrets and ports, YAML for structured per-counterparty data,
// built-in defaults as the final fallback.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EngineConfig holds everything cmd/fixengine needs to bring sessions up.
type EngineConfig struct {
	Environment string
	Admin       AdminConfig
	Store       StoreConfig
	RateLimit   RateLimitConfig
	Logging     LoggingConfig
	Sessions    []SessionConfig
}

// LoggingConfig configures the rotating log file the engine writes
// alongside stdout. An empty Dir disables file rotation entirely.
type LoggingConfig struct {
	Dir        string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
	Compress   bool
}

// AdminConfig configures the JWT-protected admin HTTP API.
type AdminConfig struct {
	ListenAddr  string
	JWTSecret   string
	JWTExpiry   string
	IPWhitelist []string
}

// StoreConfig configures durable sequence/message persistence.
type StoreConfig struct {
	Dir                 string
	MasterPassword      string // non-empty enables AES-GCM at rest for the OutboundLog
	CredentialStorePath string
}

// RateLimitConfig configures the per-session inbound administrative token
// bucket. A zero MessagesPerSecond means unlimited.
type RateLimitConfig struct {
	MessagesPerSecond int
	Burst             int
}

// SessionConfig describes one counterparty connection, read from the YAML
// sessions file.
type SessionConfig struct {
	Name                  string `yaml:"name"`
	Role                  string `yaml:"role"` // "initiator" or "acceptor"
	SenderCompID          string `yaml:"sender_comp_id"`
	TargetCompID          string `yaml:"target_comp_id"`
	BeginString           string `yaml:"begin_string"`
	Address               string `yaml:"address"` // dial target (initiator) or listen addr (acceptor)
	HeartbeatIntervalSecs int    `yaml:"heartbeat_interval_secs"`
	ResetOnLogon          bool   `yaml:"reset_on_logon"`
}

// sessionsFile is the top-level shape of the YAML sessions document.
type sessionsFile struct {
	Sessions []SessionConfig `yaml:"sessions"`
}

// Load reads .env (if present) for secrets, sessionsPath for the YAML
// session list, and fills in defaults for whatever neither supplies.
// Explicit environment variables always win over YAML and over defaults.
func Load(sessionsPath string) (*EngineConfig, error) {
	_ = godotenv.Load()

	cfg := &EngineConfig{
		Environment: getEnv("ENVIRONMENT", "development"),
		Admin: AdminConfig{
			ListenAddr:  getEnv("ADMIN_LISTEN_ADDR", ":8443"),
			JWTSecret:   getEnv("FIXENGINE_JWT_SECRET", ""),
			JWTExpiry:   getEnv("FIXENGINE_JWT_EXPIRY", "1h"),
			IPWhitelist: getEnvAsSlice("ADMIN_IP_WHITELIST", []string{"127.0.0.1", "::1"}),
		},
		Store: StoreConfig{
			Dir:                 getEnv("FIXENGINE_STORE_DIR", "./data/sessions"),
			MasterPassword:      getEnv("FIXENGINE_MASTER_PASSWORD", ""),
			CredentialStorePath: getEnv("FIXENGINE_CREDENTIAL_STORE", "./data/credentials.json"),
		},
		RateLimit: RateLimitConfig{
			MessagesPerSecond: getEnvAsInt("FIXENGINE_ADMIN_RATE_PER_SEC", 0),
			Burst:             getEnvAsInt("FIXENGINE_ADMIN_RATE_BURST", 20),
		},
		Logging: LoggingConfig{
			Dir:        getEnv("FIXENGINE_LOG_DIR", ""),
			MaxSizeMB:  getEnvAsInt("FIXENGINE_LOG_MAX_SIZE_MB", 100),
			MaxAgeDays: getEnvAsInt("FIXENGINE_LOG_MAX_AGE_DAYS", 7),
			MaxBackups: getEnvAsInt("FIXENGINE_LOG_MAX_BACKUPS", 10),
			Compress:   getEnv("FIXENGINE_LOG_COMPRESS", "true") == "true",
		},
	}

	if sessionsPath != "" {
		sessions, err := loadSessions(sessionsPath)
		if err != nil {
			return nil, fmt.Errorf("config: load sessions file: %w", err)
		}
		cfg.Sessions = sessions
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadSessions(path string) ([]SessionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc sessionsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	for i := range doc.Sessions {
		s := &doc.Sessions[i]
		if s.BeginString == "" {
			s.BeginString = "FIX.4.2"
		}
		if s.HeartbeatIntervalSecs == 0 {
			s.HeartbeatIntervalSecs = 30
		}
	}
	return doc.Sessions, nil
}

// Validate checks the fields the engine cannot safely run without.
func (c *EngineConfig) Validate() error {
	if c.Environment == "production" && c.Admin.JWTSecret == "" {
		return fmt.Errorf("config: FIXENGINE_JWT_SECRET is required in production")
	}
	for _, s := range c.Sessions {
		if s.SenderCompID == "" || s.TargetCompID == "" {
			return fmt.Errorf("config: session %q missing sender/target CompID", s.Name)
		}
		if s.Role != "initiator" && s.Role != "acceptor" {
			return fmt.Errorf("config: session %q has invalid role %q", s.Name, s.Role)
		}
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	v := getEnv(key, "")
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return defaultVal
}

func getEnvAsSlice(key string, defaultVal []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return defaultVal
	}
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if i > start {
				out = append(out, v[start:i])
			}
			start = i + 1
		}
	}
	return out
}
