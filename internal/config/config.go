// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir        string   `validate:"required"` // Always absolute
	LogLevel       string   `validate:"oneof=trace debug info warn error"`
	AppEnv         string   // "dev" enables pretty debug logging
	ServerHost     string   `validate:"required"`
	ServerPort     int      `validate:"min=1,max=65535"`
	AllowedOrigins []string `validate:"dive,required"`

	Solana    SolanaConfig
	Heartbeat HeartbeatConfig
	History   HistoryConfig
	Backup    BackupConfig
}

// SolanaConfig configures the ledger endpoint and signing identity.
type SolanaConfig struct {
	RPCURL         string        `validate:"required,url"`
	WSURL          string        `validate:"omitempty,url"`
	Commitment     string        `validate:"oneof=processed confirmed finalized"`
	KeypairPath    string        `validate:"required"`
	StepTimeout    time.Duration `validate:"gte=0"` // 0 = unbounded
	ConfirmTimeout time.Duration `validate:"gt=0"`
}

// HeartbeatConfig configures the supervisor.
type HeartbeatConfig struct {
	IntervalSeconds int `validate:"gt=0"`
	Autostart       bool
}

// HistoryConfig configures attempt history storage and pruning.
type HistoryConfig struct {
	Path          string `validate:"required"`
	RetentionDays int    `validate:"gte=0"` // 0 = keep forever
	PruneSchedule string `validate:"required"`
}

// BackupConfig configures offsite backups to S3-compatible storage.
type BackupConfig struct {
	Enabled   bool
	Schedule  string `validate:"required_if=Enabled true"`
	Endpoint  string `validate:"omitempty,url"`
	Region    string
	Bucket    string `validate:"required_if=Enabled true"`
	Prefix    string
	AccessKey string
	SecretKey string
	Keep      int `validate:"gte=1"`
}

// IsDev reports whether the service runs in development mode.
func (c *Config) IsDev() bool {
	return c.AppEnv == "dev"
}

// Address returns host:port for the HTTP server.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// Load reads .env (if present) and the environment, ensures the data
// directory exists and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir, err := filepath.Abs(getEnv("DATA_DIR", "./data"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:        dataDir,
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		AppEnv:         getEnv("APP_ENV", "production"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ServerPort:     getEnvAsInt("SERVER_PORT", 8080),
		AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		Solana: SolanaConfig{
			RPCURL:         getEnv("SOLANA_RPC_URL", "https://api.devnet.solana.com"),
			WSURL:          getEnv("SOLANA_WS_URL", ""),
			Commitment:     getEnv("SOLANA_COMMITMENT", "confirmed"),
			KeypairPath:    getEnv("KEYPAIR_PATH", filepath.Join(dataDir, "solana-keypair.json")),
			StepTimeout:    getEnvAsDuration("LEDGER_STEP_TIMEOUT", 0),
			ConfirmTimeout: getEnvAsDuration("LEDGER_CONFIRM_TIMEOUT", 60*time.Second),
		},
		Heartbeat: HeartbeatConfig{
			IntervalSeconds: getEnvAsInt("HEARTBEAT_INTERVAL_SECONDS", 30),
			Autostart:       getEnvAsBool("HEARTBEAT_AUTOSTART", false),
		},
		History: HistoryConfig{
			Path:          getEnv("HISTORY_DB_PATH", filepath.Join(dataDir, "history.db")),
			RetentionDays: getEnvAsInt("HISTORY_RETENTION_DAYS", 30),
			PruneSchedule: getEnv("HISTORY_PRUNE_SCHEDULE", "0 30 3 * * *"),
		},
		Backup: BackupConfig{
			Enabled:   getEnvAsBool("BACKUP_ENABLED", false),
			Schedule:  getEnv("BACKUP_SCHEDULE", "0 0 4 * * *"),
			Endpoint:  getEnv("BACKUP_S3_ENDPOINT", ""),
			Region:    getEnv("BACKUP_S3_REGION", "auto"),
			Bucket:    getEnv("BACKUP_S3_BUCKET", ""),
			Prefix:    getEnv("BACKUP_S3_PREFIX", ""),
			AccessKey: getEnv("BACKUP_S3_ACCESS_KEY", ""),
			SecretKey: getEnv("BACKUP_S3_SECRET_KEY", ""),
			Keep:      getEnvAsInt("BACKUP_KEEP", 7),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("90s", "2m") or whole seconds ("90").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
