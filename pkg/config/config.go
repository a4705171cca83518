package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Import        ImportConfig
	Observability ObservabilityConfig
	LogLevel      string
	AllowReset    bool
}

type ServerConfig struct {
	Host               string
	Port               int
	RateLimitPerSecond int
	RateLimitBurst     int
	AllowedOrigins     []string
	MaxUploadBytes     int64
}

type DatabaseConfig struct {
	Driver     string // "postgres" or "sqlite"
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string
	SQLitePath string
}

type ImportConfig struct {
	DefaultFormat string
	ExcludeTerms  []string
	RulesFile     string
	ArchiveDir    string
	PDFToTextBin  string
	// InboxDir enables scheduled ingestion of files dropped there
	InboxDir      string
	InboxSchedule string
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	MetricsPort    int
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Load reads configuration from environment variables, after loading a .env
// file when one is present in the working directory.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:               getEnv("SERVER_HOST", "localhost"),
			Port:               getEnvAsInt("SERVER_PORT", 8080),
			RateLimitPerSecond: getEnvAsInt("SERVER_RATE_LIMIT_PER_SECOND", 20),
			RateLimitBurst:     getEnvAsInt("SERVER_RATE_LIMIT_BURST", 40),
			AllowedOrigins:     getEnvAsList("SERVER_ALLOWED_ORIGINS", []string{"http://localhost:8501"}),
			MaxUploadBytes:     int64(getEnvAsInt("SERVER_MAX_UPLOAD_BYTES", 20<<20)),
		},
		Database: DatabaseConfig{
			Driver:     getEnv("DB_DRIVER", DriverPostgres),
			Host:       getEnv("POSTGRES_HOST", "localhost"),
			Port:       getEnvAsInt("POSTGRES_PORT", 5432),
			User:       getEnv("POSTGRES_USER", "postgres"),
			Password:   getEnv("POSTGRES_PASSWORD", "postgres"),
			Database:   getEnv("POSTGRES_DB", "statement_recon"),
			SSLMode:    getEnv("POSTGRES_SSLMODE", "disable"),
			SQLitePath: getEnv("SQLITE_PATH", "./data/cartolas_bci_internacional.db"),
		},
		Import: ImportConfig{
			DefaultFormat: getEnv("IMPORT_DEFAULT_FORMAT", "international"),
			ExcludeTerms:  getEnvAsList("IMPORT_EXCLUDE_TERMS", nil),
			RulesFile:     getEnv("IMPORT_RULES_FILE", ""),
			ArchiveDir:    getEnv("IMPORT_ARCHIVE_DIR", "./uploads"),
			PDFToTextBin:  getEnv("PDFTOTEXT_BIN", "pdftotext"),
			InboxDir:      getEnv("IMPORT_INBOX_DIR", ""),
			InboxSchedule: getEnv("IMPORT_INBOX_SCHEDULE", "*/5 * * * *"),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			MetricsPort:    getEnvAsInt("METRICS_PORT", 9090),
		},
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		AllowReset: getEnvAsBool("ALLOW_RESET", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late at startup
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres:
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required when DB_DRIVER=sqlite")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Import.InboxDir != "" && strings.TrimSpace(c.Import.InboxSchedule) == "" {
		return errors.New("IMPORT_INBOX_SCHEDULE is required when IMPORT_INBOX_DIR is set")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid SERVER_PORT %d", c.Server.Port)
	}
	return nil
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Addr returns the HTTP listen address
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping empty items
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
