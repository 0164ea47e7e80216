package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port           string
	AppEnv         string
	LogLevel       string
	UploadMaxBytes int64
	RateLimit      int // POST requests per minute per client

	// Database
	DBDriver      string
	SQLiteDBPath  string
	MySQLHost     string
	MySQLUser     string
	MySQLPassword string
	MySQLDatabase string
	MySQLCAFile   string
	SQLDebug      bool

	// Recognition
	LLMProvider   string
	QwenKey       string
	QwenBaseURL   string
	QwenModel     string
	GeminiModel   string
	LLMTimeout    time.Duration
	ImageMaxWidth int

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets export
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
	ExportInterval           time.Duration // periodic full re-export, 0 disables
}

func Load() *Config {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		AppEnv:         getEnv("APP_ENV", "production"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		UploadMaxBytes: int64(getEnvInt("UPLOAD_MAX_BYTES", 10<<20)),
		RateLimit:      getEnvInt("RATE_LIMIT_PER_MINUTE", 60),

		DBDriver:      strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		SQLiteDBPath:  getEnv("SQLITE_DB_PATH", "./data/receipts.db"),
		MySQLHost:     getEnv("MYSQL_HOST", "localhost"),
		MySQLUser:     getEnv("MYSQL_USER", "root"),
		MySQLPassword: getEnv("MYSQL_PASSWORD", ""),
		MySQLDatabase: getEnv("MYSQL_DATABASE", "test"),
		MySQLCAFile:   getEnv("MYSQL_CA_FILE", "certs/DigiCertGlobalRootCA.crt.pem"),
		SQLDebug:      getEnvBool("SQL_DEBUG", false),

		LLMProvider:   strings.ToLower(getEnv("LLM_PROVIDER", "qwen")),
		QwenKey:       getEnv("QWEN_KEY", ""),
		QwenBaseURL:   getEnv("QWEN_BASE_URL", "https://dashscope.aliyuncs.com/compatible-mode/v1"),
		QwenModel:     getEnv("QWEN_MODEL", "qwen3-vl-plus"),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		LLMTimeout:    getEnvDuration("LLM_TIMEOUT", 30*time.Second),
		ImageMaxWidth: getEnvInt("IMAGE_MAX_WIDTH", 300),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "receipts"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "export_receipts"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", "Ledger"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		ExportInterval:           getEnvDuration("EXPORT_INTERVAL", 0),
	}

	return cfg
}

// Development reports whether the app runs in local development mode, where
// MySQL connections skip TLS.
func (c *Config) Development() bool {
	return c.AppEnv == "development"
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	validLevels := []string{"debug", "info", "warn", "warning", "error"}
	if !slices.Contains(validLevels, strings.ToLower(c.LogLevel)) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of %v", c.LogLevel, validLevels))
	}

	// Validate database driver
	switch c.DBDriver {
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite driver")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	case "mysql":
		if c.MySQLHost == "" {
			errors = append(errors, "MYSQL_HOST is required when using mysql driver")
		}
		if c.MySQLUser == "" {
			errors = append(errors, "MYSQL_USER is required when using mysql driver")
		}
		if c.MySQLDatabase == "" {
			errors = append(errors, "MYSQL_DATABASE is required when using mysql driver")
		}
		if !c.Development() {
			if _, err := os.Stat(c.MySQLCAFile); err != nil {
				errors = append(errors, fmt.Sprintf("MySQL CA file is not readable: %s", c.MySQLCAFile))
			}
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid database driver '%s': must be one of [sqlite mysql]", c.DBDriver))
	}

	// Validate recognition
	switch c.LLMProvider {
	case "qwen":
		if c.QwenBaseURL == "" {
			errors = append(errors, "QWEN_BASE_URL cannot be empty when using qwen provider")
		}
	case "gemini":
	default:
		errors = append(errors, fmt.Sprintf("invalid LLM provider '%s': must be one of [qwen gemini]", c.LLMProvider))
	}
	if c.LLMTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid LLM timeout %v: must be at least 1 second", c.LLMTimeout))
	}
	if c.ImageMaxWidth < 16 {
		errors = append(errors, fmt.Sprintf("invalid image max width %d: must be at least 16", c.ImageMaxWidth))
	}
	if c.UploadMaxBytes < 1 {
		errors = append(errors, fmt.Sprintf("invalid upload max bytes %d: must be positive", c.UploadMaxBytes))
	}
	if c.RateLimit < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 per minute", c.RateLimit))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// ValidateWorker checks the settings the export worker needs on top of Validate.
func (c *Config) ValidateWorker() error {
	var errors []string
	if c.AMQPURL == "" {
		errors = append(errors, "AMQP_URL is required for the export worker")
	}
	if c.GoogleSpreadsheetID == "" {
		errors = append(errors, "GOOGLE_SPREADSHEET_ID is required for the export worker")
	}
	if c.ExportInterval < 0 {
		errors = append(errors, fmt.Sprintf("invalid export interval %v: must not be negative", c.ExportInterval))
	}
	if c.GoogleSheetName == "" {
		errors = append(errors, "GOOGLE_SHEET_NAME is required for the export worker")
	}
	if len(errors) > 0 {
		return fmt.Errorf("worker configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
