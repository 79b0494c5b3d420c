package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string

	// Mailbox credentials.
	EmailServer   string
	EmailUser     string
	EmailPassword string

	// Destination base.
	APIToken       string
	ServerURL      string
	EmailTableName string
	LinkTableName  string

	// Timezone used to normalize message dates to the base's naive
	// local timestamps.
	Timezone string

	// Job store (optional; only needed when running against the job table).
	DBHost              string
	DBPort              string
	DBUsername          string
	DBPassword          string
	DBName              string
	DBSSLMode           string
	EncryptionKeyBase64 string

	// Log syncer.
	RedisAddr     string
	RedisPassword string
	LogKey        string
	LogTableName  string

	// MySQL syncer.
	MySQLDSN       string
	MySQLQuery     string
	MySQLKeyColumn string
	MySQLTableName string
}

func NewConfig() (*Config, error) {
	env := os.Getenv("SYNCER_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment:         env,
		EmailServer:         os.Getenv("EMAIL_SERVER"),
		EmailUser:           os.Getenv("EMAIL_USER"),
		EmailPassword:       os.Getenv("EMAIL_PASSWORD"),
		APIToken:            os.Getenv("BASE_API_TOKEN"),
		ServerURL:           os.Getenv("DTABLE_WEB_SERVICE_URL"),
		EmailTableName:      getEnvOrDefault("EMAIL_TABLE_NAME", "Emails"),
		LinkTableName:       getEnvOrDefault("LINK_TABLE_NAME", "Threads"),
		Timezone:            getEnvOrDefault("TZ", "UTC"),
		DBHost:              getEnvOrDefault("SYNCER_DB_HOST", "localhost"),
		DBPort:              getEnvOrDefault("SYNCER_DB_PORT", "5432"),
		DBUsername:          getEnvOrDefault("SYNCER_DB_USER", "syncer"),
		DBPassword:          os.Getenv("SYNCER_DB_PASSWORD"),
		DBName:              getEnvOrDefault("SYNCER_DB_NAME", "syncer"),
		DBSSLMode:           getEnvOrDefault("SYNCER_DB_SSLMODE", "disable"),
		EncryptionKeyBase64: os.Getenv("SYNCER_ENCRYPTION_KEY_BASE64"),
		RedisAddr:           getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		LogKey:              getEnvOrDefault("LOG_REDIS_KEY", "syncer:logs"),
		LogTableName:        getEnvOrDefault("LOG_TABLE_NAME", "Logs"),
		MySQLDSN:            os.Getenv("MYSQL_DSN"),
		MySQLQuery:          os.Getenv("MYSQL_QUERY"),
		MySQLKeyColumn:      os.Getenv("MYSQL_KEY_COLUMN"),
		MySQLTableName:      getEnvOrDefault("MYSQL_TABLE_NAME", "Records"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.APIToken == "" {
		return fmt.Errorf("BASE_API_TOKEN is required")
	}

	if c.ServerURL == "" {
		return fmt.Errorf("DTABLE_WEB_SERVICE_URL is required")
	}

	return nil
}

// ValidateMailbox checks the variables the email syncer needs on top of
// the base credentials.
func (c *Config) ValidateMailbox() error {
	if c.EmailServer == "" {
		return fmt.Errorf("EMAIL_SERVER is required")
	}

	if c.EmailUser == "" {
		return fmt.Errorf("EMAIL_USER is required")
	}

	if c.EmailPassword == "" {
		return fmt.Errorf("EMAIL_PASSWORD is required")
	}

	return nil
}

// ValidateJobStore checks the variables the Postgres job store needs.
func (c *Config) ValidateJobStore() error {
	if c.DBPassword == "" {
		return fmt.Errorf("SYNCER_DB_PASSWORD is required")
	}

	if c.EncryptionKeyBase64 == "" {
		return fmt.Errorf("SYNCER_ENCRYPTION_KEY_BASE64 is required")
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", c.Timezone, err)
	}
	return loc, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
