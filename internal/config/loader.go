package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// expandEnvVars expands environment variables in the format ${VAR} or $VAR
func expandEnvVars(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}

// DefaultConfigPaths defines the default locations to search for configuration files
var DefaultConfigPaths = []string{
	"./config.yaml",
	"./config.yml",
	"./configs/config.yaml",
	"./configs/development.yaml",
	"/etc/passgate/config.yaml",
	"/etc/passgate/config.yml",
}

// Defaults returns a configuration populated with default values
func Defaults() *Config {
	return &Config{
		Environment: "local",
		Database: DatabaseConfig{
			Driver: "postgres",
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "passgate",
				User:     "postgres",
				SSLMode:  "disable",
			},
		},
		Directory: DirectoryConfig{
			Port:    389,
			Timeout: 10 * time.Second,
		},
		Telegram: TelegramConfig{
			PollTimeout:    60,
			SessionIdleTTL: 30 * time.Minute,
		},
		Web: WebConfig{
			Host:          "0.0.0.0",
			Port:          8080,
			TemplatesPath: "web/templates",
			StaticPath:    "web/static",
		},
		Session: SessionConfig{
			MaxTime: time.Hour,
		},
		OTP: OTPConfig{
			Issuer: "passgate",
			Skew:   1,
		},
		SMTP: SMTPConfig{
			Port: 587,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads the configuration from the specified file or default locations.
// A .env file in the working directory is loaded into the environment first.
func Load(configPath string) (*Config, error) {
	// Missing .env is fine; anything already in the environment wins
	_ = godotenv.Load()

	config := Defaults()

	if configPath == "" {
		configPath = findConfigFile()
	}

	if configPath != "" && fileExists(configPath) {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		data = expandEnvVars(data)

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if configPath != "" {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	}

	if err := validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// Parse loads configuration from raw YAML on top of the defaults
func Parse(data []byte) (*Config, error) {
	config := Defaults()
	if err := yaml.Unmarshal(expandEnvVars(data), config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// findConfigFile searches for a configuration file in default locations
func findConfigFile() string {
	for _, path := range DefaultConfigPaths {
		if fileExists(path) {
			return path
		}
	}
	return ""
}

// fileExists checks if a file exists and is not a directory
func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// validate performs basic validation on the configuration
func validate(config *Config) error {
	switch config.Database.Driver {
	case "postgres":
		if config.Database.Postgres.Host == "" {
			return fmt.Errorf("postgres host is required")
		}
		if config.Database.Postgres.Database == "" {
			return fmt.Errorf("postgres database name is required")
		}
		if config.Database.Postgres.User == "" {
			return fmt.Errorf("postgres user is required")
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver must be postgres or memory, got %q", config.Database.Driver)
	}

	if config.Directory.RequestDomain == "" {
		return fmt.Errorf("directory.request_domain is required")
	}
	if config.Directory.UseSSL && config.Directory.StartTLS {
		return fmt.Errorf("directory.use_ssl and directory.start_tls are mutually exclusive")
	}

	if config.Web.Port < 1 || config.Web.Port > 65535 {
		return fmt.Errorf("web.port must be between 1 and 65535")
	}
	if config.Web.BaseURL != "" {
		u, err := url.Parse(config.Web.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("web.base_url must be an absolute http(s) URL, got %q", config.Web.BaseURL)
		}
	}
	if config.Session.MaxTime <= 0 {
		return fmt.Errorf("session.max_time must be positive")
	}
	if config.OTP.Issuer == "" {
		return fmt.Errorf("otp.issuer is required")
	}

	if config.Security.EncryptionKey != "" {
		key, err := base64.StdEncoding.DecodeString(config.Security.EncryptionKey)
		if err != nil {
			return fmt.Errorf("security.encryption_key must be base64: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("security.encryption_key must decode to 32 bytes, got %d", len(key))
		}
	}

	if config.SMTP.Enabled && (config.SMTP.Host == "" || config.SMTP.From == "") {
		return fmt.Errorf("smtp.host and smtp.from are required when smtp is enabled")
	}

	return nil
}
