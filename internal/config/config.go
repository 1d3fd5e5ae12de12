package config

import (
	"fmt"
	"strings"
	"time"
)

// Config represents the application configuration shared by the bot, web and cli binaries
type Config struct {
	Environment string          `yaml:"environment" default:"local"` // local, dev, prod
	Database    DatabaseConfig  `yaml:"database"`
	Directory   DirectoryConfig `yaml:"directory"`
	Telegram    TelegramConfig  `yaml:"telegram"`
	Web         WebConfig       `yaml:"web"`
	Session     SessionConfig   `yaml:"session"`
	OTP         OTPConfig       `yaml:"otp"`
	SMTP        SMTPConfig      `yaml:"smtp"`
	Security    SecurityConfig  `yaml:"security"`
	Logging     LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver   string         `yaml:"driver" default:"postgres"` // postgres, memory
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific configuration
type PostgresConfig struct {
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"5432"`
	Database string `yaml:"database" default:"passgate"`
	User     string `yaml:"user" default:"postgres"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode" default:"disable"` // disable, require, verify-ca, verify-full
}

// DirectoryConfig holds the LDAP / Active Directory connection settings
type DirectoryConfig struct {
	Server             string        `yaml:"server"`
	Port               int           `yaml:"port" default:"389"`
	UseSSL             bool          `yaml:"use_ssl"`
	StartTLS           bool          `yaml:"start_tls"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	RequestDomain      string        `yaml:"request_domain"`    // appended to logins without a suffix
	SupportedDomains   []string      `yaml:"supported_domains"` // suffixes accepted from users
	AdminUser          string        `yaml:"admin_user"`
	AdminPassword      string        `yaml:"admin_password"`
	UserBase           string        `yaml:"user_base"`
	Timeout            time.Duration `yaml:"timeout" default:"10s"`
}

// TelegramConfig holds chat bot settings
type TelegramConfig struct {
	Token           string        `yaml:"token"`
	BotURL          string        `yaml:"bot_url"`           // e.g. https://t.me/passgate_bot
	DeveloperChatID int64         `yaml:"developer_chat_id"` // receives unexpected error reports
	MetricsAddr     string        `yaml:"metrics_addr"`      // optional :9102 style listen address
	PollTimeout     int           `yaml:"poll_timeout" default:"60"`
	SessionIdleTTL  time.Duration `yaml:"session_idle_ttl" default:"30m"`
}

// WebConfig holds the web portal settings
type WebConfig struct {
	Host           string `yaml:"host" default:"0.0.0.0"`
	Port           int    `yaml:"port" default:"8080"`
	BaseURL        string `yaml:"base_url"` // public portal URL linked from chat and email notices
	TemplatesPath  string `yaml:"templates_path" default:"web/templates"`
	StaticPath     string `yaml:"static_path" default:"web/static"`
	TLSCertificate string `yaml:"tls_certificate"`
	TLSPrivateKey  string `yaml:"tls_private_key"`
	Production     bool   `yaml:"production"`
}

// SessionConfig holds browser session settings
type SessionConfig struct {
	Secret  string        `yaml:"secret"`
	MaxTime time.Duration `yaml:"max_time" default:"1h"`
}

// OTPConfig holds time-based one-time password settings
type OTPConfig struct {
	Issuer string `yaml:"issuer" default:"passgate"`
	Skew   uint   `yaml:"skew" default:"1"`
}

// SMTPConfig holds outbound email settings
type SMTPConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" default:"587"`
	From     string `yaml:"from"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SecurityConfig holds at-rest encryption settings
type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"` // 32 bytes, base64; seals otp secrets when set
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level" default:"info"`
	Format string `yaml:"format" default:"text"` // text, json
	File   string `yaml:"file"`
}

// ConnectionString returns the PostgreSQL connection string
func (p *PostgresConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

// URL returns the ldap:// or ldaps:// address of the directory server
func (d *DirectoryConfig) URL() string {
	scheme := "ldap"
	if d.UseSSL {
		scheme = "ldaps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, d.Server, d.Port)
}

// IsSupportedDomain reports whether a login suffix is on the allow-list.
// The request domain itself is always accepted.
func (d *DirectoryConfig) IsSupportedDomain(domain string) bool {
	if strings.EqualFold(domain, d.RequestDomain) {
		return true
	}
	for _, allowed := range d.SupportedDomains {
		if strings.EqualFold(domain, allowed) {
			return true
		}
	}
	return false
}

// Address returns the host:port the web server listens on
func (w *WebConfig) Address() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// IsProduction reports whether the environment is prod
func (c *Config) IsProduction() bool {
	return c.Environment == "prod" || c.Web.Production
}
