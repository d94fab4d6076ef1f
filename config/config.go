// Package config loads and watches the listsync configuration.
package config

// Config represents the core listsync configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Mailer   MailerConfig   `mapstructure:"mailer"`
	Log      LogConfig      `mapstructure:"log"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// MailerConfig configures the remote mailing-list API client
type MailerConfig struct {
	BaseURL string `mapstructure:"base_url"` // e.g. "https://us1.api.mailerhost.com/3.0"
	APIKey  string `mapstructure:"api_key"`  // env LISTSYNC_MAILER_API_KEY preferred over file

	// PageSize is the member count requested per collect page.
	PageSize int `mapstructure:"page_size"`

	// RateLimit caps outbound requests per second. 0 disables the limiter.
	RateLimit float64 `mapstructure:"rate_limit"`

	// TimeoutSeconds bounds a single HTTP request. The engine adds no
	// timeout of its own; a slow remote fails the whole step.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`

	// AllowPrivateHosts disables the private-IP guard on outbound
	// requests. Only for talking to a mailer on a private network.
	AllowPrivateHosts bool `mapstructure:"allow_private_hosts"`
}

// LogConfig configures logger output
type LogConfig struct {
	JSON bool `mapstructure:"json"`
}

// Default values applied when the config file omits a key
const (
	DefaultDatabasePath   = "listsync.db"
	DefaultPageSize       = 1000
	DefaultRateLimit      = 10.0
	DefaultTimeoutSeconds = 30
)
