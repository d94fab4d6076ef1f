package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", DefaultDatabasePath)

	// Mailer defaults
	v.SetDefault("mailer.base_url", "")
	v.SetDefault("mailer.page_size", DefaultPageSize)
	v.SetDefault("mailer.rate_limit", DefaultRateLimit)
	v.SetDefault("mailer.timeout_seconds", DefaultTimeoutSeconds)
	v.SetDefault("mailer.allow_private_hosts", false)

	// Log defaults
	v.SetDefault("log.json", false)
}

// BindSensitiveEnvVars binds secrets to environment variables so they
// never need to live in the config file.
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("mailer.api_key", "LISTSYNC_MAILER_API_KEY")
}
