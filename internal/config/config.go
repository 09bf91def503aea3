package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// MinMasterSecretLength is the shortest master secret the cipher and the
// token signer will accept.
const MinMasterSecretLength = 32

var (
	ErrMissingMasterSecret  = errors.New("master encryption secret is missing or shorter than 32 characters")
	ErrMissingSigningSecret = errors.New("master signing secret is missing or shorter than 32 characters")
)

// LoadConfig loads the configuration and sets default values for development/production
func LoadConfig() error {
	// .env is optional; environment variables win over the config file
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("NWC")
	viper.AutomaticEnv()
	if err := viper.BindEnv("master_secret", "NWC_MASTER_SECRET"); err != nil {
		return err
	}
	if err := viper.BindEnv("signing_secret", "NWC_SIGNING_SECRET"); err != nil {
		return err
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create a default one
			return createDefaultConfig()
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	setDefaults()

	return nil
}

// setDefaults sets default configuration values based on the environment
func setDefaults() {
	env := viper.GetString("ENV")
	if env == "" {
		env = "development"
		viper.Set("ENV", env)
	}

	if env == "development" {
		viper.SetDefault("allowed_origin", "http://localhost:3000")
		viper.SetDefault("db_path", "./dev_directory.db")
		viper.SetDefault("nonce_db_path", "./dev_nonces.db")
		viper.SetDefault("log_file", "./nwc-billing.log")
		viper.SetDefault("log_level", "debug")
	} else if env == "production" {
		viper.SetDefault("allowed_origin", "https://my-production-site.com")
		viper.SetDefault("db_path", "/var/lib/nwc-billing/directory.db")
		viper.SetDefault("nonce_db_path", "/var/lib/nwc-billing/nonces.db")
		viper.SetDefault("log_file", "/var/log/nwc-billing.log")
		viper.SetDefault("log_level", "info")
	}

	// Common defaults for both environments
	viper.SetDefault("api_port", 9004)
	viper.SetDefault("use_https", false)
	viper.SetDefault("cert_file", "server.crt")
	viper.SetDefault("key_file", "server.key")
	viper.SetDefault("lnurl_timeout", "10s")
	viper.SetDefault("relay_timeout", "30s")
	viper.SetDefault("require_signed_requests", false)
	viper.SetDefault("blocked_ips", []string{})
	viper.SetDefault("rate_limit_cleanup_interval", "1h")

	// Hourly/daily ceilings per credential operation
	viper.SetDefault("rate_limits.store.hourly", 5)
	viper.SetDefault("rate_limits.store.daily", 20)
	viper.SetDefault("rate_limits.access.hourly", 10)
	viper.SetDefault("rate_limits.access.daily", 50)
	viper.SetDefault("rate_limits.remove.hourly", 5)
	viper.SetDefault("rate_limits.remove.daily", 20)
	viper.SetDefault("rate_limits.payment.hourly", 20)
	viper.SetDefault("rate_limits.payment.daily", 100)
}

// createDefaultConfig creates a new configuration file if it doesn't exist
func createDefaultConfig() error {
	setDefaults()

	err := viper.SafeWriteConfig()
	if err != nil {
		if os.IsExist(err) {
			// If the config already exists, attempt to overwrite it
			err = viper.WriteConfig()
			if err != nil {
				return fmt.Errorf("error writing config file: %w", err)
			}
		} else {
			return fmt.Errorf("error creating config file: %w", err)
		}
	}

	fmt.Println("Created default configuration file")
	return nil
}

// ValidateSecrets checks the master secrets at startup. Absence is a fatal
// configuration error, never a per-request one.
func ValidateSecrets() error {
	if len(viper.GetString("master_secret")) < MinMasterSecretLength {
		return ErrMissingMasterSecret
	}
	if len(viper.GetString("signing_secret")) < MinMasterSecretLength {
		return ErrMissingSigningSecret
	}
	return nil
}
