package config

import (
	"errors"
	"fmt"
	"log"

	"github.com/spf13/viper"
)

const (
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
)

type Config struct {
	ServerPort     string `mapstructure:"SERVER_PORT"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	StoreBackend   string `mapstructure:"STORE_BACKEND"`
	BadgerPath     string `mapstructure:"BADGER_PATH"`
	BadgerInMemory bool   `mapstructure:"BADGER_IN_MEMORY"`
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	ClientOrigin   string `mapstructure:"CLIENT_ORIGIN"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`
	AppEnv         string `mapstructure:"APP_ENV"`

	// OTP attempts per second per principal on the HTTP surface.
	OTPVerifyRate  float64 `mapstructure:"OTP_VERIFY_RATE"`
	OTPVerifyBurst int     `mapstructure:"OTP_VERIFY_BURST"`

	TrustCreditAttempts uint `mapstructure:"TRUST_CREDIT_ATTEMPTS"`
}

var defaults = map[string]interface{}{
	"SERVER_PORT":           "8080",
	"DATABASE_URL":          "",
	"STORE_BACKEND":         BackendBadger,
	"BADGER_PATH":           "./data",
	"BADGER_IN_MEMORY":      false,
	"JWT_SECRET":            "",
	"CLIENT_ORIGIN":         "*",
	"LOG_LEVEL":             "info",
	"APP_ENV":               "production",
	"OTP_VERIFY_RATE":       0.2,
	"OTP_VERIFY_BURST":      5,
	"TRUST_CREDIT_ATTEMPTS": 5,
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing .env is fine, the environment alone can configure the service.
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			log.Println("No .env file found.")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL is required for the postgres backend")
		}
	case BackendBadger:
		if !c.BadgerInMemory && c.BadgerPath == "" {
			return errors.New("config: BADGER_PATH is required unless BADGER_IN_MEMORY is set")
		}
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET is required")
	}
	if c.OTPVerifyRate <= 0 || c.OTPVerifyBurst < 1 {
		return errors.New("config: OTP_VERIFY_RATE and OTP_VERIFY_BURST must be positive")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}
