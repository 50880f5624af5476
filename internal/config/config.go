/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the billing-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                string `mapstructure:"SERVER_PORT"`
	DatabaseURL               string `mapstructure:"DATABASE_URL"`
	RedisURL                  string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix      string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL               string `mapstructure:"RABBITMQ_URL"`
	UserEventQueue            string `mapstructure:"USER_EVENT_QUEUE"`
	StripeWebhookSecret       string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	ClerkJWKSURL              string `mapstructure:"CLERK_JWKS_URL"`
	ClerkAudience             string `mapstructure:"CLERK_AUDIENCE"`
	ClerkIssuer               string `mapstructure:"CLERK_ISSUER"`
	InternalAPIKey            string `mapstructure:"INTERNAL_API_KEY"`
	CORSAllowedOrigins        string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	SignupBonusCredits        int64  `mapstructure:"SIGNUP_BONUS_CREDITS"`
	SpendRateLimitPerMinute   int    `mapstructure:"SPEND_RATE_LIMIT_PER_MINUTE"`
	WebhookRateLimitPerMinute int    `mapstructure:"WEBHOOK_RATE_LIMIT_PER_MINUTE"`
	SweepSchedule             string `mapstructure:"SWEEP_SCHEDULE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("USER_EVENT_QUEUE", "billing_service.user_events")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "jobtrail:billing:rate_limit")
	viper.SetDefault("SIGNUP_BONUS_CREDITS", 25)
	viper.SetDefault("SPEND_RATE_LIMIT_PER_MINUTE", 120)
	viper.SetDefault("WEBHOOK_RATE_LIMIT_PER_MINUTE", 600)
	viper.SetDefault("SWEEP_SCHEDULE", "*/5 * * * *")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "BILLING_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("USER_EVENT_QUEUE")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SECRET")
	_ = viper.BindEnv("CLERK_JWKS_URL")
	_ = viper.BindEnv("CLERK_AUDIENCE")
	_ = viper.BindEnv("CLERK_ISSUER")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "BILLING_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("SIGNUP_BONUS_CREDITS")
	_ = viper.BindEnv("SPEND_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("WEBHOOK_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("SWEEP_SCHEDULE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("BILLING_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "jobtrail:billing:rate_limit"
	}
	config.StripeWebhookSecret = strings.TrimSpace(config.StripeWebhookSecret)

	if config.SignupBonusCredits < 0 {
		log.Printf("level=warn component=config msg=\"negative signup bonus configured; coercing to zero\" credits=%d", config.SignupBonusCredits)
		config.SignupBonusCredits = 0
	}
	if config.SpendRateLimitPerMinute <= 0 {
		config.SpendRateLimitPerMinute = 120
	}
	if config.WebhookRateLimitPerMinute <= 0 {
		config.WebhookRateLimitPerMinute = 600
	}
	if strings.TrimSpace(config.SweepSchedule) == "" {
		config.SweepSchedule = "*/5 * * * *"
	}

	return
}
