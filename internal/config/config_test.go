package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_UsesBillingServiceInternalAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "INTERNAL_API_KEY")
	setEnvWithCleanup(t, "BILLING_SERVICE_INTERNAL_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "alias-only-key" {
		t.Fatalf("expected InternalAPIKey from alias env var, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_InternalAPIKeyTakesPrecedenceOverAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "INTERNAL_API_KEY", "primary-key")
	setEnvWithCleanup(t, "BILLING_SERVICE_INTERNAL_API_KEY", "alias-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "primary-key" {
		t.Fatalf("expected InternalAPIKey to prioritize INTERNAL_API_KEY, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "SIGNUP_BONUS_CREDITS")
	unsetEnvWithCleanup(t, "SWEEP_SCHEDULE")
	unsetEnvWithCleanup(t, "SPEND_RATE_LIMIT_PER_MINUTE")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.SignupBonusCredits != 25 {
		t.Fatalf("expected default signup bonus of 25, got %d", cfg.SignupBonusCredits)
	}
	if cfg.SweepSchedule != "*/5 * * * *" {
		t.Fatalf("expected default sweep schedule, got %q", cfg.SweepSchedule)
	}
	if cfg.SpendRateLimitPerMinute != 120 {
		t.Fatalf("expected default spend rate limit of 120, got %d", cfg.SpendRateLimitPerMinute)
	}
}

func TestLoadConfig_NegativeSignupBonusCoercedToZero(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SIGNUP_BONUS_CREDITS", "-10")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.SignupBonusCredits != 0 {
		t.Fatalf("expected negative bonus coerced to 0, got %d", cfg.SignupBonusCredits)
	}
}

func TestLoadConfig_ClerkAudienceAndIssuer(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "CLERK_AUDIENCE", "billing-frontend")
	setEnvWithCleanup(t, "CLERK_ISSUER", "https://clerk.jobtrail.example")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ClerkAudience != "billing-frontend" {
		t.Fatalf("expected ClerkAudience from env, got %q", cfg.ClerkAudience)
	}
	if cfg.ClerkIssuer != "https://clerk.jobtrail.example" {
		t.Fatalf("expected ClerkIssuer from env, got %q", cfg.ClerkIssuer)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
