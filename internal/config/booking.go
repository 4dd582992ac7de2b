package config

import (
	"time"

	"github.com/spf13/viper"
)

// BookingConfig carries the tunables of the seat-lock and webhook
// reconciliation paths.
type BookingConfig struct {
	LockTTLDefault   time.Duration // lease TTL applied when the client does not ask for one
	LockTTLMax       time.Duration // upper bound on client-requested lease TTLs
	WebhookRetention time.Duration // how long processed-event markers are kept
	DefaultCurrency  string
}

// ProviderConfig holds per-provider webhook secrets and the host used
// to build payment callback URLs.
type ProviderConfig struct {
	FlutterwaveSecret string
	MTNSecret         string
	AirtelSecret      string
	CallbackHost      string
}

// LoadBookingConfig reads booking settings with defaults.
func LoadBookingConfig() *BookingConfig {
	viper.SetDefault("booking.lock_ttl_default", 5*time.Minute)
	viper.SetDefault("booking.lock_ttl_max", 15*time.Minute)
	viper.SetDefault("booking.webhook_retention", 24*time.Hour)
	viper.SetDefault("booking.default_currency", "UGX")

	return &BookingConfig{
		LockTTLDefault:   viper.GetDuration("booking.lock_ttl_default"),
		LockTTLMax:       viper.GetDuration("booking.lock_ttl_max"),
		WebhookRetention: viper.GetDuration("booking.webhook_retention"),
		DefaultCurrency:  viper.GetString("booking.default_currency"),
	}
}

// LoadProviderConfig reads payment provider secrets. Empty secrets make
// the corresponding adapter reject every webhook signature.
func LoadProviderConfig() *ProviderConfig {
	viper.SetDefault("payments.callback_host", "http://localhost:8080")

	return &ProviderConfig{
		FlutterwaveSecret: viper.GetString("payments.flutterwave_secret"),
		MTNSecret:         viper.GetString("payments.mtn_secret"),
		AirtelSecret:      viper.GetString("payments.airtel_secret"),
		CallbackHost:      viper.GetString("payments.callback_host"),
	}
}
