/*
Package config loads runtime configuration from the environment.

PURPOSE:
  One Load() call at startup: reads an optional .env file, then the
  process environment, and returns a validated Config. Secrets stay in
  the struct and are never logged.
*/
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config is the full runtime configuration of the server.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// DBPath is the SQLite database path.
	DBPath string

	// AuthSecret signs and verifies identity bearer tokens.
	AuthSecret string

	// ProviderSecretKey authenticates calls to the payment provider.
	ProviderSecretKey string

	// ProviderWebhookSecret verifies webhook signatures.
	ProviderWebhookSecret string

	// PriceIDs maps a plan type to its provider price id.
	PriceIDs map[string]string
}

// Load reads configuration from .env (if present) and the environment.
func Load() (*Config, error) {
	// Missing .env is fine: production supplies real env vars.
	_ = godotenv.Load()

	cfg := &Config{
		Addr:                  getenv("ADDR", ":8080"),
		DBPath:                getenv("DB_PATH", "localspot.db"),
		AuthSecret:            os.Getenv("AUTH_SECRET"),
		ProviderSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		ProviderWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		PriceIDs: map[string]string{
			"premium":   os.Getenv("STRIPE_PRICE_ID_PREMIUM"),
			"giftcards": os.Getenv("STRIPE_PRICE_ID_GIFTCARDS"),
			"loyalty":   os.Getenv("STRIPE_PRICE_ID_LOYALTY"),
		},
	}

	if cfg.AuthSecret == "" {
		return nil, fmt.Errorf("AUTH_SECRET is required")
	}
	if cfg.ProviderSecretKey == "" {
		return nil, fmt.Errorf("STRIPE_SECRET_KEY is required")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
