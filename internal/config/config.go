package config

import (
	"github.com/kelseyhightower/envconfig"
)

// Config holds all environment-driven settings for the booking API.
type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	RedisURL    string `envconfig:"REDIS_URL"`
	JWTSecret   string `envconfig:"JWT_SECRET" required:"true"`

	// Wompi gateway
	WompiBaseURL         string `envconfig:"WOMPI_BASE_URL" default:"https://sandbox.wompi.co/v1/"`
	WompiPublicKey       string `envconfig:"WOMPI_PUBLIC_KEY" required:"true"`
	WompiPrivateKey      string `envconfig:"WOMPI_PRIVATE_KEY" required:"true"`
	WompiIntegritySecret string `envconfig:"WOMPI_INTEGRITY_SECRET" required:"true"`
	WompiTokenTTLMinutes int    `envconfig:"WOMPI_TOKEN_TTL_MINUTES" default:"30"`
	WompiTimeoutSeconds  int    `envconfig:"WOMPI_TIMEOUT_SECONDS" default:"30"`
}

// Load populates the config from environment variables.
func Load() (Config, error) {
	var c Config
	err := envconfig.Process("", &c)
	return c, err
}
