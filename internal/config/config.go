package config

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type Config struct {
	ServerAddr string `validate:"required"`

	Store         string `validate:"oneof=memory postgres sqlite mongo badger"`
	DatabaseDSN   string `validate:"required_if=Store postgres"`
	SQLitePath    string `validate:"required_if=Store sqlite"`
	MongoURI      string `validate:"required_if=Store mongo"`
	MongoDatabase string `validate:"required_if=Store mongo"`
	BadgerPath    string `validate:"required_if=Store badger"`

	Presence     string        `validate:"oneof=memory redis"`
	RedisURL     string        `validate:"required_if=Presence redis"`
	TypingExpiry time.Duration `validate:"gt=0"`

	// SigningSecret is the base64 encoded form of SigningKey.
	SigningSecret  string `validate:"required"`
	SigningKey     []byte `validate:"-"`
	AllowedOrigins []string
	RequireSession bool
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

// NewConfig validates c and decodes its signing secret.
func NewConfig(c Config) (*Config, error) {
	if err := validate.Struct(c); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	signingKey, err := decodeSigningSecret(c.SigningSecret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	c.SigningKey = signingKey
	return &c, nil
}
