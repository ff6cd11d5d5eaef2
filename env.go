package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

type EnvConfig struct {
	ListenAddr string        `validate:"required"`
	LogLevel   string        `validate:"oneof=debug info warn error"`
	LogFile    string
	JWTSecret  string        `validate:"required"`
	TokenTTL   time.Duration `validate:"gte=0"`
	PINScheme  string        `validate:"oneof=plain bcrypt"`
	BcryptCost int           `validate:"min=4,max=31"`
}

func GetEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}

	return defaultVal
}

// LoadEnvConfig reads an optional .env file and then the process
// environment. Values already set in the environment win over .env.
func LoadEnvConfig() (EnvConfig, error) {
	_ = godotenv.Load()

	ttl, err := time.ParseDuration(GetEnv("TOKEN_TTL", "0s"))
	if err != nil {
		return EnvConfig{}, fmt.Errorf("TOKEN_TTL: %w", err)
	}

	cost, err := strconv.Atoi(GetEnv("BCRYPT_COST", strconv.Itoa(bcrypt.DefaultCost)))
	if err != nil {
		return EnvConfig{}, fmt.Errorf("BCRYPT_COST: %w", err)
	}

	cfg := EnvConfig{
		ListenAddr: GetEnv("LISTEN_ADDR", ":8000"),
		LogLevel:   GetEnv("LOG_LEVEL", "info"),
		LogFile:    GetEnv("LOG_FILE", ""),
		JWTSecret:  GetEnv("JWT_SECRET", "mysecretkey"),
		TokenTTL:   ttl,
		PINScheme:  GetEnv("PIN_SCHEME", PINSchemePlain),
		BcryptCost: cost,
	}
	return cfg, cfg.Validate()
}

func (c EnvConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
