package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Secrets holds credentials that never live in the YAML file.
type Secrets struct {
	CoinalyzeAPIKey   string
	ExchangeAPIKey    string
	ExchangeSecretKey string
	HLPrivateKey      string
	HLWalletAddress   string
	HLVaultAddress    string
}

// LoadEnv reads a .env file into the process environment.
// Missing files are ignored and variables already set are left alone.
func LoadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

func SecretsFromEnv() Secrets {
	return Secrets{
		CoinalyzeAPIKey:   envValue("COINALYZE_SECRET_API_KEY"),
		ExchangeAPIKey:    envValue("EXCHANGE_API_KEY"),
		ExchangeSecretKey: envValue("EXCHANGE_SECRET_KEY"),
		HLPrivateKey:      envValue("HL_PRIVATE_KEY"),
		HLWalletAddress:   envValue("HL_WALLET_ADDRESS"),
		HLVaultAddress:    envValue("HL_VAULT_ADDRESS"),
	}
}

func (s Secrets) Validate(exchangeName string) error {
	if s.CoinalyzeAPIKey == "" {
		return errors.New("COINALYZE_SECRET_API_KEY is required")
	}
	switch exchangeName {
	case ExchangeHyperliquid:
		if s.HLPrivateKey == "" {
			return errors.New("HL_PRIVATE_KEY is required for hyperliquid")
		}
	default:
		if s.ExchangeAPIKey == "" || s.ExchangeSecretKey == "" {
			return errors.New("EXCHANGE_API_KEY and EXCHANGE_SECRET_KEY are required")
		}
	}
	return nil
}

func envValue(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
