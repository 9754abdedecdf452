package config

import (
	"fmt"
	"os"
)

const (
	EnvRegionalstatistik = "regionalstatistik"
	EnvGenesis           = "genesis"
	EnvNRW               = "nrw"
)

var (
	ErrInvalidEnvironment = fmt.Errorf("invalid environment")
)

// SourceConfig describes an upstream statistics API.
type SourceConfig struct {
	Moniker  string
	Label    string
	BaseURL  string
	Username string
	Password string
}

// SourceConfigForEnv returns the upstream API settings for env. Credentials are
// read from GENESIS_USERNAME / GENESIS_PASSWORD, and REGIOLAKE_SOURCE_URL
// overrides the base URL.
func SourceConfigForEnv(env string) (*SourceConfig, error) {
	var config *SourceConfig
	switch env {
	case EnvRegionalstatistik:
		config = &SourceConfig{
			Moniker: EnvRegionalstatistik,
			Label:   RegionalstatistikLabel,
			BaseURL: RegionalstatistikBaseURL,
		}
	case EnvGenesis:
		config = &SourceConfig{
			Moniker: EnvGenesis,
			Label:   GenesisLabel,
			BaseURL: GenesisBaseURL,
		}
	case EnvNRW:
		config = &SourceConfig{
			Moniker: EnvNRW,
			Label:   NRWLabel,
			BaseURL: NRWBaseURL,
		}
	default:
		return nil, ErrInvalidEnvironment
	}

	if baseURL := os.Getenv("REGIOLAKE_SOURCE_URL"); baseURL != "" {
		config.BaseURL = baseURL
	}
	config.Username = os.Getenv("GENESIS_USERNAME")
	config.Password = os.Getenv("GENESIS_PASSWORD")

	return config, nil
}
