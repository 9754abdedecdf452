package config_test

import (
	"testing"

	"github.com/ruhrdata/regiolake/config"
	"github.com/stretchr/testify/require"
)

func TestConfig_SourceConfigForEnv(t *testing.T) {
	tests := []struct {
		env     string
		want    *config.SourceConfig
		wantErr error
	}{
		{
			env: config.EnvRegionalstatistik,
			want: &config.SourceConfig{
				Moniker: config.EnvRegionalstatistik,
				Label:   config.RegionalstatistikLabel,
				BaseURL: config.RegionalstatistikBaseURL,
			},
		},
		{
			env: config.EnvGenesis,
			want: &config.SourceConfig{
				Moniker: config.EnvGenesis,
				Label:   config.GenesisLabel,
				BaseURL: config.GenesisBaseURL,
			},
		},
		{
			env: config.EnvNRW,
			want: &config.SourceConfig{
				Moniker: config.EnvNRW,
				Label:   config.NRWLabel,
				BaseURL: config.NRWBaseURL,
			},
		},
		{
			env:     "invalid",
			wantErr: config.ErrInvalidEnvironment,
		},
	}

	for _, test := range tests {
		t.Run(test.env, func(t *testing.T) {
			t.Setenv("GENESIS_USERNAME", "")
			t.Setenv("GENESIS_PASSWORD", "")
			t.Setenv("REGIOLAKE_SOURCE_URL", "")

			got, err := config.SourceConfigForEnv(test.env)
			if test.wantErr != nil {
				require.ErrorIs(t, err, test.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.want, got)
		})
	}

	t.Run("env_overrides", func(t *testing.T) {
		t.Setenv("GENESIS_USERNAME", "user")
		t.Setenv("GENESIS_PASSWORD", "secret")
		t.Setenv("REGIOLAKE_SOURCE_URL", "http://localhost:8089/rest")

		got, err := config.SourceConfigForEnv(config.EnvGenesis)
		require.NoError(t, err)
		require.Equal(t, "http://localhost:8089/rest", got.BaseURL)
		require.Equal(t, "user", got.Username)
		require.Equal(t, "secret", got.Password)
	})
}
