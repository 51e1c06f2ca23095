package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadAppConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Setenv("TELEGRAM_TOKEN", "test-token")

	cfg, err := LoadAppConfig()
	require.NoError(t, err)

	require.Equal(t, DefaultStoragePath, cfg.StoragePath)
	require.Equal(t, 30*time.Minute, cfg.OpenWindow)
	require.Equal(t, 5*time.Second, cfg.LockWait)
	require.True(t, cfg.Telegram.Enabled)
}

func TestLoadAppConfig_MissingToken(t *testing.T) {
	viper.Reset()

	_, err := LoadAppConfig()
	require.Error(t, err)
}

func TestLoadAppConfig_InvalidWindow(t *testing.T) {
	viper.Reset()
	t.Setenv("TELEGRAM_TOKEN", "test-token")
	t.Setenv("OPEN_WINDOW", "not-a-duration")

	_, err := LoadAppConfig()
	require.Error(t, err)
}

func TestSettings_Conversion(t *testing.T) {
	viper.Reset()
	t.Setenv("TELEGRAM_TOKEN", "test-token")
	t.Setenv("OPEN_WINDOW", "1h")

	cfg, err := LoadAppConfig()
	require.NoError(t, err)

	settings := cfg.Settings()
	require.Equal(t, time.Hour, settings.OpenWindow)
	require.Equal(t, "test-token", settings.Telegram.Token)
}
