// Package config handles application configuration management using Viper
package config

import (
	"fmt"
	"time"

	"github.com/raykavin/deskroute/pkg/core"
	"github.com/spf13/viper"
	str2duration "github.com/xhit/go-str2duration/v2"
)

// Defaults for optional configuration
const (
	DefaultStoragePath = "./deskroute.db"
	DefaultOpenWindow  = "30m"
	DefaultLockWait    = "5s"
	DefaultLogLevel    = "info"
)

// AppConfig holds the application configuration
type AppConfig struct {
	StoragePath string
	LogLevel    string
	OpenWindow  time.Duration
	LockWait    time.Duration
	Telegram    TelegramConfig
	Mail        MailConfig
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	Enabled bool
	Token   string
	Admins  []int
}

// MailConfig holds the optional escalation mailbox configuration
type MailConfig struct {
	Enabled  bool
	Host     string
	Port     int
	From     string
	To       string
	Password string
}

// LoadAppConfig loads application configuration from the environment
func LoadAppConfig() (*AppConfig, error) {
	viper.AutomaticEnv()

	// Set default values
	viper.SetDefault("STORAGE_PATH", DefaultStoragePath)
	viper.SetDefault("OPEN_WINDOW", DefaultOpenWindow)
	viper.SetDefault("LOCK_WAIT", DefaultLockWait)
	viper.SetDefault("LOG_LEVEL", DefaultLogLevel)
	viper.SetDefault("TELEGRAM_ENABLED", true)
	viper.SetDefault("MAIL_ENABLED", false)
	viper.SetDefault("MAIL_PORT", 587)

	openWindow, err := str2duration.ParseDuration(viper.GetString("OPEN_WINDOW"))
	if err != nil {
		return nil, fmt.Errorf("invalid OPEN_WINDOW: %w", err)
	}

	lockWait, err := str2duration.ParseDuration(viper.GetString("LOCK_WAIT"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOCK_WAIT: %w", err)
	}

	config := &AppConfig{
		StoragePath: viper.GetString("STORAGE_PATH"),
		LogLevel:    viper.GetString("LOG_LEVEL"),
		OpenWindow:  openWindow,
		LockWait:    lockWait,
		Telegram: TelegramConfig{
			Enabled: viper.GetBool("TELEGRAM_ENABLED"),
			Token:   viper.GetString("TELEGRAM_TOKEN"),
			Admins:  viper.GetIntSlice("TELEGRAM_ADMINS"),
		},
		Mail: MailConfig{
			Enabled:  viper.GetBool("MAIL_ENABLED"),
			Host:     viper.GetString("MAIL_HOST"),
			Port:     viper.GetInt("MAIL_PORT"),
			From:     viper.GetString("MAIL_FROM"),
			To:       viper.GetString("MAIL_TO"),
			Password: viper.GetString("MAIL_PASSWORD"),
		},
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *AppConfig) validate() error {
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return fmt.Errorf("TELEGRAM_TOKEN is required when the bot is enabled")
	}

	if c.Mail.Enabled && (c.Mail.Host == "" || c.Mail.From == "" || c.Mail.To == "") {
		return fmt.Errorf("MAIL_HOST, MAIL_FROM and MAIL_TO are required when mail is enabled")
	}

	return nil
}

// Settings converts the loaded configuration into engine settings
func (c *AppConfig) Settings() *core.Settings {
	return &core.Settings{
		OpenWindow: c.OpenWindow,
		LockWait:   c.LockWait,
		Telegram: core.TelegramSettings{
			Enabled: c.Telegram.Enabled,
			Token:   c.Telegram.Token,
			Admins:  c.Telegram.Admins,
		},
	}
}
