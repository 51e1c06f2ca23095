package core

import "time"

// Settings represents the main configuration for the application
type Settings struct {
	OpenWindow time.Duration    // Age under which a ledger record still counts as an open conversation
	LockWait   time.Duration    // Bounded wait for the dispatch exclusive section
	Telegram   TelegramSettings // Telegram bot settings
}

// TelegramSettings holds configuration for the Telegram surface
type TelegramSettings struct {
	Enabled bool   // Whether the Telegram bot is enabled
	Token   string // Telegram bot token
	Admins  []int  // User IDs allowed to run administrative commands
}
