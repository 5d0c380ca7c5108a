// Package config implements TOML configuration loading and platform-specific
// path resolution for drivesync.
package config

// Config is the top-level configuration structure. One Config describes one
// account's engine — drivesync syncs a single account per running instance.
type Config struct {
	Account AccountConfig `toml:"account"`
	Sync    SyncConfig    `toml:"sync"`
	Logging LoggingConfig `toml:"logging"`
	Status  StatusConfig  `toml:"status"`
}

// AccountConfig names the account to sync and where its OAuth2 client
// credentials and saved token live.
type AccountConfig struct {
	AccountID    string `toml:"account_id"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	TokenFile    string `toml:"token_file"`
}

// SyncConfig controls what gets synced and how aggressively.
type SyncConfig struct {
	LocalRoot    string `toml:"local_root"`
	RemoteRootID string `toml:"remote_root_id"`
	StateDBPath  string `toml:"state_db_path"`
	PollInterval string `toml:"poll_interval"`
	QueueDepth   int    `toml:"queue_depth"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogFile   string `toml:"log_file"`
}

// StatusConfig controls the local status-bus WebSocket listener.
type StatusConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}
