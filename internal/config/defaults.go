package config

// Default values for configuration options not supplied in the config file.
const (
	defaultPollInterval = "8s"
	defaultQueueDepth   = 256
	defaultLogLevel     = "info"
	defaultLogFormat    = "auto"
	defaultStatusListen = "127.0.0.1:41830"
)

// DefaultConfig returns a Config populated with default values, used both as
// the decode target (so unset TOML keys keep their default) and as the
// fallback when no config file exists yet.
func DefaultConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			PollInterval: defaultPollInterval,
			QueueDepth:   defaultQueueDepth,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Status: StatusConfig{
			Enabled: true,
			Listen:  defaultStatusListen,
		},
	}
}
