package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig    = "DRIVESYNC_CONFIG"
	EnvAccountID = "DRIVESYNC_ACCOUNT_ID"
	EnvLocalRoot = "DRIVESYNC_LOCAL_ROOT"
)

// EnvOverrides holds values derived from environment variables. These are
// resolved by ReadEnvOverrides; callers apply the relevant fields themselves.
type EnvOverrides struct {
	ConfigPath string // DRIVESYNC_CONFIG: override config file path
	AccountID  string // DRIVESYNC_ACCOUNT_ID: account to sync
	LocalRoot  string // DRIVESYNC_LOCAL_ROOT: local sync directory override
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		AccountID:  os.Getenv(EnvAccountID),
		LocalRoot:  os.Getenv(EnvLocalRoot),
	}
}
