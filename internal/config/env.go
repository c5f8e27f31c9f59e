package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig     = "CALLSYNC_CONFIG"
	EnvServerURL  = "CALLSYNC_SERVER_URL"
	EnvSelfNumber = "CALLSYNC_SELF_NUMBER"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // CALLSYNC_CONFIG: override config file path
	ServerURL  string // CALLSYNC_SERVER_URL: override CRM server root
	SelfNumber string // CALLSYNC_SELF_NUMBER: override self phone number
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. This does not modify the Config; Resolve applies them.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		ServerURL:  os.Getenv(EnvServerURL),
		SelfNumber: os.Getenv(EnvSelfNumber),
	}
}
