package config

const (
	defaultConfigPath            = "~/.config/flowscribe/config.toml"
	defaultDataDir               = "~/.local/share/flowscribe"
	defaultLogDir                = "~/.local/share/flowscribe/logs"
	defaultAPIBind               = "127.0.0.1:7491"
	defaultThrottleMS            = 500
	defaultIdleTimeoutMS         = 1000
	defaultLargePayloadWarnBytes = 1 << 20
	defaultQuotaBytes            = 50 << 20
	defaultHistoryMaxEntries     = 100
	defaultNotifyRequestTimeout  = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Storage: Storage{
			ThrottleMS:            defaultThrottleMS,
			WorkerEnabled:         true,
			IdleTimeoutMS:         defaultIdleTimeoutMS,
			LargePayloadWarnBytes: defaultLargePayloadWarnBytes,
			QuotaBytes:            defaultQuotaBytes,
		},
		History: History{
			MaxEntries: defaultHistoryMaxEntries,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Quota:          true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
