package config

const (
	defaultStateDir           = "~/.local/share/skimmer"
	defaultDownloadDir        = "~/.local/share/skimmer/downloads"
	defaultLibraryDir         = "~/library"
	defaultLogDir             = "~/.local/share/skimmer/logs"
	defaultPluginDir          = "~/.config/skimmer/plugins"
	defaultAPIBind            = "127.0.0.1:7519"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultQueuePollInterval  = 2
	defaultStagePollInterval  = 1
	defaultMaxRetries         = 3
	defaultMinFreeDiskGiB     = 2
	defaultFetchTimeout       = 60
	defaultRequestsPerHost    = 2.0
	defaultRequestBurst       = 4
	defaultUserAgent          = "skimmer/0.1"
	defaultMaxDownloadBytes   = 512 << 20
	defaultNtfyTimeout        = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:    defaultStateDir,
			DownloadDir: defaultDownloadDir,
			LibraryDir:  defaultLibraryDir,
			LogDir:      defaultLogDir,
			PluginDir:   defaultPluginDir,
			APIBind:     defaultAPIBind,
		},
		Queue: Queue{
			PollInterval: defaultQueuePollInterval,
		},
		Pipeline: Pipeline{
			PollInterval:   defaultStagePollInterval,
			MaxRetries:     defaultMaxRetries,
			MinFreeDiskGiB: defaultMinFreeDiskGiB,
		},
		Modules: Modules{
			ExternalEnabled: true,
		},
		Fetch: Fetch{
			RequestTimeout:   defaultFetchTimeout,
			RequestsPerHost:  defaultRequestsPerHost,
			RequestBurst:     defaultRequestBurst,
			UserAgent:        defaultUserAgent,
			MaxDownloadBytes: defaultMaxDownloadBytes,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyTimeout,
			Jobs:           true,
			Publishes:      true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
