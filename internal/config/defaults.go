package config

const (
	QueueBackendSQLite   = "sqlite"
	QueueBackendRabbitMQ = "rabbitmq"

	BlobBackendLocal = "local"
	BlobBackendGCS   = "gcs"

	StoreBackendSQLite   = "sqlite"
	StoreBackendPostgres = "postgres"
)

const (
	defaultConfigPath             = "~/.config/opal/config.toml"
	defaultDataDir                = "~/.local/share/opal"
	defaultLogDir                 = "~/.local/share/opal/logs"
	defaultBlobRoot               = "~/.local/share/opal/blobs"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLockDuration           = 60
	defaultMaxDeliveryCount       = 5
	defaultReceiveBatch           = 10
	defaultReceiveWait            = 5
	defaultPollIntervalMillis     = 250
	defaultGrantTTL               = 3600
	defaultBlobRequestTimeout     = 60
	defaultRawContainer           = "raw"
	defaultOutputsContainer       = "outputs"
	defaultBackgroundProvider     = "chromakey"
	defaultSceneProvider          = "studio"
	defaultUpscaleProvider        = "lanczos"
	defaultProviderRequestTimeout = 120
	defaultRemoveBGURL            = "https://api.remove.bg/v1.0/removebg"
	defaultScenePrompt            = "clean studio backdrop, soft shadows, product photography"
	defaultSceneWidth             = 1024
	defaultSceneHeight            = 1024
	defaultProductScale           = 0.6
	defaultChromaTolerance        = 0.12
	defaultUpscaleFactor          = 2
	defaultParallelism            = 4
	defaultErrorRetryInterval     = 5
	defaultKeepAliveCap           = 600
	defaultRetryAttempts          = 3
	defaultRetryInitialMillis     = 1000
	defaultRetryMaxMillis         = 5000
	defaultShutdownTimeout        = 30
	defaultDownloadTTL            = 86400
	defaultExportRequestTimeout   = 10
	defaultKafkaTopic             = "opal.exports"
	defaultRedisTTL               = 86400
	defaultRedisKeyPrefix         = "opal"
	defaultAPIBind                = "127.0.0.1:7610"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Queue: Queue{
			Backend:          QueueBackendSQLite,
			LockDuration:     defaultLockDuration,
			MaxDeliveryCount: defaultMaxDeliveryCount,
			ReceiveBatch:     defaultReceiveBatch,
			ReceiveWait:      defaultReceiveWait,
			PollInterval:     defaultPollIntervalMillis,
		},
		Blob: Blob{
			Backend:          BlobBackendLocal,
			Root:             defaultBlobRoot,
			GrantTTL:         defaultGrantTTL,
			RequestTimeout:   defaultBlobRequestTimeout,
			RawContainer:     defaultRawContainer,
			OutputsContainer: defaultOutputsContainer,
		},
		Store: Store{
			Backend: StoreBackendSQLite,
		},
		Providers: Providers{
			Background:      defaultBackgroundProvider,
			Scene:           defaultSceneProvider,
			Upscale:         defaultUpscaleProvider,
			RequestTimeout:  defaultProviderRequestTimeout,
			RemoveBGURL:     defaultRemoveBGURL,
			ScenePrompt:     defaultScenePrompt,
			SceneWidth:      defaultSceneWidth,
			SceneHeight:     defaultSceneHeight,
			ProductScale:    defaultProductScale,
			ChromaTolerance: defaultChromaTolerance,
			UpscaleFactor:   defaultUpscaleFactor,
		},
		Workflow: Workflow{
			Parallelism:        defaultParallelism,
			ErrorRetryInterval: defaultErrorRetryInterval,
			KeepAliveCap:       defaultKeepAliveCap,
			RetryAttempts:      defaultRetryAttempts,
			RetryInitialMillis: defaultRetryInitialMillis,
			RetryMaxMillis:     defaultRetryMaxMillis,
			ShutdownTimeout:    defaultShutdownTimeout,
		},
		Exports: Exports{
			DownloadTTL:    defaultDownloadTTL,
			RequestTimeout: defaultExportRequestTimeout,
			KafkaTopic:     defaultKafkaTopic,
			RedisTTL:       defaultRedisTTL,
			RedisKeyPrefix: defaultRedisKeyPrefix,
		},
		API: API{
			Enabled: true,
			Bind:    defaultAPIBind,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
