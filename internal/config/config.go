package config

type Config interface {
	EnvConfig
	SessionConfig
	CacheConfig
	NetworkConfig
	StorageConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

type mainConfig struct {
	EnvVars
	Session
	Cache
	Network
	Storage
}

func New() Config {
	return mainConfig{}
}
