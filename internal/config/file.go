package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// fileSettings mirrors the environment variables that may be set from a
// TOML file. Environment always wins over the file.
type fileSettings struct {
	AppName            string `toml:"app_name"`
	Env                string `toml:"env"`
	LogLevel           string `toml:"log_level"`
	APIBaseURL         string `toml:"api_base_url"`
	APIKey             string `toml:"api_key"`
	APIKeyHeader       string `toml:"api_key_header"`
	RequestTimeout     string `toml:"request_timeout"`
	DataFolder         string `toml:"data_folder"`
	StorePath          string `toml:"store_path"`
	StoreSecret        string `toml:"store_secret"`
	TokenSafetyMargin  string `toml:"token_safety_margin"`
	ProfileCrossCheck  string `toml:"profile_cross_check"`
	CacheProfileTTL    string `toml:"cache_profile_ttl"`
	CacheVolatileTTL   string `toml:"cache_volatile_ttl"`
	CachePreferenceTTL string `toml:"cache_preferences_ttl"`
	CacheSweepInterval string `toml:"cache_sweep_interval"`
}

func (f fileSettings) envPairs() map[string]string {
	return map[string]string{
		appNameVar:                    f.AppName,
		envVar:                        f.Env,
		logLevelVar:                   f.LogLevel,
		"API_BASE_URL":                f.APIBaseURL,
		"API_KEY":                     f.APIKey,
		"API_KEY_HEADER":              f.APIKeyHeader,
		"REQUEST_TIMEOUT":             f.RequestTimeout,
		"FOLDER":                      f.DataFolder,
		"SESSION_STORE_PATH":          f.StorePath,
		"SESSION_STORE_SECRET":        f.StoreSecret,
		"SESSION_TOKEN_SAFETY_MARGIN": f.TokenSafetyMargin,
		"SESSION_PROFILE_CROSSCHECK":  f.ProfileCrossCheck,
		"CACHE_PROFILE_TTL":           f.CacheProfileTTL,
		"CACHE_VOLATILE_TTL":          f.CacheVolatileTTL,
		"CACHE_PREFERENCES_TTL":       f.CachePreferenceTTL,
		"CACHE_SWEEP_INTERVAL":        f.CacheSweepInterval,
	}
}

// LoadFile reads a TOML settings file and exports every value whose
// environment variable is not already set.
func LoadFile(path string) error {
	var settings fileSettings
	if _, err := toml.DecodeFile(path, &settings); err != nil {
		return fmt.Errorf("[config LoadFile] decode %s: %w", path, err)
	}
	for name, value := range settings.envPairs() {
		if value == "" || os.Getenv(name) != "" {
			continue
		}
		if err := os.Setenv(name, value); err != nil {
			return fmt.Errorf("[config LoadFile] set %s: %w", name, err)
		}
	}
	return nil
}
