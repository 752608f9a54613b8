package config

import "time"

type CacheConfig interface {
	GetProfileTTL() time.Duration
	GetVolatileTTL() time.Duration
	GetPreferencesTTL() time.Duration
	GetSweepInterval() time.Duration
}

type Cache struct{}

var _ CacheConfig = Cache{}

func (Cache) GetProfileTTL() time.Duration {
	return GetDurationEnv("CACHE_PROFILE_TTL", 5*time.Minute)
}

// GetVolatileTTL applies to market and other fast-moving data.
func (Cache) GetVolatileTTL() time.Duration {
	return GetDurationEnv("CACHE_VOLATILE_TTL", 2*time.Minute)
}

func (Cache) GetPreferencesTTL() time.Duration {
	return GetDurationEnv("CACHE_PREFERENCES_TTL", 24*time.Hour)
}

func (Cache) GetSweepInterval() time.Duration {
	return GetDurationEnv("CACHE_SWEEP_INTERVAL", 5*time.Minute)
}
