package config

import (
	"strings"
	"time"
)

type NetworkConfig interface {
	GetAPIBaseURL() string
	GetAPIKey() string
	GetAPIKeyHeader() string
	GetRequestTimeout() time.Duration
}

type Network struct{}

var _ NetworkConfig = Network{}

func (Network) GetAPIBaseURL() string {
	return strings.TrimRight(GetEnv("API_BASE_URL", "http://localhost:8000/api"), "/")
}

func (Network) GetAPIKey() string {
	return GetEnv("API_KEY", "")
}

func (Network) GetAPIKeyHeader() string {
	return GetEnv("API_KEY_HEADER", "X-API-Key")
}

// GetRequestTimeout bounds every backend call. A timeout is handled exactly
// like a network failure.
func (Network) GetRequestTimeout() time.Duration {
	return GetDurationEnv("REQUEST_TIMEOUT", 15*time.Second)
}
