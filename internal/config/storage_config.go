package config

import "path/filepath"

type StorageConfig interface {
	GetDataFolder() string
	GetStorePath() string
}

type Storage struct{}

var _ StorageConfig = Storage{}

func (Storage) GetDataFolder() string {
	return GetEnv("FOLDER", "./data")
}

func (s Storage) GetStorePath() string {
	return GetEnv("SESSION_STORE_PATH", filepath.Join(s.GetDataFolder(), "session.db"))
}
