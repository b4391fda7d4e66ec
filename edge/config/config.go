package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port        string
	Env         string
	MaxBodySize int64
}

func Load() *Config {
	return &Config{
		Port:        getEnv("SERVICE_PORT", "8082"),
		Env:         getEnv("ENV", "development"),
		MaxBodySize: getEnvAsInt64("MAX_BODY_SIZE", 64*1024*1024),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}
