package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	MaxContexts int
	MinContexts int
	InitTimeout time.Duration
	Quality     int
	FastMode    bool
	Format      string
	OutputDir   string
}

func Load() *Config {
	return &Config{
		MaxContexts: getEnvAsInt("POOL_MAX_CONTEXTS", 0), // 0 = host parallelism
		MinContexts: getEnvAsInt("POOL_MIN_CONTEXTS", 1),
		InitTimeout: time.Duration(getEnvAsInt("POOL_INIT_TIMEOUT_SEC", 5)) * time.Second,
		Quality:     getEnvAsInt("CONVERT_QUALITY", 85),
		FastMode:    getEnvAsBool("CONVERT_FAST", false),
		Format:      getEnv("CONVERT_FORMAT", "jpeg"),
		OutputDir:   getEnv("OUTPUT_DIR", "."),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
