package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel string

	LibraryDir string
	StateDir   string

	DeviceName string

	DiscoveryTimeout time.Duration
	VerifyTimeout    time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel: getEnvWithDefault("CASTQUEUE_LOG_LEVEL", "info"),

		LibraryDir: os.Getenv("CASTQUEUE_LIBRARY_DIR"),
		StateDir:   os.Getenv("CASTQUEUE_STATE_DIR"),

		DeviceName: os.Getenv("CASTQUEUE_DEVICE_NAME"),

		DiscoveryTimeout: getEnvAsMillisWithDefault("CASTQUEUE_DISCOVERY_TIMEOUT_MS", 10_000),
		VerifyTimeout:    getEnvAsMillisWithDefault("CASTQUEUE_VERIFY_TIMEOUT_MS", 5_000),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.LibraryDir != "" {
		info, err := os.Stat(c.LibraryDir)
		if err != nil {
			return errors.New("CASTQUEUE_LIBRARY_DIR does not exist: " + c.LibraryDir)
		}
		if !info.IsDir() {
			return errors.New("CASTQUEUE_LIBRARY_DIR is not a directory: " + c.LibraryDir)
		}
	}

	if c.DiscoveryTimeout < time.Second {
		return errors.New("CASTQUEUE_DISCOVERY_TIMEOUT_MS must be at least 1000")
	}

	if c.VerifyTimeout < 3*time.Second {
		return errors.New("CASTQUEUE_VERIFY_TIMEOUT_MS must be at least 3000")
	}

	return nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvAsMillisWithDefault(key string, defaultMillis int) time.Duration {
	millis := defaultMillis
	if value, ok := os.LookupEnv(key); ok {
		if intValue, err := strconv.Atoi(value); err == nil {
			millis = intValue
		}
	}
	return time.Duration(millis) * time.Millisecond
}
