package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Config holds buffer pool configuration
type Config struct {
	// Buffer Pool Configuration
	PoolSize uint32 `json:"pool_size"` // Number of frames in the pool
	KDist    int    `json:"k_dist"`    // LRU-K history depth

	// Disk Configuration
	PageFile string `json:"page_file"` // Path to the page file
	UseMmap  bool   `json:"use_mmap"`  // Use the memory-mapped disk manager

	// I/O Configuration
	Compression    string `json:"compression"`     // Page compression (none, lz4, snappy)
	EnablePrefetch bool   `json:"enable_prefetch"` // Enable sequential prefetching
	PrefetchWindow uint32 `json:"prefetch_window"` // Pages to read ahead per sequential run

	// Performance Configuration
	EnableMetrics bool   `json:"enable_metrics"` // Whether to collect performance metrics
	LogLevel      string `json:"log_level"`      // Log level (debug, info, warn, error)
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		PoolSize:       100,
		KDist:          2,
		PageFile:       "./data/pages.db",
		UseMmap:        false,
		Compression:    "none",
		EnablePrefetch: false,
		PrefetchWindow: 4,
		EnableMetrics:  true,
		LogLevel:       "info",
	}
}

// LoadConfigFromFile loads configuration from a JSON file
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	err = json.Unmarshal(data, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadConfigFromEnv loads configuration from environment variables.
// Falls back to default values if environment variables are not set.
func LoadConfigFromEnv() *Config {
	config := DefaultConfig()

	if val := os.Getenv("FRAMESTORE_POOL_SIZE"); val != "" {
		if size, err := strconv.ParseUint(val, 10, 32); err == nil {
			config.PoolSize = uint32(size)
		}
	}

	if val := os.Getenv("FRAMESTORE_K_DIST"); val != "" {
		if k, err := strconv.Atoi(val); err == nil {
			config.KDist = k
		}
	}

	if val := os.Getenv("FRAMESTORE_PAGE_FILE"); val != "" {
		config.PageFile = val
	}

	if val := os.Getenv("FRAMESTORE_USE_MMAP"); val != "" {
		config.UseMmap = val == "true" || val == "1"
	}

	if val := os.Getenv("FRAMESTORE_COMPRESSION"); val != "" {
		config.Compression = val
	}

	if val := os.Getenv("FRAMESTORE_ENABLE_PREFETCH"); val != "" {
		config.EnablePrefetch = val == "true" || val == "1"
	}

	if val := os.Getenv("FRAMESTORE_PREFETCH_WINDOW"); val != "" {
		if window, err := strconv.ParseUint(val, 10, 32); err == nil {
			config.PrefetchWindow = uint32(window)
		}
	}

	if val := os.Getenv("FRAMESTORE_ENABLE_METRICS"); val != "" {
		config.EnableMetrics = val == "true" || val == "1"
	}

	if val := os.Getenv("FRAMESTORE_LOG_LEVEL"); val != "" {
		config.LogLevel = val
	}

	return config
}

// SaveToFile saves the configuration to a JSON file
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = os.WriteFile(path, data, 0644)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.PoolSize == 0 {
		return fmt.Errorf("pool size must be greater than 0")
	}

	if c.KDist < 1 {
		return fmt.Errorf("k distance must be at least 1")
	}

	if c.PageFile == "" {
		return fmt.Errorf("page file cannot be empty")
	}

	if _, err := ParseCompressionType(c.Compression); err != nil {
		return err
	}

	if c.EnablePrefetch && c.PrefetchWindow == 0 {
		return fmt.Errorf("prefetch window must be greater than 0 when prefetching is enabled")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
