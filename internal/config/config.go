package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// The values are read by Viper from a config file or environment variables.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	JWT      JWTConfig      `mapstructure:"jwt"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type DatabaseConfig struct {
	URI  string `mapstructure:"uri"`
	Name string `mapstructure:"name"`
}

// CacheConfig controls the two-tier routine cache. TTL is the freshness
// window; entries past it are served stale while a refresh runs. An empty
// RedisURL disables the persisted tier (memory-only).
type CacheConfig struct {
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// SyncConfig controls the background reconciliation loop.
type SyncConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ChangeFeed   bool          `mapstructure:"change_feed"`
}

// CatalogConfig controls the exercise-catalog client.
type CatalogConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// JWTConfig holds the shared secret for validating tokens issued by the
// auth collaborator. Nothing here issues tokens.
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	// Env overrides: server.address -> SERVER_ADDRESS, cache.redis_url ->
	// CACHE_REDIS_URL, and so on.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(`.`, `_`))

	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("database.uri", "mongodb://localhost:27017")
	viper.SetDefault("database.name", "trainer_console")
	viper.SetDefault("cache.redis_url", "")
	viper.SetDefault("cache.ttl", "5m")
	viper.SetDefault("sync.poll_interval", "5s")
	viper.SetDefault("sync.change_feed", true)
	viper.SetDefault("catalog.debounce", "300ms")

	err = viper.ReadInConfig()
	// Missing file is fine; env vars and defaults cover everything.
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		err = nil
	} else if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
