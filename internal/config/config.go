package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

type CacheType string

const (
	CacheTypeMemory CacheType = "memory"
	CacheTypeRedis  CacheType = "redis"
)

// Persistence modes, see PersistenceMode.
const (
	PersistenceRemote = "remote"
	PersistenceLocal  = "local"
)

// Config holds the configuration for flexquest.
type Config struct {
	// Listen is the address the diagnostics server listens on.
	Listen string `yaml:"listen" mapstructure:"listen"`
	// DataDir is the directory holding the local JSON files.
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`
	// UsersFile is the file name of the users collection inside DataDir.
	UsersFile string `yaml:"users_file" mapstructure:"users_file"`
	// AdminFile is the file name of the admin settings inside DataDir.
	AdminFile string `yaml:"admin_file" mapstructure:"admin_file"`
	// HealthCheckInterval is how often serve refreshes the backend status.
	HealthCheckInterval time.Duration `yaml:"health_check_interval" mapstructure:"health_check_interval"`
	// Remote is the document store configuration.
	Remote *RemoteConfig `yaml:"remote" mapstructure:"remote"`
	// History is the configuration of the tool run history database.
	History *HistoryConfig `yaml:"history" mapstructure:"history"`
	// Cache is the configuration of the status cache.
	Cache *CacheConfig `yaml:"cache" mapstructure:"cache"`
}

// RemoteConfig holds the configuration for the remote document store.
type RemoteConfig struct {
	// Enabled turns the remote store on. When off, everything runs on the local files.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Endpoint is the MongoDB connection string.
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	// Database is the database name.
	Database string `yaml:"database" mapstructure:"database"`
	// UseTLS forces encrypted transport on or off. Unset means on, except for loopback hosts.
	UseTLS *bool `yaml:"use_tls" mapstructure:"use_tls"`
	// AllowInvalidCertificates skips certificate verification. Diagnostics only.
	AllowInvalidCertificates bool `yaml:"allow_invalid_certificates" mapstructure:"allow_invalid_certificates"`
	// ConnectTimeout bounds dialing and server selection.
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
	// OperationTimeout bounds every remote round trip.
	OperationTimeout time.Duration `yaml:"operation_timeout" mapstructure:"operation_timeout"`
}

// HistoryConfig holds the configuration for the run history database.
type HistoryConfig struct {
	// Path is the path of the SQLite database file.
	Path string `yaml:"path" mapstructure:"path"`
}

// CacheConfig holds the configuration for the cache engine.
type CacheConfig struct {
	// Type is the type of cache engine to use (e.g., "memory", "redis").
	Type CacheType `yaml:"type" mapstructure:"type"`
	// RedisURL is the address of the Redis server if using Redis.
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url"`
}

// Load loads the configuration from path, or from the default locations if path is empty.
func Load(path string) (*Config, error) {
	v := viper.New()

	bindNestedEnv(v)
	setDefaults(v)

	v.SetConfigType("yaml")
	v.SetEnvPrefix("FLEXQUEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.flexquest")
		v.AddConfigPath("/etc/flexquest")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		log.Debug("no config file found, using defaults and environment")
	} else {
		log.Debug("Using config file", "file", v.ConfigFileUsed())
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	sanitizeConfig(&c)

	if err := validateConfig(&c); err != nil {
		return nil, err
	}

	if c.Remote.Enabled && !c.Remote.configured() {
		log.Warn("remote store is enabled but endpoint or database is missing, using local files only")
	}

	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", "127.0.0.1:3080")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("users_file", "users.json")
	v.SetDefault("admin_file", "admin.json")
	v.SetDefault("health_check_interval", time.Minute)

	// Remote defaults
	v.SetDefault("remote.enabled", false)
	v.SetDefault("remote.endpoint", "")
	v.SetDefault("remote.database", "")
	v.SetDefault("remote.allow_invalid_certificates", false)
	v.SetDefault("remote.connect_timeout", 10*time.Second)
	v.SetDefault("remote.operation_timeout", 5*time.Second)

	// History defaults
	v.SetDefault("history.path", "./data/flexquest.db")

	// Cache defaults
	v.SetDefault("cache.type", CacheTypeMemory)
	v.SetDefault("cache.redis_url", "")
}

// use_tls has no default on purpose, unset means "decide from the endpoint".
// AutomaticEnv only sees keys viper already knows, so it is bound explicitly.
func bindNestedEnv(v *viper.Viper) {
	v.MustBindEnv("remote.use_tls", "FLEXQUEST_REMOTE_USE_TLS")
}

// validateConfig validates the configuration.
func validateConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("missing flexquest config")
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	for key, name := range map[string]string{"users_file": c.UsersFile, "admin_file": c.AdminFile} {
		if name == "" || filepath.Base(name) != name {
			return fmt.Errorf("%s must be a plain file name, got %q", key, name)
		}
	}
	if c.UsersFile == c.AdminFile {
		return fmt.Errorf("users_file and admin_file must differ")
	}
	if c.HealthCheckInterval < time.Second {
		return fmt.Errorf("health_check_interval must be at least 1s, got %s", c.HealthCheckInterval)
	}

	if c.Remote == nil {
		return fmt.Errorf("missing remote config")
	}
	if c.Remote.ConnectTimeout <= 0 {
		return fmt.Errorf("remote.connect_timeout must be positive")
	}
	if c.Remote.OperationTimeout <= 0 {
		return fmt.Errorf("remote.operation_timeout must be positive")
	}
	if c.Remote.Endpoint != "" &&
		!strings.HasPrefix(c.Remote.Endpoint, "mongodb://") &&
		!strings.HasPrefix(c.Remote.Endpoint, "mongodb+srv://") {
		return fmt.Errorf("remote.endpoint must start with mongodb:// or mongodb+srv://")
	}

	if c.History == nil || c.History.Path == "" {
		return fmt.Errorf("history.path is required")
	}

	if c.Cache == nil {
		return fmt.Errorf("missing cache config")
	}
	switch c.Cache.Type {
	case CacheTypeMemory:
	case CacheTypeRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("cache.redis_url is required when cache.type is redis")
		}
	default:
		return fmt.Errorf("invalid cache type %q, must be %q or %q", c.Cache.Type, CacheTypeMemory, CacheTypeRedis)
	}

	return nil
}

// sanitizeConfig sanitizes the configuration values.
func sanitizeConfig(c *Config) {
	if c == nil {
		return
	}

	c.Listen = strings.TrimSpace(c.Listen)
	c.DataDir = filepath.Clean(strings.TrimSpace(c.DataDir))

	if c.Remote != nil {
		c.Remote.Endpoint = urlSanitize(c.Remote.Endpoint)
		c.Remote.Database = strings.TrimSpace(c.Remote.Database)
	}

	if c.Cache != nil {
		c.Cache.Type = CacheType(strings.ToLower(strings.TrimSpace(string(c.Cache.Type))))
		c.Cache.RedisURL = strings.TrimSpace(c.Cache.RedisURL)
	}
}

func urlSanitize(url string) string {
	return strings.TrimSuffix(strings.TrimSpace(url), "/")
}

func (r *RemoteConfig) configured() bool {
	return r != nil && r.Endpoint != "" && r.Database != ""
}

// RemoteConfigured reports whether an endpoint and database are set, whether
// or not the remote store is enabled. The operator tools only need this much.
func (c *Config) RemoteConfigured() bool {
	return c.Remote.configured()
}

// RemoteEnabled reports whether the remote store is enabled and fully configured.
func (c *Config) RemoteEnabled() bool {
	return c.Remote != nil && c.Remote.Enabled && c.Remote.configured()
}

// PersistenceMode returns "remote" when the remote store is usable and
// "local" otherwise.
func (c *Config) PersistenceMode() string {
	if c.RemoteEnabled() {
		return PersistenceRemote
	}
	return PersistenceLocal
}
