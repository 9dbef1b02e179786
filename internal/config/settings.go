// internal/config/settings.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/valpere/Importexter/internal/utils"
)

// Settings is the application configuration, as opposed to per-site sources.
type Settings struct {
	Server   ServerSettings     `mapstructure:"server"`
	Database DatabaseSettings   `mapstructure:"database"`
	Redis    RedisSettings      `mapstructure:"redis"`
	Mongo    MongoSettings      `mapstructure:"mongo"`
	Assets   AssetSettings      `mapstructure:"assets"`
	Log      utils.LoggerConfig `mapstructure:"log"`

	// SourcesDir holds one YAML file per source
	SourcesDir string `mapstructure:"sources_dir"`

	// WatchSources reloads SourcesDir on change
	WatchSources bool `mapstructure:"watch_sources"`

	BatchDelay     time.Duration `mapstructure:"batch_delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Metrics        bool          `mapstructure:"metrics"`
}

type ServerSettings struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// APIKeys enables bearer authentication on the admin API
	APIKeys []string `mapstructure:"api_keys"`

	// RateLimit caps admin API requests per second; zero disables it
	RateLimit float64 `mapstructure:"rate_limit"`
}

// DatabaseSettings selects the SQL driver: sqlite3, postgres or mysql.
type DatabaseSettings struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// RedisSettings enables the distributed claim guard when Addr is set.
type RedisSettings struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	ClaimTTL time.Duration `mapstructure:"claim_ttl"`
}

// MongoSettings enables the MongoDB preset repository when URI is set.
type MongoSettings struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type AssetSettings struct {
	Root      string `mapstructure:"root"`
	PublicURL string `mapstructure:"public_url"`
}

// EnvPrefix is the prefix of environment overrides, e.g. IMPORTEXTER_DATABASE_DSN.
const EnvPrefix = "IMPORTEXTER"

// LoadSettings reads settings from an optional YAML file and the environment.
func LoadSettings(file string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "importexter.db")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.claim_ttl", 10*time.Minute)
	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "importexter")
	v.SetDefault("mongo.collection", "presets")
	v.SetDefault("assets.root", "./assets")
	v.SetDefault("assets.public_url", "http://localhost:8080/assets")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("sources_dir", "./sources")
	v.SetDefault("watch_sources", true)
	v.SetDefault("batch_delay", 2*time.Second)
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("metrics", true)
}

// Validate checks settings that would otherwise fail late.
func (s *Settings) Validate() error {
	switch s.Database.Driver {
	case "sqlite3", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database driver %q", s.Database.Driver)
	}
	if s.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	if s.BatchDelay < 0 {
		return fmt.Errorf("batch delay cannot be negative")
	}
	return nil
}
