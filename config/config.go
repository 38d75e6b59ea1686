// Package config loads chatmemory settings with viper.
//
// Values come from, in increasing priority: built-in defaults, an optional
// YAML file, and CHATMEMORY_* environment variables where dots become
// underscores (memory.ttl -> CHATMEMORY_MEMORY_TTL). Durations take a unit
// ("15m", "5s") or a bare number of seconds ("900").
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "CHATMEMORY"

// Config is the full configuration of the server and the CLI
type Config struct {
	Memory MemoryConfig `mapstructure:"memory"`
	Store  StoreConfig  `mapstructure:"store"`
	Log    LogConfig    `mapstructure:"log"`
	Server ServerConfig `mapstructure:"server"`
	LLM    LLMConfig    `mapstructure:"llm"`
}

// MemoryConfig tunes the session cache
type MemoryConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`            // Idle eviction threshold
	SweepInterval time.Duration `mapstructure:"sweep_interval"` // 0 disables the background sweeper
	Shards        int           `mapstructure:"shards"`         // Cache shard count
	StoreTimeout  time.Duration `mapstructure:"store_timeout"`  // Bound on each store call, 0 for none
}

// StoreConfig selects and configures the persistent history store
type StoreConfig struct {
	Backend  string         `mapstructure:"backend"` // memory, file, redis, postgres, sqlite, mongo
	File     FileConfig     `mapstructure:"file"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Sqlite   SqliteConfig   `mapstructure:"sqlite"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
}

type FileConfig struct {
	Dir string `mapstructure:"dir"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type PostgresConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

type SqliteConfig struct {
	Path  string `mapstructure:"path"`
	Table string `mapstructure:"table"`
}

type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// LogConfig configures logging
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LLMConfig selects the completion provider
type LLMConfig struct {
	Provider    string  `mapstructure:"provider"` // openai or langchain
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float64 `mapstructure:"temperature"`
}

var backends = map[string]bool{
	"memory":   true,
	"file":     true,
	"redis":    true,
	"postgres": true,
	"sqlite":   true,
	"mongo":    true,
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("memory.ttl", "15m")
	v.SetDefault("memory.sweep_interval", "0s")
	v.SetDefault("memory.shards", 32)
	v.SetDefault("memory.store_timeout", "5s")

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.file.dir", "./data/history")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "chatmemory:")
	v.SetDefault("store.redis.ttl", "0s")
	v.SetDefault("store.postgres.dsn", "postgres://localhost:5432/chatmemory")
	v.SetDefault("store.postgres.table", "chat_history")
	v.SetDefault("store.sqlite.path", "./data/chatmemory.db")
	v.SetDefault("store.sqlite.table", "chat_history")
	v.SetDefault("store.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("store.mongo.database", "rag_service")
	v.SetDefault("store.mongo.collection", "chat_history")

	v.SetDefault("log.level", "info")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "2m") // streaming answers

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.temperature", 0.2)
}

// Load reads configuration from configPath, or from config.yaml in the
// working directory when configPath is empty. A missing default file is
// not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsAsDuration(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsAsDuration reads a bare number given for a duration key as seconds,
// so CHATMEMORY_MEMORY_TTL=900 and "ttl: 900" both mean 15m. Values with a
// unit are left to StringToTimeDurationHookFunc.
func secondsAsDuration() mapstructure.DecodeHookFuncType {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != durationType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return data, nil
			}
			return time.Duration(n * float64(time.Second)), nil
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		}
		return data, nil
	}
}

// Validate checks values that would otherwise fail late
func (c *Config) Validate() error {
	if !backends[c.Store.Backend] {
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Memory.TTL < 0 {
		return fmt.Errorf("memory.ttl must not be negative, got %s", c.Memory.TTL)
	}
	if c.Memory.Shards < 1 {
		return fmt.Errorf("memory.shards must be at least 1, got %d", c.Memory.Shards)
	}
	switch c.LLM.Provider {
	case "openai", "langchain":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	return nil
}
