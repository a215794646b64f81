package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the formula service and CLI configuration. Values come from
// environment variables, then from the YAML file named by FORMULA_CONFIG.
type Config struct {
	// Formulas
	FormulaFile    string        `yaml:"formula_file"`
	Blocks         []string      `yaml:"blocks"` // watched blocks
	FoldCase       bool          `yaml:"fold_case"`
	MaxRetries     int           `yaml:"max_retries"`
	MaxDepth       int           `yaml:"max_depth"` // block nesting limit
	CacheRetention int           `yaml:"cache_retention"`
	ReloadDebounce time.Duration `yaml:"reload_debounce"`

	// Candle input
	RedisAddr     string   `yaml:"redis_addr"`
	RedisPassword string   `yaml:"redis_password"`
	RedisDB       int      `yaml:"redis_db"`
	ConsumerGroup string   `yaml:"consumer_group"`
	ConsumerName  string   `yaml:"consumer_name"`
	Streams       []string `yaml:"streams"` // e.g. candle:60s:NSE:99926000
	Columns       []string `yaml:"columns"` // indicator columns, e.g. "sma 20"
	Source        string   `yaml:"source"`  // data source name used by formulas

	// Result sinks
	SQLDriver string `yaml:"sql_driver"` // sqlite3 or postgres; empty disables
	SQLDSN    string `yaml:"sql_dsn"`

	HTTPAddr string `yaml:"http_addr"`
	LogLevel string `yaml:"log_level"`
}

// Load reads configuration from environment variables with sensible
// defaults and applies the FORMULA_CONFIG overlay when set.
func Load() (*Config, error) {
	hostname, _ := os.Hostname()
	c := &Config{
		FormulaFile:    getEnv("FORMULA_FILE", "formulas.txt"),
		Blocks:         splitList(getEnv("FORMULA_BLOCKS", "")),
		FoldCase:       getEnvBool("FORMULA_FOLD_CASE", false),
		MaxRetries:     getEnvInt("FORMULA_MAX_RETRIES", 1<<20),
		MaxDepth:       getEnvInt("FORMULA_MAX_DEPTH", 64),
		CacheRetention: getEnvInt("FORMULA_CACHE_RETENTION", 0),
		ReloadDebounce: getEnvDuration("FORMULA_RELOAD_DEBOUNCE", 250*time.Millisecond),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		ConsumerGroup: getEnv("REDIS_CONSUMER_GROUP", "formulad"),
		ConsumerName:  getEnv("REDIS_CONSUMER_NAME", getEnv("HOSTNAME", hostname)),
		Streams:       splitList(getEnv("CANDLE_STREAMS", "")),
		Columns:       splitList(getEnv("CANDLE_COLUMNS", "")),
		Source:        getEnv("FORMULA_SOURCE", "Candle"),

		SQLDriver: getEnv("SQL_DRIVER", ""),
		SQLDSN:    getEnv("SQL_DSN", "data/formulas.db"),

		HTTPAddr: getEnv("HTTP_ADDR", ":9090"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if path := os.Getenv("FORMULA_CONFIG"); path != "" {
		if err := c.overlay(path); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Config) overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	log.Printf("[config] loaded overlay %s", path)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %t", key, v, fallback)
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
