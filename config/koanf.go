package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the YAML config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{"config.yaml", "config.yml"}

// DotEnvPath is the optional dotenv file loaded below real environment variables.
var DotEnvPath = ".env"

// envMappings maps environment variable names to koanf paths.
var envMappings = map[string]string{
	"addr":                    "server.addr",
	"http_addr":               "server.addr",
	"shutdown_timeout":        "server.shutdown_timeout",
	"gin_mode":                "server.mode",
	"db_dsn":                  "database.dsn",
	"db_auto_migrate":         "database.auto_migrate",
	"db_max_open_conns":       "database.max_open_conns",
	"db_max_idle_conns":       "database.max_idle_conns",
	"jwt_secret":              "security.jwt_secret",
	"jwt_access_ttl":          "security.access_ttl",
	"jwt_refresh_ttl":         "security.refresh_ttl",
	"ledger_max_retries":      "ledger.max_retries",
	"ledger_retry_initial":    "ledger.retry_initial",
	"ledger_tx_timeout":       "ledger.tx_timeout",
	"ledger_breaker_failures": "ledger.breaker_failures",
	"ledger_breaker_timeout":  "ledger.breaker_timeout",
	"upload_base":             "media.base_dir",
	"upload_max_bytes":        "media.max_bytes",
	"donate_rps":              "ratelimit.donate_rps",
	"donate_burst":            "ratelimit.donate_burst",
	"log_level":               "logging.level",
	"log_format":              "logging.format",
}

// envTransformFunc maps DB_DSN -> database.dsn etc. Unknown variables are skipped.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if path, ok := envMappings[key]; ok {
		return path
	}
	// PORT=4000 is accepted as a shorthand for ADDR=:4000.
	if key == "port" {
		return "server.port"
	}
	return ""
}

// Load builds the configuration and validates it.
func Load() (*Config, error) {
	cfg, err := LoadUnvalidated()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadUnvalidated builds the configuration without running Validate. CLI
// tools that need only part of the configuration use it.
func LoadUnvalidated() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if _, err := os.Stat(DotEnvPath); err == nil {
		if err := k.Load(file.Provider(DotEnvPath), dotenv.ParserEnv("", ".", envTransformFunc)); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", DotEnvPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if port := k.String("server.port"); port != "" {
		if err := k.Set("server.addr", ":"+strings.TrimPrefix(port, ":")); err != nil {
			return nil, fmt.Errorf("failed to apply PORT: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
