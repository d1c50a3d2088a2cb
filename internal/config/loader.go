package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so keys and tokens can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Upstream.APIKey = expandEnvVars(cfg.Upstream.APIKey)
	cfg.Server.AuthToken = expandEnvVars(cfg.Server.AuthToken)
	if cfg.Channels.Redis != nil {
		cfg.Channels.Redis.Password = expandEnvVars(cfg.Channels.Redis.Password)
	}
}

// Defaults returns the baseline configuration.
func Defaults() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// Validate checks settings that must be present to talk upstream.
func Validate(cfg Config) error {
	if cfg.Upstream.BaseURL == "" {
		return &ConfigError{Message: "upstream.baseUrl is required"}
	}
	if cfg.Upstream.AgentID == "" {
		return &ConfigError{Message: "upstream.agentId is required"}
	}
	if cfg.Channels.Redis != nil && cfg.Channels.Redis.Addr == "" {
		return &ConfigError{Message: "channels.redis.addr is required when redis is configured"}
	}
	return nil
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Upstream.TimeoutSeconds == 0 {
		cfg.Upstream.TimeoutSeconds = 60
	}
	if cfg.History.Capacity == 0 {
		cfg.History.Capacity = 256
	}
	if cfg.Tools.BudgetTokens == 0 {
		cfg.Tools.BudgetTokens = 124000
	}
	if cfg.Tools.TimeoutSeconds == 0 {
		cfg.Tools.TimeoutSeconds = 30
	}
	if cfg.Tools.Model == "" {
		cfg.Tools.Model = "gpt-4o"
	}
	if cfg.Channels.Push.QueueSize == 0 {
		cfg.Channels.Push.QueueSize = 64
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 18790
	}
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = "127.0.0.1"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = defaultStorePath()
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Channels.Redis != nil && cfg.Channels.Redis.Channel == "" {
		cfg.Channels.Redis.Channel = "relay:events"
	}
}

// applyEnvOverrides reads RELAY_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RELAY_UPSTREAM_URL"); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := os.Getenv("RELAY_UPSTREAM_API_KEY"); v != "" {
		cfg.Upstream.APIKey = v
	}
	if v := os.Getenv("RELAY_AGENT_ID"); v != "" {
		cfg.Upstream.AgentID = v
	}
	if v := os.Getenv("RELAY_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("RELAY_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "relay.db"
	}
	return home + "/.relay/relay.db"
}
