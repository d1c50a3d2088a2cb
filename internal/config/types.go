// Package config loads and validates the relay configuration.
package config

// Config is the root configuration for relay.
type Config struct {
	Upstream UpstreamConfig `yaml:"upstream,omitempty"`
	History  HistoryConfig  `yaml:"history,omitempty"`
	Tools    ToolsConfig    `yaml:"tools,omitempty"`
	Channels ChannelsConfig `yaml:"channels,omitempty"`
	Server   ServerConfig   `yaml:"server,omitempty"`
	Store    StoreConfig    `yaml:"store,omitempty"`
	Logging  LoggingConfig  `yaml:"logging,omitempty"`
}

// UpstreamConfig points at the conversational-agent backend.
type UpstreamConfig struct {
	BaseURL        string `yaml:"baseUrl,omitempty"`
	APIKey         string `yaml:"apiKey,omitempty"`
	AgentID        string `yaml:"agentId,omitempty"`
	TimeoutSeconds int    `yaml:"timeoutSeconds,omitempty"`
}

// HistoryConfig sizes the per-conversation rolling event history.
type HistoryConfig struct {
	Capacity int `yaml:"capacity,omitempty"`
}

// ToolsConfig controls local tool execution.
type ToolsConfig struct {
	BudgetTokens   int    `yaml:"budgetTokens,omitempty"`
	TimeoutSeconds int    `yaml:"timeoutSeconds,omitempty"`
	Model          string `yaml:"model,omitempty"` // selects the tokenizer for output budgeting
}

// ChannelsConfig enables and configures output channels.
type ChannelsConfig struct {
	Console bool         `yaml:"console,omitempty"`
	Redis   *RedisConfig `yaml:"redis,omitempty"`
	Push    PushConfig   `yaml:"push,omitempty"`
}

// RedisConfig configures the redis pub/sub channel.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
}

// PushConfig configures the websocket push stream.
type PushConfig struct {
	QueueSize int `yaml:"queueSize,omitempty"`
}

// ServerConfig controls the HTTP/WebSocket server.
type ServerConfig struct {
	Port           int      `yaml:"port,omitempty"`
	Bind           string   `yaml:"bind,omitempty"`
	AuthToken      string   `yaml:"authToken,omitempty"`
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

// StoreConfig controls transcript persistence.
type StoreConfig struct {
	Path string `yaml:"path,omitempty"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"`
}

// ConfigError is returned for malformed or invalid configuration.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}
