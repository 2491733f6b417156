package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv
const EnvPrefix = "STUDYROOM_"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Auth      *AuthConfig      `json:"auth"`
	Redis     *RedisConfig     `json:"redis"`
	Chat      *ChatConfig      `json:"chat"`
	Log       *LogConfig       `json:"log"`
}

type DatabaseConfig struct {
	Path           string        `json:"path"`
	Timeout        time.Duration `json:"timeout"`
	MaxConnections int           `json:"max_connections"`
	// MigrationsPath replaces the embedded migrations with a directory
	MigrationsPath string `json:"migrations_path"`
}

// HTTPConfig binds the listener; port 0 picks a free port
type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

// WebSocketConfig holds heartbeat timing and per-connection queue sizes
type WebSocketConfig struct {
	PingInterval        time.Duration `json:"ping_interval"`
	ReadTimeout         time.Duration `json:"read_timeout"`
	WriteTimeout        time.Duration `json:"write_timeout"`
	BufferSize          int           `json:"buffer_size"`
	EphemeralBufferSize int           `json:"ephemeral_buffer_size"`
	AllowedOrigins      []string      `json:"allowed_origins"`
}

// AuthConfig controls handshake authentication. Without a secret only the
// plain userId/displayName query parameters are accepted. AdminToken guards
// the membership and problem write endpoints; they are not served without it.
type AuthConfig struct {
	JWTSecret    string        `json:"jwt_secret"`
	Issuer       string        `json:"issuer"`
	TokenTTL     time.Duration `json:"token_ttl"`
	RequireToken bool          `json:"require_token"`
	AdminToken   string        `json:"admin_token"`
}

// RedisConfig enables the role cache when Addr is set
type RedisConfig struct {
	Addr     string        `json:"addr"`
	Password string        `json:"password"`
	DB       int           `json:"db"`
	TTL      time.Duration `json:"ttl"`
}

type ChatConfig struct {
	RateLimit      int           `json:"rate_limit"`
	RateWindow     time.Duration `json:"rate_window"`
	HistoryLimit   int           `json:"history_limit"`
	ActivityBuffer int           `json:"activity_buffer"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// FUNCTIONAL DISCOVERY: Production-ready defaults
// Database on local filesystem, HTTP on standard port, WebSocket with 30s heartbeat
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:           "./data/studyroom.db",
			Timeout:        30 * time.Second,
			MaxConnections: 10,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval:        30 * time.Second,
			ReadTimeout:         60 * time.Second,
			WriteTimeout:        5 * time.Second,
			BufferSize:          100,
			EphemeralBufferSize: 32,
		},
		Auth: &AuthConfig{
			Issuer:   "studyroom",
			TokenTTL: time.Hour,
		},
		Redis: &RedisConfig{
			TTL: 30 * time.Second,
		},
		Chat: &ChatConfig{
			RateLimit:      100,
			RateWindow:     time.Minute,
			HistoryLimit:   200,
			ActivityBuffer: 256,
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.EphemeralBufferSize <= 0 {
		return fmt.Errorf("WebSocket ephemeral buffer size must be positive")
	}

	if c.Auth == nil {
		return fmt.Errorf("auth configuration is required")
	}
	if c.Auth.RequireToken && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth jwt secret is required when tokens are required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth token TTL must be positive")
	}

	if c.Redis == nil {
		return fmt.Errorf("redis configuration is required")
	}
	if c.Redis.Addr != "" && c.Redis.TTL <= 0 {
		return fmt.Errorf("redis TTL must be positive")
	}

	if c.Chat == nil {
		return fmt.Errorf("chat configuration is required")
	}
	if c.Chat.RateLimit <= 0 || c.Chat.RateWindow <= 0 {
		return fmt.Errorf("chat rate limit and window must be positive")
	}
	if c.Chat.HistoryLimit <= 0 {
		return fmt.Errorf("chat history limit must be positive")
	}
	if c.Chat.ActivityBuffer <= 0 {
		return fmt.Errorf("chat activity buffer must be positive")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log format must be text or json")
	}

	return nil
}

// NewLogger builds the process logger from the log settings
func (c *LogConfig) NewLogger() *logrus.Logger {
	log := logrus.New()
	if c.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetOutput(os.Stdout)
	return log
}

// FUNCTIONAL DISCOVERY: Environment variable configuration enables deployment flexibility
// A .env file in the working directory is loaded first when present; variables
// already set in the environment win over it.
func LoadFromEnv() *Config {
	_ = godotenv.Load()

	config := DefaultConfig()

	envInt("HTTP_PORT", &config.HTTP.Port)
	envString("HTTP_HOST", &config.HTTP.Host)
	envDuration("HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)

	envString("DATABASE_PATH", &config.Database.Path)
	envDuration("DATABASE_TIMEOUT", &config.Database.Timeout)
	envInt("DATABASE_MAX_CONNECTIONS", &config.Database.MaxConnections)
	envString("DATABASE_MIGRATIONS_PATH", &config.Database.MigrationsPath)

	envDuration("WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	envDuration("WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	envInt("WEBSOCKET_BUFFER_SIZE", &config.WebSocket.BufferSize)
	envInt("WEBSOCKET_EPHEMERAL_BUFFER_SIZE", &config.WebSocket.EphemeralBufferSize)
	if origins := os.Getenv(EnvPrefix + "WEBSOCKET_ALLOWED_ORIGINS"); origins != "" {
		config.WebSocket.AllowedOrigins = splitList(origins)
	}

	envString("AUTH_JWT_SECRET", &config.Auth.JWTSecret)
	envString("AUTH_ISSUER", &config.Auth.Issuer)
	envDuration("AUTH_TOKEN_TTL", &config.Auth.TokenTTL)
	envBool("AUTH_REQUIRE_TOKEN", &config.Auth.RequireToken)
	envString("AUTH_ADMIN_TOKEN", &config.Auth.AdminToken)

	envString("REDIS_ADDR", &config.Redis.Addr)
	envString("REDIS_PASSWORD", &config.Redis.Password)
	envInt("REDIS_DB", &config.Redis.DB)
	envDuration("REDIS_TTL", &config.Redis.TTL)

	envInt("CHAT_RATE_LIMIT", &config.Chat.RateLimit)
	envDuration("CHAT_RATE_WINDOW", &config.Chat.RateWindow)
	envInt("CHAT_HISTORY_LIMIT", &config.Chat.HistoryLimit)
	envInt("CHAT_ACTIVITY_BUFFER", &config.Chat.ActivityBuffer)

	envString("LOG_LEVEL", &config.Log.Level)
	envString("LOG_FORMAT", &config.Log.Format)

	return config
}

// FUNCTIONAL DISCOVERY: Environment variables override defaults; unparsable
// values are ignored
func envString(name string, dst *string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Auth      *AuthConfigFile      `json:"auth"`
	Redis     *RedisConfigFile     `json:"redis"`
	Chat      *ChatConfigFile      `json:"chat"`
	Log       *LogConfig           `json:"log"`
}

type DatabaseConfigFile struct {
	Path           string `json:"path"`
	Timeout        string `json:"timeout"`
	MaxConnections int    `json:"max_connections"`
	MigrationsPath string `json:"migrations_path"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Host         string `json:"host"`
}

type WebSocketConfigFile struct {
	PingInterval        string   `json:"ping_interval"`
	ReadTimeout         string   `json:"read_timeout"`
	WriteTimeout        string   `json:"write_timeout"`
	BufferSize          int      `json:"buffer_size"`
	EphemeralBufferSize int      `json:"ephemeral_buffer_size"`
	AllowedOrigins      []string `json:"allowed_origins"`
}

type AuthConfigFile struct {
	JWTSecret    string `json:"jwt_secret"`
	Issuer       string `json:"issuer"`
	TokenTTL     string `json:"token_ttl"`
	RequireToken *bool  `json:"require_token"`
	AdminToken   string `json:"admin_token"`
}

type RedisConfigFile struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	TTL      string `json:"ttl"`
}

type ChatConfigFile struct {
	RateLimit      int    `json:"rate_limit"`
	RateWindow     string `json:"rate_window"`
	HistoryLimit   int    `json:"history_limit"`
	ActivityBuffer int    `json:"activity_buffer"`
}

// LoadFromFile reads a JSON config on top of the defaults. Durations are
// strings such as "30s".
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()
	if err := file.apply(config); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

func (f *ConfigFile) apply(config *Config) error {
	var errs []error
	duration := func(field, value string, dst *time.Duration) {
		if value == "" {
			return
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			return
		}
		*dst = d
	}

	if f.Database != nil {
		if f.Database.Path != "" {
			config.Database.Path = f.Database.Path
		}
		if f.Database.MaxConnections > 0 {
			config.Database.MaxConnections = f.Database.MaxConnections
		}
		if f.Database.MigrationsPath != "" {
			config.Database.MigrationsPath = f.Database.MigrationsPath
		}
		duration("database.timeout", f.Database.Timeout, &config.Database.Timeout)
	}

	if f.HTTP != nil {
		if f.HTTP.Port > 0 {
			config.HTTP.Port = f.HTTP.Port
		}
		if f.HTTP.Host != "" {
			config.HTTP.Host = f.HTTP.Host
		}
		duration("http.read_timeout", f.HTTP.ReadTimeout, &config.HTTP.ReadTimeout)
		duration("http.write_timeout", f.HTTP.WriteTimeout, &config.HTTP.WriteTimeout)
	}

	if f.WebSocket != nil {
		if f.WebSocket.BufferSize > 0 {
			config.WebSocket.BufferSize = f.WebSocket.BufferSize
		}
		if f.WebSocket.EphemeralBufferSize > 0 {
			config.WebSocket.EphemeralBufferSize = f.WebSocket.EphemeralBufferSize
		}
		if len(f.WebSocket.AllowedOrigins) > 0 {
			config.WebSocket.AllowedOrigins = f.WebSocket.AllowedOrigins
		}
		duration("websocket.ping_interval", f.WebSocket.PingInterval, &config.WebSocket.PingInterval)
		duration("websocket.read_timeout", f.WebSocket.ReadTimeout, &config.WebSocket.ReadTimeout)
		duration("websocket.write_timeout", f.WebSocket.WriteTimeout, &config.WebSocket.WriteTimeout)
	}

	if f.Auth != nil {
		if f.Auth.JWTSecret != "" {
			config.Auth.JWTSecret = f.Auth.JWTSecret
		}
		if f.Auth.Issuer != "" {
			config.Auth.Issuer = f.Auth.Issuer
		}
		if f.Auth.RequireToken != nil {
			config.Auth.RequireToken = *f.Auth.RequireToken
		}
		if f.Auth.AdminToken != "" {
			config.Auth.AdminToken = f.Auth.AdminToken
		}
		duration("auth.token_ttl", f.Auth.TokenTTL, &config.Auth.TokenTTL)
	}

	if f.Redis != nil {
		config.Redis.Addr = f.Redis.Addr
		config.Redis.Password = f.Redis.Password
		config.Redis.DB = f.Redis.DB
		duration("redis.ttl", f.Redis.TTL, &config.Redis.TTL)
	}

	if f.Chat != nil {
		if f.Chat.RateLimit > 0 {
			config.Chat.RateLimit = f.Chat.RateLimit
		}
		if f.Chat.HistoryLimit > 0 {
			config.Chat.HistoryLimit = f.Chat.HistoryLimit
		}
		if f.Chat.ActivityBuffer > 0 {
			config.Chat.ActivityBuffer = f.Chat.ActivityBuffer
		}
		duration("chat.rate_window", f.Chat.RateWindow, &config.Chat.RateWindow)
	}

	if f.Log != nil {
		if f.Log.Level != "" {
			config.Log.Level = f.Log.Level
		}
		if f.Log.Format != "" {
			config.Log.Format = f.Log.Format
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > defaults
// A file that cannot be loaded is reported and the environment config is used.
func LoadConfigWithPrecedence(filepath string) (*Config, error) {
	config := LoadFromEnv()

	if filepath == "" {
		return config, nil
	}
	fileConfig, err := LoadFromFile(filepath)
	if err != nil {
		return config, err
	}
	return fileConfig, nil
}
