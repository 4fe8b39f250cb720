package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 聚合客户端与本地联调服务的配置项。
type Config struct {
	Backend BackendConfig
	Session SessionConfig
	Storage StorageConfig
	Log     LogConfig
	Server  ServerConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	backend, err := loadBackendConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	storage, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Backend: backend,
		Session: session,
		Storage: storage,
		Log: LogConfig{
			Level: getEnvOrDefault("LOG_LEVEL", "info"),
			File:  strings.TrimSpace(os.Getenv("LOG_FILE")),
		},
		Server: server,
	}, nil
}

// BackendConfig 描述后端 REST 与实时连接地址。
type BackendConfig struct {
	BaseURL   string
	SocketURL string
	Token     string
	Timeout   time.Duration
}

// SessionConfig 描述聊天会话的节奏参数。
type SessionConfig struct {
	UserID            string
	HeartbeatInterval time.Duration
	CareDelay         time.Duration
	HistoryTimeout    time.Duration
	DailyCare         bool
	Greeting          bool
}

// StorageConfig 选择本地持久化后端。
type StorageConfig struct {
	Driver      string
	Path        string
	RedisAddr   string
	RedisPrefix string
}

// LogConfig 描述日志级别与输出位置。
type LogConfig struct {
	Level string
	File  string
}

// ServerConfig 描述本地联调服务的监听地址。
type ServerConfig struct {
	Addr string
}

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

func loadBackendConfig() (BackendConfig, error) {
	baseURL := getEnvOrDefault("BACKEND_URL", "http://localhost:8080/")
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	socketURL := strings.TrimSpace(os.Getenv("SOCKET_URL"))
	if socketURL == "" {
		derived, err := deriveSocketURL(baseURL)
		if err != nil {
			return BackendConfig{}, err
		}
		socketURL = derived
	}

	timeout, err := parseSecondsEnv("HTTP_TIMEOUT", 10)
	if err != nil {
		return BackendConfig{}, err
	}

	return BackendConfig{
		BaseURL:   baseURL,
		SocketURL: socketURL,
		Token:     strings.TrimSpace(os.Getenv("API_TOKEN")),
		Timeout:   timeout,
	}, nil
}

// deriveSocketURL 把 http(s) 基础地址换算为聊天 websocket 地址。
func deriveSocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid BACKEND_URL value %q: %w", baseURL, err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid BACKEND_URL scheme %q", u.Scheme)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/lovers/chat"
	return u.String(), nil
}

func loadSessionConfig() (SessionConfig, error) {
	heartbeat, err := parseSecondsEnv("HEARTBEAT_INTERVAL", 30)
	if err != nil {
		return SessionConfig{}, err
	}
	if heartbeat <= 0 {
		return SessionConfig{}, fmt.Errorf("HEARTBEAT_INTERVAL must be positive")
	}

	careDelay := 3 * time.Second
	if override, err := parseOptionalIntEnv("CARE_DELAY_MS"); err != nil {
		return SessionConfig{}, err
	} else if override != nil {
		if *override < 0 {
			careDelay = 0
		} else {
			careDelay = time.Duration(*override) * time.Millisecond
		}
	}

	historyTimeout, err := parseSecondsEnv("HISTORY_TIMEOUT", 5)
	if err != nil {
		return SessionConfig{}, err
	}

	dailyCare, err := parseBoolEnv("DAILY_CARE_ENABLED", true)
	if err != nil {
		return SessionConfig{}, err
	}

	greeting, err := parseBoolEnv("GREETING_ENABLED", true)
	if err != nil {
		return SessionConfig{}, err
	}

	return SessionConfig{
		UserID:            strings.TrimSpace(os.Getenv("USER_ID")),
		HeartbeatInterval: heartbeat,
		CareDelay:         careDelay,
		HistoryTimeout:    historyTimeout,
		DailyCare:         dailyCare,
		Greeting:          greeting,
	}, nil
}

func loadStorageConfig() (StorageConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("STORAGE_DRIVER", DriverSQLite))
	switch driver {
	case DriverMemory, DriverSQLite, DriverRedis:
	default:
		return StorageConfig{}, fmt.Errorf("invalid STORAGE_DRIVER value: %q", driver)
	}

	return StorageConfig{
		Driver:      driver,
		Path:        getEnvOrDefault("STORAGE_PATH", "companion.db"),
		RedisAddr:   getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPrefix: getEnvOrDefault("REDIS_PREFIX", "companion:"),
	}, nil
}

// loadServerConfig 解析本地联调服务监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseSecondsEnv(key string, defaultSeconds int) (time.Duration, error) {
	seconds, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if seconds == nil {
		return time.Duration(defaultSeconds) * time.Second, nil
	}
	return time.Duration(*seconds) * time.Second, nil
}
