package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Provider ProviderConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	storage, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	provider, err := loadProviderConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Storage: storage, Provider: provider}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr          string
	PublicBaseURL string
}

// loadServerConfig 解析服务器监听地址与对外基础地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	addr := port
	if !strings.Contains(port, ":") {
		if strings.Contains(port, " ") {
			return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
		}
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		addr = ":" + port
	}

	publicBase := getEnvOrDefault("PUBLIC_BASE_URL", "http://localhost"+normalizePortSuffix(addr))
	return ServerConfig{Addr: addr, PublicBaseURL: strings.TrimRight(publicBase, "/")}, nil
}

func normalizePortSuffix(addr string) string {
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		return addr[idx:]
	}
	return ":8080"
}

// StorageConfig 描述会话目录与回收策略。
type StorageConfig struct {
	Root          string
	Retention     time.Duration
	SweepInterval time.Duration
}

func loadStorageConfig() (StorageConfig, error) {
	retention := 3600
	if override, err := parseOptionalIntEnv("RETENTION_SECONDS"); err != nil {
		return StorageConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return StorageConfig{}, fmt.Errorf("RETENTION_SECONDS must be positive")
		}
		retention = *override
	}

	// 0 disables the timer; sweeps then run only on joins.
	sweep := 0
	if override, err := parseOptionalIntEnv("SWEEP_INTERVAL_SECONDS"); err != nil {
		return StorageConfig{}, err
	} else if override != nil {
		sweep = *override
	}

	return StorageConfig{
		Root:          getEnvOrDefault("STORAGE_ROOT", "scans"),
		Retention:     time.Duration(retention) * time.Second,
		SweepInterval: time.Duration(sweep) * time.Second,
	}, nil
}

// ProviderConfig 描述外部重建服务相关配置。
type ProviderConfig struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	MaxAttempts  int
}

// Enabled 表示是否提供了必需的密钥。缺失时任务提交会以配置错误终止，
// 服务的其余功能不受影响。
func (c ProviderConfig) Enabled() bool {
	return c.APIKey != ""
}

func loadProviderConfig() (ProviderConfig, error) {
	pollSeconds := 2
	if override, err := parseOptionalIntEnv("POLL_INTERVAL_SECONDS"); err != nil {
		return ProviderConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return ProviderConfig{}, fmt.Errorf("POLL_INTERVAL_SECONDS must be positive")
		}
		pollSeconds = *override
	}

	maxAttempts := 60
	if override, err := parseOptionalIntEnv("POLL_MAX_ATTEMPTS"); err != nil {
		return ProviderConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return ProviderConfig{}, fmt.Errorf("POLL_MAX_ATTEMPTS must be positive")
		}
		maxAttempts = *override
	}

	return ProviderConfig{
		APIKey:       strings.TrimSpace(os.Getenv("MESHY_API_KEY")),
		BaseURL:      getEnvOrDefault("MESHY_BASE_URL", "https://api.meshy.ai"),
		PollInterval: time.Duration(pollSeconds) * time.Second,
		MaxAttempts:  maxAttempts,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
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
