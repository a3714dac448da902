package config

import (
	"fmt"
	"os"
	"time"
)

// AgentConfig конфигурация полевого агента
type AgentConfig struct {
	RemoteAPIURL string `env:"REMOTE_API_URL"`
	HTTPAddr     string `env:"AGENT_HTTP_ADDR" envDefault:"127.0.0.1:8090"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	LocalDBPath  string `env:"LOCAL_DB_PATH" envDefault:"field_reports.db"`

	// Сессия, сохранённая при прошлом запуске (опционально)
	AccessToken  string `env:"ACCESS_TOKEN"`
	ReporterName string `env:"REPORTER_NAME"`

	// Синхронизация
	CallTimeout   time.Duration `env:"SYNC_CALL_TIMEOUT" envDefault:"20s"`
	ProbeInterval time.Duration `env:"CONNECTIVITY_PROBE_INTERVAL" envDefault:"5s"`
	ProbeTimeout  time.Duration `env:"CONNECTIVITY_PROBE_TIMEOUT" envDefault:"3s"`

	// Хранилище фотографий (S3 совместимое)
	S3Bucket        string `env:"S3_BUCKET" envDefault:"disaster-photos"`
	S3Region        string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint      string `env:"S3_ENDPOINT"`
	S3PublicBaseURL string `env:"S3_PUBLIC_BASE_URL"`
	S3KeyPrefix     string `env:"S3_KEY_PREFIX"`
	S3UsePathStyle  bool   `env:"S3_USE_PATH_STYLE" envDefault:"false"`
}

// LoadAgentConfig загружает конфигурацию агента из окружения и .env файла
func LoadAgentConfig() (*AgentConfig, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg := &AgentConfig{
		RemoteAPIURL:    os.Getenv("REMOTE_API_URL"),
		HTTPAddr:        getEnv("AGENT_HTTP_ADDR", "127.0.0.1:8090"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LocalDBPath:     getEnv("LOCAL_DB_PATH", "field_reports.db"),
		AccessToken:     os.Getenv("ACCESS_TOKEN"),
		ReporterName:    os.Getenv("REPORTER_NAME"),
		CallTimeout:     getEnvAsDuration("SYNC_CALL_TIMEOUT", 20*time.Second),
		ProbeInterval:   getEnvAsDuration("CONNECTIVITY_PROBE_INTERVAL", 5*time.Second),
		ProbeTimeout:    getEnvAsDuration("CONNECTIVITY_PROBE_TIMEOUT", 3*time.Second),
		S3Bucket:        getEnv("S3_BUCKET", "disaster-photos"),
		S3Region:        getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:      os.Getenv("S3_ENDPOINT"),
		S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),
		S3KeyPrefix:     os.Getenv("S3_KEY_PREFIX"),
		S3UsePathStyle:  getEnvAsBool("S3_USE_PATH_STYLE", false),
	}

	if cfg.RemoteAPIURL == "" {
		return nil, fmt.Errorf("REMOTE_API_URL environment variable is required")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 20 * time.Second
	}

	return cfg, nil
}
