package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/annel0/mistborn/internal/logging"
)

// Config корневая структура конфигурации сервера.
type Config struct {
	Sim       SimConfig       `yaml:"sim"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Sync      SyncConfig      `yaml:"sync"`
	Auth      AuthConfig      `yaml:"auth"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SimConfig параметры симуляции
type SimConfig struct {
	TickRateHz        int     `yaml:"tick_rate_hz"`
	Seed              int64   `yaml:"seed"`
	PushThrottleTicks uint64  `yaml:"push_throttle_ticks"`
	CommandQueueSize  int     `yaml:"command_queue_size"`
	AutosaveSeconds   int     `yaml:"autosave_seconds"`
	PewterSpeedBonus  float64 `yaml:"pewter_speed_bonus"`
	PewterFlareHeal   float64 `yaml:"pewter_flare_heal"`
	MaxHealth         float64 `yaml:"max_health"`
}

// TickInterval длительность одного тика
func (s SimConfig) TickInterval() time.Duration {
	return time.Second / time.Duration(s.TickRateHz)
}

// AutosaveInterval интервал автосохранения; 0: выключено
func (s SimConfig) AutosaveInterval() time.Duration {
	return time.Duration(s.AutosaveSeconds) * time.Second
}

type ServerConfig struct {
	GameAddr    string `yaml:"game_addr"`
	Transport   string `yaml:"transport"` // tcp | kcp
	RESTPort    int    `yaml:"rest_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// GetGameAddr адрес игрового транспорта: config -> GAME_ADDR -> :7777
func (s *ServerConfig) GetGameAddr() string {
	return getStringWithEnvFallback(s.GameAddr, "GAME_ADDR", ":7777")
}

// GetTransport транспорт: config -> GAME_TRANSPORT -> tcp
func (s *ServerConfig) GetTransport() string {
	return getStringWithEnvFallback(s.Transport, "GAME_TRANSPORT", "tcp")
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "GAME_REST_PORT", 8088)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений.
// Совпадение с REST портом означает: /metrics отдаёт REST-сервер.
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "GAME_METRICS_PORT", 2112)
}

type StorageConfig struct {
	Backend    string `yaml:"backend"` // badger | maria | memory
	BadgerPath string `yaml:"badger_path"`
	MariaDSN   string `yaml:"maria_dsn"`
}

// GetMariaDSN строка подключения: config -> MARIA_DSN
func (s *StorageConfig) GetMariaDSN() string {
	return getStringWithEnvFallback(s.MariaDSN, "MARIA_DSN", "")
}

type RedisConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	KeyPrefix  string `yaml:"key_prefix"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// GetAddr адрес Redis: config -> REDIS_ADDR -> localhost:6379
func (r *RedisConfig) GetAddr() string {
	return getStringWithEnvFallback(r.Addr, "REDIS_ADDR", "localhost:6379")
}

type EventBusConfig struct {
	URL       string `yaml:"url"` // пусто: шина в памяти
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type SyncConfig struct {
	RegionID     string `yaml:"region_id"`
	BatchSize    int    `yaml:"batch_size"`
	FlushEveryMs int    `yaml:"flush_every_ms"`
	Codec        string `yaml:"codec"` // passthrough | zstd
}

// FlushEvery интервал отправки пачек
func (s SyncConfig) FlushEvery() time.Duration {
	return time.Duration(s.FlushEveryMs) * time.Millisecond
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"` // base64
}

// Secret декодированный ключ подписи: config -> JWT_SECRET
func (a *AuthConfig) Secret() ([]byte, error) {
	raw := getStringWithEnvFallback(a.JWTSecret, "JWT_SECRET", "")
	if raw == "" {
		return nil, fmt.Errorf("jwt_secret не задан")
	}
	secret, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("jwt_secret должен быть в base64: %w", err)
	}
	return secret, nil
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // trace | debug | info | warn | error
	Files bool   `yaml:"files"` // файлы logs/<component>_*.log
}

// ConsoleLevel уровень консольного вывода: config -> LOG_LEVEL -> info
func (l LoggingConfig) ConsoleLevel() (logging.LogLevel, error) {
	return logging.ParseLevel(getStringWithEnvFallback(l.Level, "LOG_LEVEL", "info"))
}

// Default значения по умолчанию
func Default() *Config {
	return &Config{
		Sim: SimConfig{
			TickRateHz:        20,
			Seed:              1,
			PushThrottleTicks: 15,
			CommandQueueSize:  1024,
			AutosaveSeconds:   60,
			PewterSpeedBonus:  0.3,
			PewterFlareHeal:   1.0,
			MaxHealth:         20,
		},
		Server: ServerConfig{
			GameAddr:  ":7777",
			Transport: "tcp",
		},
		Storage: StorageConfig{
			Backend:    "badger",
			BadgerPath: "data",
		},
		Redis: RedisConfig{
			KeyPrefix:  "mistborn:allomancy:",
			TTLSeconds: 300,
		},
		EventBus: EventBusConfig{
			Stream:    "ALLOMANCY",
			Retention: 24,
		},
		Sync: SyncConfig{
			RegionID:     "region-1",
			BatchSize:    256,
			FlushEveryMs: 200,
			Codec:        "zstd",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "mistborn-server",
		},
		Logging: LoggingConfig{
			Files: true,
		},
	}
}

// Validate проверяет значения, которые нельзя молча исправить
func (c *Config) Validate() error {
	if c.Sim.TickRateHz <= 0 {
		return fmt.Errorf("sim.tick_rate_hz должен быть > 0, получено %d", c.Sim.TickRateHz)
	}
	if c.Sim.PushThrottleTicks == 0 {
		return fmt.Errorf("sim.push_throttle_ticks должен быть > 0")
	}
	if c.Sim.CommandQueueSize <= 0 {
		return fmt.Errorf("sim.command_queue_size должен быть > 0")
	}
	switch c.Server.GetTransport() {
	case "tcp", "kcp":
	default:
		return fmt.Errorf("server.transport: неизвестный транспорт %q", c.Server.Transport)
	}
	if _, err := c.Logging.ConsoleLevel(); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Storage.Backend {
	case "badger", "maria", "mysql", "memory":
	default:
		return fmt.Errorf("storage.backend: неизвестный бэкенд %q", c.Storage.Backend)
	}
	return nil
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	// Если порт задан в конфиге и больше 0, используем его
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// getStringWithEnvFallback то же для строк
func getStringWithEnvFallback(configVal, envVar, defaultVal string) string {
	if configVal != "" {
		return configVal
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		return envVal
	}
	return defaultVal
}

// Load читает YAML файл конфигурации поверх Default().
// Если path == "", пытается прочитать из ENV GAME_CONFIG или возвращает Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("GAME_CONFIG")
		if path == "" {
			return cfg, nil // конфиг не задан: использовать дефолты
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения конфигурации %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфигурации %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
