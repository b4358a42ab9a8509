package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации стримера
type Config struct {
	Streaming StreamingConfig `yaml:"streaming"`
	Storage   StorageConfig   `yaml:"storage"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StreamingConfig параметры движка подгрузки чанков.
// Радиусы задаются в чанках.
type StreamingConfig struct {
	Seed             int64 `yaml:"seed"`
	LoadRadius       int   `yaml:"load_radius"`
	UnloadRadius     int   `yaml:"unload_radius"`
	MeshRadius       int   `yaml:"mesh_radius"`
	DecorationRadius int   `yaml:"decoration_radius"`
	NeighborMargin   int   `yaml:"neighbor_margin"`

	MinChunkY       int `yaml:"min_chunk_y"`
	MaxChunkY       int `yaml:"max_chunk_y"`
	HorizontalLimit int `yaml:"horizontal_limit"`

	GenerationWorkers int `yaml:"generation_workers"` // 0: по числу ядер
	MeshWorkers       int `yaml:"mesh_workers"`

	ReadyQueueCapacity      int `yaml:"ready_queue_capacity"`
	CompletedBufferCapacity int `yaml:"completed_buffer_capacity"`
	RetainedCacheSize       int `yaml:"retained_cache_size"`
	ChunkPoolSize           int `yaml:"chunk_pool_size"`

	MaxIntegrationsPerTick int `yaml:"max_integrations_per_tick"`
	MaxUploadsPerTick      int `yaml:"max_uploads_per_tick"`
	TickBudgetMs           int `yaml:"tick_budget_ms"`
	MaxUnloadsPerUpdate    int `yaml:"max_unloads_per_update"`

	PredictiveSpeed  float64 `yaml:"predictive_speed"` // блоков в секунду
	LookAheadSeconds float64 `yaml:"look_ahead_seconds"`
	PredictiveRadius int     `yaml:"predictive_radius"`

	RetryBaseMs      int `yaml:"retry_base_ms"`
	RetryMaxAttempts int `yaml:"retry_max_attempts"`
	RetryIntervalMs  int `yaml:"retry_interval_ms"`

	CullBelowChunkY     int `yaml:"cull_below_chunk_y"`
	MaxNeighborWaits    int `yaml:"max_neighbor_waits"`
	BackpressureSleepMs int `yaml:"backpressure_sleep_ms"`

	SpawnAnchor *AnchorConfig `yaml:"spawn_anchor"`
}

// AnchorConfig постоянно загруженная область вокруг точки спавна
type AnchorConfig struct {
	X      int `yaml:"x"`
	Y      int `yaml:"y"`
	Z      int `yaml:"z"`
	Radius int `yaml:"radius"`
}

// StorageConfig постоянное хранилище чанков
type StorageConfig struct {
	Backend       string `yaml:"backend"` // memory | badger | redis
	Path          string `yaml:"path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
}

// EventBusConfig шина событий. Пустой URL: шина в памяти.
type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
	Buffer    int    `yaml:"buffer"`
}

// ServerConfig HTTP сервер статуса и метрик
type ServerConfig struct {
	StatusPort int `yaml:"status_port"`
}

// TelemetryConfig OpenTelemetry
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"`
}

// LoggingConfig уровни логирования
type LoggingConfig struct {
	Level    string `yaml:"level"`
	FileSink bool   `yaml:"file_sink"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		Streaming: StreamingConfig{
			Seed:                    1337,
			LoadRadius:              6,
			UnloadRadius:            9,
			MeshRadius:              6,
			DecorationRadius:        3,
			NeighborMargin:          1,
			MinChunkY:               -4,
			MaxChunkY:               8,
			MeshWorkers:             4,
			ReadyQueueCapacity:      256,
			CompletedBufferCapacity: 512,
			RetainedCacheSize:       512,
			ChunkPoolSize:           1024,
			MaxIntegrationsPerTick:  64,
			MaxUploadsPerTick:       16,
			TickBudgetMs:            4,
			MaxUnloadsPerUpdate:     128,
			PredictiveSpeed:         20,
			LookAheadSeconds:        2,
			PredictiveRadius:        1,
			RetryBaseMs:             1000,
			RetryMaxAttempts:        5,
			RetryIntervalMs:         250,
			CullBelowChunkY:         2,
			MaxNeighborWaits:        8,
			BackpressureSleepMs:     2,
		},
		Storage: StorageConfig{
			Backend:   "memory",
			Path:      "data",
			RedisAddr: "localhost:6379",
			KeyPrefix: "streamer:",
		},
		EventBus: EventBusConfig{
			Stream:    "CHUNKS",
			Retention: 24,
			Buffer:    256,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "chunk-streamer",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate проверяет согласованность параметров
func (c *Config) Validate() error {
	s := c.Streaming
	var errs []error
	if s.LoadRadius < 0 {
		errs = append(errs, fmt.Errorf("load_radius должен быть >= 0, получено %d", s.LoadRadius))
	}
	if s.UnloadRadius < s.LoadRadius+s.NeighborMargin {
		errs = append(errs, fmt.Errorf("unload_radius (%d) меньше load_radius+neighbor_margin (%d): чанки будут выгружаться сразу после загрузки",
			s.UnloadRadius, s.LoadRadius+s.NeighborMargin))
	}
	if s.DecorationRadius > s.MeshRadius {
		errs = append(errs, fmt.Errorf("decoration_radius (%d) больше mesh_radius (%d)", s.DecorationRadius, s.MeshRadius))
	}
	if s.MinChunkY > s.MaxChunkY {
		errs = append(errs, fmt.Errorf("min_chunk_y (%d) больше max_chunk_y (%d)", s.MinChunkY, s.MaxChunkY))
	}
	if s.MeshWorkers <= 0 {
		errs = append(errs, errors.New("mesh_workers должен быть > 0"))
	}
	if s.ReadyQueueCapacity <= 0 || s.CompletedBufferCapacity <= 0 {
		errs = append(errs, errors.New("ёмкости очередей должны быть > 0"))
	}
	if s.MaxUploadsPerTick <= 0 || s.MaxIntegrationsPerTick <= 0 {
		errs = append(errs, errors.New("лимиты на кадр должны быть > 0"))
	}
	if s.RetryMaxAttempts <= 0 {
		errs = append(errs, errors.New("retry_max_attempts должен быть > 0"))
	}
	switch c.Storage.Backend {
	case "memory", "badger", "redis":
	default:
		errs = append(errs, fmt.Errorf("неизвестный storage.backend: %q", c.Storage.Backend))
	}
	return errors.Join(errs...)
}

// GetStatusPort возвращает порт HTTP статуса с поддержкой fallback значений
func (s *ServerConfig) GetStatusPort() int {
	return getPortWithEnvFallback(s.StatusPort, "STREAMER_STATUS_PORT", 8088)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	// Если порт задан в конфиге и больше 0, используем его
	if configPort > 0 {
		return configPort
	}

	// Пробуем прочитать из environment variable
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	// Используем дефолтное значение
	return defaultPort
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", пытается прочитать из ENV STREAMER_CONFIG;
// если и он не задан, возвращает Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("STREAMER_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение конфигурации %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("разбор конфигурации %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("некорректная конфигурация %s: %w", path, err)
	}
	return cfg, nil
}
