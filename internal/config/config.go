package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Host         string   `yaml:"host"`
		Port         int      `yaml:"port"`
		ReadTimeout  string   `yaml:"read_timeout"`
		WriteTimeout string   `yaml:"write_timeout"`
		CORSOrigins  []string `yaml:"cors_origins"`
	} `yaml:"server"`
	HTTP struct {
		RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
		RateLimitBurst     int `yaml:"rate_limit_burst"`
	} `yaml:"http"`
	MCP struct {
		Enabled bool `yaml:"enabled"`
		HTTP    struct {
			Enabled bool   `yaml:"enabled"`
			Path    string `yaml:"path"`
		} `yaml:"http"`
	} `yaml:"mcp"`
	Database struct {
		Path           string `yaml:"path"`
		WALMode        bool   `yaml:"wal_mode"`
		MaxConnections int    `yaml:"max_connections"`
		BackupPath     string `yaml:"backup_path"`
	} `yaml:"database"`
	Broker struct {
		BatchTimeout         string `yaml:"batch_timeout"`
		BatchThreshold       int    `yaml:"batch_threshold"`
		SendQueueSize        int    `yaml:"send_queue_size"`
		WriteTimeout         string `yaml:"write_timeout"`
		MaxMessageSizeKB     int    `yaml:"max_message_size_kb"`
		InboundRatePerSecond int    `yaml:"inbound_rate_per_second"`
		InboundRateBurst     int    `yaml:"inbound_rate_burst"`
	} `yaml:"broker"`
	Thresholds Thresholds `yaml:"thresholds"`
	Simulator  struct {
		Enabled        bool     `yaml:"enabled"`
		SeedPatients   int      `yaml:"seed_patients"`
		VitalsSchedule string   `yaml:"vitals_schedule"`
		CensusSchedule string   `yaml:"census_schedule"`
		VitalsPerTick  int      `yaml:"vitals_per_tick"`
		Rooms          []string `yaml:"rooms"`
	} `yaml:"simulator"`
	Client struct {
		WSURL                string `yaml:"ws_url"`
		ReconnectInterval    string `yaml:"reconnect_interval"`
		MaxReconnectAttempts int    `yaml:"max_reconnect_attempts"`
		HighlightDuration    string `yaml:"highlight_duration"`
	} `yaml:"client"`
	UI struct {
		GridColumns int `yaml:"grid_columns"`
		AnimationMS int `yaml:"animation_ms"`
		PageSize    int `yaml:"page_size"`
	} `yaml:"ui"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"logging"`
}

// Thresholds drive the vitals severity evaluator.
type Thresholds struct {
	SystolicHigh  int `yaml:"systolic_high" json:"systolic_high"`
	SystolicLow   int `yaml:"systolic_low" json:"systolic_low"`
	DiastolicHigh int `yaml:"diastolic_high" json:"diastolic_high"`
	DiastolicLow  int `yaml:"diastolic_low" json:"diastolic_low"`
	HeartRateHigh int `yaml:"heart_rate_high" json:"heart_rate_high"`
	HeartRateLow  int `yaml:"heart_rate_low" json:"heart_rate_low"`
	OxygenLow     int `yaml:"oxygen_low" json:"oxygen_low"`
}

func Default() Config {
	cfg := Config{}
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = "30s"
	cfg.Server.WriteTimeout = "30s"
	cfg.Server.CORSOrigins = []string{"http://localhost:3000"}
	cfg.HTTP.RateLimitPerMinute = 1000
	cfg.HTTP.RateLimitBurst = 200
	cfg.MCP.Enabled = true
	cfg.MCP.HTTP.Enabled = false
	cfg.MCP.HTTP.Path = "/mcp"
	cfg.Database.Path = "./vitalwatch.db"
	cfg.Database.WALMode = true
	cfg.Database.MaxConnections = 10
	cfg.Database.BackupPath = "./backups/"
	cfg.Broker.BatchTimeout = "1s"
	cfg.Broker.BatchThreshold = 100
	cfg.Broker.SendQueueSize = 64
	cfg.Broker.WriteTimeout = "10s"
	cfg.Broker.MaxMessageSizeKB = 64
	cfg.Broker.InboundRatePerSecond = 50
	cfg.Broker.InboundRateBurst = 100
	cfg.Thresholds = DefaultThresholds()
	cfg.Simulator.Enabled = true
	cfg.Simulator.SeedPatients = 24
	cfg.Simulator.VitalsSchedule = "@every 2s"
	cfg.Simulator.CensusSchedule = "@every 30s"
	cfg.Simulator.VitalsPerTick = 5
	cfg.Simulator.Rooms = []string{"101", "102", "103", "104", "201", "202", "203", "204"}
	cfg.Client.WSURL = "ws://localhost:8080/api/v1/ws"
	cfg.Client.ReconnectInterval = "3s"
	cfg.Client.MaxReconnectAttempts = 5
	cfg.Client.HighlightDuration = "2s"
	cfg.UI.GridColumns = 4
	cfg.UI.AnimationMS = 300
	cfg.UI.PageSize = 12
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	return cfg
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		SystolicHigh:  140,
		SystolicLow:   90,
		DiastolicHigh: 90,
		DiastolicLow:  60,
		HeartRateHigh: 100,
		HeartRateLow:  60,
		OxygenLow:     95,
	}
}

// Load layers the YAML file (optional), .env files and VITALWATCH_* variables over Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}
	overrideFromEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadDotEnv() error {
	for _, file := range []string{".env", ".env.local"} {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

func Addr(cfg Config) string {
	return cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port)
}

func ReadTimeout(cfg Config) time.Duration {
	return durationOr(cfg.Server.ReadTimeout, 30*time.Second)
}

func WriteTimeout(cfg Config) time.Duration {
	return durationOr(cfg.Server.WriteTimeout, 30*time.Second)
}

func BatchTimeout(cfg Config) time.Duration {
	return durationOr(cfg.Broker.BatchTimeout, time.Second)
}

func BrokerWriteTimeout(cfg Config) time.Duration {
	return durationOr(cfg.Broker.WriteTimeout, 10*time.Second)
}

func ReconnectInterval(cfg Config) time.Duration {
	return durationOr(cfg.Client.ReconnectInterval, 3*time.Second)
}

func HighlightDuration(cfg Config) time.Duration {
	return durationOr(cfg.Client.HighlightDuration, 2*time.Second)
}

func durationOr(raw string, fallback time.Duration) time.Duration {
	d, _ := time.ParseDuration(raw)
	if d <= 0 {
		return fallback
	}
	return d
}

func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("VITALWATCH_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	envInt("VITALWATCH_SERVER_PORT", &cfg.Server.Port)
	if v := os.Getenv("VITALWATCH_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("VITALWATCH_BATCH_TIMEOUT"); v != "" {
		cfg.Broker.BatchTimeout = v
	}
	envInt("VITALWATCH_BATCH_THRESHOLD", &cfg.Broker.BatchThreshold)
	envInt("VITALWATCH_SEND_QUEUE_SIZE", &cfg.Broker.SendQueueSize)

	envInt("VITALWATCH_SYSTOLIC_HIGH", &cfg.Thresholds.SystolicHigh)
	envInt("VITALWATCH_SYSTOLIC_LOW", &cfg.Thresholds.SystolicLow)
	envInt("VITALWATCH_DIASTOLIC_HIGH", &cfg.Thresholds.DiastolicHigh)
	envInt("VITALWATCH_DIASTOLIC_LOW", &cfg.Thresholds.DiastolicLow)
	envInt("VITALWATCH_HEART_RATE_HIGH", &cfg.Thresholds.HeartRateHigh)
	envInt("VITALWATCH_HEART_RATE_LOW", &cfg.Thresholds.HeartRateLow)
	envInt("VITALWATCH_OXYGEN_LOW", &cfg.Thresholds.OxygenLow)

	if v := os.Getenv("VITALWATCH_SIMULATOR_ENABLED"); v != "" {
		cfg.Simulator.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("VITALWATCH_WS_URL"); v != "" {
		cfg.Client.WSURL = v
	}
	if v := os.Getenv("VITALWATCH_RECONNECT_INTERVAL"); v != "" {
		cfg.Client.ReconnectInterval = v
	}
	envInt("VITALWATCH_MAX_RECONNECT_ATTEMPTS", &cfg.Client.MaxReconnectAttempts)
	if v := os.Getenv("VITALWATCH_HIGHLIGHT_DURATION"); v != "" {
		cfg.Client.HighlightDuration = v
	}
	envInt("VITALWATCH_UI_GRID_COLUMNS", &cfg.UI.GridColumns)
	envInt("VITALWATCH_UI_ANIMATION_MS", &cfg.UI.AnimationMS)

	if v := os.Getenv("VITALWATCH_MCP_HTTP_ENABLED"); v != "" {
		cfg.MCP.HTTP.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("VITALWATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("VITALWATCH_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func validate(cfg Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return errors.New("invalid server.port")
	}
	if cfg.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if d, err := time.ParseDuration(cfg.Broker.BatchTimeout); err != nil || d <= 0 {
		return errors.New("broker.batch_timeout must be a positive duration")
	}
	if cfg.Broker.BatchThreshold <= 0 {
		return errors.New("broker.batch_threshold must be > 0")
	}
	if cfg.Broker.SendQueueSize <= 0 {
		return errors.New("broker.send_queue_size must be > 0")
	}
	if strings.TrimSpace(cfg.MCP.HTTP.Path) == "" || cfg.MCP.HTTP.Path[0] != '/' {
		return errors.New("mcp.http.path must start with '/'")
	}
	t := cfg.Thresholds
	if t.SystolicLow >= t.SystolicHigh {
		return errors.New("thresholds.systolic_low must be below thresholds.systolic_high")
	}
	if t.DiastolicLow >= t.DiastolicHigh {
		return errors.New("thresholds.diastolic_low must be below thresholds.diastolic_high")
	}
	if t.HeartRateLow >= t.HeartRateHigh {
		return errors.New("thresholds.heart_rate_low must be below thresholds.heart_rate_high")
	}
	if t.OxygenLow <= 0 || t.OxygenLow > 100 {
		return errors.New("thresholds.oxygen_low must be within 1..100")
	}
	if cfg.Client.MaxReconnectAttempts <= 0 {
		return errors.New("client.max_reconnect_attempts must be > 0")
	}
	if cfg.Simulator.Enabled && len(cfg.Simulator.Rooms) == 0 {
		return errors.New("simulator.rooms must not be empty when the simulator is enabled")
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging.format: %s", cfg.Logging.Format)
	}
	return nil
}
