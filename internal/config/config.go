package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the collision monitor (fleetmon) configuration.
type Config struct {
	Fleet    FleetConfig    `yaml:"fleet"`
	NATS     NATSConfig     `yaml:"nats"`
	Store    StoreConfig    `yaml:"store"`
	Web      WebConfig      `yaml:"web"`
	Telegram TelegramConfig `yaml:"telegram"`
	Janitor  JanitorConfig  `yaml:"janitor"`
	LogsDir  string         `yaml:"logs_dir"`
}

// FleetConfig describes the fleet the monitor coordinates.
type FleetConfig struct {
	// Width and Height are the robot bounding-box dimensions in workspace
	// units, shared by every robot.
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
	// NumAgents is the exact batch size: one report per robot per cycle.
	NumAgents int `yaml:"num_agents"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
	// Auth protects the query API when set. A bcrypt hash ($2...) is
	// verified as such; any other value is compared directly.
	Auth string `yaml:"auth"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

type JanitorConfig struct {
	// Schedule is a cron expression; stale robot rows are pruned on it.
	Schedule string `yaml:"schedule"`
	// Retention is how long a robot row may go without an update before
	// the janitor removes it.
	Retention time.Duration `yaml:"retention"`
}

// RobotConfig is the per-robot (fleetbot) configuration.
type RobotConfig struct {
	DeviceID       string        `yaml:"device_id"`
	NATSURL        string        `yaml:"nats_url"`
	Store          StoreConfig   `yaml:"store"`
	InitStatePath  string        `yaml:"init_state_path"`
	LowerSOCLimit  float64       `yaml:"lower_soc_limit"`
	ReportInterval time.Duration `yaml:"report_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	LogsDir        string        `yaml:"logs_dir"`
}

func defaults() Config {
	return Config{
		Fleet: FleetConfig{
			Width:     1.0,
			Height:    1.0,
			NumAgents: 3,
		},
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/fleetmon.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    9877,
		},
		Janitor: JanitorConfig{
			Schedule:  "*/15 * * * *",
			Retention: 24 * time.Hour,
		},
	}
}

func robotDefaults() RobotConfig {
	return RobotConfig{
		NATSURL:        "nats://localhost:4222",
		Store:          StoreConfig{Path: "data/fleetbot.db"},
		LowerSOCLimit:  10.0,
		ReportInterval: time.Second,
		RequestTimeout: 5 * time.Second,
	}
}

// Load reads the monitor configuration: defaults, then the YAML file
// (env-var expanded), then environment overrides.
func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("FLEETMON_CONFIG")
	if path == "" {
		path = "config/fleetmon.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if cfg.Fleet.NumAgents <= 0 {
		return nil, fmt.Errorf("fleet.num_agents must be positive, got %d", cfg.Fleet.NumAgents)
	}
	if cfg.Fleet.Width <= 0 || cfg.Fleet.Height <= 0 {
		return nil, fmt.Errorf("fleet bounding box must be positive, got %gx%g", cfg.Fleet.Width, cfg.Fleet.Height)
	}

	return &cfg, nil
}

// LoadRobot reads a robot configuration the same way.
func LoadRobot() (*RobotConfig, error) {
	cfg := robotDefaults()

	path := os.Getenv("FLEETBOT_CONFIG")
	if path == "" {
		path = "config/fleetbot.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyRobotEnv(&cfg)

	if cfg.DeviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FLEETMON_NUM_AGENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Fleet.NumAgents = n
		}
	}
	if v := os.Getenv("FLEETMON_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("FLEETMON_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("FLEETMON_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("FLEETMON_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("FLEETMON_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("FLEETMON_TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
	if v := os.Getenv("FLEETMON_LOGS_DIR"); v != "" {
		cfg.LogsDir = v
	}
}

func applyRobotEnv(cfg *RobotConfig) {
	if v := os.Getenv("FLEETBOT_DEVICE_ID"); v != "" {
		cfg.DeviceID = v
	}
	if v := os.Getenv("FLEETBOT_NATS_URL"); v != "" {
		cfg.NATSURL = v
	}
	if v := os.Getenv("FLEETBOT_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("FLEETBOT_INIT_STATE"); v != "" {
		cfg.InitStatePath = v
	}
}
