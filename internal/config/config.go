package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Demo        DemoConfig        `yaml:"demo"`
	NATS        NATSConfig        `yaml:"nats"`
	Store       StoreConfig       `yaml:"store"`
	Checkpoint  CheckpointConfig  `yaml:"checkpoint"`
	Web         WebConfig         `yaml:"web"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	Log         LogConfig         `yaml:"log"`
}

type CoordinatorConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
	MessageInterval   time.Duration `yaml:"message_interval"`
	MessageBatch      int           `yaml:"message_batch"`
	MajorInterval     time.Duration `yaml:"major_interval"`
	MinorInterval     time.Duration `yaml:"minor_interval"`
	EmergencyLockTTL  time.Duration `yaml:"emergency_lock_ttl"`
	QuorumRatio       float64       `yaml:"quorum_ratio"`
}

type MonitorConfig struct {
	DashboardInterval  time.Duration `yaml:"dashboard_interval"`
	AlertInterval      time.Duration `yaml:"alert_interval"`
	HistorySize        int           `yaml:"history_size"`
	TrendWindow        int           `yaml:"trend_window"`
	AlertDedup         time.Duration `yaml:"alert_dedup"`
	AlertRetention     time.Duration `yaml:"alert_retention"`
	CriticalAlertLimit int           `yaml:"critical_alert_limit"`
	Thresholds         Thresholds    `yaml:"thresholds"`
	RenderDashboard    bool          `yaml:"render_dashboard"`
}

// Thresholds holds the warning/critical limits used by anomaly detection
// and alerting.
type Thresholds struct {
	EfficiencyWarning   float64 `yaml:"efficiency_warning"`
	EfficiencyCritical  float64 `yaml:"efficiency_critical"`
	BacklogCritical     int     `yaml:"backlog_critical"`
	UtilizationCritical float64 `yaml:"utilization_critical"`
	ErrorRateCritical   float64 `yaml:"error_rate_critical"`
}

type DemoConfig struct {
	TaskDelayMin  time.Duration `yaml:"task_delay_min"`
	TaskDelayMax  time.Duration `yaml:"task_delay_max"`
	RecoveryDelay time.Duration `yaml:"recovery_delay"`
	Settle        time.Duration `yaml:"settle"`
	// Pulse is how often swarms heartbeat and the monitor collects metrics.
	Pulse time.Duration `yaml:"pulse"`
}

type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type CheckpointConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Schedule     string        `yaml:"schedule"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type WebConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
	// PerMinute caps outgoing alert notifications.
	PerMinute int `yaml:"per_minute"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Defaults returns the configuration used when no file or env override is
// present.
func Defaults() Config {
	return defaults()
}

func defaults() Config {
	return Config{
		Coordinator: CoordinatorConfig{
			HeartbeatInterval: time.Second,
			HeartbeatTimeout:  5 * time.Second,
			MessageInterval:   50 * time.Millisecond,
			MessageBatch:      10,
			MajorInterval:     10 * time.Second,
			MinorInterval:     2 * time.Second,
			EmergencyLockTTL:  5 * time.Second,
			QuorumRatio:       0.66,
		},
		Monitor: MonitorConfig{
			DashboardInterval:  5 * time.Second,
			AlertInterval:      time.Second,
			HistorySize:        100,
			TrendWindow:        10,
			AlertDedup:         60 * time.Second,
			AlertRetention:     5 * time.Minute,
			CriticalAlertLimit: 3,
			Thresholds: Thresholds{
				EfficiencyWarning:   70,
				EfficiencyCritical:  50,
				BacklogCritical:     20,
				UtilizationCritical: 95,
				ErrorRateCritical:   10,
			},
			RenderDashboard: true,
		},
		Demo: DemoConfig{
			TaskDelayMin:  2 * time.Second,
			TaskDelayMax:  5 * time.Second,
			RecoveryDelay: 2 * time.Second,
			Settle:        12 * time.Second,
			Pulse:         time.Second,
		},
		NATS: NATSConfig{
			Enabled: true,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/swarmlab.db",
		},
		Checkpoint: CheckpointConfig{
			Enabled:      true,
			Schedule:     `{"kind":"interval","interval_ms":5000}`,
			PollInterval: time.Second,
		},
		Web: WebConfig{
			Enabled: false,
			Port:    8080,
		},
		Telegram: TelegramConfig{
			PerMinute: 6,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("SWARMLAB_CONFIG")
	if path == "" {
		path = "config/swarmlab.yaml"
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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values that would stall a loop or break quorum math.
func (c *Config) Validate() error {
	co := c.Coordinator
	for name, d := range map[string]time.Duration{
		"coordinator.heartbeat_interval": co.HeartbeatInterval,
		"coordinator.message_interval":   co.MessageInterval,
		"coordinator.major_interval":     co.MajorInterval,
		"coordinator.minor_interval":     co.MinorInterval,
		"monitor.dashboard_interval":     c.Monitor.DashboardInterval,
		"monitor.alert_interval":         c.Monitor.AlertInterval,
		"demo.pulse":                     c.Demo.Pulse,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if co.MessageBatch <= 0 {
		return fmt.Errorf("coordinator.message_batch must be positive")
	}
	if co.QuorumRatio <= 0 || co.QuorumRatio > 1 {
		return fmt.Errorf("coordinator.quorum_ratio must be in (0, 1], got %v", co.QuorumRatio)
	}
	if c.Monitor.HistorySize <= 0 {
		return fmt.Errorf("monitor.history_size must be positive")
	}
	if c.Demo.TaskDelayMax < c.Demo.TaskDelayMin {
		return fmt.Errorf("demo.task_delay_max must be >= demo.task_delay_min")
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SWARMLAB_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("SWARMLAB_TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
	if v := os.Getenv("SWARMLAB_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
			cfg.Web.Enabled = true
		}
	}
	if v := os.Getenv("SWARMLAB_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SWARMLAB_NATS_DATA_DIR"); v != "" {
		cfg.NATS.DataDir = v
	}
	if v := os.Getenv("SWARMLAB_CHECKPOINT_SCHEDULE"); v != "" {
		cfg.Checkpoint.Schedule = v
	}
	if v := os.Getenv("SWARMLAB_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}
