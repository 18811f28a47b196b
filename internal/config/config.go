package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// AppConfig хранит все параметры приложения
type AppConfig struct {
	System   SystemConfig   `yaml:"system"`
	Web      WebConfig      `yaml:"web"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Notify   NotifyConfig   `yaml:"notify"`
	Loyalty  LoyaltyConfig  `yaml:"loyalty"`
	Logger   LoggerConfig   `yaml:"logger"`
}

type SystemConfig struct {
	Location string `yaml:"location"`
	NodeID   int64  `yaml:"node_id"`
	Debug    bool   `yaml:"debug"`
}

type WebConfig struct {
	Addr      string `yaml:"addr"`
	JwtSecret string `yaml:"jwt_secret"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"` // memory | postgres
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	MaxConn  int    `yaml:"max_conn"`
	Debug    bool   `yaml:"debug"`
}

type RabbitMQConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	VHost    string `yaml:"vhost"`
	Exchange string `yaml:"exchange"`
}

type NotifyConfig struct {
	FlushInterval  time.Duration `yaml:"flush_interval"`
	BatchSize      int           `yaml:"batch_size"`
	MaxAttempts    int           `yaml:"max_attempts"`
	Workers        int           `yaml:"workers"`
	RetentionHours int           `yaml:"retention_hours"`
}

type LoyaltyConfig struct {
	URL       string `yaml:"url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type LoggerConfig struct {
	Mode       string `yaml:"mode"`
	FileEnable bool   `yaml:"file_enable"`
	Filename   string `yaml:"filename"`
}

// Default конфигурация для локального запуска
func Default() *AppConfig {
	return &AppConfig{
		System: SystemConfig{Location: "UTC", NodeID: 1},
		Web:    WebConfig{Addr: ":9091", JwtSecret: "change-me"},
		Database: DatabaseConfig{
			Type:    "memory",
			Host:    "127.0.0.1",
			Port:    5432,
			User:    "tablepos",
			Name:    "tablepos",
			MaxConn: 20,
		},
		RabbitMQ: RabbitMQConfig{Host: "127.0.0.1", Port: 5672, User: "guest", Password: "guest", VHost: "/", Exchange: "pos_events"},
		Notify: NotifyConfig{
			FlushInterval:  5 * time.Second,
			BatchSize:      100,
			MaxAttempts:    10,
			Workers:        8,
			RetentionHours: 24,
		},
		Loyalty: LoyaltyConfig{TimeoutMs: 2000},
		Logger:  LoggerConfig{Mode: "development", Filename: "/var/log/tablepos/tablepos.log"},
	}
}

// Load читает yaml-файл поверх значений по умолчанию и применяет переменные окружения.
// Отсутствующий файл не ошибка.
func Load(path string) (*AppConfig, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrapf(err, "parse config %s", path)
			}
		case os.IsNotExist(err):
		default:
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *AppConfig) {
	setEnvValue("TABLEPOS_SYSTEM_LOCATION", &cfg.System.Location)
	setEnvInt64Value("TABLEPOS_SYSTEM_NODE_ID", &cfg.System.NodeID)
	setEnvBoolValue("TABLEPOS_SYSTEM_DEBUG", &cfg.System.Debug)

	setEnvValue("TABLEPOS_WEB_ADDR", &cfg.Web.Addr)
	setEnvValue("TABLEPOS_WEB_JWT_SECRET", &cfg.Web.JwtSecret)

	setEnvValue("TABLEPOS_DB_TYPE", &cfg.Database.Type)
	setEnvValue("TABLEPOS_DB_HOST", &cfg.Database.Host)
	setEnvIntValue("TABLEPOS_DB_PORT", &cfg.Database.Port)
	setEnvValue("TABLEPOS_DB_USER", &cfg.Database.User)
	setEnvValue("TABLEPOS_DB_PWD", &cfg.Database.Password)
	setEnvValue("TABLEPOS_DB_NAME", &cfg.Database.Name)
	setEnvIntValue("TABLEPOS_DB_MAX_CONN", &cfg.Database.MaxConn)
	setEnvBoolValue("TABLEPOS_DB_DEBUG", &cfg.Database.Debug)

	setEnvBoolValue("TABLEPOS_RABBITMQ_ENABLED", &cfg.RabbitMQ.Enabled)
	setEnvValue("TABLEPOS_RABBITMQ_HOST", &cfg.RabbitMQ.Host)
	setEnvIntValue("TABLEPOS_RABBITMQ_PORT", &cfg.RabbitMQ.Port)
	setEnvValue("TABLEPOS_RABBITMQ_USER", &cfg.RabbitMQ.User)
	setEnvValue("TABLEPOS_RABBITMQ_PWD", &cfg.RabbitMQ.Password)
	setEnvValue("TABLEPOS_RABBITMQ_VHOST", &cfg.RabbitMQ.VHost)
	setEnvValue("TABLEPOS_RABBITMQ_EXCHANGE", &cfg.RabbitMQ.Exchange)

	setEnvDurationValue("TABLEPOS_NOTIFY_FLUSH_INTERVAL", &cfg.Notify.FlushInterval)
	setEnvIntValue("TABLEPOS_NOTIFY_BATCH_SIZE", &cfg.Notify.BatchSize)
	setEnvIntValue("TABLEPOS_NOTIFY_MAX_ATTEMPTS", &cfg.Notify.MaxAttempts)
	setEnvIntValue("TABLEPOS_NOTIFY_WORKERS", &cfg.Notify.Workers)
	setEnvIntValue("TABLEPOS_NOTIFY_RETENTION_HOURS", &cfg.Notify.RetentionHours)

	setEnvValue("TABLEPOS_LOYALTY_URL", &cfg.Loyalty.URL)
	setEnvIntValue("TABLEPOS_LOYALTY_TIMEOUT_MS", &cfg.Loyalty.TimeoutMs)

	setEnvValue("TABLEPOS_LOGGER_MODE", &cfg.Logger.Mode)
	setEnvBoolValue("TABLEPOS_LOGGER_FILE_ENABLE", &cfg.Logger.FileEnable)
	setEnvValue("TABLEPOS_LOGGER_FILENAME", &cfg.Logger.Filename)
}

func setEnvValue(name string, val *string) {
	if v := os.Getenv(name); v != "" {
		*val = v
	}
}

func setEnvBoolValue(name string, val *bool) {
	if v := os.Getenv(name); v != "" {
		*val = cast.ToBool(v)
	}
}

func setEnvIntValue(name string, val *int) {
	if v := os.Getenv(name); v != "" {
		*val = cast.ToInt(v)
	}
}

func setEnvInt64Value(name string, val *int64) {
	if v := os.Getenv(name); v != "" {
		*val = cast.ToInt64(v)
	}
}

func setEnvDurationValue(name string, val *time.Duration) {
	if v := os.Getenv(name); v != "" {
		*val = cast.ToDuration(v)
	}
}
