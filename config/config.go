// Package config loads the daemon configuration from an optional YAML file and
// MEDALARM_* environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/ongniud/medalarm/apperrors"
)

const (
	BackendREST     = "rest"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"

	TriggerMemory = "memory"
	TriggerRedis  = "redis"

	NotifierLog  = "log"
	NotifierMQTT = "mqtt"
)

type Config struct {
	ServiceName string `yaml:"service_name" env:"MEDALARM_SERVICE_NAME" env-default:"medalarmd"`

	Backend  BackendConfig  `yaml:"backend"`
	Trigger  TriggerConfig  `yaml:"trigger"`
	Engine   EngineConfig   `yaml:"engine"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Notifier NotifierConfig `yaml:"notifier"`
}

// BackendConfig 持久化后端
type BackendConfig struct {
	Kind    string        `yaml:"kind" env:"MEDALARM_BACKEND_KIND" env-default:"rest"`
	URL     string        `yaml:"url" env:"MEDALARM_BACKEND_URL" env-default:"http://localhost:8001/api"`
	DSN     string        `yaml:"dsn" env:"MEDALARM_BACKEND_DSN"`
	Timeout time.Duration `yaml:"timeout" env:"MEDALARM_BACKEND_TIMEOUT" env-default:"10s"`
	Retries int           `yaml:"retries" env:"MEDALARM_BACKEND_RETRIES" env-default:"2"`
}

// TriggerConfig 触发器存储
type TriggerConfig struct {
	Kind          string        `yaml:"kind" env:"MEDALARM_TRIGGER_KIND" env-default:"memory"`
	RedisAddr     string        `yaml:"redis_addr" env:"MEDALARM_REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string        `yaml:"redis_password" env:"MEDALARM_REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" env:"MEDALARM_REDIS_DB" env-default:"0"`
	KeyPrefix     string        `yaml:"key_prefix" env:"MEDALARM_REDIS_KEY_PREFIX" env-default:"medalarm:"`
	MaxPending    int           `yaml:"max_pending" env:"MEDALARM_TRIGGER_MAX_PENDING" env-default:"500"`
	ScheduleRate  float64       `yaml:"schedule_rate" env:"MEDALARM_TRIGGER_SCHEDULE_RATE" env-default:"0"`
	ScheduleBurst int           `yaml:"schedule_burst" env:"MEDALARM_TRIGGER_SCHEDULE_BURST" env-default:"0"`
	PollInterval  time.Duration `yaml:"poll_interval" env:"MEDALARM_TRIGGER_POLL_INTERVAL" env-default:"1s"`
}

// EngineConfig 提醒引擎
type EngineConfig struct {
	ProfileID string `yaml:"profile_id" env:"MEDALARM_PROFILE_ID"`
	// AutoEscalate arms an escalation as soon as a critical alarm fires.
	AutoEscalate          bool          `yaml:"auto_escalate" env:"MEDALARM_AUTO_ESCALATE" env-default:"true"`
	DefaultRepeatInterval int           `yaml:"default_repeat_interval_minutes" env:"MEDALARM_DEFAULT_REPEAT_INTERVAL" env-default:"5"`
	SweepInterval         time.Duration `yaml:"sweep_interval" env:"MEDALARM_SWEEP_INTERVAL" env-default:"1m"`
	MissedGrace           time.Duration `yaml:"missed_grace" env:"MEDALARM_MISSED_GRACE" env-default:"30m"`
	// StateDir holds escalation instance snapshots. Empty keeps them in memory.
	StateDir string `yaml:"state_dir" env:"MEDALARM_STATE_DIR"`
	Timezone string `yaml:"timezone" env:"MEDALARM_TIMEZONE" env-default:"Local"`
}

type LogConfig struct {
	Level      string `yaml:"level" env:"MEDALARM_LOG_LEVEL" env-default:"info"`
	Format     string `yaml:"format" env:"MEDALARM_LOG_FORMAT" env-default:"json"`
	Output     string `yaml:"output" env:"MEDALARM_LOG_OUTPUT" env-default:"stdout"`
	FilePath   string `yaml:"file_path" env:"MEDALARM_LOG_FILE_PATH"`
	MaxSize    int    `yaml:"max_size" env:"MEDALARM_LOG_MAX_SIZE" env-default:"100"`
	MaxBackups int    `yaml:"max_backups" env:"MEDALARM_LOG_MAX_BACKUPS" env-default:"3"`
	MaxAge     int    `yaml:"max_age" env:"MEDALARM_LOG_MAX_AGE" env-default:"7"`
	// TODO: env-default "true" overrides compress: false from YAML; move the default into Load.
	Compress bool `yaml:"compress" env:"MEDALARM_LOG_COMPRESS" env-default:"true"`
}

// NotifierConfig 通知投递方式, log 只写日志, mqtt 发布到 broker
type NotifierConfig struct {
	Kind        string `yaml:"kind" env:"MEDALARM_NOTIFIER_KIND" env-default:"log"`
	Broker      string `yaml:"broker" env:"MEDALARM_MQTT_BROKER" env-default:"tcp://localhost:1883"`
	ClientID    string `yaml:"client_id" env:"MEDALARM_MQTT_CLIENT_ID" env-default:"medalarmd"`
	Username    string `yaml:"username" env:"MEDALARM_MQTT_USERNAME"`
	Password    string `yaml:"password" env:"MEDALARM_MQTT_PASSWORD"`
	TopicPrefix string `yaml:"topic_prefix" env:"MEDALARM_MQTT_TOPIC_PREFIX" env-default:"medalarm"`
	QoS         int    `yaml:"qos" env:"MEDALARM_MQTT_QOS" env-default:"1"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"MEDALARM_METRICS_ENABLED" env-default:"false"`
	Listen  string `yaml:"listen" env:"MEDALARM_METRICS_LISTEN" env-default:":9464"`
}

type TracingConfig struct {
	Enabled      bool          `yaml:"enabled" env:"MEDALARM_TRACING_ENABLED" env-default:"false"`
	Endpoint     string        `yaml:"endpoint" env:"MEDALARM_TRACING_ENDPOINT" env-default:"localhost:4318"`
	Insecure     bool          `yaml:"insecure" env:"MEDALARM_TRACING_INSECURE" env-default:"true"`
	SamplingRate float64       `yaml:"sampling_rate" env:"MEDALARM_TRACING_SAMPLING_RATE" env-default:"1.0"`
	Timeout      time.Duration `yaml:"timeout" env:"MEDALARM_TRACING_TIMEOUT" env-default:"5s"`
	Environment  string        `yaml:"environment" env:"MEDALARM_ENVIRONMENT" env-default:"development"`
}

// Load reads path (when not empty) and then the environment.
func Load(path string) (*Config, error) {
	var cfg Config
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrConfigLoad, "read configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case BackendREST:
		if c.Backend.URL == "" {
			return configErr("backend url is required for kind %q", c.Backend.Kind)
		}
	case BackendPostgres:
		if c.Backend.DSN == "" {
			return configErr("backend dsn is required for kind %q", c.Backend.Kind)
		}
	case BackendMemory:
	default:
		return configErr("unknown backend kind %q", c.Backend.Kind)
	}

	switch c.Trigger.Kind {
	case TriggerMemory, TriggerRedis:
	default:
		return configErr("unknown trigger store kind %q", c.Trigger.Kind)
	}
	if c.Trigger.PollInterval <= 0 {
		return configErr("trigger poll interval must be positive")
	}

	switch c.Notifier.Kind {
	case NotifierLog:
	case NotifierMQTT:
		if c.Notifier.Broker == "" {
			return configErr("mqtt broker is required for notifier kind %q", c.Notifier.Kind)
		}
		if c.Notifier.QoS < 0 || c.Notifier.QoS > 2 {
			return configErr("mqtt qos %d out of [0, 2]", c.Notifier.QoS)
		}
	default:
		return configErr("unknown notifier kind %q", c.Notifier.Kind)
	}

	if c.Engine.SweepInterval <= 0 {
		return configErr("sweep interval must be positive")
	}
	if c.Engine.MissedGrace < 0 {
		return configErr("missed grace must not be negative")
	}
	if _, err := c.Engine.Location(); err != nil {
		return apperrors.NewAppError(apperrors.ErrConfigLoad, "invalid timezone", err)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return configErr("sampling rate %v out of [0, 1]", c.Tracing.SamplingRate)
	}
	return nil
}

// Location resolves the timezone alarm wall-clock times are interpreted in.
func (e EngineConfig) Location() (*time.Location, error) {
	if e.Timezone == "" || e.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(e.Timezone)
}

func configErr(format string, args ...any) error {
	return apperrors.Errorf(apperrors.ErrConfigLoad, "%s", fmt.Sprintf(format, args...))
}
