package config

import (
	"errors"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	ENV       string `mapstructure:"env"`
	HTTP_PORT string `mapstructure:"http_port"`
	// DB_STRING empty means orders live in memory only.
	DB_STRING string `mapstructure:"db_string"`
	BOLT_PATH string `mapstructure:"bolt_path"`

	API_BASE_URL    string        `mapstructure:"api_base_url"`
	BROKER_BASE_URL string        `mapstructure:"broker_base_url"`
	BROKER_USERNAME string        `mapstructure:"broker_username"`
	BROKER_PASSWORD string        `mapstructure:"broker_password"`
	WEBHOOK_SECRET  string        `mapstructure:"webhook_secret"`
	HTTP_TIMEOUT    time.Duration `mapstructure:"http_timeout"`

	KAFKA_BROKERS      string `mapstructure:"kafka_brokers"`
	KAFKA_STATUS_TOPIC string `mapstructure:"kafka_status_topic"`
	KAFKA_EVENTS_TOPIC string `mapstructure:"kafka_events_topic"`
	KAFKA_GROUP_ID     string `mapstructure:"kafka_group_id"`

	POLL_INTERVAL     time.Duration `mapstructure:"poll_interval"`
	POLL_MAX_ATTEMPTS int           `mapstructure:"poll_max_attempts"`

	QUEUE_BASE_DELAY  time.Duration `mapstructure:"queue_base_delay"`
	QUEUE_MAX_RETRIES int           `mapstructure:"queue_max_retries"`
	QUEUE_INTERVAL    time.Duration `mapstructure:"queue_interval"`
	PROBE_TIMEOUT     time.Duration `mapstructure:"probe_timeout"`

	FX_REFRESH_INTERVAL time.Duration `mapstructure:"fx_refresh_interval"`
}

var defaults = map[string]any{
	"env":       "development",
	"http_port": "8080",
	"db_string": "",
	"bolt_path": "cardpay.db",

	"api_base_url":    "http://localhost:9000",
	"broker_base_url": "http://localhost:9100",
	"broker_username": "",
	"broker_password": "",
	"webhook_secret":  "",
	"http_timeout":    "15s",

	"kafka_brokers":      "",
	"kafka_status_topic": "payments.order-status",
	"kafka_events_topic": "payments.collection-events",
	"kafka_group_id":     "cardpay-service",

	"poll_interval":     "5s",
	"poll_max_attempts": 20,

	"queue_base_delay":  "1s",
	"queue_max_retries": 3,
	"queue_interval":    "5s",
	"probe_timeout":     "3s",

	"fx_refresh_interval": "15m",
}

// LoadConfig reads .env (if any), then config.yaml from the working
// directory or configPath, then the environment. Later sources win.
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if cfg.HTTP_PORT == "" {
		cfg.HTTP_PORT = "8080"
	}
	return cfg, nil
}
