package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	CargoFlow CargoFlowConfig `yaml:"cargoflow"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	NotificationsTopicName string `yaml:"notifications_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type CargoFlowConfig struct {
	HTTPAddr                 string `yaml:"http_addr"`
	KafkaConsumerGroup       string `yaml:"kafka_consumer_group"`
	CurrentProductTTLSeconds int    `yaml:"current_product_ttl_seconds"`

	WorkerHTTPAddr string `yaml:"worker_http_addr"`

	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`

	OutboxIntervalSeconds int `yaml:"outbox_interval_seconds"`
	OutboxBatchSize       int `yaml:"outbox_batch_size"`
	OutboxLeaseSeconds    int `yaml:"outbox_lease_seconds"`
	OutboxBackoffSeconds  int `yaml:"outbox_backoff_seconds"`

	NotifyRateLimitPerMinute int `yaml:"notify_rate_limit_per_minute"`

	TelegramGatewayBaseURL string `yaml:"telegram_gateway_base_url"`
	TelegramGatewayAPIKey  string `yaml:"telegram_gateway_api_key"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
