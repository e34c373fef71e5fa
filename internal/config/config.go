package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type CaptureKind string

const (
	CaptureBucket   CaptureKind = "bucket"
	CaptureDir      CaptureKind = "dir"
	CaptureSnapshot CaptureKind = "snapshot"
)

// Config структура конфига
type Config struct {
	SessionID string `yaml:"session_id" env:"SESSION_ID"`

	Serial struct {
		Port         string        `yaml:"port" env:"SERIAL_PORT"`
		Baud         int           `yaml:"baud" env:"SERIAL_BAUD"`
		WarmUp       time.Duration `yaml:"warmup" env:"SERIAL_WARMUP"`
		WriteTimeout time.Duration `yaml:"write_timeout" env:"SERIAL_WRITE_TIMEOUT"`
	} `yaml:"serial"`

	Trigger struct {
		Cooldown time.Duration `yaml:"cooldown" env:"TRIGGER_COOLDOWN"`
		Pause    time.Duration `yaml:"pause" env:"TRIGGER_PAUSE"`
	} `yaml:"trigger"`

	Detection struct {
		Endpoint      string        `yaml:"endpoint" env:"DETECTION_ENDPOINT"`
		Timeout       time.Duration `yaml:"timeout" env:"DETECTION_TIMEOUT"`
		MinConfidence float64       `yaml:"min_confidence" env:"DETECTION_MIN_CONFIDENCE"`
		MaxRateHz     float64       `yaml:"max_rate_hz" env:"DETECTION_MAX_RATE_HZ"`
		Retries       int           `yaml:"retries" env:"DETECTION_RETRIES"`
	} `yaml:"detection"`

	Capture struct {
		Kind        CaptureKind   `yaml:"kind" env:"CAPTURE_KIND"`
		Location    string        `yaml:"location" env:"CAPTURE_LOCATION"` // bucket URL, directory or snapshot URL
		Interval    time.Duration `yaml:"interval" env:"CAPTURE_INTERVAL"`
		MaxFailures int           `yaml:"max_failures" env:"CAPTURE_MAX_FAILURES"`
		Resume      bool          `yaml:"resume" env:"CAPTURE_RESUME"`
	} `yaml:"capture"`

	Runner struct {
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
		ReconnectInterval time.Duration `yaml:"reconnect_interval" env:"RECONNECT_INTERVAL"`
		ArchiveResults    bool          `yaml:"archive_results" env:"ARCHIVE_RESULTS"`
	} `yaml:"runner"`

	Postgres struct {
		DSN string `yaml:"dsn" env:"DATABASE_DSN"`
	} `yaml:"postgres"`

	Minio struct {
		Endpoint      string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
		AccessKey     string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
		SecretKey     string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
		Secure        bool   `yaml:"secure" env:"MINIO_SECURE"`
		ResultsBucket string `yaml:"results_bucket" env:"MINIO_RESULTS_BUCKET"`
	} `yaml:"minio"`

	Kafka struct {
		Brokers        []string `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
		GroupID        string   `yaml:"group_id" env:"KAFKA_GROUP_ID"`
		ControlTopic   string   `yaml:"control_topic" env:"CONTROL_TOPIC"`
		EventTopic     string   `yaml:"event_topic" env:"EVENT_TOPIC"`
		HeartbeatTopic string   `yaml:"heartbeat_topic" env:"HEARTBEAT_TOPIC"`
	} `yaml:"kafka"`

	MQTT struct {
		Broker      string `yaml:"broker" env:"MQTT_BROKER"`
		ClientID    string `yaml:"client_id" env:"MQTT_CLIENT_ID"`
		TopicPrefix string `yaml:"topic_prefix" env:"MQTT_TOPIC_PREFIX"`
	} `yaml:"mqtt"`

	API struct {
		Addr string `yaml:"addr" env:"API_ADDR"`
	} `yaml:"api"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	cfg := &Config{SessionID: "sorter"}

	cfg.Serial.Baud = 9600
	cfg.Serial.WarmUp = 2 * time.Second
	cfg.Serial.WriteTimeout = time.Second

	cfg.Trigger.Cooldown = 2 * time.Second
	cfg.Trigger.Pause = 100 * time.Millisecond

	cfg.Detection.Endpoint = "http://localhost:8000"
	cfg.Detection.Timeout = 5 * time.Second
	cfg.Detection.MinConfidence = 0.4
	cfg.Detection.Retries = 3

	cfg.Capture.Kind = CaptureSnapshot
	cfg.Capture.MaxFailures = 5

	cfg.Runner.HeartbeatInterval = 5 * time.Second
	cfg.Runner.ReconnectInterval = 5 * time.Second

	cfg.Minio.ResultsBucket = "predictions"
	cfg.Kafka.GroupID = "waste-sorter"
	cfg.MQTT.TopicPrefix = "sorter"

	return cfg
}

// LoadConfig reads defaults, then the YAML file (if any), then environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// Читаем YAML
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		// Парсим YAML в структуру
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// Парсим переменные окружения с приоритетом
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Serial.Baud <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud))
	}
	if c.Serial.WarmUp < 0 || c.Serial.WriteTimeout < 0 {
		errs = append(errs, errors.New("serial durations must not be negative"))
	}
	if c.Trigger.Cooldown < 0 || c.Trigger.Pause < 0 {
		errs = append(errs, errors.New("trigger durations must not be negative"))
	}
	if c.Detection.MinConfidence < 0 || c.Detection.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("detection.min_confidence must be in [0,1], got %v", c.Detection.MinConfidence))
	}
	if c.Detection.MaxRateHz < 0 {
		errs = append(errs, errors.New("detection.max_rate_hz must not be negative"))
	}
	if c.Detection.Retries < 1 {
		errs = append(errs, errors.New("detection.retries must be at least 1"))
	}
	switch c.Capture.Kind {
	case CaptureBucket, CaptureDir, CaptureSnapshot:
	default:
		errs = append(errs, fmt.Errorf("capture.kind %q is not one of bucket, dir, snapshot", c.Capture.Kind))
	}
	if c.Capture.Location == "" {
		errs = append(errs, errors.New("capture.location is required"))
	}
	if c.Capture.Kind == CaptureBucket && c.Minio.Endpoint == "" {
		errs = append(errs, errors.New("capture.kind bucket needs minio.endpoint"))
	}

	return errors.Join(errs...)
}
