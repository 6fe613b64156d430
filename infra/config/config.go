// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the server configuration. Every field maps to a REGJOURNAL_*
// variable.
type Config struct {
	JournalDir  string `env:"JOURNAL_DIR" envDefault:"./data/journal"`
	StagingDir  string `env:"STAGING_DIR" envDefault:"./data/staging"`
	StoreDir    string `env:"STORE_DIR" envDefault:"./data/store"`
	GRPCAddr    string `env:"GRPC_ADDR" envDefault:":50051"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"text"`

	BlobDriver    string   `env:"BLOB_DRIVER" envDefault:"fs"`
	BlobFSRoot    string   `env:"BLOB_FS_ROOT" envDefault:"./data/blobs"`
	S3Bucket      string   `env:"S3_BUCKET"`
	S3Region      string   `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint    string   `env:"S3_ENDPOINT"`
	S3PathStyle   bool     `env:"S3_PATH_STYLE" envDefault:"false"`
	S3AccessKeyID string   `env:"S3_ACCESS_KEY_ID"`
	S3SecretKey   string   `env:"S3_SECRET_ACCESS_KEY"`
	MetadataDir   string   `env:"METADATA_DIR" envDefault:"./data/metadata"`
	SQLDriver     string   `env:"SQL_DRIVER" envDefault:"sqlite"`
	SQLDSN        string   `env:"SQL_DSN" envDefault:"./data/registry.db"`
	KafkaClient   string   `env:"KAFKA_CLIENT" envDefault:"none"`
	KafkaBrokers  []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	KafkaTopic    string   `env:"KAFKA_TOPIC" envDefault:"dataset-registrations"`
	KafkaAcks     string   `env:"KAFKA_ACKS" envDefault:"all"`

	StagingAttempts int           `env:"STAGING_ATTEMPTS" envDefault:"30"`
	StagingInterval time.Duration `env:"STAGING_INTERVAL" envDefault:"2s"`
	KafkaBatch      time.Duration `env:"KAFKA_BATCH_TIMEOUT" envDefault:"10ms"`
}

const envPrefix = "REGJOURNAL_"

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.StagingAttempts < 1 {
		return Config{}, fmt.Errorf("parse env: %sSTAGING_ATTEMPTS must be positive", envPrefix)
	}
	return cfg, nil
}
