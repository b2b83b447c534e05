package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server     ServerConfig
	Store      StoreConfig
	Attachment AttachmentConfig
	Live       LiveConfig
	Kafka      KafkaConfig
	Auth       AuthConfig
	Log        LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	var cfg Config

	sections := []struct {
		name   string
		target any
	}{
		{"server", &cfg.Server},
		{"store", &cfg.Store},
		{"attachment", &cfg.Attachment},
		{"live", &cfg.Live},
		{"kafka", &cfg.Kafka},
		{"auth", &cfg.Auth},
		{"log", &cfg.Log},
	}
	for _, s := range sections {
		if err := envconfig.Process("", s.target); err != nil {
			return nil, fmt.Errorf("load %s config: %w", s.name, err)
		}
	}

	addr, err := listenAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	MaxUploadBytes  int64         `envconfig:"MAX_UPLOAD_BYTES" default:"10485760"`
	AllowedOrigins  []string      `envconfig:"CORS_ALLOWED_ORIGINS"`

	// Addr is derived from Port.
	Addr string `ignored:"true"`
}

// listenAddr 解析服务器监听地址。
func listenAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// StoreConfig 描述消息存储后端。
type StoreConfig struct {
	Driver          string `envconfig:"STORE_DRIVER" default:"badger"`
	BadgerPath      string `envconfig:"BADGER_PATH" default:"data/badger"`
	MongoURI        string `envconfig:"MONGO_URI" default:"mongodb://localhost:27017"`
	MongoDatabase   string `envconfig:"MONGO_DATABASE" default:"chat"`
	MongoCollection string `envconfig:"MONGO_COLLECTION" default:"messages"`
}

// AttachmentConfig 描述图片附件的托管方式。
type AttachmentConfig struct {
	Host            string `envconfig:"ATTACHMENT_HOST" default:"disk"`
	AssetBaseURL    string `envconfig:"ASSET_BASE_URL" default:"http://localhost:8080"`
	UploadDir       string `envconfig:"UPLOAD_DIR" default:"data/uploads"`
	S3Region        string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Bucket        string `envconfig:"S3_BUCKET"`
	S3Endpoint      string `envconfig:"S3_ENDPOINT"`
	S3PublicBaseURL string `envconfig:"S3_PUBLIC_BASE_URL"`
}

// LiveConfig 描述实时推送通道及跨实例中继。
type LiveConfig struct {
	Relay         string        `envconfig:"LIVE_RELAY" default:"none"`
	SendBuffer    int           `envconfig:"LIVE_SEND_BUFFER" default:"256"`
	PingInterval  time.Duration `envconfig:"LIVE_PING_INTERVAL" default:"30s"`
	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	RedisChannel  string        `envconfig:"REDIS_CHANNEL" default:"chat:deliveries"`
	NatsURL       string        `envconfig:"NATS_URL" default:"nats://127.0.0.1:4222"`
	NatsSubject   string        `envconfig:"NATS_SUBJECT" default:"chat.deliveries"`
}

// KafkaConfig 描述消息创建事件的导出。
type KafkaConfig struct {
	Brokers []string `envconfig:"KAFKA_BROKERS"`
	Topic   string   `envconfig:"KAFKA_TOPIC" default:"chat.message.created"`
}

// Enabled 表示是否配置了 broker。
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// AuthConfig 描述访问令牌校验。
type AuthConfig struct {
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEVELOPMENT" default:"false"`
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}

	switch c.Store.Driver {
	case "badger", "mongo", "memory":
	default:
		return fmt.Errorf("invalid STORE_DRIVER value: %q", c.Store.Driver)
	}

	switch c.Attachment.Host {
	case "disk":
	case "s3":
		if c.Attachment.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when ATTACHMENT_HOST=s3")
		}
	default:
		return fmt.Errorf("invalid ATTACHMENT_HOST value: %q", c.Attachment.Host)
	}

	if base := c.Attachment.AssetBaseURL; base != "" {
		u, err := url.Parse(base)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid ASSET_BASE_URL value: %q", base)
		}
	}

	switch c.Live.Relay {
	case "none", "redis", "nats":
	default:
		return fmt.Errorf("invalid LIVE_RELAY value: %q", c.Live.Relay)
	}

	if c.Live.SendBuffer < 1 {
		c.Live.SendBuffer = 1
	}
	return nil
}
