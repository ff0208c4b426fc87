package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration. It is built once at startup
// and treated as read-only; nothing reads the environment after LoadConfig.
type Config struct {
	// Service configuration
	ServicePort string
	ServiceName string
	Version     string
	LogLevel    string
	LogFormat   string

	// Upload limits
	MaxVideoSize     int64
	MaxVideoDuration float64
	AllowedTypes     []string
	UploadTempDir    string

	// Media probe
	FFprobePath  string
	ProbeTimeout time.Duration

	// Engagement behaviour
	CommentDeleteDecrements bool

	// Persistence: "mysql" or "memory"
	StorageDriver string
	DBHost        string
	DBPort        string
	DBUser        string
	DBPassword    string
	DBName        string

	// Redis cache
	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Remote store: "cloudflare" or "minio"
	RemoteStore string

	// Cloudflare Stream configuration
	CloudflareToken          string
	CloudflareAccountID      string
	CloudflareCustomerDomain string
	CloudflareAPIBaseURL     string
	CloudflareRequestTimeout time.Duration

	// MinIO configuration
	MinIOEndpoint   string
	MinIOAccessKey  string
	MinIOSecretKey  string
	MinIOBucketName string
	MinIOUseSSL     bool

	// Kafka configuration
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string

	// Tracing configuration
	TracingEnabled bool
	JaegerEndpoint string
}

// binding maps a viper key to the environment variable that overrides it.
type binding struct {
	key   string
	env   string
	value interface{}
}

// Default upload limits are 50 MiB and 60 seconds.
var bindings = []binding{
	{"service.port", "SERVICE_PORT", "3000"},
	{"service.name", "SERVICE_NAME", "vidfeed"},
	{"service.version", "SERVICE_VERSION", "1.0.0"},
	{"log.level", "LOG_LEVEL", "info"},
	{"log.format", "LOG_FORMAT", "json"},

	{"limits.max_video_size", "MAX_VIDEO_SIZE", int64(50 * 1024 * 1024)},
	{"limits.max_video_duration", "MAX_VIDEO_DURATION", 60.0},
	{"limits.allowed_types", "ALLOWED_VIDEO_TYPES", "video/mp4,video/quicktime,video/x-msvideo,video/x-ms-wmv"},
	{"limits.temp_dir", "UPLOAD_TEMP_DIR", "./uploads/temp"},

	{"probe.ffprobe_path", "FFPROBE_PATH", "ffprobe"},
	{"probe.timeout", "PROBE_TIMEOUT", "15s"},

	{"engagement.comment_delete_decrements", "COMMENT_DELETE_DECREMENTS", false},

	{"storage.driver", "STORAGE_DRIVER", "mysql"},
	{"storage.host", "DB_HOST", "localhost"},
	{"storage.port", "DB_PORT", "4000"},
	{"storage.user", "DB_USER", "root"},
	{"storage.password", "DB_PASSWORD", ""},
	{"storage.database", "DB_NAME", "vidfeed"},

	{"redis.enabled", "REDIS_ENABLED", false},
	{"redis.host", "REDIS_HOST", "localhost"},
	{"redis.port", "REDIS_PORT", "6379"},
	{"redis.password", "REDIS_PASSWORD", ""},
	{"redis.db", "REDIS_DB", 0},

	{"remote.driver", "REMOTE_STORE", "cloudflare"},
	{"remote.cloudflare.token", "CLOUDFLARE_STREAM_TOKEN", ""},
	{"remote.cloudflare.account_id", "CLOUDFLARE_ACCOUNT_ID", ""},
	{"remote.cloudflare.customer_subdomain", "CLOUDFLARE_CUSTOMER_SUBDOMAIN", ""},
	{"remote.cloudflare.api_base_url", "CLOUDFLARE_API_BASE_URL", "https://api.cloudflare.com/client/v4"},
	{"remote.cloudflare.timeout", "CLOUDFLARE_TIMEOUT", "5m"},
	{"remote.minio.endpoint", "MINIO_ENDPOINT", "localhost:9000"},
	{"remote.minio.access_key", "MINIO_ACCESS_KEY", "minioadmin"},
	{"remote.minio.secret_key", "MINIO_SECRET_KEY", "minioadmin"},
	{"remote.minio.bucket", "MINIO_BUCKET_NAME", "vidfeed"},
	{"remote.minio.use_ssl", "MINIO_USE_SSL", false},

	{"kafka.enabled", "KAFKA_ENABLED", false},
	{"kafka.brokers", "KAFKA_BROKERS", "localhost:9092"},
	{"kafka.topic", "KAFKA_TOPIC", "video-events"},

	{"tracing.enabled", "TRACING_ENABLED", false},
	{"tracing.endpoint", "JAEGER_ENDPOINT", "localhost:4318"},
}

// LoadConfig loads configuration from the environment, layered over an
// optional YAML file named by CONFIG_FILE, with sensible defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()
	for _, b := range bindings {
		v.SetDefault(b.key, b.value)
		if err := v.BindEnv(b.key, b.env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", b.env, err)
		}
	}

	if err := v.BindEnv("config_file", "CONFIG_FILE"); err != nil {
		return nil, fmt.Errorf("failed to bind CONFIG_FILE: %w", err)
	}
	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		ServicePort: v.GetString("service.port"),
		ServiceName: v.GetString("service.name"),
		Version:     v.GetString("service.version"),
		LogLevel:    v.GetString("log.level"),
		LogFormat:   v.GetString("log.format"),

		MaxVideoSize:     v.GetInt64("limits.max_video_size"),
		MaxVideoDuration: v.GetFloat64("limits.max_video_duration"),
		AllowedTypes:     splitList(v.GetString("limits.allowed_types")),
		UploadTempDir:    v.GetString("limits.temp_dir"),

		FFprobePath:  v.GetString("probe.ffprobe_path"),
		ProbeTimeout: v.GetDuration("probe.timeout"),

		CommentDeleteDecrements: v.GetBool("engagement.comment_delete_decrements"),

		StorageDriver: strings.ToLower(v.GetString("storage.driver")),
		DBHost:        v.GetString("storage.host"),
		DBPort:        v.GetString("storage.port"),
		DBUser:        v.GetString("storage.user"),
		DBPassword:    v.GetString("storage.password"),
		DBName:        v.GetString("storage.database"),

		RedisEnabled:  v.GetBool("redis.enabled"),
		RedisHost:     v.GetString("redis.host"),
		RedisPort:     v.GetString("redis.port"),
		RedisPassword: v.GetString("redis.password"),
		RedisDB:       v.GetInt("redis.db"),

		RemoteStore:              strings.ToLower(v.GetString("remote.driver")),
		CloudflareToken:          v.GetString("remote.cloudflare.token"),
		CloudflareAccountID:      v.GetString("remote.cloudflare.account_id"),
		CloudflareCustomerDomain: v.GetString("remote.cloudflare.customer_subdomain"),
		CloudflareAPIBaseURL:     strings.TrimRight(v.GetString("remote.cloudflare.api_base_url"), "/"),
		CloudflareRequestTimeout: v.GetDuration("remote.cloudflare.timeout"),

		MinIOEndpoint:   v.GetString("remote.minio.endpoint"),
		MinIOAccessKey:  v.GetString("remote.minio.access_key"),
		MinIOSecretKey:  v.GetString("remote.minio.secret_key"),
		MinIOBucketName: v.GetString("remote.minio.bucket"),
		MinIOUseSSL:     v.GetBool("remote.minio.use_ssl"),

		KafkaEnabled: v.GetBool("kafka.enabled"),
		KafkaBrokers: splitList(v.GetString("kafka.brokers")),
		KafkaTopic:   v.GetString("kafka.topic"),

		TracingEnabled: v.GetBool("tracing.enabled"),
		JaegerEndpoint: v.GetString("tracing.endpoint"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.MaxVideoSize <= 0 {
		return fmt.Errorf("MAX_VIDEO_SIZE must be positive, got %d", c.MaxVideoSize)
	}
	if c.MaxVideoDuration <= 0 {
		return fmt.Errorf("MAX_VIDEO_DURATION must be positive, got %v", c.MaxVideoDuration)
	}
	if len(c.AllowedTypes) == 0 {
		return fmt.Errorf("ALLOWED_VIDEO_TYPES must not be empty")
	}
	switch c.StorageDriver {
	case "mysql", "memory":
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	switch c.RemoteStore {
	case "cloudflare", "minio":
	default:
		return fmt.Errorf("unknown REMOTE_STORE %q", c.RemoteStore)
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("PROBE_TIMEOUT must be positive")
	}
	return nil
}

// GetDSN returns the MySQL/TiDB connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.DBUser,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
