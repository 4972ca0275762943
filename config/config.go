package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"

	LayoutClassified = "classified"
	LayoutFlat       = "flat"

	BackendMemory = "memory"
	BackendGridFS = "gridfs"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	LogLevel   string           `mapstructure:"log_level"`
	Limits     LimitsConfig     `mapstructure:"limits"`
	Offload    OffloadConfig    `mapstructure:"offload"`
	Storage    StorageConfig    `mapstructure:"storage"`
	RabbitMQ   RabbitMQConfig   `mapstructure:"rabbitmq"`
	MongoDB    MongoDBConfig    `mapstructure:"mongodb"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Sync       SyncConfig       `mapstructure:"sync"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`

	source *viper.Viper
}

type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	Host        string `mapstructure:"host"`
	Environment string `mapstructure:"environment"`
	// PublicURL prefixes signed file URLs handed to pollers.
	PublicURL string `mapstructure:"public_url"`
}

type LimitsConfig struct {
	MaxFileSize       int64    `mapstructure:"max_file_size"`
	MaxRequestSize    int64    `mapstructure:"max_request_size"`
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
}

type OffloadConfig struct {
	Concurrency   int               `mapstructure:"concurrency"`
	UploadTimeout time.Duration     `mapstructure:"upload_timeout"`
	FetchTimeout  time.Duration     `mapstructure:"fetch_timeout"`
	Layout        string            `mapstructure:"layout"`
	UploadMarker  string            `mapstructure:"upload_marker"`
	FileURLTTL    time.Duration     `mapstructure:"file_url_ttl"`
	ListURLTTL    time.Duration     `mapstructure:"list_url_ttl"`
	DefaultFolder string            `mapstructure:"default_folder"`
	Folders       map[string]string `mapstructure:"folders"`
}

type StorageConfig struct {
	Backend       string `mapstructure:"backend"`
	SigningSecret string `mapstructure:"signing_secret"`
}

type MongoDBConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
	Bucket     string `mapstructure:"bucket"`
}

type RabbitMQConfig struct {
	URL       string `mapstructure:"url"`
	Exchange  string `mapstructure:"exchange"`
	QueueName string `mapstructure:"queueName"`
}

type MonitoringConfig struct {
	PrometheusPort int    `mapstructure:"prometheusPort"`
	MetricsPath    string `mapstructure:"metricsPath"`
}

type SyncConfig struct {
	APIURL       string        `mapstructure:"api_url"`
	BatchSize    int           `mapstructure:"batch_size"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute"`
}

// IsDevelopment reports whether development-only endpoints may be served.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Server.Environment, EnvironmentDevelopment)
}

func Load() (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	return decode(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.environment", EnvironmentProduction)
	v.SetDefault("server.public_url", "http://localhost:8080")
	v.SetDefault("log_level", "info")

	v.SetDefault("limits.max_file_size", 16<<20)
	v.SetDefault("limits.max_request_size", 64<<20)
	v.SetDefault("limits.allowed_extensions", []string{
		".pdf", ".png", ".jpg", ".jpeg", ".gif", ".webp",
		".doc", ".docx", ".xls", ".xlsx", ".csv", ".txt", ".zip",
	})

	v.SetDefault("offload.concurrency", 4)
	v.SetDefault("offload.upload_timeout", 30*time.Second)
	v.SetDefault("offload.fetch_timeout", 20*time.Second)
	v.SetDefault("offload.layout", LayoutClassified)
	v.SetDefault("offload.upload_marker", "uploads/")
	v.SetDefault("offload.file_url_ttl", 24*time.Hour)
	v.SetDefault("offload.list_url_ttl", 7*24*time.Hour)
	v.SetDefault("offload.default_folder", "uploads")

	v.SetDefault("storage.backend", BackendMemory)

	v.SetDefault("mongodb.database", "form_sync")
	v.SetDefault("mongodb.collection", "synced_submissions")
	v.SetDefault("mongodb.bucket", "attachments")

	v.SetDefault("rabbitmq.exchange", "form_submissions")
	v.SetDefault("rabbitmq.queueName", "form_submissions_sync")

	v.SetDefault("monitoring.prometheusPort", 9090)
	v.SetDefault("monitoring.metricsPath", "/metrics")

	v.SetDefault("sync.api_url", "http://localhost:8080")
	v.SetDefault("sync.batch_size", 50)
	v.SetDefault("sync.poll_interval", time.Minute)

	v.SetDefault("ratelimit.per_minute", 120)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.source = v
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if port := os.Getenv("APP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	} else if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	if promPort := os.Getenv("PROMETHEUS_PORT"); promPort != "" {
		if p, err := strconv.Atoi(promPort); err == nil {
			cfg.Monitoring.PrometheusPort = p
		}
	}

	if env := os.Getenv("APP_ENV"); env != "" {
		cfg.Server.Environment = env
	}
	if publicURL := os.Getenv("PUBLIC_URL"); publicURL != "" {
		cfg.Server.PublicURL = publicURL
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if backend := os.Getenv("STORAGE_BACKEND"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if secret := os.Getenv("SIGNING_SECRET"); secret != "" {
		cfg.Storage.SigningSecret = secret
	}

	if uri := os.Getenv("MONGODB_URI"); uri != "" {
		cfg.MongoDB.URI = uri
	}
	if db := os.Getenv("MONGODB_DATABASE"); db != "" {
		cfg.MongoDB.Database = db
	}
	if col := os.Getenv("MONGODB_COLLECTION"); col != "" {
		cfg.MongoDB.Collection = col
	}

	// Support both CLOUDAMQP_URL and RABBITMQ_URI for backwards compatibility
	if cloudamqpURL := os.Getenv("CLOUDAMQP_URL"); cloudamqpURL != "" {
		cfg.RabbitMQ.URL = cloudamqpURL
	} else if rabbitURL := os.Getenv("RABBITMQ_URI"); rabbitURL != "" {
		cfg.RabbitMQ.URL = rabbitURL
	}
	if exchange := os.Getenv("RABBITMQ_EXCHANGE"); exchange != "" {
		cfg.RabbitMQ.Exchange = exchange
	}
	if queue := os.Getenv("RABBITMQ_QUEUE"); queue != "" {
		cfg.RabbitMQ.QueueName = queue
	}

	if apiURL := os.Getenv("SYNC_API_URL"); apiURL != "" {
		cfg.Sync.APIURL = apiURL
	}

	if folders := os.Getenv("FORM_FOLDERS"); folders != "" {
		if cfg.Offload.Folders == nil {
			cfg.Offload.Folders = make(map[string]string)
		}
		for formID, folder := range ParseFolderList(folders) {
			cfg.Offload.Folders[formID] = folder
		}
	}
}

// ParseFolderList parses "formId:folder,formId:folder" pairs. Malformed
// entries are skipped.
func ParseFolderList(raw string) map[string]string {
	folders := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
		if len(parts) != 2 {
			continue
		}
		formID, folder := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		if formID == "" || folder == "" {
			continue
		}
		folders[formID] = folder
	}
	return folders
}

// Watch reloads the configuration file whenever it changes on disk and hands
// the freshly decoded config to onChange.
func Watch(cfg *Config, onChange func(*Config, error)) {
	if cfg == nil || cfg.source == nil || cfg.source.ConfigFileUsed() == "" {
		return
	}
	v := cfg.source
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(decode(v))
	})
	v.WatchConfig()
}
