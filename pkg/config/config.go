package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

type Config struct {
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	HTTP       HTTPConfig
	Estimation EstimationConfig
	Report     ReportConfig
	Ingest     IngestConfig
	SMTP       SMTPConfig
	Log        LogConfig
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	DBName        string
	SSLMode       string
	MaxOpenConns  int
	MaxIdleConns  int
	MigrationsDir string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers             []string
	TopicObservations   string
	TopicReportRequests string
	TopicReportEvents   string
	NumPartitions       int
}

type HTTPConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// PublicBaseURL prefixes report file links; empty means relative links
	PublicBaseURL string
	// MetricsAddr is where the worker processes serve /metrics; "off" disables it
	MetricsAddr string
}

// EstimationConfig tunes the uptime estimator and the source in front of Postgres
type EstimationConfig struct {
	DefaultTimezone   string
	BucketWidth       time.Duration
	HistoryLimit      int
	HistoryHalfWindow time.Duration
	EmptyBucketPolicy string
	StoreTimeout      time.Duration
	CacheTTL          time.Duration
	CacheSize         int
	RetryAttempts     int
	RetryDelay        time.Duration
}

type ReportConfig struct {
	OutputDir string
	Format    string // csv or xlsx
	Workers   int
	// Interval triggers a periodic report; zero disables it
	Interval time.Duration
	StateTTL time.Duration
}

type IngestConfig struct {
	BatchSize     int
	FlushInterval time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

type LogConfig struct {
	Level  string
	Format string // text or json
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnvAsInt("DB_PORT", 5432),
			User:          getEnv("DB_USER", "monitor_user"),
			Password:      getEnv("DB_PASSWORD", "monitor_pass"),
			DBName:        getEnv("DB_NAME", "store_monitor"),
			SSLMode:       getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:  getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			MigrationsDir: getEnv("DB_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:             getEnvAsList("KAFKA_BROKERS", "localhost:9092"),
			TopicObservations:   getEnv("KAFKA_TOPIC_OBSERVATIONS", "store.status.raw"),
			TopicReportRequests: getEnv("KAFKA_TOPIC_REPORT_REQUESTS", "store.reports.requests"),
			TopicReportEvents:   getEnv("KAFKA_TOPIC_REPORT_EVENTS", "store.reports.events"),
			NumPartitions:       getEnvAsInt("KAFKA_NUM_PARTITIONS", 10),
		},
		HTTP: HTTPConfig{
			Port:          getEnvAsInt("HTTP_PORT", 8000),
			ReadTimeout:   getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:  getEnvAsDuration("HTTP_WRITE_TIMEOUT", 60*time.Second),
			PublicBaseURL: strings.TrimSuffix(getEnv("HTTP_PUBLIC_BASE_URL", ""), "/"),
			MetricsAddr:   getEnv("METRICS_ADDR", ":9100"),
		},
		Estimation: EstimationConfig{
			DefaultTimezone:   getEnv("ESTIMATION_DEFAULT_TIMEZONE", "America/Chicago"),
			BucketWidth:       getEnvAsDuration("ESTIMATION_BUCKET_WIDTH", 2*time.Hour),
			HistoryLimit:      getEnvAsInt("ESTIMATION_HISTORY_LIMIT", 100),
			HistoryHalfWindow: getEnvAsDuration("ESTIMATION_HISTORY_HALF_WINDOW", time.Hour),
			EmptyBucketPolicy: getEnv("ESTIMATION_EMPTY_BUCKET_POLICY", "neutral"),
			StoreTimeout:      getEnvAsDuration("ESTIMATION_STORE_TIMEOUT", 30*time.Second),
			CacheTTL:          getEnvAsDuration("ESTIMATION_CACHE_TTL", 10*time.Minute),
			CacheSize:         getEnvAsInt("ESTIMATION_CACHE_SIZE", 20000),
			RetryAttempts:     getEnvAsInt("ESTIMATION_RETRY_ATTEMPTS", 3),
			RetryDelay:        getEnvAsDuration("ESTIMATION_RETRY_DELAY", 200*time.Millisecond),
		},
		Report: ReportConfig{
			OutputDir: getEnv("REPORT_OUTPUT_DIR", "reports"),
			Format:    strings.ToLower(getEnv("REPORT_FORMAT", "csv")),
			Workers:   getEnvAsInt("REPORT_WORKERS", 16),
			Interval:  getEnvAsDuration("REPORT_INTERVAL", 0),
			StateTTL:  getEnvAsDuration("REPORT_STATE_TTL", 7*24*time.Hour),
		},
		Ingest: IngestConfig{
			BatchSize:     getEnvAsInt("INGEST_BATCH_SIZE", 500),
			FlushInterval: getEnvAsDuration("INGEST_FLUSH_INTERVAL", 5*time.Second),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "store-monitor@example.com"),
			To:       getEnv("SMTP_TO", "admin@example.com"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects settings no component can run with
func (c *Config) Validate() error {
	var errs []error

	if _, err := time.LoadLocation(c.Estimation.DefaultTimezone); err != nil {
		errs = append(errs, fmt.Errorf("ESTIMATION_DEFAULT_TIMEZONE %q: %w", c.Estimation.DefaultTimezone, err))
	}
	if c.Estimation.BucketWidth <= 0 || (24*time.Hour)%c.Estimation.BucketWidth != 0 {
		errs = append(errs, fmt.Errorf("ESTIMATION_BUCKET_WIDTH %s must divide 24h", c.Estimation.BucketWidth))
	}
	if c.Estimation.HistoryLimit <= 0 {
		errs = append(errs, errors.New("ESTIMATION_HISTORY_LIMIT must be positive"))
	}
	if c.Estimation.HistoryHalfWindow <= 0 || c.Estimation.HistoryHalfWindow >= 12*time.Hour {
		errs = append(errs, errors.New("ESTIMATION_HISTORY_HALF_WINDOW must be between 0 and 12h"))
	}
	switch c.Estimation.EmptyBucketPolicy {
	case "neutral", "skip":
	default:
		errs = append(errs, fmt.Errorf("ESTIMATION_EMPTY_BUCKET_POLICY %q must be neutral or skip", c.Estimation.EmptyBucketPolicy))
	}
	if c.Estimation.RetryAttempts < 1 {
		errs = append(errs, errors.New("ESTIMATION_RETRY_ATTEMPTS must be at least 1"))
	}
	switch c.Report.Format {
	case "csv", "xlsx":
	default:
		errs = append(errs, fmt.Errorf("REPORT_FORMAT %q must be csv or xlsx", c.Report.Format))
	}
	if c.Report.Workers < 1 {
		errs = append(errs, errors.New("REPORT_WORKERS must be at least 1"))
	}
	if c.Report.Interval < 0 {
		errs = append(errs, errors.New("REPORT_INTERVAL must not be negative"))
	}
	if c.Ingest.BatchSize < 1 {
		errs = append(errs, errors.New("INGEST_BATCH_SIZE must be at least 1"))
	}
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is empty"))
	}

	return errors.Join(errs...)
}

// Logger builds the process logger from the log settings
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(c.Log.Format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultValue), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
