package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName       string
	AppVersion    string
	Environment   string
	AuthJWTSecret string

	HTTPAddr           string
	OpsAddr            string
	CORSAllowedOrigins []string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RateLimit RateLimitConfig
	SQS       SQSConfig
	Scheduler SchedulerConfig

	PolicyPath string
}

// RateLimitConfig configures the redis-backed token buckets in front of write endpoints.
type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	BookingCreateRate  float64
	BookingCreateBurst int
	SensorReportRate   float64
	SensorReportBurst  int

	BookingLockTTLSeconds int
}

type SQSConfig struct {
	QueueURL          string
	Region            string
	Endpoint          string
	MaxMessages       int32
	WaitTimeSeconds   int32
	VisibilityTimeout int32
	RetryDelay        time.Duration
}

type SchedulerConfig struct {
	RunInterval      time.Duration
	JobTimeout       time.Duration
	EnabledJobs      []string
	ReconcileEnabled bool
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:            getenv("APP_SERVICE", "parkway"),
		AppVersion:         getenv("APP_VERSION", "0.1.0"),
		Environment:        getenv("ENVIRONMENT", "development"),
		AuthJWTSecret:      strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		HTTPAddr:           getenv("HTTP_ADDR", ":8080"),
		OpsAddr:            getenv("OPS_ADDR", ":9090"),
		CORSAllowedOrigins: parseList(getenv("CORS_ALLOWED_ORIGINS", "*")),
		OTLPEndpoint:       getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:             getenv("DATABASE_TYPE", "postgres"),
		DBHost:             getenv("DATABASE_HOST", "localhost"),
		DBPort:             getenv("DATABASE_PORT", "5432"),
		DBName:             getenv("DATABASE_NAME", "parkway"),
		DBUser:             getenv("DATABASE_USER", "postgres"),
		DBPassword:         getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:          getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:      getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:      getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime:  getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime:  getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		RateLimit: RateLimitConfig{
			Enabled:               getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:             strings.TrimSpace(getenv("REDIS_ADDR", "")),
			RedisPassword:         getenv("REDIS_PASSWORD", ""),
			RedisDB:               getenvInt("REDIS_DB", 0),
			BookingCreateRate:     getenvFloat("RATE_LIMIT_BOOKING_RATE", 1),
			BookingCreateBurst:    getenvInt("RATE_LIMIT_BOOKING_BURST", 5),
			SensorReportRate:      getenvFloat("RATE_LIMIT_SENSOR_RATE", 10),
			SensorReportBurst:     getenvInt("RATE_LIMIT_SENSOR_BURST", 20),
			BookingLockTTLSeconds: getenvInt("RATE_LIMIT_BOOKING_LOCK_TTL_SECONDS", 10),
		},
		SQS: SQSConfig{
			QueueURL:          strings.TrimSpace(getenv("SQS_SENSOR_QUEUE_URL", "")),
			Region:            getenv("AWS_REGION", "us-east-1"),
			Endpoint:          strings.TrimSpace(getenv("SQS_ENDPOINT", "")),
			MaxMessages:       int32(getenvInt("SQS_MAX_MESSAGES", 10)),
			WaitTimeSeconds:   int32(getenvInt("SQS_WAIT_TIME_SECONDS", 20)),
			VisibilityTimeout: int32(getenvInt("SQS_VISIBILITY_TIMEOUT", 60)),
			RetryDelay:        getenvDuration("SQS_RETRY_DELAY", 5*time.Second),
		},
		Scheduler: SchedulerConfig{
			RunInterval:      getenvDuration("SCHEDULER_RUN_INTERVAL", time.Minute),
			JobTimeout:       getenvDuration("SCHEDULER_JOB_TIMEOUT", 30*time.Second),
			EnabledJobs:      parseList(getenv("SCHEDULER_ENABLED_JOBS", "")),
			ReconcileEnabled: getenvBool("SCHEDULER_RECONCILE_ENABLED", false),
		},
		PolicyPath: strings.TrimSpace(getenv("POLICY_PATH", "")),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
