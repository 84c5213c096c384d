package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DriverConfig captures everything the driver agent needs to run one
// session. Values come from environment variables with defaults that work
// against a local ride service.
type DriverConfig struct {
	DriverID    int64
	DriverToken string
	JWTSecret   string
	APIURL      string
	WSURL       string
	LocalAddr   string

	HeartbeatInterval   time.Duration
	ReconnectDelay      time.Duration
	LocationInterval    time.Duration
	ActionTimeout       time.Duration
	ShutdownTimeout     time.Duration
	DefaultOfferSeconds int

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	OSRMURL         string
	DefaultSpeedMps float64
	ETACacheTTL     time.Duration

	LogLevel      string
	StartOnline   bool
	RunMigrations bool
}

func defaultDriverConfig() DriverConfig {
	return DriverConfig{
		APIURL:              "http://localhost:8000/api",
		WSURL:               "ws://localhost:8000",
		LocalAddr:           "127.0.0.1:8090",
		HeartbeatInterval:   30 * time.Second,
		ReconnectDelay:      5 * time.Second,
		LocationInterval:    3 * time.Second,
		ActionTimeout:       10 * time.Second,
		ShutdownTimeout:     15 * time.Second,
		DefaultOfferSeconds: 20,
		RedisGeoKey:         "driver_positions",
		KafkaTopic:          "driver-telemetry",
		DefaultSpeedMps:     8,
		ETACacheTTL:         time.Minute,
		LogLevel:            "info",
	}
}

func LoadDriverConfig() (DriverConfig, error) {
	cfg := defaultDriverConfig()
	var errs []error

	if v := strings.TrimSpace(os.Getenv("DRIVER_ID")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid DRIVER_ID: %w", err))
		}
		cfg.DriverID = id
	}
	cfg.DriverToken = strings.TrimSpace(os.Getenv("DRIVER_TOKEN"))
	cfg.JWTSecret = os.Getenv("DRIVER_JWT_SECRET")
	setStringFromEnv(&cfg.APIURL, "API_URL")
	setStringFromEnv(&cfg.WSURL, "WS_URL")
	setStringFromEnv(&cfg.LocalAddr, "LOCAL_ADDR")

	setDurationFromEnv(&cfg.HeartbeatInterval, "HEARTBEAT_INTERVAL", &errs)
	setDurationFromEnv(&cfg.ReconnectDelay, "RECONNECT_DELAY", &errs)
	setDurationFromEnv(&cfg.LocationInterval, "LOCATION_INTERVAL", &errs)
	setDurationFromEnv(&cfg.ActionTimeout, "ACTION_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "SHUTDOWN_TIMEOUT", &errs)
	setIntFromEnv(&cfg.DefaultOfferSeconds, "DEFAULT_OFFER_SECONDS", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	cfg.OSRMURL = strings.TrimSpace(os.Getenv("OSRM_URL"))
	setFloatFromEnv(&cfg.DefaultSpeedMps, "ETA_DEFAULT_SPEED_MPS", &errs)
	setDurationFromEnv(&cfg.ETACacheTTL, "ETA_CACHE_TTL", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.StartOnline = strings.EqualFold(os.Getenv("START_ONLINE"), "true")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.DriverID == 0 && cfg.DriverToken == "" {
		errs = append(errs, fmt.Errorf("DRIVER_ID or DRIVER_TOKEN is required"))
	}
	if cfg.DefaultOfferSeconds <= 0 {
		errs = append(errs, fmt.Errorf("DEFAULT_OFFER_SECONDS must be > 0"))
	}
	if cfg.ReconnectDelay <= 0 || cfg.HeartbeatInterval <= 0 || cfg.LocationInterval <= 0 {
		errs = append(errs, fmt.Errorf("channel intervals must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
