package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/i474232898/air-quality-mirror/internal/airquality"
)

type AppConfig struct {
	AppEnv   string     `validate:"oneof=dev prod"`
	LogLevel slog.Level `validate:"-"`
	Port     string     `validate:"required,numeric"`

	// Remote API.
	GiosBaseURL       string        `validate:"required,url"`
	GiosPageSize      int           `validate:"min=1,max=500"`
	GiosTimezone      string        `validate:"required,timezone"`
	GiosRateLimitCode string        `validate:"required"`
	HTTPTimeout       time.Duration `validate:"gt=0"`

	// Local store.
	StoreDriver string `validate:"oneof=sqlite memory"`
	SQLitePath  string `validate:"required_if=StoreDriver sqlite"`

	TTLs airquality.TTLs `validate:"-"`

	// Background warm-up. An interval of 0 disables it.
	WarmInterval time.Duration `validate:"min=0"`
	WarmStations []int64       `validate:"dive,gt=0"`
	WarmQuantity string        `validate:"required"`
	IndexWorkers int           `validate:"min=1,max=64"`
}

var validate = validator.New()

// Load reads configuration from the environment (and .env, when present)
// with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from the process environment only.
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{
		AppEnv:            getenvDefault("APP_ENV", "dev"),
		Port:              getenvDefault("PORT", "8080"),
		GiosBaseURL:       getenvDefault("GIOS_BASE_URL", "https://api.gios.gov.pl/pjp-api/v1/rest"),
		GiosTimezone:      getenvDefault("GIOS_TIMEZONE", "Europe/Warsaw"),
		GiosRateLimitCode: getenvDefault("GIOS_RATE_LIMIT_CODE", airquality.DefaultRateLimitCode),
		StoreDriver:       getenvDefault("STORE_DRIVER", "sqlite"),
		SQLitePath:        getenvDefault("SQLITE_PATH", "data/air-quality.db"),
		WarmQuantity:      strings.ToUpper(getenvDefault("WARM_QUANTITY", airquality.OverallQuantity)),
	}

	var err error
	if cfg.LogLevel, err = parseLogLevel(getenvDefault("LOG_LEVEL", "info")); err != nil {
		return nil, err
	}
	if cfg.GiosPageSize, err = getenvInt("GIOS_PAGE_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.IndexWorkers, err = getenvInt("INDEX_WORKERS", airquality.DefaultIndexWorkers); err != nil {
		return nil, err
	}

	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"HTTP_TIMEOUT", 30 * time.Second, &cfg.HTTPTimeout},
		{"TTL_STATION_META", airquality.DefaultStationMetaTTL, &cfg.TTLs.StationMeta},
		{"TTL_SENSORS", airquality.DefaultSensorsTTL, &cfg.TTLs.Sensors},
		{"TTL_SERIES", airquality.DefaultSensorSeriesTTL, &cfg.TTLs.SensorSeries},
		{"WARM_INTERVAL", 15 * time.Minute, &cfg.WarmInterval},
	}
	for _, d := range durations {
		if *d.dst, err = getenvDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	if cfg.WarmStations, err = parseIDs(os.Getenv("WARM_STATIONS")); err != nil {
		return nil, fmt.Errorf("invalid WARM_STATIONS: %w", err)
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Location loads the remote's time zone.
func (c *AppConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.GiosTimezone)
}

func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
