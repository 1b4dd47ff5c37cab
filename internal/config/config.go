package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level

	PublishInterval int
	UseCelsius      bool
	PollInterval    time.Duration

	SampleWindow       time.Duration
	SampleMaxRetries   int
	SampleRetryBackoff time.Duration
	SampleSettleDelay  time.Duration

	SensorDriver   string
	PMSPort        string
	PMSBaud        int
	PMSReadTimeout time.Duration
	BME280Bus      string
	BME280Address  uint16
	SimPM25        float64
	SimFailEvery   int

	TimeSource    string
	TelemetrySink string
	AIOBaseURL    string
	AIOTimeout    time.Duration
	AIOTimezone   string
	MQTTBroker    string
	MQTTPort      int
	MQTTClientID  string

	FeedAQI         string
	FeedCategory    string
	FeedTemperature string
	FeedHumidity    string

	RestartMode     string
	RestartExitCode int

	JournalPath   string
	JournalLogSQL bool
	MetricsAddr   string

	ArchiveSchedule string
	GitHubAPIURL    string
	GitHubRepo      string
	GitHubPath      string
	GitHubBranch    string

	Secrets Secrets
}

// Secrets holds credentials and the station location. They come from the
// YAML file named by SECRETS_FILE, overridden per field by the environment.
type Secrets struct {
	AIOUser     string   `yaml:"aio_user"`
	AIOKey      string   `yaml:"aio_key"`
	Latitude    *float64 `yaml:"latitude"`
	Longitude   *float64 `yaml:"longitude"`
	Elevation   *float64 `yaml:"elevation"`
	GitHubToken string   `yaml:"github_token"`
}

// HasLocation reports whether latitude and longitude are both known.
func (s Secrets) HasLocation() bool {
	return s.Latitude != nil && s.Longitude != nil
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func LoadFromEnv() (Config, error) {
	appEnv := env("APP_ENV", "dev")
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(env("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:   appEnv,
		LogLevel: level,
	}

	intervalStr := env("PUBLISH_INTERVAL", "10")
	cfg.PublishInterval, err = strconv.Atoi(intervalStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid PUBLISH_INTERVAL %q: %w", intervalStr, err)
	}
	if cfg.PublishInterval <= 0 {
		return Config{}, fmt.Errorf("PUBLISH_INTERVAL must be positive, got %d", cfg.PublishInterval)
	}

	celsiusStr := env("USE_CELSIUS", "false")
	cfg.UseCelsius, err = strconv.ParseBool(celsiusStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid USE_CELSIUS %q: %w", celsiusStr, err)
	}

	if cfg.PollInterval, err = duration("POLL_INTERVAL", "10s"); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval < time.Second || cfg.PollInterval > time.Minute {
		return Config{}, fmt.Errorf("POLL_INTERVAL must be between 1s and 60s, got %v", cfg.PollInterval)
	}

	if cfg.SampleWindow, err = duration("SAMPLE_WINDOW", "2.3s"); err != nil {
		return Config{}, err
	}
	if cfg.SampleWindow <= 0 {
		return Config{}, fmt.Errorf("SAMPLE_WINDOW must be positive, got %v", cfg.SampleWindow)
	}
	retriesStr := env("SAMPLE_MAX_RETRIES", "5")
	cfg.SampleMaxRetries, err = strconv.Atoi(retriesStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SAMPLE_MAX_RETRIES %q: %w", retriesStr, err)
	}
	if cfg.SampleMaxRetries <= 0 {
		return Config{}, fmt.Errorf("SAMPLE_MAX_RETRIES must be positive, got %d", cfg.SampleMaxRetries)
	}
	if cfg.SampleRetryBackoff, err = duration("SAMPLE_RETRY_BACKOFF", "100ms"); err != nil {
		return Config{}, err
	}
	if cfg.SampleSettleDelay, err = duration("SAMPLE_SETTLE_DELAY", "3s"); err != nil {
		return Config{}, err
	}

	cfg.SensorDriver = env("SENSOR_DRIVER", "hardware")
	switch cfg.SensorDriver {
	case "hardware", "sim":
	default:
		return Config{}, fmt.Errorf("invalid SENSOR_DRIVER %q (allowed: hardware, sim)", cfg.SensorDriver)
	}
	cfg.PMSPort = env("PMS_PORT", "/dev/serial0")
	baudStr := env("PMS_BAUD", "9600")
	cfg.PMSBaud, err = strconv.Atoi(baudStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid PMS_BAUD %q: %w", baudStr, err)
	}
	if cfg.PMSReadTimeout, err = duration("PMS_READ_TIMEOUT", "2s"); err != nil {
		return Config{}, err
	}
	cfg.BME280Bus = env("BME280_BUS", "")
	addrStr := env("BME280_ADDRESS", "0x77")
	addr, err := strconv.ParseUint(addrStr, 0, 16)
	if err != nil {
		return Config{}, fmt.Errorf("invalid BME280_ADDRESS %q: %w", addrStr, err)
	}
	cfg.BME280Address = uint16(addr)
	simPMStr := env("SIM_PM25", "10")
	cfg.SimPM25, err = strconv.ParseFloat(simPMStr, 64)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SIM_PM25 %q: %w", simPMStr, err)
	}
	failEveryStr := env("SIM_FAIL_EVERY", "0")
	cfg.SimFailEvery, err = strconv.Atoi(failEveryStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SIM_FAIL_EVERY %q: %w", failEveryStr, err)
	}

	cfg.TimeSource = env("TIME_SOURCE", "adafruitio")
	switch cfg.TimeSource {
	case "adafruitio", "system":
	default:
		return Config{}, fmt.Errorf("invalid TIME_SOURCE %q (allowed: adafruitio, system)", cfg.TimeSource)
	}
	cfg.TelemetrySink = env("TELEMETRY_SINK", "adafruitio")
	switch cfg.TelemetrySink {
	case "adafruitio", "mqtt":
	default:
		return Config{}, fmt.Errorf("invalid TELEMETRY_SINK %q (allowed: adafruitio, mqtt)", cfg.TelemetrySink)
	}
	cfg.AIOBaseURL = env("AIO_BASE_URL", "https://io.adafruit.com")
	if cfg.AIOTimeout, err = duration("AIO_TIMEOUT", "10s"); err != nil {
		return Config{}, err
	}
	cfg.AIOTimezone = env("AIO_TIMEZONE", "")
	if cfg.AIOTimezone != "" {
		if _, err := time.LoadLocation(cfg.AIOTimezone); err != nil {
			return Config{}, fmt.Errorf("invalid AIO_TIMEZONE %q: %w", cfg.AIOTimezone, err)
		}
	}
	cfg.MQTTBroker = env("MQTT_BROKER", "io.adafruit.com")
	portStr := env("MQTT_PORT", "1883")
	cfg.MQTTPort, err = strconv.Atoi(portStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %q: %w", portStr, err)
	}
	cfg.MQTTClientID = env("MQTT_CLIENT_ID", "")

	cfg.FeedAQI = env("FEED_AQI", "airquality-sensors.aqi")
	cfg.FeedCategory = env("FEED_CATEGORY", "airquality-sensors.category")
	cfg.FeedTemperature = env("FEED_TEMPERATURE", "airquality-sensors.temperature")
	cfg.FeedHumidity = env("FEED_HUMIDITY", "airquality-sensors.humidity")

	cfg.RestartMode = env("RESTART_MODE", "exit")
	switch cfg.RestartMode {
	case "exit", "exec":
	default:
		return Config{}, fmt.Errorf("invalid RESTART_MODE %q (allowed: exit, exec)", cfg.RestartMode)
	}
	codeStr := env("RESTART_EXIT_CODE", "75")
	cfg.RestartExitCode, err = strconv.Atoi(codeStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid RESTART_EXIT_CODE %q: %w", codeStr, err)
	}

	cfg.JournalPath = env("JOURNAL_PATH", "")
	logSQLStr := env("JOURNAL_LOG_SQL", "false")
	cfg.JournalLogSQL, err = strconv.ParseBool(logSQLStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JOURNAL_LOG_SQL %q: %w", logSQLStr, err)
	}
	cfg.MetricsAddr = env("METRICS_ADDR", "")

	cfg.ArchiveSchedule = env("ARCHIVE_SCHEDULE", "")
	cfg.GitHubAPIURL = env("GITHUB_API_URL", "https://api.github.com")
	cfg.GitHubRepo = env("GITHUB_REPO", "")
	cfg.GitHubPath = env("GITHUB_PATH", "readings.csv")
	cfg.GitHubBranch = env("GITHUB_BRANCH", "")
	if cfg.ArchiveSchedule != "" {
		if cfg.JournalPath == "" {
			return Config{}, errors.New("ARCHIVE_SCHEDULE requires JOURNAL_PATH")
		}
		if cfg.GitHubRepo == "" {
			return Config{}, errors.New("ARCHIVE_SCHEDULE requires GITHUB_REPO")
		}
	}

	secrets, err := LoadSecrets(env("SECRETS_FILE", "secrets.yaml"))
	if err != nil {
		return Config{}, err
	}
	if secrets, err = overrideSecrets(secrets); err != nil {
		return Config{}, err
	}
	cfg.Secrets = secrets

	return cfg, nil
}

// RequireCredentials checks that the secrets needed by the configured time
// source and telemetry sink are present.
func (c Config) RequireCredentials() error {
	if c.TimeSource == "adafruitio" || c.TelemetrySink == "adafruitio" {
		if c.Secrets.AIOUser == "" || c.Secrets.AIOKey == "" {
			return errors.New("adafruit io needs aio_user and aio_key (secrets file or AIO_USER/AIO_KEY)")
		}
	}
	if c.TelemetrySink == "mqtt" && c.Secrets.AIOUser == "" {
		return errors.New("mqtt sink needs aio_user for the topic prefix")
	}
	return nil
}

// LoadSecrets reads the YAML secrets file. A missing file yields empty
// secrets; an unreadable or malformed one is an error.
func LoadSecrets(path string) (Secrets, error) {
	var s Secrets
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read secrets %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Secrets{}, fmt.Errorf("parse secrets %s: %w", path, err)
	}
	return s, nil
}

func overrideSecrets(s Secrets) (Secrets, error) {
	s.AIOUser = env("AIO_USER", s.AIOUser)
	s.AIOKey = env("AIO_KEY", s.AIOKey)
	s.GitHubToken = env("GITHUB_TOKEN", s.GitHubToken)
	for _, f := range []struct {
		key string
		dst **float64
	}{
		{"LATITUDE", &s.Latitude},
		{"LONGITUDE", &s.Longitude},
		{"ELEVATION", &s.Elevation},
	} {
		raw := env(f.key, "")
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Secrets{}, fmt.Errorf("invalid %s %q: %w", f.key, raw, err)
		}
		*f.dst = &v
	}
	return s, nil
}

func duration(key, def string) (time.Duration, error) {
	s := env(key, def)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return d, nil
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
