package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var allKeys = []string{
	"APP_ENV", "LOG_LEVEL", "PUBLISH_INTERVAL", "USE_CELSIUS", "POLL_INTERVAL",
	"SAMPLE_WINDOW", "SAMPLE_MAX_RETRIES", "SAMPLE_RETRY_BACKOFF", "SAMPLE_SETTLE_DELAY",
	"SENSOR_DRIVER", "PMS_PORT", "PMS_BAUD", "PMS_READ_TIMEOUT", "BME280_BUS", "BME280_ADDRESS", "SIM_PM25", "SIM_FAIL_EVERY",
	"TIME_SOURCE", "TELEMETRY_SINK", "AIO_BASE_URL", "AIO_TIMEOUT", "AIO_TIMEZONE",
	"MQTT_BROKER", "MQTT_PORT", "MQTT_CLIENT_ID",
	"FEED_AQI", "FEED_CATEGORY", "FEED_TEMPERATURE", "FEED_HUMIDITY",
	"RESTART_MODE", "RESTART_EXIT_CODE", "JOURNAL_PATH", "JOURNAL_LOG_SQL", "METRICS_ADDR",
	"ARCHIVE_SCHEDULE", "GITHUB_API_URL", "GITHUB_REPO", "GITHUB_PATH", "GITHUB_BRANCH",
	"AIO_USER", "AIO_KEY", "LATITUDE", "LONGITUDE", "ELEVATION", "GITHUB_TOKEN",
}

// cleanEnv blanks every variable and points SECRETS_FILE at a missing file.
func cleanEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
	t.Setenv("SECRETS_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	cleanEnv(t)

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v, want nil", err)
	}

	if got.AppEnv != "dev" {
		t.Errorf("AppEnv = %q, want dev", got.AppEnv)
	}
	if got.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info", got.LogLevel)
	}
	if got.PublishInterval != 10 {
		t.Errorf("PublishInterval = %d, want 10", got.PublishInterval)
	}
	if got.UseCelsius {
		t.Error("UseCelsius = true, want false")
	}
	if got.PollInterval != 10*time.Second {
		t.Errorf("PollInterval = %v, want 10s", got.PollInterval)
	}
	if got.SampleWindow != 2300*time.Millisecond {
		t.Errorf("SampleWindow = %v, want 2.3s", got.SampleWindow)
	}
	if got.SampleMaxRetries != 5 || got.SampleRetryBackoff != 100*time.Millisecond || got.SampleSettleDelay != 3*time.Second {
		t.Errorf("sampler settings = %d/%v/%v", got.SampleMaxRetries, got.SampleRetryBackoff, got.SampleSettleDelay)
	}
	if got.BME280Address != 0x77 {
		t.Errorf("BME280Address = %#x, want 0x77", got.BME280Address)
	}
	if got.TimeSource != "adafruitio" || got.TelemetrySink != "adafruitio" {
		t.Errorf("TimeSource/TelemetrySink = %q/%q", got.TimeSource, got.TelemetrySink)
	}
	if got.FeedAQI != "airquality-sensors.aqi" || got.FeedHumidity != "airquality-sensors.humidity" {
		t.Errorf("feeds = %q, %q", got.FeedAQI, got.FeedHumidity)
	}
	if got.RestartMode != "exit" || got.RestartExitCode != 75 {
		t.Errorf("restart = %q/%d", got.RestartMode, got.RestartExitCode)
	}
	if got.JournalPath != "" || got.MetricsAddr != "" || got.ArchiveSchedule != "" {
		t.Error("optional components enabled by default")
	}
	if got.Secrets.HasLocation() {
		t.Error("HasLocation() = true without a location")
	}
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"APP_ENV", "staging"},
		{"APP_ENV", "DEV"},
		{"LOG_LEVEL", "verbose"},
		{"PUBLISH_INTERVAL", "0"},
		{"PUBLISH_INTERVAL", "ten"},
		{"USE_CELSIUS", "maybe"},
		{"POLL_INTERVAL", "500ms"},
		{"POLL_INTERVAL", "2m"},
		{"SAMPLE_WINDOW", "0s"},
		{"SAMPLE_MAX_RETRIES", "-1"},
		{"SENSOR_DRIVER", "usb"},
		{"BME280_ADDRESS", "zz"},
		{"SIM_PM25", "lots"},
		{"TIME_SOURCE", "ntp"},
		{"TELEMETRY_SINK", "kafka"},
		{"AIO_TIMEZONE", "Mars/Olympus"},
		{"MQTT_PORT", "x"},
		{"RESTART_MODE", "reboot"},
		{"JOURNAL_LOG_SQL", "2"},
		{"ARCHIVE_SCHEDULE", "@hourly"},
		{"LATITUDE", "north"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			cleanEnv(t)
			t.Setenv(tt.key, tt.value)
			if _, err := LoadFromEnv(); err == nil {
				t.Fatalf("LoadFromEnv() error = nil, want non-nil")
			}
		})
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	cleanEnv(t)
	t.Setenv("APP_ENV", " prod ")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("PUBLISH_INTERVAL", "5")
	t.Setenv("USE_CELSIUS", "true")
	t.Setenv("SENSOR_DRIVER", "sim")
	t.Setenv("TELEMETRY_SINK", "mqtt")
	t.Setenv("BME280_ADDRESS", "0x76")
	t.Setenv("JOURNAL_PATH", "/tmp/j.db")
	t.Setenv("ARCHIVE_SCHEDULE", "0 * * * *")
	t.Setenv("GITHUB_REPO", "owner/data")

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if got.AppEnv != "prod" || got.LogLevel != slog.LevelDebug {
		t.Errorf("AppEnv/LogLevel = %q/%v", got.AppEnv, got.LogLevel)
	}
	if got.PublishInterval != 5 || !got.UseCelsius || got.SensorDriver != "sim" {
		t.Errorf("unexpected %+v", got)
	}
	if got.BME280Address != 0x76 {
		t.Errorf("BME280Address = %#x", got.BME280Address)
	}
	if got.ArchiveSchedule != "0 * * * *" {
		t.Errorf("ArchiveSchedule = %q", got.ArchiveSchedule)
	}
}

func TestSecrets_FileAndEnv(t *testing.T) {
	cleanEnv(t)
	path := filepath.Join(t.TempDir(), "secrets.yaml")
	body := "aio_user: alice\naio_key: filekey\nlatitude: 40.7\nlongitude: -74.0\nelevation: 10\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SECRETS_FILE", path)
	t.Setenv("AIO_KEY", "envkey")
	t.Setenv("ELEVATION", "12.5")

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	s := got.Secrets
	if s.AIOUser != "alice" || s.AIOKey != "envkey" {
		t.Errorf("credentials = %q/%q", s.AIOUser, s.AIOKey)
	}
	if !s.HasLocation() || *s.Latitude != 40.7 || *s.Longitude != -74.0 || *s.Elevation != 12.5 {
		t.Errorf("location = %v/%v/%v", s.Latitude, s.Longitude, s.Elevation)
	}
	if err := got.RequireCredentials(); err != nil {
		t.Errorf("RequireCredentials() = %v", err)
	}
}

func TestSecrets_Malformed(t *testing.T) {
	cleanEnv(t)
	path := filepath.Join(t.TempDir(), "secrets.yaml")
	if err := os.WriteFile(path, []byte("aio_user: [unterminated\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SECRETS_FILE", path)
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("LoadFromEnv() error = nil for malformed secrets")
	}
}

func TestRequireCredentials(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"aio without key", Config{TimeSource: "adafruitio", TelemetrySink: "mqtt", Secrets: Secrets{AIOUser: "a"}}, true},
		{"system time and mqtt", Config{TimeSource: "system", TelemetrySink: "mqtt", Secrets: Secrets{AIOUser: "a"}}, false},
		{"mqtt without user", Config{TimeSource: "system", TelemetrySink: "mqtt"}, true},
		{"all aio", Config{TimeSource: "adafruitio", TelemetrySink: "adafruitio", Secrets: Secrets{AIOUser: "a", AIOKey: "k"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.RequireCredentials()
			if (err != nil) != tt.wantErr {
				t.Fatalf("RequireCredentials() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug, "info": slog.LevelInfo, "warning": slog.LevelWarn, " ERROR ": slog.LevelError,
	} {
		got, err := parseLogLevel(in)
		if err != nil || got != want {
			t.Errorf("parseLogLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
}
