// Package config assembles the runtime configuration: built-in
// defaults, then an optional YAML file, then environment overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	AppEnv   string
	LogLevel string
	LogFile  string

	Hostname     string
	NetInterface string

	BrokerHost string
	BrokerPort int
	ClientID   string
	Username   string
	Password   string

	DataTopic   string
	StatusTopic string

	ConnectTimeout time.Duration
	PublishTimeout time.Duration

	IdxCO2     int
	IdxTempHum int

	PollInterval time.Duration
	ClockRefresh time.Duration
	IdleSleep    time.Duration

	I2CBus              string
	SensorAddr          uint16
	MeasurementInterval time.Duration
	TemperatureOffsetC  float64
	AutoCalibration     bool
	CalibrationPin      string

	DisplayEnabled bool
}

// Default returns the built-in configuration. Device indexes default
// to zero and must be supplied; everything else is usable as-is
// against a local broker.
func Default() Config {
	return Config{
		AppEnv:   "dev",
		LogLevel: "info",

		Hostname: "co2-sensor",

		BrokerHost: "localhost",
		BrokerPort: 1883,
		ClientID:   "co2-sensor-values",
		Username:   "co2-sensor",

		DataTopic:   "domoticz/in",
		StatusTopic: "outTopic",

		ConnectTimeout: 5 * time.Second,
		PublishTimeout: 5 * time.Second,

		PollInterval: 10 * time.Second,
		ClockRefresh: time.Second,
		IdleSleep:    10 * time.Millisecond,

		SensorAddr:          0x61,
		MeasurementInterval: 2 * time.Second,

		DisplayEnabled: true,
	}
}

// fileConfig is the YAML shape. Durations are integer milliseconds (the
// sensor's own measurement interval in whole seconds); empty or absent
// values keep the defaults.
type fileConfig struct {
	AppEnv   string `yaml:"app_env"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	Hostname     string `yaml:"hostname"`
	NetInterface string `yaml:"net_interface"`

	BrokerHost string `yaml:"mqtt_broker"`
	BrokerPort int    `yaml:"mqtt_port"`
	ClientID   string `yaml:"mqtt_client_id"`
	Username   string `yaml:"mqtt_username"`
	Password   string `yaml:"mqtt_password"`

	DataTopic   string `yaml:"data_topic"`
	StatusTopic string `yaml:"status_topic"`

	ConnectTimeoutMs int `yaml:"connect_timeout_ms"`
	PublishTimeoutMs int `yaml:"publish_timeout_ms"`

	IdxCO2     int `yaml:"idx_device_co2"`
	IdxTempHum int `yaml:"idx_device_temphum"`

	PollIntervalMs int `yaml:"poll_interval_ms"`
	ClockRefreshMs int `yaml:"clock_refresh_ms"`
	IdleSleepMs    int `yaml:"idle_sleep_ms"`

	I2CBus               string  `yaml:"i2c_bus"`
	SensorAddr           string  `yaml:"scd30_address"`
	MeasurementIntervalS int     `yaml:"measurement_interval_s"`
	TemperatureOffsetC   float64 `yaml:"temperature_offset_c"`
	AutoCalibration      *bool   `yaml:"auto_calibration"`
	CalibrationPin       string  `yaml:"calibration_pin"`

	DisplayEnabled *bool `yaml:"display_enabled"`
}

// Load builds the configuration. path may be empty; the file, when
// given, must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.AppEnv, fc.AppEnv)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.LogFile, fc.LogFile)
	setString(&c.Hostname, fc.Hostname)
	setString(&c.NetInterface, fc.NetInterface)
	setString(&c.BrokerHost, fc.BrokerHost)
	setInt(&c.BrokerPort, fc.BrokerPort)
	setString(&c.ClientID, fc.ClientID)
	setString(&c.Username, fc.Username)
	setString(&c.Password, fc.Password)
	setString(&c.DataTopic, fc.DataTopic)
	setString(&c.StatusTopic, fc.StatusTopic)
	setMillis(&c.ConnectTimeout, fc.ConnectTimeoutMs)
	setMillis(&c.PublishTimeout, fc.PublishTimeoutMs)
	setInt(&c.IdxCO2, fc.IdxCO2)
	setInt(&c.IdxTempHum, fc.IdxTempHum)
	setMillis(&c.PollInterval, fc.PollIntervalMs)
	setMillis(&c.ClockRefresh, fc.ClockRefreshMs)
	setMillis(&c.IdleSleep, fc.IdleSleepMs)
	setString(&c.I2CBus, fc.I2CBus)
	setString(&c.CalibrationPin, fc.CalibrationPin)

	if fc.SensorAddr != "" {
		addr, err := strconv.ParseUint(fc.SensorAddr, 0, 16)
		if err != nil {
			return fmt.Errorf("invalid scd30_address %q: %w", fc.SensorAddr, err)
		}
		c.SensorAddr = uint16(addr)
	}
	if fc.MeasurementIntervalS != 0 {
		c.MeasurementInterval = time.Duration(fc.MeasurementIntervalS) * time.Second
	}
	if fc.TemperatureOffsetC != 0 {
		c.TemperatureOffsetC = fc.TemperatureOffsetC
	}
	if fc.AutoCalibration != nil {
		c.AutoCalibration = *fc.AutoCalibration
	}
	if fc.DisplayEnabled != nil {
		c.DisplayEnabled = *fc.DisplayEnabled
	}
	return nil
}

func (c *Config) applyEnv() error {
	var err error

	c.AppEnv = envString("APP_ENV", c.AppEnv)
	c.LogLevel = envString("LOG_LEVEL", c.LogLevel)
	c.LogFile = envString("LOG_FILE", c.LogFile)
	c.Hostname = envString("DEVICE_HOSTNAME", c.Hostname)
	c.NetInterface = envString("NET_INTERFACE", c.NetInterface)

	c.BrokerHost = envString("MQTT_BROKER", c.BrokerHost)
	if c.BrokerPort, err = envInt("MQTT_PORT", c.BrokerPort); err != nil {
		return err
	}
	c.ClientID = envString("MQTT_CLIENT_ID", c.ClientID)
	c.Username = envString("MQTT_USERNAME", c.Username)
	c.Password = envString("MQTT_PASSWORD", c.Password)
	c.DataTopic = envString("DATA_TOPIC", c.DataTopic)
	c.StatusTopic = envString("STATUS_TOPIC", c.StatusTopic)
	if c.ConnectTimeout, err = envDuration("MQTT_CONNECT_TIMEOUT", c.ConnectTimeout); err != nil {
		return err
	}
	if c.PublishTimeout, err = envDuration("MQTT_PUBLISH_TIMEOUT", c.PublishTimeout); err != nil {
		return err
	}

	if c.IdxCO2, err = envInt("IDX_DEVICE_CO2", c.IdxCO2); err != nil {
		return err
	}
	if c.IdxTempHum, err = envInt("IDX_DEVICE_TEMPHUM", c.IdxTempHum); err != nil {
		return err
	}

	if c.PollInterval, err = envDuration("SENSOR_POLL_INTERVAL", c.PollInterval); err != nil {
		return err
	}
	if c.ClockRefresh, err = envDuration("CLOCK_REFRESH_INTERVAL", c.ClockRefresh); err != nil {
		return err
	}
	if c.IdleSleep, err = envDuration("IDLE_SLEEP", c.IdleSleep); err != nil {
		return err
	}

	c.I2CBus = envString("I2C_BUS", c.I2CBus)
	if c.SensorAddr, err = envUint16("SCD30_ADDRESS", c.SensorAddr); err != nil {
		return err
	}
	if c.MeasurementInterval, err = envDuration("SENSOR_MEASUREMENT_INTERVAL", c.MeasurementInterval); err != nil {
		return err
	}
	if c.TemperatureOffsetC, err = envFloat("TEMPERATURE_OFFSET", c.TemperatureOffsetC); err != nil {
		return err
	}
	if c.AutoCalibration, err = envBool("AUTO_CALIBRATION", c.AutoCalibration); err != nil {
		return err
	}
	c.CalibrationPin = envString("CALIBRATION_PIN", c.CalibrationPin)
	if c.DisplayEnabled, err = envBool("DISPLAY_ENABLED", c.DisplayEnabled); err != nil {
		return err
	}
	return nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	switch c.AppEnv {
	case "dev", "prod":
	default:
		return fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", c.AppEnv)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.BrokerHost == "" {
		return fmt.Errorf("MQTT_BROKER must not be empty")
	}
	if c.BrokerPort < 1 || c.BrokerPort > 65535 {
		return fmt.Errorf("MQTT_PORT %d out of range 1-65535", c.BrokerPort)
	}
	if c.ClientID == "" {
		return fmt.Errorf("MQTT_CLIENT_ID must not be empty")
	}
	if c.DataTopic == "" || c.StatusTopic == "" {
		return fmt.Errorf("DATA_TOPIC and STATUS_TOPIC must not be empty")
	}
	if c.IdxCO2 <= 0 {
		return fmt.Errorf("IDX_DEVICE_CO2 must be a positive device index, got %d", c.IdxCO2)
	}
	if c.IdxTempHum <= 0 {
		return fmt.Errorf("IDX_DEVICE_TEMPHUM must be a positive device index, got %d", c.IdxTempHum)
	}
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"SENSOR_POLL_INTERVAL", c.PollInterval},
		{"CLOCK_REFRESH_INTERVAL", c.ClockRefresh},
		{"IDLE_SLEEP", c.IdleSleep},
		{"MQTT_CONNECT_TIMEOUT", c.ConnectTimeout},
		{"MQTT_PUBLISH_TIMEOUT", c.PublishTimeout},
	} {
		if d.v <= 0 {
			return fmt.Errorf("%s must be positive, got %v", d.name, d.v)
		}
	}
	if c.SensorAddr == 0 {
		return fmt.Errorf("SCD30_ADDRESS must not be zero")
	}
	if c.MeasurementInterval < 2*time.Second || c.MeasurementInterval > 1800*time.Second {
		return fmt.Errorf("SENSOR_MEASUREMENT_INTERVAL %v out of range 2s-1800s", c.MeasurementInterval)
	}
	if c.TemperatureOffsetC < 0 {
		return fmt.Errorf("TEMPERATURE_OFFSET must not be negative, got %v", c.TemperatureOffsetC)
	}
	return nil
}

// ParseLogLevel maps the textual level onto slog.
func ParseLogLevel(s string) (slog.Level, error) {
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

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setMillis(dst *time.Duration, ms int) {
	if ms != 0 {
		*dst = time.Duration(ms) * time.Millisecond
	}
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return v, nil
}

func envUint16(key string, def uint16) (uint16, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return uint16(v), nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return v, nil
}

func envFloat(key string, def float64) (float64, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return v, nil
}

func envBool(key string, def bool) (bool, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return v, nil
}
