package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv    string
	LogLevel  slog.Level
	GatewayID string

	SerialPort        string
	SerialBaud        int
	SerialReadTimeout time.Duration
	SerialMaxLine     int
	SerialLineCRC     bool

	CloudURL        string
	CloudChannelID  string
	CloudWriteKey   string
	CloudReadKey    string
	CloudTimeout    time.Duration
	CloudMaxRetries int

	CommandPollInterval time.Duration
	LoopInterval        time.Duration
	ErrorPause          time.Duration

	// MQTTBroker empty disables the telemetry mirror.
	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string

	// SQLitePath empty disables the local journal.
	SQLitePath            string
	SQLiteLogQueries      bool
	SQLiteMaxOpenConns    int
	SQLiteConnMaxLifetime time.Duration

	// HTTPAddr empty disables the local status API.
	HTTPAddr string
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	gatewayID := envOr("GATEWAY_ID", "lora-gateway")

	serialPort := envOr("SERIAL_PORT", "/dev/ttyUSB0")
	serialBaud, err := envInt("SERIAL_BAUD", 115200)
	if err != nil {
		return Config{}, err
	}
	if serialBaud <= 0 {
		return Config{}, fmt.Errorf("SERIAL_BAUD must be positive, got %d", serialBaud)
	}
	serialReadTimeout, err := envDuration("SERIAL_READ_TIMEOUT", "100ms")
	if err != nil {
		return Config{}, err
	}
	serialMaxLine, err := envInt("SERIAL_MAX_LINE", 4096)
	if err != nil {
		return Config{}, err
	}
	if serialMaxLine <= 0 {
		return Config{}, fmt.Errorf("SERIAL_MAX_LINE must be positive, got %d", serialMaxLine)
	}
	serialLineCRC, err := envBool("SERIAL_LINE_CRC", false)
	if err != nil {
		return Config{}, err
	}

	cloudURL := strings.TrimRight(envOr("THINGSPEAK_URL", "https://api.thingspeak.com"), "/")
	if u, err := url.Parse(cloudURL); err != nil || u.Scheme == "" || u.Host == "" {
		return Config{}, fmt.Errorf("invalid THINGSPEAK_URL %q", cloudURL)
	}
	channelID := strings.TrimSpace(os.Getenv("THINGSPEAK_CHANNEL_ID"))
	if channelID == "" {
		return Config{}, errors.New("THINGSPEAK_CHANNEL_ID is required")
	}
	writeKey, err := loadSecret("THINGSPEAK_WRITE_API_KEY")
	if err != nil {
		return Config{}, err
	}
	readKey, err := loadSecret("THINGSPEAK_READ_API_KEY")
	if err != nil {
		return Config{}, err
	}
	cloudTimeout, err := envDuration("HTTP_TIMEOUT", "10s")
	if err != nil {
		return Config{}, err
	}
	cloudMaxRetries, err := envInt("CLOUD_MAX_RETRIES", 0)
	if err != nil {
		return Config{}, err
	}
	if cloudMaxRetries < 0 || cloudMaxRetries > 10 {
		return Config{}, fmt.Errorf("CLOUD_MAX_RETRIES must be between 0 and 10, got %d", cloudMaxRetries)
	}

	pollInterval, err := envDuration("COMMAND_POLL_INTERVAL", "15s")
	if err != nil {
		return Config{}, err
	}
	loopInterval, err := envDuration("LOOP_INTERVAL", "100ms")
	if err != nil {
		return Config{}, err
	}
	errorPause, err := envDuration("ERROR_PAUSE", "1s")
	if err != nil {
		return Config{}, err
	}

	mqttBroker := strings.TrimSpace(os.Getenv("MQTT_BROKER"))
	mqttPort, err := envInt("MQTT_PORT", 1883)
	if err != nil {
		return Config{}, err
	}
	mqttClientID := envOr("MQTT_CLIENT_ID", gatewayID)

	sqlitePath := strings.TrimSpace(os.Getenv("SQLITE_PATH"))
	sqliteLogQueries, err := envBool("SQLITE_LOG_QUERIES", false)
	if err != nil {
		return Config{}, err
	}
	sqliteMaxOpenConns, err := envInt("SQLITE_MAX_OPEN_CONNS", 1)
	if err != nil {
		return Config{}, err
	}
	if sqliteMaxOpenConns < 1 {
		return Config{}, fmt.Errorf("SQLITE_MAX_OPEN_CONNS must be at least 1, got %d", sqliteMaxOpenConns)
	}
	connMaxLifetime, err := envDurationAllowZero("SQLITE_CONN_MAX_LIFETIME", "0s")
	if err != nil {
		return Config{}, err
	}

	httpAddr := strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	if httpAddr != "" && sqlitePath == "" {
		return Config{}, errors.New("HTTP_ADDR requires SQLITE_PATH (the status API reads the journal)")
	}

	return Config{
		AppEnv:    appEnv,
		LogLevel:  level,
		GatewayID: gatewayID,

		SerialPort:        serialPort,
		SerialBaud:        serialBaud,
		SerialReadTimeout: serialReadTimeout,
		SerialMaxLine:     serialMaxLine,
		SerialLineCRC:     serialLineCRC,

		CloudURL:        cloudURL,
		CloudChannelID:  channelID,
		CloudWriteKey:   writeKey,
		CloudReadKey:    readKey,
		CloudTimeout:    cloudTimeout,
		CloudMaxRetries: cloudMaxRetries,

		CommandPollInterval: pollInterval,
		LoopInterval:        loopInterval,
		ErrorPause:          errorPause,

		MQTTBroker:   mqttBroker,
		MQTTPort:     mqttPort,
		MQTTClientID: mqttClientID,

		SQLitePath:            sqlitePath,
		SQLiteLogQueries:      sqliteLogQueries,
		SQLiteMaxOpenConns:    sqliteMaxOpenConns,
		SQLiteConnMaxLifetime: connMaxLifetime,

		HTTPAddr: httpAddr,
	}, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return b, nil
}

func envDuration(key, def string) (time.Duration, error) {
	s := envOr(key, def)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, d)
	}
	return d, nil
}

// envDurationAllowZero is envDuration for settings where 0 means unlimited.
func envDurationAllowZero(key, def string) (time.Duration, error) {
	s := envOr(key, def)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %v", key, d)
	}
	return d, nil
}

// loadSecret reads KEY, or the file named by KEY_FILE when KEY is unset.
// Setting both is rejected so a stale inline value cannot shadow the mount.
func loadSecret(key string) (string, error) {
	inline := strings.TrimSpace(os.Getenv(key))
	path := strings.TrimSpace(os.Getenv(key + "_FILE"))
	switch {
	case inline != "" && path != "":
		return "", fmt.Errorf("%s and %s_FILE are mutually exclusive", key, key)
	case inline != "":
		return inline, nil
	case path != "":
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("%s_FILE %q: %w", key, path, err)
		}
		v := strings.TrimSpace(string(b))
		if v == "" {
			return "", fmt.Errorf("%s_FILE %q is empty", key, path)
		}
		return v, nil
	default:
		return "", fmt.Errorf("%s (or %s_FILE) is required", key, key)
	}
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
