package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"lora-gateway/internal/config"
)

const redacted = "REDACTED"

func New(cfg config.Config, version string, appName string) *slog.Logger {
	return newLogger(os.Stdout, cfg, version, appName)
}

func newLogger(w io.Writer, cfg config.Config, version string, appName string) *slog.Logger {
	scrub := keyScrubber(cfg.CloudWriteKey, cfg.CloudReadKey)

	if version == "dev" {
		h := tint.NewHandler(w, &tint.Options{
			Level:       cfg.LogLevel,
			AddSource:   true,
			TimeFormat:  time.Kitchen,
			ReplaceAttr: scrub,
		})
		return slog.New(h).With("app", appName, "gateway_id", cfg.GatewayID)
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       cfg.LogLevel,
		ReplaceAttr: scrub,
	})
	return slog.New(h).With(
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
		slog.Group("gateway",
			"id", cfg.GatewayID,
			"serial_port", cfg.SerialPort,
			"channel_id", cfg.CloudChannelID,
		),
	)
}

// keyScrubber hides the channel API keys: api_key attributes are replaced
// outright, and a key that leaks into any other string or error value is
// masked in place.
func keyScrubber(keys ...string) func([]string, slog.Attr) slog.Attr {
	var secrets []string
	for _, k := range keys {
		if k != "" {
			secrets = append(secrets, k)
		}
	}
	return func(_ []string, a slog.Attr) slog.Attr {
		if a.Key == "api_key" {
			return slog.String(a.Key, redacted)
		}
		if len(secrets) == 0 {
			return a
		}
		var s string
		switch v := a.Value.Any().(type) {
		case string:
			s = v
		case error:
			s = v.Error()
		default:
			return a
		}
		masked := s
		for _, k := range secrets {
			masked = strings.ReplaceAll(masked, k, redacted)
		}
		if masked == s {
			return a
		}
		return slog.String(a.Key, masked)
	}
}
