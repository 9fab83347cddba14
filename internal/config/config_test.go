package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func lookupFromMap(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(lookupFromMap(nil), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("Mode = %q", cfg.Mode)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("LogFormat = %q (dev mode defaults to text)", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.LogLevel)
	}
	if cfg.ShutdownTimeout != DefaultShutdown {
		t.Fatalf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
	if cfg.MaxSignalingMessageBytes != DefaultMaxSignalingMessageBytes {
		t.Fatalf("MaxSignalingMessageBytes = %d", cfg.MaxSignalingMessageBytes)
	}
	if cfg.MaxSignalingMessagesPerSecond != DefaultMaxSignalingMessagesPerSecond {
		t.Fatalf("MaxSignalingMessagesPerSecond = %d", cfg.MaxSignalingMessagesPerSecond)
	}
	if cfg.SignalingWSIdleTimeout != DefaultSignalingWSIdleTimeout {
		t.Fatalf("SignalingWSIdleTimeout = %v", cfg.SignalingWSIdleTimeout)
	}
	if cfg.TURNREST.Enabled() {
		t.Fatalf("TURN REST enabled by default")
	}
	if err := cfg.ICEConfigError(); err != nil {
		t.Fatalf("ICEConfigError = %v", err)
	}
}

func TestLoad_ProdModeDefaultsToJSONInfo(t *testing.T) {
	cfg, err := load(lookupFromMap(map[string]string{
		"CALLMESH_MODE": "prod",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("Mode = %q", cfg.Mode)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("LogFormat = %q, want json in prod", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v, want info in prod", cfg.LogLevel)
	}
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	cfg, err := load(lookupFromMap(map[string]string{
		"CALLMESH_LISTEN_ADDR": "127.0.0.1:9999",
	}), []string{"-listen-addr", "0.0.0.0:7000", "-log-level", "warn"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:7000" {
		t.Fatalf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.LogLevel != slog.LevelWarn {
		t.Fatalf("LogLevel = %v", cfg.LogLevel)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad shutdown timeout", map[string]string{"CALLMESH_SHUTDOWN_TIMEOUT": "soon"}, "CALLMESH_SHUTDOWN_TIMEOUT"},
		{"bad message bytes", map[string]string{"MAX_SIGNALING_MESSAGE_BYTES": "lots"}, "MAX_SIGNALING_MESSAGE_BYTES"},
		{"bad rate", map[string]string{"MAX_SIGNALING_MESSAGES_PER_SECOND": "x"}, "MAX_SIGNALING_MESSAGES_PER_SECOND"},
		{"bad idle timeout", map[string]string{"SIGNALING_WS_IDLE_TIMEOUT": "x"}, "SIGNALING_WS_IDLE_TIMEOUT"},
		{"bad mode", map[string]string{"CALLMESH_MODE": "staging"}, "mode"},
		{"bad origin", map[string]string{"ALLOWED_ORIGINS": "not a url"}, "ALLOWED_ORIGINS"},
		{"bad turn rest ttl", map[string]string{"TURN_REST_TTL_SECONDS": "x"}, "TURN_REST_TTL_SECONDS"},
		{"colon in turn rest prefix", map[string]string{
			"TURN_REST_SHARED_SECRET":   "s",
			"TURN_REST_USERNAME_PREFIX": "a:b",
		}, "TURN_REST_USERNAME_PREFIX"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(lookupFromMap(tc.env), nil)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoad_AllowedOrigins(t *testing.T) {
	cfg, err := load(lookupFromMap(map[string]string{
		"ALLOWED_ORIGINS": "https://App.Example.com:443, http://localhost:3000 ,*",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"https://app.example.com", "http://localhost:3000", "*"}
	if len(cfg.AllowedOrigins) != len(want) {
		t.Fatalf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	for i := range want {
		if cfg.AllowedOrigins[i] != want[i] {
			t.Fatalf("AllowedOrigins[%d] = %q, want %q", i, cfg.AllowedOrigins[i], want[i])
		}
	}
}

func TestLoad_Durations(t *testing.T) {
	cfg, err := load(lookupFromMap(map[string]string{
		"CALLMESH_SHUTDOWN_TIMEOUT":  "5s",
		"SIGNALING_WS_IDLE_TIMEOUT":  "2m",
		"SIGNALING_WS_PING_INTERVAL": "30s",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Fatalf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
	if cfg.SignalingWSIdleTimeout != 2*time.Minute {
		t.Fatalf("SignalingWSIdleTimeout = %v", cfg.SignalingWSIdleTimeout)
	}
	if cfg.SignalingWSPingInterval != 30*time.Second {
		t.Fatalf("SignalingWSPingInterval = %v", cfg.SignalingWSPingInterval)
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []LogFormat{LogFormatText, LogFormatJSON} {
		logger, err := NewLogger(Config{LogFormat: format, LogLevel: slog.LevelInfo})
		if err != nil || logger == nil {
			t.Fatalf("NewLogger(%q) = %v, %v", format, logger, err)
		}
	}
	if _, err := NewLogger(Config{LogFormat: "yaml"}); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}
