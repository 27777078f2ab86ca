package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func envMap(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load("", envMap(map[string]string{
		"TARGET_URL": "http://ha.local:8123/lovelace/frame",
		"DATA_DIR":   dir,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Interval != 300*time.Second || cfg.HTTPPort != 8200 {
		t.Fatalf("interval/port: %v %d", cfg.Interval, cfg.HTTPPort)
	}
	if cfg.Render.Width != 1920 || cfg.Render.Height != 1080 || cfg.Render.Zoom != 100 {
		t.Fatalf("render: %+v", cfg.Render)
	}
	if cfg.Device.UploadTimeout != 60*time.Second || cfg.Device.Port != 8001 || !cfg.Device.ShowAfterUpload {
		t.Fatalf("device: %+v", cfg.Device)
	}
	if cfg.ArtFile != filepath.Join(dir, "art.jpg") || cfg.Device.LastArtFile != filepath.Join(dir, "last-art-id.txt") {
		t.Fatalf("paths: %s %s", cfg.ArtFile, cfg.Device.LastArtFile)
	}
	if cfg.Device.TokenFile != filepath.Join(dir, "tv-token.txt") || cfg.HistoryDB != filepath.Join(dir, "framesync.db") {
		t.Fatalf("paths: %s %s", cfg.Device.TokenFile, cfg.HistoryDB)
	}
	if cfg.Device.Enabled() {
		t.Fatal("device enabled without host")
	}
}

func TestLoad_Env(t *testing.T) {
	cfg, err := Load("", envMap(map[string]string{
		"IMAGE_PROVIDER_URL":         "https://img.example/frame.jpg",
		"TARGET_AUTH_TYPE":           "Bearer",
		"TARGET_TOKEN":               "abc",
		"INTERVAL":                   "120",
		"SCREENSHOT_WAIT":            "1.5",
		"SCREENSHOT_SKIP_NAVIGATION": "yes",
		"SCREENSHOT_FORMAT":          "JPG",
		"TV_IP":                      "10.0.0.5",
		"TV_BRIDGE_URL":              "http://bridge:8080",
		"TV_SHOW_AFTER_UPLOAD":       "false",
		"TV_UPLOAD_TIMEOUT":          "90",
		"MQTT_ENABLED":               "1",
		"MQTT_BROKER":                "core-mosquitto:1883",
		"DEBUG_LOGGING":              "true",
		"DATA_DIR":                   t.TempDir(),
	}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Source.URL != "https://img.example/frame.jpg" || cfg.Source.AuthType != "bearer" {
		t.Fatalf("source: %+v", cfg.Source)
	}
	if cfg.Interval != 2*time.Minute || cfg.Render.Settle != 1500*time.Millisecond {
		t.Fatalf("timings: %v %v", cfg.Interval, cfg.Render.Settle)
	}
	if !cfg.Render.SkipNavigation || cfg.Render.Format != "jpeg" {
		t.Fatalf("render: %+v", cfg.Render)
	}
	if !cfg.Device.Enabled() || cfg.Device.ShowAfterUpload || cfg.Device.UploadTimeout != 90*time.Second {
		t.Fatalf("device: %+v", cfg.Device)
	}
	if !cfg.MQTT.Enabled || cfg.LogLevel != "debug" {
		t.Fatalf("mqtt/log: %+v %s", cfg.MQTT, cfg.LogLevel)
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "framesync.yaml")
	os.WriteFile(path, []byte(`
source:
  url: http://dash.local/
  auth_type: basic
  username: wall
  password: secret
render:
  width: 1280
  height: 720
  capture: full_page
interval: 45s
http_port: 9000
data_dir: `+dir+`
`), 0o644)

	cfg, err := Load(path, envMap(map[string]string{"HTTP_PORT": "9100"}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Render.Width != 1280 || cfg.Render.Capture != "full_page" || cfg.Interval != 45*time.Second {
		t.Fatalf("yaml not applied: %+v %v", cfg.Render, cfg.Interval)
	}
	if cfg.HTTPPort != 9100 {
		t.Fatalf("env override: %d", cfg.HTTPPort)
	}
	if cfg.Render.Height != 720 || cfg.Render.Zoom != 100 {
		t.Fatalf("defaults lost: %+v", cfg.Render)
	}
}

func TestLoad_Invalid(t *testing.T) {
	base := map[string]string{"TARGET_URL": "http://dash.local/", "DATA_DIR": t.TempDir()}
	tests := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{"no url", map[string]string{"TARGET_URL": ""}, "source.url"},
		{"bad scheme", map[string]string{"TARGET_URL": "ftp://x/"}, "source.url"},
		{"unknown auth", map[string]string{"TARGET_AUTH_TYPE": "oauth"}, "source.auth_type"},
		{"bearer without token", map[string]string{"TARGET_AUTH_TYPE": "bearer"}, "source.token"},
		{"basic without password", map[string]string{"TARGET_AUTH_TYPE": "basic", "TARGET_USERNAME": "u"}, "source.username"},
		{"bad width", map[string]string{"SCREENSHOT_WIDTH": "wide"}, "SCREENSHOT_WIDTH"},
		{"zero interval", map[string]string{"INTERVAL_SECONDS": "0"}, "interval"},
		{"bad capture", map[string]string{"SCREENSHOT_CAPTURE": "element"}, "render.capture"},
		{"host without bridge", map[string]string{"TV_IP": "10.0.0.5"}, "device.bridge_url"},
		{"mqtt without broker", map[string]string{"MQTT_ENABLED": "true"}, "mqtt.broker"},
		{"port range", map[string]string{"HTTP_PORT": "70000"}, "http_port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := map[string]string{}
			for k, v := range base {
				env[k] = v
			}
			for k, v := range tt.env {
				env[k] = v
			}
			_, err := Load("", envMap(env))
			ce, ok := err.(*ConfigError)
			if !ok {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if ce.Field != tt.field {
				t.Fatalf("field: got %q, want %q", ce.Field, tt.field)
			}
			if !IsConfigError(err) {
				t.Fatal("IsConfigError")
			}
		})
	}
}

func TestLoad_ScreensaverOnly(t *testing.T) {
	_, err := Load("", envMap(map[string]string{"SCREENSAVER_ENABLED": "true", "DATA_DIR": t.TempDir()}))
	if err != nil {
		t.Fatalf("screensaver-only config rejected: %v", err)
	}
}

func TestParseBool(t *testing.T) {
	for v, want := range map[string]bool{"1": true, "TRUE": true, "yes": true, "on": true, "0": false, "no": false, "": false} {
		if ParseBool(v) != want {
			t.Errorf("%q: want %v", v, want)
		}
	}
}
