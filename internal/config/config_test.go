package config

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(&cfg))
	assert.Equal(t, 60.0, cfg.DisplayRate)
	assert.Equal(t, "#FF0000", cfg.Style.PointColor)
	assert.Equal(t, "#00FF00", cfg.Style.LineColor)
	assert.Equal(t, 30.0, cfg.Feed.MaxDurationSeconds)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posecam.yaml")
	data := `
port: 9000
display_rate: 30
style:
  point_radius: 6
  point_color: "#FFFFFF"
detector:
  base_url: http://detector:8080
  poll_interval: 250ms
mqtt:
  broker: localhost:1883
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 30.0, cfg.DisplayRate)
	assert.Equal(t, 6.0, cfg.Style.PointRadius)
	assert.Equal(t, 2.0, cfg.Style.LineWidth, "unset keys keep defaults")
	assert.Equal(t, "#FFFFFF", cfg.Style.PointColor)
	assert.Equal(t, 250*time.Millisecond, cfg.Detector.PollInterval)
	assert.Equal(t, 1, cfg.Detector.ModelComplexity)
	assert.Equal(t, "posecam/pose", cfg.MQTT.Topic)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParseFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posecam.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9000\ndebug: true\n"), 0o644))

	cfg, err := Parse("posecam", []string{"--config", path, "--port", "9100", "--raw-log-compression", "LZ4"})
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "lz4", cfg.RawLogCompression)
}

func TestParseHelp(t *testing.T) {
	_, err := Parse("posecam", []string{"--help"})
	assert.True(t, errors.Is(err, pflag.ErrHelp))
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*AppConfig){
		"port":        func(c *AppConfig) { c.Port = 0 },
		"surface":     func(c *AppConfig) { c.SurfaceWidth = 0 },
		"compression": func(c *AppConfig) { c.RawLogCompression = "gzip" },
		"log format":  func(c *AppConfig) { c.LogFormat = "xml" },
		"log level":   func(c *AppConfig) { c.LogLevel = "loud" },
		"color":       func(c *AppConfig) { c.Style.LineColor = "green" },
		"complexity":  func(c *AppConfig) { c.Detector.ModelComplexity = 3 },
		"confidence":  func(c *AppConfig) { c.Detector.MinTrackingConfidence = 1.5 },
		"endpoint":    func(c *AppConfig) { c.Endpoint = "" },
		"feed paths":  func(c *AppConfig) { c.Feed.Enabled = true; c.Feed.DBPath = "" },
		"mqtt qos":    func(c *AppConfig) { c.MQTT.Broker = "localhost:1883"; c.MQTT.QoS = 3 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, Validate(&cfg))
		})
	}
}

func TestValidateFillsZeroRates(t *testing.T) {
	cfg := Default()
	cfg.DisplayRate = 0
	cfg.IngestLogEvery = 0
	cfg.RawLogCompression = ""
	require.NoError(t, Validate(&cfg))
	assert.Equal(t, 60.0, cfg.DisplayRate)
	assert.Equal(t, 1, cfg.IngestLogEvery)
	assert.Equal(t, "none", cfg.RawLogCompression)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.LogFormat = "json"
	cfg.LogLevel = "warn"
	logger := NewLogger(&buf, cfg)
	logger.Info("hidden")
	logger.Warn("shown", "k", 1)
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"))

	level, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}
