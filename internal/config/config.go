package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"posecam-go/internal/wireframe"
)

type AppConfig struct {
	Port           int     `yaml:"port"`
	Endpoint       string  `yaml:"endpoint"`
	Debug          bool    `yaml:"debug"`
	DebugFPS       float64 `yaml:"debug_fps"`
	DisplayRate    float64 `yaml:"display_rate"`
	SurfaceWidth   float64 `yaml:"surface_width"`
	SurfaceHeight  float64 `yaml:"surface_height"`
	IngestLogEvery int     `yaml:"ingest_log_every"`
	IngestFallback bool    `yaml:"ingest_fallback"`

	RawLogEnabled     bool   `yaml:"raw_log"`
	RawLogDir         string `yaml:"raw_log_dir"`
	RawLogCompression string `yaml:"raw_log_compression"`
	OutputDir         string `yaml:"output_dir"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Style    wireframe.Style `yaml:"style"`
	Detector DetectorConfig  `yaml:"detector"`
	Feed     FeedConfig      `yaml:"feed"`
	MQTT     MQTTConfig      `yaml:"mqtt"`
}

// DetectorConfig points at the pose detector sidecar's control API and
// carries the options pushed to it at startup.
type DetectorConfig struct {
	BaseURL                string        `yaml:"base_url"`
	PollInterval           time.Duration `yaml:"poll_interval"`
	ModelComplexity        int           `yaml:"model_complexity"`
	SmoothLandmarks        bool          `yaml:"smooth_landmarks"`
	MinDetectionConfidence float64       `yaml:"min_detection_confidence"`
	MinTrackingConfidence  float64       `yaml:"min_tracking_confidence"`
}

type FeedConfig struct {
	Enabled            bool    `yaml:"enabled"`
	DBPath             string  `yaml:"db_path"`
	StorageDir         string  `yaml:"storage_dir"`
	PublicBaseURL      string  `yaml:"public_base_url"`
	MaxUploadBytes     int64   `yaml:"max_upload_bytes"`
	MaxDurationSeconds float64 `yaml:"max_duration_seconds"`
}

type MQTTConfig struct {
	Broker   string        `yaml:"broker"`
	Topic    string        `yaml:"topic"`
	ClientID string        `yaml:"client_id"`
	QoS      uint8         `yaml:"qos"`
	Interval time.Duration `yaml:"interval"`
}

func Default() AppConfig {
	return AppConfig{
		Port:              8888,
		Endpoint:          "tcp://localhost:31001",
		DebugFPS:          30,
		DisplayRate:       60,
		SurfaceWidth:      1080,
		SurfaceHeight:     1920,
		IngestLogEvery:    100,
		IngestFallback:    true,
		RawLogDir:         "rawlog",
		RawLogCompression: "zstd",
		OutputDir:         "output",
		LogLevel:          "info",
		LogFormat:         "text",
		Style:             wireframe.DefaultStyle(),
		Detector: DetectorConfig{
			PollInterval:           time.Second,
			ModelComplexity:        1,
			SmoothLandmarks:        true,
			MinDetectionConfidence: 0.5,
			MinTrackingConfidence:  0.5,
		},
		Feed: FeedConfig{
			DBPath:             "feed.db",
			StorageDir:         "videos",
			MaxUploadBytes:     200 << 20,
			MaxDurationSeconds: 30,
		},
		MQTT: MQTTConfig{
			Topic:    "posecam/pose",
			QoS:      0,
			Interval: time.Second,
		},
	}
}

// Load reads a YAML file on top of Default.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// BindFlags registers one flag per setting, defaulting to the current
// values in cfg.
func BindFlags(fs *pflag.FlagSet, cfg *AppConfig) {
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP port for the overlay server")
	fs.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "ZMQ endpoint of the pose detector stream")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Run with simulated detections")
	fs.Float64Var(&cfg.DebugFPS, "debug-fps", cfg.DebugFPS, "Simulated detector rate (frames/sec)")
	fs.Float64Var(&cfg.DisplayRate, "display-rate", cfg.DisplayRate, "Overlay render rate (frames/sec)")
	fs.Float64Var(&cfg.SurfaceWidth, "surface-width", cfg.SurfaceWidth, "Overlay surface width in pixels")
	fs.Float64Var(&cfg.SurfaceHeight, "surface-height", cfg.SurfaceHeight, "Overlay surface height in pixels")
	fs.IntVar(&cfg.IngestLogEvery, "ingest-log-every", cfg.IngestLogEvery, "Log every Nth ingest error")
	fs.BoolVar(&cfg.IngestFallback, "ingest-fallback", cfg.IngestFallback, "Fall back to simulator when ingest fails")
	fs.BoolVar(&cfg.RawLogEnabled, "raw-log", cfg.RawLogEnabled, "Record raw CBOR detector messages to disk")
	fs.StringVar(&cfg.RawLogDir, "raw-log-dir", cfg.RawLogDir, "Directory for raw detector recordings")
	fs.StringVar(&cfg.RawLogCompression, "raw-log-compression", cfg.RawLogCompression, "Recording compression: none, lz4, zstd")
	fs.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "Directory for pose track CSV files")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text, json")

	fs.StringVar(&cfg.Detector.BaseURL, "detector-url", cfg.Detector.BaseURL, "Base URL of the detector control API")
	fs.DurationVar(&cfg.Detector.PollInterval, "detector-poll", cfg.Detector.PollInterval, "Detector status polling interval")
	fs.IntVar(&cfg.Detector.ModelComplexity, "model-complexity", cfg.Detector.ModelComplexity, "Pose model complexity (0, 1, 2)")
	fs.BoolVar(&cfg.Detector.SmoothLandmarks, "smooth-landmarks", cfg.Detector.SmoothLandmarks, "Ask the detector to smooth landmarks")
	fs.Float64Var(&cfg.Detector.MinDetectionConfidence, "min-detection-confidence", cfg.Detector.MinDetectionConfidence, "Detector minimum detection confidence")
	fs.Float64Var(&cfg.Detector.MinTrackingConfidence, "min-tracking-confidence", cfg.Detector.MinTrackingConfidence, "Detector minimum tracking confidence")

	fs.BoolVar(&cfg.Feed.Enabled, "feed", cfg.Feed.Enabled, "Enable video upload and feed endpoints")
	fs.StringVar(&cfg.Feed.DBPath, "feed-db", cfg.Feed.DBPath, "SQLite database for the video feed")
	fs.StringVar(&cfg.Feed.StorageDir, "feed-storage", cfg.Feed.StorageDir, "Directory for uploaded videos")
	fs.StringVar(&cfg.Feed.PublicBaseURL, "feed-base-url", cfg.Feed.PublicBaseURL, "Public base URL used in video links")
	fs.Int64Var(&cfg.Feed.MaxUploadBytes, "feed-max-bytes", cfg.Feed.MaxUploadBytes, "Maximum upload size in bytes")

	fs.StringVar(&cfg.MQTT.Broker, "mqtt-broker", cfg.MQTT.Broker, "MQTT broker host:port for pose telemetry (empty disables)")
	fs.StringVar(&cfg.MQTT.Topic, "mqtt-topic", cfg.MQTT.Topic, "MQTT topic for pose telemetry")
	fs.DurationVar(&cfg.MQTT.Interval, "mqtt-interval", cfg.MQTT.Interval, "Pose telemetry publish interval")
}

// Parse builds the configuration from an optional --config file and the
// command line. Flags given explicitly win over the file.
func Parse(name string, args []string) (AppConfig, error) {
	pre := pflag.NewFlagSet(name, pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.Usage = func() {}
	pre.SetOutput(discard{})
	configPath := pre.String("config", "", "")
	_ = pre.Parse(args)

	cfg := Default()
	if *configPath != "" {
		loaded, err := Load(*configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", *configPath, "Path to a YAML configuration file")
	BindFlags(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if err := Validate(&cfg); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate fills zero values with defaults and rejects settings that
// cannot work.
func Validate(cfg *AppConfig) error {
	def := Default()
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port must be in 1..65535, got %d", cfg.Port)
	}
	if cfg.DisplayRate <= 0 {
		cfg.DisplayRate = def.DisplayRate
	}
	if cfg.DebugFPS <= 0 {
		cfg.DebugFPS = def.DebugFPS
	}
	if cfg.SurfaceWidth <= 0 || cfg.SurfaceHeight <= 0 {
		return errors.New("surface width and height must be > 0")
	}
	if cfg.IngestLogEvery < 1 {
		cfg.IngestLogEvery = 1
	}
	if !cfg.Debug && cfg.Endpoint == "" {
		return errors.New("endpoint is required unless debug is set")
	}

	cfg.RawLogCompression = strings.ToLower(cfg.RawLogCompression)
	switch cfg.RawLogCompression {
	case "":
		cfg.RawLogCompression = "none"
	case "none", "lz4", "zstd":
	default:
		return fmt.Errorf("raw_log_compression must be none, lz4 or zstd, got %q", cfg.RawLogCompression)
	}

	switch strings.ToLower(cfg.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", cfg.LogFormat)
	}
	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return err
	}

	if _, err := wireframe.ParseColor(cfg.Style.PointColor); err != nil {
		return fmt.Errorf("style.point_color: %w", err)
	}
	if _, err := wireframe.ParseColor(cfg.Style.LineColor); err != nil {
		return fmt.Errorf("style.line_color: %w", err)
	}

	d := &cfg.Detector
	if d.ModelComplexity < 0 || d.ModelComplexity > 2 {
		return fmt.Errorf("detector.model_complexity must be 0, 1 or 2, got %d", d.ModelComplexity)
	}
	for name, v := range map[string]float64{
		"detector.min_detection_confidence": d.MinDetectionConfidence,
		"detector.min_tracking_confidence":  d.MinTrackingConfidence,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", name, v)
		}
	}
	if d.PollInterval <= 0 {
		d.PollInterval = def.Detector.PollInterval
	}

	if cfg.Feed.Enabled {
		if cfg.Feed.DBPath == "" || cfg.Feed.StorageDir == "" {
			return errors.New("feed.db_path and feed.storage_dir are required when the feed is enabled")
		}
		if cfg.Feed.MaxUploadBytes <= 0 {
			cfg.Feed.MaxUploadBytes = def.Feed.MaxUploadBytes
		}
		if cfg.Feed.MaxDurationSeconds <= 0 {
			cfg.Feed.MaxDurationSeconds = def.Feed.MaxDurationSeconds
		}
	}

	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.Topic == "" {
			cfg.MQTT.Topic = def.MQTT.Topic
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
		}
		if cfg.MQTT.Interval <= 0 {
			cfg.MQTT.Interval = def.MQTT.Interval
		}
	}
	return nil
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
