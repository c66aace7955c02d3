package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"posecam-go/internal/config"
	"posecam-go/internal/detectorapi"
	"posecam-go/internal/emitter"
	"posecam-go/internal/feed"
	"posecam-go/internal/ingest"
	"posecam-go/internal/output"
	"posecam-go/internal/overlay"
	"posecam-go/internal/server"
	"posecam-go/internal/simulator"
	"posecam-go/internal/types"
)

type metrics struct {
	rawMessages     atomic.Uint64
	poseMessages    atomic.Uint64
	nonePoses       atomic.Uint64
	metaMessages    atomic.Uint64
	framesRendered  atomic.Uint64
	framesDropped   atomic.Uint64
	trackWriteOK    atomic.Uint64
	trackWriteError atomic.Uint64
	recordErrors    atomic.Uint64
}

func (m *metrics) snapshot() map[string]any {
	return map[string]any{
		"raw_messages_total":      m.rawMessages.Load(),
		"pose_messages_total":     m.poseMessages.Load(),
		"none_messages_total":     m.nonePoses.Load(),
		"meta_messages_total":     m.metaMessages.Load(),
		"frames_rendered_total":   m.framesRendered.Load(),
		"frames_dropped_total":    m.framesDropped.Load(),
		"track_write_ok_total":    m.trackWriteOK.Load(),
		"track_write_err_total":   m.trackWriteError.Load(),
		"raw_record_errors_total": m.recordErrors.Load(),
	}
}

// statusBoard holds the human-facing state shown on /status.
type statusBoard struct {
	mu     sync.Mutex
	fields map[string]any
}

func (b *statusBoard) set(key string, value any) {
	b.mu.Lock()
	b.fields[key] = value
	b.mu.Unlock()
}

func (b *statusBoard) copy() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]any, len(b.fields))
	for k, v := range b.fields {
		out[k] = v
	}
	return out
}

func main() {
	cfg, err := config.Parse("posecam", os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "posecam: %v\n", err)
		os.Exit(2)
	}

	logger := config.NewLogger(os.Stderr, cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("posecam stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.AppConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := overlay.Mount(logger, overlay.Surface{Width: cfg.SurfaceWidth, Height: cfg.SurfaceHeight})
	defer session.Unmount()

	var m metrics
	status := &statusBoard{fields: map[string]any{
		"source":      "stream",
		"detector":    "unknown",
		"camera":      "unknown",
		"stream":      "idle",
		"last_ingest": "",
		"started_at":  time.Now().Format(time.RFC3339),
	}}

	var recorder *output.RawLogWriter
	if cfg.RawLogEnabled {
		writer, err := output.NewRawLogWriter(cfg.RawLogDir, "detector_cbor", cfg.RawLogCompression)
		if err != nil {
			return fmt.Errorf("start raw log: %w", err)
		}
		recorder = writer
		logger.Info("recording detector stream", "path", writer.Path(), "compression", cfg.RawLogCompression)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Warn("raw log close failed", "error", err)
			}
		}()
	}

	var sourceMu sync.Mutex
	var source *ingest.Source
	var rawMessages <-chan types.RawMessage
	if cfg.Debug {
		status.set("source", "simulator")
		rawMessages = recordSimulated(ctx, simulator.Stream(ctx, simulator.Options{
			FPS:    cfg.DebugFPS,
			Jitter: 0.002,
			Seed:   time.Now().UnixNano(),
		}), recorder, &m, logger)
	} else {
		out := make(chan types.RawMessage, 128)
		rawMessages = out
		go func() {
			defer close(out)
			var ingestCh <-chan types.RawMessage
			start := func() {
				opts := ingest.Options{
					Endpoint: cfg.Endpoint,
					LogEvery: cfg.IngestLogEvery,
					Logger:   logger,
				}
				if recorder != nil {
					opts.Recorder = recorder
				}
				src, err := ingest.Open(ctx, opts)
				if err != nil {
					if !cfg.IngestFallback {
						logger.Error("failed to start ingest", "error", err)
						stop()
						return
					}
					logger.Warn("failed to start ingest, falling back to simulator", "error", err)
					status.set("source", "simulator")
					ingestCh = simulator.Stream(ctx, simulator.Options{FPS: cfg.DebugFPS, Jitter: 0.002})
					return
				}
				sourceMu.Lock()
				source = src
				sourceMu.Unlock()
				ingestCh = src.Messages()
			}
			start()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-ingestCh:
					if !ok {
						logger.Warn("ingest stream closed, restarting")
						select {
						case <-ctx.Done():
							return
						case <-time.After(time.Second):
						}
						start()
						continue
					}
					select {
					case <-ctx.Done():
						return
					case out <- msg:
					}
				}
			}
		}()
	}
	logger.Info("pose source started", "debug", cfg.Debug, "endpoint", cfg.Endpoint)

	frames := make(chan types.RawMessage, 16)
	go func() {
		defer close(frames)
		for msg := range rawMessages {
			m.rawMessages.Add(1)
			status.set("last_ingest", time.Now().Format(time.RFC3339Nano))
			switch msg.Type {
			case types.MessagePose:
				m.poseMessages.Add(1)
			case types.MessageNone:
				m.nonePoses.Add(1)
			case types.MessageStart:
				m.metaMessages.Add(1)
				status.set("stream", "running")
				status.set("run_start", output.NormalizeJSONValue(msg.Meta))
				logger.Info("detector session started", "meta", msg.Meta)
			case types.MessageEnd:
				m.metaMessages.Add(1)
				status.set("stream", "idle")
				status.set("run_end", output.NormalizeJSONValue(msg.Meta))
				logger.Info("detector session ended", "meta", msg.Meta)
			}
			// Session boundaries clear the pose in stream order, after any
			// detections still queued ahead of them.
			if msg.Type == types.MessageStart || msg.Type == types.MessageEnd {
				msg = types.RawMessage{Type: types.MessageNone}
			}
			select {
			case <-ctx.Done():
				return
			case frames <- msg:
			}
		}
	}()
	go session.Consume(ctx, ingest.Detections(ctx, frames))

	var track *output.TrackWriter
	if cfg.OutputDir != "" {
		writer, err := output.NewTrackWriter(cfg.OutputDir, output.Timestamp(), session.ID())
		if err != nil {
			return fmt.Errorf("start track writer: %w", err)
		}
		track = writer
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Warn("track writer close failed", "error", err)
			}
		}()
	}

	uiMessages := make(chan any, 16)
	go session.RenderLoop(ctx, cfg.DisplayRate, func(frame overlay.Frame) {
		m.framesRendered.Add(1)
		select {
		case uiMessages <- server.OverlayMessage(frame):
		default:
			m.framesDropped.Add(1)
		}
		if track != nil {
			if err := track.Write(frame.Version, time.Now(), &frame.State); err != nil {
				m.trackWriteError.Add(1)
				return
			}
			m.trackWriteOK.Add(1)
		}
	})

	if cfg.Detector.BaseURL != "" && !cfg.Debug {
		opts := detectorapi.Options{
			ModelComplexity:        cfg.Detector.ModelComplexity,
			SmoothLandmarks:        cfg.Detector.SmoothLandmarks,
			MinDetectionConfidence: cfg.Detector.MinDetectionConfidence,
			MinTrackingConfidence:  cfg.Detector.MinTrackingConfidence,
		}
		if err := detectorapi.Configure(ctx, cfg.Detector.BaseURL, opts); err != nil {
			logger.Warn("detector configuration failed", "error", err)
		} else {
			logger.Info("detector configured", "model_complexity", opts.ModelComplexity)
		}
		go detectorapi.Poll(ctx, cfg.Detector.BaseURL, cfg.Detector.PollInterval, func(update detectorapi.Status) {
			status.set("detector", update.Detector)
			status.set("camera", update.Camera)
			status.set("stream", update.Stream)
			if update.FPS > 0 {
				status.set("detector_fps", update.FPS)
			}
		})
	} else if cfg.Debug {
		status.set("detector", "simulator")
	}

	var mqttEmitter *emitter.MQTTEmitter
	if cfg.MQTT.Broker != "" {
		mqttEmitter = emitter.NewMQTTEmitter(cfg.MQTT, session.ID(), logger)
		if err := mqttEmitter.Connect(ctx); err != nil {
			logger.Warn("mqtt unavailable, pose telemetry disabled", "error", err)
			mqttEmitter = nil
		} else {
			defer mqttEmitter.Disconnect()
			go mqttEmitter.Run(ctx, session)
		}
	}

	var videos *feed.Store
	if cfg.Feed.Enabled {
		store, err := feed.Open(feed.Config{
			DBPath:        cfg.Feed.DBPath,
			StorageDir:    cfg.Feed.StorageDir,
			PublicBaseURL: cfg.Feed.PublicBaseURL,
			MaxBytes:      cfg.Feed.MaxUploadBytes,
			MaxDuration:   cfg.Feed.MaxDurationSeconds,
			Logger:        logger,
		})
		if err != nil {
			return fmt.Errorf("open video feed: %w", err)
		}
		videos = store
		defer store.Close()
	}

	statusFn := func() map[string]any {
		payload := status.copy()
		metricsPayload := m.snapshot()
		sourceMu.Lock()
		if source != nil {
			stats := source.Stats()
			metricsPayload["ingest_received_total"] = stats.Received
			metricsPayload["ingest_decoded_total"] = stats.Decoded
			metricsPayload["ingest_decode_errors_total"] = stats.DecodeErrors
			metricsPayload["ingest_recv_errors_total"] = stats.RecvErrors
			metricsPayload["raw_record_errors_total"] = stats.RecordErrors + m.recordErrors.Load()
		}
		sourceMu.Unlock()
		if recorder != nil {
			metricsPayload["raw_records_total"] = recorder.Records()
		}
		if mqttEmitter != nil {
			payload["mqtt"] = mqttEmitter.Stats()
		}
		payload["metrics"] = metricsPayload
		payload["overlay"] = session.Stats()
		return payload
	}

	logger.Info("starting web UI", "url", fmt.Sprintf("http://localhost:%d", cfg.Port))
	srv := server.New(cfg, logger, server.Deps{
		Session:  session,
		Feed:     videos,
		StatusFn: statusFn,
	})
	if err := srv.Run(ctx, uiMessages); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// recordSimulated passes simulated messages through, writing their wire
// form to the raw log so debug runs can be replayed like live captures.
func recordSimulated(ctx context.Context, in <-chan types.RawMessage, recorder *output.RawLogWriter, m *metrics, logger *slog.Logger) <-chan types.RawMessage {
	if recorder == nil {
		return in
	}
	out := make(chan types.RawMessage, 16)
	go func() {
		defer close(out)
		for msg := range in {
			payload, err := ingest.EncodeMessage(msg)
			if err == nil {
				err = recorder.Record(payload)
			}
			if err != nil {
				if m.recordErrors.Add(1) == 1 {
					logger.Warn("raw recording failed", "error", err)
				}
			}
			select {
			case <-ctx.Done():
				return
			case out <- msg:
			}
		}
	}()
	return out
}
