// Package emitter publishes pose telemetry to an MQTT broker.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"posecam-go/internal/config"
	"posecam-go/internal/posestate"
	"posecam-go/internal/wireframe"
)

// Snapshotter is the read side of a pose store.
type Snapshotter interface {
	Snapshot() (posestate.State, uint64)
}

// Payload is one telemetry message. Landmarks are only included for valid
// poses.
type Payload struct {
	Session   string               `json:"session"`
	Version   uint64               `json:"version"`
	Timestamp int64                `json:"timestamp_ms"`
	Score     float64              `json:"score"`
	Valid     bool                 `json:"valid"`
	Visible   int                  `json:"visible_landmarks"`
	Landmarks []posestate.Landmark `json:"landmarks,omitempty"`
}

func BuildPayload(session string, state *posestate.State, version uint64, at time.Time) Payload {
	p := Payload{
		Session:   session,
		Version:   version,
		Timestamp: at.UnixMilli(),
		Score:     state.Score,
		Valid:     state.IsValid,
		Visible:   state.VisibleCount(wireframe.VisibilityThreshold),
	}
	if state.IsValid {
		p.Landmarks = append([]posestate.Landmark(nil), state.Landmarks[:]...)
	}
	return p
}

type MQTTEmitter struct {
	cfg     config.MQTTConfig
	session string
	logger  *slog.Logger
	client  mqtt.Client
	publish func(Payload) error

	mu        sync.RWMutex
	published uint64
	skipped   uint64
	errors    uint64
	connected bool
}

type Stats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Skipped   uint64 `json:"skipped"`
	Errors    uint64 `json:"errors"`
}

func NewMQTTEmitter(cfg config.MQTTConfig, session string, logger *slog.Logger) *MQTTEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	e := &MQTTEmitter{
		cfg:     cfg,
		session: session,
		logger:  logger.With("component", "emitter", "broker", cfg.Broker),
	}
	e.publish = e.Publish
	return e
}

func (e *MQTTEmitter) Connect(ctx context.Context) error {
	clientID := e.cfg.ClientID
	if clientID == "" {
		clientID = "posecam-" + e.session
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		e.logger.Info("mqtt connection established", "client_id", clientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		e.logger.Warn("mqtt connection lost, will auto-reconnect", "error", err)
	}

	e.client = mqtt.NewClient(opts)
	e.logger.Info("connecting to mqtt broker")

	token := e.client.Connect()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	e.setConnected(true)
	return nil
}

func (e *MQTTEmitter) Publish(p Payload) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}
	data, err := json.Marshal(p)
	if err != nil {
		e.countError()
		return fmt.Errorf("marshal pose payload: %w", err)
	}

	token := e.client.Publish(e.cfg.Topic, e.cfg.QoS, false, data)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}
	e.logger.Debug("pose published", "topic", e.cfg.Topic, "version", p.Version, "size", len(data))
	return nil
}

// Run publishes the current pose every interval when it changed since the
// last publish. It returns when ctx is cancelled.
func (e *MQTTEmitter) Run(ctx context.Context, src Snapshotter) {
	interval := e.cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last uint64
	sent := false
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			state, version := src.Snapshot()
			if sent && version == last {
				e.mu.Lock()
				e.skipped++
				e.mu.Unlock()
				continue
			}
			if err := e.publish(BuildPayload(e.session, &state, version, now)); err != nil {
				e.logger.Warn("pose publish failed", "error", err)
				continue
			}
			e.mu.Lock()
			e.published++
			e.mu.Unlock()
			last, sent = version, true
		}
	}
}

func (e *MQTTEmitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		e.logger.Info("mqtt disconnected")
	}
	e.setConnected(false)
}

func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{
		Connected: e.connected,
		Published: e.published,
		Skipped:   e.skipped,
		Errors:    e.errors,
	}
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
