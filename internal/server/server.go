package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"posecam-go/internal/config"
	"posecam-go/internal/detectorapi"
	"posecam-go/internal/feed"
	"posecam-go/internal/overlay"
	"posecam-go/internal/types"
	"posecam-go/internal/wireframe"
)

//go:embed web/*
var webFS embed.FS

// Deps are the parts of the running service the server exposes. Feed is
// nil when uploads are disabled.
type Deps struct {
	Session  *overlay.Session
	Feed     *feed.Store
	StatusFn func() map[string]any
}

type Server struct {
	upgrader websocket.Upgrader
	clients  map[*websocket.Conn]*sync.Mutex
	mu       sync.Mutex
	cfg      config.AppConfig
	logger   *slog.Logger
	deps     Deps
}

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10

	maxSnapshotSide = 4096
)

func New(cfg config.AppConfig, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*sync.Mutex),
		cfg:     cfg,
		logger:  logger.With("component", "server"),
		deps:    deps,
	}
}

func (s *Server) Handler() (http.Handler, error) {
	sub, err := fs.Sub(webFS, "web")
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(sub)))
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/config", s.handleConfig)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("GET /snapshot.png", s.handleSnapshot)
	mux.HandleFunc("GET /videos", s.handleListVideos)
	mux.HandleFunc("POST /videos", s.handleUpload)
	mux.HandleFunc("GET /videos/{id}", s.handleGetVideo)
	mux.HandleFunc("GET /videos/{id}/content", s.handleVideoContent)
	mux.HandleFunc("POST /detector/command/{name}", s.handleDetectorCommand)
	mux.HandleFunc("GET /detector/options", s.handleDetectorOptions)
	return mux, nil
}

// Run serves HTTP and broadcasts every message from messages to all
// websocket clients until ctx is cancelled.
func (s *Server) Run(ctx context.Context, messages <-chan any) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(s.cfg.Port)),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	go s.broadcast(ctx, messages)

	s.logger.Info("http server listening", "addr", httpServer.Addr)
	err = httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) configMessage() types.ConfigMessage {
	msg := types.ConfigMessage{
		Type:          "config",
		SurfaceWidth:  s.cfg.SurfaceWidth,
		SurfaceHeight: s.cfg.SurfaceHeight,
		DisplayRate:   s.cfg.DisplayRate,
		Style:         s.cfg.Style,
	}
	if s.deps.Session != nil {
		msg.SessionID = s.deps.Session.ID()
		surface := s.deps.Session.Surface()
		msg.SurfaceWidth, msg.SurfaceHeight = surface.Width, surface.Height
	}
	return msg
}

// OverlayMessage wraps a rendered frame for display clients.
func OverlayMessage(frame overlay.Frame) types.OverlayMessage {
	return types.OverlayMessage{
		Type:     "overlay",
		Version:  frame.Version,
		Score:    frame.Score,
		Valid:    frame.Valid,
		DrawList: frame.List,
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	s.mu.Lock()
	writeMu := &sync.Mutex{}
	s.clients[conn] = writeMu
	s.mu.Unlock()
	s.logger.Debug("websocket client connected", "remote", r.RemoteAddr)

	_ = s.writeJSON(conn, writeMu, s.configMessage())
	if s.deps.Session != nil {
		_ = s.writeJSON(conn, writeMu, OverlayMessage(s.deps.Session.Render()))
	}

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := s.writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer s.removeClient(conn)
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			s.handleClientMessage(conn, writeMu, payload)
		}
	}()
}

type clientRequest struct {
	Type   string  `json:"type"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (s *Server) handleClientMessage(conn *websocket.Conn, writeMu *sync.Mutex, payload []byte) {
	var req clientRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return
	}
	if s.deps.Session == nil {
		return
	}
	switch req.Type {
	case "snapshot_request":
		_ = s.writeJSON(conn, writeMu, OverlayMessage(s.deps.Session.Render()))
	case "resize":
		if req.Width <= 0 || req.Height <= 0 {
			return
		}
		s.deps.Session.Resize(overlay.Surface{Width: req.Width, Height: req.Height})
		s.logger.Debug("overlay surface resized", "width", req.Width, "height", req.Height)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"port":            s.cfg.Port,
		"debug":           s.cfg.Debug,
		"display_rate_hz": s.cfg.DisplayRate,
		"surface_width":   s.cfg.SurfaceWidth,
		"surface_height":  s.cfg.SurfaceHeight,
		"style":           s.cfg.Style,
		"detector_url":    s.cfg.Detector.BaseURL,
		"feed_enabled":    s.deps.Feed != nil,
		"max_duration_s":  s.cfg.Feed.MaxDurationSeconds,
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{}
	if s.deps.StatusFn != nil {
		payload = s.deps.StatusFn()
	}
	if metrics, ok := payload["metrics"].(map[string]any); ok {
		metrics["ws_clients"] = s.clientCount()
	} else {
		payload["ws_clients"] = s.clientCount()
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

// handleSnapshot renders the current pose to PNG, at the session surface
// size unless width and height are given.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.deps.Session == nil {
		http.Error(w, "no overlay session", http.StatusServiceUnavailable)
		return
	}
	frame := s.deps.Session.Render()
	if r.URL.Query().Has("width") || r.URL.Query().Has("height") {
		width, werr := strconv.ParseFloat(r.URL.Query().Get("width"), 64)
		height, herr := strconv.ParseFloat(r.URL.Query().Get("height"), 64)
		if werr != nil || herr != nil || width <= 0 || height <= 0 || width > maxSnapshotSide || height > maxSnapshotSide {
			http.Error(w, "width and height must be in (0, 4096]", http.StatusBadRequest)
			return
		}
		state := s.deps.Session.Read()
		frame.List = wireframe.Render(&state, width, height)
	}
	if frame.List.Width <= 0 || frame.List.Height <= 0 {
		http.Error(w, "overlay surface has no area", http.StatusConflict)
		return
	}
	if frame.List.Width > maxSnapshotSide || frame.List.Height > maxSnapshotSide {
		scale := maxSnapshotSide / max(frame.List.Width, frame.List.Height)
		state := s.deps.Session.Read()
		frame.List = wireframe.Render(&state, frame.List.Width*scale, frame.List.Height*scale)
	}

	label := "no pose"
	if frame.Valid {
		label = "score " + strconv.FormatFloat(frame.Score, 'f', 2, 64)
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := wireframe.EncodePNG(w, &frame.List, s.cfg.Style, label); err != nil {
		s.logger.Warn("snapshot encode failed", "error", err)
	}
}

func (s *Server) handleDetectorCommand(w http.ResponseWriter, r *http.Request) {
	err := detectorapi.CommandAsync(s.cfg.Detector.BaseURL, r.PathValue("name"))
	switch {
	case errors.Is(err, detectorapi.ErrMissingBaseURL):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		w.WriteHeader(http.StatusAccepted)
	}
}

// handleDetectorOptions reads the model options back from the detector.
func (s *Server) handleDetectorOptions(w http.ResponseWriter, r *http.Request) {
	opts, err := detectorapi.ReadOptions(r.Context(), s.cfg.Detector.BaseURL)
	switch {
	case errors.Is(err, detectorapi.ErrMissingBaseURL):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		writeJSONResponse(w, http.StatusOK, opts)
	}
}

func (s *Server) broadcast(ctx context.Context, messages <-chan any) {
	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-messages:
			if !ok {
				return
			}
			payload, err := json.Marshal(message)
			if err != nil {
				s.logger.Warn("broadcast marshal failed", "error", err)
				continue
			}
			// Each client is written on its own goroutine so a stalled
			// connection only delays itself.
			var wg sync.WaitGroup
			for conn, writeMu := range s.clientSnapshot() {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := s.writeMessage(conn, writeMu, websocket.TextMessage, payload); err != nil {
						s.removeClient(conn)
					}
				}()
			}
			wg.Wait()
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	_, known := s.clients[conn]
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
	if known {
		s.logger.Debug("websocket client disconnected")
	}
}

// clientSnapshot copies the client registry so writes happen without
// holding s.mu.
func (s *Server) clientSnapshot() map[*websocket.Conn]*sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[*websocket.Conn]*sync.Mutex, len(s.clients))
	for conn, writeMu := range s.clients {
		out[conn] = writeMu
	}
	return out
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) writeJSON(conn *websocket.Conn, writeMu *sync.Mutex, payload any) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(payload)
}

func (s *Server) writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
