package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"posecam-go/internal/config"
	"posecam-go/internal/feed"
	"posecam-go/internal/landmark"
	"posecam-go/internal/overlay"
	"posecam-go/internal/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func posedSession(t *testing.T) *overlay.Session {
	t.Helper()
	session := overlay.Mount(quietLogger(), overlay.Surface{Width: 90, Height: 160})
	t.Cleanup(session.Unmount)
	det := &types.Detection{PoseScore: 0.9, Landmarks: make([]types.DetectionLandmark, landmark.Count)}
	for i := range det.Landmarks {
		det.Landmarks[i] = types.DetectionLandmark{
			X:          0.2 + 0.6*float64(i%3)/2,
			Y:          float64(i+1) / 35,
			Visibility: types.Visibility(1),
		}
	}
	session.OnFrame(det)
	return session
}

func newTestServer(t *testing.T, deps Deps) (*Server, http.Handler) {
	t.Helper()
	cfg := config.Default()
	cfg.Port = 9999
	srv := New(cfg, quietLogger(), deps)
	handler, err := srv.Handler()
	if err != nil {
		t.Fatalf("Handler error: %v", err)
	}
	return srv, handler
}

func TestHandleConfig(t *testing.T) {
	srv, _ := newTestServer(t, Deps{})

	req := httptest.NewRequest("GET", "/config", nil)
	rec := httptest.NewRecorder()
	srv.handleConfig(rec, req)

	if rec.Code != 200 {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if payload["port"].(float64) != 9999 {
		t.Fatalf("unexpected port: %v", payload["port"])
	}
	if payload["display_rate_hz"].(float64) != 60 {
		t.Fatalf("unexpected display rate: %v", payload["display_rate_hz"])
	}
	if payload["feed_enabled"].(bool) {
		t.Fatalf("feed should be disabled")
	}
	style := payload["style"].(map[string]any)
	if style["line_color"] != "#00FF00" {
		t.Fatalf("unexpected style: %v", style)
	}
}

func TestHandleStatusCountsClients(t *testing.T) {
	_, handler := newTestServer(t, Deps{
		StatusFn: func() map[string]any {
			return map[string]any{"metrics": map[string]any{"frames": 3}}
		},
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))

	var payload map[string]map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["metrics"]["ws_clients"].(float64) != 0 || payload["metrics"]["frames"].(float64) != 3 {
		t.Fatalf("unexpected status: %v", payload)
	}
}

func TestIndexIsServed(t *testing.T) {
	_, handler := newTestServer(t, Deps{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), "<canvas") {
		t.Fatalf("unexpected index: %d", rec.Code)
	}
}

func TestSnapshotPNG(t *testing.T) {
	_, handler := newTestServer(t, Deps{Session: posedSession(t)})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/snapshot.png", nil))
	if rec.Code != 200 {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if img.Bounds().Dx() != 90 || img.Bounds().Dy() != 160 {
		t.Fatalf("unexpected size: %v", img.Bounds())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/snapshot.png?width=45&height=80", nil))
	img, err = png.Decode(rec.Body)
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if img.Bounds().Dx() != 45 {
		t.Fatalf("unexpected size: %v", img.Bounds())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/snapshot.png?width=0&height=80", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWebsocketConfigOverlayAndResize(t *testing.T) {
	session := posedSession(t)
	srv, handler := newTestServer(t, Deps{Session: session})
	httpSrv := httptest.NewServer(handler)
	defer httpSrv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages := make(chan any, 1)
	go srv.broadcast(ctx, messages)

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var cfgMsg types.ConfigMessage
	if err := conn.ReadJSON(&cfgMsg); err != nil {
		t.Fatalf("read config: %v", err)
	}
	if cfgMsg.Type != "config" || cfgMsg.SessionID != session.ID() || cfgMsg.SurfaceWidth != 90 {
		t.Fatalf("unexpected config message: %+v", cfgMsg)
	}

	var first types.OverlayMessage
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read overlay: %v", err)
	}
	if !first.Valid || len(first.Points) != landmark.Count || len(first.Segments) != landmark.ConnectionCount {
		t.Fatalf("unexpected overlay: valid=%v points=%d segments=%d", first.Valid, len(first.Points), len(first.Segments))
	}

	messages <- OverlayMessage(overlay.Frame{Version: 99})
	var pushed types.OverlayMessage
	if err := conn.ReadJSON(&pushed); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if pushed.Version != 99 || pushed.Valid {
		t.Fatalf("unexpected broadcast: %+v", pushed)
	}

	if err := conn.WriteJSON(map[string]any{"type": "resize", "width": 45, "height": 80}); err != nil {
		t.Fatalf("write resize: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for session.Surface().Width != 45 {
		if time.Now().After(deadline) {
			t.Fatalf("surface not resized: %+v", session.Surface())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if srv.clientCount() != 1 {
		t.Fatalf("unexpected client count: %d", srv.clientCount())
	}
}

func TestVideosDisabled(t *testing.T) {
	_, handler := newTestServer(t, Deps{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/videos", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestVideoUploadListAndStream(t *testing.T) {
	dir := t.TempDir()
	store, err := feed.Open(feed.Config{
		DBPath:      filepath.Join(dir, "feed.db"),
		StorageDir:  filepath.Join(dir, "blobs"),
		MaxBytes:    1 << 20,
		MaxDuration: 30,
	})
	if err != nil {
		t.Fatalf("open feed: %v", err)
	}
	defer store.Close()
	_, handler := newTestServer(t, Deps{Feed: store})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("note", "ignored")
	part, _ := mw.CreateFormFile("video", "lunges.mp4")
	_, _ = part.Write([]byte("fake mp4 bytes"))
	_ = mw.Close()

	req := httptest.NewRequest("POST", "/videos?duration_seconds=12", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status %d: %s", rec.Code, rec.Body.String())
	}
	var video feed.Video
	if err := json.Unmarshal(rec.Body.Bytes(), &video); err != nil {
		t.Fatalf("decode upload: %v", err)
	}
	if video.Filename != "lunges.mp4" || video.DurationSeconds != 12 || video.SizeBytes != 14 {
		t.Fatalf("unexpected video: %+v", video)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/videos", nil))
	var listing struct {
		Videos []feed.Video `json:"videos"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listing.Videos) != 1 || listing.Videos[0].ID != video.ID {
		t.Fatalf("unexpected listing: %+v", listing)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/videos/"+video.ID+"/content", nil))
	if rec.Code != 200 || rec.Body.String() != "fake mp4 bytes" {
		t.Fatalf("unexpected content: %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/videos/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	tooLong := httptest.NewRequest("POST", "/videos?duration_seconds=45", strings.NewReader("x"))
	tooLong.Header.Set("Content-Type", "video/mp4")
	handler.ServeHTTP(rec, tooLong)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDetectorCommandWithoutDetector(t *testing.T) {
	_, handler := newTestServer(t, Deps{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/detector/command/reset_tracking", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestBroadcastSkipsStalledClient(t *testing.T) {
	srv, handler := newTestServer(t, Deps{})
	httpSrv := httptest.NewServer(handler)
	defer httpSrv.Close()

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	dial := func() *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var cfgMsg types.ConfigMessage
		if err := conn.ReadJSON(&cfgMsg); err != nil {
			t.Fatalf("read config: %v", err)
		}
		return conn
	}
	stalled := dial()
	defer stalled.Close()

	// The first registered client stands in for a peer whose write never
	// completes.
	srv.mu.Lock()
	var stalledMu *sync.Mutex
	for _, writeMu := range srv.clients {
		stalledMu = writeMu
	}
	srv.mu.Unlock()
	stalledMu.Lock()

	healthy := dial()
	defer healthy.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages := make(chan any, 1)
	go srv.broadcast(ctx, messages)
	messages <- OverlayMessage(overlay.Frame{Version: 7})

	var got types.OverlayMessage
	if err := healthy.ReadJSON(&got); err != nil {
		t.Fatalf("healthy client read: %v", err)
	}
	if got.Version != 7 {
		t.Fatalf("unexpected broadcast: %+v", got)
	}

	counted := make(chan int, 1)
	go func() { counted <- srv.clientCount() }()
	select {
	case n := <-counted:
		if n != 2 {
			t.Fatalf("unexpected client count: %d", n)
		}
	case <-time.After(time.Second):
		t.Fatalf("clientCount blocked behind a stalled client")
	}

	stalledMu.Unlock()
	if err := stalled.ReadJSON(&got); err != nil || got.Version != 7 {
		t.Fatalf("stalled client read: %v %+v", err, got)
	}
}

func TestDetectorOptions(t *testing.T) {
	detector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"value": 1}`))
	}))
	defer detector.Close()

	cfg := config.Default()
	cfg.Detector.BaseURL = detector.URL
	handler, err := New(cfg, quietLogger(), Deps{}).Handler()
	if err != nil {
		t.Fatalf("Handler error: %v", err)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/detector/options", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	var opts map[string]float64
	if err := json.Unmarshal(rec.Body.Bytes(), &opts); err != nil {
		t.Fatalf("decode options: %v", err)
	}
	if len(opts) != 4 || opts["model_complexity"] != 1 {
		t.Fatalf("unexpected options: %v", opts)
	}

	_, disabled := newTestServer(t, Deps{})
	rec = httptest.NewRecorder()
	disabled.ServeHTTP(rec, httptest.NewRequest("GET", "/detector/options", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
