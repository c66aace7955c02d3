// Package feed stores uploaded workout videos and serves the feed
// catalog: blobs on the local filesystem under content-addressed keys,
// metadata in SQLite.
package feed

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

var (
	ErrNotFound    = errors.New("feed: video not found")
	ErrEmptyUpload = errors.New("feed: empty upload")
	ErrTooLarge    = errors.New("feed: upload too large")
	ErrTooLong     = errors.New("feed: recording too long")
)

type Video struct {
	ID              string    `json:"id"`
	Filename        string    `json:"filename"`
	ObjectKey       string    `json:"object_key"`
	VideoURL        string    `json:"video_url"`
	ContentType     string    `json:"content_type"`
	SizeBytes       int64     `json:"size_bytes"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type Config struct {
	DBPath        string
	StorageDir    string
	PublicBaseURL string
	// MaxBytes caps one upload. Zero means unlimited.
	MaxBytes int64
	// MaxDuration rejects uploads whose declared duration exceeds it.
	MaxDuration float64
	PoolSize    int
	Logger      *slog.Logger
}

type Store struct {
	pool        *sqlitex.Pool
	dir         string
	baseURL     string
	maxBytes    int64
	maxDuration float64
	logger      *slog.Logger
	now         func() time.Time
}

type UploadRequest struct {
	Filename    string
	ContentType string
	// DurationSeconds is the recording length reported by the client,
	// zero when unknown.
	DurationSeconds float64
	Body            io.Reader
}

func Open(cfg Config) (*Store, error) {
	if cfg.DBPath == "" || cfg.StorageDir == "" {
		return nil, errors.New("feed: DBPath and StorageDir are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(filepath.Join(cfg.StorageDir, "videos"), 0o755); err != nil {
		return nil, fmt.Errorf("feed: storage dir: %w", err)
	}
	pool, err := openPool(cfg.DBPath, cfg.PoolSize)
	if err != nil {
		return nil, err
	}
	cfg.Logger.Info("video feed opened", "db", cfg.DBPath, "storage", cfg.StorageDir)
	return &Store{
		pool:        pool,
		dir:         cfg.StorageDir,
		baseURL:     strings.TrimRight(cfg.PublicBaseURL, "/"),
		maxBytes:    cfg.MaxBytes,
		maxDuration: cfg.MaxDuration,
		logger:      cfg.Logger.With("component", "feed"),
		now:         time.Now,
	}, nil
}

func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("feed: close: %w", err)
	}
	return nil
}

// Upload saves the blob under videos/<blake3>.<ext> and records a feed
// entry for it. Identical content shares one blob.
func (s *Store) Upload(ctx context.Context, req UploadRequest) (Video, error) {
	if req.Body == nil {
		return Video{}, ErrEmptyUpload
	}
	if s.maxDuration > 0 && req.DurationSeconds > s.maxDuration {
		return Video{}, fmt.Errorf("%w: %.1fs exceeds %.1fs", ErrTooLong, req.DurationSeconds, s.maxDuration)
	}

	tmp, err := os.CreateTemp(s.dir, "upload-*")
	if err != nil {
		return Video{}, fmt.Errorf("feed: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	body := req.Body
	if s.maxBytes > 0 {
		body = io.LimitReader(body, s.maxBytes+1)
	}
	hasher := blake3.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Video{}, fmt.Errorf("feed: store upload: %w", err)
	}
	if size == 0 {
		return Video{}, ErrEmptyUpload
	}
	if s.maxBytes > 0 && size > s.maxBytes {
		return Video{}, fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, s.maxBytes)
	}

	key := objectKey(hasher.Sum(nil), req.Filename)
	dest := filepath.Join(s.dir, filepath.FromSlash(key))
	if _, err := os.Stat(dest); errors.Is(err, os.ErrNotExist) {
		if err := os.Rename(tmpName, dest); err != nil {
			return Video{}, fmt.Errorf("feed: place blob: %w", err)
		}
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = "video/mp4"
	}
	id := uuid.NewString()
	video := Video{
		ID:              id,
		Filename:        cleanFilename(req.Filename),
		ObjectKey:       key,
		VideoURL:        s.baseURL + "/videos/" + id + "/content",
		ContentType:     contentType,
		SizeBytes:       size,
		DurationSeconds: req.DurationSeconds,
		CreatedAt:       s.now().UTC().Truncate(time.Millisecond),
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Video{}, fmt.Errorf("feed: upload: %w", err)
	}
	defer s.pool.Put(conn)

	var duration any
	if video.DurationSeconds > 0 {
		duration = video.DurationSeconds
	}
	err = sqlitex.Execute(conn, `INSERT INTO videos
		(id, filename, object_key, content_type, size_bytes, duration_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			video.ID,
			video.Filename,
			video.ObjectKey,
			video.ContentType,
			video.SizeBytes,
			duration,
			video.CreatedAt.UnixMilli(),
		},
	})
	if err != nil {
		return Video{}, fmt.Errorf("feed: insert video: %w", err)
	}
	s.logger.Info("video uploaded", "id", video.ID, "key", key, "size", size)
	return video, nil
}

const selectColumns = `SELECT id, filename, object_key, content_type, size_bytes, duration_seconds, created_at FROM videos`

// List returns up to limit videos, newest first. limit <= 0 lists all.
func (s *Store) List(ctx context.Context, limit int) ([]Video, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("feed: list: %w", err)
	}
	defer s.pool.Put(conn)

	if limit <= 0 {
		limit = -1
	}
	videos := []Video{}
	err = sqlitex.Execute(conn, selectColumns+` ORDER BY created_at DESC, rowid DESC LIMIT ?`, &sqlitex.ExecOptions{
		Args: []any{limit},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			videos = append(videos, s.scanVideo(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("feed: list: %w", err)
	}
	return videos, nil
}

func (s *Store) Get(ctx context.Context, id string) (Video, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Video{}, fmt.Errorf("feed: get: %w", err)
	}
	defer s.pool.Put(conn)

	var video Video
	found := false
	err = sqlitex.Execute(conn, selectColumns+` WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			video = s.scanVideo(stmt)
			found = true
			return nil
		},
	})
	if err != nil {
		return Video{}, fmt.Errorf("feed: get: %w", err)
	}
	if !found {
		return Video{}, ErrNotFound
	}
	return video, nil
}

// OpenVideo opens the blob of a video for streaming. The caller closes it.
func (s *Store) OpenVideo(ctx context.Context, id string) (*os.File, Video, error) {
	video, err := s.Get(ctx, id)
	if err != nil {
		return nil, Video{}, err
	}
	f, err := os.Open(filepath.Join(s.dir, filepath.FromSlash(video.ObjectKey)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, Video{}, fmt.Errorf("%w: blob %s missing", ErrNotFound, video.ObjectKey)
		}
		return nil, Video{}, fmt.Errorf("feed: open blob: %w", err)
	}
	return f, video, nil
}

func (s *Store) scanVideo(stmt *sqlite.Stmt) Video {
	v := Video{
		ID:          stmt.ColumnText(0),
		Filename:    stmt.ColumnText(1),
		ObjectKey:   stmt.ColumnText(2),
		ContentType: stmt.ColumnText(3),
		SizeBytes:   stmt.ColumnInt64(4),
		CreatedAt:   time.UnixMilli(stmt.ColumnInt64(6)).UTC(),
	}
	if !stmt.ColumnIsNull(5) {
		v.DurationSeconds = stmt.ColumnFloat(5)
	}
	v.VideoURL = s.baseURL + "/videos/" + v.ID + "/content"
	return v
}

func objectKey(sum []byte, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" || len(ext) > 8 {
		ext = ".mp4"
	}
	return "videos/" + hex.EncodeToString(sum) + ext
}

func cleanFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "recording.mp4"
	}
	return name
}
