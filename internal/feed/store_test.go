package feed

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(Config{
		DBPath:        filepath.Join(dir, "feed.db"),
		StorageDir:    filepath.Join(dir, "blobs"),
		PublicBaseURL: "http://cam.local/",
		MaxBytes:      1 << 10,
		MaxDuration:   30,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return store
}

func upload(t *testing.T, s *Store, name, body string) Video {
	t.Helper()
	v, err := s.Upload(context.Background(), UploadRequest{
		Filename:        name,
		DurationSeconds: 12.5,
		Body:            strings.NewReader(body),
	})
	require.NoError(t, err)
	return v
}

func TestUploadStoresBlobAndEntry(t *testing.T) {
	s := openTestStore(t)
	v := upload(t, s, "squats.MOV", "not really a video")

	assert.NotEmpty(t, v.ID)
	assert.Equal(t, "squats.MOV", v.Filename)
	assert.True(t, strings.HasPrefix(v.ObjectKey, "videos/"))
	assert.True(t, strings.HasSuffix(v.ObjectKey, ".mov"))
	assert.Len(t, strings.TrimSuffix(strings.TrimPrefix(v.ObjectKey, "videos/"), ".mov"), 64)
	assert.Equal(t, "http://cam.local/videos/"+v.ID+"/content", v.VideoURL)
	assert.Equal(t, int64(len("not really a video")), v.SizeBytes)
	assert.Equal(t, "video/mp4", v.ContentType)

	got, err := s.Get(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, v, got)

	f, _, err := s.OpenVideo(context.Background(), v.ID)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "not really a video", string(data))
}

func TestIdenticalContentSharesBlob(t *testing.T) {
	s := openTestStore(t)
	a := upload(t, s, "a.mp4", "same bytes")
	b := upload(t, s, "b.mp4", "same bytes")
	c := upload(t, s, "c.mp4", "other bytes")

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, a.ObjectKey, b.ObjectKey)
	assert.NotEqual(t, a.ObjectKey, c.ObjectKey)
}

func TestListNewestFirst(t *testing.T) {
	s := openTestStore(t)
	first := upload(t, s, "1.mp4", "one")
	second := upload(t, s, "2.mp4", "two")
	third := upload(t, s, "3.mp4", "three")

	all, err := s.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{third.ID, second.ID, first.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	limited, err := s.List(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestListEmpty(t *testing.T) {
	s := openTestStore(t)
	videos, err := s.List(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, videos)
	assert.Empty(t, videos)
}

func TestUploadRejects(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Upload(ctx, UploadRequest{Filename: "x.mp4", Body: bytes.NewReader(nil)})
	assert.ErrorIs(t, err, ErrEmptyUpload)

	_, err = s.Upload(ctx, UploadRequest{Filename: "x.mp4"})
	assert.ErrorIs(t, err, ErrEmptyUpload)

	_, err = s.Upload(ctx, UploadRequest{Filename: "x.mp4", DurationSeconds: 31, Body: strings.NewReader("v")})
	assert.ErrorIs(t, err, ErrTooLong)

	_, err = s.Upload(ctx, UploadRequest{Filename: "x.mp4", Body: bytes.NewReader(make([]byte, 2<<10))})
	assert.ErrorIs(t, err, ErrTooLarge)

	videos, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, videos)
}

func TestGetNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, _, err = s.OpenVideo(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCleanFilename(t *testing.T) {
	assert.Equal(t, "clip.mp4", cleanFilename("../../etc/clip.mp4"))
	assert.Equal(t, "clip.mp4", cleanFilename(`C:\videos\clip.mp4`))
	assert.Equal(t, "recording.mp4", cleanFilename(""))
}
