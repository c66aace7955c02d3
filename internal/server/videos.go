package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"posecam-go/internal/feed"
)

const uploadField = "video"

func (s *Server) feedOrUnavailable(w http.ResponseWriter) *feed.Store {
	if s.deps.Feed == nil {
		http.Error(w, "video feed disabled", http.StatusServiceUnavailable)
	}
	return s.deps.Feed
}

func (s *Server) writeFeedError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, feed.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, feed.ErrTooLarge):
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
	case errors.Is(err, feed.ErrEmptyUpload), errors.Is(err, feed.ErrTooLong):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error("feed request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) handleListVideos(w http.ResponseWriter, r *http.Request) {
	store := s.feedOrUnavailable(w)
	if store == nil {
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	videos, err := store.List(r.Context(), limit)
	if err != nil {
		s.writeFeedError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"videos": videos})
}

// handleUpload accepts either a multipart form with the file in the
// "video" part or the raw video as the request body. The recording length
// comes from the duration_seconds query parameter.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	store := s.feedOrUnavailable(w)
	if store == nil {
		return
	}
	req := feed.UploadRequest{
		Filename:    r.URL.Query().Get("filename"),
		ContentType: r.Header.Get("Content-Type"),
	}
	if v := r.URL.Query().Get("duration_seconds"); v != "" {
		d, err := strconv.ParseFloat(v, 64)
		if err != nil || d < 0 {
			http.Error(w, "duration_seconds must be a non-negative number", http.StatusBadRequest)
			return
		}
		req.DurationSeconds = d
	}

	mediaType, _, _ := mime.ParseMediaType(req.ContentType)
	if mediaType == "multipart/form-data" {
		reader, err := r.MultipartReader()
		if err != nil {
			http.Error(w, "invalid multipart body", http.StatusBadRequest)
			return
		}
		for {
			part, err := reader.NextPart()
			if err == io.EOF {
				http.Error(w, "missing \"video\" part", http.StatusBadRequest)
				return
			}
			if err != nil {
				http.Error(w, "invalid multipart body", http.StatusBadRequest)
				return
			}
			if part.FormName() != uploadField {
				_ = part.Close()
				continue
			}
			if req.Filename == "" {
				req.Filename = part.FileName()
			}
			req.ContentType = part.Header.Get("Content-Type")
			req.Body = part
			break
		}
	} else {
		req.Body = r.Body
	}

	video, err := store.Upload(r.Context(), req)
	if err != nil {
		s.writeFeedError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, video)
}

func (s *Server) handleGetVideo(w http.ResponseWriter, r *http.Request) {
	store := s.feedOrUnavailable(w)
	if store == nil {
		return
	}
	video, err := store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFeedError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, video)
}

func (s *Server) handleVideoContent(w http.ResponseWriter, r *http.Request) {
	store := s.feedOrUnavailable(w)
	if store == nil {
		return
	}
	f, video, err := store.OpenVideo(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFeedError(w, err)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", video.ContentType)
	http.ServeContent(w, r, video.Filename, video.CreatedAt, f)
}
