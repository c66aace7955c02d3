// Package detectorapi talks to the control API of the pose detector
// sidecar: model options, one-shot commands and status.
package detectorapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const APIVersion = "v1"

// Options are the pose model settings pushed to the detector on startup.
type Options struct {
	ModelComplexity        int     `json:"model_complexity"`
	SmoothLandmarks        bool    `json:"smooth_landmarks"`
	MinDetectionConfidence float64 `json:"min_detection_confidence"`
	MinTrackingConfidence  float64 `json:"min_tracking_confidence"`
}

func DefaultOptions() Options {
	return Options{
		ModelComplexity:        1,
		SmoothLandmarks:        true,
		MinDetectionConfidence: 0.5,
		MinTrackingConfidence:  0.5,
	}
}

// BuildPaths lists the URLs tried for one parameter, versioned first.
func BuildPaths(baseURL string, apiVersion string, kind string, param string) []string {
	baseURL = strings.TrimRight(baseURL, "/")
	apiVersion = strings.Trim(apiVersion, "/")
	kind = strings.Trim(kind, "/")
	param = strings.TrimLeft(param, "/")
	if baseURL == "" || kind == "" || param == "" {
		return nil
	}

	paths := make([]string, 0, 2)
	if apiVersion != "" {
		paths = append(paths, baseURL+"/api/"+apiVersion+"/"+kind+"/"+param)
	}
	paths = append(paths, baseURL+"/"+kind+"/"+param)
	return paths
}

// Configure writes every option. It stops at the first rejected value.
func Configure(ctx context.Context, baseURL string, opts Options) error {
	if baseURL == "" {
		return ErrMissingBaseURL
	}
	values := []any{opts.ModelComplexity, opts.SmoothLandmarks, opts.MinDetectionConfidence, opts.MinTrackingConfidence}
	for i, name := range OptionNames {
		code, body := ConfigSet(ctx, baseURL, name, values[i])
		if code < 200 || code > 299 {
			return fmt.Errorf("detectorapi: set %s: http %d: %s", name, code, body)
		}
	}
	return nil
}

func ConfigSet(ctx context.Context, baseURL string, param string, value any) (int, string) {
	if baseURL == "" {
		return http.StatusBadRequest, "missing base url"
	}
	if param == "" {
		return http.StatusBadRequest, "missing parameter"
	}

	payload, err := json.Marshal(map[string]any{"value": value})
	if err != nil {
		return http.StatusBadRequest, "invalid value"
	}
	return doRequest(ctx, http.MethodPut, BuildPaths(baseURL, APIVersion, "config", param), payload, "application/json")
}

func ConfigGet(ctx context.Context, baseURL string, param string) (int, string) {
	if baseURL == "" {
		return http.StatusBadRequest, "missing base url"
	}
	if param == "" {
		return http.StatusBadRequest, "missing parameter"
	}
	return doRequest(ctx, http.MethodGet, BuildPaths(baseURL, APIVersion, "config", param), nil, "")
}

// OptionNames are the detector parameters Configure writes, in order.
var OptionNames = []string{
	"model_complexity",
	"smooth_landmarks",
	"min_detection_confidence",
	"min_tracking_confidence",
}

// ReadOptions reads back every option from the detector. A reply of the
// form {"value": v} yields v; any other JSON reply is returned as is.
func ReadOptions(ctx context.Context, baseURL string) (map[string]any, error) {
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	out := make(map[string]any, len(OptionNames))
	for _, name := range OptionNames {
		code, body := ConfigGet(ctx, baseURL, name)
		if code != http.StatusOK {
			return nil, fmt.Errorf("detectorapi: get %s: http %d: %s", name, code, body)
		}
		var decoded any
		if err := json.Unmarshal([]byte(body), &decoded); err != nil {
			return nil, fmt.Errorf("detectorapi: get %s: %w", name, err)
		}
		if wrapped, ok := decoded.(map[string]any); ok {
			if v, ok := wrapped["value"]; ok {
				decoded = v
			}
		}
		out[name] = decoded
	}
	return out, nil
}

// CommandAsync fires a command such as "reset_tracking" without waiting
// for the detector to answer.
func CommandAsync(baseURL string, command string) error {
	if baseURL == "" {
		return ErrMissingBaseURL
	}
	if command == "" {
		return ErrMissingParameter
	}

	paths := BuildPaths(baseURL, APIVersion, "command", command)
	client := &http.Client{Timeout: 2 * time.Second}
	go func() {
		for _, path := range paths {
			req, err := http.NewRequest(http.MethodPut, path, nil)
			if err != nil {
				continue
			}
			resp, err := client.Do(req)
			if err != nil {
				continue
			}
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusNotFound {
				return
			}
		}
	}()
	return nil
}

var (
	ErrMissingBaseURL   = &apiError{"missing base url"}
	ErrMissingParameter = &apiError{"missing parameter"}
)

type apiError struct {
	msg string
}

func (e *apiError) Error() string {
	return "detectorapi: " + e.msg
}

// doRequest tries each path in turn and returns the first answer that is
// not a 404.
func doRequest(ctx context.Context, method string, paths []string, payload []byte, contentType string) (int, string) {
	if len(paths) == 0 {
		return http.StatusBadRequest, "missing path"
	}
	client := &http.Client{Timeout: 2 * time.Second}
	for _, path := range paths {
		var body io.Reader
		if len(payload) > 0 {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, path, body)
		if err != nil {
			continue
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := client.Do(req)
		if err != nil {
			continue
		}
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			return resp.StatusCode, strings.TrimSpace(string(respBody))
		}
	}
	return http.StatusNotFound, "not found"
}
