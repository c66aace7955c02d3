package detectorapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Status is the last known state of each sidecar component. States are
// lowercased. "error" means the sidecar could not be reached and
// "http_<code>" that it answered with something other than 200.
type Status struct {
	Detector string `json:"detector"`
	Camera   string `json:"camera"`
	Stream   string `json:"stream"`
	// FPS is the detection rate reported by the stream component, if any.
	FPS float64 `json:"fps,omitempty"`
}

const (
	stateUnreachable = "error"
	stateNotFound    = "http_404"
	stateOK          = "ok"

	statusTimeout = 900 * time.Millisecond
	maxStatusBody = 1 << 20
)

// stateKeys are tried in order at each level of a status document.
var stateKeys = []string{"state", "status", "value"}

// Poll fetches the sidecar status immediately and then every interval,
// handing each result to update, until ctx is cancelled.
func Poll(ctx context.Context, baseURL string, interval time.Duration, update func(Status)) {
	if baseURL == "" || update == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}
	client := &http.Client{Timeout: statusTimeout}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		update(FetchStatus(ctx, client, baseURL))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// FetchStatus queries the detector, camera and stream components once.
func FetchStatus(ctx context.Context, client *http.Client, baseURL string) Status {
	var out Status
	out.Detector, _ = probe(ctx, client, baseURL, "detector")
	out.Camera, _ = probe(ctx, client, baseURL, "camera")
	var doc any
	out.Stream, doc = probe(ctx, client, baseURL, "stream")
	out.FPS = findNumber(doc, "fps")
	return out
}

// probe walks the candidate paths for one component and stops at the
// first one that exists.
func probe(ctx context.Context, client *http.Client, baseURL, component string) (string, any) {
	for _, path := range BuildPaths(baseURL, APIVersion, "status", component) {
		state, doc := fetchState(ctx, client, path)
		if state != stateNotFound {
			return state, doc
		}
	}
	return stateNotFound, nil
}

func fetchState(ctx context.Context, client *http.Client, endpoint string) (string, any) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return stateUnreachable, nil
	}
	resp, err := client.Do(req)
	if err != nil {
		return stateUnreachable, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("http_%d", resp.StatusCode), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusBody))
	if err != nil {
		return stateUnreachable, nil
	}
	var doc any
	if len(body) == 0 || json.Unmarshal(body, &doc) != nil {
		return stateOK, nil
	}
	if state := findState(doc); state != "" {
		return strings.ToLower(state), doc
	}
	return stateOK, doc
}

// findState searches a decoded document breadth first for the first string
// under one of stateKeys.
func findState(doc any) string {
	queue := []any{doc}
	for len(queue) > 0 {
		value := queue[0]
		queue = queue[1:]
		switch v := value.(type) {
		case map[string]any:
			for _, key := range stateKeys {
				entry, ok := v[key]
				if !ok {
					continue
				}
				if s, ok := entry.(string); ok {
					return s
				}
				queue = append(queue, entry)
			}
		case []any:
			queue = append(queue, v...)
		}
	}
	return ""
}

// findNumber returns the first numeric value stored under key in a
// top-level object or its value wrapper.
func findNumber(doc any, key string) float64 {
	m, ok := doc.(map[string]any)
	if !ok {
		return 0
	}
	if n, ok := m[key].(float64); ok {
		return n
	}
	if inner, ok := m["value"]; ok {
		return findNumber(inner, key)
	}
	return 0
}
