package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"posecam-go/internal/ingest"
	"posecam-go/internal/output"
	"posecam-go/internal/pipeline"
	"posecam-go/internal/types"
	"posecam-go/internal/wireframe"
)

func main() {
	var (
		path      = pflag.String("path", "", "Path to rawlog .bin[.lz4|.zst] file")
		limit     = pflag.Int("limit", 1, "Number of records to dump (0 for all)")
		quiet     = pflag.Bool("quiet", false, "Do not print decoded records")
		renderDir = pflag.String("render-dir", "", "Write one PNG overlay per pose record into this directory")
		width     = pflag.Float64("width", 540, "Render width in pixels")
		height    = pflag.Float64("height", 960, "Render height in pixels")
	)
	pflag.Parse()

	if *path == "" {
		log.Fatal("--path is required")
	}
	if *renderDir != "" {
		if err := os.MkdirAll(*renderDir, 0o755); err != nil {
			log.Fatalf("create render dir: %v", err)
		}
	}

	r, err := output.OpenRawLog(*path)
	if err != nil {
		log.Fatalf("open rawlog: %v", err)
	}
	defer r.Close()
	log.Printf("rawlog %s compression=%s", *path, r.Codec)

	style := wireframe.DefaultStyle()
	count := 0
	rendered := 0
	for {
		if *limit > 0 && count >= *limit {
			break
		}
		rec, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				log.Printf("record %d: truncated, stopping", count)
				break
			}
			log.Fatalf("read record: %v", err)
		}
		index := count
		count++
		if len(rec.Payload) == 0 {
			log.Printf("record %d: empty payload", index)
			continue
		}

		if !*quiet {
			var decoded any
			if err := ingest.Unmarshal(rec.Payload, &decoded); err != nil {
				log.Printf("record %d: CBOR decode error: %v", index, err)
				continue
			}
			pretty, err := json.MarshalIndent(output.NormalizeJSONValue(decoded), "", "  ")
			if err != nil {
				log.Printf("record %d: JSON encode error: %v", index, err)
				continue
			}
			log.Printf("record %d timestamp=%s size=%d", index, rec.Time.Format(time.RFC3339Nano), len(rec.Payload))
			fmt.Println(string(pretty))
		}

		if *renderDir == "" {
			continue
		}
		msg, err := ingest.DecodeMessage(rec.Payload)
		if err != nil {
			log.Printf("record %d: %v", index, err)
			continue
		}
		if msg.Type != types.MessagePose && msg.Type != types.MessageNone {
			continue
		}
		state := pipeline.Normalize(msg.Detection)
		list := wireframe.Render(&state, *width, *height)
		name := filepath.Join(*renderDir, fmt.Sprintf("frame_%06d.png", index))
		if err := writePNG(name, &list, style, fmt.Sprintf("#%d score %.2f", index, state.Score)); err != nil {
			log.Printf("record %d: render: %v", index, err)
			continue
		}
		rendered++
	}
	log.Printf("dumped %d records, rendered %d frames", count, rendered)
}

func writePNG(path string, list *wireframe.DrawList, style wireframe.Style, label string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := wireframe.EncodePNG(f, list, style, label); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
