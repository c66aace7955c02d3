package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/pflag"

	"posecam-go/internal/ingest"
	"posecam-go/internal/output"
	"posecam-go/internal/pipeline"
	"posecam-go/internal/posestate"
	"posecam-go/internal/types"
)

func main() {
	path := pflag.String("path", "", "Path to CBOR file or directory")
	limit := pflag.Int("limit", 5, "Max number of pose messages to summarize")
	threshold := pflag.Float64("visibility", 0.5, "Visibility threshold for the visible landmark count")
	pflag.Parse()

	if *path == "" {
		log.Fatal("missing --path")
	}

	files, err := listFiles(*path)
	if err != nil {
		log.Fatalf("list files: %v", err)
	}

	var poseCount, noneCount, startCount, endCount, errCount int
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			log.Printf("read %s: %v", file, err)
			errCount++
			continue
		}

		msg, err := ingest.DecodeMessage(data)
		if err != nil {
			log.Printf("decode %s: %v", file, err)
			errCount++
			continue
		}

		switch msg.Type {
		case types.MessageStart:
			startCount++
			fmt.Printf("start: %s\n", file)
			printMeta(msg.Meta)
		case types.MessageEnd:
			endCount++
			fmt.Printf("end: %s\n", file)
			printMeta(msg.Meta)
		case types.MessageNone:
			noneCount++
		case types.MessagePose:
			poseCount++
			if poseCount <= *limit {
				printPose(file, msg.Detection, *threshold)
			}
		}
	}

	fmt.Printf("summary: start=%d pose=%d none=%d end=%d errors=%d\n", startCount, poseCount, noneCount, endCount, errCount)
}

func printMeta(meta map[string]any) {
	if len(meta) == 0 {
		return
	}
	pretty, err := json.MarshalIndent(output.NormalizeJSONValue(meta), "  ", "  ")
	if err != nil {
		fmt.Printf("  meta: %v\n", meta)
		return
	}
	fmt.Printf("  meta: %s\n", pretty)
}

func printPose(file string, det *types.Detection, threshold float64) {
	fmt.Printf("pose: %s\n", file)
	if det == nil {
		fmt.Printf("  no detection payload\n")
		return
	}
	state := pipeline.Normalize(det)
	fmt.Printf("  frame_id: %d\n", det.FrameID)
	fmt.Printf("  timestamp: %.3f\n", det.Timestamp)
	fmt.Printf("  score: %.3f (valid=%v)\n", det.PoseScore, state.IsValid)
	fmt.Printf("  landmarks: %d on wire, %d visible >= %.2f\n", len(det.Landmarks), state.VisibleCount(threshold), threshold)
	if !posestate.Valid(det.PoseScore) {
		fmt.Printf("  below validity threshold, overlay would be hidden\n")
	}
}

// listFiles expands path to the sorted .cbor files it names: the file
// itself, or the top-level .cbor files of a directory.
func listFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	files, err := filepath.Glob(filepath.Join(path, "*.cbor"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
