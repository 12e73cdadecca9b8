package detector

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dj-oyu/parking-fusion/pkg/types"
)

// replayLine is one line of a detection replay file
type replayLine struct {
	Frame      uint64            `json:"frame"`
	Detections []types.Detection `json:"detections"`
}

// Replay serves detections recorded ahead of time, one JSON object per line:
//
//	{"frame": 1, "detections": [[x1, y1, x2, y2, class_id, confidence], ...]}
//
// Frames without a line have no detections.
type Replay struct {
	byFrame map[uint64][]types.Detection
}

// OpenReplay loads a replay file
func OpenReplay(path string) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay: %w", err)
	}
	defer f.Close()
	r, err := ReadReplay(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// ReadReplay parses replay lines from r
func ReadReplay(r io.Reader) (*Replay, error) {
	rep := &Replay{byFrame: make(map[uint64][]types.Detection)}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rl replayLine
		if err := json.Unmarshal(line, &rl); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		rep.byFrame[rl.Frame] = append(rep.byFrame[rl.Frame], rl.Detections...)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read replay: %w", err)
	}
	return rep, nil
}

// Frames returns how many frames carry detections
func (r *Replay) Frames() int {
	return len(r.byFrame)
}

// Detect returns the recorded detections for frame.Number
func (r *Replay) Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dets := r.byFrame[frame.Number]
	out := make([]types.Detection, len(dets))
	copy(out, dets)
	return out, nil
}
