//go:build gocv

package detector

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/dj-oyu/parking-fusion/internal/logger"
	"github.com/dj-oyu/parking-fusion/pkg/types"
)

// YOLO runs a YOLOv8 ONNX model through OpenCV DNN
type YOLO struct {
	net    gocv.Net
	config YOLOConfig
	mu     sync.Mutex
	size   image.Point
	log    *logger.ModuleLogger
}

// NewYOLO loads the model
func NewYOLO(cfg YOLOConfig) (*YOLO, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}
	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load YOLO model from %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}
	l := logger.For("Detector")
	l.Info("YOLO model loaded: %s", cfg.ModelPath)
	return &YOLO{
		net:    net,
		config: cfg,
		size:   image.Pt(cfg.InputSize, cfg.InputSize),
		log:    l,
	}, nil
}

// Detect runs inference on one frame
func (d *YOLO) Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if frame.Image == nil {
		return nil, fmt.Errorf("empty frame")
	}

	img, err := gocv.ImageToMatRGB(frame.Image)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer img.Close()

	d.mu.Lock()
	defer d.mu.Unlock()

	// ImageToMatRGB yields BGR order, so swapRB converts back to RGB for the model
	blob := gocv.BlobFromImage(img, 1.0/255.0, d.size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	dets := d.parse(output, float32(img.Cols()), float32(img.Rows()))
	d.log.Debug("%d objects detected on %s frame %d", len(dets), frame.CameraID, frame.Number)
	return dets, nil
}

// parse decodes the [1, 84, 8400] YOLOv8 output into pixel boxes
func (d *YOLO) parse(output gocv.Mat, imgW, imgH float32) []types.Detection {
	sizes := output.Size()
	if len(sizes) != 3 {
		return nil
	}
	cols := sizes[1] // 4 box values + class scores
	rows := sizes[2] // candidate boxes

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil
	}

	var (
		boxes       []image.Rectangle
		confidences []float32
		classIDs    []int
	)
	scaleX := imgW / float32(d.size.X)
	scaleY := imgH / float32(d.size.Y)
	for i := 0; i < rows; i++ {
		best := float32(0)
		bestID := 0
		for c := 4; c < cols; c++ {
			if s := data[c*rows+i]; s > best {
				best = s
				bestID = c - 4
			}
		}
		if best < d.config.ConfidenceThresh {
			continue
		}

		cx := data[0*rows+i]
		cy := data[1*rows+i]
		w := data[2*rows+i]
		h := data[3*rows+i]
		boxes = append(boxes, image.Rect(
			int((cx-w/2)*scaleX), int((cy-h/2)*scaleY),
			int((cx+w/2)*scaleX), int((cy+h/2)*scaleY),
		))
		confidences = append(confidences, best)
		classIDs = append(classIDs, bestID)
	}
	if len(boxes) == 0 {
		return nil
	}

	indices := gocv.NMSBoxes(boxes, confidences, d.config.ConfidenceThresh, d.config.NMSThresh)
	out := make([]types.Detection, 0, len(indices))
	for _, idx := range indices {
		b := boxes[idx]
		out = append(out, types.Detection{
			Box:        types.Box{X1: b.Min.X, Y1: b.Min.Y, X2: b.Max.X, Y2: b.Max.Y},
			ClassID:    classIDs[idx],
			Confidence: float64(confidences[idx]),
		})
	}
	return out
}

// Close releases the network
func (d *YOLO) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
