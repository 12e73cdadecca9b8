package detector

import "errors"

// ErrYOLOUnsupported is returned by NewYOLO in builds without OpenCV
var ErrYOLOUnsupported = errors.New("YOLO inference requires a build with -tags gocv")

// YOLOConfig holds YOLO detector configuration
type YOLOConfig struct {
	ModelPath        string
	ConfidenceThresh float32
	NMSThresh        float32
	InputSize        int
}

// DefaultYOLOConfig returns defaults for a YOLOv8 ONNX export
func DefaultYOLOConfig() YOLOConfig {
	return YOLOConfig{
		ModelPath:        "models/yolov8s.onnx",
		ConfidenceThresh: 0.3,
		NMSThresh:        0.45,
		InputSize:        640,
	}
}
