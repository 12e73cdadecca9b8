package source

import (
	"errors"
	"time"
)

// DefaultReconnectDelay is the pause before reopening a failed stream
const DefaultReconnectDelay = 5 * time.Second

// ErrVideoUnsupported is returned by NewVideoSource in builds without OpenCV
var ErrVideoUnsupported = errors.New("video capture requires a build with -tags gocv")

// VideoOptions configures a VideoSource
type VideoOptions struct {
	ReconnectDelay time.Duration
	Enhancer       Enhancer
}
