// Command calibrate proposes parking slots for a camera from the vehicles
// detected in one of its frames and stores them as the camera's zones.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"

	"github.com/dj-oyu/parking-fusion/internal/config"
	"github.com/dj-oyu/parking-fusion/internal/detector"
	"github.com/dj-oyu/parking-fusion/internal/logger"
	"github.com/dj-oyu/parking-fusion/internal/source"
	"github.com/dj-oyu/parking-fusion/internal/storage/sqlite"
	"github.com/dj-oyu/parking-fusion/internal/zone"
	"github.com/dj-oyu/parking-fusion/pkg/types"
)

func main() {
	var (
		configPath  string
		cameraID    string
		framePath   string
		replayPath  string
		frameNumber uint64
		scale       float64
		trust       float64
		dryRun      bool
		logLevel    string
		logColor    bool
	)

	flag.StringVar(&configPath, "config", config.DefaultPath, "Config file path")
	flag.StringVar(&cameraID, "camera", "", "Camera id to calibrate (required)")
	flag.StringVar(&framePath, "frame", "", "Image to calibrate on (default: first frame of the camera source)")
	flag.StringVar(&replayPath, "detections", "", "Detection replay file (default: camera config, else YOLO)")
	flag.Uint64Var(&frameNumber, "frame-number", 1, "Frame number looked up in the replay file")
	flag.Float64Var(&scale, "scale", 1.0, "Grow every detected box by this factor around its centre")
	flag.Float64Var(&trust, "trust", -1, "Trust written for every slot (negative leaves it unset)")
	flag.BoolVar(&dryRun, "dry-run", false, "Print the zones instead of saving them")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&logColor, "log-color", true, "Enable colored log output")
	flag.Parse()

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, logColor)

	if cameraID == "" {
		log.Fatalf("-camera is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cc, known := cfg.Sources()[cameraID]
	if !known && framePath == "" {
		log.Fatalf("Camera or video %q not found in %s", cameraID, configPath)
	}

	ctx := context.Background()

	frame, err := loadFrame(ctx, cameraID, framePath, cc, frameNumber)
	if err != nil {
		log.Fatalf("Failed to read frame: %v", err)
	}

	if replayPath == "" {
		replayPath = cc.Detections
	}
	det, closeDet, err := openDetector(cfg, replayPath)
	if err != nil {
		log.Fatalf("Failed to create detector: %v", err)
	}
	defer closeDet()

	filtered := detector.Filtered{Detector: det, Filter: detector.NewFilter(cfg.Model.ConfThreshold, cfg.Model.Classes)}
	dets, err := filtered.Detect(ctx, frame)
	if err != nil {
		log.Fatalf("Detection failed: %v", err)
	}

	set := zone.FromDetections(dets, scale)
	if trust >= 0 {
		for id, z := range set {
			z.Trust = zone.TrustPtr(trust)
			set[id] = z
		}
	}
	logger.Info("Calibrator", "Found %d slots on camera %s", len(set), cameraID)

	if dryRun {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(set); err != nil {
			log.Fatalf("Failed to encode zones: %v", err)
		}
		return
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open zone storage: %v", err)
	}
	defer closeStore()

	if err := store.SetZones(ctx, cameraID, set); err != nil {
		log.Fatalf("Failed to save zones: %v", err)
	}
	logger.Info("Calibrator", "Saved %d zones for %s", len(set), cameraID)
}

// loadFrame reads the explicit image, or the first frame of the camera's source
func loadFrame(ctx context.Context, cameraID, path string, cc config.CameraConfig, number uint64) (types.Frame, error) {
	var img image.Image
	switch {
	case path != "":
		im, err := imaging.Open(path, imaging.AutoOrientation(true))
		if err != nil {
			return types.Frame{}, err
		}
		img = im
	case cc.FramesDir != "":
		ds, err := source.NewDirectorySource(cameraID, cc.FramesDir, source.DirectoryOptions{})
		if err != nil {
			return types.Frame{}, err
		}
		defer ds.Close()
		f, err := ds.Next(ctx)
		if err != nil {
			return types.Frame{}, err
		}
		img = f.Image
	case cc.URL != "":
		vs, err := source.NewVideoSource(cameraID, cc.URL, source.VideoOptions{})
		if err != nil {
			return types.Frame{}, err
		}
		defer vs.Close()
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		f, err := vs.Next(ctx)
		if err != nil {
			return types.Frame{}, err
		}
		img = f.Image
	default:
		return types.Frame{}, fmt.Errorf("camera %s has no frame source", cameraID)
	}
	return types.Frame{CameraID: cameraID, Number: number, Timestamp: time.Now(), Image: img}, nil
}

func openDetector(cfg *config.Config, replayPath string) (detector.Detector, func(), error) {
	if replayPath != "" {
		rep, err := detector.OpenReplay(replayPath)
		if err != nil {
			return nil, nil, err
		}
		return rep, func() {}, nil
	}
	yc := detector.DefaultYOLOConfig()
	if cfg.Model.Path != "" {
		yc.ModelPath = cfg.Model.Path
	}
	yc.ConfidenceThresh = float32(cfg.Model.ConfThreshold)
	yc.NMSThresh = float32(cfg.Model.NMSThreshold)
	yc.InputSize = cfg.Model.InputSize
	y, err := detector.NewYOLO(yc)
	if err != nil {
		return nil, nil, err
	}
	return y, func() { y.Close() }, nil
}

func openStore(cfg *config.Config) (*zone.Store, func(), error) {
	if cfg.Zones.Backend == config.ZoneBackendSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0755); err != nil {
			return nil, nil, err
		}
		db, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return zone.NewStore(sqlite.NewZoneBackend(db), zone.Options{}), func() { db.Close() }, nil
	}
	fb, err := zone.NewFileBackend(cfg.Zones.Dir)
	if err != nil {
		return nil, nil, err
	}
	return zone.NewStore(fb, zone.Options{}), func() {}, nil
}
