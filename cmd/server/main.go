package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dj-oyu/parking-fusion/internal/aggregator"
	"github.com/dj-oyu/parking-fusion/internal/config"
	"github.com/dj-oyu/parking-fusion/internal/detector"
	"github.com/dj-oyu/parking-fusion/internal/events"
	"github.com/dj-oyu/parking-fusion/internal/evidence"
	"github.com/dj-oyu/parking-fusion/internal/logger"
	"github.com/dj-oyu/parking-fusion/internal/metrics"
	"github.com/dj-oyu/parking-fusion/internal/pipeline"
	"github.com/dj-oyu/parking-fusion/internal/source"
	"github.com/dj-oyu/parking-fusion/internal/stabilizer"
	"github.com/dj-oyu/parking-fusion/internal/storage/sqlite"
	"github.com/dj-oyu/parking-fusion/internal/watcher"
	"github.com/dj-oyu/parking-fusion/internal/webmonitor"
	"github.com/dj-oyu/parking-fusion/internal/webrtc"
	"github.com/dj-oyu/parking-fusion/internal/zone"
	"github.com/dj-oyu/parking-fusion/pkg/types"
)

var (
	// Command-line flags; empty values keep the config file setting
	configPath  = flag.String("config", config.DefaultPath, "Config file path")
	mode        = flag.String("mode", "", "Source mode (live, video)")
	weather     = flag.String("weather", "", "Weather condition substituted into test_videos")
	httpAddr    = flag.String("http", "", "HTTP server address")
	metricsAddr = flag.String("metrics", "", "Dedicated metrics server address (metrics are always on /metrics)")
	pprofAddr   = flag.String("pprof", "", "pprof server address")
	stunServers = flag.String("stun", "", "STUN server URLs (comma-separated)")
	exitOnEOF   = flag.Bool("exit-on-eof", false, "Stop once every camera reached the end of its input")
	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error, silent)")
	logColor    = flag.Bool("log-color", true, "Enable colored log output")
)

// Server is the occupancy fusion service
type Server struct {
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	cfg        *config.Config
	metrics    *metrics.Metrics
	bus        *events.Bus
	db         *sqlite.DB
	store      *zone.Store
	stabilizer *stabilizer.Stabilizer
	aggregator *aggregator.Aggregator
	evidence   *evidence.Writer
	journal    io.Closer
	cameras    *pipeline.Group
	closers    []io.Closer
	monitor    *webmonitor.Server
	webrtc     *webrtc.Server
	httpServer *http.Server

	// Closed once every camera unit returned
	camerasDone chan struct{}
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg)

	// Initialize logger
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)

	logger.Info("Main", "Parking fusion server starting...")
	logger.Info("Main", "Log level: %s", level)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	srv, err := NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	// Wait for shutdown signal, or end of input when requested
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	var eof <-chan struct{}
	if *exitOnEOF {
		eof = srv.camerasDone
	}
	select {
	case <-sigChan:
	case <-eof:
		logger.Info("Main", "All cameras finished")
	}

	logger.Info("Main", "Shutting down...")
	if err := srv.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}
	srv.logStatus()
	logger.Info("Main", "Server stopped")
}

// applyFlags overrides config values with explicitly set flags
func applyFlags(cfg *config.Config) {
	if *mode != "" {
		cfg.Mode = config.Mode(*mode)
	}
	if *weather != "" {
		cfg.SetWeather(*weather)
	}
	if *httpAddr != "" {
		cfg.Server.Addr = *httpAddr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
}

// NewServer wires the occupancy core and its collaborators
func NewServer(cfg *config.Config) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	srv := &Server{
		ctx:         ctx,
		cancel:      cancel,
		cfg:         cfg,
		metrics:     metrics.New(),
		bus:         events.NewBus(),
		camerasDone: make(chan struct{}),
	}
	if err := srv.init(); err != nil {
		cancel()
		srv.closeAll()
		return nil, err
	}
	return srv, nil
}

func (s *Server) init() error {
	cfg := s.cfg

	// Warnings are counted on every occurrence but logged once per key
	warnLog := events.NewDedup(events.NewLogSink(logger.For("Warnings")))
	s.bus.Attach(warnLog)
	s.bus.Attach(s.metrics)
	s.bus.Attach(events.SinkFunc(func(e events.Event) {
		if e.Kind == events.KindZonesReloaded {
			warnLog.Reset(e.Camera)
		}
	}))

	if cfg.Storage.SQLitePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
		db, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		s.db = db
	}

	var backend zone.Backend
	switch cfg.Zones.Backend {
	case config.ZoneBackendSQLite:
		backend = sqlite.NewZoneBackend(s.db)
	default:
		fb, err := zone.NewFileBackend(cfg.Zones.Dir)
		if err != nil {
			return fmt.Errorf("zone directory: %w", err)
		}
		backend = fb
	}
	s.store = zone.NewStore(backend, zone.Options{
		IoUThreshold: zone.Threshold(cfg.Logic.IoUThreshold),
		Events:       s.bus,
	})
	for _, cam := range cfg.CameraIDs() {
		if err := s.store.Load(s.ctx, cam); err != nil {
			return err
		}
	}

	s.stabilizer = stabilizer.New(s.store, stabilizer.Options{
		Window:           cfg.Logic.Filter.Window(),
		MinConfirmations: cfg.Logic.Filter.MinConfirmations,
	})
	s.aggregator = aggregator.New(s.store, s.bus)

	if err := os.MkdirAll(filepath.Dir(cfg.Evidence.Journal), 0755); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}
	journal, err := logger.OpenRotating(cfg.Evidence.Journal, cfg.Evidence.JournalMaxBytes, cfg.Evidence.JournalBackups)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	s.journal = journal
	evOpts := evidence.Options{
		Dir:     cfg.Evidence.Dir,
		Quality: cfg.Evidence.JPEGQuality,
		Journal: journal,
	}
	if s.db != nil {
		evOpts.Index = s.db
	}
	s.evidence = evidence.New(evOpts)

	cams, err := s.buildCameras()
	if err != nil {
		return err
	}
	s.cameras = pipeline.NewGroup(cams...)

	var stun []string
	if *stunServers != "" {
		stun = strings.Split(*stunServers, ",")
	}

	monDeps := webmonitor.Deps{
		Status:  s.aggregator,
		Cameras: s.cameras,
		Zones:   s.store,
		Metrics: s.metrics,
	}
	if s.db != nil {
		monDeps.Index = s.db
	}
	s.monitor = webmonitor.NewServer(webmonitor.Config{
		Addr:           cfg.Server.Addr,
		StatusInterval: cfg.Server.BroadcastInterval.Duration(),
	}, monDeps)

	broadcaster := s.monitor.Broadcaster()
	s.webrtc = webrtc.NewServer(webrtc.Options{
		STUNServers: stun,
		MaxClients:  cfg.Server.MaxWebRTCClients,
		Metrics:     s.metrics,
		Snapshot: func() []byte {
			if ev := broadcaster.Current(); ev != nil {
				return ev.JSONData
			}
			return nil
		},
	})
	broadcaster.Listen(func(ev *webmonitor.SerializedEvent) {
		s.webrtc.Broadcast(ev.JSONData)
	})
	s.monitor.SetOfferHandler(s.webrtc)

	s.httpServer = &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: s.monitor.Handler(),
	}
	return nil
}

// buildCameras creates one processing unit per camera of the active mode
func (s *Server) buildCameras() ([]*pipeline.Camera, error) {
	cfg := s.cfg
	filter := detector.NewFilter(cfg.Model.ConfThreshold, cfg.Model.Classes)
	sources := cfg.Sources()

	var shared *detector.YOLO
	yolo := func() (*detector.YOLO, error) {
		if shared != nil {
			return shared, nil
		}
		yc := detector.DefaultYOLOConfig()
		if cfg.Model.Path != "" {
			yc.ModelPath = cfg.Model.Path
		}
		yc.ConfidenceThresh = float32(cfg.Model.ConfThreshold)
		yc.NMSThresh = float32(cfg.Model.NMSThreshold)
		yc.InputSize = cfg.Model.InputSize
		d, err := detector.NewYOLO(yc)
		if err != nil {
			return nil, err
		}
		shared = d
		s.closers = append(s.closers, d)
		return d, nil
	}

	var cams []*pipeline.Camera
	for _, id := range cfg.CameraIDs() {
		cc := sources[id]

		var enh source.Enhancer
		if cc.EnhanceEnabled() {
			enh = source.DefaultEnhancer()
		}

		var (
			src  pipeline.FrameSource
			live bool
		)
		switch {
		case cc.FramesDir != "":
			ds, err := source.NewDirectorySource(id, cc.FramesDir, source.DirectoryOptions{
				Interval: cc.Interval.Duration(),
				Loop:     cc.Loop,
				Enhancer: enh,
			})
			if err != nil {
				return nil, fmt.Errorf("camera %s: %w", id, err)
			}
			src = ds
		case cc.URL != "":
			vs, err := source.NewVideoSource(id, cc.URL, source.VideoOptions{
				ReconnectDelay: cc.ReconnectDelay.Duration(),
				Enhancer:       enh,
			})
			if err != nil {
				return nil, fmt.Errorf("camera %s: %w", id, err)
			}
			src = vs
			live = cfg.Mode == config.ModeLive
		default:
			return nil, fmt.Errorf("camera %s: no frames_dir or url configured", id)
		}

		var det detector.Detector
		if cc.Detections != "" {
			rep, err := detector.OpenReplay(cc.Detections)
			if err != nil {
				src.Close()
				return nil, fmt.Errorf("camera %s: %w", id, err)
			}
			det = rep
		} else {
			y, err := yolo()
			if err != nil {
				src.Close()
				return nil, fmt.Errorf("camera %s: %w", id, err)
			}
			det = y
		}

		cam, err := pipeline.NewCamera(pipeline.Options{
			ID:           id,
			Source:       src,
			Detector:     detector.Filtered{Detector: det, Filter: filter},
			Analyzer:     s.stabilizer,
			Reporter:     s.aggregator,
			Zones:        s.store,
			Evidence:     s.evidence,
			Metrics:      s.metrics,
			DropWhenBusy: live,
			OnTransition: s.onTransition,
			Logger:       logger.For("Camera"),
		})
		if err != nil {
			src.Close()
			return nil, err
		}
		cams = append(cams, cam)
	}
	return cams, nil
}

func (s *Server) onTransition(tr pipeline.Transition) {
	s.monitor.Broadcaster().Notify()
}

// Start starts all server components
func (s *Server) Start() error {
	logger.Info("Main", "Starting parking fusion server...")
	logger.Info("Main", "  Mode: %s", s.cfg.Mode)
	logger.Info("Main", "  Cameras: %s", strings.Join(s.cfg.CameraIDs(), ", "))
	logger.Info("Main", "  Zones: %s (%s)", s.cfg.Zones.Dir, s.cfg.Zones.Backend)
	logger.Info("Main", "  Evidence: %s", s.cfg.Evidence.Dir)
	logger.Info("Main", "  HTTP server: %s", s.cfg.Server.Addr)

	if *pprofAddr != "" {
		go func() {
			logger.Info("Main", "Starting pprof server on %s", *pprofAddr)
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				logger.Warn("Main", "pprof server error: %v", err)
			}
		}()
	}

	if *metricsAddr != "" {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", *metricsAddr)
			if err := s.metrics.StartServer(*metricsAddr); err != nil {
				logger.Warn("Main", "Metrics server error: %v", err)
			}
		}()
	}

	go func() {
		logger.Info("Main", "Starting HTTP server on %s", s.cfg.Server.Addr)
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	s.monitor.Start()

	s.wg.Add(2)
	go s.runCameras()
	go s.printStatus()

	if s.cfg.Zones.Watch && s.cfg.Zones.Backend == config.ZoneBackendFile {
		s.wg.Add(1)
		go s.watchZones()
	}

	logger.Info("Main", "Server started successfully")
	return nil
}

func (s *Server) runCameras() {
	defer s.wg.Done()
	defer close(s.camerasDone)
	if err := s.cameras.Run(s.ctx); err != nil {
		logger.Error("Main", "Camera errors: %v", err)
	}
}

// printStatus logs the aggregated status on a fixed period
func (s *Server) printStatus() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Server.StatusInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.logStatus()
		}
	}
}

func (s *Server) logStatus() {
	status := s.aggregator.Aggregated()
	s.metrics.SetSlotStatus(status)
	logger.Info("Status", "Aggregated: %s", formatStatus(status))
}

func formatStatus(status types.StatusMap) string {
	if len(status) == 0 {
		return "(no reports)"
	}
	slots := make([]string, 0, len(status))
	for slot := range status {
		slots = append(slots, slot)
	}
	sort.Strings(slots)
	parts := make([]string, len(slots))
	for i, slot := range slots {
		parts[i] = fmt.Sprintf("%s=%s", slot, types.StatusLabel(status[slot]))
	}
	return strings.Join(parts, " ")
}

func (s *Server) watchZones() {
	defer s.wg.Done()

	fb, err := zone.NewFileBackend(s.cfg.Zones.Dir)
	if err != nil {
		logger.Error("Main", "Zone watcher: %v", err)
		return
	}
	reloader := watcher.NewReloader(s.store, s.stabilizer, s.bus)
	reloader.Metrics = s.metrics
	w := watcher.New(s.cfg.Zones.Dir, fb.CameraFromPath, func(cam string) {
		if err := reloader.Reload(s.ctx, cam); err != nil {
			logger.Warn("Main", "Keeping previous zones for %s", cam)
		}
	})
	if err := w.Watch(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Main", "Zone watcher stopped: %v", err)
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	// Cancel context to stop goroutines
	s.cancel()

	// Wait for goroutines
	s.wg.Wait()

	s.monitor.Stop()
	s.webrtc.Close()

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)

	return errors.Join(err, s.closeAll())
}

func (s *Server) closeAll() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	if s.journal != nil {
		errs = append(errs, s.journal.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}
