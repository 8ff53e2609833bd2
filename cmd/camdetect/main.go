// Command camdetect runs the detector on a local camera and shows the picked
// detections in a window until q is pressed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/SyedDaiam9101/detector-service/internal/camera"
	"github.com/SyedDaiam9101/detector-service/internal/config"
	"github.com/SyedDaiam9101/detector-service/internal/detection"
	"github.com/SyedDaiam9101/detector-service/internal/inference"
	"github.com/SyedDaiam9101/detector-service/internal/liveloop"
	"github.com/SyedDaiam9101/detector-service/internal/logging"
)

func main() {
	configFile := flag.String("config", "", "Path to config file (optional)")
	envFile := flag.String("env", "", "Path to a .env file (default: .env next to the executable)")
	camIndex := flag.Int("cam", -1, "Camera index (default: CAM_INDEX or 0)")
	flag.Parse()

	baseDir := executableDir()
	if *envFile == "" {
		*envFile = filepath.Join(baseDir, ".env")
	}
	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	var (
		cfg *config.Config
		err error
	)
	if *configFile != "" {
		cfg, err = config.LoadWithConfigFile(*configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *camIndex >= 0 {
		cfg.CamIndex = *camIndex
	}
	cfg.ResolvePaths(baseDir)
	if err := cfg.ValidateCamera(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New("camdetect", cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger, cfg); err != nil {
		logger.Fatal("camdetect failed", zap.Error(err))
	}
}

func run(logger *zap.Logger, cfg *config.Config) error {
	policy, err := cfg.Policy()
	if err != nil {
		return err
	}

	var catalog detection.Catalog
	if cfg.ClassNames != "" {
		if catalog, err = detection.LoadCatalog(cfg.ClassNames); err != nil {
			return fmt.Errorf("load class names: %w", err)
		}
	}

	det, err := inference.New(inference.Options{
		ModelPath:         cfg.ModelPath,
		SharedLibraryPath: cfg.ONNXRuntimeLib,
		Device:            cfg.Device,
		Catalog:           catalog,
	})
	if err != nil {
		return err
	}
	defer det.Close()

	params, pinned := inference.PinInputSize(det, cfg.CameraParams())
	if pinned {
		logger.Warn("model has a fixed input size, overriding IMGSZ",
			zap.Int("configured", cfg.ImgSize), zap.Int("imgsz", params.ImgSize))
	}

	source, err := camera.Open(cfg.CamIndex)
	if err != nil {
		return err
	}

	logger.Info("live detection started",
		zap.Int("camera", cfg.CamIndex),
		zap.String("model_path", cfg.ModelPath),
		zap.String("device", det.Device()),
		zap.Int("classes", det.Catalog().Size()),
		zap.String("pick_strategy", string(policy.Rank)),
		zap.Int("max_detections", policy.MaxCount),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loop := &liveloop.Loop{
		Source:   source,
		Detector: det,
		Display:  camera.NewWindow(cfg.WindowName),
		Renderer: liveloop.NewOverlay(),
		Params:   params,
		Policy:   policy,
		Logger:   logger,
	}
	return loop.Run(ctx)
}

// executableDir anchors the .env file and relative model paths.
func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}
