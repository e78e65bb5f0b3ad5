package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/qrstitch/internal/capture"
	"github.com/jackzampolin/qrstitch/internal/capture/filecam"
	"github.com/jackzampolin/qrstitch/internal/capture/gstsrc"
	"github.com/jackzampolin/qrstitch/internal/capture/v4l2"
	"github.com/jackzampolin/qrstitch/internal/config"
	"github.com/jackzampolin/qrstitch/internal/detect"
	"github.com/jackzampolin/qrstitch/internal/home"
	"github.com/jackzampolin/qrstitch/internal/scan"
)

// environment bundles what every local command needs.
type environment struct {
	home   *home.Dir
	config *config.Manager
	logger *slog.Logger
}

func loadEnvironment() (*environment, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}

	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, err
	}

	mgr, err := config.NewManager(config.Options{
		File:        cfgFile,
		SearchPaths: []string{".", h.Path()},
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	if f := mgr.File(); f != "" {
		logger.Info("loaded config", "file", f)
	}

	return &environment{home: h, config: mgr, logger: logger}, nil
}

// newPlatform returns the capture platform named by the config.
func (e *environment) newPlatform(cfg *config.Config) (capture.Platform, error) {
	switch cfg.Camera.Platform {
	case "", config.PlatformV4L2:
		return v4l2.New(v4l2.Config{
			Opener:   gstsrc.Opener(e.logger),
			Controls: v4l2.ExecControls{},
			Logger:   e.logger,
		})
	case config.PlatformFiles:
		dir := cfg.Camera.FilesDir
		if dir == "" {
			dir = e.home.CamerasPath()
		}
		return filecam.New(dir, e.logger), nil
	default:
		return nil, fmt.Errorf("unknown camera platform %q", cfg.Camera.Platform)
	}
}

// newController wires a capture session and detection strategy into a
// scan controller.
func (e *environment) newController(cfg *config.Config, submitter scan.Submitter, autoStart bool) (*scan.Controller, error) {
	platform, err := e.newPlatform(cfg)
	if err != nil {
		return nil, err
	}

	session := capture.NewSession(platform, capture.Config{
		Width:           cfg.Camera.Width,
		Height:          cfg.Camera.Height,
		FrameRate:       cfg.Camera.FrameRate,
		AcquireAttempts: cfg.Camera.AcquireAttempts,
		AcquireDelay:    time.Duration(cfg.Camera.AcquireDelayMS) * time.Millisecond,
		Logger:          e.logger,
	})

	var native detect.MultiDetector
	if cfg.Detect.Native {
		native = detect.NewZXingMulti()
	}
	strategy, err := detect.Select(cfg.Detect.Strategy, native, detect.ZXingDecoders, cfg.Detect.RefreshHz, e.logger)
	if err != nil {
		return nil, err
	}
	e.logger.Info("detection strategy selected", "strategy", strategy.Name(), "platform", platform.Name())

	return scan.New(scan.Config{
		Capture:   session,
		Strategy:  strategy,
		Submitter: submitter,
		Logger:    e.logger,
		AutoStart: autoStart,
		Device:    cfg.Camera.Device,
	})
}
