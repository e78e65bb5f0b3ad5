// Package v4l2 is the Linux camera platform. Devices are enumerated from
// sysfs, hot-plug is watched on /dev, and camera controls go through
// v4l2-ctl. Frame delivery is delegated to a PipelineOpener (see gstsrc).
package v4l2

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"

	"github.com/jackzampolin/qrstitch/internal/capture"
)

const (
	DefaultSysfsRoot = "/sys/class/video4linux"
	DefaultDevRoot   = "/dev"
)

// FrameSource produces frames for an opened device.
type FrameSource interface {
	Frames() <-chan capture.Frame
	Stop() error
}

// PipelineOpener starts frame delivery for a device.
type PipelineOpener func(ctx context.Context, c capture.Constraints) (FrameSource, error)

// Config configures the platform.
type Config struct {
	SysfsRoot string
	DevRoot   string
	Opener    PipelineOpener
	Controls  ControlRunner
	Logger    *slog.Logger
}

// Platform implements capture.Platform for V4L2 devices.
type Platform struct {
	cfg    Config
	logger *slog.Logger
}

var _ capture.Platform = (*Platform)(nil)

// New creates a V4L2 platform.
func New(cfg Config) (*Platform, error) {
	if cfg.Opener == nil {
		return nil, errors.New("v4l2: pipeline opener is required")
	}
	if cfg.SysfsRoot == "" {
		cfg.SysfsRoot = DefaultSysfsRoot
	}
	if cfg.DevRoot == "" {
		cfg.DevRoot = DefaultDevRoot
	}
	if cfg.Controls == nil {
		cfg.Controls = ExecControls{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Platform{cfg: cfg, logger: cfg.Logger}, nil
}

func (p *Platform) Name() string { return "v4l2" }

// Devices lists capture nodes. Secondary nodes of the same camera (metadata
// streams) have a non-zero index and are skipped.
func (p *Platform) Devices(ctx context.Context) ([]capture.Device, error) {
	entries, err := os.ReadDir(p.cfg.SysfsRoot)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", p.cfg.SysfsRoot, err)
	}

	type numbered struct {
		n   int
		dev capture.Device
	}
	var found []numbered
	for _, e := range entries {
		name := e.Name()
		n, ok := videoNumber(name)
		if !ok {
			continue
		}
		dir := filepath.Join(p.cfg.SysfsRoot, name)
		if idx := readTrimmed(filepath.Join(dir, "index")); idx != "" && idx != "0" {
			continue
		}
		label := readTrimmed(filepath.Join(dir, "name"))
		if label == "" {
			label = name
		}
		found = append(found, numbered{n: n, dev: capture.Device{
			ID:    filepath.Join(p.cfg.DevRoot, name),
			Label: label,
		}})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })
	devices := make([]capture.Device, len(found))
	for i, f := range found {
		devices[i] = f.dev
	}
	return devices, nil
}

// Open probes the device node, starts the pipeline and loads its controls.
func (p *Platform) Open(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
	if c.DeviceID == "" {
		return nil, capture.ErrNoDevice
	}
	if err := probe(c.DeviceID); err != nil {
		return nil, err
	}

	src, err := p.cfg.Opener(ctx, c)
	if err != nil {
		return nil, err
	}

	track, err := newTrack(ctx, c.DeviceID, p.cfg.Controls)
	if err != nil {
		p.logger.Debug("camera controls unavailable", "device", c.DeviceID, "error", err)
		track = &Track{device: c.DeviceID, runner: p.cfg.Controls, controls: map[string]Control{}}
	}

	return &stream{FrameSource: src, track: track}, nil
}

// Changes signals whenever a video node appears or disappears.
func (p *Platform) Changes(ctx context.Context) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(p.cfg.DevRoot); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", p.cfg.DevRoot, err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if _, isVideo := videoNumber(filepath.Base(ev.Name)); !isVideo {
					continue
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.logger.Warn("device watcher error", "error", err)
			}
		}
	}()
	return out, nil
}

func probe(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return classifyOpenError(path, err)
	}
	return f.Close()
}

func classifyOpenError(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s: %w", path, capture.ErrPermissionDenied)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s: %w", path, capture.ErrNoDevice)
	case errors.Is(err, syscall.EBUSY):
		return fmt.Errorf("%s: %w", path, capture.ErrDeviceBusy)
	default:
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
}

func videoNumber(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "video")
	if !ok || rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}

func readTrimmed(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

type stream struct {
	FrameSource
	track *Track
}

func (s *stream) Track() capture.Track { return s.track }
