// Package filecam is a virtual camera platform backed by directories of
// images. Each subdirectory of the root is one device; its images are
// replayed in name order, looping, at the requested frame rate.
//
// A device directory may contain capabilities.yaml:
//
//	torch: true
//	zoom: {min: 1, max: 4, step: 0.5}
//	focus_modes: [manual, continuous]
//	busy: false
//	denied: false
package filecam

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
	"gopkg.in/yaml.v3"

	"github.com/jackzampolin/qrstitch/internal/capture"
)

// CapabilitiesFile is read from each device directory when present.
const CapabilitiesFile = "capabilities.yaml"

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true, ".webp": true,
}

// Spec is the content of capabilities.yaml.
type Spec struct {
	Torch      bool      `yaml:"torch"`
	Zoom       *ZoomSpec `yaml:"zoom,omitempty"`
	FocusModes []string  `yaml:"focus_modes,omitempty"`
	// Busy and Denied simulate acquisition failures.
	Busy   bool `yaml:"busy"`
	Denied bool `yaml:"denied"`
}

// ZoomSpec is a zoom range.
type ZoomSpec struct {
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
	Step float64 `yaml:"step"`
}

// Platform implements capture.Platform over a directory tree.
type Platform struct {
	root   string
	logger *slog.Logger
}

var _ capture.Platform = (*Platform)(nil)

// New creates a platform rooted at root.
func New(root string, logger *slog.Logger) *Platform {
	if logger == nil {
		logger = slog.Default()
	}
	return &Platform{root: root, logger: logger}
}

func (p *Platform) Name() string { return "files" }

// Devices lists subdirectories of the root in name order.
func (p *Platform) Devices(ctx context.Context) ([]capture.Device, error) {
	entries, err := os.ReadDir(p.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", p.root, err)
	}
	var devices []capture.Device
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		devices = append(devices, capture.Device{ID: e.Name(), Label: e.Name()})
	}
	return devices, nil
}

// Open loads the device's images and starts replaying them.
func (p *Platform) Open(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
	if c.DeviceID == "" || strings.ContainsAny(c.DeviceID, `/\`) {
		return nil, fmt.Errorf("device %q: %w", c.DeviceID, capture.ErrNoDevice)
	}
	dir := filepath.Join(p.root, c.DeviceID)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("device %q: %w", c.DeviceID, capture.ErrNoDevice)
	}

	spec, err := LoadSpec(dir)
	if err != nil {
		return nil, err
	}
	if spec.Denied {
		return nil, fmt.Errorf("device %q: %w", c.DeviceID, capture.ErrPermissionDenied)
	}
	if spec.Busy {
		return nil, fmt.Errorf("device %q: %w", c.DeviceID, capture.ErrDeviceBusy)
	}

	images, err := loadImages(dir)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("device %q has no images: %w", c.DeviceID, capture.ErrNoDevice)
	}

	fps := c.FrameRate
	if fps <= 0 {
		fps = capture.DefaultFrameRate
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &stream{
		frames: make(chan capture.Frame, 1),
		track:  newTrack(spec),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(runCtx, images, time.Second/time.Duration(fps))

	p.logger.Debug("virtual camera opened", "device", c.DeviceID, "images", len(images), "fps", fps)
	return s, nil
}

// Changes signals when device directories appear or disappear.
func (p *Platform) Changes(ctx context.Context) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(p.root); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", p.root, err)
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
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
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
				p.logger.Warn("camera directory watcher error", "error", err)
			}
		}
	}()
	return out, nil
}

// LoadSpec reads capabilities.yaml from dir. A missing file means a plain
// camera with no controls.
func LoadSpec(dir string) (Spec, error) {
	var spec Spec
	data, err := os.ReadFile(filepath.Join(dir, CapabilitiesFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return spec, nil
		}
		return spec, fmt.Errorf("failed to read capabilities: %w", err)
	}
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return spec, fmt.Errorf("failed to parse %s: %w", CapabilitiesFile, err)
	}
	return spec, nil
}

func loadImages(dir string) ([]image.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	images := make([]image.Image, 0, len(names))
	for _, name := range names {
		img, err := decodeFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

type stream struct {
	frames   chan capture.Frame
	track    *track
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func (s *stream) run(ctx context.Context, images []image.Image, interval time.Duration) {
	defer close(s.done)
	defer close(s.frames)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var seq uint64
	for i := 0; ; i = (i + 1) % len(images) {
		seq++
		frame := capture.Frame{
			Seq:       seq,
			Timestamp: time.Now(),
			Image:     images[i],
			TraceID:   uuid.New().String(),
		}
		select {
		case s.frames <- frame:
		default:
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *stream) Frames() <-chan capture.Frame { return s.frames }

func (s *stream) Track() capture.Track { return s.track }

func (s *stream) Stop() error {
	s.stopOnce.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

type track struct {
	mu       sync.Mutex
	caps     capture.TrackCapabilities
	settings capture.TrackSettings
}

func newTrack(spec Spec) *track {
	t := &track{caps: capture.TrackCapabilities{Torch: spec.Torch, FocusModes: spec.FocusModes}}
	if spec.Zoom != nil && spec.Zoom.Max > spec.Zoom.Min {
		t.caps.Zoom = &capture.Range{Min: spec.Zoom.Min, Max: spec.Zoom.Max, Step: spec.Zoom.Step}
		t.settings.Zoom = spec.Zoom.Min
	}
	if len(spec.FocusModes) > 0 {
		t.settings.FocusMode = spec.FocusModes[0]
	}
	return t
}

func (t *track) Capabilities() capture.TrackCapabilities {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.caps
}

func (t *track) Settings() capture.TrackSettings {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settings
}

func (t *track) ApplyConstraints(ctx context.Context, c capture.TrackConstraints) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c.Torch != nil {
		if !t.caps.Torch {
			return fmt.Errorf("torch: %w", capture.ErrUnsupported)
		}
		t.settings.Torch = *c.Torch
	}
	if c.Zoom != nil {
		if t.caps.Zoom == nil {
			return fmt.Errorf("zoom: %w", capture.ErrUnsupported)
		}
		t.settings.Zoom = t.caps.Zoom.Clamp(*c.Zoom)
	}
	if c.FocusMode != "" {
		supported := false
		for _, m := range t.caps.FocusModes {
			if m == c.FocusMode {
				supported = true
			}
		}
		if !supported {
			return fmt.Errorf("focus mode %s: %w", c.FocusMode, capture.ErrUnsupported)
		}
		t.settings.FocusMode = c.FocusMode
	}
	return nil
}
