package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
)

// Defaults for Config fields left at zero.
const (
	DefaultWidth           = 1280
	DefaultHeight          = 720
	DefaultFrameRate       = 15
	DefaultAcquireAttempts = 3
	DefaultAcquireDelay    = 500 * time.Millisecond
)

// Config configures a Session.
type Config struct {
	Width     int
	Height    int
	FrameRate int

	// AcquireAttempts bounds retries while a device reports busy.
	AcquireAttempts uint
	AcquireDelay    time.Duration

	Logger *slog.Logger
}

// Session owns at most one open stream at a time.
type Session struct {
	platform Platform
	cfg      Config
	logger   *slog.Logger

	// opMu serializes Start and Stop.
	opMu sync.Mutex

	mu       sync.RWMutex
	stream   Stream
	video    *Video
	stopPump chan struct{}
	pumpDone chan struct{}
	device   Device
	selected string
	caps     Capabilities
	devices  []Device
}

// NewSession creates a capture session over platform.
func NewSession(platform Platform, cfg Config) *Session {
	if cfg.Width == 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Height == 0 {
		cfg.Height = DefaultHeight
	}
	if cfg.FrameRate == 0 {
		cfg.FrameRate = DefaultFrameRate
	}
	if cfg.AcquireAttempts == 0 {
		cfg.AcquireAttempts = DefaultAcquireAttempts
	}
	if cfg.AcquireDelay == 0 {
		cfg.AcquireDelay = DefaultAcquireDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Session{
		platform: platform,
		cfg:      cfg,
		logger:   cfg.Logger.With("platform", platform.Name()),
	}
}

// ListDevices enumerates cameras and caches the result.
func (s *Session) ListDevices(ctx context.Context) ([]Device, error) {
	devices, err := s.platform.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	s.mu.Lock()
	s.devices = devices
	s.mu.Unlock()
	return devices, nil
}

// Start opens a camera and returns its live video. Any previously open
// stream is stopped first. An empty deviceID selects by the rear-camera
// heuristic.
func (s *Session) Start(ctx context.Context, deviceID string) (*Video, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.stopStream(); err != nil {
		s.logger.Warn("previous stream did not stop cleanly", "error", err)
	}

	devices, err := s.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	dev, err := ChooseDevice(devices, deviceID)
	if err != nil {
		return nil, err
	}

	constraints := Constraints{
		DeviceID:   dev.ID,
		FacingMode: "environment",
		Width:      s.cfg.Width,
		Height:     s.cfg.Height,
		FrameRate:  s.cfg.FrameRate,
	}

	var stream Stream
	err = retry.Do(
		func() error {
			var openErr error
			stream, openErr = s.platform.Open(ctx, constraints)
			return openErr
		},
		retry.Context(ctx),
		retry.Attempts(s.cfg.AcquireAttempts),
		retry.Delay(s.cfg.AcquireDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, ErrDeviceBusy)
		}),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Debug("camera busy, retrying", "device", dev.ID, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", dev.ID, err)
	}

	video := newVideo()
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		video.pump(stream.Frames(), stop)
	}()

	track := stream.Track()
	if track != nil && hasMode(track.Capabilities().FocusModes, FocusContinuous) {
		if err := track.ApplyConstraints(ctx, TrackConstraints{FocusMode: FocusContinuous}); err != nil {
			s.logger.Debug("continuous focus request ignored", "device", dev.ID, "error", err)
		}
	}

	s.mu.Lock()
	s.stream = stream
	s.video = video
	s.stopPump = stop
	s.pumpDone = done
	s.device = dev
	s.selected = dev.ID
	s.caps = snapshot(track)
	caps := s.caps
	s.mu.Unlock()

	s.logger.Info("camera started", "device", dev.ID, "label", dev.Label,
		"torch", caps.TorchAvailable, "zoom", caps.ZoomAvailable, "continuous_focus", caps.ContinuousFocus)
	return video, nil
}

// Stop releases the active stream. Calling Stop with nothing open is a no-op.
func (s *Session) Stop() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.stopStream()
}

func (s *Session) stopStream() error {
	s.mu.Lock()
	stream, video, stop, done := s.stream, s.video, s.stopPump, s.pumpDone
	s.stream, s.video, s.stopPump, s.pumpDone = nil, nil, nil, nil
	s.caps = Capabilities{}
	dev := s.device
	s.device = Device{}
	s.mu.Unlock()

	if stream == nil {
		return nil
	}

	close(stop)
	err := stream.Stop()
	<-done
	video.close()
	s.logger.Info("camera stopped", "device", dev.ID)
	if err != nil {
		return fmt.Errorf("failed to stop %s: %w", dev.ID, err)
	}
	return nil
}

// Active reports whether a stream is open.
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stream != nil
}

// Video returns the live video of the open stream, or nil.
func (s *Session) Video() *Video {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.video
}

// Device returns the open device. The zero Device means none.
func (s *Session) Device() Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.device
}

// Selected returns the last device successfully opened, even after Stop.
func (s *Session) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Capabilities returns the current capability snapshot.
func (s *Session) Capabilities() Capabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps
}

// Devices returns the devices from the last enumeration.
func (s *Session) Devices() []Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Device, len(s.devices))
	copy(out, s.devices)
	return out
}

// ApplyTorch switches the torch. Unsupported or failing requests are logged
// and otherwise ignored.
func (s *Session) ApplyTorch(ctx context.Context, on bool) {
	track, caps := s.activeTrack()
	if track == nil || !caps.TorchAvailable {
		s.logger.Debug("torch not available, ignoring", "on", on)
		return
	}
	if err := track.ApplyConstraints(ctx, TrackConstraints{Torch: &on}); err != nil {
		s.logger.Warn("torch request failed", "on", on, "error", err)
	}
	s.refreshCaps(track)
}

// ApplyZoom sets the zoom level, clamped to the device range. Unsupported
// or failing requests are logged and otherwise ignored.
func (s *Session) ApplyZoom(ctx context.Context, value float64) {
	track, caps := s.activeTrack()
	if track == nil || !caps.ZoomAvailable {
		s.logger.Debug("zoom not available, ignoring", "value", value)
		return
	}
	r := Range{Min: caps.ZoomMin, Max: caps.ZoomMax}
	v := r.Clamp(value)
	if err := track.ApplyConstraints(ctx, TrackConstraints{Zoom: &v}); err != nil {
		s.logger.Warn("zoom request failed", "value", v, "error", err)
	}
	s.refreshCaps(track)
}

func (s *Session) activeTrack() (Track, Capabilities) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stream == nil {
		return nil, Capabilities{}
	}
	return s.stream.Track(), s.caps
}

func (s *Session) refreshCaps(track Track) {
	caps := snapshot(track)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil && s.stream.Track() == track {
		s.caps = caps
	}
}

// Refresh re-enumerates devices. selectedPresent is false when the last
// opened device has disappeared.
func (s *Session) Refresh(ctx context.Context) (devices []Device, selectedPresent bool, err error) {
	devices, err = s.ListDevices(ctx)
	if err != nil {
		return nil, false, err
	}
	selected := s.Selected()
	if selected == "" {
		return devices, true, nil
	}
	for _, d := range devices {
		if d.ID == selected {
			return devices, true, nil
		}
	}
	return devices, false, nil
}

// Watch re-enumerates devices whenever the platform reports a change and
// passes the result to fn. It blocks until ctx ends.
func (s *Session) Watch(ctx context.Context, fn func(devices []Device, selectedPresent bool)) error {
	changes, err := s.platform.Changes(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch devices: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			devices, present, err := s.Refresh(ctx)
			if err != nil {
				s.logger.Warn("device refresh failed", "error", err)
				continue
			}
			s.logger.Debug("devices changed", "count", len(devices), "selected_present", present)
			fn(devices, present)
		}
	}
}
