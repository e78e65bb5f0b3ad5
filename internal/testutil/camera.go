package testutil

import (
	"context"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/jackzampolin/qrstitch/internal/capture"
	"github.com/jackzampolin/qrstitch/internal/detect"
)

// TextImage is a tiny image that carries the QR texts a fake detector should
// "see" in it.
type TextImage struct {
	*image.Gray
	Texts   []string
	Regions []image.Rectangle
}

// NewTextImage builds a TextImage carrying texts. Each text gets a distinct
// region so overlay code has something to draw.
func NewTextImage(texts ...string) *TextImage {
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	img.SetGray(0, 0, color.Gray{Y: 255})
	regions := make([]image.Rectangle, len(texts))
	for i := range texts {
		regions[i] = image.Rect(i*10, 0, i*10+8, 8)
	}
	return &TextImage{Gray: img, Texts: texts, Regions: regions}
}

// TextDetector is a detect.MultiDetector that reports the texts carried by
// a TextImage and sees nothing in any other image.
type TextDetector struct{}

func (TextDetector) DetectMultiple(ctx context.Context, img image.Image) ([]detect.Detection, error) {
	ti, ok := img.(*TextImage)
	if !ok {
		return nil, nil
	}
	out := make([]detect.Detection, len(ti.Texts))
	for i, text := range ti.Texts {
		out[i] = detect.Detection{Text: text, Region: ti.Regions[i]}
	}
	return out, nil
}

// FakePlatform is an in-memory capture.Platform.
type FakePlatform struct {
	mu       sync.Mutex
	devices  []capture.Device
	caps     capture.TrackCapabilities
	openErrs []error
	opened   []capture.Constraints
	streams  []*FakeStream
	changes  chan struct{}
}

// NewFakePlatform returns a platform exposing devices.
func NewFakePlatform(devices ...capture.Device) *FakePlatform {
	return &FakePlatform{
		devices: devices,
		changes: make(chan struct{}, 4),
	}
}

// SetCapabilities sets what tracks of future streams report.
func (p *FakePlatform) SetCapabilities(caps capture.TrackCapabilities) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.caps = caps
}

// FailOpen queues errors returned by successive Open calls.
func (p *FakePlatform) FailOpen(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openErrs = append(p.openErrs, errs...)
}

// SetDevices replaces the device list and signals a change.
func (p *FakePlatform) SetDevices(devices ...capture.Device) {
	p.mu.Lock()
	p.devices = devices
	p.mu.Unlock()
	select {
	case p.changes <- struct{}{}:
	default:
	}
}

// Opened returns the constraints of every successful Open.
func (p *FakePlatform) Opened() []capture.Constraints {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]capture.Constraints, len(p.opened))
	copy(out, p.opened)
	return out
}

// Stream returns the most recently opened stream.
func (p *FakePlatform) Stream() *FakeStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.streams) == 0 {
		return nil
	}
	return p.streams[len(p.streams)-1]
}

// Streams returns every stream opened so far.
func (p *FakePlatform) Streams() []*FakeStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*FakeStream, len(p.streams))
	copy(out, p.streams)
	return out
}

func (p *FakePlatform) Name() string { return "fake" }

func (p *FakePlatform) Devices(ctx context.Context) ([]capture.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]capture.Device, len(p.devices))
	copy(out, p.devices)
	return out, nil
}

func (p *FakePlatform) Open(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.openErrs) > 0 {
		err := p.openErrs[0]
		p.openErrs = p.openErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	s := &FakeStream{
		frames: make(chan capture.Frame, 16),
		track:  &FakeTrack{caps: p.caps, settings: capture.TrackSettings{Zoom: zoomMin(p.caps)}},
	}
	p.opened = append(p.opened, c)
	p.streams = append(p.streams, s)
	return s, nil
}

func (p *FakePlatform) Changes(ctx context.Context) (<-chan struct{}, error) {
	return p.changes, nil
}

func zoomMin(c capture.TrackCapabilities) float64 {
	if c.Zoom == nil {
		return 0
	}
	return c.Zoom.Min
}

// FakeStream is a capture.Stream fed by Push.
type FakeStream struct {
	mu      sync.Mutex
	frames  chan capture.Frame
	track   *FakeTrack
	stopped bool
}

// Push delivers an image as the next frame. It is dropped after Stop.
func (s *FakeStream) Push(img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.frames <- capture.Frame{Timestamp: time.Now(), Image: img}
}

// Stopped reports whether Stop was called.
func (s *FakeStream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// FakeTrack exposes the track with its concrete type.
func (s *FakeStream) FakeTrack() *FakeTrack { return s.track }

func (s *FakeStream) Frames() <-chan capture.Frame { return s.frames }

func (s *FakeStream) Track() capture.Track { return s.track }

func (s *FakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.frames)
	}
	return nil
}

// FakeTrack records applied constraints.
type FakeTrack struct {
	mu       sync.Mutex
	caps     capture.TrackCapabilities
	settings capture.TrackSettings
	applied  []capture.TrackConstraints
	applyErr error
}

// FailApply makes every ApplyConstraints call return err.
func (t *FakeTrack) FailApply(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.applyErr = err
}

// Applied returns every constraint set passed to ApplyConstraints.
func (t *FakeTrack) Applied() []capture.TrackConstraints {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]capture.TrackConstraints, len(t.applied))
	copy(out, t.applied)
	return out
}

func (t *FakeTrack) Capabilities() capture.TrackCapabilities {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.caps
}

func (t *FakeTrack) Settings() capture.TrackSettings {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settings
}

func (t *FakeTrack) ApplyConstraints(ctx context.Context, c capture.TrackConstraints) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.applied = append(t.applied, c)
	if t.applyErr != nil {
		return t.applyErr
	}
	if c.Torch != nil {
		t.settings.Torch = *c.Torch
	}
	if c.Zoom != nil {
		t.settings.Zoom = *c.Zoom
	}
	if c.FocusMode != "" {
		t.settings.FocusMode = c.FocusMode
	}
	return nil
}
