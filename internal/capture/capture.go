// Package capture owns the camera side of a scan: device enumeration,
// stream acquisition with a rear-camera preference, capability probing and
// best-effort torch/zoom/focus control.
//
// Concrete cameras live behind the Platform interface. See the v4l2 and
// filecam subpackages.
package capture

import (
	"context"
	"errors"
	"image"
	"time"
)

// Typed acquisition failures. Platforms wrap these with %w.
var (
	ErrNoDevice         = errors.New("no camera device available")
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrDeviceBusy       = errors.New("camera device busy")
	ErrUnsupported      = errors.New("camera control not supported")
	ErrClosed           = errors.New("video closed")
)

// Device describes one camera.
type Device struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Frame is one captured image.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Image     image.Image
	TraceID   string
}

// Constraints requests a stream from a Platform.
type Constraints struct {
	// DeviceID selects a specific device. Empty lets the platform pick
	// using FacingMode.
	DeviceID   string
	FacingMode string
	Width      int
	Height     int
	FrameRate  int
}

// Range is a numeric control range.
type Range struct {
	Min  float64
	Max  float64
	Step float64
}

// Clamp limits v to the range.
func (r Range) Clamp(v float64) float64 {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// Focus modes reported by tracks.
const (
	FocusContinuous = "continuous"
	FocusManual     = "manual"
)

// TrackCapabilities is what the device says it can do.
type TrackCapabilities struct {
	Torch      bool
	Zoom       *Range
	FocusModes []string
}

// TrackSettings is what the device is currently doing.
type TrackSettings struct {
	Torch     bool
	Zoom      float64
	FocusMode string
}

// TrackConstraints is a partial settings update. Nil fields are untouched.
type TrackConstraints struct {
	Torch     *bool
	Zoom      *float64
	FocusMode string
}

// Track controls the video track of an open stream.
type Track interface {
	Capabilities() TrackCapabilities
	Settings() TrackSettings
	ApplyConstraints(ctx context.Context, c TrackConstraints) error
}

// Stream is an open camera.
type Stream interface {
	// Frames delivers captured frames until Stop.
	Frames() <-chan Frame
	Track() Track
	// Stop releases the device. It must be idempotent.
	Stop() error
}

// Platform is the device capability surface.
type Platform interface {
	Name() string
	Devices(ctx context.Context) ([]Device, error)
	Open(ctx context.Context, c Constraints) (Stream, error)
	// Changes signals device plug/unplug until ctx ends.
	Changes(ctx context.Context) (<-chan struct{}, error)
}

// Capabilities is the snapshot the UI renders controls from.
type Capabilities struct {
	TorchAvailable  bool    `json:"torch_available"`
	TorchOn         bool    `json:"torch_on"`
	ZoomAvailable   bool    `json:"zoom_available"`
	ZoomMin         float64 `json:"zoom_min,omitempty"`
	ZoomMax         float64 `json:"zoom_max,omitempty"`
	ZoomCurrent     float64 `json:"zoom_current,omitempty"`
	ContinuousFocus bool    `json:"continuous_focus"`
}

func snapshot(t Track) Capabilities {
	if t == nil {
		return Capabilities{}
	}
	caps := t.Capabilities()
	set := t.Settings()
	out := Capabilities{
		TorchAvailable:  caps.Torch,
		TorchOn:         caps.Torch && set.Torch,
		ContinuousFocus: hasMode(caps.FocusModes, FocusContinuous),
	}
	if caps.Zoom != nil {
		out.ZoomAvailable = true
		out.ZoomMin = caps.Zoom.Min
		out.ZoomMax = caps.Zoom.Max
		out.ZoomCurrent = caps.Zoom.Clamp(set.Zoom)
	}
	return out
}

func hasMode(modes []string, want string) bool {
	for _, m := range modes {
		if m == want {
			return true
		}
	}
	return false
}
