package scan

import (
	"fmt"
	"image"

	"github.com/jackzampolin/qrstitch/internal/capture"
	"github.com/jackzampolin/qrstitch/internal/reassembly"
)

// Status messages shown to the operator.
const (
	MsgReady        = "ready to scan..."
	MsgComplete     = "All parts scanned and assembled!"
	MsgCameraFailed = "Failed to start camera. Check camera permissions and try another device."
)

// State is the coarse session state.
type State string

const (
	StateReady        State = "ready"
	StatePartial      State = "partial"
	StateComplete     State = "complete"
	StateCameraFailed State = "camera_failed"
)

// Overlay kinds.
const (
	OverlayRegions = "regions"
	OverlayReticle = "reticle"
)

// Region is a code bounding box in frame coordinates.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func toRegions(rs []image.Rectangle) []Region {
	if len(rs) == 0 {
		return nil
	}
	out := make([]Region, len(rs))
	for i, r := range rs {
		out[i] = Region{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
	}
	return out
}

// Status is a point-in-time view of the controller.
type Status struct {
	State     State  `json:"state"`
	Message   string `json:"message"`
	Scanned   int    `json:"scanned"`
	Total     *int   `json:"total"`
	Remaining int    `json:"remaining"`
	Complete  bool   `json:"complete"`
	Text      string `json:"text,omitempty"`

	Scanning     bool                 `json:"scanning"`
	Strategy     string               `json:"strategy"`
	Overlay      string               `json:"overlay"`
	Regions      []Region             `json:"regions,omitempty"`
	Device       *capture.Device      `json:"device,omitempty"`
	Capabilities capture.Capabilities `json:"capabilities"`
	CameraError  string               `json:"camera_error,omitempty"`

	CanSubmit  bool   `json:"can_submit"`
	Submission string `json:"submission,omitempty"`
}

// StatusText renders the operator message. Completion wins over a camera
// failure, which wins over progress.
func StatusText(p reassembly.Progress, complete, cameraFailed bool) string {
	switch stateOf(p, complete, cameraFailed) {
	case StateComplete:
		return MsgComplete
	case StateCameraFailed:
		return MsgCameraFailed
	case StatePartial:
		return fmt.Sprintf("%d / %d parts scanned (%d remaining)", p.Scanned, p.Total, p.Remaining())
	default:
		return MsgReady
	}
}

func stateOf(p reassembly.Progress, complete, cameraFailed bool) State {
	switch {
	case complete:
		return StateComplete
	case cameraFailed:
		return StateCameraFailed
	case p.HasTotal() && p.Scanned > 0:
		return StatePartial
	default:
		return StateReady
	}
}
