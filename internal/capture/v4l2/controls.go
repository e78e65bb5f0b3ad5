package v4l2

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/jackzampolin/qrstitch/internal/capture"
)

// Control names understood by the track.
const (
	ctrlZoom            = "zoom_absolute"
	ctrlFlash           = "flash_led_mode"
	ctrlFocusContinuous = "focus_automatic_continuous"
	ctrlFocusLegacy     = "focus_auto"

	flashOff   = 0
	flashTorch = 2
)

// Control is one entry of `v4l2-ctl --list-ctrls`.
type Control struct {
	Name  string
	Type  string
	Min   int
	Max   int
	Step  int
	Value int
}

// ControlRunner reads and writes device controls.
type ControlRunner interface {
	List(ctx context.Context, device string) (string, error)
	Set(ctx context.Context, device, name string, value int) error
}

// ExecControls shells out to v4l2-ctl.
type ExecControls struct {
	// Binary defaults to "v4l2-ctl".
	Binary string
}

func (e ExecControls) bin() string {
	if e.Binary == "" {
		return "v4l2-ctl"
	}
	return e.Binary
}

func (e ExecControls) List(ctx context.Context, device string) (string, error) {
	out, err := exec.CommandContext(ctx, e.bin(), "-d", device, "--list-ctrls").Output()
	if err != nil {
		return "", fmt.Errorf("%s --list-ctrls: %w", e.bin(), err)
	}
	return string(out), nil
}

func (e ExecControls) Set(ctx context.Context, device, name string, value int) error {
	arg := fmt.Sprintf("--set-ctrl=%s=%d", name, value)
	if out, err := exec.CommandContext(ctx, e.bin(), "-d", device, arg).CombinedOutput(); err != nil {
		return fmt.Errorf("%s %s: %w: %s", e.bin(), arg, err, strings.TrimSpace(string(out)))
	}
	return nil
}

var ctrlLine = regexp.MustCompile(`^\s*(\w+)\s+0x[0-9a-fA-F]+\s+\((\w+)\)\s*:\s*(.*)$`)

// ParseControls parses `v4l2-ctl --list-ctrls` output. Headers and menu
// item lines are ignored.
func ParseControls(out string) map[string]Control {
	controls := make(map[string]Control)
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		m := ctrlLine.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		c := Control{Name: m[1], Type: m[2]}
		for _, kv := range strings.Fields(m[3]) {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				continue
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				continue
			}
			switch k {
			case "min":
				c.Min = n
			case "max":
				c.Max = n
			case "step":
				c.Step = n
			case "value":
				c.Value = n
			}
		}
		controls[c.Name] = c
	}
	return controls
}

// Track exposes V4L2 controls as capture.Track.
type Track struct {
	device string
	runner ControlRunner

	mu       sync.Mutex
	controls map[string]Control
}

var _ capture.Track = (*Track)(nil)

func newTrack(ctx context.Context, device string, runner ControlRunner) (*Track, error) {
	out, err := runner.List(ctx, device)
	if err != nil {
		return nil, err
	}
	return &Track{device: device, runner: runner, controls: ParseControls(out)}, nil
}

func (t *Track) focusControl() (string, bool) {
	if _, ok := t.controls[ctrlFocusContinuous]; ok {
		return ctrlFocusContinuous, true
	}
	if _, ok := t.controls[ctrlFocusLegacy]; ok {
		return ctrlFocusLegacy, true
	}
	return "", false
}

func (t *Track) Capabilities() capture.TrackCapabilities {
	t.mu.Lock()
	defer t.mu.Unlock()

	var caps capture.TrackCapabilities
	if c, ok := t.controls[ctrlFlash]; ok && c.Max >= flashTorch {
		caps.Torch = true
	}
	if c, ok := t.controls[ctrlZoom]; ok && c.Max > c.Min {
		caps.Zoom = &capture.Range{Min: float64(c.Min), Max: float64(c.Max), Step: float64(c.Step)}
	}
	if _, ok := t.focusControl(); ok {
		caps.FocusModes = []string{capture.FocusManual, capture.FocusContinuous}
	}
	return caps
}

func (t *Track) Settings() capture.TrackSettings {
	t.mu.Lock()
	defer t.mu.Unlock()

	var s capture.TrackSettings
	if c, ok := t.controls[ctrlFlash]; ok {
		s.Torch = c.Value == flashTorch
	}
	if c, ok := t.controls[ctrlZoom]; ok {
		s.Zoom = float64(c.Value)
	}
	if name, ok := t.focusControl(); ok {
		s.FocusMode = capture.FocusManual
		if t.controls[name].Value != 0 {
			s.FocusMode = capture.FocusContinuous
		}
	}
	return s
}

func (t *Track) ApplyConstraints(ctx context.Context, c capture.TrackConstraints) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c.Torch != nil {
		v := flashOff
		if *c.Torch {
			v = flashTorch
		}
		if err := t.set(ctx, ctrlFlash, v); err != nil {
			return err
		}
	}
	if c.Zoom != nil {
		if err := t.set(ctx, ctrlZoom, int(math.Round(*c.Zoom))); err != nil {
			return err
		}
	}
	if c.FocusMode != "" {
		name, ok := t.focusControl()
		if !ok {
			return fmt.Errorf("focus mode %s: %w", c.FocusMode, capture.ErrUnsupported)
		}
		v := 0
		if c.FocusMode == capture.FocusContinuous {
			v = 1
		}
		if err := t.set(ctx, name, v); err != nil {
			return err
		}
	}
	return nil
}

// set must be called with t.mu held.
func (t *Track) set(ctx context.Context, name string, value int) error {
	ctrl, ok := t.controls[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, capture.ErrUnsupported)
	}
	if err := t.runner.Set(ctx, t.device, name, value); err != nil {
		return err
	}
	ctrl.Value = value
	t.controls[name] = ctrl
	return nil
}
