// Package scan drives a scanning session: it owns the capture session, the
// detection run and the reassembly buffer, and turns their state into
// operator-facing status.
package scan

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackzampolin/qrstitch/internal/capture"
	"github.com/jackzampolin/qrstitch/internal/chunk"
	"github.com/jackzampolin/qrstitch/internal/detect"
	"github.com/jackzampolin/qrstitch/internal/reassembly"
	"github.com/jackzampolin/qrstitch/internal/scanctx"
)

var (
	// ErrNotAssembled means submission was attempted before completion.
	ErrNotAssembled = errors.New("payload not fully assembled")
	// ErrExtensionRequired means submission was attempted without a file extension.
	ErrExtensionRequired = errors.New("file extension is required")
	// ErrNoSubmitter means no submission target is configured.
	ErrNoSubmitter = errors.New("no submission target configured")
)

// Submitter delivers an assembled payload and returns the receiver's message.
type Submitter interface {
	Submit(ctx context.Context, text, fileExtension string) (string, error)
}

// Config configures a Controller.
type Config struct {
	Capture   *capture.Session
	Strategy  detect.Strategy
	Submitter Submitter
	Logger    *slog.Logger

	// AutoStart opens Device (or the preferred camera) when Run begins.
	AutoStart bool
	Device    string

	// StopTimeout bounds how long teardown waits for detection to return.
	StopTimeout time.Duration
}

// Controller is the session controller.
type Controller struct {
	capture   *capture.Session
	strategy  detect.Strategy
	submitter Submitter
	logger    *slog.Logger
	cfg       Config

	// opMu serializes Start, Stop and Reset.
	opMu sync.Mutex

	mu           sync.Mutex
	baseCtx      context.Context
	buffer       *reassembly.Buffer
	singleShot   bool
	cameraFailed bool
	cameraErr    string
	regions      []image.Rectangle
	submission   string
	active       *scanctx.Context
	runDone      chan struct{}
	listeners    []func(Status)
}

// New creates a controller. Capture and Strategy are required.
func New(cfg Config) (*Controller, error) {
	if cfg.Capture == nil {
		return nil, errors.New("scan: capture session is required")
	}
	if cfg.Strategy == nil {
		return nil, errors.New("scan: detection strategy is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = 3 * time.Second
	}
	return &Controller{
		capture:   cfg.Capture,
		strategy:  cfg.Strategy,
		submitter: cfg.Submitter,
		logger:    cfg.Logger,
		cfg:       cfg,
		baseCtx:   context.Background(),
		buffer:    reassembly.New(),
	}, nil
}

// Run scopes detection to ctx, optionally opens the camera, and follows
// device hot-plug until ctx ends. Everything is stopped on return.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	c.baseCtx = ctx
	c.mu.Unlock()

	defer func() {
		if err := c.Stop(); err != nil {
			c.logger.Warn("camera did not stop cleanly", "error", err)
		}
	}()

	if c.cfg.AutoStart {
		if err := c.Start(ctx, c.cfg.Device); err != nil {
			c.logger.Error("failed to start camera", "error", err)
		}
	}

	err := c.capture.Watch(ctx, func(devices []capture.Device, selectedPresent bool) {
		c.onDevicesChanged(ctx, devices, selectedPresent)
	})
	if err != nil {
		c.logger.Warn("device hot-plug unavailable", "error", err)
		<-ctx.Done()
	}
	return nil
}

func (c *Controller) onDevicesChanged(ctx context.Context, devices []capture.Device, selectedPresent bool) {
	c.mu.Lock()
	failed := c.cameraFailed
	c.mu.Unlock()

	switch {
	case !selectedPresent && c.capture.Active():
		c.logger.Warn("selected camera disconnected", "device", c.capture.Selected(), "available", len(devices))
		c.stopDetection()
		if err := c.capture.Stop(); err != nil {
			c.logger.Debug("stopping lost camera", "error", err)
		}
		if len(devices) == 0 {
			c.setCameraFailed(capture.ErrNoDevice)
			return
		}
		if err := c.Start(ctx, ""); err != nil {
			c.logger.Error("failed to switch camera", "error", err)
		}
	case failed && len(devices) > 0:
		c.logger.Info("camera available, retrying", "available", len(devices))
		if err := c.Start(ctx, ""); err != nil {
			c.logger.Debug("retry after hot-plug failed", "error", err)
		}
	default:
		c.notify()
	}
}

// Start acquires a camera and begins detection. Any previous detection
// run and stream are torn down first. A failure leaves the controller
// usable and is reflected in Status.
func (c *Controller) Start(ctx context.Context, deviceID string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.stopDetection()

	video, err := c.capture.Start(ctx, deviceID)
	if err != nil {
		c.setCameraFailed(err)
		return err
	}

	c.mu.Lock()
	c.cameraFailed = false
	c.cameraErr = ""
	c.regions = nil
	c.mu.Unlock()

	c.startDetection(video)
	c.notify()
	return nil
}

// SelectDevice switches to the given camera.
func (c *Controller) SelectDevice(ctx context.Context, deviceID string) error {
	return c.Start(ctx, deviceID)
}

// Stop ends detection and releases the camera. Progress is kept.
func (c *Controller) Stop() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.stopDetection()
	err := c.capture.Stop()

	c.mu.Lock()
	c.regions = nil
	c.mu.Unlock()
	c.notify()
	return err
}

// Reset discards all progress. When a camera is live, detection restarts
// under a fresh session context and the stream keeps running.
func (c *Controller) Reset() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.stopDetection()

	c.mu.Lock()
	c.buffer.Reset()
	c.singleShot = false
	c.regions = nil
	c.submission = ""
	c.mu.Unlock()
	c.logger.Info("scan session reset")

	if video := c.capture.Video(); video != nil && !video.Closed() {
		c.startDetection(video)
	}
	c.notify()
}

// ManualEntry feeds text through the same path as a detected code.
func (c *Controller) ManualEntry(text string) Status {
	c.handle(nil, text)
	return c.Status()
}

// Submit sends the assembled payload. It is refused until the payload is
// complete and an extension is given. On failure the returned message is
// "Error: ..." and all state is kept.
func (c *Controller) Submit(ctx context.Context, fileExtension string) (string, error) {
	ext := strings.TrimSpace(fileExtension)

	c.mu.Lock()
	text, complete := c.buffer.Assembled()
	c.mu.Unlock()

	if !complete {
		return "", ErrNotAssembled
	}
	if ext == "" {
		return "", ErrExtensionRequired
	}
	if c.submitter == nil {
		return "", ErrNoSubmitter
	}

	msg, err := c.submitter.Submit(ctx, text, ext)
	if err != nil {
		msg = "Error: " + err.Error()
		c.logger.Warn("submission failed", "extension", ext, "error", err)
	} else {
		c.logger.Info("submission accepted", "extension", ext, "bytes", len(text), "message", msg)
	}

	c.mu.Lock()
	c.submission = msg
	c.mu.Unlock()
	c.notify()
	return msg, err
}

// Torch switches the torch, best effort.
func (c *Controller) Torch(ctx context.Context, on bool) {
	c.capture.ApplyTorch(ctx, on)
	c.notify()
}

// Zoom sets the zoom level, best effort.
func (c *Controller) Zoom(ctx context.Context, value float64) {
	c.capture.ApplyZoom(ctx, value)
	c.notify()
}

// Devices enumerates cameras.
func (c *Controller) Devices(ctx context.Context) ([]capture.Device, error) {
	return c.capture.ListDevices(ctx)
}

// OnStatus registers a callback invoked after every state change.
func (c *Controller) OnStatus(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Status returns a snapshot of the session.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	p := c.buffer.Progress()
	text, complete := c.buffer.Assembled()

	st := Status{
		State:        stateOf(p, complete, c.cameraFailed),
		Message:      StatusText(p, complete, c.cameraFailed),
		Scanned:      p.Scanned,
		Remaining:    p.Remaining(),
		Complete:     complete,
		Text:         text,
		Scanning:     c.active != nil && !c.active.Cancelled(),
		Strategy:     c.strategy.Name(),
		Overlay:      OverlayReticle,
		Capabilities: c.capture.Capabilities(),
		CameraError:  c.cameraErr,
		CanSubmit:    complete && c.submitter != nil,
		Submission:   c.submission,
	}
	if p.HasTotal() {
		total := p.Total
		st.Total = &total
	}
	if c.strategy.ProvidesRegions() {
		st.Overlay = OverlayRegions
		st.Regions = toRegions(c.regions)
	}
	if dev := c.capture.Device(); dev.ID != "" {
		st.Device = &dev
	}
	return st
}

func (c *Controller) setCameraFailed(err error) {
	c.mu.Lock()
	c.cameraFailed = true
	c.cameraErr = err.Error()
	c.regions = nil
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) startDetection(video *capture.Video) {
	c.mu.Lock()
	if c.buffer.Complete() {
		c.mu.Unlock()
		return
	}
	if c.active != nil {
		c.active.Cancel()
	}
	sc := scanctx.New(c.baseCtx, c.logger)
	done := make(chan struct{})
	c.active = sc
	c.runDone = done
	c.mu.Unlock()

	sc.Logger.Debug("detection started", "strategy", c.strategy.Name())
	go func() {
		defer close(done)
		err := c.strategy.Run(sc, video, &sessionSink{c: c, sc: sc})
		if err == nil || sc.Cancelled() {
			return
		}
		sc.Logger.Warn("detection stopped", "error", err)
		if errors.Is(err, capture.ErrClosed) {
			c.mu.Lock()
			if c.active == sc {
				c.cameraFailed = true
				c.cameraErr = fmt.Sprintf("camera stream ended: %v", err)
			}
			c.mu.Unlock()
		}
		c.notify()
	}()
}

// stopDetection cancels the active session context and waits for the
// strategy to return.
func (c *Controller) stopDetection() {
	c.mu.Lock()
	sc, done := c.active, c.runDone
	c.active, c.runDone = nil, nil
	c.mu.Unlock()

	if sc == nil {
		return
	}
	sc.Cancel()
	select {
	case <-done:
	case <-time.After(c.cfg.StopTimeout):
		sc.Logger.Warn("detection did not stop in time")
	}
}

// handle classifies raw text and offers it to the buffer. A nil sc means
// manual entry, which is not tied to a detection run.
func (c *Controller) handle(sc *scanctx.Context, raw string) {
	c.mu.Lock()
	if sc != nil && (c.active != sc || sc.Cancelled()) {
		c.mu.Unlock()
		return
	}
	if c.buffer.Complete() {
		c.mu.Unlock()
		return
	}

	logger := c.logger
	if sc != nil {
		logger = sc.Logger
	}

	p := c.buffer.Progress()
	res := chunk.Parse(raw, chunk.State{TotalKnown: p.HasTotal(), SingleShotAccepted: c.singleShot})
	if res.Kind == chunk.KindRejected {
		c.mu.Unlock()
		logger.Debug("ignoring payload", "reason", res.Reason)
		return
	}

	out := c.buffer.Offer(res.Chunk)
	if out.TotalMismatch {
		logger.Warn("chunk total disagrees with session",
			"index", res.Chunk.Index, "declared_total", res.Chunk.Total, "session_total", p.Total)
	}
	if !out.Accepted {
		c.mu.Unlock()
		logger.Debug("chunk not stored", "index", res.Chunk.Index, "total", res.Chunk.Total)
		return
	}
	if res.Kind == chunk.KindSingleShot {
		c.singleShot = true
	}

	np := c.buffer.Progress()
	logger.Info("chunk accepted", "kind", res.Kind.String(), "index", res.Chunk.Index, "scanned", np.Scanned, "total", np.Total)
	if out.Complete {
		text, _ := c.buffer.Assembled()
		logger.Info("payload assembled", "parts", np.Total, "bytes", len(text))
		if c.active != nil {
			c.active.Cancel()
		}
	}
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) setRegions(sc *scanctx.Context, rs []image.Rectangle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != sc || sc.Cancelled() {
		return
	}
	c.regions = rs
}

func (c *Controller) notify() {
	c.mu.Lock()
	st := c.statusLocked()
	listeners := make([]func(Status), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(st)
	}
}

// sessionSink binds detector output to the session that produced it.
type sessionSink struct {
	c  *Controller
	sc *scanctx.Context
}

func (s *sessionSink) Detected(ev detect.Event) {
	s.c.handle(s.sc, ev.RawText)
}

func (s *sessionSink) Regions(rs []image.Rectangle) {
	s.c.setRegions(s.sc, rs)
}
