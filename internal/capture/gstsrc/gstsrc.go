// Package gstsrc delivers V4L2 camera frames through a GStreamer pipeline:
//
//	v4l2src → videoconvert → videoscale → videorate → capsfilter(RGB) → appsink
//
// It plugs into the v4l2 platform as its PipelineOpener.
package gstsrc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/jackzampolin/qrstitch/internal/capture"
	"github.com/jackzampolin/qrstitch/internal/capture/v4l2"
)

// startTimeout bounds how long Open waits for the pipeline to play.
const startTimeout = 5 * time.Second

// Opener returns a v4l2.PipelineOpener backed by GStreamer.
func Opener(logger *slog.Logger) v4l2.PipelineOpener {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, c capture.Constraints) (v4l2.FrameSource, error) {
		return Open(ctx, c, logger)
	}
}

// Source is a running pipeline.
type Source struct {
	device   string
	pipeline *gst.Pipeline
	frames   chan capture.Frame
	logger   *slog.Logger

	cancel       context.CancelFunc
	wg           sync.WaitGroup
	stopOnce     sync.Once
	framesClosed atomic.Bool
	mu           sync.Mutex // guards sends against close

	frameCount    uint64
	framesDropped uint64
}

// Open builds the pipeline for c.DeviceID and waits until it plays.
func Open(ctx context.Context, c capture.Constraints, logger *slog.Logger) (*Source, error) {
	pipeline, sink, err := createPipeline(c)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Source{
		device:   c.DeviceID,
		pipeline: pipeline,
		frames:   make(chan capture.Frame, 2),
		logger:   logger.With("device", c.DeviceID),
		cancel:   cancel,
	}

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return s.onNewSample(sink, c.Width, c.Height)
		},
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		cancel()
		_ = pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("failed to start pipeline: %w", err)
	}
	if err := waitPlaying(ctx, pipeline); err != nil {
		cancel()
		_ = pipeline.SetState(gst.StateNull)
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.monitor(runCtx)
	}()

	s.logger.Info("gstreamer pipeline playing",
		"resolution", fmt.Sprintf("%dx%d", c.Width, c.Height),
		"fps", c.FrameRate,
	)
	return s, nil
}

func createPipeline(c capture.Constraints) (*gst.Pipeline, *app.Sink, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create v4l2src: %w", err)
	}
	src.SetProperty("device", c.DeviceID)

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	scale, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create videoscale: %w", err)
	}
	rate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create videorate: %w", err)
	}
	rate.SetProperty("drop-only", true)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsString(c)))

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	if err := pipeline.AddMany(src, convert, scale, rate, capsfilter, sink.Element); err != nil {
		return nil, nil, fmt.Errorf("failed to add elements: %w", err)
	}
	if err := gst.ElementLinkMany(src, convert, scale, rate, capsfilter, sink.Element); err != nil {
		return nil, nil, fmt.Errorf("failed to link elements: %w", err)
	}
	return pipeline, sink, nil
}

func capsString(c capture.Constraints) string {
	fps := c.FrameRate
	if fps <= 0 {
		fps = capture.DefaultFrameRate
	}
	return fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/1", c.Width, c.Height, fps)
}

// waitPlaying drains the bus until the pipeline plays or reports an error.
func waitPlaying(ctx context.Context, pipeline *gst.Pipeline) error {
	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(startTimeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			return classify(gerr.Error(), gerr.DebugString())
		case gst.MessageStateChanged:
			if msg.Source() != pipeline.GetName() {
				continue
			}
			if _, newState := msg.ParseStateChanged(); newState == gst.StatePlaying {
				return nil
			}
		}
	}
	return fmt.Errorf("pipeline did not reach PLAYING within %v", startTimeout)
}

// classify maps GStreamer error text onto capture sentinels.
func classify(msg, debug string) error {
	text := strings.ToLower(msg + " " + debug)
	switch {
	case strings.Contains(text, "busy"):
		return fmt.Errorf("%s: %w", msg, capture.ErrDeviceBusy)
	case strings.Contains(text, "permission"):
		return fmt.Errorf("%s: %w", msg, capture.ErrPermissionDenied)
	case strings.Contains(text, "does not exist"), strings.Contains(text, "no such file"):
		return fmt.Errorf("%s: %w", msg, capture.ErrNoDevice)
	default:
		return fmt.Errorf("pipeline error: %s", msg)
	}
}

func (s *Source) onNewSample(sink *app.Sink, width, height int) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	img, err := capture.ImageFromRGB(data, width, height, len(data)/height)
	buffer.Unmap()
	if err != nil {
		s.logger.Warn("skipping malformed frame", "error", err)
		return gst.FlowOK
	}

	seq := atomic.AddUint64(&s.frameCount, 1)
	frame := capture.Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Image:     img,
		TraceID:   uuid.New().String(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.framesClosed.Load() {
		return gst.FlowEOS
	}
	select {
	case s.frames <- frame:
	default:
		atomic.AddUint64(&s.framesDropped, 1)
	}
	return gst.FlowOK
}

// monitor logs bus errors and end of stream until ctx ends. A camera that
// disappears surfaces here as an error; closing the frame channel tells the
// capture session the stream is gone.
func (s *Source) monitor(ctx context.Context) {
	bus := s.pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			s.logger.Info("camera stream ended", "frames", atomic.LoadUint64(&s.frameCount))
			s.closeFrames()
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			s.logger.Error("camera pipeline error", "error", gerr.Error(), "debug", gerr.DebugString())
			s.closeFrames()
			return
		}
	}
}

func (s *Source) closeFrames() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.framesClosed.CompareAndSwap(false, true) {
		close(s.frames)
	}
}

// Frames returns the frame channel. It closes on Stop or pipeline failure.
func (s *Source) Frames() <-chan capture.Frame {
	return s.frames
}

// Stop tears the pipeline down. Safe to call more than once.
func (s *Source) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.cancel()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			s.logger.Warn("pipeline monitor did not stop in time")
		}

		if setErr := s.pipeline.SetState(gst.StateNull); setErr != nil {
			err = fmt.Errorf("failed to set pipeline to NULL: %w", setErr)
		}
		s.closeFrames()

		s.logger.Info("gstreamer pipeline stopped",
			"frames_captured", atomic.LoadUint64(&s.frameCount),
			"frames_dropped", atomic.LoadUint64(&s.framesDropped),
		)
	})
	return err
}
