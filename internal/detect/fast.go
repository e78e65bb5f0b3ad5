package detect

import (
	"image"
	"time"

	"github.com/jackzampolin/qrstitch/internal/capture"
	"github.com/jackzampolin/qrstitch/internal/scanctx"
)

// DefaultRefreshHz matches a typical display refresh.
const DefaultRefreshHz = 30

// Fast polls the latest frame with a MultiDetector.
type Fast struct {
	detector MultiDetector
	interval time.Duration
}

// NewFast creates a fast strategy polling at refreshHz.
func NewFast(detector MultiDetector, refreshHz int) *Fast {
	if refreshHz <= 0 {
		refreshHz = DefaultRefreshHz
	}
	return &Fast{detector: detector, interval: time.Second / time.Duration(refreshHz)}
}

func (f *Fast) Name() string          { return ModeFast }
func (f *Fast) ProvidesRegions() bool { return true }

// Run polls until the session is cancelled or the source closes.
func (f *Fast) Run(sc *scanctx.Context, src Source, sink Sink) error {
	task := &pollTask{sc: sc, src: src, sink: sink, detector: f.detector}

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-sc.Done():
			return nil
		case <-ticker.C:
			if !task.step() {
				if src.Closed() && !sc.Cancelled() {
					return capture.ErrClosed
				}
				return nil
			}
		}
	}
}

// pollTask is one reschedulable detection poll. step returns false when the
// task must not be rescheduled.
type pollTask struct {
	sc       *scanctx.Context
	src      Source
	sink     Sink
	detector MultiDetector
	lastSeq  uint64
}

func (t *pollTask) step() bool {
	if t.sc.Cancelled() || t.src.Closed() {
		return false
	}
	frame, ok := t.src.Current()
	if !ok || frame.Seq == t.lastSeq {
		return true
	}
	t.lastSeq = frame.Seq

	dets, err := t.detector.DetectMultiple(t.sc, frame.Image)
	if t.sc.Cancelled() {
		return false
	}
	if err != nil {
		t.sc.Logger.Debug("detector failed on frame", "seq", frame.Seq, "error", err)
		return true
	}

	regions := make([]image.Rectangle, len(dets))
	for i, d := range dets {
		regions[i] = d.Region
	}
	t.sink.Regions(regions)

	for _, d := range dets {
		if t.sc.Cancelled() {
			return false
		}
		t.sink.Detected(Event{RawText: d.Text, Regions: regions})
	}
	return true
}
