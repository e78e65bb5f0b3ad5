// Package detect turns live video into decoded QR texts.
//
// Two strategies exist. Fast polls the latest frame at display refresh
// rate with a detector that reports every code in view along with its
// bounding box. Compat hands the video to a continuous single-code decoder
// and only learns texts, not positions. The choice is made once per
// session by Select.
package detect

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/jackzampolin/qrstitch/internal/capture"
	"github.com/jackzampolin/qrstitch/internal/scanctx"
)

// Strategy modes accepted by Select.
const (
	ModeAuto   = "auto"
	ModeFast   = "fast"
	ModeCompat = "compat"
)

// Event is one decoded code.
type Event struct {
	RawText string
	// Regions holds every code box seen in the same frame. Empty for
	// strategies that cannot locate codes.
	Regions []image.Rectangle
}

// Sink receives detection output. Calls arrive sequentially from a single
// goroutine per session.
type Sink interface {
	Detected(Event)
	// Regions is called once per successful poll, even with no codes, so
	// the overlay can clear stale boxes.
	Regions([]image.Rectangle)
}

// Source is the live video. capture.Video satisfies it.
type Source interface {
	Current() (capture.Frame, bool)
	Next(ctx context.Context, after uint64) (capture.Frame, error)
	Closed() bool
}

var _ Source = (*capture.Video)(nil)

// Detection is one code located in a frame.
type Detection struct {
	Text   string
	Region image.Rectangle
}

// MultiDetector finds every code in a single image. A frame without codes
// returns an empty slice, not an error.
type MultiDetector interface {
	DetectMultiple(ctx context.Context, img image.Image) ([]Detection, error)
}

// StreamDecoder decodes continuously from a source and calls cb for each
// code it reads. It blocks until ctx ends or the source closes. Reset stops
// any decode in progress and must be safe to call at any time.
type StreamDecoder interface {
	DecodeFromStream(ctx context.Context, src Source, cb func(text string)) error
	Reset()
}

// DecoderFactory returns a fresh StreamDecoder. Compat takes a new decoder
// for every run, so one run's teardown never touches another run's decode.
type DecoderFactory func() StreamDecoder

// Strategy runs detection for one session until sc is cancelled.
type Strategy interface {
	Name() string
	// ProvidesRegions reports whether events carry code positions. When
	// false the UI draws a fixed reticle instead.
	ProvidesRegions() bool
	Run(sc *scanctx.Context, src Source, sink Sink) error
}

// Select picks the strategy for a session. A nil native detector forces
// the compat path.
func Select(mode string, native MultiDetector, compat DecoderFactory, refreshHz int, logger *slog.Logger) (Strategy, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch mode {
	case "", ModeAuto:
		if native != nil {
			return NewFast(native, refreshHz), nil
		}
		if compat == nil {
			return nil, fmt.Errorf("no detector available")
		}
		return NewCompat(compat), nil
	case ModeFast:
		if native != nil {
			return NewFast(native, refreshHz), nil
		}
		logger.Warn("fast detection requested but no native detector, using compat")
		if compat == nil {
			return nil, fmt.Errorf("no detector available")
		}
		return NewCompat(compat), nil
	case ModeCompat:
		if compat == nil {
			return nil, fmt.Errorf("compat detection requested but no stream decoder configured")
		}
		return NewCompat(compat), nil
	default:
		return nil, fmt.Errorf("unknown detection strategy %q", mode)
	}
}
