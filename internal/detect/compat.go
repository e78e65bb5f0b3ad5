package detect

import (
	"context"
	"errors"

	"github.com/jackzampolin/qrstitch/internal/scanctx"
)

// Compat runs a continuous StreamDecoder. It cannot report code positions.
type Compat struct {
	newDecoder DecoderFactory
}

// NewCompat creates a strategy that decodes with a fresh decoder per run.
func NewCompat(newDecoder DecoderFactory) *Compat {
	return &Compat{newDecoder: newDecoder}
}

func (c *Compat) Name() string          { return ModeCompat }
func (c *Compat) ProvidesRegions() bool { return false }

// Run decodes until the session is cancelled. The run's decoder is always
// reset on the way out.
func (c *Compat) Run(sc *scanctx.Context, src Source, sink Sink) error {
	decoder := c.newDecoder()
	defer decoder.Reset()

	err := decoder.DecodeFromStream(sc, src, func(text string) {
		if sc.Cancelled() {
			return
		}
		sink.Detected(Event{RawText: text})
	})
	if sc.Cancelled() || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
