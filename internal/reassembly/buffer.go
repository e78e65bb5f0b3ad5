// Package reassembly collects chunks of a multi-part payload until every
// index is present and then joins them in index order.
//
// A Buffer is not safe for concurrent use; the scan controller serializes
// all access.
package reassembly

import (
	"strings"

	"github.com/jackzampolin/qrstitch/internal/chunk"
)

// Outcome reports what an Offer did.
type Outcome struct {
	// Accepted is true when the chunk was stored.
	Accepted bool
	// Complete is true when this offer completed the payload.
	Complete bool
	// TotalMismatch is true when the chunk declared a different total than
	// the first chunk of the session.
	TotalMismatch bool
}

// Progress is a snapshot of how far reassembly has come.
type Progress struct {
	Scanned int
	// Total is 0 until the first chunk is accepted.
	Total int
}

// HasTotal reports whether the expected count is known.
func (p Progress) HasTotal() bool { return p.Total > 0 }

// Remaining returns how many parts are still missing.
func (p Progress) Remaining() int {
	if !p.HasTotal() {
		return 0
	}
	return p.Total - p.Scanned
}

// Buffer holds the chunks seen so far.
type Buffer struct {
	chunks    map[int]string
	total     int
	assembled string
	complete  bool
}

// New returns an empty buffer.
func New() *Buffer {
	return &Buffer{chunks: make(map[int]string)}
}

// Offer stores c if it is new and in range.
//
// The first accepted chunk fixes the total. Later chunks that disagree are
// still merged when their index fits the fixed total, and the mismatch is
// reported so the caller can log it. Once complete, the buffer is frozen.
func (b *Buffer) Offer(c chunk.Chunk) Outcome {
	if b.complete {
		return Outcome{}
	}

	var out Outcome
	if b.total == 0 {
		if c.Total < 1 {
			return out
		}
		b.total = c.Total
	} else if c.Total != b.total {
		out.TotalMismatch = true
	}

	if c.Index < 1 || c.Index > b.total {
		return out
	}
	if _, seen := b.chunks[c.Index]; seen {
		return out
	}

	b.chunks[c.Index] = c.Content
	out.Accepted = true

	if len(b.chunks) == b.total {
		var sb strings.Builder
		for i := 1; i <= b.total; i++ {
			sb.WriteString(b.chunks[i])
		}
		b.assembled = sb.String()
		b.complete = true
		out.Complete = true
	}
	return out
}

// Progress returns the current counts.
func (b *Buffer) Progress() Progress {
	return Progress{Scanned: len(b.chunks), Total: b.total}
}

// Assembled returns the joined payload once complete.
func (b *Buffer) Assembled() (string, bool) {
	return b.assembled, b.complete
}

// Complete reports whether every part has been seen.
func (b *Buffer) Complete() bool {
	return b.complete
}

// Reset empties the buffer.
func (b *Buffer) Reset() {
	b.chunks = make(map[int]string)
	b.total = 0
	b.assembled = ""
	b.complete = false
}
