// Package chunk implements the optical payload format used to carry a long
// text across several QR codes.
//
// A headered payload looks like:
//
//	<<PART 2 of 5>>...content...
//
// Markers are literal and case-sensitive. Text without a header is accepted
// once per session as a single-shot payload (part 1 of 1).
package chunk

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// HeaderPrefix opens every headered payload.
const HeaderPrefix = "<<PART "

var headerPattern = regexp.MustCompile(`^<<PART (\d+) of (\d+)>>([\s\S]*)$`)

// Chunk is one fragment of a multi-part payload.
type Chunk struct {
	Index   int
	Total   int
	Content string
}

// Kind classifies the outcome of Parse.
type Kind int

const (
	// KindRejected means the text must be ignored.
	KindRejected Kind = iota
	// KindChunk means the text carried a valid header.
	KindChunk
	// KindSingleShot means a bare string was accepted as part 1 of 1.
	KindSingleShot
)

func (k Kind) String() string {
	switch k {
	case KindChunk:
		return "chunk"
	case KindSingleShot:
		return "single_shot"
	default:
		return "rejected"
	}
}

// State is the slice of session state the codec needs to classify bare text.
type State struct {
	// TotalKnown is true once any headered chunk has fixed the total.
	TotalKnown bool
	// SingleShotAccepted is true once a bare string has been taken as 1/1.
	SingleShotAccepted bool
}

// Result is what Parse decided about a raw string.
type Result struct {
	Kind   Kind
	Chunk  Chunk
	Reason string
}

// Parse classifies a raw decoded string.
func Parse(raw string, st State) Result {
	if m := headerPattern.FindStringSubmatch(raw); m != nil {
		index, errIdx := strconv.Atoi(m[1])
		total, errTot := strconv.Atoi(m[2])
		switch {
		case errIdx != nil || errTot != nil:
			return Result{Kind: KindRejected, Reason: "header number out of range"}
		case total < 1:
			return Result{Kind: KindRejected, Reason: "total must be positive"}
		case index < 1 || index > total:
			return Result{Kind: KindRejected, Reason: fmt.Sprintf("index %d outside 1..%d", index, total)}
		}
		return Result{
			Kind:  KindChunk,
			Chunk: Chunk{Index: index, Total: total, Content: trimPayload(m[3])},
		}
	}

	if strings.HasPrefix(raw, HeaderPrefix) {
		return Result{Kind: KindRejected, Reason: "malformed header"}
	}

	if st.TotalKnown || st.SingleShotAccepted {
		return Result{Kind: KindRejected, Reason: "bare text after session started"}
	}
	return Result{Kind: KindSingleShot, Chunk: Chunk{Index: 1, Total: 1, Content: raw}}
}

// trimPayload strips the line breaks QR encoders tend to append. Unlike a
// full whitespace trim, spaces and tabs are content: "<<PART 1 of 2>>Hello, "
// followed by "<<PART 2 of 2>>World!" must assemble to "Hello, World!".
func trimPayload(s string) string {
	return strings.Trim(s, "\r\n")
}

// Format renders a chunk as an optical payload.
func Format(c Chunk) string {
	return fmt.Sprintf("<<PART %d of %d>>%s", c.Index, c.Total, c.Content)
}
