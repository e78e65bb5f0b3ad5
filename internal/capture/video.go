package capture

import (
	"context"
	"sync"
	"sync/atomic"
)

// Video is the live video source handed to detection. It keeps only the
// latest frame: a slow reader sees the newest image, never a backlog.
type Video struct {
	mu     sync.Mutex
	frame  Frame
	have   bool
	closed bool
	wake   chan struct{}

	drops uint64
}

func newVideo() *Video {
	return &Video{wake: make(chan struct{})}
}

// publish overwrites the slot and wakes any waiting reader.
func (v *Video) publish(f Frame) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	if v.have {
		atomic.AddUint64(&v.drops, 1)
	}
	v.frame = f
	v.have = true
	close(v.wake)
	v.wake = make(chan struct{})
}

// Current returns the latest frame without blocking.
func (v *Video) Current() (Frame, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.frame, v.have && !v.closed
}

// Next blocks until a frame newer than after is available.
func (v *Video) Next(ctx context.Context, after uint64) (Frame, error) {
	for {
		v.mu.Lock()
		if v.closed {
			v.mu.Unlock()
			return Frame{}, ErrClosed
		}
		if v.have && v.frame.Seq > after {
			f := v.frame
			v.mu.Unlock()
			return f, nil
		}
		wake := v.wake
		v.mu.Unlock()

		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-wake:
		}
	}
}

// Closed reports whether the stream behind the video has stopped.
func (v *Video) Closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// Overwritten returns how many frames were replaced by a newer one.
func (v *Video) Overwritten() uint64 {
	return atomic.LoadUint64(&v.drops)
}

func (v *Video) close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	close(v.wake)
}

// pump copies frames from the stream into the video until the stream
// channel closes or done fires.
func (v *Video) pump(frames <-chan Frame, done <-chan struct{}) {
	var seq uint64
	for {
		select {
		case <-done:
			return
		case f, ok := <-frames:
			if !ok {
				v.close()
				return
			}
			seq++
			f.Seq = seq
			v.publish(f)
		}
	}
}
