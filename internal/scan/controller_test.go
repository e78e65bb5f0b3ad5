package scan

import (
	"context"
	"errors"
	"image"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackzampolin/qrstitch/internal/capture"
	"github.com/jackzampolin/qrstitch/internal/detect"
	"github.com/jackzampolin/qrstitch/internal/reassembly"
	"github.com/jackzampolin/qrstitch/internal/scanctx"
	"github.com/jackzampolin/qrstitch/internal/testutil"
)

var (
	frontCam = capture.Device{ID: "front", Label: "Front Camera"}
	rearCam  = capture.Device{ID: "rear", Label: "Back Camera"}
)

type fakeSubmitter struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (f *fakeSubmitter) Submit(ctx context.Context, text, ext string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ext+":"+text)
	if f.err != nil {
		return "", f.err
	}
	return "saved " + ext, nil
}

type statusLog struct {
	mu     sync.Mutex
	states []State
}

func (l *statusLog) record(st Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.states); n == 0 || l.states[n-1] != st.State {
		l.states = append(l.states, st.State)
	}
}

func (l *statusLog) States() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

func newController(t *testing.T, p *testutil.FakePlatform, sub Submitter) *Controller {
	t.Helper()
	session := capture.NewSession(p, capture.Config{
		AcquireAttempts: 1,
		AcquireDelay:    time.Millisecond,
		Logger:          testutil.DiscardLogger(),
	})
	c, err := New(Config{
		Capture:   session,
		Strategy:  detect.NewFast(testutil.TextDetector{}, 200),
		Submitter: sub,
		Logger:    testutil.DiscardLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Stop() })
	return c
}

// pushAndSettle pushes img and waits until the live video shows it.
func pushAndSettle(t *testing.T, c *Controller, p *testutil.FakePlatform, img *testutil.TextImage) {
	t.Helper()
	p.Stream().Push(img)
	testutil.WaitFor(t, time.Second, func() bool {
		f, ok := c.capture.Video().Current()
		return ok && f.Image == image.Image(img)
	})
}

func TestStatusText(t *testing.T) {
	tests := []struct {
		name     string
		scanned  int
		total    int
		complete bool
		failed   bool
		want     string
	}{
		{name: "ready", want: "ready to scan..."},
		{name: "partial", scanned: 2, total: 5, want: "2 / 5 parts scanned (3 remaining)"},
		{name: "complete", scanned: 5, total: 5, complete: true, want: "All parts scanned and assembled!"},
		{name: "camera failed", want: MsgCameraFailed, failed: true},
		{name: "complete beats camera failure", scanned: 1, total: 1, complete: true, failed: true, want: MsgComplete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := reassembly.Progress{Scanned: tt.scanned, Total: tt.total}
			if got := StatusText(p, tt.complete, tt.failed); got != tt.want {
				t.Errorf("StatusText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestController_ScansHelloWorld(t *testing.T) {
	p := testutil.NewFakePlatform(frontCam, rearCam)
	c := newController(t, p, nil)
	log := &statusLog{}
	c.OnStatus(log.record)

	if st := c.Status(); st.State != StateReady || st.Message != MsgReady || st.Total != nil {
		t.Fatalf("initial status = %+v", st)
	}
	if err := c.Start(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	if st := c.Status(); st.Device == nil || st.Device.ID != rearCam.ID || !st.Scanning || st.Overlay != OverlayRegions {
		t.Fatalf("status after start = %+v", st)
	}

	stream := p.Stream()
	stream.Push(testutil.NewTextImage("<<PART 2 of 2>>World!"))
	testutil.WaitFor(t, time.Second, func() bool { return c.Status().State == StatePartial })

	st := c.Status()
	if st.Message != "1 / 2 parts scanned (1 remaining)" || *st.Total != 2 || len(st.Regions) != 1 {
		t.Errorf("partial status = %+v", st)
	}

	stream.Push(testutil.NewTextImage("<<PART 1 of 2>>Hello, ", "<<PART 2 of 2>>World!"))
	testutil.WaitFor(t, time.Second, func() bool { return c.Status().Complete })

	st = c.Status()
	if st.Text != "Hello, World!" || st.Message != MsgComplete {
		t.Errorf("complete status = %+v", st)
	}
	testutil.WaitFor(t, time.Second, func() bool { return !c.Status().Scanning })
	if stream.Stopped() {
		t.Error("camera should keep running after completion")
	}

	want := []State{StateReady, StatePartial, StateComplete}
	got := log.States()
	if len(got) != len(want) {
		t.Fatalf("state transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestController_ManualEntry(t *testing.T) {
	c := newController(t, testutil.NewFakePlatform(), nil)

	c.ManualEntry("<<PART 4 of 5>>d")
	st := c.ManualEntry("<<PART 1 of 5>>a")
	if st.Scanned != 2 || *st.Total != 5 || st.Message != "2 / 5 parts scanned (3 remaining)" {
		t.Errorf("status = %+v", st)
	}

	st = c.ManualEntry("<<PART 1 of 5>>again")
	if st.Scanned != 2 {
		t.Errorf("duplicate changed progress: %+v", st)
	}
	st = c.ManualEntry("bare text")
	if st.Scanned != 2 {
		t.Errorf("bare text after headered chunk was accepted: %+v", st)
	}
	st = c.ManualEntry("<<PART 9 of 5>>x")
	if st.Scanned != 2 {
		t.Errorf("invalid header accepted: %+v", st)
	}
}

func TestController_SingleShot(t *testing.T) {
	c := newController(t, testutil.NewFakePlatform(), nil)

	st := c.ManualEntry("just one code")
	if !st.Complete || st.Text != "just one code" || *st.Total != 1 {
		t.Fatalf("status = %+v", st)
	}
	st = c.ManualEntry("another code")
	if st.Text != "just one code" {
		t.Errorf("second bare string replaced payload: %+v", st)
	}
}

func TestController_CameraFailure(t *testing.T) {
	p := testutil.NewFakePlatform(rearCam)
	p.FailOpen(capture.ErrPermissionDenied)
	c := newController(t, p, nil)

	err := c.Start(context.Background(), "")
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("Start() = %v", err)
	}
	st := c.Status()
	if st.State != StateCameraFailed || st.Message != MsgCameraFailed || st.CameraError == "" || st.Scanning {
		t.Errorf("status = %+v", st)
	}

	if err := c.Start(context.Background(), ""); err != nil {
		t.Fatalf("retry Start() = %v", err)
	}
	if st := c.Status(); st.State != StateReady || st.CameraError != "" {
		t.Errorf("status after retry = %+v", st)
	}
}

func TestController_ResetRestartsDetection(t *testing.T) {
	p := testutil.NewFakePlatform(rearCam)
	c := newController(t, p, nil)
	if err := c.Start(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	p.Stream().Push(testutil.NewTextImage("<<PART 1 of 3>>a"))
	testutil.WaitFor(t, time.Second, func() bool { return c.Status().Scanned == 1 })
	pushAndSettle(t, c, p, testutil.NewTextImage())

	c.Reset()
	st := c.Status()
	if st.State != StateReady || st.Scanned != 0 || st.Total != nil || !st.Scanning {
		t.Fatalf("status after reset = %+v", st)
	}
	if p.Stream().Stopped() || len(p.Opened()) != 1 {
		t.Error("reset must not reacquire the camera")
	}

	p.Stream().Push(testutil.NewTextImage("<<PART 1 of 2>>x"))
	testutil.WaitFor(t, time.Second, func() bool { return c.Status().Scanned == 1 })
	if got := *c.Status().Total; got != 2 {
		t.Errorf("new session total = %d", got)
	}
}

func TestController_ResetAfterCompletionScansAgain(t *testing.T) {
	p := testutil.NewFakePlatform(rearCam)
	c := newController(t, p, nil)
	if err := c.Start(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	p.Stream().Push(testutil.NewTextImage("done"))
	testutil.WaitFor(t, time.Second, func() bool { return c.Status().Complete })
	testutil.WaitFor(t, time.Second, func() bool { return !c.Status().Scanning })
	pushAndSettle(t, c, p, testutil.NewTextImage())

	c.Reset()
	if !c.Status().Scanning {
		t.Error("detection should resume after reset")
	}
	p.Stream().Push(testutil.NewTextImage("again"))
	testutil.WaitFor(t, time.Second, func() bool { return c.Status().Text == "again" })
}

func TestController_StaleSessionEventsIgnored(t *testing.T) {
	p := testutil.NewFakePlatform(rearCam)
	c := newController(t, p, nil)
	if err := c.Start(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	stale := scanctx.New(context.Background(), testutil.DiscardLogger())
	stale.Cancel()
	sink := &sessionSink{c: c, sc: stale}
	sink.Detected(detect.Event{RawText: "<<PART 1 of 2>>late"})
	sink.Regions([]image.Rectangle{image.Rect(0, 0, 5, 5)})

	orphan := scanctx.New(context.Background(), testutil.DiscardLogger())
	(&sessionSink{c: c, sc: orphan}).Detected(detect.Event{RawText: "<<PART 1 of 2>>orphan"})

	if st := c.Status(); st.Scanned != 0 || len(st.Regions) != 0 {
		t.Errorf("stale events mutated state: %+v", st)
	}
}

func TestController_Submit(t *testing.T) {
	sub := &fakeSubmitter{}
	c := newController(t, testutil.NewFakePlatform(), sub)
	ctx := context.Background()

	if _, err := c.Submit(ctx, "txt"); !errors.Is(err, ErrNotAssembled) {
		t.Errorf("Submit before completion = %v", err)
	}
	if c.Status().CanSubmit {
		t.Error("CanSubmit before completion")
	}

	c.ManualEntry("<<PART 1 of 1>>payload")
	if !c.Status().CanSubmit {
		t.Error("CanSubmit after completion")
	}

	if _, err := c.Submit(ctx, "  "); !errors.Is(err, ErrExtensionRequired) {
		t.Errorf("Submit without extension = %v", err)
	}

	msg, err := c.Submit(ctx, " md ")
	if err != nil || msg != "saved md" {
		t.Errorf("Submit() = %q, %v", msg, err)
	}
	if sub.calls[0] != "md:payload" {
		t.Errorf("submitted %q", sub.calls[0])
	}

	sub.err = errors.New("connection refused")
	msg, err = c.Submit(ctx, "md")
	if err == nil || msg != "Error: connection refused" {
		t.Errorf("failed Submit() = %q, %v", msg, err)
	}
	st := c.Status()
	if st.Submission != "Error: connection refused" || st.Text != "payload" || !st.Complete {
		t.Errorf("failure must keep state: %+v", st)
	}
}

func TestController_SubmitWithoutTarget(t *testing.T) {
	c := newController(t, testutil.NewFakePlatform(), nil)
	c.ManualEntry("x")
	if _, err := c.Submit(context.Background(), "txt"); !errors.Is(err, ErrNoSubmitter) {
		t.Errorf("Submit() = %v", err)
	}
}

func TestController_TorchAndZoom(t *testing.T) {
	p := testutil.NewFakePlatform(rearCam)
	p.SetCapabilities(capture.TrackCapabilities{Torch: true, Zoom: &capture.Range{Min: 1, Max: 3}})
	c := newController(t, p, nil)
	ctx := context.Background()

	c.Torch(ctx, true)
	if c.Status().Capabilities.TorchOn {
		t.Error("torch without camera should be ignored")
	}

	if err := c.Start(ctx, ""); err != nil {
		t.Fatal(err)
	}
	c.Torch(ctx, true)
	c.Zoom(ctx, 2.5)
	caps := c.Status().Capabilities
	if !caps.TorchOn || caps.ZoomCurrent != 2.5 {
		t.Errorf("capabilities = %+v", caps)
	}
}

func TestController_HotPlugSwitchesCamera(t *testing.T) {
	p := testutil.NewFakePlatform(frontCam, rearCam)
	session := capture.NewSession(p, capture.Config{AcquireAttempts: 1, Logger: testutil.DiscardLogger()})
	c, err := New(Config{
		Capture:   session,
		Strategy:  detect.NewFast(testutil.TextDetector{}, 200),
		Logger:    testutil.DiscardLogger(),
		AutoStart: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	testutil.WaitFor(t, time.Second, func() bool {
		st := c.Status()
		return st.Device != nil && st.Device.ID == rearCam.ID
	})

	p.SetDevices(frontCam)
	testutil.WaitFor(t, time.Second, func() bool {
		st := c.Status()
		return st.Device != nil && st.Device.ID == frontCam.ID && st.Scanning
	})

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	for _, s := range p.Streams() {
		if !s.Stopped() {
			t.Error("all streams should be stopped after Run returns")
		}
	}
}

// countingStrategy tracks how many detection runs are live.
type countingStrategy struct {
	detect.Strategy
	running atomic.Int32
}

func (s *countingStrategy) Run(sc *scanctx.Context, src detect.Source, sink detect.Sink) error {
	s.running.Add(1)
	defer s.running.Add(-1)
	return s.Strategy.Run(sc, src, sink)
}

func TestController_ConcurrentOperationsKeepOneSession(t *testing.T) {
	p := testutil.NewFakePlatform(rearCam, frontCam)
	strategy := &countingStrategy{Strategy: detect.NewFast(testutil.TextDetector{}, 200)}
	c, err := New(Config{
		Capture: capture.NewSession(p, capture.Config{
			AcquireAttempts: 1,
			AcquireDelay:    time.Millisecond,
			Logger:          testutil.DiscardLogger(),
		}),
		Strategy: strategy,
		Logger:   testutil.DiscardLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Stop() })

	ctx := context.Background()
	if err := c.Start(ctx, rearCam.ID); err != nil {
		t.Fatal(err)
	}
	testutil.WaitFor(t, time.Second, func() bool { return strategy.running.Load() == 1 })
	baseline := runtime.NumGoroutine()

	devices := []string{rearCam.ID, frontCam.ID}
	var wg sync.WaitGroup
	for round := 0; round < 100; round++ {
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				switch i {
				case 0:
					if err := c.SelectDevice(ctx, devices[round%2]); err != nil {
						t.Errorf("SelectDevice() = %v", err)
					}
				case 1:
					c.ManualEntry("<<PART 1 of 3>>a")
				case 2:
					c.Status()
				default:
					c.Reset()
				}
			}(i)
		}
		wg.Wait()
	}

	testutil.WaitFor(t, 2*time.Second, func() bool { return strategy.running.Load() == 1 })
	time.Sleep(50 * time.Millisecond)
	if n := strategy.running.Load(); n != 1 {
		t.Fatalf("%d detection runs live, want 1", n)
	}
	if !c.Status().Scanning {
		t.Error("surviving session is not scanning")
	}
	testutil.WaitFor(t, 2*time.Second, func() bool { return runtime.NumGoroutine() <= baseline })

	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	if n := strategy.running.Load(); n != 0 {
		t.Errorf("%d detection runs live after Stop", n)
	}
}

func TestController_StartDetectionCancelsPrevious(t *testing.T) {
	p := testutil.NewFakePlatform(rearCam)
	c := newController(t, p, nil)
	if err := c.Start(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	c.mu.Lock()
	first := c.active
	c.mu.Unlock()

	c.startDetection(c.capture.Video())

	c.mu.Lock()
	second := c.active
	c.mu.Unlock()
	if first == second || !first.Cancelled() {
		t.Errorf("replaced session still live: same=%v cancelled=%v", first == second, first.Cancelled())
	}
}
