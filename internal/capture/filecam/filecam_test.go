package filecam

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackzampolin/qrstitch/internal/capture"
)

func writePNG(t *testing.T, path string, shade uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func setupRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, dir := range []string{"front", "rear-camera", "denied", "busy", "empty"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	writePNG(t, filepath.Join(root, "front", "a.png"), 10)
	writePNG(t, filepath.Join(root, "rear-camera", "01.png"), 20)
	writePNG(t, filepath.Join(root, "rear-camera", "02.png"), 30)
	os.WriteFile(filepath.Join(root, "rear-camera", "notes.txt"), []byte("ignored"), 0o644)
	os.WriteFile(filepath.Join(root, "rear-camera", CapabilitiesFile), []byte(
		"torch: true\nzoom: {min: 1, max: 4, step: 0.5}\nfocus_modes: [manual, continuous]\n"), 0o644)
	os.WriteFile(filepath.Join(root, "denied", CapabilitiesFile), []byte("denied: true\n"), 0o644)
	os.WriteFile(filepath.Join(root, "busy", CapabilitiesFile), []byte("busy: true\n"), 0o644)
	os.WriteFile(filepath.Join(root, ".hidden"), nil, 0o644)
	return root
}

func TestPlatform_Devices(t *testing.T) {
	p := New(setupRoot(t), nil)
	devices, err := p.Devices(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, d := range devices {
		ids = append(ids, d.ID)
	}
	want := []string{"busy", "denied", "empty", "front", "rear-camera"}
	if len(ids) != len(want) {
		t.Fatalf("Devices() = %v", ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("device %d = %s, want %s", i, ids[i], want[i])
		}
	}
}

func TestPlatform_OpenErrors(t *testing.T) {
	p := New(setupRoot(t), nil)
	tests := []struct {
		device string
		want   error
	}{
		{"missing", capture.ErrNoDevice},
		{"../front", capture.ErrNoDevice},
		{"empty", capture.ErrNoDevice},
		{"denied", capture.ErrPermissionDenied},
		{"busy", capture.ErrDeviceBusy},
	}
	for _, tt := range tests {
		t.Run(tt.device, func(t *testing.T) {
			_, err := p.Open(context.Background(), capture.Constraints{DeviceID: tt.device})
			if !errors.Is(err, tt.want) {
				t.Errorf("Open(%s) err = %v, want %v", tt.device, err, tt.want)
			}
		})
	}
}

func TestPlatform_StreamReplaysImages(t *testing.T) {
	p := New(setupRoot(t), nil)
	s, err := p.Open(context.Background(), capture.Constraints{DeviceID: "rear-camera", FrameRate: 20})
	if err != nil {
		t.Fatal(err)
	}

	var shades []uint8
	timeout := time.After(2 * time.Second)
	for len(shades) < 3 {
		select {
		case f := <-s.Frames():
			r, _, _, _ := f.Image.At(0, 0).RGBA()
			shades = append(shades, uint8(r>>8))
		case <-timeout:
			t.Fatalf("only got %d frames", len(shades))
		}
	}
	if shades[0] != 20 || shades[1] != 30 || shades[2] != 20 {
		t.Errorf("frames out of order: %v", shades)
	}

	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	for range s.Frames() {
	}
}

func TestTrack(t *testing.T) {
	p := New(setupRoot(t), nil)
	ctx := context.Background()

	s, err := p.Open(ctx, capture.Constraints{DeviceID: "rear-camera"})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	tr := s.Track()
	caps := tr.Capabilities()
	if !caps.Torch || caps.Zoom == nil || caps.Zoom.Max != 4 {
		t.Fatalf("Capabilities() = %+v", caps)
	}
	zoom := 9.0
	on := true
	if err := tr.ApplyConstraints(ctx, capture.TrackConstraints{Torch: &on, Zoom: &zoom, FocusMode: capture.FocusContinuous}); err != nil {
		t.Fatal(err)
	}
	set := tr.Settings()
	if !set.Torch || set.Zoom != 4 || set.FocusMode != capture.FocusContinuous {
		t.Errorf("Settings() = %+v", set)
	}

	plain, err := p.Open(ctx, capture.Constraints{DeviceID: "front"})
	if err != nil {
		t.Fatal(err)
	}
	defer plain.Stop()
	if err := plain.Track().ApplyConstraints(ctx, capture.TrackConstraints{Torch: &on}); !errors.Is(err, capture.ErrUnsupported) {
		t.Errorf("torch on plain camera err = %v", err)
	}
}

func TestPlatform_Changes(t *testing.T) {
	root := setupRoot(t)
	p := New(root, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := p.Changes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, "usb"), 0o755); err != nil {
		t.Fatal(err)
	}
	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("no change signalled")
	}
}

func TestSessionOverFilecam(t *testing.T) {
	p := New(setupRoot(t), nil)
	s := capture.NewSession(p, capture.Config{FrameRate: 50, AcquireAttempts: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	video, err := s.Start(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	if got := s.Device().ID; got != "rear-camera" {
		t.Errorf("heuristic picked %s", got)
	}
	if !s.Capabilities().ContinuousFocus {
		t.Error("continuous focus should be reported")
	}
	if _, err := video.Next(ctx, 0); err != nil {
		t.Fatalf("Next() error: %v", err)
	}
}
