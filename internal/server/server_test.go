package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/qrstitch/internal/capture"
	"github.com/jackzampolin/qrstitch/internal/detect"
	"github.com/jackzampolin/qrstitch/internal/inbox"
	"github.com/jackzampolin/qrstitch/internal/scan"
	"github.com/jackzampolin/qrstitch/internal/server/endpoints"
	"github.com/jackzampolin/qrstitch/internal/submit"
	"github.com/jackzampolin/qrstitch/internal/testutil"
)

var rearCam = capture.Device{ID: "rear", Label: "Back Camera"}

func newInbox(t *testing.T, dir string) *inbox.Store {
	t.Helper()
	store, err := inbox.NewStore(filepath.Join(dir, "inbox.db"), filepath.Join(dir, "inbox"), testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("inbox.NewStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	starter := &testutil.StartServer{Cancel: cancel, Done: done}
	t.Cleanup(starter.Stop)

	if err := testutil.WaitForServer("http://"+srv.Addr(), 5*time.Second); err != nil {
		t.Fatal(err)
	}
	return srv
}

func postJSON(t *testing.T, url string, body, out any) int {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func scanStatus(t *testing.T, baseURL string) scan.Status {
	t.Helper()
	var st scan.Status
	code, err := testutil.GetJSON(baseURL+"/api/scan/status", &st)
	if err != nil || code != http.StatusOK {
		t.Fatalf("GET /api/scan/status = %d, %v", code, err)
	}
	return st
}

// TestServer_ScanAndSubmit scans a two-part payload from a fake camera and
// submits it to the server's own inbox.
func TestServer_ScanAndSubmit(t *testing.T) {
	cfg := testutil.NewServerConfig(t)
	baseURL := cfg.URL()

	platform := testutil.NewFakePlatform(rearCam)
	session := capture.NewSession(platform, capture.Config{AcquireAttempts: 1, Logger: cfg.Logger})
	controller, err := scan.New(scan.Config{
		Capture:   session,
		Strategy:  detect.NewFast(testutil.TextDetector{}, 200),
		Submitter: submit.NewClient(submit.Target{URL: baseURL, Path: "/api/submit"}, cfg.Logger),
		Logger:    cfg.Logger,
		AutoStart: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	srv := startServer(t, Config{
		Host:       cfg.Host,
		Port:       cfg.Port,
		Controller: controller,
		Inbox:      newInbox(t, cfg.HomeDir),
		Logger:     cfg.Logger,
	})

	t.Run("is_running", func(t *testing.T) {
		if !srv.IsRunning() {
			t.Error("IsRunning() = false, want true")
		}
		if err := srv.Start(context.Background()); err == nil {
			t.Error("second Start() should return error")
		}
	})

	t.Run("ready", func(t *testing.T) {
		var resp endpoints.HealthResponse
		code, err := testutil.GetJSON(baseURL+"/ready", &resp)
		if err != nil {
			t.Fatal(err)
		}
		if code != http.StatusOK || resp.Scanner != "ok" || resp.Inbox != "ok" {
			t.Errorf("ready = %d %+v", code, resp)
		}
	})

	testutil.WaitFor(t, 2*time.Second, func() bool { return platform.Stream() != nil })
	testutil.WaitFor(t, 2*time.Second, func() bool { return scanStatus(t, baseURL).Scanning })

	t.Run("submit_before_complete", func(t *testing.T) {
		var resp endpoints.ErrorResponse
		code := postJSON(t, baseURL+"/api/scan/submit", endpoints.SubmitScanRequest{FileExtension: ".txt"}, &resp)
		if code != http.StatusConflict {
			t.Errorf("status = %d, want %d (%s)", code, http.StatusConflict, resp.Error)
		}
	})

	platform.Stream().Push(testutil.NewTextImage("<<PART 2 of 2>>World!"))
	testutil.WaitFor(t, 2*time.Second, func() bool { return scanStatus(t, baseURL).Scanned == 1 })
	if st := scanStatus(t, baseURL); st.Message != "1 / 2 parts scanned (1 remaining)" {
		t.Errorf("partial message = %q", st.Message)
	}

	platform.Stream().Push(testutil.NewTextImage("<<PART 1 of 2>>Hello, "))
	testutil.WaitFor(t, 2*time.Second, func() bool { return scanStatus(t, baseURL).Complete })

	st := scanStatus(t, baseURL)
	if st.Text != "Hello, World!" || !st.CanSubmit {
		t.Fatalf("complete status = %+v", st)
	}

	var sub endpoints.SubmitScanResponse
	if code := postJSON(t, baseURL+"/api/scan/submit", endpoints.SubmitScanRequest{FileExtension: ".txt"}, &sub); code != http.StatusOK {
		t.Fatalf("submit status = %d", code)
	}
	if !strings.HasPrefix(sub.Message, "saved 13 bytes as ") || !strings.HasSuffix(sub.Message, ".txt") {
		t.Errorf("submit message = %q", sub.Message)
	}

	var list endpoints.InboxListResponse
	if _, err := testutil.GetJSON(baseURL+"/api/inbox", &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Entries) != 1 {
		t.Fatalf("inbox entries = %+v", list.Entries)
	}

	var entry inbox.Entry
	if _, err := testutil.GetJSON(baseURL+"/api/inbox/"+list.Entries[0].ID, &entry); err != nil {
		t.Fatal(err)
	}
	if entry.Text != "Hello, World!" {
		t.Errorf("stored text = %q", entry.Text)
	}
}

func TestServer_ShutdownStopsCamera(t *testing.T) {
	cfg := testutil.NewServerConfig(t)
	platform := testutil.NewFakePlatform(rearCam)
	controller, err := scan.New(scan.Config{
		Capture:   capture.NewSession(platform, capture.Config{AcquireAttempts: 1, Logger: cfg.Logger}),
		Strategy:  detect.NewFast(testutil.TextDetector{}, 200),
		Logger:    cfg.Logger,
		AutoStart: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	srv, err := New(Config{Host: cfg.Host, Port: cfg.Port, Controller: controller, Logger: cfg.Logger})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	if err := testutil.WaitForServer(cfg.URL(), 5*time.Second); err != nil {
		cancel()
		t.Fatal(err)
	}
	testutil.WaitFor(t, 2*time.Second, func() bool { return platform.Stream() != nil })

	cancel()
	if err := testutil.WaitForShutdown(done, 5*time.Second); err != nil {
		t.Fatalf("Start() returned %v", err)
	}
	if !platform.Stream().Stopped() {
		t.Error("camera still running after shutdown")
	}
	if srv.IsRunning() {
		t.Error("IsRunning() = true after shutdown")
	}
}

func TestServer_NoCamera(t *testing.T) {
	cfg := testutil.NewServerConfig(t)
	baseURL := cfg.URL()
	startServer(t, Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		Inbox:  newInbox(t, cfg.HomeDir),
		Logger: cfg.Logger,
	})

	t.Run("scan_routes_unavailable", func(t *testing.T) {
		for _, path := range []string{"/api/scan/status", "/api/camera/devices"} {
			var resp endpoints.ErrorResponse
			code, err := testutil.GetJSON(baseURL+path, &resp)
			if err != nil {
				t.Fatal(err)
			}
			if code != http.StatusServiceUnavailable || resp.Error != "scanner not running" {
				t.Errorf("GET %s = %d %q", path, code, resp.Error)
			}
		}
	})

	t.Run("ready_reports_disabled_scanner", func(t *testing.T) {
		var resp endpoints.HealthResponse
		code, err := testutil.GetJSON(baseURL+"/ready", &resp)
		if err != nil {
			t.Fatal(err)
		}
		if code != http.StatusOK || resp.Scanner != "disabled" {
			t.Errorf("ready = %d %+v", code, resp)
		}
	})

	t.Run("inbox_still_receives", func(t *testing.T) {
		msg, err := submit.NewClient(submit.Target{URL: baseURL, Path: "/api/submit"}, cfg.Logger).
			Submit(context.Background(), "payload", "md")
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasSuffix(msg, ".md") {
			t.Errorf("message = %q", msg)
		}
	})

	t.Run("static_page", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
			t.Errorf("GET / = %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
		}
	})
}

func TestServer_PortInUse(t *testing.T) {
	cfg := testutil.NewServerConfig(t)
	startServer(t, Config{Host: cfg.Host, Port: cfg.Port, Logger: cfg.Logger})

	second, err := New(Config{Host: cfg.Host, Port: cfg.Port, Logger: cfg.Logger})
	if err != nil {
		t.Fatal(err)
	}
	if err := second.Start(context.Background()); err == nil {
		t.Error("Start() on a busy port should fail")
	}
	if second.IsRunning() {
		t.Error("failed server reports running")
	}
}
