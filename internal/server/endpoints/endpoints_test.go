package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackzampolin/qrstitch/internal/api"
	"github.com/jackzampolin/qrstitch/internal/capture"
	"github.com/jackzampolin/qrstitch/internal/config"
	"github.com/jackzampolin/qrstitch/internal/detect"
	"github.com/jackzampolin/qrstitch/internal/inbox"
	"github.com/jackzampolin/qrstitch/internal/scan"
	"github.com/jackzampolin/qrstitch/internal/svcctx"
	"github.com/jackzampolin/qrstitch/internal/testutil"
)

type stubSubmitter struct {
	msg string
	err error

	gotText, gotExt string
}

func (s *stubSubmitter) Submit(ctx context.Context, text, ext string) (string, error) {
	s.gotText, s.gotExt = text, ext
	return s.msg, s.err
}

func newController(t *testing.T, sub scan.Submitter) *scan.Controller {
	t.Helper()
	logger := testutil.DiscardLogger()
	platform := testutil.NewFakePlatform(capture.Device{ID: "rear", Label: "Back Camera"})
	c, err := scan.New(scan.Config{
		Capture:   capture.NewSession(platform, capture.Config{AcquireAttempts: 1, Logger: logger}),
		Strategy:  detect.NewFast(testutil.TextDetector{}, 200),
		Submitter: sub,
		Logger:    logger,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Stop() })
	return c
}

// newHandler routes every endpoint with services attached and no init gate.
func newHandler(svcs *svcctx.Services) http.Handler {
	if svcs.Logger == nil {
		svcs.Logger = testutil.DiscardLogger()
	}
	reg := api.NewRegistry()
	for _, ep := range All() {
		reg.Register(ep)
	}
	mux := http.NewServeMux()
	reg.RegisterRoutes(mux, func(h http.HandlerFunc) http.HandlerFunc { return h })
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r.WithContext(svcctx.WithServices(r.Context(), svcs)))
	})
}

func do(t *testing.T, h http.Handler, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

func TestScanEndpoints_ManualEntryAndSubmit(t *testing.T) {
	sub := &stubSubmitter{msg: "saved"}
	h := newHandler(&svcctx.Services{Controller: newController(t, sub)})

	t.Run("empty_text_rejected", func(t *testing.T) {
		var resp ErrorResponse
		if code := do(t, h, "POST", "/api/scan/decode", ManualEntryRequest{}, &resp); code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", code)
		}
	})

	t.Run("malformed_body", func(t *testing.T) {
		if code := do(t, h, "POST", "/api/scan/decode", "{", nil); code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", code)
		}
	})

	t.Run("submit_before_complete", func(t *testing.T) {
		var resp ErrorResponse
		code := do(t, h, "POST", "/api/scan/submit", SubmitScanRequest{FileExtension: ".txt"}, &resp)
		if code != http.StatusConflict || resp.Error != scan.ErrNotAssembled.Error() {
			t.Errorf("submit = %d %q", code, resp.Error)
		}
	})

	var st scan.Status
	do(t, h, "POST", "/api/scan/decode", ManualEntryRequest{Text: "<<PART 2 of 2>>World!"}, &st)
	if st.Message != "1 / 2 parts scanned (1 remaining)" {
		t.Errorf("message = %q", st.Message)
	}
	do(t, h, "POST", "/api/scan/decode", ManualEntryRequest{Text: "<<PART 1 of 2>>Hello, "}, &st)
	if !st.Complete || st.Text != "Hello, World!" || st.Message != scan.MsgComplete {
		t.Fatalf("status = %+v", st)
	}

	t.Run("extension_required", func(t *testing.T) {
		if code := do(t, h, "POST", "/api/scan/submit", SubmitScanRequest{FileExtension: "  "}, nil); code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", code)
		}
	})

	t.Run("receiver_error", func(t *testing.T) {
		sub.err = errors.New("disk full")
		defer func() { sub.err = nil }()

		var resp ErrorResponse
		code := do(t, h, "POST", "/api/scan/submit", SubmitScanRequest{FileExtension: ".txt"}, &resp)
		if code != http.StatusBadGateway || resp.Error != "Error: disk full" {
			t.Errorf("submit = %d %q", code, resp.Error)
		}
		var after scan.Status
		do(t, h, "GET", "/api/scan/status", nil, &after)
		if after.Text != "Hello, World!" || after.Submission != "Error: disk full" {
			t.Errorf("state after failure = %+v", after)
		}
	})

	t.Run("success", func(t *testing.T) {
		var resp SubmitScanResponse
		if code := do(t, h, "POST", "/api/scan/submit", SubmitScanRequest{FileExtension: ".md"}, &resp); code != http.StatusOK {
			t.Fatalf("status = %d", code)
		}
		if resp.Message != "saved" || sub.gotText != "Hello, World!" || sub.gotExt != ".md" {
			t.Errorf("resp = %+v, submitted %q as %q", resp, sub.gotText, sub.gotExt)
		}
	})

	t.Run("reset", func(t *testing.T) {
		var after scan.Status
		if code := do(t, h, "POST", "/api/scan/reset", nil, &after); code != http.StatusOK {
			t.Fatalf("status = %d", code)
		}
		if after.Scanned != 0 || after.Total != nil || after.Message != scan.MsgReady {
			t.Errorf("after reset = %+v", after)
		}
	})
}

func TestScanEndpoints_NoSubmitter(t *testing.T) {
	h := newHandler(&svcctx.Services{Controller: newController(t, nil)})
	do(t, h, "POST", "/api/scan/decode", ManualEntryRequest{Text: "just one code"}, nil)

	if code := do(t, h, "POST", "/api/scan/submit", SubmitScanRequest{FileExtension: ".txt"}, nil); code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
}

func TestScanEndpoints_StartUnknownDevice(t *testing.T) {
	h := newHandler(&svcctx.Services{Controller: newController(t, nil)})

	var resp ErrorResponse
	code := do(t, h, "POST", "/api/scan/start", StartScanRequest{DeviceID: "missing"}, &resp)
	if code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 (%s)", code, resp.Error)
	}

	var st scan.Status
	do(t, h, "GET", "/api/scan/status", nil, &st)
	if st.State != scan.StateCameraFailed || st.Message != scan.MsgCameraFailed {
		t.Errorf("status = %+v", st)
	}
}

func TestCameraErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{capture.ErrNoDevice, http.StatusNotFound},
		{fmt.Errorf("open: %w", capture.ErrPermissionDenied), http.StatusForbidden},
		{capture.ErrDeviceBusy, http.StatusConflict},
		{errors.New("pipeline failed"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := cameraErrorStatus(tt.err); got != tt.want {
				t.Errorf("cameraErrorStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCameraEndpoints(t *testing.T) {
	h := newHandler(&svcctx.Services{Controller: newController(t, nil)})

	var resp DevicesResponse
	if code := do(t, h, "GET", "/api/camera/devices", nil, &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(resp.Devices) != 1 || resp.Devices[0].ID != "rear" {
		t.Errorf("devices = %+v", resp.Devices)
	}

	// Without an open stream both controls are ignored.
	var caps capture.Capabilities
	if code := do(t, h, "POST", "/api/camera/torch", TorchRequest{On: true}, &caps); code != http.StatusOK {
		t.Errorf("torch status = %d", code)
	}
	if code := do(t, h, "POST", "/api/camera/zoom", ZoomRequest{Value: 2}, &caps); code != http.StatusOK {
		t.Errorf("zoom status = %d", code)
	}
	if caps.TorchAvailable || caps.ZoomAvailable {
		t.Errorf("capabilities = %+v", caps)
	}
}

func TestInboxEndpoints(t *testing.T) {
	dir := t.TempDir()
	store, err := inbox.NewStore(filepath.Join(dir, "inbox.db"), filepath.Join(dir, "inbox"), testutil.DiscardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	h := newHandler(&svcctx.Services{Inbox: store})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing_extension", `{"text":"x"}`, http.StatusBadRequest},
		{"bad_extension", `{"text":"x","fileExtension":"../x"}`, http.StatusBadRequest},
		{"not_json", `text`, http.StatusBadRequest},
		{"ok", `{"text":"hello","fileExtension":".txt"}`, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := do(t, h, "POST", "/api/submit", tt.body, nil); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}

	var list InboxListResponse
	if code := do(t, h, "GET", "/api/inbox?limit=5", nil, &list); code != http.StatusOK || len(list.Entries) != 1 {
		t.Fatalf("list = %d %+v", code, list)
	}
	if code := do(t, h, "GET", "/api/inbox?limit=-1", nil, nil); code != http.StatusBadRequest {
		t.Errorf("negative limit status = %d", code)
	}
	if code := do(t, h, "GET", "/api/inbox/01ARZ3NDEKTSV4RRFFQ69G5FAV", nil, nil); code != http.StatusNotFound {
		t.Errorf("missing entry status = %d", code)
	}

	t.Run("disabled", func(t *testing.T) {
		off := newHandler(&svcctx.Services{})
		var resp ErrorResponse
		code := do(t, off, "POST", "/api/submit", `{"text":"x","fileExtension":"txt"}`, &resp)
		if code != http.StatusServiceUnavailable || !strings.Contains(resp.Error, "disabled") {
			t.Errorf("disabled inbox = %d %q", code, resp.Error)
		}
	})
}

func TestSettingsEndpoints(t *testing.T) {
	mgr, err := config.NewManager(config.Options{SearchPaths: []string{t.TempDir()}, Logger: testutil.DiscardLogger()})
	if err != nil {
		t.Fatal(err)
	}
	h := newHandler(&svcctx.Services{ConfigManager: mgr})

	var list SettingsResponse
	if code := do(t, h, "GET", "/api/settings", nil, &list); code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if len(list.Settings) != len(config.DefaultEntries()) {
		t.Errorf("got %d settings, want %d", len(list.Settings), len(config.DefaultEntries()))
	}

	tests := []struct {
		path string
		want int
	}{
		{"/api/settings/submit.path", http.StatusOK},
		{"/api/settings/camera.nope", http.StatusNotFound},
		{"/api/settings/bad%21key", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			var resp SettingResponse
			code := do(t, h, "GET", tt.path, nil, &resp)
			if code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
			if tt.want == http.StatusOK && (resp.Entry == nil || resp.Entry.Value != "/api/submit") {
				t.Errorf("entry = %+v", resp.Entry)
			}
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := newHandler(&svcctx.Services{})
	var resp HealthResponse
	if code := do(t, h, "GET", "/health", nil, &resp); code != http.StatusOK || resp.Status != "ok" {
		t.Errorf("health = %d %+v", code, resp)
	}
}
