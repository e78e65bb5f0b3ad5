package endpoints

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/qrstitch/internal/api"
	"github.com/jackzampolin/qrstitch/internal/capture"
	"github.com/jackzampolin/qrstitch/internal/scan"
	"github.com/jackzampolin/qrstitch/internal/svcctx"
)

// scanGroup nests scan commands under "qrstitch api scan".
type scanGroup struct{}

func (scanGroup) Group() string { return "scan" }

// StartScanRequest selects the camera to scan with.
type StartScanRequest struct {
	DeviceID string `json:"device_id,omitempty"`
}

// ManualEntryRequest carries text typed or pasted by the operator.
type ManualEntryRequest struct {
	Text string `json:"text"`
}

// SubmitScanRequest names the file extension for the assembled payload.
type SubmitScanRequest struct {
	FileExtension string `json:"file_extension"`
}

// SubmitScanResponse carries the receiver's message.
type SubmitScanResponse struct {
	Message string `json:"message"`
}

// cameraErrorStatus maps capture failures to HTTP status codes.
func cameraErrorStatus(err error) int {
	switch {
	case errors.Is(err, capture.ErrNoDevice):
		return http.StatusNotFound
	case errors.Is(err, capture.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, capture.ErrDeviceBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ScanStatusEndpoint handles GET /api/scan/status.
type ScanStatusEndpoint struct{ scanGroup }

func (e *ScanStatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/scan/status", e.handler
}

func (e *ScanStatusEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Scan status
//	@Description	Progress, status message, overlay and camera state of the scan session
//	@Tags			scan
//	@Produce		json
//	@Success		200	{object}	scan.Status
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/scan/status [get]
func (e *ScanStatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, svcctx.ControllerFrom(r.Context()).Status())
}

func (e *ScanStatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show scan progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp scan.Status
			if err := client.Get(cmd.Context(), "/api/scan/status", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// StartScanEndpoint handles POST /api/scan/start.
type StartScanEndpoint struct{ scanGroup }

func (e *StartScanEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/scan/start", e.handler
}

func (e *StartScanEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Start scanning
//	@Description	Acquire a camera (the given device, else a rear-facing one) and start detection
//	@Tags			scan
//	@Accept			json
//	@Produce		json
//	@Param			request	body		StartScanRequest	false	"Camera selection"
//	@Success		200		{object}	scan.Status
//	@Failure		403		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Router			/api/scan/start [post]
func (e *StartScanEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req StartScanRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c := svcctx.ControllerFrom(r.Context())
	if err := c.SelectDevice(r.Context(), req.DeviceID); err != nil {
		writeError(w, cameraErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, c.Status())
}

func (e *StartScanEndpoint) Command(getServerURL func() string) *cobra.Command {
	var device string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the camera and detection",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp scan.Status
			if err := client.Post(cmd.Context(), "/api/scan/start", StartScanRequest{DeviceID: device}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "Camera device ID (default: prefer a rear-facing camera)")
	return cmd
}

// StopScanEndpoint handles POST /api/scan/stop.
type StopScanEndpoint struct{ scanGroup }

func (e *StopScanEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/scan/stop", e.handler
}

func (e *StopScanEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Stop scanning
//	@Description	Stop detection and release the camera. Progress is kept.
//	@Tags			scan
//	@Produce		json
//	@Success		200	{object}	scan.Status
//	@Router			/api/scan/stop [post]
func (e *StopScanEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	c := svcctx.ControllerFrom(r.Context())
	if err := c.Stop(); err != nil {
		svcctx.LoggerFrom(r.Context()).Warn("camera did not stop cleanly", "error", err)
	}
	writeJSON(w, http.StatusOK, c.Status())
}

func (e *StopScanEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the camera (progress is kept)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp scan.Status
			if err := client.Post(cmd.Context(), "/api/scan/stop", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ResetScanEndpoint handles POST /api/scan/reset.
type ResetScanEndpoint struct{ scanGroup }

func (e *ResetScanEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/scan/reset", e.handler
}

func (e *ResetScanEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Reset the scan
//	@Description	Discard all scanned parts and restart detection on the live camera
//	@Tags			scan
//	@Produce		json
//	@Success		200	{object}	scan.Status
//	@Router			/api/scan/reset [post]
func (e *ResetScanEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	c := svcctx.ControllerFrom(r.Context())
	c.Reset()
	writeJSON(w, http.StatusOK, c.Status())
}

func (e *ResetScanEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Discard progress and scan again",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp scan.Status
			if err := client.Post(cmd.Context(), "/api/scan/reset", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ManualEntryEndpoint handles POST /api/scan/decode.
type ManualEntryEndpoint struct{ scanGroup }

func (e *ManualEntryEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/scan/decode", e.handler
}

func (e *ManualEntryEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Enter a code manually
//	@Description	Feed decoded text through the same path as a detected code
//	@Tags			scan
//	@Accept			json
//	@Produce		json
//	@Param			request	body		ManualEntryRequest	true	"Decoded text"
//	@Success		200		{object}	scan.Status
//	@Failure		400		{object}	ErrorResponse
//	@Router			/api/scan/decode [post]
func (e *ManualEntryEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req ManualEntryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	writeJSON(w, http.StatusOK, svcctx.ControllerFrom(r.Context()).ManualEntry(req.Text))
}

func (e *ManualEntryEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <text>",
		Short: "Feed decoded QR text to the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp scan.Status
			if err := client.Post(cmd.Context(), "/api/scan/decode", ManualEntryRequest{Text: args[0]}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// SubmitScanEndpoint handles POST /api/scan/submit.
type SubmitScanEndpoint struct{ scanGroup }

func (e *SubmitScanEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/scan/submit", e.handler
}

func (e *SubmitScanEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Submit the assembled payload
//	@Description	Send the assembled text with a file extension to the submission endpoint
//	@Tags			scan
//	@Accept			json
//	@Produce		json
//	@Param			request	body		SubmitScanRequest	true	"File extension"
//	@Success		200		{object}	SubmitScanResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Failure		502		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/scan/submit [post]
func (e *SubmitScanEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req SubmitScanRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := svcctx.ControllerFrom(r.Context()).Submit(r.Context(), req.FileExtension)
	switch {
	case errors.Is(err, scan.ErrNotAssembled):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, scan.ErrExtensionRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, scan.ErrNoSubmitter):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		writeError(w, http.StatusBadGateway, msg)
	default:
		writeJSON(w, http.StatusOK, SubmitScanResponse{Message: msg})
	}
}

func (e *SubmitScanEndpoint) Command(getServerURL func() string) *cobra.Command {
	var ext string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit the assembled payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ext == "" {
				return fmt.Errorf("--ext is required")
			}
			client := api.NewClient(getServerURL())
			var resp SubmitScanResponse
			if err := client.Post(cmd.Context(), "/api/scan/submit", SubmitScanRequest{FileExtension: ext}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&ext, "ext", "", "File extension for the payload, e.g. .txt (required)")
	return cmd
}
