package endpoints

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/qrstitch/internal/api"
	"github.com/jackzampolin/qrstitch/internal/capture"
	"github.com/jackzampolin/qrstitch/internal/svcctx"
)

type cameraGroup struct{}

func (cameraGroup) Group() string { return "camera" }

// DevicesResponse lists cameras and the one in use.
type DevicesResponse struct {
	Devices  []capture.Device `json:"devices"`
	Selected string           `json:"selected,omitempty"`
}

// TorchRequest switches the torch.
type TorchRequest struct {
	On bool `json:"on"`
}

// ZoomRequest sets the zoom level.
type ZoomRequest struct {
	Value float64 `json:"value"`
}

// ListDevicesEndpoint handles GET /api/camera/devices.
type ListDevicesEndpoint struct{ cameraGroup }

func (e *ListDevicesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/camera/devices", e.handler
}

func (e *ListDevicesEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List cameras
//	@Tags			camera
//	@Produce		json
//	@Success		200	{object}	DevicesResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/camera/devices [get]
func (e *ListDevicesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	c := svcctx.ControllerFrom(r.Context())
	devices, err := c.Devices(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := DevicesResponse{Devices: devices}
	if resp.Devices == nil {
		resp.Devices = []capture.Device{}
	}
	if d := c.Status().Device; d != nil {
		resp.Selected = d.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *ListDevicesEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List cameras",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp DevicesResponse
			if err := client.Get(cmd.Context(), "/api/camera/devices", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// TorchEndpoint handles POST /api/camera/torch.
type TorchEndpoint struct{ cameraGroup }

func (e *TorchEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/camera/torch", e.handler
}

func (e *TorchEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Switch the torch
//	@Description	Best effort. Cameras without a torch ignore the request.
//	@Tags			camera
//	@Accept			json
//	@Produce		json
//	@Param			request	body		TorchRequest	true	"Torch state"
//	@Success		200		{object}	capture.Capabilities
//	@Router			/api/camera/torch [post]
func (e *TorchEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req TorchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	c := svcctx.ControllerFrom(r.Context())
	c.Torch(r.Context(), req.On)
	writeJSON(w, http.StatusOK, c.Status().Capabilities)
}

func (e *TorchEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:       "torch on|off",
		Short:     "Switch the torch",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var on bool
			switch args[0] {
			case "on":
				on = true
			case "off":
			default:
				return fmt.Errorf("expected on or off, got %q", args[0])
			}
			client := api.NewClient(getServerURL())
			var resp capture.Capabilities
			if err := client.Post(cmd.Context(), "/api/camera/torch", TorchRequest{On: on}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ZoomEndpoint handles POST /api/camera/zoom.
type ZoomEndpoint struct{ cameraGroup }

func (e *ZoomEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/camera/zoom", e.handler
}

func (e *ZoomEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Set zoom
//	@Description	Best effort. The value is clamped to the camera's range.
//	@Tags			camera
//	@Accept			json
//	@Produce		json
//	@Param			request	body		ZoomRequest	true	"Zoom level"
//	@Success		200		{object}	capture.Capabilities
//	@Router			/api/camera/zoom [post]
func (e *ZoomEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req ZoomRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	c := svcctx.ControllerFrom(r.Context())
	c.Zoom(r.Context(), req.Value)
	writeJSON(w, http.StatusOK, c.Status().Capabilities)
}

func (e *ZoomEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "zoom <value>",
		Short: "Set the zoom level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid zoom value %q: %w", args[0], err)
			}
			client := api.NewClient(getServerURL())
			var resp capture.Capabilities
			if err := client.Post(cmd.Context(), "/api/camera/zoom", ZoomRequest{Value: value}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
