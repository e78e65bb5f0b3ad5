package endpoints

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/qrstitch/internal/api"
	"github.com/jackzampolin/qrstitch/internal/inbox"
	"github.com/jackzampolin/qrstitch/internal/svcctx"
)

// maxSubmissionBytes bounds a submission body.
const maxSubmissionBytes = 16 << 20

type inboxGroup struct{}

func (inboxGroup) Group() string { return "inbox" }

// ReceiveSubmissionResponse acknowledges a stored submission.
type ReceiveSubmissionResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// InboxListResponse lists stored submissions.
type InboxListResponse struct {
	Entries []inbox.Entry `json:"entries"`
}

// ReceiveSubmissionEndpoint handles POST /api/submit.
type ReceiveSubmissionEndpoint struct{}

func (e *ReceiveSubmissionEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/submit", e.handler
}

func (e *ReceiveSubmissionEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		Receive a payload
//	@Description	Store assembled text as {id}.{fileExtension} in the inbox
//	@Tags			inbox
//	@Accept			json
//	@Produce		json
//	@Param			request	body		inbox.Submission	true	"Payload"
//	@Success		201		{object}	ReceiveSubmissionResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		413		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/submit [post]
func (e *ReceiveSubmissionEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	store := svcctx.InboxFrom(r.Context())
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "inbox disabled")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSubmissionBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "submission too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	sub, err := inbox.DecodeSubmission(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := store.Receive(r.Context(), sub)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, ReceiveSubmissionResponse{Message: entry.Message(), ID: entry.ID})
}

// No CLI command: scanners reach this route through "scan submit".
func (e *ReceiveSubmissionEndpoint) Command(_ func() string) *cobra.Command {
	return nil
}

// ListInboxEndpoint handles GET /api/inbox.
type ListInboxEndpoint struct{ inboxGroup }

func (e *ListInboxEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/inbox", e.handler
}

func (e *ListInboxEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		List received payloads
//	@Description	Newest first
//	@Tags			inbox
//	@Produce		json
//	@Param			limit	query		int	false	"Maximum entries"
//	@Success		200		{object}	InboxListResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/inbox [get]
func (e *ListInboxEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	store := svcctx.InboxFrom(r.Context())
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "inbox disabled")
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := store.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, InboxListResponse{Entries: entries})
}

func (e *ListInboxEndpoint) Command(getServerURL func() string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List received payloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := "/api/inbox"
			if limit > 0 {
				path += "?limit=" + strconv.Itoa(limit)
			}
			var resp InboxListResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum entries (0 for all)")
	return cmd
}

// GetInboxEndpoint handles GET /api/inbox/{id}.
type GetInboxEndpoint struct{ inboxGroup }

func (e *GetInboxEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/inbox/{id}", e.handler
}

func (e *GetInboxEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		Get a received payload
//	@Tags			inbox
//	@Produce		json
//	@Param			id	path		string	true	"Entry ID"
//	@Success		200	{object}	inbox.Entry
//	@Failure		404	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/inbox/{id} [get]
func (e *GetInboxEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	store := svcctx.InboxFrom(r.Context())
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "inbox disabled")
		return
	}

	entry, err := store.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, inbox.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (e *GetInboxEndpoint) Command(getServerURL func() string) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a received payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp inbox.Entry
			if err := client.Get(cmd.Context(), "/api/inbox/"+args[0], &resp); err != nil {
				return err
			}
			if raw {
				_, err := fmt.Fprint(cmd.OutOrStdout(), resp.Text)
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print only the payload text")
	return cmd
}
