// Package submit posts assembled payloads to a submission endpoint.
package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackzampolin/qrstitch/internal/api"
	"github.com/jackzampolin/qrstitch/internal/config"
)

// Request is the body sent to the submission endpoint.
type Request struct {
	Text          string `json:"text"`
	FileExtension string `json:"fileExtension"`
}

// Response is the acknowledgement returned by the endpoint.
type Response struct {
	Message string `json:"message"`
}

// Target locates the submission endpoint.
type Target struct {
	URL     string
	Path    string
	Token   string
	Timeout time.Duration
}

// TargetFromConfig builds a Target from the submit section of cfg.
func TargetFromConfig(cfg *config.Config) Target {
	return Target{
		URL:     cfg.Submit.URL,
		Path:    cfg.Submit.Path,
		Token:   cfg.SubmitToken(),
		Timeout: time.Duration(cfg.Submit.TimeoutSeconds) * time.Second,
	}
}

// Client submits payloads. The target can be swapped while in use.
type Client struct {
	logger *slog.Logger

	mu     sync.RWMutex
	target Target
	api    *api.Client
}

// NewClient creates a client for target.
func NewClient(target Target, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{logger: logger}
	c.SetTarget(target)
	return c
}

// SetTarget replaces the endpoint used by later submissions.
func (c *Client) SetTarget(target Target) {
	cl := api.NewClient(target.URL, api.WithToken(target.Token), api.WithTimeout(target.Timeout))
	c.mu.Lock()
	c.target, c.api = target, cl
	c.mu.Unlock()
}

// Submit posts text with its file extension and returns the endpoint's
// message. Failures carry the endpoint's message when it sent one.
func (c *Client) Submit(ctx context.Context, text, fileExtension string) (string, error) {
	c.mu.RLock()
	target, cl := c.target, c.api
	c.mu.RUnlock()

	var resp Response
	err := cl.Post(ctx, target.Path, Request{Text: text, FileExtension: fileExtension}, &resp)
	if err != nil {
		c.logger.Warn("submission failed", "url", target.URL+target.Path, "error", err)
		var se *api.StatusError
		if errors.As(err, &se) && se.Message != "" {
			return "", errors.New(se.Message)
		}
		return "", fmt.Errorf("submit: %w", err)
	}

	c.logger.Info("submission accepted", "url", target.URL+target.Path, "bytes", len(text), "ext", fileExtension)
	return resp.Message, nil
}
