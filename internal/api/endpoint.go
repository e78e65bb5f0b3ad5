package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Endpoint pairs an HTTP route with the CLI command that calls it.
type Endpoint interface {
	// Route returns the HTTP method, path, and handler for this endpoint.
	Route() (method, path string, handler http.HandlerFunc)

	// RequiresInit reports whether the route needs a running scan
	// controller. Such routes answer 503 when the server has no camera.
	RequiresInit() bool

	// Command returns a Cobra command that calls this endpoint via HTTP.
	// getServerURL is resolved when the command runs.
	Command(getServerURL func() string) *cobra.Command
}

// Grouped endpoints nest their command under a shared parent such as
// "scan" or "camera".
type Grouped interface {
	Group() string
}
