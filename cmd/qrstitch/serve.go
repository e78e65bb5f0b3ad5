package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/qrstitch/internal/config"
	"github.com/jackzampolin/qrstitch/internal/inbox"
	"github.com/jackzampolin/qrstitch/internal/scan"
	"github.com/jackzampolin/qrstitch/internal/server"
	"github.com/jackzampolin/qrstitch/internal/submit"
)

var (
	serveHost     string
	servePort     string
	serveNoCamera bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the qrstitch server",
	Long: `Start the qrstitch HTTP server.

This opens the configured camera, runs detection and serves the scan
controls, the status page and the payload inbox. When the server shuts
down (via Ctrl+C or SIGTERM), the camera is released.

The server provides:
  - /            - Status page
  - /health      - Basic server health check
  - /ready       - Readiness check (camera and inbox status)
  - /api/scan/*  - Scan session controls
  - /api/submit  - Payload receiver

Examples:
  qrstitch serve                    # Start on default port 8080
  qrstitch serve --port 3000        # Start on custom port
  qrstitch serve --host 0.0.0.0     # Bind to all interfaces
  qrstitch serve --no-camera        # Run only the inbox`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := loadEnvironment()
		if err != nil {
			return err
		}
		cfg := *env.config.Get()
		if cmd.Flags().Changed("host") {
			cfg.Server.Host = serveHost
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}

		submitter := submit.NewClient(submit.TargetFromConfig(&cfg), env.logger)
		env.config.OnChange(func(c *config.Config) {
			submitter.SetTarget(submit.TargetFromConfig(c))
		})
		env.config.WatchConfig()

		var store *inbox.Store
		if cfg.Inbox.Enabled {
			store, err = inbox.NewStore(env.home.InboxDBPath(), env.home.InboxPath(), env.logger)
			if err != nil {
				return err
			}
			defer store.Close()
		}

		var controller *scan.Controller
		if !serveNoCamera {
			controller, err = env.newController(&cfg, submitter, cfg.Camera.AutoStart)
			if err != nil {
				return err
			}
		}

		srv, err := server.New(server.Config{
			Host:          cfg.Server.Host,
			Port:          cfg.Server.Port,
			Controller:    controller,
			Inbox:         store,
			ConfigManager: env.config,
			Home:          env.home,
			Logger:        env.logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default from server.host)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (default from server.port)")
	serveCmd.Flags().BoolVar(&serveNoCamera, "no-camera", false, "Serve the inbox only, without a camera")

	rootCmd.AddCommand(serveCmd)
}
