package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/qrstitch/internal/scan"
	"github.com/jackzampolin/qrstitch/internal/submit"
)

var (
	scanDevice  string
	scanOut     string
	scanExt     string
	scanTimeout time.Duration
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan a QR sequence in the terminal",
	Long: `Open the camera and scan until every part of the payload is assembled.

Progress is printed to stderr. When the payload is complete it is printed
to stdout, written to --out, or submitted to submit.url when --ext is set.

Examples:
  qrstitch scan                        # Print the assembled text
  qrstitch scan --out notes.md         # Write it to a file
  qrstitch scan --ext .md              # Submit it as a .md file
  qrstitch scan --device video2 --timeout 2m`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if scanTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, scanTimeout)
			defer cancel()
		}

		env, err := loadEnvironment()
		if err != nil {
			return err
		}
		cfg := *env.config.Get()
		if scanDevice != "" {
			cfg.Camera.Device = scanDevice
		}

		var submitter scan.Submitter
		if scanExt != "" {
			submitter = submit.NewClient(submit.TargetFromConfig(&cfg), env.logger)
		}

		controller, err := env.newController(&cfg, submitter, true)
		if err != nil {
			return err
		}

		stderr := cmd.ErrOrStderr()
		complete := make(chan struct{})
		var (
			once sync.Once
			mu   sync.Mutex
			last string
		)
		controller.OnStatus(func(st scan.Status) {
			mu.Lock()
			if st.Message != last {
				last = st.Message
				fmt.Fprintln(stderr, st.Message)
			}
			mu.Unlock()
			if st.Complete {
				once.Do(func() { close(complete) })
			}
		})

		runCtx, stopRun := context.WithCancel(ctx)
		runDone := make(chan struct{})
		go func() {
			defer close(runDone)
			if err := controller.Run(runCtx); err != nil {
				env.logger.Error("scan controller stopped", "error", err)
			}
		}()

		select {
		case <-complete:
		case <-ctx.Done():
		}
		stopRun()
		<-runDone

		st := controller.Status()
		if !st.Complete {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("timed out with %d of %s parts scanned", st.Scanned, totalString(st.Total))
			}
			return fmt.Errorf("interrupted with %d of %s parts scanned", st.Scanned, totalString(st.Total))
		}

		if scanOut != "" {
			if err := os.WriteFile(scanOut, []byte(st.Text), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", scanOut, err)
			}
			fmt.Fprintf(stderr, "wrote %d bytes to %s\n", len(st.Text), scanOut)
		}

		if scanExt != "" {
			// Submission gets its own timeout; ctx may already be done.
			submitCtx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			msg, err := controller.Submit(submitCtx, scanExt)
			if err != nil {
				return errors.New(msg)
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		}

		if scanOut == "" {
			fmt.Fprint(cmd.OutOrStdout(), st.Text)
		}
		return nil
	},
}

func totalString(total *int) string {
	if total == nil {
		return "?"
	}
	return fmt.Sprint(*total)
}

func init() {
	scanCmd.Flags().StringVar(&scanDevice, "device", "", "Camera device ID (default from camera.device)")
	scanCmd.Flags().StringVar(&scanOut, "out", "", "Write the assembled text to this file")
	scanCmd.Flags().StringVar(&scanExt, "ext", "", "Submit the assembled text with this file extension")
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 0, "Give up after this long (0 waits until interrupted)")

	rootCmd.AddCommand(scanCmd)
}
