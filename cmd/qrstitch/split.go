package main

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/qrstitch/internal/api"
	"github.com/jackzampolin/qrstitch/internal/chunk"
	"github.com/jackzampolin/qrstitch/internal/detect"
)

var (
	splitSize   int
	splitPixels int
	splitDir    string
)

// SplitResult lists the rendered images in scan order.
type SplitResult struct {
	Parts int      `json:"parts" yaml:"parts"`
	Files []string `json:"files" yaml:"files"`
}

var splitCmd = &cobra.Command{
	Use:   "split FILE",
	Short: "Render a text file as a sequence of QR code images",
	Long: `Split a text file into "<<PART i of N>>" chunks and render each chunk
as a PNG QR code. Use "-" to read from stdin.

Examples:
  qrstitch split notes.md                      # Write part-001.png ... to ./qr
  qrstitch split notes.md --size 400 --dir out # Smaller chunks, custom directory`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			data []byte
			err  error
		)
		if args[0] == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		text := strings.TrimRight(string(data), "\r\n")
		parts, err := chunk.Split(text, splitSize)
		if err != nil {
			return err
		}

		if err := os.MkdirAll(splitDir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", splitDir, err)
		}

		res := SplitResult{Parts: len(parts)}
		for i, p := range parts {
			img, err := detect.EncodeQR(p, splitPixels)
			if err != nil {
				return fmt.Errorf("part %d: %w", i+1, err)
			}
			path := filepath.Join(splitDir, fmt.Sprintf("part-%03d.png", i+1))
			if err := writePNG(path, img); err != nil {
				return err
			}
			res.Files = append(res.Files, path)
		}
		return api.Output(res)
	},
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

func init() {
	splitCmd.Flags().IntVar(&splitSize, "size", 800, "Maximum characters of text per code")
	splitCmd.Flags().IntVar(&splitPixels, "pixels", 512, "Image width and height in pixels")
	splitCmd.Flags().StringVar(&splitDir, "dir", "qr", "Output directory")

	rootCmd.AddCommand(splitCmd)
}
