package config

import (
	"errors"
	"fmt"
	"unicode"
)

var (
	// ErrInvalidKey is returned when a config key contains invalid characters.
	ErrInvalidKey = errors.New("invalid config key")
	// ErrUnknownKey is returned for well-formed keys that are not documented.
	ErrUnknownKey = errors.New("unknown config key")
)

// Entry is a single documented configuration key.
type Entry struct {
	Key         string `json:"key" yaml:"key"`
	Value       any    `json:"value" yaml:"value"`
	Description string `json:"description" yaml:"description"`
}

// DefaultEntries returns every configuration key with its default value.
// The Manager seeds viper from this list.
func DefaultEntries() []Entry {
	d := DefaultConfig()
	return []Entry{
		// Server
		{Key: "server.host", Value: d.Server.Host, Description: "HTTP listen host"},
		{Key: "server.port", Value: d.Server.Port, Description: "HTTP listen port"},

		// Camera
		{Key: "camera.platform", Value: d.Camera.Platform, Description: "Capture platform: v4l2 or files"},
		{Key: "camera.device", Value: d.Camera.Device, Description: "Camera device ID; empty picks a rear-facing camera"},
		{Key: "camera.files_dir", Value: d.Camera.FilesDir, Description: "Image directory for the files platform; empty uses {home}/cameras"},
		{Key: "camera.width", Value: d.Camera.Width, Description: "Requested frame width"},
		{Key: "camera.height", Value: d.Camera.Height, Description: "Requested frame height"},
		{Key: "camera.frame_rate", Value: d.Camera.FrameRate, Description: "Requested frames per second"},
		{Key: "camera.acquire_attempts", Value: d.Camera.AcquireAttempts, Description: "Attempts to open a busy camera"},
		{Key: "camera.acquire_delay_ms", Value: d.Camera.AcquireDelayMS, Description: "Delay between camera open attempts"},
		{Key: "camera.autostart", Value: d.Camera.AutoStart, Description: "Start the camera when the server starts"},

		// Detection
		{Key: "detect.strategy", Value: d.Detect.Strategy, Description: "Detection strategy: auto, fast or compat"},
		{Key: "detect.native", Value: d.Detect.Native, Description: "Multi-code detector available to the auto strategy"},
		{Key: "detect.refresh_hz", Value: d.Detect.RefreshHz, Description: "Poll rate of the fast strategy"},

		// Submission
		{Key: "submit.url", Value: d.Submit.URL, Description: "Base URL of the submission endpoint"},
		{Key: "submit.path", Value: d.Submit.Path, Description: "Path of the submission endpoint"},
		{Key: "submit.token", Value: d.Submit.Token, Description: "Bearer token (supports ${ENV_VAR})"},
		{Key: "submit.timeout_seconds", Value: d.Submit.TimeoutSeconds, Description: "Submission request timeout"},

		// Inbox
		{Key: "inbox.enabled", Value: d.Inbox.Enabled, Description: "Serve the built-in submission receiver"},
	}
}

// GetDefault returns the default entry for a key, or nil if the key is not documented.
func GetDefault(key string) *Entry {
	for _, entry := range DefaultEntries() {
		if entry.Key == key {
			return &entry
		}
	}
	return nil
}

// ValidateKey checks if a config key contains only allowed characters.
// Valid keys contain: letters, digits, dots, underscores, and hyphens.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidKey)
	}
	for i, r := range key {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '_' && r != '-' {
			return fmt.Errorf("%w: invalid character %q at position %d", ErrInvalidKey, r, i)
		}
	}
	if key[0] == '.' || key[len(key)-1] == '.' {
		return fmt.Errorf("%w: key cannot start or end with a dot", ErrInvalidKey)
	}
	return nil
}
