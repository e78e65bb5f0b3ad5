package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the qrstitch home directory.
	DefaultDirName = ".qrstitch"

	// InboxDirName is the subdirectory holding received submissions.
	InboxDirName = "inbox"

	// InboxDBName is the sqlite index of received submissions.
	InboxDBName = "inbox.db"

	// CamerasDirName holds image directories for the files camera platform.
	CamerasDirName = "cameras"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
)

// Dir represents the qrstitch home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.qrstitch).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// InboxPath returns the directory received payloads are written to.
func (d *Dir) InboxPath() string {
	return filepath.Join(d.path, InboxDirName)
}

// InboxDBPath returns the path of the inbox index database.
func (d *Dir) InboxDBPath() string {
	return filepath.Join(d.path, InboxDBName)
}

// CamerasPath returns the root of the files camera platform.
func (d *Dir) CamerasPath() string {
	return filepath.Join(d.path, CamerasDirName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	for _, dir := range []string{d.InboxPath(), d.CamerasPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
