package capture

import (
	"fmt"
	"strings"
)

// rearHints mark labels of cameras that face away from the operator.
var rearHints = []string{"back", "rear", "environment", "world"}

// IsRearFacing reports whether a device label looks like a rear camera.
func IsRearFacing(label string) bool {
	l := strings.ToLower(label)
	for _, h := range rearHints {
		if strings.Contains(l, h) {
			return true
		}
	}
	return false
}

// ChooseDevice picks the device to open. An explicit id must exist.
// Otherwise the first rear-facing device wins, then the first device.
func ChooseDevice(devices []Device, id string) (Device, error) {
	if len(devices) == 0 {
		return Device{}, ErrNoDevice
	}
	if id != "" {
		for _, d := range devices {
			if d.ID == id {
				return d, nil
			}
		}
		return Device{}, fmt.Errorf("device %q: %w", id, ErrNoDevice)
	}
	for _, d := range devices {
		if IsRearFacing(d.Label) {
			return d, nil
		}
	}
	return devices[0], nil
}
