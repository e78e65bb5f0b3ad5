package endpoints

import (
	"github.com/jackzampolin/qrstitch/internal/api"
)

// All returns all endpoint instances.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},

		// Scan session endpoints
		&ScanStatusEndpoint{},
		&StartScanEndpoint{},
		&StopScanEndpoint{},
		&ResetScanEndpoint{},
		&ManualEntryEndpoint{},
		&SubmitScanEndpoint{},

		// Camera endpoints
		&ListDevicesEndpoint{},
		&TorchEndpoint{},
		&ZoomEndpoint{},

		// Inbox endpoints
		&ReceiveSubmissionEndpoint{},
		&ListInboxEndpoint{},
		&GetInboxEndpoint{},

		// Settings endpoints
		&ListSettingsEndpoint{},
		&GetSettingEndpoint{},

		// Static files (catch-all, must be last)
		&StaticEndpoint{},
	}
}
