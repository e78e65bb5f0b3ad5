package config

// Config holds qrstitch configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Server ServerCfg `mapstructure:"server" yaml:"server"`
	Camera CameraCfg `mapstructure:"camera" yaml:"camera"`
	Detect DetectCfg `mapstructure:"detect" yaml:"detect"`
	Submit SubmitCfg `mapstructure:"submit" yaml:"submit"`
	Inbox  InboxCfg  `mapstructure:"inbox" yaml:"inbox"`
}

// ServerCfg configures the HTTP listener.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
}

// Camera platforms.
const (
	PlatformV4L2  = "v4l2"
	PlatformFiles = "files"
)

// CameraCfg configures frame capture.
type CameraCfg struct {
	Platform        string `mapstructure:"platform" yaml:"platform"` // "v4l2" or "files"
	Device          string `mapstructure:"device" yaml:"device"`     // empty picks a rear-facing camera
	FilesDir        string `mapstructure:"files_dir" yaml:"files_dir"`
	Width           int    `mapstructure:"width" yaml:"width"`
	Height          int    `mapstructure:"height" yaml:"height"`
	FrameRate       int    `mapstructure:"frame_rate" yaml:"frame_rate"`
	AcquireAttempts uint   `mapstructure:"acquire_attempts" yaml:"acquire_attempts"`
	AcquireDelayMS  int    `mapstructure:"acquire_delay_ms" yaml:"acquire_delay_ms"`
	AutoStart       bool   `mapstructure:"autostart" yaml:"autostart"`
}

// DetectCfg selects the detection strategy.
type DetectCfg struct {
	Strategy  string `mapstructure:"strategy" yaml:"strategy"` // "auto", "fast" or "compat"
	Native    bool   `mapstructure:"native" yaml:"native"`     // multi-code detector available
	RefreshHz int    `mapstructure:"refresh_hz" yaml:"refresh_hz"`
}

// SubmitCfg points at the submission endpoint.
type SubmitCfg struct {
	URL            string `mapstructure:"url" yaml:"url"`
	Path           string `mapstructure:"path" yaml:"path"`
	Token          string `mapstructure:"token" yaml:"token"` // supports ${ENV_VAR} syntax
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// InboxCfg enables the built-in submission receiver.
type InboxCfg struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerCfg{
			Host: "127.0.0.1",
			Port: "8080",
		},
		Camera: CameraCfg{
			Platform:        PlatformV4L2,
			Width:           1280,
			Height:          720,
			FrameRate:       15,
			AcquireAttempts: 3,
			AcquireDelayMS:  500,
			AutoStart:       true,
		},
		Detect: DetectCfg{
			Strategy:  "auto",
			Native:    true,
			RefreshHz: 30,
		},
		Submit: SubmitCfg{
			URL:            "http://127.0.0.1:8080",
			Path:           "/api/submit",
			TimeoutSeconds: 30,
		},
		Inbox: InboxCfg{
			Enabled: true,
		},
	}
}

// SubmitToken returns the submission token with ${ENV_VAR} references resolved.
func (c *Config) SubmitToken() string {
	return ResolveEnvVars(c.Submit.Token)
}
