package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Recorder RecorderConfig `yaml:"recorder"`
	Storage  StorageConfig  `yaml:"storage"`
	Upload   UploadConfig   `yaml:"upload"`
	LogLevel string         `yaml:"log_level" env:"RECORDER_LOG_LEVEL"`
}

type ServerConfig struct {
	Host string `yaml:"host" env:"RECORDER_HOST"`
	Port int    `yaml:"port" env:"RECORDER_PORT"`
}

type RecorderConfig struct {
	ClickCaptureDelay  time.Duration `yaml:"click_capture_delay"`
	UnloadWaitAttempts int           `yaml:"unload_wait_attempts"`
	UnloadWaitInterval time.Duration `yaml:"unload_wait_interval"`
	WatchInterval      time.Duration `yaml:"watch_interval"`
	BrowserPID         int           `yaml:"browser_pid" env:"RECORDER_BROWSER_PID"`
}

type StorageConfig struct {
	// Path of the SQLite database. Empty keeps session state in memory.
	Path string `yaml:"path" env:"RECORDER_DB_PATH"`
}

type UploadConfig struct {
	// URL overrides the per-session upload endpoint; the session's own
	// uploadUrl still wins when set.
	URL     string        `yaml:"url" env:"RECORDER_UPLOAD_URL"`
	Timeout time.Duration `yaml:"timeout"`
}

// Load reads path (when it exists), then applies environment overrides.
// Missing file is not an error: the defaults stand.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8089,
		},
		Recorder: RecorderConfig{
			ClickCaptureDelay:  500 * time.Millisecond,
			UnloadWaitAttempts: 3,
			UnloadWaitInterval: 100 * time.Millisecond,
			WatchInterval:      time.Second,
		},
		Upload: UploadConfig{
			Timeout: 5 * time.Minute,
		},
		LogLevel: "info",
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}
