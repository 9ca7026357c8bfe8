package core

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// Device parameter names accepted by Session.SetDeviceParam.
const (
	DeviceOutputLocation    = "usd::output.location"
	DeviceCreateNewSession  = "usd::createnewsession"
	DeviceWriteAtCommit     = "usd::writeatcommit"
	DeviceTimeStep          = "usd::timestep"
	DeviceEnableSaving      = "usd::enablesaving"
	DeviceGarbageCollect    = "usd::garbagecollect"
	DeviceRemoveUnusedNames = "usd::removeunusednames"
)

const defaultOutputLocation = "./"

// Config holds the session-wide settings.
type Config struct {
	OutputLocation   string
	CreateNewSession bool
	WriteAtCommit    bool
	TimeStep         float64
	EnableSaving     bool
}

// DefaultConfig returns the settings a session starts with.
func DefaultConfig() Config {
	return Config{
		OutputLocation:   defaultOutputLocation,
		CreateNewSession: true,
		EnableSaving:     true,
	}
}

// ConfigFromEnv overlays environment variables on DefaultConfig.
//
//	SCENESYNC_OUTPUT_LOCATION: output location (default ./)
//	SCENESYNC_CREATE_NEW_SESSION: bool (default true)
//	SCENESYNC_WRITE_AT_COMMIT: bool (default false)
//	SCENESYNC_ENABLE_SAVING: bool (default true)
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if v := os.Getenv("SCENESYNC_OUTPUT_LOCATION"); v != "" {
		cfg.OutputLocation = v
	}
	for _, b := range []struct {
		key string
		dst *bool
	}{
		{"SCENESYNC_CREATE_NEW_SESSION", &cfg.CreateNewSession},
		{"SCENESYNC_WRITE_AT_COMMIT", &cfg.WriteAtCommit},
		{"SCENESYNC_ENABLE_SAVING", &cfg.EnableSaving},
	} {
		raw := strings.TrimSpace(os.Getenv(b.key))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", b.key, err)
		}
		*b.dst = v
	}
	return cfg, nil
}

func (c Config) outputLocation() string {
	if c.OutputLocation == "" {
		return defaultOutputLocation
	}
	return c.OutputLocation
}

func (c Config) validate() error {
	if math.IsNaN(c.TimeStep) || math.IsInf(c.TimeStep, 0) {
		return fmt.Errorf("time step must be finite")
	}
	return nil
}
