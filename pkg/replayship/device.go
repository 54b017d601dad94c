package replayship

import (
	"os"
	"runtime"
)

// hostDevice fingerprints the machine the process runs on.
type hostDevice struct{}

func (hostDevice) DeviceInfo() DeviceInfo {
	info := DeviceInfo{
		Platform:   runtime.GOOS,
		OSVersion:  runtime.GOOS + "/" + runtime.GOARCH,
		Device:     hostname(),
		DeviceType: "desktop",
	}
	return info
}

func hostname() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}
