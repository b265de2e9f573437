package version

import (
	"fmt"
	"runtime"
)

// Service is the name reported by /version and in the upstream User-Agent.
const Service = "twitch-analytics"

// Build information, injected via ldflags at build time
var (
	Version   = "0.1.0"
	Commit    = "unknown"
	BuildTime = "unknown"
)

type Info struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

func Get() Info {
	return Info{
		Service:   Service,
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

// UserAgent is sent with every upstream request.
func UserAgent() string {
	return fmt.Sprintf("%s/%s", Service, Version)
}
