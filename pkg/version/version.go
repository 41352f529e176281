package version

import (
	"fmt"
	"runtime"
	"time"
)

// Set at build time with -ldflags "-X github.com/NeuralTrust/TrustGuard/pkg/version.Version=...".
var (
	Version   = "0.1.0"
	AppName   = "TrustGuard"
	Commit    = "none"
	BuildDate = "unknown"
)

var startedAt = time.Now()

type Info struct {
	AppName   string `json:"app_name"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Uptime    string `json:"uptime"`
}

func GetInfo() Info {
	return Info{
		AppName:   AppName,
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		Uptime:    time.Since(startedAt).Round(time.Second).String(),
	}
}
