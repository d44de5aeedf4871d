package obs

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Admin API build information.",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// InitBuildInfo registers build_info once and sets it to 1 for the given labels.
// An empty or "dev" commit falls back to the VCS revision stamped by the Go toolchain.
func InitBuildInfo(version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(version, resolveCommit(commit, debug.ReadBuildInfo), runtime.Version()).Set(1)
}

func resolveCommit(commit string, read func() (*debug.BuildInfo, bool)) string {
	if commit != "" && commit != "dev" {
		return commit
	}
	if info, ok := read(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				if len(s.Value) > 12 {
					return s.Value[:12]
				}
				return s.Value
			}
		}
	}
	if commit == "" {
		return "unknown"
	}
	return commit
}
