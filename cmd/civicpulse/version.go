package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CivicPulse/civicpulse/internal/config"
)

// Build info - set via ldflags at build time:
//
//	go build -ldflags "-X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ) -X main.gitCommit=$(git rev-parse --short HEAD)"
var (
	buildTime = "unknown"
	gitCommit = "unknown"
)

// VersionInfo contains version and build information
type VersionInfo struct {
	Version   string
	GoVersion string
	BuildTime string
	GitCommit string
	Platform  string
	Features  []string
}

// GetVersionInfo returns the version information; cfg may be nil
func GetVersionInfo(cfg *config.Config) *VersionInfo {
	return &VersionInfo{
		Version:   version,
		GoVersion: runtime.Version(),
		BuildTime: buildTime,
		GitCommit: gitCommit,
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		Features:  detectEnabledFeatures(cfg),
	}
}

// detectEnabledFeatures lists the optional parts the config turns on
func detectEnabledFeatures(cfg *config.Config) []string {
	features := []string{}
	if cfg == nil {
		return features
	}

	if cfg.Agent.APIKey != "" {
		features = append(features, "platform-key:"+cfg.Agent.Provider)
	}
	if cfg.Quota.Enabled {
		features = append(features, fmt.Sprintf("quota:%d/%s", cfg.Quota.FreeQueries, cfg.Quota.Period))
	}
	if cfg.Tools.Cache.Backend == "bolt" {
		features = append(features, "bolt-cache")
	}
	if cfg.Database.Driver == "postgres" {
		features = append(features, "postgres")
	}
	if cfg.Metrics.Enabled {
		features = append(features, "metrics")
	}

	return features
}

// String returns formatted version information
func (v *VersionInfo) String() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("CivicPulse v%s\n", v.Version))
	sb.WriteString(fmt.Sprintf("  Go:       %s\n", v.GoVersion))
	sb.WriteString(fmt.Sprintf("  Platform: %s\n", v.Platform))
	sb.WriteString(fmt.Sprintf("  Build:    %s\n", v.BuildTime))
	sb.WriteString(fmt.Sprintf("  Commit:   %s\n", v.GitCommit))

	if len(v.Features) > 0 {
		sb.WriteString(fmt.Sprintf("  Features: %s\n", strings.Join(v.Features, ", ")))
	} else {
		sb.WriteString("  Features: (none enabled)\n")
	}

	return sb.String()
}

func newVersionCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := load()
			if err != nil {
				cfg = nil
			}
			fmt.Fprint(cmd.OutOrStdout(), GetVersionInfo(cfg).String())
		},
	}
}
