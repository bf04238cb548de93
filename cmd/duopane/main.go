// duopane - dual-pane file browser for local, FTP and cloud storage.
package main

import (
	"os"

	"github.com/rescale/duopane/internal/cli"
	"github.com/rescale/duopane/internal/version"
)

// Set with -ldflags "-X main.Version=... -X main.BuildTime=..."
var (
	Version   = "v0.1.0-dev"
	BuildTime = "unknown"
)

func main() {
	version.Version = Version
	version.BuildTime = BuildTime

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
