// Command farmscan discovers Moonraker based 3D printers on a local network.
package main

import (
	"github.com/anstrom/farmscan/cmd/cli"
)

// Build information, set by ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
