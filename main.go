// main.go

package main

import (
	"runtime/debug"

	"github.com/GiGurra/boa/pkg/boa"
	"github.com/spf13/cobra"

	"github.com/petervdpas/tuneroom/cmd"
)

func main() {
	boa.CmdT[boa.NoParams]{
		Use:     "tuneroom",
		Short:   "Synchronized group listening rooms",
		Version: appVersion(),
		SubCmds: []*cobra.Command{
			cmd.ServeCmd(),
			cmd.ListenCmd(),
			cmd.HallCmd(),
			cmd.TokenCmd(),
			cmd.ConfigCmd(),
		},
	}.Run()
}

func appVersion() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown-(no build info)"
	}
	if bi.Main.Version == "" {
		return "unknown-(no version)"
	}
	return bi.Main.Version
}
