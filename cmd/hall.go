// cmd/hall.go

package cmd

import (
	"fmt"

	"github.com/GiGurra/boa/pkg/boa"
	"github.com/spf13/cobra"

	"github.com/petervdpas/tuneroom/internal/app"
)

type HallParams struct {
	Config  string `short:"c" help:"Path to the config file." default:"tuneroom.json"`
	EnvFile string `short:"e" optional:"true" help:"Dotenv file loaded before the config." default:".env"`
}

func HallCmd() *cobra.Command {
	return boa.CmdT[HallParams]{
		Use:         "hall",
		Short:       "Seed the global hall in the configured store",
		ParamEnrich: defaultParamEnricher(),
		RunFunc: func(params *HallParams, cmd *cobra.Command, args []string) {
			exitOnErr("hall", runHall(params))
		},
	}.ToCobra()
}

func runHall(params *HallParams) error {
	o, err := loadOptions(params.Config, params.EnvFile)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	st, err := app.SeedHall(ctx, o)
	if err != nil {
		return err
	}
	fmt.Printf("%s v%d: %d queued, %d listeners\n", st.RoomID, st.Version, len(st.Queue), len(st.Listeners))
	return nil
}
