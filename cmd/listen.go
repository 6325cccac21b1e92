// cmd/listen.go

package cmd

import (
	"os"

	"github.com/GiGurra/boa/pkg/boa"
	"github.com/spf13/cobra"

	"github.com/petervdpas/tuneroom/internal/app"
	"github.com/petervdpas/tuneroom/internal/room"
)

type ListenParams struct {
	Config  string `short:"c" help:"Path to the config file." default:"tuneroom.json"`
	EnvFile string `short:"e" optional:"true" help:"Dotenv file loaded before the config." default:".env"`
	Room    string `short:"r" help:"Room to join." default:"global-public"`
	Server  string `short:"s" optional:"true" help:"Override client.server_url." default:""`
	Token   string `short:"t" optional:"true" help:"Override client.token." default:""`
	Quiet   bool   `short:"q" optional:"true" help:"Follow the room without reading commands from stdin."`
}

func ListenCmd() *cobra.Command {
	return boa.CmdT[ListenParams]{
		Use:         "listen",
		Short:       "Join a room with a headless player",
		Long:        "Join a room on a server and follow its playback. Type help for console commands.",
		ParamEnrich: defaultParamEnricher(),
		RunFunc: func(params *ListenParams, cmd *cobra.Command, args []string) {
			exitOnErr("listen", runListen(params))
		},
	}.ToCobra()
}

func runListen(params *ListenParams) error {
	o, err := loadOptions(params.Config, params.EnvFile)
	if err != nil {
		return err
	}
	if params.Server != "" {
		o.Cfg.Client.ServerURL = params.Server
	}
	if params.Token != "" {
		o.Cfg.Client.Token = params.Token
	}
	roomID := params.Room
	if roomID == "" {
		roomID = room.GlobalHallID
	}

	lo := app.ListenOptions{Options: o, RoomID: roomID, Out: os.Stdout}
	if !params.Quiet {
		lo.In = os.Stdin
	}

	ctx, cancel := signalContext()
	defer cancel()
	return app.Listen(ctx, lo)
}
