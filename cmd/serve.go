// cmd/serve.go

package cmd

import (
	"github.com/GiGurra/boa/pkg/boa"
	"github.com/spf13/cobra"

	"github.com/petervdpas/tuneroom/internal/app"
)

type ServeParams struct {
	Config  string `short:"c" help:"Path to the config file." default:"tuneroom.json"`
	EnvFile string `short:"e" optional:"true" help:"Dotenv file loaded before the config." default:".env"`
	Addr    string `short:"a" optional:"true" help:"Override server.http_addr." default:""`
}

func ServeCmd() *cobra.Command {
	return boa.CmdT[ServeParams]{
		Use:         "serve",
		Short:       "Run the room server",
		ParamEnrich: defaultParamEnricher(),
		RunFunc: func(params *ServeParams, cmd *cobra.Command, args []string) {
			exitOnErr("serve", runServe(params))
		},
	}.ToCobra()
}

func runServe(params *ServeParams) error {
	o, err := loadOptions(params.Config, params.EnvFile)
	if err != nil {
		return err
	}
	if params.Addr != "" {
		o.Cfg.Server.HTTPAddr = params.Addr
		if err := o.Cfg.Validate(); err != nil {
			return err
		}
	}

	ctx, cancel := signalContext()
	defer cancel()
	return app.Serve(ctx, o)
}
