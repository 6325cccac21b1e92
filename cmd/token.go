// cmd/token.go

package cmd

import (
	"errors"
	"fmt"

	"github.com/GiGurra/boa/pkg/boa"
	"github.com/spf13/cobra"

	"github.com/petervdpas/tuneroom/internal/app"
	"github.com/petervdpas/tuneroom/internal/room"
)

type TokenParams struct {
	Config  string `short:"c" help:"Path to the config file." default:"tuneroom.json"`
	EnvFile string `short:"e" optional:"true" help:"Dotenv file loaded before the config." default:".env"`
	User    string `short:"u" help:"User id carried by the token."`
	Name    string `short:"n" optional:"true" help:"Display name." default:""`
	Avatar  string `optional:"true" help:"Avatar url." default:""`
	Admin   bool   `optional:"true" help:"Grant admin rights."`
}

func TokenCmd() *cobra.Command {
	return boa.CmdT[TokenParams]{
		Use:         "token",
		Short:       "Issue an access token",
		ParamEnrich: defaultParamEnricher(),
		RunFunc: func(params *TokenParams, cmd *cobra.Command, args []string) {
			exitOnErr("token", runToken(params))
		},
	}.ToCobra()
}

func runToken(params *TokenParams) error {
	if params.User == "" {
		return errors.New("--user is required")
	}
	o, err := loadOptions(params.Config, params.EnvFile)
	if err != nil {
		return err
	}
	if o.Cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is empty; tokens would not survive a server restart")
	}

	tok, err := app.IssueToken(o.Cfg.Auth, room.Actor{
		UserID:      params.User,
		DisplayName: params.Name,
		AvatarURL:   params.Avatar,
		Admin:       params.Admin,
	})
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
