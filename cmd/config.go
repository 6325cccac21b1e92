// cmd/config.go

package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/GiGurra/boa/pkg/boa"
	"github.com/spf13/cobra"

	"github.com/petervdpas/tuneroom/internal/app"
	"github.com/petervdpas/tuneroom/internal/config"
)

func ConfigCmd() *cobra.Command {
	return boa.CmdT[boa.NoParams]{
		Use:   "config",
		Short: "Create, show and check the config file",
		SubCmds: []*cobra.Command{
			configInitCmd(),
			configShowCmd(),
			configValidateCmd(),
		},
	}.ToCobra()
}

type ConfigInitParams struct {
	Config      string `short:"c" help:"Path to the config file." default:"tuneroom.json"`
	Interactive bool   `short:"i" optional:"true" help:"Ask for the common settings."`
	Force       bool   `short:"f" optional:"true" help:"Overwrite an existing file."`
}

func configInitCmd() *cobra.Command {
	return boa.CmdT[ConfigInitParams]{
		Use:         "init",
		Short:       "Write a config file",
		ParamEnrich: defaultParamEnricher(),
		RunFunc: func(params *ConfigInitParams, cmd *cobra.Command, args []string) {
			exitOnErr("config init", runConfigInit(params))
		},
	}.ToCobra()
}

func runConfigInit(params *ConfigInitParams) error {
	if _, err := os.Stat(params.Config); err == nil && !params.Force {
		return fmt.Errorf("%s exists; use --force to overwrite", params.Config)
	}
	cfg := config.Default()
	if params.Interactive {
		cfg = app.PromptInteractive(os.Stdin, os.Stdout, params.Config, cfg)
	}
	if err := config.Save(params.Config, cfg); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", params.Config)
	return nil
}

type ConfigShowParams struct {
	Config  string `short:"c" help:"Path to the config file." default:"tuneroom.json"`
	EnvFile string `short:"e" optional:"true" help:"Dotenv file loaded before the config." default:".env"`
}

func configShowCmd() *cobra.Command {
	return boa.CmdT[ConfigShowParams]{
		Use:         "show",
		Short:       "Print the effective config, environment overrides applied",
		ParamEnrich: defaultParamEnricher(),
		RunFunc: func(params *ConfigShowParams, cmd *cobra.Command, args []string) {
			exitOnErr("config show", runConfigShow(params))
		},
	}.ToCobra()
}

func runConfigShow(params *ConfigShowParams) error {
	o, err := loadOptions(params.Config, params.EnvFile)
	if err != nil {
		return err
	}
	for _, secret := range []*string{&o.Cfg.Auth.JWTSecret, &o.Cfg.Store.RedisPassword, &o.Cfg.Search.YouTubeAPIKey} {
		if *secret != "" {
			*secret = "********"
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(o.Cfg)
}

type ConfigValidateParams struct {
	Config string `short:"c" help:"Path to the config file." default:"tuneroom.json"`
}

func configValidateCmd() *cobra.Command {
	return boa.CmdT[ConfigValidateParams]{
		Use:         "validate",
		Short:       "Check a config file without creating it",
		ParamEnrich: defaultParamEnricher(),
		RunFunc: func(params *ConfigValidateParams, cmd *cobra.Command, args []string) {
			exitOnErr("config validate", runConfigValidate(params))
		},
	}.ToCobra()
}

func runConfigValidate(params *ConfigValidateParams) error {
	if _, err := config.Load(params.Config); err != nil {
		return err
	}
	fmt.Printf("%s: ok\n", params.Config)
	return nil
}
