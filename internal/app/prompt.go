// internal/app/prompt.go

package app

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/petervdpas/tuneroom/internal/config"
)

// PromptInteractive walks through the settings people change most and
// returns the edited config. Invalid answers keep the input config.
func PromptInteractive(in io.Reader, out io.Writer, cfgPath string, cfg config.Config) config.Config {
	rd := bufio.NewReader(in)
	orig := cfg

	fmt.Fprintln(out, "────────────────────────────────────────")
	fmt.Fprintln(out, "tuneroom interactive setup")
	fmt.Fprintf(out, " Config file : %s\n", cfgPath)
	fmt.Fprintln(out, "────────────────────────────────────────")
	fmt.Fprintln(out)

	cfg.Server.HTTPAddr = askString(rd, out, "Server HTTP addr", cfg.Server.HTTPAddr)
	cfg.Store.Backend = askString(rd, out, "Store backend (memory|sqlite|redis)", cfg.Store.Backend)
	switch cfg.Store.Backend {
	case "sqlite":
		cfg.Store.DataDir = askString(rd, out, "Data directory", cfg.Store.DataDir)
	case "redis":
		cfg.Store.RedisAddr = askString(rd, out, "Redis addr", cfg.Store.RedisAddr)
		cfg.Store.RedisPrefix = askString(rd, out, "Redis key prefix", cfg.Store.RedisPrefix)
	}
	cfg.Server.SeedHall = askBool(rd, out, "Seed the global hall", cfg.Server.SeedHall)

	cfg.Client.ServerURL = askString(rd, out, "Listener server URL", cfg.Client.ServerURL)
	cfg.Client.Volume = askInt(rd, out, "Listener volume (0-100)", cfg.Client.Volume)

	cfg.P2P.Enabled = askBool(rd, out, "Replicate rooms over p2p", cfg.P2P.Enabled)
	if cfg.P2P.Enabled {
		cfg.P2P.ListenPort = askInt(rd, out, "P2P listen port (0=random)", cfg.P2P.ListenPort)
	}
	cfg.Log.Level = askString(rd, out, "Log level", cfg.Log.Level)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "Invalid config: %v\nKeeping previous values.\n", err)
		return orig
	}
	return cfg
}

func askString(in *bufio.Reader, out io.Writer, label, def string) string {
	fmt.Fprintf(out, "%s [%s]: ", label, def)
	s, _ := in.ReadString('\n')
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

func askInt(in *bufio.Reader, out io.Writer, label string, def int) int {
	for {
		fmt.Fprintf(out, "%s [%d]: ", label, def)
		s, _ := in.ReadString('\n')
		s = strings.TrimSpace(s)
		if s == "" {
			return def
		}
		if v, err := strconv.Atoi(s); err == nil {
			return v
		}
		fmt.Fprintln(out, "Please enter a number.")
	}
}

func askBool(in *bufio.Reader, out io.Writer, label string, def bool) bool {
	defStr := "n"
	if def {
		defStr = "y"
	}
	for {
		fmt.Fprintf(out, "%s [y/n] (default=%s): ", label, defStr)
		s, _ := in.ReadString('\n')
		s = strings.TrimSpace(strings.ToLower(s))
		if s == "" {
			return def
		}
		switch s {
		case "y", "yes", "true", "1":
			return true
		case "n", "no", "false", "0":
			return false
		default:
			fmt.Fprintln(out, "Please enter y or n.")
		}
	}
}
