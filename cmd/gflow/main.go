package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gw123/gflow-sub001/internal/logging"
)

// app carries state shared by every command.
type app struct {
	v          *viper.Viper
	configPath string
	cfg        Config
	logger     *slog.Logger
	// logOut receives log output; commands speaking a protocol on stdout
	// keep it on stderr.
	logOut io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{v: newViper(), logOut: os.Stderr}

	root := &cobra.Command{
		Use:           "gflow",
		Short:         "Run node-graph workflows from files, HTTP, timers and MCP",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(a.v, a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logging.New(a.logOut, cfg.LogLevel, cfg.LogFormat)
			slog.SetDefault(a.logger)
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "settings file (default ~/.gflow/settings.{json,yaml})")
	flags.String("db", "", "database path")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text or json")
	_ = a.v.BindPFlag("db_path", flags.Lookup("db"))
	_ = a.v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("log_format", flags.Lookup("log-format"))

	root.AddCommand(
		newServeCmd(a),
		newRunCmd(a),
		newValidateCmd(a),
		newDiagramCmd(),
		newMCPCmd(a),
		newVersionCmd(),
	)
	return root
}
