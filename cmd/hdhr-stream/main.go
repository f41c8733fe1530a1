// Package main implements hdhr-stream, a command line tool that opens
// HDHomeRun recordings and tuner streams and copies them to a file.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/attaebra/hdhr-stream/internal/config"
	"github.com/attaebra/hdhr-stream/internal/container"
	"github.com/attaebra/hdhr-stream/internal/logger"
)

var version = "dev"

type app struct {
	cfg       *config.Config
	container *container.Container
}

func newRootCmd() *cobra.Command {
	a := &app{cfg: config.DefaultConfig()}

	root := &cobra.Command{
		Use:           "hdhr-stream",
		Short:         "Open HDHomeRun streams and copy them to a file or stdout",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.LoadFromEnvironment(); err != nil {
				return err
			}
			if err := a.cfg.LoadFromFlags(cmd.Flags()); err != nil {
				return err
			}
			c, err := container.New(a.cfg)
			if err != nil {
				return err
			}
			a.container = c
			return nil
		},
	}
	a.cfg.BindFlags(root.PersistentFlags())

	root.AddCommand(
		newHTTPCmd(a),
		newTunerCmd(a),
		newOpenCmd(a),
		newVersionCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Error("❌ hdhr-stream failed", logger.ErrorField("error", err))
		os.Exit(1)
	}
}
