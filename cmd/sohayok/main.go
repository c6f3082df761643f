package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Sohayok/common/version"
	"github.com/bdobrica/Sohayok/internal/sohayok/config"
	"github.com/bdobrica/Sohayok/internal/sohayok/logging"
)

func main() {
	logging.Preinit()
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "sohayok",
		Short:         "Sohayok interaction and progress engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $"+config.PathEnv+" or "+config.DefaultPath+")")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newReplayCmd(&configPath))
	root.AddCommand(newAnalyticsCmd(&configPath))
	root.AddCommand(newExportCmd(&configPath))
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Info())
			return err
		},
	}
}
