// Command scheduler runs the clinic appointment API and its operator tooling.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/example/clinic-scheduler/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type configLoader func() (config.Config, error)

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:          "scheduler",
		Short:        "Clinic appointment scheduler",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file used to seed SCHEDULER_* variables")

	load := func() (config.Config, error) {
		return config.LoadFile(envFile)
	}

	root.AddCommand(serveCmd(load))
	root.AddCommand(migrateCmd(load))
	root.AddCommand(userCmd(load))
	return root
}
