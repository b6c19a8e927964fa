package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "simexchange",
	Short:         "Simulated securities venue with settlement netting",
	SilenceUsage:  true,
	SilenceErrors: false,
	RunE:          runServe,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
