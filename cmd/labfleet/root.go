package main

import (
	"os"

	"github.com/spf13/cobra"
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "labfleet",
		Short: "Provision a fleet of lab instances over SSH through a relay host",
	}

	cmd.AddCommand(deployCmd())
	return cmd
}

func getenv(k, fb string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return fb
}
