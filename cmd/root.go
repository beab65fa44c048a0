package cmd

import (
	"github.com/spf13/cobra"
	"meeting-bot/config"
)

func Root(config *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "meeting-bot",
		Short: "joins scheduled online meetings and records them",
	}
	rootCmd.AddCommand(server(config))
	rootCmd.AddCommand(join(config))
	rootCmd.AddCommand(doctor(config))
	return rootCmd
}
