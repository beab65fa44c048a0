package cmd

import (
	"github.com/spf13/cobra"
	"meeting-bot/config"
	server2 "meeting-bot/server"
)

func server(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "start the meeting bot and its http api",
		Run: func(cmd *cobra.Command, args []string) {
			server2.RunHttp(config)
		},
	}
}
