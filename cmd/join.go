package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"meeting-bot/config"
	"meeting-bot/dto"
	"meeting-bot/pkg/rabbitmq"
)

// join asks a running bot to join a meeting by publishing a join request.
func join(config *config.Config) *cobra.Command {
	var name, url string
	cmd := &cobra.Command{
		Use:   "join",
		Short: "request a running bot to join a meeting now",
		RunE: func(cmd *cobra.Command, args []string) error {
			if config.Queue == nil {
				return errors.New("rabbitmq is not configured")
			}
			publisher, err := rabbitmq.NewPublisher(config.Queue)
			if err != nil {
				return err
			}
			defer publisher.Close()

			msg := dto.JoinRequestMessage{
				RequestId:   uuid.New(),
				DisplayName: name,
				URL:         url,
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if err := publisher.Publish(ctx, rabbitmq.JoinRequestBinding.RoutingKey, msg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "join request %s published\n", msg.RequestId)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name used in the meeting")
	cmd.Flags().StringVar(&url, "url", "", "meeting url")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}
