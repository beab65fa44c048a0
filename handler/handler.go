package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"meeting-bot/dto"
	"meeting-bot/entities"
	"meeting-bot/service"
)

type ManualJoiner interface {
	ManualJoin(ctx context.Context, displayName, meetingURL string) (*entities.Meeting, error)
}

type InviteSink interface {
	Offer(meeting *entities.Meeting) bool
}

type ServiceDependencies struct {
	Bot     ManualJoiner
	Invites InviteSink
}

// permanent marks err so the consumer stops retrying and dead-letters the message.
func permanent(err error) error {
	return backoff.Permanent(fmt.Errorf("%w: %w", service.ErrNonRetryable, err))
}

func JoinRequestHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var req dto.JoinRequestMessage
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal join request")
		return permanent(err)
	}

	zerolog.Ctx(ctx).Info().
		Str("request_id", req.RequestId.String()).
		Str("url", req.URL).
		Msg("received join request")

	m, err := deps.Bot.ManualJoin(ctx, req.DisplayName, req.URL)
	switch {
	case err == nil:
		zerolog.Ctx(ctx).Info().Str("meeting_id", m.ID).Msg("join request accepted")
		return nil
	case errors.Is(err, service.ErrNotRunning):
		return err
	default:
		zerolog.Ctx(ctx).Warn().Err(err).Str("request_id", req.RequestId.String()).Msg("join request rejected")
		return permanent(err)
	}
}

func MeetingInviteHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var invite dto.MeetingInviteMessage
	if err := json.Unmarshal(msg.Body, &invite); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal meeting invite")
		return err
	}

	m, err := service.MeetingFromInvite(invite)
	if err != nil {
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("meeting_id", m.ID).
		Str("title", m.Title).
		Time("start_time", m.StartTime).
		Msg("received meeting invite")

	if !deps.Invites.Offer(m) {
		zerolog.Ctx(ctx).Debug().Str("meeting_id", m.ID).Msg("invite already queued")
	}
	return nil
}
