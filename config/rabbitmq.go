package config

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

func (r *RabbitMQ) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", r.User, r.Pass, r.Host, r.Port)
}

func NewRabbitMQConn(ctx context.Context, cfg *RabbitMQ) (*amqp.Connection, error) {
	connAddr := cfg.URL()

	operation := func() (*amqp.Connection, error) {
		conn, err := amqp.Dial(connAddr)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("host", cfg.Host).Msg("Failed to connect to RabbitMQ. Retrying...")
			return nil, err
		}

		return conn, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 10 * time.Second
	maxRetries := uint(5)
	conn, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(maxRetries))
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Giving up connecting to RabbitMQ")
		return nil, err
	}

	zerolog.Ctx(ctx).Info().Str("host", cfg.Host).Msg("Successfully connected to RabbitMQ")
	go func() {
		<-ctx.Done()
		if err := conn.Close(); err != nil && !conn.IsClosed() {
			zerolog.Ctx(ctx).Error().Err(err).Msg("Failed to close RabbitMQ connection")
		}
		zerolog.Ctx(ctx).Info().Msg("RabbitMQ connection closed")
	}()

	return conn, nil
}
