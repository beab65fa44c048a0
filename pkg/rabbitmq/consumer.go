package rabbitmq

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"meeting-bot/config"
)

// Binding names the exchange, queue and routing key a consumer reads from.
// When DeadLetter is set, failed messages are retried and then routed to
// "<queue>_dlq" through "<exchange>_dlx".
type Binding struct {
	Exchange   string
	Queue      string
	RoutingKey string
	DeadLetter bool
	MaxTries   uint
}

var (
	JoinRequestBinding = Binding{
		Exchange:   "meeting_bot_exchange",
		Queue:      "join_requests",
		RoutingKey: "meeting.join.request",
		DeadLetter: true,
		MaxTries:   3,
	}
	MeetingInviteBinding = Binding{
		Exchange:   "meeting_bot_exchange",
		Queue:      "meeting_invites",
		RoutingKey: "meeting.invite",
	}
)

type Consumer[T any] interface {
	Consume(ctx context.Context, dependencies T) error
}

type consumer[T any] struct {
	conn       *amqp.Connection
	cfg        *config.RabbitMQ
	binding    Binding
	handler    func(ctx context.Context, msg amqp.Delivery, dependencies T) error
	numWorkers int
}

func (c consumer[T]) Consume(ctx context.Context, dependencies T) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	b := c.binding
	logger := zerolog.Ctx(ctx).With().Str("queue", b.Queue).Str("exchange", b.Exchange).Logger()

	err = ch.ExchangeDeclare(b.Exchange, c.cfg.Kind, true, false, false, false, nil)
	if err != nil {
		logger.Error().Err(err).Msg("failed to declare exchange")
		return err
	}

	var args amqp.Table
	if b.DeadLetter {
		dlxName := b.Exchange + "_dlx"
		dlqName := b.Queue + "_dlq"
		dlqRoutingKey := "dlq." + b.RoutingKey

		err = ch.ExchangeDeclare(dlxName, c.cfg.Kind, true, false, false, false, nil)
		if err != nil {
			logger.Error().Err(err).Str("dlx", dlxName).Msg("failed to declare dlx")
			return err
		}
		dlq, err := ch.QueueDeclare(dlqName, true, false, false, false, nil)
		if err != nil {
			logger.Error().Err(err).Str("dlq", dlqName).Msg("failed to declare dlq")
			return err
		}
		if err = ch.QueueBind(dlq.Name, dlqRoutingKey, dlxName, false, nil); err != nil {
			logger.Error().Err(err).Msg("failed to bind dlq")
			return err
		}
		args = amqp.Table{
			"x-dead-letter-exchange":    dlxName,
			"x-dead-letter-routing-key": dlqRoutingKey,
		}
	}

	q, err := ch.QueueDeclare(b.Queue, true, false, false, false, args)
	if err != nil {
		logger.Error().Err(err).Msg("failed to declare queue")
		return err
	}

	err = ch.QueueBind(q.Name, b.RoutingKey, b.Exchange, false, nil)
	if err != nil {
		logger.Error().Err(err).Msg("failed to bind queue")
		return err
	}

	err = ch.Qos(c.numWorkers, 0, false)
	if err != nil {
		logger.Error().Err(err).Msg("failed to set QoS")
		return err
	}

	deliveries, err := ch.Consume(b.Queue, "", false, false, false, false, nil)
	if err != nil {
		logger.Error().Err(err).Msg("failed to consume queue")
		return err
	}

	logger.Info().Str("routing_key", b.RoutingKey).Int("workers", c.numWorkers).Msg("consumer started")

	return dispatch(ctx, deliveries, c.numWorkers, func(workerId int, msg amqp.Delivery) {
		c.handle(ctx, logger, workerId, msg, dependencies)
	})
}

// dispatch fans deliveries out to a fixed pool of workers until deliveries is
// closed or ctx is done, then waits for the workers to finish. Deliveries not
// handed to a worker stay unacked and are redelivered by the broker.
func dispatch(ctx context.Context, deliveries <-chan amqp.Delivery, numWorkers int, handle func(workerId int, msg amqp.Delivery)) error {
	jobs := make(chan amqp.Delivery, numWorkers)
	var wg sync.WaitGroup
	for i := 1; i <= numWorkers; i++ {
		wg.Add(1)
		go func(workerId int) {
			defer wg.Done()
			for msg := range jobs {
				handle(workerId, msg)
			}
		}(i)
	}
	defer func() {
		close(jobs)
		wg.Wait()
	}()

	for {
		select {
		case delivery, ok := <-deliveries:
			if !ok {
				return nil
			}
			select {
			case jobs <- delivery:
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c consumer[T]) handle(ctx context.Context, logger zerolog.Logger, workerId int, msg amqp.Delivery, dependencies T) {
	if !c.binding.DeadLetter {
		if err := c.handler(ctx, msg, dependencies); err != nil {
			logger.Error().Err(err).Int("worker_id", workerId).Msg("failed to handle message")
		}
		if err := msg.Ack(false); err != nil {
			logger.Error().Err(err).Msg("failed to acknowledge message")
		}
		return
	}

	operation := func() (struct{}, error) {
		return struct{}{}, c.handler(ctx, msg, dependencies)
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 10 * time.Second

	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(max(c.binding.MaxTries, 1)))
	if err != nil {
		logger.Error().Err(err).Int("worker_id", workerId).Msg("failed to handle message after all retries")
		if nackErr := msg.Nack(false, false); nackErr != nil {
			logger.Error().Err(nackErr).Msg("failed to nack message to send to DLQ")
		}
		return
	}
	if ackErr := msg.Ack(false); ackErr != nil {
		logger.Error().Err(ackErr).Msg("failed to acknowledge message")
	}
}

func NewConsumer[T any](
	conn *amqp.Connection,
	cfg *config.RabbitMQ,
	binding Binding,
	numWorkers int,
	handler func(ctx context.Context, msg amqp.Delivery, dependencies T) error,
) Consumer[T] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if cfg.ExchangeName != "" {
		binding.Exchange = cfg.ExchangeName
	}
	return &consumer[T]{
		conn:       conn,
		cfg:        cfg,
		binding:    binding,
		handler:    handler,
		numWorkers: numWorkers,
	}
}
