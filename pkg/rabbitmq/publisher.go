package rabbitmq

import (
	"context"
	"encoding/json"

	rmq "github.com/wagslane/go-rabbitmq"
	"meeting-bot/config"
)

// Publisher sends JSON messages to the bot exchange. It owns its own
// connection, which reconnects on its own.
type Publisher struct {
	conn      *rmq.Conn
	publisher *rmq.Publisher
	exchange  string
}

func NewPublisher(cfg *config.RabbitMQ) (*Publisher, error) {
	conn, err := rmq.NewConn(cfg.URL(), rmq.WithConnectionOptionsLogging)
	if err != nil {
		return nil, err
	}
	exchange := cfg.ExchangeName
	if exchange == "" {
		exchange = JoinRequestBinding.Exchange
	}
	publisher, err := rmq.NewPublisher(
		conn,
		rmq.WithPublisherOptionsLogging,
		rmq.WithPublisherOptionsExchangeName(exchange),
		rmq.WithPublisherOptionsExchangeKind(cfg.Kind),
		rmq.WithPublisherOptionsExchangeDurable,
		rmq.WithPublisherOptionsExchangeDeclare,
	)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, publisher: publisher, exchange: exchange}, nil
}

func (p *Publisher) Publish(ctx context.Context, routingKey string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.publisher.PublishWithContext(
		ctx,
		data,
		[]string{routingKey},
		rmq.WithPublishOptionsContentType("application/json"),
		rmq.WithPublishOptionsPersistentDelivery,
		rmq.WithPublishOptionsExchange(p.exchange),
	)
}

func (p *Publisher) Close() error {
	p.publisher.Close()
	return p.conn.Close()
}
