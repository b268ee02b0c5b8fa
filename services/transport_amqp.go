package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const DEFAULT_FOOD_EXCHANGE = "food_events"

// AMQPTransport - push-канал поверх topic exchange RabbitMQ. Routing key - имя события.
type AMQPTransport struct {
	URL      string
	Exchange string
}

func NewAMQPTransport(url, exchange string) *AMQPTransport {
	if exchange == "" {
		exchange = DEFAULT_FOOD_EXCHANGE
	}
	return &AMQPTransport{URL: url, Exchange: exchange}
}

func (t *AMQPTransport) Name() string { return "amqp" }

func (t *AMQPTransport) Dial(ctx context.Context, creds Credentials) (Stream, error) {
	conn, err := amqp.Dial(t.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	fail := func(err error) (Stream, error) {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(
		t.Exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fail(fmt.Errorf("failed to declare exchange: %w", err))
	}
	// очередь на одно подключение: exclusive и auto-delete
	q, err := ch.QueueDeclare(
		"",
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fail(fmt.Errorf("failed to declare queue: %w", err))
	}
	if err := ch.QueueBind(q.Name, "#", t.Exchange, false, nil); err != nil {
		return fail(fmt.Errorf("failed to bind queue: %w", err))
	}
	// потребитель живет до Close потока, ctx ограничивает только рукопожатие
	msgs, err := ch.ConsumeWithContext(context.WithoutCancel(ctx),
		q.Name,
		"",
		true,  // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fail(fmt.Errorf("failed to start consumer: %w", err))
	}
	return &amqpStream{
		conn:   conn,
		ch:     ch,
		msgs:   msgs,
		closed: conn.NotifyClose(make(chan *amqp.Error, 1)),
	}, nil
}

type amqpStream struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	msgs   <-chan amqp.Delivery
	closed chan *amqp.Error
}

func (s *amqpStream) Receive(ctx context.Context) (Frame, error) {
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case err, ok := <-s.closed:
		if ok && err != nil {
			return Frame{}, err
		}
		return Frame{}, errors.New("amqp connection closed")
	case d, ok := <-s.msgs:
		if !ok {
			return Frame{}, errors.New("amqp delivery channel closed")
		}
		return deliveryFrame(d)
	}
}

func (s *amqpStream) Close() error {
	_ = s.ch.Close()
	return s.conn.Close()
}

func deliveryFrame(d amqp.Delivery) (Frame, error) {
	if !json.Valid(d.Body) {
		return Frame{Event: d.RoutingKey}, fmt.Errorf("%w: routing key %s: invalid json", ErrMalformedPayload, d.RoutingKey)
	}
	return Frame{Event: d.RoutingKey, Data: json.RawMessage(d.Body)}, nil
}
