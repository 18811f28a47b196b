package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"tablepos/internal/config"
)

// AMQPSink публикует события в topic exchange с подтверждениями брокера.
// Ключ маршрутизации: <тип события>.<станция>.
type AMQPSink struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string

	acks <-chan amqp.Confirmation
	mu   sync.Mutex // publisher confirms требуют последовательной публикации
}

func DialAMQP(cfg config.RabbitMQConfig) (*AMQPSink, error) {
	vhost := cfg.VHost
	if vhost == "" {
		vhost = "/"
	}
	url := fmt.Sprintf("amqp://%s:%s@%s:%d/%s", cfg.User, cfg.Password, cfg.Host, cfg.Port, vhost)
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	return &AMQPSink{conn: conn, ch: ch, exchange: cfg.Exchange, acks: acks}, nil
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Ping() error {
	if s.conn == nil || s.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	return nil
}

func (s *AMQPSink) Close() {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

func routingKey(msg Message, target string) string {
	return string(msg.Type) + "." + target
}

// Deliver публикует по сообщению на каждую станцию и ждёт ack
func (s *AMQPSink) Deliver(ctx context.Context, msg Message) error {
	if err := s.Ping(); err != nil {
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, target := range msg.Targets {
		err := s.ch.PublishWithContext(ctx, s.exchange, routingKey(msg, target), false, false, amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Type:         string(msg.Type),
			Headers: amqp.Table{
				"tenant_id": msg.TenantID,
				"outbox_id": msg.ID,
			},
			Body: body,
		})
		if err != nil {
			return err
		}
		select {
		case conf := <-s.acks:
			if !conf.Ack {
				return errors.New("publish NACK from broker")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
