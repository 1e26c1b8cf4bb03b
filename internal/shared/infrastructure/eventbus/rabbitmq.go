package eventbus

import (
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeName is the durable topic exchange licence events are routed through.
const ExchangeName = "licenceledger.domain.events"

// session is one AMQP connection with a single channel on which the topic
// exchange has been declared.
type session struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func openSession(url, exchange string) (*session, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}

	s := &session{conn: conn, ch: ch}
	// durable, not auto-deleted, not internal, wait
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		s.abort()
		return nil, fmt.Errorf("rabbitmq: declare exchange %s: %w", exchange, err)
	}
	return s, nil
}

// abort closes a session that failed during setup.
func (s *session) abort() {
	_ = s.ch.Close()
	_ = s.conn.Close()
}

func (s *session) close(logger *slog.Logger) error {
	if err := s.ch.Close(); err != nil {
		logger.Warn("rabbitmq channel close", "error", err)
	}
	return s.conn.Close()
}
