package nats

import (
	"fmt"

	"github.com/nats-io/stan.go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/teamlint/pg-implicit/config"
	"github.com/teamlint/pg-implicit/event"
)

const (
	ErrNatsConnection = "nats connection error"
)

// NatsPublisher represent event publisher.
type NatsPublisher struct {
	conn stan.Conn
}

// Close NATS connection.
func (n NatsPublisher) Close() error {
	return n.conn.Close()
}

// Publish serializes the event and publishes it on the bus.
func (n NatsPublisher) Publish(subject string, evt *event.Event) error {
	msg, err := evt.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal err: %w", err)
	}
	return n.conn.Publish(subject, msg)
}

// Subscribe delivers decoded events published under subject to fn.
// Undecodable messages are logged and skipped.
func (n NatsPublisher) Subscribe(subject string, fn func(*event.Event)) (event.Subscription, error) {
	sub, err := n.conn.Subscribe(subject, func(m *stan.Msg) {
		var evt event.Event
		if err := evt.UnmarshalJSON(m.Data); err != nil {
			logrus.WithError(err).WithField("subject", subject).Warnln("drop undecodable invalidation event")
			return
		}
		fn(&evt)
	})
	if err != nil {
		return nil, errors.Wrap(err, "nats subscribe")
	}
	return sub, nil
}

// New return new NatsPublisher instance.
func New(conn stan.Conn) *NatsPublisher {
	return &NatsPublisher{conn: conn}
}

// Register 注册 NATS 事件发布器
func Register(cfg *config.Config) error {
	sc, err := stan.Connect(cfg.Publisher.ClusterID, cfg.Publisher.ClientID, stan.NatsURL(cfg.Publisher.Address))
	if err != nil {
		return errors.Wrap(err, ErrNatsConnection)
	}
	event.RegisterPublisher(config.PublisherNats, New(sc))
	return nil
}
