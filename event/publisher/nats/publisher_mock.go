package nats

import (
	"github.com/nats-io/stan.go"
	"github.com/stretchr/testify/mock"
)

type connMock struct {
	mock.Mock
	stan.Conn
	handler stan.MsgHandler
}

func (c *connMock) Publish(subject string, data []byte) error {
	args := c.Called(subject, data)
	return args.Error(0)
}

func (c *connMock) Subscribe(subject string, cb stan.MsgHandler, opts ...stan.SubscriptionOption) (stan.Subscription, error) {
	args := c.Called(subject)
	c.handler = cb
	sub, _ := args.Get(0).(stan.Subscription)
	return sub, args.Error(1)
}

func (c *connMock) Close() error {
	return c.Called().Error(0)
}
