package nats

import (
	"testing"
	"time"

	"github.com/nats-io/stan.go"
	"github.com/nats-io/stan.go/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/teamlint/pg-implicit/event"
)

func TestPublish(t *testing.T) {
	conn := new(connMock)
	evt := &event.Event{
		ID:         "e1",
		Origin:     "node-a",
		RelID:      16385,
		Reason:     "add implicit time",
		CommitTime: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	conn.On("Publish", "implicit_relcache", mock.MatchedBy(func(data []byte) bool {
		var got event.Event
		if err := got.UnmarshalJSON(data); err != nil {
			return false
		}
		return got.RelID == evt.RelID && got.Origin == evt.Origin && got.CommitTime.Equal(evt.CommitTime)
	})).Return(nil)

	pub := New(conn)
	require.NoError(t, pub.Publish(evt.GetSubject("implicit"), evt))
	conn.AssertExpectations(t)
}

func TestSubscribeDecodes(t *testing.T) {
	conn := new(connMock)
	conn.On("Subscribe", "implicit_relcache").Return(nil, nil)
	pub := New(conn)

	var got []*event.Event
	_, err := pub.Subscribe("implicit_relcache", func(evt *event.Event) {
		got = append(got, evt)
	})
	require.NoError(t, err)
	require.NotNil(t, conn.handler)

	data, err := (&event.Event{ID: "e2", RelID: 16390, All: true}).MarshalJSON()
	require.NoError(t, err)
	conn.handler(&stan.Msg{MsgProto: pb.MsgProto{Data: data}})
	conn.handler(&stan.Msg{MsgProto: pb.MsgProto{Data: []byte("{not json")}})

	require.Len(t, got, 1)
	assert.Equal(t, "e2", got[0].ID)
	assert.True(t, got[0].All)
}

func TestClose(t *testing.T) {
	conn := new(connMock)
	conn.On("Close").Return(nil)
	assert.NoError(t, New(conn).Close())
	conn.AssertExpectations(t)
}
