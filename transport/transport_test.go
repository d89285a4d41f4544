package transport

import (
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"

	"github.com/drblury/hubprovider/transport/transporttest"
)

type failingPublisher struct{ transporttest.Publisher }

func (failingPublisher) Close() error { return errors.New("publisher close") }

func TestTransportClose(t *testing.T) {
	t.Run("closes both halves", func(t *testing.T) {
		pub := &transporttest.Publisher{}
		sub := &transporttest.Subscriber{}
		assert.NoError(t, Transport{Publisher: pub, Subscriber: sub}.Close())
		assert.Equal(t, 1, pub.Closed)
		assert.Equal(t, 1, sub.Closed)
	})

	t.Run("closes a shared pubsub once", func(t *testing.T) {
		ps := &transporttest.PubSub{}
		assert.NoError(t, Transport{Publisher: ps, Subscriber: ps}.Close())
		assert.Equal(t, 1, ps.Closed())
	})

	t.Run("joins errors", func(t *testing.T) {
		sub := &transporttest.Subscriber{}
		err := Transport{Publisher: &failingPublisher{}, Subscriber: sub}.Close()
		assert.EqualError(t, err, "publisher close")
		assert.Equal(t, 1, sub.Closed)
	})

	t.Run("empty transport", func(t *testing.T) {
		assert.NoError(t, Transport{}.Close())
	})
}

func TestTransportHalvesSatisfyWatermill(t *testing.T) {
	var _ message.Publisher = &transporttest.Publisher{}
	var _ message.Subscriber = &transporttest.Subscriber{}
	var _ Config = &transporttest.Config{}
}
