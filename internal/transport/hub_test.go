package transport

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/slamviz/internal/foxglove"
)

var testSchema = foxglove.Schema{Name: "foxglove.PoseInFrame", Encoding: "protobuf", Data: []byte{1}}

func newTestHub(t *testing.T, opts HubOptions) *Hub {
	t.Helper()
	opts.Logger = slog.New(slog.DiscardHandler)
	h := NewHub(opts)
	t.Cleanup(h.Close)
	return h
}

func TestHub_AddChannel(t *testing.T) {
	h := newTestHub(t, HubOptions{})

	a, err := h.AddChannel("/slam/pose", testSchema)
	require.NoError(t, err)
	b, err := h.AddChannel("/tf", testSchema)
	require.NoError(t, err)

	assert.Equal(t, ChannelID(1), a.ID)
	assert.Equal(t, ChannelID(2), b.ID)
	assert.Equal(t, []Channel{a, b}, h.Channels())

	got, ok := h.Channel(b.ID)
	require.True(t, ok)
	assert.Equal(t, "/tf", got.Topic)

	got, ok = h.ChannelByTopic("/slam/pose")
	require.True(t, ok)
	assert.Equal(t, a.ID, got.ID)

	_, ok = h.Channel(99)
	assert.False(t, ok)

	_, err = h.AddChannel("/tf", testSchema)
	assert.ErrorIs(t, err, ErrDuplicateTopic)

	_, err = h.AddChannel("", testSchema)
	assert.Error(t, err)
}

func TestHub_PublishRoutesBySubscription(t *testing.T) {
	h := newTestHub(t, HubOptions{})
	pose, _ := h.AddChannel("/slam/pose", testSchema)
	tf, _ := h.AddChannel("/tf", testSchema)

	c1, channels, err := h.Register("test")
	require.NoError(t, err)
	assert.Len(t, channels, 2)
	c2, _, err := h.Register("test")
	require.NoError(t, err)

	require.NoError(t, h.Subscribe(c1, 10, pose.ID))
	require.NoError(t, h.Subscribe(c2, 20, tf.ID))

	n, err := h.Publish(pose.ID, 123, []byte("p"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ev := <-c1.Events()
	assert.Equal(t, EventData, ev.Kind)
	assert.Equal(t, uint32(10), ev.SubscriptionID)
	assert.Equal(t, uint64(123), ev.LogTime)
	assert.Equal(t, []byte("p"), ev.Payload)
	assert.Equal(t, pose, ev.Channel)

	assert.Empty(t, c2.Events())
}

func TestHub_PublishErrors(t *testing.T) {
	h := newTestHub(t, HubOptions{})

	_, err := h.Publish(42, 0, nil)
	assert.ErrorIs(t, err, ErrUnknownChannel)

	ch, _ := h.AddChannel("/slam/pose", testSchema)
	n, err := h.Publish(ch.ID, 0, nil)
	require.NoError(t, err)
	assert.Zero(t, n, "no subscribers")

	h.Close()
	_, err = h.Publish(ch.ID, 0, nil)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = h.AddChannel("/late", testSchema)
	assert.ErrorIs(t, err, ErrClosed)
	_, _, err = h.Register("test")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestHub_FullQueueDropsWithoutBlocking(t *testing.T) {
	h := newTestHub(t, HubOptions{SendBuffer: 2})
	ch, _ := h.AddChannel("/slam/pointcloud", testSchema)
	c, _, _ := h.Register("test")
	require.NoError(t, h.Subscribe(c, 0, ch.ID))

	for i := 0; i < 5; i++ {
		_, err := h.Publish(ch.ID, uint64(i), nil)
		require.NoError(t, err)
	}

	assert.Len(t, c.Events(), 2)
	assert.Equal(t, uint64(3), c.Dropped())
}

func TestHub_SubscribeErrors(t *testing.T) {
	h := newTestHub(t, HubOptions{})
	ch, _ := h.AddChannel("/slam/pose", testSchema)
	c, _, _ := h.Register("test")

	assert.ErrorIs(t, h.Subscribe(c, 1, 99), ErrUnknownChannel)
	require.NoError(t, h.Subscribe(c, 1, ch.ID))
	assert.ErrorIs(t, h.Subscribe(c, 1, ch.ID), ErrDuplicateSubscription)

	require.NoError(t, h.Unsubscribe(c, 1))
	require.NoError(t, h.Subscribe(c, 1, ch.ID), "id is free again")

	h.Unregister(c)
	assert.ErrorIs(t, h.Subscribe(c, 2, ch.ID), ErrUnknownClient)
	assert.ErrorIs(t, h.Unsubscribe(c, 1), ErrUnknownClient)
}

func TestHub_LateChannelIsAdvertised(t *testing.T) {
	h := newTestHub(t, HubOptions{})
	c, channels, _ := h.Register("test")
	assert.Empty(t, channels)

	ch, err := h.AddChannel("/tf", testSchema)
	require.NoError(t, err)

	ev := <-c.Events()
	assert.Equal(t, EventAdvertise, ev.Kind)
	assert.Equal(t, ch, ev.Channel)
}

func TestHub_MaxClients(t *testing.T) {
	h := newTestHub(t, HubOptions{MaxClients: 1})
	c, _, err := h.Register("test")
	require.NoError(t, err)

	_, _, err = h.Register("test")
	assert.ErrorIs(t, err, ErrTooManyClients)

	h.Unregister(c)
	_, _, err = h.Register("test")
	assert.NoError(t, err)
}

func TestHub_UnregisterClosesDone(t *testing.T) {
	h := newTestHub(t, HubOptions{})
	c, _, _ := h.Register("test")
	assert.Equal(t, 1, h.ClientCount())

	h.Unregister(c)
	h.Unregister(c)

	assert.Equal(t, 0, h.ClientCount())
	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestHub_CloseUnregistersEveryone(t *testing.T) {
	h := newTestHub(t, HubOptions{})
	a, _, _ := h.Register("test")
	b, _, _ := h.Register("test")

	h.Close()
	h.Close()

	<-a.Done()
	<-b.Done()
	assert.Equal(t, 0, h.ClientCount())
}

func TestHub_NotifyQueuesStatus(t *testing.T) {
	h := newTestHub(t, HubOptions{})
	c, _, _ := h.Register("test")

	h.Notify(c, StatusError, "bad")
	ev := <-c.Events()
	assert.Equal(t, EventStatus, ev.Kind)
	assert.Equal(t, StatusError, ev.StatusLevel)
	assert.Equal(t, "bad", ev.StatusMessage)
}
