package bus_test

import (
	"testing"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/auvshare/bus"
	"github.com/temoto/auvshare/helpers"
)

func newTestPublisher(env *tenv, opt bus.PublisherOptions) *bus.Publisher {
	if opt.Log == nil {
		opt.Log = env.log
	}
	p := bus.NewPublisher(opt)
	require.NoError(env.t, p.Listen(env.ctx, "tcp://127.0.0.1:", testDefaultTimeout*5))
	env.addr = p.Addr()
	require.NotEmpty(env.t, env.addr)
	return p
}

func TestPublisherImageSizes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	p := newTestPublisher(env, bus.PublisherOptions{Name: "front", Topic: "auv/front", SendHWM: 4})
	defer func() { assert.NoError(t, p.Close()) }()
	assert.Equal(t, bus.ErrNoSubscribers, p.Publish([]byte{1}))

	conn := connDial(env)
	connConnect(env, conn, "")
	require.Eventually(t, func() bool { return len(p.Clients()) == 1 }, testDefaultTimeout, 10*time.Millisecond)

	m := helpers.RandBytes(env.rand, 640*480*3, 640*480*3)
	n := helpers.RandBytes(env.rand, 1, 64)
	expectM := append([]byte(nil), m...)
	require.NoError(t, p.Publish(m))
	m[0] ^= 0xff // publisher keeps own copy
	require.NoError(t, p.Publish(n))

	pub1 := connReceive(env, conn).(*packet.Publish)
	pub2 := connReceive(env, conn).(*packet.Publish)
	assert.Equal(t, "auv/front", pub1.Message.Topic)
	assert.Equal(t, len(expectM), len(pub1.Message.Payload))
	assert.Equal(t, expectM, pub1.Message.Payload)
	assert.Equal(t, len(n), len(pub2.Message.Payload))
	assert.Equal(t, n, pub2.Message.Payload)

	st := p.Stat().Snapshot()
	assert.Equal(t, uint64(2), st.Sent)
	assert.Equal(t, uint64(len(m)+len(n)), st.SentBytes)
	assert.Equal(t, int64(1), st.Clients)
}

func TestPublisherManySubscribers(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	p := newTestPublisher(env, bus.PublisherOptions{Name: "telemetry", Topic: "auv/telemetry", SendHWM: 1})
	defer p.Close()
	conns := make([]transport.Conn, 0, 3)
	for i := 0; i < 3; i++ {
		conn := connDial(env)
		connConnect(env, conn, "")
		conns = append(conns, conn)
	}
	require.Eventually(t, func() bool { return len(p.Clients()) == 3 }, testDefaultTimeout, 10*time.Millisecond)
	payload := []byte{0, 0, 0x80, 0x3f}
	require.NoError(t, p.Publish(payload))
	for _, c := range conns {
		pub := connReceive(env, c).(*packet.Publish)
		assert.Equal(t, payload, pub.Message.Payload)
	}
}

func TestPublisherLingerFlush(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	p := newTestPublisher(env, bus.PublisherOptions{Name: "bottom", Topic: "auv/bottom", SendHWM: 8, Linger: time.Second})
	conn := connDial(env)
	connConnect(env, conn, "")
	require.Eventually(t, func() bool { return len(p.Clients()) == 1 }, testDefaultTimeout, 10*time.Millisecond)
	for i := byte(0); i < 4; i++ {
		require.NoError(t, p.Publish([]byte{i}))
	}
	require.NoError(t, p.Close())
	for i := byte(0); i < 4; i++ {
		pub := connReceive(env, conn).(*packet.Publish)
		assert.Equal(t, []byte{i}, pub.Message.Payload)
	}
	_, err := conn.Receive()
	assert.Error(t, err)
}

func TestPublisherIgnoresIncoming(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	p := newTestPublisher(env, bus.PublisherOptions{Name: "front"})
	defer p.Close()
	assert.Equal(t, "front", p.Topic())
	conn := connDial(env)
	connConnect(env, conn, "")
	connPublish(env, conn, packet.Message{Topic: "front", QOS: packet.QOSAtLeastOnce, Payload: []byte("hi")})
	assert.Equal(t, uint64(1), p.Stat().Snapshot().Rejected)
}
