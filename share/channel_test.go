package share

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/auvshare/bus"
	"github.com/temoto/auvshare/helpers"
	"github.com/temoto/auvshare/log2"
	share_config "github.com/temoto/auvshare/share/config"
)

const testTimeout = 5 * time.Second

type testHost struct {
	sync.Mutex
	front  []byte
	bottom []byte
	rot    Vec3
	depth  float32
}

func (h *testHost) FrontCameraImage() []byte  { h.Lock(); defer h.Unlock(); return h.front }
func (h *testHost) BottomCameraImage() []byte { h.Lock(); defer h.Unlock(); return h.bottom }
func (h *testHost) Rotation() Vec3            { h.Lock(); defer h.Unlock(); return h.rot }
func (h *testHost) Depth() float32            { h.Lock(); defer h.Unlock(); return h.depth }

func testConfig() share_config.Config {
	return share_config.Config{
		BottomURL:    "tcp://127.0.0.1:",
		FrontURL:     "tcp://127.0.0.1:",
		TelemetryURL: "tcp://127.0.0.1:",
		ControlURL:   "tcp://127.0.0.1:",
		SendHWM:      8,
		LogDebug:     true,
	}
}

func newTestChannel(t testing.TB, config share_config.Config, host Host, opts ...Option) *Channel {
	log := log2.NewTest(t, log2.LDebug)
	log.SetFlags(log2.LTestFlags)
	if host == nil {
		host = &testHost{}
	}
	ch, err := New(context.Background(), log, config, host, opts...)
	require.NoError(t, err)
	return ch
}

// client attached to endpoint, collects payloads
func newTestClient(t testing.TB, ch *Channel, endpoint string) (*bus.Client, <-chan []byte) {
	out := make(chan []byte, 16)
	c, err := bus.NewClient(bus.ClientOptions{
		URL: "tcp://" + ch.Addrs()[endpoint],
		Log: log2.NewTest(t, log2.LDebug),
		OnMessage: func(m *packet.Message) error {
			out <- append([]byte(nil), m.Payload...)
			return nil
		},
	})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, c.WaitReady(ctx))
	require.Eventually(t, func() bool { return ch.Stat()[endpoint].Snapshot().Clients == 1 }, testTimeout, 5*time.Millisecond)
	return c, out
}

func receiveTimeout(t testing.TB, ch <-chan []byte) []byte {
	select {
	case b := <-ch:
		return b
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func TestChannelTelemetry(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		codec Codec
	}{
		{"raw", RawCodec{}},
		{"protobuf", ProtoCodec{}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			host := &testHost{rot: Vec3{X: 2, Y: 1, Z: 3}, depth: 4}
			ch := newTestChannel(t, testConfig(), host, WithCodec(c.codec))
			defer ch.Close()
			assert.Equal(t, Telemetry{}, ch.GetTelemetry())

			cli, received := newTestClient(t, ch, EndpointTelemetry)
			defer cli.Close()
			ch.Update(33 * time.Millisecond)
			expect := Telemetry{Yaw: 1, Pitch: 2, Roll: 3, Depth: 4}
			assert.Equal(t, expect, ch.GetTelemetry())

			got, err := c.codec.DecodeTelemetry(receiveTimeout(t, received))
			require.NoError(t, err)
			assert.Equal(t, expect, got)
		})
	}
}

func TestChannelSetTelemetry(t *testing.T) {
	t.Parallel()

	ch := newTestChannel(t, testConfig(), nil)
	defer ch.Close()
	ch.SetTelemetry(Telemetry{Yaw: 1, Pitch: 2, Roll: 3, Depth: 4})
	assert.Equal(t, Telemetry{Yaw: 1, Pitch: 2, Roll: 3, Depth: 4}, ch.GetTelemetry())
}

func TestChannelImages(t *testing.T) {
	t.Parallel()

	r := helpers.RandUnix()
	host := &testHost{}
	ch := newTestChannel(t, testConfig(), host)
	defer ch.Close()
	front, frontRecv := newTestClient(t, ch, EndpointFront)
	defer front.Close()
	bottom, bottomRecv := newTestClient(t, ch, EndpointBottom)
	defer bottom.Close()

	m := helpers.RandBytes(r, 320*240*3, 320*240*3)
	n := helpers.RandBytes(r, 100, 200)
	host.front, host.bottom = m, n
	ch.UpdateTelemetry()
	host.front, host.bottom = n, m
	ch.UpdateTelemetry()

	assert.Equal(t, m, receiveTimeout(t, frontRecv))
	assert.Equal(t, n, receiveTimeout(t, frontRecv))
	assert.Equal(t, n, receiveTimeout(t, bottomRecv))
	assert.Equal(t, m, receiveTimeout(t, bottomRecv))
}

func TestChannelImageCopiedAtCall(t *testing.T) {
	t.Parallel()

	host := &testHost{}
	ch := newTestChannel(t, testConfig(), host)
	defer ch.Close()
	front, frontRecv := newTestClient(t, ch, EndpointFront)
	defer front.Close()

	// host reuses its frame buffer right after update, like sim.Vehicle
	buf := helpers.RandBytes(helpers.RandUnix(), 4096, 4096)
	expect := append([]byte(nil), buf...)
	host.front = buf
	ch.UpdateTelemetry()
	host.Lock()
	for i := range buf {
		buf[i] ^= 0xff
	}
	host.Unlock()
	assert.Equal(t, expect, receiveTimeout(t, frontRecv))
}

func TestChannelControl(t *testing.T) {
	t.Parallel()

	ch := newTestChannel(t, testConfig(), nil)
	defer ch.Close()
	assert.Equal(t, Control{}, ch.GetControl())
	assert.Less(t, int64(ch.ControlAge()), int64(0))

	cli, echo := newTestClient(t, ch, EndpointControl)
	defer cli.Close()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	expect := Control{Surge: 0.5, Sway: -0.5, Heave: 0.1, Yaw: 0.2, Pitch: 0.3, Roll: 0.4, Flags: 5}
	payload, _ := expect.MarshalBinary()
	require.NoError(t, cli.Publish(ctx, &packet.Message{Topic: "auv/control", QOS: packet.QOSAtLeastOnce, Payload: payload}))
	require.Eventually(t, func() bool { return ch.GetControl() == expect }, testTimeout, time.Millisecond)
	got := ch.GetControl()
	gotBytes, _ := got.MarshalBinary()
	assert.Equal(t, payload, gotBytes)
	assert.GreaterOrEqual(t, int64(ch.ControlAge()), int64(0))

	// wrong size is rejected, previous control stays
	require.NoError(t, cli.Publish(ctx, &packet.Message{Topic: "auv/control", QOS: packet.QOSAtLeastOnce, Payload: payload[:5]}))
	require.Eventually(t, func() bool { return ch.Stat()[EndpointControl].Snapshot().Rejected == 1 }, testTimeout, time.Millisecond)
	assert.Equal(t, expect, ch.GetControl())

	ch.Reset()
	assert.Equal(t, Control{}, ch.GetControl())
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, Control{}, ch.GetControl(), "no messages after Reset")

	require.NoError(t, ch.SendControl(expect))
	assert.Equal(t, payload, receiveTimeout(t, echo))
}

func TestChannelCloseOrder(t *testing.T) {
	t.Parallel()

	ch := newTestChannel(t, testConfig(), nil)
	steps := make([]string, 0, 6)
	ch.onCloseStep = func(step string) {
		if step == "receiver" {
			assert.False(t, ch.alive.IsRunning())
		}
		if step == EndpointBottom {
			// control endpoint still open while receiver is already gone
			assert.NotEmpty(t, ch.control.Addr())
		}
		if step == "context" {
			assert.Error(t, ch.Context().Err())
		} else {
			assert.NoError(t, ch.Context().Err())
		}
		steps = append(steps, step)
	}
	require.NoError(t, ch.Close())
	assert.Equal(t, []string{"receiver", "bottom", "front", "telemetry", "control", "context"}, steps)
	assert.Empty(t, ch.control.Addr())

	require.NoError(t, ch.Close())
	assert.Len(t, steps, 6)
}

func TestChannelBindError(t *testing.T) {
	t.Parallel()

	busy, err := net.Listen("tcp", "127.0.0.1:")
	require.NoError(t, err)
	defer busy.Close()

	config := testConfig()
	config.ControlURL = "tcp://" + busy.Addr().String()
	_, err = New(context.Background(), log2.NewTest(t, log2.LDebug), config, &testHost{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint=control url="+config.ControlURL)
}

func TestChannelConfigError(t *testing.T) {
	t.Parallel()

	config := testConfig()
	config.Codec = "xml"
	_, err := New(context.Background(), nil, config, &testHost{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "share.codec=xml"), err.Error())

	_, err = New(context.Background(), nil, testConfig(), nil)
	require.Error(t, err)
}

func TestChannelMetrics(t *testing.T) {
	t.Parallel()

	ch := newTestChannel(t, testConfig(), &testHost{front: []byte{1, 2, 3}})
	defer ch.Close()
	reg := prometheus.NewRegistry()
	require.NoError(t, ch.RegisterMetrics(reg))

	cli, received := newTestClient(t, ch, EndpointFront)
	defer cli.Close()
	ch.UpdateTelemetry()
	receiveTimeout(t, received)

	n, err := testutil.GatherAndCount(reg, "auvshare_sent_total")
	require.NoError(t, err)
	assert.Equal(t, 4, n, "one series per endpoint")
	assert.Equal(t, float64(-1), testutil.ToFloat64(ch.metrics.collectors[1]))
	// histogram, control age, then 6 per endpoint: bottom, front...
	frontSent := ch.metrics.collectors[2+6]
	require.Eventually(t, func() bool { return testutil.ToFloat64(frontSent) == 1 }, testTimeout, time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(ch.metrics.collectors[2+6+5]), "front clients")
}

func TestChannelResetIfOlder(t *testing.T) {
	t.Parallel()

	ch := newTestChannel(t, testConfig(), nil)
	defer ch.Close()
	assert.False(t, ch.ResetIfOlder(0), "nothing received yet")

	cli, _ := newTestClient(t, ch, EndpointControl)
	defer cli.Close()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	expect := Control{Surge: 0.5}
	payload, _ := expect.MarshalBinary()
	require.NoError(t, cli.Publish(ctx, &packet.Message{Topic: "auv/control", QOS: packet.QOSAtLeastOnce, Payload: payload}))
	require.Eventually(t, func() bool { return ch.GetControl() == expect }, testTimeout, time.Millisecond)

	assert.False(t, ch.ResetIfOlder(time.Hour))
	assert.Equal(t, expect, ch.GetControl())
	time.Sleep(20 * time.Millisecond)
	assert.True(t, ch.ResetIfOlder(10*time.Millisecond))
	assert.Equal(t, Control{}, ch.GetControl())
	assert.False(t, ch.ResetIfOlder(10*time.Millisecond), "already zero")
}
