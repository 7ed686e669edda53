// Package share is the sharing channel between simulator and outside tools:
// camera frames and telemetry go out, control input comes in.
package share

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/auvshare/bus"
	"github.com/temoto/auvshare/helpers"
	"github.com/temoto/auvshare/helpers/atomic_clock"
	"github.com/temoto/auvshare/log2"
	share_config "github.com/temoto/auvshare/share/config"
)

const (
	EndpointBottom    = "bottom"
	EndpointFront     = "front"
	EndpointTelemetry = "telemetry"
	EndpointControl   = "control"
)

type Option func(*Channel)

// WithCodec overrides share.codec config.
func WithCodec(c Codec) Option { return func(ch *Channel) { ch.codec = c } }

type Channel struct { //nolint:maligned
	alive   *alive.Alive
	cancel  context.CancelFunc
	closed  uint32
	codec   Codec
	config  share_config.Config
	ctx     context.Context
	host    Host
	log     *log2.Log
	metrics *Metrics

	bottom    *bus.Publisher
	front     *bus.Publisher
	telemetry *bus.Publisher
	control   *bus.Pair

	telemetryRec atomic.Value // Telemetry

	controlMu  sync.Mutex
	controlRec Control
	controlAt  atomic_clock.Clock

	// test hook, called after each teardown step
	onCloseStep func(step string)
}

// New binds four endpoints and starts control receiver.
// Any bind error is returned, already opened endpoints are closed.
func New(ctx context.Context, log *log2.Log, config share_config.Config, host Host, opts ...Option) (*Channel, error) {
	if host == nil {
		return nil, errors.NotValidf("code error share.New host=nil")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Annotate(err, "share config")
	}
	ch := &Channel{
		alive:  alive.NewAlive(),
		config: config,
		host:   host,
		log:    log,
	}
	ch.telemetryRec.Store(Telemetry{})
	for _, opt := range opts {
		opt(ch)
	}
	if ch.codec == nil {
		codec, err := CodecByName(config.CodecName())
		if err != nil {
			return nil, errors.Annotate(err, "share config")
		}
		ch.codec = codec
	}
	ch.ctx, ch.cancel = context.WithCancel(ctx)
	ch.metrics = newMetrics(ch)

	epLog := log
	if !config.LogDebug {
		epLog = log.Clone(log2.LInfo)
	}
	newPub := func(name string) *bus.Publisher {
		return bus.NewPublisher(bus.PublisherOptions{
			Log:     epLog,
			Name:    name,
			Topic:   config.Topic(name),
			SendHWM: config.SendQueue(),
			Linger:  config.Linger(),
		})
	}
	ch.bottom = newPub(EndpointBottom)
	ch.front = newPub(EndpointFront)
	ch.telemetry = newPub(EndpointTelemetry)
	ch.control = bus.NewPair(bus.PairOptions{
		Log:     epLog,
		Name:    EndpointControl,
		Topic:   config.Topic(EndpointControl),
		SendHWM: config.SendQueue(),
		RecvHWM: config.RecvQueue(),
		Linger:  config.Linger(),
	})

	type listener interface {
		Listen(context.Context, string, time.Duration) error
		Close() error
	}
	binds := []struct {
		name string
		url  string
		ep   listener
	}{
		{EndpointBottom, config.Bottom(), ch.bottom},
		{EndpointFront, config.Front(), ch.front},
		{EndpointTelemetry, config.Telemetry(), ch.telemetry},
		{EndpointControl, config.Control(), ch.control},
	}
	for i, b := range binds {
		if err := b.ep.Listen(ch.ctx, b.url, config.NetworkTimeout()); err != nil {
			// closing not yet listening endpoints is harmless
			for _, opened := range binds[:i+1] {
				_ = opened.ep.Close()
			}
			ch.cancel()
			return nil, errors.Annotatef(err, "share bind endpoint=%s url=%s", b.name, b.url)
		}
		log.Debugf("share endpoint=%s listen=%s", b.name, b.url)
	}

	ch.alive.Add(1)
	go ch.receiver()
	return ch, nil
}

// Update is per frame host callback.
func (ch *Channel) Update(dt time.Duration) { ch.UpdateTelemetry() }

// UpdateTelemetry publishes front image, bottom image and telemetry, in that order.
// Publish failures are counted and logged, never returned.
func (ch *Channel) UpdateTelemetry() {
	begin := time.Now()
	ch.publish(ch.front, ch.host.FrontCameraImage())
	ch.publish(ch.bottom, ch.host.BottomCameraImage())

	t := TelemetryFrom(ch.host.Rotation(), ch.host.Depth())
	ch.SetTelemetry(t)
	b, err := ch.codec.EncodeTelemetry(t)
	if err != nil {
		ch.log.Errorf("share telemetry encode err=%v", err)
	} else {
		ch.publish(ch.telemetry, b)
	}
	ch.metrics.observeUpdate(time.Since(begin))
}

func (ch *Channel) GetTelemetry() Telemetry  { return ch.telemetryRec.Load().(Telemetry) }
func (ch *Channel) SetTelemetry(t Telemetry) { ch.telemetryRec.Store(t) }

func (ch *Channel) GetControl() Control {
	ch.controlMu.Lock()
	c := ch.controlRec
	ch.controlMu.Unlock()
	return c
}

// Reset zeroes control until next message arrives.
func (ch *Channel) Reset() {
	ch.controlMu.Lock()
	ch.controlRec = Control{}
	ch.controlMu.Unlock()
}

// ResetIfOlder zeroes control when last message is older than d.
// Check and reset are atomic with respect to incoming messages.
// Returns true if non-zero control was discarded.
func (ch *Channel) ResetIfOlder(d time.Duration) bool {
	ch.controlMu.Lock()
	defer ch.controlMu.Unlock()
	if ch.controlRec.IsZero() || ch.controlAt.IsZero() || atomic_clock.Since(&ch.controlAt) <= d {
		return false
	}
	ch.controlRec = Control{}
	return true
}

// ControlAge is time since last accepted control message, negative if none yet.
func (ch *Channel) ControlAge() time.Duration {
	if ch.controlAt.IsZero() {
		return -1
	}
	return atomic_clock.Since(&ch.controlAt)
}

// SendControl publishes control record to current control peer, for echo and tests.
func (ch *Channel) SendControl(c Control) error {
	b, err := ch.codec.EncodeControl(c)
	if err != nil {
		return errors.Annotate(err, "share SendControl")
	}
	return ch.control.Send(b)
}

// Addrs returns actual listen address per endpoint name.
func (ch *Channel) Addrs() map[string]string {
	return map[string]string{
		EndpointBottom:    ch.bottom.Addr(),
		EndpointFront:     ch.front.Addr(),
		EndpointTelemetry: ch.telemetry.Addr(),
		EndpointControl:   ch.control.Addr(),
	}
}

func (ch *Channel) Codec() Codec             { return ch.codec }
func (ch *Channel) Context() context.Context { return ch.ctx }

// Stat returns endpoint counters by name.
func (ch *Channel) Stat() map[string]*bus.Stat {
	return map[string]*bus.Stat{
		EndpointBottom:    ch.bottom.Stat(),
		EndpointFront:     ch.front.Stat(),
		EndpointTelemetry: ch.telemetry.Stat(),
		EndpointControl:   ch.control.Stat(),
	}
}

// Close stops receiver and waits for it, then closes bottom, front,
// telemetry and control endpoints, then cancels context.
// Second call is no-op.
func (ch *Channel) Close() error {
	if !atomic.CompareAndSwapUint32(&ch.closed, 0, 1) {
		return nil
	}
	ch.alive.Stop()
	ch.alive.Wait()
	ch.closeStep("receiver")

	errs := make([]error, 0, 4)
	for _, x := range []struct {
		name string
		c    interface{ Close() error }
	}{
		{EndpointBottom, ch.bottom},
		{EndpointFront, ch.front},
		{EndpointTelemetry, ch.telemetry},
		{EndpointControl, ch.control},
	} {
		if err := x.c.Close(); err != nil {
			errs = append(errs, errors.Annotatef(err, "share close endpoint=%s", x.name))
		}
		ch.closeStep(x.name)
	}
	ch.cancel()
	ch.closeStep("context")
	return helpers.FoldErrors(errs)
}

func (ch *Channel) closeStep(step string) {
	ch.log.Debugf("share close step=%s", step)
	if ch.onCloseStep != nil {
		ch.onCloseStep(step)
	}
}

func (ch *Channel) publish(p *bus.Publisher, payload []byte) {
	switch err := p.Publish(payload); errors.Cause(err) {
	case nil, bus.ErrNoSubscribers:
	default:
		ch.log.Debugf("share publish topic=%s err=%v", p.Topic(), err)
	}
}

func (ch *Channel) receiver() {
	defer ch.alive.Done()
	stopch := ch.alive.StopChan()
	inbox := ch.control.Inbox()
	for {
		select {
		case b := <-inbox:
			ch.onControl(b)

		case <-stopch:
			return
		}
	}
}

func (ch *Channel) onControl(b []byte) {
	c, err := ch.codec.DecodeControl(b)
	if err != nil {
		ch.control.Stat().AddRejected()
		ch.log.Errorf("share control rejected len=%d err=%v", len(b), err)
		return
	}
	ch.controlMu.Lock()
	ch.controlRec = c
	ch.controlAt.SetNow()
	ch.controlMu.Unlock()
	ch.log.Debugf("share control %s", c.String())
}
