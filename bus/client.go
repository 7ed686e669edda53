package bus

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/256dpi/gomqtt/client"
	"github.com/256dpi/gomqtt/client/future"
	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/auvshare/helpers"
	"github.com/temoto/auvshare/helpers/atomic_clock"
	"github.com/temoto/auvshare/log2"
)

const (
	DefaultReconnectMin = 100 * time.Millisecond
	DefaultReconnectMax = 3 * time.Second
)

var ErrClientClosing = fmt.Errorf("bus client is closing")

type ClientOptions struct {
	URL            string
	TLS            *tls.Config
	ReconnectMin   time.Duration
	ReconnectMax   time.Duration
	NetworkTimeout time.Duration
	KeepaliveSec   uint16
	ClientID       string // default random uuid
	Username       string
	Password       string
	Subscriptions  []packet.Subscription
	OnMessage      func(*packet.Message) error // nil ignores incoming messages
	Log            *log2.Log
}

// Client attaches to a sharing endpoint, e.g. to send control input.
// NewClient returns only configuration errors, network IO is done in background.
// Clean session only, configured subscriptions are sent after every CONNACK.
// Reconnects with backoff until Close. Publish is serialized, QoS 0 or 1.
type Client struct {
	alive   *alive.Alive
	backoff helpers.Backoff
	conpkt  *packet.Connect
	dialer  *transport.Dialer
	ids     uint32
	log     *log2.Log
	opt     ClientOptions
	pubmu   sync.Mutex

	mu       sync.Mutex
	sess     *session
	inflight struct {
		id packet.ID
		fu *future.Future
	}
}

func NewClient(opt ClientOptions) (*Client, error) {
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = defaultNetworkTimeout
	}
	if opt.ReconnectMin == 0 {
		opt.ReconnectMin = DefaultReconnectMin
	}
	if opt.ReconnectMax == 0 {
		opt.ReconnectMax = DefaultReconnectMax
	}
	u, err := url.ParseRequestURI(opt.URL)
	if err != nil {
		return nil, errors.Annotatef(err, "config error bus client url=%s", opt.URL)
	}
	if u.User != nil && opt.Username == "" && opt.Password == "" {
		opt.Username = u.User.Username()
		opt.Password, _ = u.User.Password()
	}

	c := &Client{
		alive:   alive.NewAlive(),
		backoff: helpers.Backoff{Min: opt.ReconnectMin, Max: opt.ReconnectMax, K: 2},
		conpkt:  packet.NewConnect(),
		dialer:  transport.NewDialer(transport.DialConfig{TLSConfig: opt.TLS, Timeout: opt.NetworkTimeout}),
		ids:     uint32(time.Now().UnixNano()),
		log:     opt.Log,
		opt:     opt,
	}
	c.conpkt.ClientID = defaultString(opt.ClientID, uuid.New().String())
	c.conpkt.KeepAlive = opt.KeepaliveSec
	c.conpkt.CleanSession = true
	c.conpkt.Username = opt.Username
	c.conpkt.Password = opt.Password

	c.alive.Add(1)
	go c.worker()
	return c, nil
}

func (c *Client) ID() string { return c.conpkt.ClientID }

func (c *Client) Close() error {
	err := c.Disconnect()
	c.alive.Stop()
	c.alive.Wait()
	if err == client.ErrClientNotConnected {
		err = nil
	}
	return err
}

// Disconnect sends DISCONNECT and drops current connection. Client will reconnect unless closed.
func (c *Client) Disconnect() error {
	s := c.session()
	if s == nil {
		return client.ErrClientNotConnected
	}
	err := s.send(packet.NewDisconnect())
	s.die(ErrClientClosing)
	return err
}

// Publish returns after PUBACK for QoS 1 or right after send for QoS 0.
// Waits for connection until ctx is done.
func (c *Client) Publish(ctx context.Context, msg *packet.Message) error {
	if msg.QOS >= packet.QOSExactlyOnce {
		return errors.NotSupportedf("QOS=%d", msg.QOS)
	}
	if err := c.WaitReady(ctx); err != nil {
		return err
	}

	c.pubmu.Lock()
	defer c.pubmu.Unlock()
	s := c.session()
	if s == nil {
		return client.ErrClientNotConnected
	}
	pub := packet.NewPublish()
	pub.Message = *msg
	if msg.QOS == packet.QOSAtMostOnce {
		return errors.Annotate(s.send(pub), "send PUBLISH")
	}

	pub.ID = c.nextID()
	fu := future.New()
	c.setInflight(pub.ID, fu)
	defer c.setInflight(0, nil)
	if err := s.send(pub); err != nil {
		return errors.Annotate(err, "send PUBLISH")
	}
	switch err := fu.Wait(c.opt.NetworkTimeout); err {
	case nil:
		return nil

	case future.ErrCanceled:
		if e, ok := fu.Result().(error); ok {
			return e
		}
		return ErrClientClosing

	case future.ErrTimeout:
		err = errors.Timeoutf("PUBACK id=%d", pub.ID)
		s.die(err)
		return err

	default:
		return errors.Errorf("code error future.Wait()=%v", err)
	}
}

// WaitReady returns nil when connected and subscribed,
// context.Canceled when ctx is done first, ErrClientClosing after Close.
func (c *Client) WaitReady(ctx context.Context) error {
	donech := ctx.Done()
	stopch := c.alive.StopChan()
	for {
		s := c.session()
		if s == nil {
			select {
			case <-time.After(c.opt.ReconnectMin):
				continue
			case <-donech:
				return context.Canceled
			case <-stopch:
				return ErrClientClosing
			}
		}

		select {
		case <-s.ready:
			if s.isAlive() {
				return nil
			}
		case <-s.done:
		case <-donech:
			return context.Canceled
		case <-stopch:
			return ErrClientClosing
		}
	}
}

func (c *Client) nextID() packet.ID {
	id := packet.ID(atomic.AddUint32(&c.ids, 1) % (1 << 16))
	if id == 0 { // zero packet id is invalid
		id = 1
	}
	return id
}

// session returns current connection if it is still alive.
func (c *Client) session() *session {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil || !s.isAlive() {
		return nil
	}
	return s
}

func (c *Client) setSession(s *session) {
	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()
}

func (c *Client) setInflight(id packet.ID, fu *future.Future) {
	c.mu.Lock()
	c.inflight.id, c.inflight.fu = id, fu
	c.mu.Unlock()
}

func (c *Client) cancelInflight(err error) {
	c.mu.Lock()
	if fu := c.inflight.fu; fu != nil {
		fu.Cancel(err)
	}
	c.mu.Unlock()
}

func (c *Client) onPuback(s *session, id packet.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.inflight.fu == nil:
		c.log.Errorf("bus client unexpected PUBACK id=%d", id)
	case c.inflight.id != id:
		// publish flow is serialized, PUBACK for other id means broken server
		s.die(errors.Errorf("PUBACK id=%d expected=%d", id, c.inflight.id))
	default:
		c.inflight.fu.Complete(id)
	}
}

func (c *Client) onPublish(s *session, pub *packet.Publish) {
	if pub.Message.QOS > packet.QOSAtLeastOnce {
		s.die(errors.NotSupportedf("incoming QOS=%d", pub.Message.QOS))
		return
	}
	if c.opt.OnMessage != nil {
		if err := c.opt.OnMessage(&pub.Message); err != nil {
			c.log.Errorf("bus client onMessage %s err=%v", MessageString(&pub.Message), err)
			s.die(err)
			return
		}
	}
	if pub.Message.QOS == packet.QOSAtLeastOnce {
		puback := packet.NewPuback()
		puback.ID = pub.ID
		_ = s.send(puback)
	}
}

// worker runs one session at a time, reconnects with backoff.
func (c *Client) worker() {
	defer c.alive.Done()
	stopch := c.alive.StopChan()
	for c.alive.IsRunning() {
		s := newSession(c)
		c.setSession(s)
		go func() {
			select {
			case <-stopch:
				s.die(ErrClientClosing)
			case <-s.done:
			}
		}()
		s.run()
		c.cancelInflight(s.err())

		delay := c.backoff.DelayAfter(s.connected())
		if delay == 0 {
			delay = c.opt.ReconnectMin
		}
		c.log.Debugf("bus client reconnect err=%v delay=%v", s.err(), delay)
		select {
		case <-time.After(delay):
		case <-stopch:
			return
		}
	}
}

// session is single client connection: CONNECT, SUBSCRIBE, reader and pinger.
type session struct {
	c      *Client
	conn   atomic.Value // transport.Conn
	done   chan struct{}
	dead   uint32
	e      helpers.AtomicError
	ready  chan struct{} // closed after CONNACK and SUBACK
	acked  uint32
	subID  packet.ID
	pingAt atomic_clock.Clock // last PINGREQ
	pongAt atomic_clock.Clock // last packet of any type from server
}

func newSession(c *Client) *session {
	return &session{
		c:     c,
		done:  make(chan struct{}),
		ready: make(chan struct{}),
	}
}

func (s *session) isAlive() bool   { return atomic.LoadUint32(&s.dead) == 0 }
func (s *session) connected() bool { return atomic.LoadUint32(&s.acked) == 1 }

func (s *session) err() error {
	err, _ := s.e.Load()
	return err
}

func (s *session) die(e error) {
	if _, found := s.e.StoreOnce(e); found {
		return
	}
	atomic.StoreUint32(&s.dead, 1)
	close(s.done)
	if conn := s.getConn(); conn != nil {
		_ = conn.Close()
	}
}

func (s *session) getConn() transport.Conn {
	if x := s.conn.Load(); x != nil {
		return x.(transport.Conn)
	}
	return nil
}

func (s *session) send(p packet.Generic) error {
	conn := s.getConn()
	if conn == nil || !s.isAlive() {
		return client.ErrClientNotConnected
	}
	if err := conn.Send(p, false); err != nil {
		err = errors.Annotatef(err, "send %s", p.Type().String())
		s.die(err)
		return err
	}
	s.c.log.Debugf("bus client sent %s", PacketString(p))
	return nil
}

// run blocks until connection is lost.
func (s *session) run() {
	opt := &s.c.opt
	conn, err := s.c.dialer.Dial(opt.URL)
	if err != nil {
		s.die(errors.Annotatef(err, "dial url=%s", opt.URL))
		return
	}
	s.conn.Store(conn)
	if !s.isAlive() { // die() before Store could miss conn
		_ = conn.Close()
		return
	}
	if s.send(s.c.conpkt) != nil {
		return
	}

	conn.SetReadTimeout(opt.NetworkTimeout)
	pkt, err := conn.Receive()
	if err != nil {
		s.die(errors.Annotate(err, "expect CONNACK"))
		return
	}
	connack, ok := pkt.(*packet.Connack)
	if !ok {
		s.die(errors.Annotatef(client.ErrClientExpectedConnack, "pkt=%s", PacketString(pkt)))
		return
	}
	s.c.log.Debugf("bus client CONNACK=%s", connack.String())
	if connack.ReturnCode != packet.ConnectionAccepted {
		s.die(errors.Annotate(client.ErrClientConnectionDenied, connack.ReturnCode.String()))
		return
	}
	atomic.StoreUint32(&s.acked, 1)
	conn.SetReadTimeout(0)

	if len(opt.Subscriptions) == 0 {
		close(s.ready)
	} else {
		s.subID = s.c.nextID()
		if s.send(&packet.Subscribe{ID: s.subID, Subscriptions: opt.Subscriptions}) != nil {
			return
		}
		go s.expectSuback(opt.NetworkTimeout)
	}
	s.pongAt.SetNow()
	s.pingAt.SetNow()
	if opt.KeepaliveSec != 0 {
		go s.pinger(keepaliveAndHalf(opt.KeepaliveSec), opt.NetworkTimeout)
	}
	s.reader(conn)
}

func (s *session) expectSuback(timeout time.Duration) {
	select {
	case <-s.ready:
	case <-s.done:
	case <-time.After(timeout):
		s.die(errors.Timeoutf("SUBACK"))
	}
}

func (s *session) onSuback(suback *packet.Suback) {
	if s.subID == 0 || suback.ID != s.subID {
		s.die(errors.Annotatef(client.ErrFailedSubscription, "unexpected SUBACK.id=%d", suback.ID))
		return
	}
	for _, code := range suback.ReturnCodes {
		if code == packet.QOSFailure {
			s.die(client.ErrFailedSubscription)
			return
		}
	}
	s.subID = 0
	close(s.ready)
}

// pinger sends PINGREQ every interval, regardless of other outgoing traffic,
// so server always has something to answer while we publish QoS0.
// Some server packet must arrive at most keepalive*1.5 apart.
func (s *session) pinger(keepalive, networkTimeout time.Duration) {
	interval := keepalive - networkTimeout
	if min := keepalive / 3; interval < min {
		interval = min
	}
	for {
		now := atomic_clock.Now()
		if now.Sub(&s.pongAt) > keepalive {
			s.die(client.ErrClientMissingPong)
			return
		}
		wait := interval - now.Sub(&s.pingAt)
		if wait <= 0 {
			if s.send(packet.NewPingreq()) != nil {
				return
			}
			s.pingAt.SetNow()
			wait = interval
		}
		select {
		case <-time.After(wait):
		case <-s.done:
			return
		}
	}
}

func (s *session) reader(conn transport.Conn) {
	for {
		pkt, err := conn.Receive()
		if !s.isAlive() {
			return
		}
		switch err {
		case nil:
		case io.EOF:
			s.die(errors.Annotate(err, "server closed connection"))
			return
		default:
			s.die(errors.Annotate(err, "receive"))
			return
		}
		s.c.log.Debugf("bus client received=%s", PacketString(pkt))
		s.pongAt.SetNow()

		switch pt := pkt.(type) {
		case *packet.Connack:
			s.die(errors.Errorf("server error duplicate CONNACK"))
			return
		case *packet.Pingresp:
		case *packet.Suback:
			s.onSuback(pt)
		case *packet.Puback:
			s.c.onPuback(s, pt.ID)
		case *packet.Publish:
			s.c.onPublish(s, pt)
		default:
			s.c.log.Debugf("bus client unexpected packet %s", PacketString(pkt))
		}
	}
}
