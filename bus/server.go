package bus

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/256dpi/gomqtt/broker"
	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/topic"
	"github.com/256dpi/gomqtt/transport"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/auvshare/helpers"
	"github.com/temoto/auvshare/log2"
)

const (
	defaultNetworkTimeout = 30 * time.Second
	defaultReadLimit      = 16 << 20 // camera frames are large
)

var (
	ErrSameClient    = fmt.Errorf("clientid overtake")
	ErrPeerReplaced  = fmt.Errorf("pair peer replaced by new connection")
	ErrClosing       = fmt.Errorf("endpoint is closing")
	ErrNoSubscribers = fmt.Errorf("no subscribers")
	ErrHighWaterMark = fmt.Errorf("send queue full")
)

type ServerOptions struct {
	Log       *log2.Log
	Name      string // endpoint name, only for logs
	ForceSubs []packet.Subscription
	// Every new connection replaces existing ones.
	SinglePeer bool
	SendHWM    int
	Linger     time.Duration
	Stat       *Stat

	OnClose   CloseFunc   // valid client connection lost
	OnConnect ConnectFunc // nil accepts everybody
	OnPublish MessageFunc // nil drops incoming messages
}

type CloseFunc = func(clientID string, clean bool, e error)
type ConnectFunc = func(context.Context, *BackendOptions, *packet.Connect) (bool, error)
type MessageFunc = func(context.Context, *packet.Message) error

var errClientDisconnect = fmt.Errorf("client sent DISCONNECT")

// Server.subs is prefix tree of pattern -> []*subscription
type subscription struct {
	pattern string
	b       *backend
}

// MQTT speaking endpoint without broker semantics:
// no retain, no will, no sessions, QoS 0 towards clients.
type Server struct { //nolint:maligned
	sync.RWMutex

	alive    *alive.Alive
	backends struct {
		sync.RWMutex
		m map[string]*backend
	}
	ctx     context.Context
	listens map[string]*transport.NetServer
	log     *log2.Log
	opt     ServerOptions
	stat    *Stat
	subs    *topic.Tree // *subscription
}

func NewServer(opt ServerOptions) *Server {
	s := &Server{
		alive: alive.NewAlive(),
		ctx:   context.Background(),
		log:   opt.Log,
		opt:   opt,
		stat:  opt.Stat,
		subs:  topic.NewStandardTree(),
	}
	if s.stat == nil {
		s.stat = new(Stat)
	}
	s.backends.m = make(map[string]*backend)
	return s
}

func (s *Server) Addrs() []string {
	s.RLock()
	defer s.RUnlock()
	addrs := make([]string, 0, len(s.listens))
	for _, l := range s.listens {
		addrs = append(addrs, l.Addr().String())
	}
	return addrs
}

// Sorted by nothing. Useful to wait for subscriber in tests.
func (s *Server) Clients() []string {
	s.backends.RLock()
	defer s.backends.RUnlock()
	ids := make([]string, 0, len(s.backends.m))
	for id := range s.backends.m {
		ids = append(ids, id)
	}
	return ids
}

func (s *Server) Stat() *Stat { return s.stat }

// Close stops accepting, flushes client queues for at most Linger, closes connections.
func (s *Server) Close() error {
	// serialize well with acceptLoop
	s.alive.Stop()
	errs := make([]error, 0)
	helpers.WithLock(s, func() {
		for key, ns := range s.listens {
			if err := ns.Close(); err != nil {
				errs = append(errs, err)
			}
			delete(s.listens, key)
		}
	})
	wg := sync.WaitGroup{}
	helpers.WithLock(s.backends.RLocker(), func() {
		for _, b := range s.backends.m {
			wg.Add(1)
			go func(b *backend) {
				defer wg.Done()
				_ = b.shutdown(ErrClosing)
			}(b)
		}
	})
	wg.Wait()
	s.alive.Wait()
	return helpers.FoldErrors(errs)
}

func (s *Server) Listen(ctx context.Context, lopts []*BackendOptions) error {
	s.Lock()
	defer s.Unlock()

	s.ctx = ctx
	if s.listens == nil {
		s.listens = make(map[string]*transport.NetServer, len(lopts))
	}

	errs := make([]error, 0)
	for _, opt := range lopts {
		if opt.NetworkTimeout == 0 {
			opt.NetworkTimeout = defaultNetworkTimeout
		}
		if opt.ReadLimit == 0 {
			opt.ReadLimit = defaultReadLimit
		}
		s.log.Debugf("bus %s listen url=%s timeout=%v", s.opt.Name, opt.URL, opt.NetworkTimeout)

		if !s.alive.Add(1) {
			errs = append(errs, errors.Errorf("Listen after Close"))
			break
		}
		ns, err := s.listen(opt)
		if err != nil {
			s.alive.Done()
			err = errors.Annotatef(err, "bus %s listen url=%s", s.opt.Name, opt.URL)
			errs = append(errs, err)
			continue
		}
		s.listens[opt.URL] = ns
		go s.acceptLoop(ns, opt)
	}
	return helpers.FoldErrors(errs)
}

// Publish enqueues msg to every matching client without blocking.
// Shared *packet.Publish is read-only after this point.
// Returns ErrNoSubscribers or annotated ErrHighWaterMark if some queues were full.
func (s *Server) Publish(msg *packet.Message) error {
	var _a [8]*backend
	targets := _a[:0]
	uniq := make(map[*backend]struct{}) // deduplicate subscriptions
	for _, x := range s.subs.Match(msg.Topic) {
		xsub := x.(*subscription)
		if _, ok := uniq[xsub.b]; !ok {
			uniq[xsub.b] = struct{}{}
			targets = append(targets, xsub.b)
		}
	}

	pub := packet.NewPublish()
	pub.Message = *msg
	pub.Message.QOS = packet.QOSAtMostOnce
	pub.Message.Retain = false

	dropped, total := 0, 0
	for _, b := range targets {
		if !b.alive.IsRunning() {
			continue
		}
		total++
		if !b.enqueue(pub) {
			s.stat.addDropped()
			dropped++
		}
	}
	if total == 0 {
		return ErrNoSubscribers
	}
	if dropped != 0 {
		return errors.Annotatef(ErrHighWaterMark, "bus %s dropped=%d/%d", s.opt.Name, dropped, total)
	}
	return nil
}

func (s *Server) listen(opt *BackendOptions) (*transport.NetServer, error) {
	u, err := url.ParseRequestURI(opt.URL)
	if err != nil {
		return nil, errors.Annotate(err, "parse url")
	}

	var address string
	switch u.Scheme {
	case "tls":
		ns, err := transport.CreateSecureNetServer(u.Host, opt.TLS)
		return ns, errors.Annotate(err, "CreateSecureNetServer")
	case "tcp":
		address = u.Host
	case "unix":
		address = u.Path
	default:
		return nil, errors.Errorf("unsupported listen url=%s", opt.URL)
	}
	ln, err := net.Listen(u.Scheme, address)
	if err != nil {
		return nil, errors.Annotatef(err, "net.Listen network=%s address=%s", u.Scheme, address)
	}
	return transport.NewNetServer(ln), nil
}

func (s *Server) acceptLoop(ns *transport.NetServer, opt *BackendOptions) {
	defer s.alive.Done() // one alive subtask for each listener
	for {
		conn, err := ns.Accept()
		if !s.alive.IsRunning() {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			err = errors.Annotatef(err, "accept listen=%s", opt.URL)
			s.log.Error(err)
			return
		}

		if !s.alive.Add(1) { // and one alive subtask for each connection
			_ = conn.Close()
			return
		}
		go s.processConn(conn, opt)
	}
}

// handshake expects CONNECT as first packet and answers CONNACK.
func (s *Server) handshake(ctx context.Context, conn transport.Conn, opt *BackendOptions) (_ *backend, err error) {
	addr := addrString(conn.RemoteAddr())
	defer errors.DeferredAnnotatef(&err, "addr=%s", addr)
	connack := packet.NewConnack()
	refuse := func(e error) (*backend, error) {
		_ = conn.Send(connack, false)
		return nil, e
	}

	pkt, err := conn.Receive()
	if err != nil {
		return nil, errors.Trace(err)
	}
	pktConnect, ok := pkt.(*packet.Connect)
	if !ok {
		return nil, errors.Annotatef(broker.ErrUnexpectedPacket, "pkt=%s", PacketString(pkt))
	}

	// empty client id is allowed for clean session only [MQTT-3.1.3-7], server assigns unique one.
	// packet decoder already rejects empty id without clean session and closes conn.
	id := pktConnect.ClientID
	if id == "" {
		id = "anon-" + addr
	}
	if s.opt.OnConnect != nil {
		allow, err := s.opt.OnConnect(ctx, opt, pktConnect)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if !allow {
			connack.ReturnCode = packet.NotAuthorized
			return refuse(broker.ErrNotAuthorized)
		}
	}
	s.log.Debugf("bus %s CONNECT addr=%s client=%s username=%s keepalive=%d",
		s.opt.Name, addr, id, pktConnect.Username, pktConnect.KeepAlive)

	// zero keepalive means client never pings
	conn.SetReadTimeout(keepaliveAndHalf(pktConnect.KeepAlive))
	connack.ReturnCode = packet.ConnectionAccepted
	if err = conn.Send(connack, false); err != nil {
		return nil, errors.Trace(err)
	}
	return newBackend(ctx, conn, opt, &s.opt, s.stat, id, pktConnect), nil
}

func (s *Server) onSubscribe(b *backend, pkt *packet.Subscribe) error {
	// [MQTT-3.8.3-3] at least one topic filter
	if len(pkt.Subscriptions) == 0 {
		return b.die(fmt.Errorf("subscribe request with empty sub list"))
	}
	suback := packet.NewSuback()
	suback.ID = pkt.ID
	suback.ReturnCodes = make([]packet.QOS, 0, len(pkt.Subscriptions))
	s.subscribe(b, pkt.Subscriptions, suback)
	err := b.Send(suback)
	return errors.Annotate(err, "onSubscribe")
}

func (s *Server) processConn(conn transport.Conn, opt *BackendOptions) {
	defer s.alive.Done()

	addrNew := addrString(conn.RemoteAddr())
	conn.SetMaxWriteDelay(0)
	conn.SetReadLimit(opt.ReadLimit)
	conn.SetReadTimeout(opt.NetworkTimeout)
	// Close must not wait for handshake timeout
	handshake := make(chan struct{})
	go func() {
		select {
		case <-s.alive.StopChan():
			_ = conn.Close()
		case <-handshake:
		}
	}()
	b, err := s.handshake(s.ctx, conn, opt)
	close(handshake)
	if err != nil {
		s.log.Infof("bus %s handshake addr=%s err=%v", s.opt.Name, addrNew, err)
		_ = conn.Close()
		return
	}

	// subscribed before visible in Clients()
	s.subscribe(b, s.opt.ForceSubs, nil)
	helpers.WithLock(&s.backends, func() {
		for id, ex := range s.backends.m {
			switch {
			case id == b.id:
				s.log.Infof("bus %s client overtake id=%s ex=%s new=%s", s.opt.Name, b.id, addrString(ex.RemoteAddr()), addrNew)
				_ = ex.die(ErrSameClient)
			case s.opt.SinglePeer:
				s.log.Infof("bus %s peer replaced ex=%s new=%s", s.opt.Name, id, b.id)
				_ = ex.die(ErrPeerReplaced)
				delete(s.backends.m, id)
			}
		}
		s.backends.m[b.id] = b
	})
	if !s.alive.IsRunning() { // Close() could miss this backend
		_ = b.die(ErrClosing)
	}
	s.stat.addClients(1)
	defer s.stat.addClients(-1)

	// receive loop, packets are processed in order
	for {
		var pkt packet.Generic
		pkt, err = b.Receive()
		if err != nil || !b.alive.IsRunning() || !s.alive.IsRunning() {
			break
		}
		if err = s.processPacket(b, pkt); err != nil {
			if err != errClientDisconnect {
				_ = b.die(err)
			}
			break
		}
	}

	// mandatory cleanup on backend closed
	closeErr := b.shutdown(ErrClosing)
	helpers.WithLock(&s.backends, func() {
		if ex := s.backends.m[b.id]; b == ex {
			delete(s.backends.m, b.id)
		}
		for _, value := range s.subs.All() {
			if sub := value.(*subscription); sub.b == b {
				s.subs.Remove(sub.pattern, value)
			}
		}
	})
	s.log.Debugf("bus %s id=%s closed clean=%t err=%v", s.opt.Name, b.id, b.isClean(), closeErr)
	if s.opt.OnClose != nil {
		s.opt.OnClose(b.id, b.isClean(), closeErr)
	}
}

// on each incoming packet after connect handshake
func (s *Server) processPacket(b *backend, pkt packet.Generic) error {
	switch pt := pkt.(type) {
	case *packet.Pingreq:
		return b.Send(packet.NewPingresp())

	case *packet.Publish:
		s.stat.addReceived()
		if pt.Message.QOS > packet.QOSAtLeastOnce {
			return fmt.Errorf("qos %d is not supported", pt.Message.QOS)
		}
		if s.opt.OnPublish == nil {
			s.stat.AddRejected()
			s.log.Debugf("bus %s drop incoming from id=%s msg=%s", s.opt.Name, b.id, MessageString(&pt.Message))
		} else if err := s.opt.OnPublish(b.ctx, &pt.Message); err != nil {
			if errors.Cause(err) == ErrHighWaterMark {
				s.stat.addDropped()
			} else {
				s.stat.AddRejected()
			}
			s.log.Debugf("bus %s onPublish id=%s msg=%s err=%v", s.opt.Name, b.id, MessageString(&pt.Message), err)
		}
		// fire and forget, nothing is redelivered
		if pt.Message.QOS == packet.QOSAtLeastOnce {
			puback := packet.NewPuback()
			puback.ID = pt.ID
			return b.Send(puback)
		}
		return nil

	case *packet.Subscribe:
		return s.onSubscribe(b, pt)

	case *packet.Puback:
		return nil // clients get QoS 0 only, tolerate confused peers

	case *packet.Pubrec, *packet.Pubrel, *packet.Pubcomp:
		return fmt.Errorf("qos2 not supported")

	case *packet.Disconnect:
		b.onDisconnect()
		return errClientDisconnect

	default:
		return fmt.Errorf("packet is not handled pkt=%s", pkt.String())
	}
}

func (s *Server) subscribe(b *backend, subs []packet.Subscription, pktSubAck *packet.Suback) {
	for _, sub := range subs {
		pattern := sub.Topic
		pattern = strings.ReplaceAll(pattern, "%c", b.id)
		pattern = strings.ReplaceAll(pattern, "%u", b.username)
		s.subs.Add(pattern, &subscription{
			pattern: pattern,
			b:       b,
		})
		if pktSubAck != nil {
			pktSubAck.ReturnCodes = append(pktSubAck.ReturnCodes, packet.QOSAtMostOnce)
		}
	}
}
