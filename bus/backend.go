package bus

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/auvshare/helpers"
	"github.com/temoto/auvshare/log2"
)

const DefaultSendHWM = 1000

type BackendOptions struct {
	URL string
	TLS *tls.Config

	NetworkTimeout time.Duration // receive timeout until CONNECT
	ReadLimit      int64
}

// Server side connection state.
// Thin transport.Conn wrapper with bounded send queue.
type backend struct {
	alive      *alive.Alive
	conn       transport.Conn
	connmu     sync.RWMutex
	ctx        context.Context
	disco      uint32
	err        helpers.AtomicError
	id         string
	linger     time.Duration
	log        *log2.Log
	opt        *BackendOptions
	out        chan packet.Generic
	stat       *Stat
	username   string
	writerDone chan struct{}
}

func newBackend(ctx context.Context, conn transport.Conn, opt *BackendOptions, sopt *ServerOptions, stat *Stat, id string, pktConnect *packet.Connect) *backend {
	hwm := sopt.SendHWM
	if hwm <= 0 {
		hwm = DefaultSendHWM
	}
	b := &backend{
		alive:      alive.NewAlive(),
		conn:       conn,
		ctx:        ctx,
		id:         id,
		linger:     sopt.Linger,
		log:        sopt.Log,
		opt:        opt,
		out:        make(chan packet.Generic, hwm),
		stat:       stat,
		username:   pktConnect.Username,
		writerDone: make(chan struct{}),
	}
	go b.writer()
	return b
}

// Non-blocking. Returns false when send queue is full or backend is closing.
func (b *backend) enqueue(pkt packet.Generic) bool {
	if !b.alive.IsRunning() {
		return false
	}
	select {
	case b.out <- pkt:
		return true
	default:
		return false
	}
}

func (b *backend) Receive() (packet.Generic, error) {
	conn := b.getConn()
	if conn == nil {
		return nil, ErrClosing
	}
	pkt, err := conn.Receive()
	switch err {
	case nil:
		b.log.Debugf("bus recv addr=%s id=%s pkt=%s", addrString(conn.RemoteAddr()), b.id, PacketString(pkt))
		return pkt, nil

	case io.EOF: // remote properly closed connection
		_ = b.die(err)
		return nil, err

	default:
		if !b.alive.IsRunning() && isClosedConn(err) {
			// conn.Close was used to interrupt blocking Receive
			return nil, ErrClosing
		}
		_ = b.die(err)
		return nil, err
	}
}

// Send bypasses queue, used for control packets.
func (b *backend) Send(pkt packet.Generic) error {
	conn := b.getConn()
	if conn == nil {
		return ErrClosing
	}
	b.log.Debugf("bus send id=%s pkt=%s", b.id, PacketString(pkt))
	if err := conn.Send(pkt, false); err != nil {
		if isClosedConn(err) && !b.alive.IsRunning() {
			return ErrClosing
		}
		err = errors.Annotatef(err, "clientid=%s", b.id)
		return b.die(err)
	}
	if pub, ok := pkt.(*packet.Publish); ok {
		b.stat.addSent(len(pub.Message.Payload))
	}
	return nil
}

func (b *backend) RemoteAddr() net.Addr {
	if conn := b.getConn(); conn != nil {
		return conn.RemoteAddr()
	}
	return nil
}

// shutdown gives writer at most linger to flush queue, then closes connection.
// Negative linger waits until queue is flushed or connection fails.
func (b *backend) shutdown(e error) error {
	b.alive.Stop()
	if b.linger < 0 {
		<-b.writerDone
	} else {
		select {
		case <-b.writerDone:
		case <-time.After(b.linger):
		}
	}
	return b.die(e)
}

func (b *backend) die(e error) error {
	err, found := b.err.StoreOnce(e)
	if found {
		return err
	}
	b.log.Debugf("bus die id=%s e=%v", b.id, e)
	b.alive.Stop()
	helpers.WithLock(&b.connmu, func() {
		if b.conn != nil {
			// conn.Close waits for blocked Send, unblock it first
			if u, ok := b.conn.(underlyingConn); ok {
				_ = u.UnderlyingConn().Close()
			}
			_ = b.conn.Close()
			b.conn = nil
		}
	})
	return e
}

type underlyingConn interface{ UnderlyingConn() net.Conn }

func (b *backend) getConn() transport.Conn {
	b.connmu.RLock()
	c := b.conn
	b.connmu.RUnlock()
	return c
}

func (b *backend) isClean() bool { return atomic.LoadUint32(&b.disco) == 1 }

func (b *backend) onDisconnect() { atomic.StoreUint32(&b.disco, 1) }

func (b *backend) writer() {
	defer close(b.writerDone)
	stopch := b.alive.StopChan()
	for {
		select {
		case pkt := <-b.out:
			if err := b.Send(pkt); err != nil {
				return
			}

		case <-stopch:
			b.flush()
			return
		}
	}
}

func (b *backend) flush() {
	for {
		select {
		case pkt := <-b.out:
			if err := b.Send(pkt); err != nil {
				return
			}
		default:
			return
		}
	}
}
