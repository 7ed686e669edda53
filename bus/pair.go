package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/juju/errors"
	"github.com/temoto/auvshare/log2"
)

const DefaultRecvHWM = 1000

var ErrNoPeer = fmt.Errorf("pair has no peer")

type PairOptions struct {
	Log     *log2.Log
	Name    string
	Topic   string // outbound messages, inbound accepted on any topic
	SendHWM int
	RecvHWM int
	Linger  time.Duration
	Stat    *Stat
}

// Pair is bidirectional endpoint with at most one peer.
// New connection replaces existing peer.
type Pair struct {
	s     *Server
	inbox chan []byte
	topic string
}

func NewPair(opt PairOptions) *Pair {
	hwm := opt.RecvHWM
	if hwm <= 0 {
		hwm = DefaultRecvHWM
	}
	p := &Pair{
		inbox: make(chan []byte, hwm),
		topic: defaultString(opt.Topic, opt.Name),
	}
	p.s = NewServer(ServerOptions{
		Log:        opt.Log,
		Name:       opt.Name,
		ForceSubs:  []packet.Subscription{{Topic: p.topic, QOS: packet.QOSAtMostOnce}},
		SinglePeer: true,
		SendHWM:    opt.SendHWM,
		Linger:     opt.Linger,
		Stat:       opt.Stat,
		OnPublish:  p.onPublish,
	})
	return p
}

func (p *Pair) Listen(ctx context.Context, url string, networkTimeout time.Duration) error {
	err := p.s.Listen(ctx, []*BackendOptions{{URL: url, NetworkTimeout: networkTimeout}})
	return errors.Annotatef(err, "pair %s", p.topic)
}

// Inbox delivers payloads in order of arrival. Never closed.
func (p *Pair) Inbox() <-chan []byte { return p.inbox }

// TryReceive returns next payload or false when there is none yet.
func (p *Pair) TryReceive() ([]byte, bool) {
	select {
	case b := <-p.inbox:
		return b, true
	default:
		return nil, false
	}
}

func (p *Pair) Receive(ctx context.Context) ([]byte, error) {
	select {
	case b := <-p.inbox:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send copies payload and enqueues it to the peer without blocking.
func (p *Pair) Send(payload []byte) error {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	err := p.s.Publish(&packet.Message{Topic: p.topic, Payload: buf})
	if err == ErrNoSubscribers {
		return ErrNoPeer
	}
	return err
}

func (p *Pair) Addr() string {
	if addrs := p.s.Addrs(); len(addrs) != 0 {
		return addrs[0]
	}
	return ""
}

// Peer returns client id of connected peer or empty string.
func (p *Pair) Peer() string {
	if ids := p.s.Clients(); len(ids) != 0 {
		return ids[0]
	}
	return ""
}

func (p *Pair) Stat() *Stat   { return p.s.Stat() }
func (p *Pair) Topic() string { return p.topic }

func (p *Pair) Close() error { return p.s.Close() }

func (p *Pair) onPublish(ctx context.Context, msg *packet.Message) error {
	// transport may reuse receive buffer
	buf := make([]byte, len(msg.Payload))
	copy(buf, msg.Payload)
	select {
	case p.inbox <- buf:
		return nil
	default:
		return errors.Annotatef(ErrHighWaterMark, "pair %s inbox", p.topic)
	}
}
