package bus

import (
	"context"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/juju/errors"
	"github.com/temoto/auvshare/log2"
)

type PublisherOptions struct {
	Log     *log2.Log
	Name    string
	Topic   string
	SendHWM int
	Linger  time.Duration
	Stat    *Stat
}

// Publisher is one-to-many endpoint. Connecting client is subscribed to everything,
// bare CONNECT is enough to start receiving.
type Publisher struct {
	s     *Server
	topic string
}

func NewPublisher(opt PublisherOptions) *Publisher {
	p := &Publisher{topic: defaultString(opt.Topic, opt.Name)}
	p.s = NewServer(ServerOptions{
		Log:       opt.Log,
		Name:      opt.Name,
		ForceSubs: []packet.Subscription{{Topic: "#", QOS: packet.QOSAtMostOnce}},
		SendHWM:   opt.SendHWM,
		Linger:    opt.Linger,
		Stat:      opt.Stat,
	})
	return p
}

func (p *Publisher) Listen(ctx context.Context, url string, networkTimeout time.Duration) error {
	err := p.s.Listen(ctx, []*BackendOptions{{URL: url, NetworkTimeout: networkTimeout}})
	return errors.Annotatef(err, "publisher %s", p.topic)
}

// Publish copies payload, caller may reuse it right after return.
// Never blocks on slow subscriber.
func (p *Publisher) Publish(payload []byte) error {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	return p.s.Publish(&packet.Message{Topic: p.topic, Payload: buf})
}

func (p *Publisher) Addr() string {
	if addrs := p.s.Addrs(); len(addrs) != 0 {
		return addrs[0]
	}
	return ""
}

func (p *Publisher) Clients() []string { return p.s.Clients() }
func (p *Publisher) Stat() *Stat       { return p.s.Stat() }
func (p *Publisher) Topic() string     { return p.topic }

func (p *Publisher) Close() error { return p.s.Close() }
