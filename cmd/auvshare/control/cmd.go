// Package control is interactive console sending control input to control endpoint.
package control

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/auvshare/bus"
	"github.com/temoto/auvshare/cmd/auvshare/subcmd"
	"github.com/temoto/auvshare/helpers/cli"
	"github.com/temoto/auvshare/log2"
	"github.com/temoto/auvshare/share"
	"github.com/temoto/auvshare/state"
)

const modName = "control"

var Mod = subcmd.Mod{Name: modName, Usage: "interactive console: surge=0.5 yaw=-0.1 flags=1, reset, send, show", Main: Main}

const sendTimeout = 3 * time.Second

func Main(ctx context.Context, config *state.Config, args []string) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)

	codec, err := share.CodecByName(config.Share.CodecName())
	if err != nil {
		return errors.Annotate(err, modName)
	}
	con := newConsole(ctx, g.Log, codec, config.Share.Topic(share.EndpointControl))
	con.client, err = bus.NewClient(bus.ClientOptions{
		URL:            config.Share.Control(),
		NetworkTimeout: config.Share.NetworkTimeout(),
		KeepaliveSec:   10,
		Log:            g.Log,
		OnMessage:      con.onMessage,
	})
	if err != nil {
		return errors.Annotate(err, modName)
	}
	defer con.client.Close()

	wctx, cancel := context.WithTimeout(ctx, sendTimeout)
	err = con.client.WaitReady(wctx)
	cancel()
	if err != nil {
		return errors.Annotatef(err, "%s url=%s", modName, config.Share.Control())
	}
	g.Log.Infof("%s connected url=%s id=%s", modName, config.Share.Control(), con.client.ID())

	// simulator drops control older than timeout, keep it fresh while held
	if timeout := config.Sim.ControlTimeout(); timeout > 0 {
		con.repeat(timeout / 2)
	}
	defer con.stop()

	return cli.MainLoop(modName, con.exec, con.complete, func() { _ = con.client.Disconnect() })
}

type publisher interface {
	Publish(context.Context, *packet.Message) error
}

type console struct {
	alive  *alive.Alive
	client *bus.Client
	codec  share.Codec
	ctx    context.Context
	log    *log2.Log
	pub    publisher
	topic  string

	mu      sync.Mutex
	pending share.Control
}

func newConsole(ctx context.Context, log *log2.Log, codec share.Codec, topic string) *console {
	return &console{
		alive: alive.NewAlive(),
		codec: codec,
		ctx:   ctx,
		log:   log,
		topic: topic,
	}
}

var suggests = []prompt.Suggest{
	{Text: "surge=", Description: "forward thrust"},
	{Text: "sway=", Description: "lateral thrust"},
	{Text: "heave=", Description: "vertical thrust, positive up"},
	{Text: "yaw=", Description: "yaw rate"},
	{Text: "pitch=", Description: "pitch rate"},
	{Text: "roll=", Description: "roll rate"},
	{Text: "flags=", Description: "bit set, 0x prefix ok"},
	{Text: "reset", Description: "zero control and send"},
	{Text: "send", Description: "send current control"},
	{Text: "show", Description: "print current control"},
}

func (con *console) complete(d prompt.Document) []prompt.Suggest { return cli.Suggest(d, suggests) }

func (con *console) exec(line string) {
	if err := con.execErr(line); err != nil {
		fmt.Printf("error: %s\n", err)
	}
}

func (con *console) execErr(line string) error {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return nil
	case "show":
		c := con.get()
		fmt.Println(c.String())
		return nil
	case "reset":
		return con.send(con.set(share.Control{}))
	case "send":
		return con.send(con.get())
	}
	c := con.get()
	if err := ParseControl(&c, line); err != nil {
		return err
	}
	return con.send(con.set(c))
}

func (con *console) get() share.Control {
	con.mu.Lock()
	defer con.mu.Unlock()
	return con.pending
}

func (con *console) set(c share.Control) share.Control {
	con.mu.Lock()
	con.pending = c
	con.mu.Unlock()
	return c
}

// repeat resends non-zero pending control every interval until stop.
func (con *console) repeat(interval time.Duration) {
	if !con.alive.Add(1) {
		return
	}
	go func() {
		defer con.alive.Done()
		tmr := time.NewTicker(interval)
		defer tmr.Stop()
		stopch := con.alive.StopChan()
		for {
			select {
			case <-tmr.C:
				c := con.get()
				if c.IsZero() {
					continue
				}
				if err := con.send(c); err != nil {
					con.log.Debugf("%s repeat err=%v", modName, err)
				}
			case <-stopch:
				return
			}
		}
	}()
}

func (con *console) stop() {
	con.alive.Stop()
	con.alive.Wait()
}

func (con *console) send(c share.Control) error {
	b, err := con.codec.EncodeControl(c)
	if err != nil {
		return errors.Annotate(err, "encode")
	}
	pub := con.pub
	if pub == nil {
		pub = con.client
	}
	ctx, cancel := context.WithTimeout(con.ctx, sendTimeout)
	defer cancel()
	msg := &packet.Message{Topic: con.topic, Payload: b, QOS: packet.QOSAtLeastOnce}
	return errors.Annotate(pub.Publish(ctx, msg), "send")
}

func (con *console) onMessage(msg *packet.Message) error {
	c, err := con.codec.DecodeControl(msg.Payload)
	if err != nil {
		fmt.Printf("\nrecv topic=%s invalid len=%d\n", msg.Topic, len(msg.Payload))
		return nil
	}
	fmt.Printf("\nrecv topic=%s %s\n", msg.Topic, c.String())
	return nil
}

// ParseControl applies space separated key=value fields to c.
// On error c is not modified.
func ParseControl(c *share.Control, line string) error {
	next := *c
	for _, field := range strings.Fields(line) {
		parts := strings.SplitN(field, "=", 2)
		if len(parts) != 2 {
			return errors.NotValidf("field=%s", field)
		}
		key, value := strings.ToLower(parts[0]), parts[1]
		if key == "flags" {
			u, err := strconv.ParseUint(value, 0, 32)
			if err != nil {
				return errors.NotValidf("flags=%s", value)
			}
			next.Flags = uint32(u)
			continue
		}
		var ptr *float32
		switch key {
		case "surge":
			ptr = &next.Surge
		case "sway":
			ptr = &next.Sway
		case "heave":
			ptr = &next.Heave
		case "yaw":
			ptr = &next.Yaw
		case "pitch":
			ptr = &next.Pitch
		case "roll":
			ptr = &next.Roll
		default:
			return errors.NotValidf("key=%s", key)
		}
		f, err := strconv.ParseFloat(value, 32)
		if err != nil {
			return errors.NotValidf("%s=%s", key, value)
		}
		*ptr = float32(f)
	}
	*c = next
	return nil
}
