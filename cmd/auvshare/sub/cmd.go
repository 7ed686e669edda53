// Package sub attaches stock MQTT client to publish endpoint and prints what arrives.
package sub

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/temoto/auvshare/cmd/auvshare/subcmd"
	"github.com/temoto/auvshare/log2"
	"github.com/temoto/auvshare/share"
	"github.com/temoto/auvshare/state"
)

const modName = "sub"

var Mod = subcmd.Mod{Name: modName, Usage: "[-topic telemetry|front|bottom] [-count N] print endpoint messages", Main: Main}

func Main(ctx context.Context, config *state.Config, args []string) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)

	flagset := flag.NewFlagSet(modName, flag.ContinueOnError)
	flagEndpoint := flagset.String("topic", share.EndpointTelemetry, "endpoint name: telemetry, front or bottom")
	flagCount := flagset.Uint("count", 0, "exit after N messages, 0 runs until interrupted")
	flagTimeout := flagset.Duration("timeout", 5*time.Second, "connect timeout")
	if err := flagset.Parse(args); err != nil {
		return errors.Annotate(err, modName)
	}

	codec, err := share.CodecByName(config.Share.CodecName())
	if err != nil {
		return errors.Annotate(err, modName)
	}
	p := printer{codec: codec, endpoint: *flagEndpoint, log: g.Log, done: make(chan struct{}), limit: *flagCount}
	var brokerURL string
	switch *flagEndpoint {
	case share.EndpointTelemetry:
		brokerURL = config.Share.Telemetry()
	case share.EndpointFront:
		brokerURL = config.Share.Front()
	case share.EndpointBottom:
		brokerURL = config.Share.Bottom()
	default:
		return errors.NotValidf("%s topic=%s", modName, *flagEndpoint)
	}
	if u, err := url.Parse(brokerURL); err != nil {
		return errors.Annotatef(err, "%s url=%s", modName, brokerURL)
	} else if u.Scheme != "tcp" && u.Scheme != "tls" {
		return errors.NotSupportedf("%s url=%s", modName, brokerURL)
	}

	mqtt.ERROR = g.Log
	mqtt.CRITICAL = g.Log
	mqtt.WARN = g.Log
	if config.Share.LogDebug {
		mqtt.DEBUG = g.Log
	}

	topic := config.Share.Topic(*flagEndpoint)
	mopt := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(modName + "-" + uuid.New().String()).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(*flagTimeout).
		SetDefaultPublishHandler(p.onMessage)
	m := mqtt.NewClient(mopt)
	if token := m.Connect(); !token.WaitTimeout(*flagTimeout) {
		return errors.Timeoutf("%s connect url=%s", modName, brokerURL)
	} else if err := token.Error(); err != nil {
		return errors.Annotatef(err, "%s connect url=%s", modName, brokerURL)
	}
	defer m.Disconnect(100)
	// endpoint delivers without subscription too, explicit subscribe keeps stock brokers working
	if token := m.Subscribe(topic, 0, nil); token.WaitTimeout(*flagTimeout) && token.Error() != nil {
		return errors.Annotatef(token.Error(), "%s subscribe topic=%s", modName, topic)
	}
	g.Log.Infof("%s url=%s topic=%s", modName, brokerURL, topic)

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigch)
	select {
	case <-sigch:
	case <-p.done:
	}
	return nil
}

type printer struct {
	codec    share.Codec
	done     chan struct{}
	endpoint string
	limit    uint
	log      *log2.Log
	n        uint
}

// paho calls handler sequentially.
func (p *printer) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if p.limit != 0 && p.n >= p.limit {
		return
	}
	p.n++
	fmt.Println(p.format(msg.Topic(), msg.Payload()))
	if p.limit != 0 && p.n == p.limit {
		close(p.done)
	}
}

func (p *printer) format(topic string, payload []byte) string {
	if p.endpoint != share.EndpointTelemetry {
		return fmt.Sprintf("topic=%s len=%d", topic, len(payload))
	}
	t, err := p.codec.DecodeTelemetry(payload)
	if err != nil {
		p.log.Errorf("%s decode topic=%s err=%v", modName, topic, err)
		return fmt.Sprintf("topic=%s len=%d invalid", topic, len(payload))
	}
	return fmt.Sprintf("topic=%s %s", topic, t.String())
}
