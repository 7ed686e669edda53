// Separate package is workaround to import cycles.
package share_config

import (
	"net/url"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/auvshare/helpers"
)

const (
	DefaultBottomURL    = "tcp://127.0.0.1:1771"
	DefaultFrontURL     = "tcp://127.0.0.1:1772"
	DefaultTelemetryURL = "tcp://127.0.0.1:3390"
	DefaultControlURL   = "tcp://127.0.0.1:3391"
	DefaultTopicPrefix  = "auv"
	DefaultSendHWM      = 1
	DefaultRecvHWM      = 1000
	DefaultLinger       = 2 * time.Millisecond
	DefaultCodec        = "raw"
)

type Config struct { //nolint:maligned
	BottomURL         string `hcl:"bottom_url"`
	FrontURL          string `hcl:"front_url"`
	TelemetryURL      string `hcl:"telemetry_url"`
	ControlURL        string `hcl:"control_url"`
	TopicPrefix       string `hcl:"topic_prefix"`
	SendHWM           int    `hcl:"send_hwm"`
	RecvHWM           int    `hcl:"recv_hwm"`
	LingerMs          int    `hcl:"linger_ms"` // 0=default, negative=flush until done
	NetworkTimeoutSec int    `hcl:"network_timeout_sec"`
	Codec             string `hcl:"codec"`
	LogDebug          bool   `hcl:"log_debug"`
}

func (c *Config) Bottom() string    { return defaultString(c.BottomURL, DefaultBottomURL) }
func (c *Config) Front() string     { return defaultString(c.FrontURL, DefaultFrontURL) }
func (c *Config) Telemetry() string { return defaultString(c.TelemetryURL, DefaultTelemetryURL) }
func (c *Config) Control() string   { return defaultString(c.ControlURL, DefaultControlURL) }
func (c *Config) CodecName() string { return defaultString(c.Codec, DefaultCodec) }

// Topic returns "prefix/name".
func (c *Config) Topic(name string) string {
	return defaultString(c.TopicPrefix, DefaultTopicPrefix) + "/" + name
}

func (c *Config) SendQueue() int { return defaultInt(c.SendHWM, DefaultSendHWM) }
func (c *Config) RecvQueue() int { return defaultInt(c.RecvHWM, DefaultRecvHWM) }

func (c *Config) Linger() time.Duration {
	if c.LingerMs < 0 {
		return -1
	}
	return helpers.IntMillisecondDefault(c.LingerMs, DefaultLinger)
}

// zero means bus default
func (c *Config) NetworkTimeout() time.Duration {
	return helpers.IntSecondDefault(c.NetworkTimeoutSec, 0)
}

func (c *Config) Validate() error {
	errs := make([]error, 0)
	if c.SendHWM < 0 {
		errs = append(errs, errors.NotValidf("share.send_hwm=%d", c.SendHWM))
	}
	if c.RecvHWM < 0 {
		errs = append(errs, errors.NotValidf("share.recv_hwm=%d", c.RecvHWM))
	}
	if c.NetworkTimeoutSec < 0 {
		errs = append(errs, errors.NotValidf("share.network_timeout_sec=%d", c.NetworkTimeoutSec))
	}
	switch c.CodecName() {
	case "raw", "protobuf":
	default:
		errs = append(errs, errors.NotValidf("share.codec=%s (expected raw|protobuf)", c.Codec))
	}
	urls := map[string]string{}
	for name, u := range map[string]string{"bottom": c.Bottom(), "front": c.Front(), "telemetry": c.Telemetry(), "control": c.Control()} {
		if parsed, err := url.Parse(u); err != nil {
			errs = append(errs, errors.NotValidf("share %s_url=%s err=%v", name, u, err))
			continue
		} else if port := parsed.Port(); parsed.Scheme != "unix" && (port == "" || port == "0") {
			continue // random port
		}
		if other, ok := urls[u]; ok {
			errs = append(errs, errors.NotValidf("share %s_url=%s same as %s_url", name, u, other))
		}
		urls[u] = name
	}
	return helpers.FoldErrors(errs)
}

func defaultString(main, def string) string {
	if main == "" {
		return def
	}
	return main
}

func defaultInt(main, def int) int {
	if main == 0 {
		return def
	}
	return main
}
