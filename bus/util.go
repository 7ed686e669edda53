package bus

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/256dpi/gomqtt/packet"
)

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

func defaultString(main, def string) string {
	if main == "" {
		return def
	}
	return main
}

func isClosedConn(e error) bool {
	return e != nil && strings.HasSuffix(e.Error(), "use of closed network connection")
}

func keepaliveAndHalf(sec uint16) time.Duration {
	d := time.Duration(sec) * time.Second
	return d + d/2
}

// PUBLISH payload is binary, print size and short hex prefix only.
func PacketString(p packet.Generic) string {
	if p == nil {
		return "(nil)"
	}
	if pub, ok := p.(*packet.Publish); ok {
		return fmt.Sprintf("<Publish ID=%d Dup=%t %s>", pub.ID, pub.Dup, MessageString(&pub.Message))
	}
	return p.String()
}

func MessageString(m *packet.Message) string {
	if m == nil {
		return "message=nil"
	}
	const maxHex = 16
	if len(m.Payload) > maxHex {
		return fmt.Sprintf("Topic=%q QOS=%d Retain=%t Payload=(%d)%x...", m.Topic, m.QOS, m.Retain, len(m.Payload), m.Payload[:maxHex])
	}
	return fmt.Sprintf("Topic=%q QOS=%d Retain=%t Payload=(%d)%x", m.Topic, m.QOS, m.Retain, len(m.Payload), m.Payload)
}
