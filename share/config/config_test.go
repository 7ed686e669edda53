package share_config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Parallel()

	var c Config
	require.NoError(t, c.Validate())
	assert.Equal(t, "tcp://127.0.0.1:1771", c.Bottom())
	assert.Equal(t, "tcp://127.0.0.1:1772", c.Front())
	assert.Equal(t, "tcp://127.0.0.1:3390", c.Telemetry())
	assert.Equal(t, "tcp://127.0.0.1:3391", c.Control())
	assert.Equal(t, "auv/front", c.Topic("front"))
	assert.Equal(t, 1, c.SendQueue())
	assert.Equal(t, 1000, c.RecvQueue())
	assert.Equal(t, 2*time.Millisecond, c.Linger())
	assert.Equal(t, time.Duration(0), c.NetworkTimeout())
	assert.Equal(t, "raw", c.CodecName())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		c      Config
		expect string
	}{
		{"ok-random-ports", Config{BottomURL: "tcp://127.0.0.1:", FrontURL: "tcp://127.0.0.1:0"}, ""},
		{"send-hwm", Config{SendHWM: -1}, "share.send_hwm=-1 not valid"},
		{"codec", Config{Codec: "xml"}, "share.codec=xml"},
		{"same-url", Config{FrontURL: "tcp://127.0.0.1:1771"}, "same as"},
		{"same-unix", Config{FrontURL: "unix:///tmp/auv.sock", BottomURL: "unix:///tmp/auv.sock"}, "same as"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			err := c.c.Validate()
			if c.expect == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), c.expect)
		})
	}
}

func TestLinger(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 50*time.Millisecond, (&Config{LingerMs: 50}).Linger())
	assert.Equal(t, time.Duration(-1), (&Config{LingerMs: -5}).Linger())
}
