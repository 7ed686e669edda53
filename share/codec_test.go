package share

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecByName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		expect string
		err    string
	}{
		{"", "raw", ""},
		{"raw", "raw", ""},
		{"protobuf", "protobuf", ""},
		{"json", "", "codec=json not supported"},
	}
	for _, c := range cases {
		c := c
		t.Run("name="+c.name, func(t *testing.T) {
			t.Parallel()
			codec, err := CodecByName(c.name)
			if c.err != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), c.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expect, codec.Name())
		})
	}
}

func TestCodecRoundTrip(t *testing.T) {
	t.Parallel()

	for _, codec := range []Codec{RawCodec{}, ProtoCodec{}} {
		codec := codec
		t.Run(codec.Name(), func(t *testing.T) {
			t.Parallel()
			tm := Telemetry{Yaw: 1, Pitch: 2, Roll: 3, Depth: 4}
			b, err := codec.EncodeTelemetry(tm)
			require.NoError(t, err)
			back, err := codec.DecodeTelemetry(b)
			require.NoError(t, err)
			assert.Equal(t, tm, back)

			ctl := Control{Surge: 0.5, Yaw: -0.1, Flags: 3}
			b, err = codec.EncodeControl(ctl)
			require.NoError(t, err)
			backCtl, err := codec.DecodeControl(b)
			require.NoError(t, err)
			assert.Equal(t, ctl, backCtl)
		})
	}
}

func TestProtoCodecInvalid(t *testing.T) {
	t.Parallel()

	// field 1 wire type fixed32 but truncated
	_, err := ProtoCodec{}.DecodeControl([]byte{0x0d, 0x00})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "control proto.Unmarshal")
}
