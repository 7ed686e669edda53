package state

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/auvshare/log2"
	"github.com/temoto/auvshare/share"
)

func TestReadConfig(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		input     string
		check     func(testing.TB, context.Context)
		expectErr string
	}
	cases := []Case{
		{"empty", "", func(t testing.TB, ctx context.Context) {
			c := GetGlobal(ctx).Config
			assert.Equal(t, "tcp://127.0.0.1:1772", c.Share.Front())
			assert.Equal(t, 33*time.Millisecond, c.Sim.Tick())
			assert.Equal(t, "", c.Metrics.Listen)
		}, ""},

		{"share",
			`share { front_url = "tcp://127.0.0.1:5000" send_hwm = 3 codec = "protobuf" linger_ms = 10 }`,
			func(t testing.TB, ctx context.Context) {
				c := GetGlobal(ctx).Config
				assert.Equal(t, "tcp://127.0.0.1:5000", c.Share.Front())
				assert.Equal(t, 3, c.Share.SendQueue())
				assert.Equal(t, "protobuf", c.Share.CodecName())
				assert.Equal(t, 10*time.Millisecond, c.Share.Linger())
			},
			"",
		},

		{"sim-metrics-log", `
sim { tick_ms = 10 image_width = 64 image_height = 48 control_timeout_ms = -1 }
metrics { listen = "127.0.0.1:9100" }
log { debug = true }`,
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				assert.Equal(t, 10*time.Millisecond, g.Config.Sim.Tick())
				w, h := g.Config.Sim.ImageSize()
				assert.Equal(t, 64*48, w*h)
				assert.Equal(t, time.Duration(0), g.Config.Sim.ControlTimeout())
				assert.Equal(t, "127.0.0.1:9100", g.Config.Metrics.Listen)
				assert.True(t, g.Log.Enabled(log2.LDebug))
			},
			"",
		},

		{"include-normalize", `
share { topic_prefix = "rov" }
include "./empty" {}`,
			func(t testing.TB, ctx context.Context) {
				assert.Equal(t, "rov/telemetry", GetGlobal(ctx).Config.Share.Topic(share.EndpointTelemetry))
			}, ""},

		{"include-optional", `
include "linger-7" {}
include "non-exist" { optional = true }`,
			func(t testing.TB, ctx context.Context) {
				assert.Equal(t, 7, GetGlobal(ctx).Config.Share.LingerMs)
			}, ""},

		{"include-overwrites", `
share { linger_ms = 1 }
include "linger-7" {}`,
			func(t testing.TB, ctx context.Context) {
				assert.Equal(t, 7, GetGlobal(ctx).Config.Share.LingerMs)
			}, ""},

		{"error-include-required", `include "non-exist" {}`, nil, "config required name=non-exist"},
		{"error-syntax", `hello`, nil, "key 'hello' expected start of object"},
		{"error-include-loop", `include "include-loop" {}`, nil, "config include loop: from=include-loop include=include-loop"},
		{"error-invalid", `share { codec = "xml" } sim { tick_ms = -5 }`, nil, "sim.tick_ms=-5 not valid"},
	}
	mkCheck := func(c Case) func(*testing.T) {
		return func(t *testing.T) {
			t.Parallel()
			log := log2.NewTest(t, log2.LInfo)
			ctx, g := NewContext(log)

			fs := NewMockFullReader(map[string]string{
				"test-inline":  c.input,
				"empty":        "",
				"linger-7":     "share{linger_ms=7}",
				"error-syntax": "hello",
				"include-loop": `include "include-loop" {}`,
			})
			cfg, err := ReadConfig(log, fs, "test-inline")
			if err == nil {
				err = g.Init(ctx, cfg)
			}
			if c.expectErr == "" {
				if err != nil {
					t.Fatalf("error expected=nil actual='%v'", errors.ErrorStack(err))
				}
				if c.check != nil {
					c.check(t, ctx)
				}
			} else {
				if err == nil || !strings.Contains(err.Error(), c.expectErr) {
					t.Fatalf("error expected='%s' actual='%v'", c.expectErr, err)
				}
			}
		}
	}
	for _, c := range cases {
		t.Run(c.name, mkCheck(c))
	}
}

func TestFunctionalBundled(t *testing.T) {
	// not Parallel
	t.Logf("this test needs OS open|read|stat access to file `../auvshare.hcl`")

	log := log2.NewTest(t, log2.LDebug)
	c := MustReadConfig(log, NewOsFullReader(), "../auvshare.hcl")
	assert.Equal(t, "tcp://127.0.0.1:3391", c.Share.Control())
}

func TestGlobalChannel(t *testing.T) {
	t.Parallel()

	ctx, g := NewTestContext(t, `
share {
	bottom_url = "tcp://127.0.0.1:"
	front_url = "tcp://127.0.0.1:"
	telemetry_url = "tcp://127.0.0.1:"
	control_url = "tcp://127.0.0.1:"
}
sim { image_width = 8 image_height = 8 }`)
	require.NoError(t, g.InitChannel(ctx))
	g.Vehicle.SetPose(share.Vec3{X: 2, Y: 1, Z: 3}, 4)
	g.Runner.Step(time.Millisecond)
	assert.Equal(t, share.Telemetry{Yaw: 1, Pitch: 2, Roll: 3, Depth: 4}, g.Channel.GetTelemetry())
	require.NoError(t, g.Stop())
}
