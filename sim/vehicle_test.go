package sim

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/auvshare/share"
)

func TestVehicleApply(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		c      share.Control
		dt     time.Duration
		expect share.Vec3
		depth  float32
	}{
		{"idle", share.Control{}, time.Second, share.Vec3{}, 5},
		{"yaw", share.Control{Yaw: 1}, time.Second, share.Vec3{Y: math.Pi / 4}, 5},
		{"pitch-roll", share.Control{Pitch: -1, Roll: 2}, 500 * time.Millisecond, share.Vec3{X: -math.Pi / 8, Z: math.Pi / 4}, 5},
		{"dive", share.Control{Heave: -2}, time.Second, share.Vec3{}, 6},
		{"surface", share.Control{Heave: 100}, time.Second, share.Vec3{}, 0},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			v := NewVehicle(4, 2)
			v.SetPose(share.Vec3{}, 5)
			v.Apply(c.c, c.dt)
			rot := v.Rotation()
			assert.InDelta(t, c.expect.X, rot.X, 1e-6)
			assert.InDelta(t, c.expect.Y, rot.Y, 1e-6)
			assert.InDelta(t, c.expect.Z, rot.Z, 1e-6)
			assert.InDelta(t, c.depth, v.Depth(), 1e-6)
		})
	}
}

func TestWrapAngle(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0, wrapAngle(2*math.Pi), 1e-6)
	assert.InDelta(t, math.Pi, wrapAngle(-math.Pi), 1e-6)
	assert.InDelta(t, -math.Pi/2, wrapAngle(3*math.Pi/2), 1e-6)
}

func TestVehicleImages(t *testing.T) {
	t.Parallel()

	v := NewVehicle(320, 240)
	front := v.FrontCameraImage()
	require.Len(t, front, 320*240*3)
	first := append([]byte(nil), front...)
	v.Apply(share.Control{Yaw: 1}, time.Second)
	assert.NotEqual(t, first, v.FrontCameraImage(), "frame must change with yaw")

	bottom := v.BottomCameraImage()
	require.Len(t, bottom, 320*240*3)
	shallow := bottom[0]
	v.SetPose(share.Vec3{}, 50)
	assert.Less(t, v.BottomCameraImage()[0], shallow, "darker with depth")
}
