// Package sim is a synthetic host for the sharing channel:
// kinematic vehicle driven by control input and generated camera frames.
package sim

import (
	"math"
	"sync"
	"time"

	"github.com/temoto/auvshare/share"
)

const (
	// full control input for one second
	TurnRate  = math.Pi / 4 // radian
	HeaveRate = 0.5         // meter
)

// Vehicle implements share.Host.
// Camera slices are reused by next frame, share.Channel copies them.
type Vehicle struct {
	mu     sync.Mutex
	rot    share.Vec3
	depth  float32
	frame  uint32
	width  int
	height int
	front  []byte
	bottom []byte
}

var _ share.Host = &Vehicle{}

func NewVehicle(width, height int) *Vehicle {
	return &Vehicle{
		width:  width,
		height: height,
		front:  make([]byte, width*height*3),
		bottom: make([]byte, width*height*3),
	}
}

// Apply integrates control over dt.
// Heave is positive up, depth is positive down and never above surface.
func (v *Vehicle) Apply(c share.Control, dt time.Duration) {
	sec := float32(dt.Seconds())
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rot.X = wrapAngle(v.rot.X + c.Pitch*TurnRate*sec)
	v.rot.Y = wrapAngle(v.rot.Y + c.Yaw*TurnRate*sec)
	v.rot.Z = wrapAngle(v.rot.Z + c.Roll*TurnRate*sec)
	v.depth -= c.Heave * HeaveRate * sec
	if v.depth < 0 {
		v.depth = 0
	}
	v.frame++
}

func (v *Vehicle) SetPose(rot share.Vec3, depth float32) {
	v.mu.Lock()
	v.rot, v.depth = rot, depth
	v.mu.Unlock()
}

func (v *Vehicle) Rotation() share.Vec3 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rot
}

func (v *Vehicle) Depth() float32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.depth
}

// FrontCameraImage is RGB24 horizontal gradient shifted by yaw and frame number.
func (v *Vehicle) FrontCameraImage() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	shift := int(v.rot.Y/(2*math.Pi)*float32(v.width)) + int(v.frame)
	render(v.front, v.width, v.height, func(x, y int) (byte, byte, byte) {
		g := byte((x + shift) * 255 / v.width)
		return g, byte(y * 255 / v.height), 0x80
	})
	return v.front
}

// BottomCameraImage is RGB24, darker with depth.
func (v *Vehicle) BottomCameraImage() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	light := 1 / (1 + v.depth/10)
	render(v.bottom, v.width, v.height, func(x, y int) (byte, byte, byte) {
		sand := float32((x^y)&0x3f) + 0xa0
		return byte(sand * light), byte(sand * light * 0.9), byte(sand * light * 0.6)
	})
	return v.bottom
}

func render(buf []byte, w, h int, pixel func(x, y int) (byte, byte, byte)) {
	i := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			buf[i], buf[i+1], buf[i+2] = pixel(x, y)
			i += 3
		}
	}
}

// (-pi, pi]
func wrapAngle(a float32) float32 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
