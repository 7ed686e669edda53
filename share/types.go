package share

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/juju/errors"
)

const (
	TelemetrySize = 4 * 4
	ControlSize   = 6*4 + 4
)

var ErrPayloadSize = fmt.Errorf("payload size mismatch")

// Vec3 is host scene node rotation, Euler angles.
type Vec3 struct{ X, Y, Z float32 }

// Telemetry is overwritten wholesale each update cycle.
type Telemetry struct {
	Yaw   float32
	Pitch float32
	Roll  float32
	Depth float32
}

// TelemetryFrom maps host rotation: yaw=Y, pitch=X, roll=Z.
func TelemetryFrom(rotation Vec3, depth float32) Telemetry {
	return Telemetry{
		Yaw:   rotation.Y,
		Pitch: rotation.X,
		Roll:  rotation.Z,
		Depth: depth,
	}
}

func (t *Telemetry) String() string {
	return fmt.Sprintf("yaw=%g pitch=%g roll=%g depth=%g", t.Yaw, t.Pitch, t.Roll, t.Depth)
}

// Wire layout: 4 little-endian float32 in field order.
func (t *Telemetry) MarshalBinary() ([]byte, error) {
	b := make([]byte, TelemetrySize)
	putFloats(b, t.Yaw, t.Pitch, t.Roll, t.Depth)
	return b, nil
}

func (t *Telemetry) UnmarshalBinary(b []byte) error {
	if len(b) != TelemetrySize {
		return errors.Annotatef(ErrPayloadSize, "telemetry len=%d expected=%d", len(b), TelemetrySize)
	}
	t.Yaw, t.Pitch, t.Roll, t.Depth = getFloat(b, 0), getFloat(b, 1), getFloat(b, 2), getFloat(b, 3)
	return nil
}

// Control is operator input. Zero value means "no input".
type Control struct {
	Surge float32
	Sway  float32
	Heave float32
	Yaw   float32
	Pitch float32
	Roll  float32
	Flags uint32
}

func (c *Control) IsZero() bool { return *c == Control{} }

func (c *Control) String() string {
	return fmt.Sprintf("surge=%g sway=%g heave=%g yaw=%g pitch=%g roll=%g flags=%#x",
		c.Surge, c.Sway, c.Heave, c.Yaw, c.Pitch, c.Roll, c.Flags)
}

// Wire layout: 6 little-endian float32 and uint32 flags in field order.
func (c *Control) MarshalBinary() ([]byte, error) {
	b := make([]byte, ControlSize)
	putFloats(b, c.Surge, c.Sway, c.Heave, c.Yaw, c.Pitch, c.Roll)
	binary.LittleEndian.PutUint32(b[24:], c.Flags)
	return b, nil
}

// UnmarshalBinary leaves c untouched on error.
func (c *Control) UnmarshalBinary(b []byte) error {
	if len(b) != ControlSize {
		return errors.Annotatef(ErrPayloadSize, "control len=%d expected=%d", len(b), ControlSize)
	}
	*c = Control{
		Surge: getFloat(b, 0),
		Sway:  getFloat(b, 1),
		Heave: getFloat(b, 2),
		Yaw:   getFloat(b, 3),
		Pitch: getFloat(b, 4),
		Roll:  getFloat(b, 5),
		Flags: binary.LittleEndian.Uint32(b[24:]),
	}
	return nil
}

func putFloats(b []byte, fs ...float32) {
	for i, f := range fs {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
}

func getFloat(b []byte, i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
}
