package share

import (
	"github.com/golang/protobuf/proto"
	"github.com/juju/errors"
	"github.com/temoto/auvshare/share/sharepb"
)

// Codec converts records to and from endpoint payloads. Images are always raw bytes.
type Codec interface {
	Name() string
	EncodeTelemetry(Telemetry) ([]byte, error)
	DecodeTelemetry([]byte) (Telemetry, error)
	EncodeControl(Control) ([]byte, error)
	DecodeControl([]byte) (Control, error)
}

func CodecByName(name string) (Codec, error) {
	switch name {
	case "", RawCodec{}.Name():
		return RawCodec{}, nil
	case ProtoCodec{}.Name():
		return ProtoCodec{}, nil
	}
	return nil, errors.NotSupportedf("codec=%s", name)
}

// RawCodec is fixed size little-endian layout, see Telemetry.MarshalBinary.
type RawCodec struct{}

func (RawCodec) Name() string { return "raw" }

func (RawCodec) EncodeTelemetry(t Telemetry) ([]byte, error) { return t.MarshalBinary() }
func (RawCodec) EncodeControl(c Control) ([]byte, error)     { return c.MarshalBinary() }

func (RawCodec) DecodeTelemetry(b []byte) (Telemetry, error) {
	var t Telemetry
	err := t.UnmarshalBinary(b)
	return t, err
}

func (RawCodec) DecodeControl(b []byte) (Control, error) {
	var c Control
	err := c.UnmarshalBinary(b)
	return c, err
}

// ProtoCodec uses auvshare.Telemetry and auvshare.Control messages.
type ProtoCodec struct{}

func (ProtoCodec) Name() string { return "protobuf" }

func (ProtoCodec) EncodeTelemetry(t Telemetry) ([]byte, error) {
	b, err := proto.Marshal(&sharepb.Telemetry{Yaw: t.Yaw, Pitch: t.Pitch, Roll: t.Roll, Depth: t.Depth})
	return b, errors.Annotate(err, "telemetry proto.Marshal")
}

func (ProtoCodec) DecodeTelemetry(b []byte) (Telemetry, error) {
	var pb sharepb.Telemetry
	if err := proto.Unmarshal(b, &pb); err != nil {
		return Telemetry{}, errors.Annotate(err, "telemetry proto.Unmarshal")
	}
	return Telemetry{Yaw: pb.GetYaw(), Pitch: pb.GetPitch(), Roll: pb.GetRoll(), Depth: pb.GetDepth()}, nil
}

func (ProtoCodec) EncodeControl(c Control) ([]byte, error) {
	b, err := proto.Marshal(&sharepb.Control{
		Surge: c.Surge,
		Sway:  c.Sway,
		Heave: c.Heave,
		Yaw:   c.Yaw,
		Pitch: c.Pitch,
		Roll:  c.Roll,
		Flags: c.Flags,
	})
	return b, errors.Annotate(err, "control proto.Marshal")
}

func (ProtoCodec) DecodeControl(b []byte) (Control, error) {
	var pb sharepb.Control
	if err := proto.Unmarshal(b, &pb); err != nil {
		return Control{}, errors.Annotate(err, "control proto.Unmarshal")
	}
	return Control{
		Surge: pb.GetSurge(),
		Sway:  pb.GetSway(),
		Heave: pb.GetHeave(),
		Yaw:   pb.GetYaw(),
		Pitch: pb.GetPitch(),
		Roll:  pb.GetRoll(),
		Flags: pb.GetFlags(),
	}, nil
}
