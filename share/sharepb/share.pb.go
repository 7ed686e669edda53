// Package sharepb contains message types of share.proto in golang/protobuf struct tag form.
package sharepb

import (
	"github.com/golang/protobuf/proto"
)

type Telemetry struct {
	Yaw                  float32  `protobuf:"fixed32,1,opt,name=yaw,proto3" json:"yaw,omitempty"`
	Pitch                float32  `protobuf:"fixed32,2,opt,name=pitch,proto3" json:"pitch,omitempty"`
	Roll                 float32  `protobuf:"fixed32,3,opt,name=roll,proto3" json:"roll,omitempty"`
	Depth                float32  `protobuf:"fixed32,4,opt,name=depth,proto3" json:"depth,omitempty"`
	XXX_NoUnkeyedLiteral struct{} `json:"-"`
	XXX_unrecognized     []byte   `json:"-"`
	XXX_sizecache        int32    `json:"-"`
}

func (m *Telemetry) Reset()         { *m = Telemetry{} }
func (m *Telemetry) String() string { return proto.CompactTextString(m) }
func (*Telemetry) ProtoMessage()    {}

func (m *Telemetry) GetYaw() float32 {
	if m != nil {
		return m.Yaw
	}
	return 0
}

func (m *Telemetry) GetPitch() float32 {
	if m != nil {
		return m.Pitch
	}
	return 0
}

func (m *Telemetry) GetRoll() float32 {
	if m != nil {
		return m.Roll
	}
	return 0
}

func (m *Telemetry) GetDepth() float32 {
	if m != nil {
		return m.Depth
	}
	return 0
}

type Control struct {
	Surge                float32  `protobuf:"fixed32,1,opt,name=surge,proto3" json:"surge,omitempty"`
	Sway                 float32  `protobuf:"fixed32,2,opt,name=sway,proto3" json:"sway,omitempty"`
	Heave                float32  `protobuf:"fixed32,3,opt,name=heave,proto3" json:"heave,omitempty"`
	Yaw                  float32  `protobuf:"fixed32,4,opt,name=yaw,proto3" json:"yaw,omitempty"`
	Pitch                float32  `protobuf:"fixed32,5,opt,name=pitch,proto3" json:"pitch,omitempty"`
	Roll                 float32  `protobuf:"fixed32,6,opt,name=roll,proto3" json:"roll,omitempty"`
	Flags                uint32   `protobuf:"varint,7,opt,name=flags,proto3" json:"flags,omitempty"`
	XXX_NoUnkeyedLiteral struct{} `json:"-"`
	XXX_unrecognized     []byte   `json:"-"`
	XXX_sizecache        int32    `json:"-"`
}

func (m *Control) Reset()         { *m = Control{} }
func (m *Control) String() string { return proto.CompactTextString(m) }
func (*Control) ProtoMessage()    {}

func (m *Control) GetSurge() float32 {
	if m != nil {
		return m.Surge
	}
	return 0
}

func (m *Control) GetSway() float32 {
	if m != nil {
		return m.Sway
	}
	return 0
}

func (m *Control) GetHeave() float32 {
	if m != nil {
		return m.Heave
	}
	return 0
}

func (m *Control) GetYaw() float32 {
	if m != nil {
		return m.Yaw
	}
	return 0
}

func (m *Control) GetPitch() float32 {
	if m != nil {
		return m.Pitch
	}
	return 0
}

func (m *Control) GetRoll() float32 {
	if m != nil {
		return m.Roll
	}
	return 0
}

func (m *Control) GetFlags() uint32 {
	if m != nil {
		return m.Flags
	}
	return 0
}
