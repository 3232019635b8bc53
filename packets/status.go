package packets

import (
	mcnet "badc0de.net/pkg/go-mcproto/net"
	"badc0de.net/pkg/go-mcproto/protocol"
)

// StatusRequest asks the server for its status document.
type StatusRequest struct{}

func (*StatusRequest) PacketName() string { return "status_request" }

func (*StatusRequest) decode(*mcnet.Message, protocol.Version) error { return nil }
func (*StatusRequest) encode(*mcnet.Message, protocol.Version) error { return nil }

// StatusResponse carries the JSON status document.
type StatusResponse struct {
	JSON string
}

func (*StatusResponse) PacketName() string { return "status_response" }

func (p *StatusResponse) decode(m *mcnet.Message, _ protocol.Version) error {
	var err error
	p.JSON, err = m.ReadVarString(32767)
	return err
}

func (p *StatusResponse) encode(m *mcnet.Message, _ protocol.Version) error {
	return m.WriteVarString(p.JSON, 32767)
}

// PingRequest carries an opaque payload the server echoes back.
type PingRequest struct {
	Payload int64
}

func (*PingRequest) PacketName() string { return "ping_request" }

func (p *PingRequest) decode(m *mcnet.Message, _ protocol.Version) error {
	var err error
	p.Payload, err = m.ReadInt64()
	return err
}

func (p *PingRequest) encode(m *mcnet.Message, _ protocol.Version) error {
	return m.WriteInt64(p.Payload)
}

// PongResponse echoes the ping payload. It ends the status exchange.
type PongResponse struct {
	Payload int64
}

func (*PongResponse) PacketName() string { return "pong_response" }

func (p *PongResponse) decode(m *mcnet.Message, _ protocol.Version) error {
	var err error
	p.Payload, err = m.ReadInt64()
	return err
}

func (p *PongResponse) encode(m *mcnet.Message, _ protocol.Version) error {
	return m.WriteInt64(p.Payload)
}

func statusDescriptors() []protocol.Descriptor {
	var ds []protocol.Descriptor
	ds = append(ds, define[StatusRequest](protocol.Status, protocol.Serverbound, nil, all(0x00))...)
	ds = append(ds, define[PingRequest](protocol.Status, protocol.Serverbound, nil, all(0x01))...)
	ds = append(ds, define[StatusResponse](protocol.Status, protocol.Clientbound, nil, all(0x00))...)
	ds = append(ds, define[PongResponse](protocol.Status, protocol.Clientbound, protocol.TransitionTo(protocol.Closed), all(0x01))...)
	return ds
}
