package packets

import (
	"github.com/pkg/errors"

	mcnet "badc0de.net/pkg/go-mcproto/net"
	"badc0de.net/pkg/go-mcproto/protocol"
)

// Intent is the state a client asks for in its handshake.
type Intent int32

const (
	IntentStatus   Intent = 1
	IntentLogin    Intent = 2
	IntentTransfer Intent = 3
)

func (i Intent) String() string {
	switch i {
	case IntentStatus:
		return "status"
	case IntentLogin:
		return "login"
	case IntentTransfer:
		return "transfer"
	}
	return "unknown-intent"
}

// Handshake is the first packet of every connection.
type Handshake struct {
	ProtocolVersion protocol.Version
	ServerAddress   string
	ServerPort      uint16
	Intent          Intent
}

func (*Handshake) PacketName() string { return "handshake" }

func (p *Handshake) decode(m *mcnet.Message, _ protocol.Version) error {
	pv, err := m.ReadVarInt()
	if err != nil {
		return errors.Wrap(err, "protocol version")
	}
	if pv < 0 {
		return errors.Errorf("negative protocol version %d", pv)
	}
	if p.ServerAddress, err = m.ReadVarString(255); err != nil {
		return errors.Wrap(err, "server address")
	}
	if p.ServerPort, err = m.ReadUint16(); err != nil {
		return errors.Wrap(err, "server port")
	}
	intent, err := m.ReadVarInt()
	if err != nil {
		return errors.Wrap(err, "intent")
	}
	p.ProtocolVersion = protocol.Version(pv)
	p.Intent = Intent(intent)
	return p.validate()
}

func (p *Handshake) validate() error {
	switch p.Intent {
	case IntentStatus, IntentLogin:
		return nil
	case IntentTransfer:
		if p.ProtocolVersion >= protocol.V1_20_5 {
			return nil
		}
		return errors.Errorf("transfer intent in protocol %d", int32(p.ProtocolVersion))
	}
	return errors.Errorf("invalid intent %d", int32(p.Intent))
}

func (p *Handshake) encode(m *mcnet.Message, _ protocol.Version) error {
	if err := p.validate(); err != nil {
		return err
	}
	m.WriteVarInt(int32(p.ProtocolVersion))
	if err := m.WriteVarString(p.ServerAddress, 255); err != nil {
		return err
	}
	m.WriteUint16(p.ServerPort)
	return m.WriteVarInt(int32(p.Intent))
}

func handshakeLifecycle(pkt protocol.Packet) protocol.Lifecycle {
	p := pkt.(*Handshake)
	next := protocol.Login
	if p.Intent == IntentStatus {
		next = protocol.Status
	}
	return protocol.Lifecycle{
		Next:       next,
		Transition: true,
		Negotiate:  p.ProtocolVersion,
	}
}

func handshakeDescriptors() []protocol.Descriptor {
	return define[Handshake](protocol.Handshake, protocol.Serverbound, handshakeLifecycle, all(0x00))
}
