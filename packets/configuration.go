package packets

import (
	"github.com/pkg/errors"

	mcnet "badc0de.net/pkg/go-mcproto/net"
	"badc0de.net/pkg/go-mcproto/protocol"
)

// PluginMessage carries data on a named plugin channel.
type PluginMessage struct {
	Channel string
	Data    []byte
}

func (*PluginMessage) PacketName() string { return "plugin_message" }

func (p *PluginMessage) decode(m *mcnet.Message, _ protocol.Version) error {
	var err error
	if p.Channel, err = m.ReadVarString(maxChannel); err != nil {
		return errors.Wrap(err, "channel")
	}
	if m.Len() > maxPayload {
		return errors.Errorf("plugin payload of %d bytes", m.Len())
	}
	p.Data = m.ReadRemaining()
	return nil
}

func (p *PluginMessage) encode(m *mcnet.Message, _ protocol.Version) error {
	if err := m.WriteVarString(p.Channel, maxChannel); err != nil {
		return err
	}
	_, err := m.Write(p.Data)
	return err
}

// KeepAlive is sent by the server and echoed by the client. Before 1.12.2 the
// id is a VarInt.
type KeepAlive struct {
	ID int64
}

func (*KeepAlive) PacketName() string { return "keep_alive" }

func (p *KeepAlive) decode(m *mcnet.Message, v protocol.Version) error {
	if v < protocol.V1_12_2 {
		id, err := m.ReadVarInt()
		p.ID = int64(id)
		return err
	}
	var err error
	p.ID, err = m.ReadInt64()
	return err
}

func (p *KeepAlive) encode(m *mcnet.Message, v protocol.Version) error {
	if v < protocol.V1_12_2 {
		return m.WriteVarInt(int32(p.ID))
	}
	return m.WriteInt64(p.ID)
}

// FinishConfiguration tells the client the server is done configuring it.
type FinishConfiguration struct{}

func (*FinishConfiguration) PacketName() string { return "finish_configuration" }

func (*FinishConfiguration) decode(*mcnet.Message, protocol.Version) error { return nil }
func (*FinishConfiguration) encode(*mcnet.Message, protocol.Version) error { return nil }

// FinishConfigurationAck confirms FinishConfiguration and moves the
// connection to play.
type FinishConfigurationAck struct{}

func (*FinishConfigurationAck) PacketName() string { return "finish_configuration_ack" }

func (*FinishConfigurationAck) decode(*mcnet.Message, protocol.Version) error { return nil }
func (*FinishConfigurationAck) encode(*mcnet.Message, protocol.Version) error { return nil }

func configurationDescriptors() []protocol.Descriptor {
	const (
		sb = protocol.Serverbound
		cb = protocol.Clientbound
		s  = protocol.Configuration
	)
	closed := protocol.TransitionTo(protocol.Closed)
	var ds []protocol.Descriptor

	ds = append(ds, define[PluginMessage](s, cb, nil,
		between(protocol.V1_20_2, protocol.V1_20_5, 0x00),
		since(protocol.V1_20_5, 0x01))...)
	ds = append(ds, define[Disconnect](s, cb, closed,
		between(protocol.V1_20_2, protocol.V1_20_5, 0x01),
		since(protocol.V1_20_5, 0x02))...)
	ds = append(ds, define[FinishConfiguration](s, cb, nil,
		between(protocol.V1_20_2, protocol.V1_20_5, 0x02),
		since(protocol.V1_20_5, 0x03))...)
	ds = append(ds, define[KeepAlive](s, cb, nil,
		between(protocol.V1_20_2, protocol.V1_20_5, 0x03),
		since(protocol.V1_20_5, 0x04))...)

	ds = append(ds, define[PluginMessage](s, sb, nil,
		between(protocol.V1_20_2, protocol.V1_20_5, 0x01),
		since(protocol.V1_20_5, 0x02))...)
	ds = append(ds, define[FinishConfigurationAck](s, sb, protocol.TransitionTo(protocol.Play),
		between(protocol.V1_20_2, protocol.V1_20_5, 0x02),
		since(protocol.V1_20_5, 0x03))...)
	ds = append(ds, define[KeepAlive](s, sb, nil,
		between(protocol.V1_20_2, protocol.V1_20_5, 0x03),
		since(protocol.V1_20_5, 0x04))...)
	return ds
}
