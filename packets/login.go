package packets

import (
	"github.com/pkg/errors"

	mcnet "badc0de.net/pkg/go-mcproto/net"
	"badc0de.net/pkg/go-mcproto/protocol"
)

const (
	maxUsername = 16
	maxJSON     = 262144
	maxChannel  = 32767
	maxProperty = 32767
	maxKeyBytes = 1024
	maxPayload  = 1 << 20
)

// LoginStart opens the login exchange.
type LoginStart struct {
	Name string
	// HasUUID reports whether UUID was sent. It is always true from 1.20.2 on and
	// never before 1.19.3.
	HasUUID bool
	UUID    mcnet.UUID
}

func (*LoginStart) PacketName() string { return "login_start" }

func (p *LoginStart) decode(m *mcnet.Message, v protocol.Version) error {
	var err error
	if p.Name, err = m.ReadVarString(maxUsername); err != nil {
		return errors.Wrap(err, "name")
	}
	switch {
	case v >= protocol.V1_20_2:
		p.HasUUID = true
	case v >= protocol.V1_19_3:
		if p.HasUUID, err = m.ReadBool(); err != nil {
			return errors.Wrap(err, "has uuid")
		}
	default:
		return nil
	}
	if p.HasUUID {
		if p.UUID, err = m.ReadUUID(); err != nil {
			return errors.Wrap(err, "uuid")
		}
	}
	return nil
}

func (p *LoginStart) encode(m *mcnet.Message, v protocol.Version) error {
	if err := m.WriteVarString(p.Name, maxUsername); err != nil {
		return errors.Wrap(err, "name")
	}
	switch {
	case v >= protocol.V1_20_2:
		return m.WriteUUID(p.UUID)
	case v >= protocol.V1_19_3:
		m.WriteBool(p.HasUUID)
		if p.HasUUID {
			return m.WriteUUID(p.UUID)
		}
	}
	return nil
}

// EncryptionRequest asks the client to encrypt a shared secret with the
// server's public key.
type EncryptionRequest struct {
	ServerID    string
	PublicKey   []byte
	VerifyToken []byte
	// ShouldAuthenticate exists since 1.20.5.
	ShouldAuthenticate bool
}

func (*EncryptionRequest) PacketName() string { return "encryption_request" }

func (p *EncryptionRequest) decode(m *mcnet.Message, v protocol.Version) error {
	var err error
	if p.ServerID, err = m.ReadVarString(20); err != nil {
		return errors.Wrap(err, "server id")
	}
	if p.PublicKey, err = m.ReadByteArray(maxKeyBytes); err != nil {
		return errors.Wrap(err, "public key")
	}
	if p.VerifyToken, err = m.ReadByteArray(maxKeyBytes); err != nil {
		return errors.Wrap(err, "verify token")
	}
	if v >= protocol.V1_20_5 {
		if p.ShouldAuthenticate, err = m.ReadBool(); err != nil {
			return errors.Wrap(err, "should authenticate")
		}
	}
	return nil
}

func (p *EncryptionRequest) encode(m *mcnet.Message, v protocol.Version) error {
	if err := m.WriteVarString(p.ServerID, 20); err != nil {
		return err
	}
	m.WriteByteArray(p.PublicKey)
	m.WriteByteArray(p.VerifyToken)
	if v >= protocol.V1_20_5 {
		return m.WriteBool(p.ShouldAuthenticate)
	}
	return nil
}

// EncryptionResponse returns the shared secret and the verify token, both
// encrypted with the server's public key.
type EncryptionResponse struct {
	SharedSecret []byte
	VerifyToken  []byte
}

func (*EncryptionResponse) PacketName() string { return "encryption_response" }

func (p *EncryptionResponse) decode(m *mcnet.Message, _ protocol.Version) error {
	var err error
	if p.SharedSecret, err = m.ReadByteArray(maxKeyBytes); err != nil {
		return errors.Wrap(err, "shared secret")
	}
	if p.VerifyToken, err = m.ReadByteArray(maxKeyBytes); err != nil {
		return errors.Wrap(err, "verify token")
	}
	return nil
}

func (p *EncryptionResponse) encode(m *mcnet.Message, _ protocol.Version) error {
	m.WriteByteArray(p.SharedSecret)
	return m.WriteByteArray(p.VerifyToken)
}

// Property is a signed profile property, such as the skin texture.
type Property struct {
	Name, Value  string
	HasSignature bool
	Signature    string
}

// LoginSuccess ends the login exchange.
type LoginSuccess struct {
	UUID       mcnet.UUID
	Username   string
	Properties []Property
	// StrictErrorHandling exists from 1.20.5 to 1.21.1.
	StrictErrorHandling bool
}

func (*LoginSuccess) PacketName() string { return "login_success" }

func (p *LoginSuccess) decode(m *mcnet.Message, v protocol.Version) error {
	var err error
	if v < protocol.V1_16 {
		s, err := m.ReadVarString(36)
		if err != nil {
			return errors.Wrap(err, "uuid")
		}
		if p.UUID, err = mcnet.ParseUUID(s); err != nil {
			return err
		}
	} else if p.UUID, err = m.ReadUUID(); err != nil {
		return err
	}
	if p.Username, err = m.ReadVarString(maxUsername); err != nil {
		return errors.Wrap(err, "username")
	}
	if v >= protocol.V1_19 {
		n, err := m.ReadVarInt()
		if err != nil {
			return errors.Wrap(err, "property count")
		}
		if n < 0 || int(n) > m.Len() {
			return errors.Errorf("property count %d", n)
		}
		p.Properties = make([]Property, n)
		for i := range p.Properties {
			if err := p.Properties[i].decode(m); err != nil {
				return errors.Wrapf(err, "property %d", i)
			}
		}
	}
	if v >= protocol.V1_20_5 && v < protocol.V1_21_2 {
		if p.StrictErrorHandling, err = m.ReadBool(); err != nil {
			return errors.Wrap(err, "strict error handling")
		}
	}
	return nil
}

func (p *LoginSuccess) encode(m *mcnet.Message, v protocol.Version) error {
	if v < protocol.V1_16 {
		m.WriteVarString(p.UUID.String(), 36)
	} else {
		m.WriteUUID(p.UUID)
	}
	if err := m.WriteVarString(p.Username, maxUsername); err != nil {
		return errors.Wrap(err, "username")
	}
	if v >= protocol.V1_19 {
		m.WriteVarInt(int32(len(p.Properties)))
		for i := range p.Properties {
			if err := p.Properties[i].encode(m); err != nil {
				return errors.Wrapf(err, "property %d", i)
			}
		}
	}
	if v >= protocol.V1_20_5 && v < protocol.V1_21_2 {
		return m.WriteBool(p.StrictErrorHandling)
	}
	return nil
}

func (p *Property) decode(m *mcnet.Message) error {
	var err error
	if p.Name, err = m.ReadVarString(maxProperty); err != nil {
		return err
	}
	if p.Value, err = m.ReadVarString(maxProperty); err != nil {
		return err
	}
	if p.HasSignature, err = m.ReadBool(); err != nil {
		return err
	}
	if p.HasSignature {
		p.Signature, err = m.ReadVarString(maxProperty)
	}
	return err
}

func (p *Property) encode(m *mcnet.Message) error {
	if err := m.WriteVarString(p.Name, maxProperty); err != nil {
		return err
	}
	if err := m.WriteVarString(p.Value, maxProperty); err != nil {
		return err
	}
	m.WriteBool(p.HasSignature)
	if p.HasSignature {
		return m.WriteVarString(p.Signature, maxProperty)
	}
	return nil
}

// SetCompression switches compression on for the rest of the connection.
type SetCompression struct {
	Threshold int32
}

func (*SetCompression) PacketName() string { return "set_compression" }

func (p *SetCompression) decode(m *mcnet.Message, _ protocol.Version) error {
	var err error
	p.Threshold, err = m.ReadVarInt()
	return err
}

func (p *SetCompression) encode(m *mcnet.Message, _ protocol.Version) error {
	return m.WriteVarInt(p.Threshold)
}

// A negative threshold leaves compression off.
func setCompressionLifecycle(pkt protocol.Packet) protocol.Lifecycle {
	t := pkt.(*SetCompression).Threshold
	if t < 0 {
		return protocol.Lifecycle{}
	}
	return protocol.Lifecycle{Compress: true, CompressionThreshold: int(t)}
}

// LoginDisconnect rejects the login. The reason is a JSON text component.
type LoginDisconnect struct {
	Reason string
}

func (*LoginDisconnect) PacketName() string { return "login_disconnect" }

func (p *LoginDisconnect) decode(m *mcnet.Message, _ protocol.Version) error {
	var err error
	p.Reason, err = m.ReadVarString(maxJSON)
	return err
}

func (p *LoginDisconnect) encode(m *mcnet.Message, _ protocol.Version) error {
	return m.WriteVarString(p.Reason, maxJSON)
}

// LoginPluginRequest is a custom query sent during login.
type LoginPluginRequest struct {
	MessageID int32
	Channel   string
	Data      []byte
}

func (*LoginPluginRequest) PacketName() string { return "login_plugin_request" }

func (p *LoginPluginRequest) decode(m *mcnet.Message, _ protocol.Version) error {
	var err error
	if p.MessageID, err = m.ReadVarInt(); err != nil {
		return err
	}
	if p.Channel, err = m.ReadVarString(maxChannel); err != nil {
		return err
	}
	if m.Len() > maxPayload {
		return errors.Errorf("plugin payload of %d bytes", m.Len())
	}
	p.Data = m.ReadRemaining()
	return nil
}

func (p *LoginPluginRequest) encode(m *mcnet.Message, _ protocol.Version) error {
	m.WriteVarInt(p.MessageID)
	if err := m.WriteVarString(p.Channel, maxChannel); err != nil {
		return err
	}
	_, err := m.Write(p.Data)
	return err
}

// LoginPluginResponse answers a LoginPluginRequest. Data is only sent when
// Successful is set.
type LoginPluginResponse struct {
	MessageID  int32
	Successful bool
	Data       []byte
}

func (*LoginPluginResponse) PacketName() string { return "login_plugin_response" }

func (p *LoginPluginResponse) decode(m *mcnet.Message, _ protocol.Version) error {
	var err error
	if p.MessageID, err = m.ReadVarInt(); err != nil {
		return err
	}
	if p.Successful, err = m.ReadBool(); err != nil {
		return err
	}
	if p.Successful {
		if m.Len() > maxPayload {
			return errors.Errorf("plugin payload of %d bytes", m.Len())
		}
		p.Data = m.ReadRemaining()
	}
	return nil
}

func (p *LoginPluginResponse) encode(m *mcnet.Message, _ protocol.Version) error {
	m.WriteVarInt(p.MessageID)
	m.WriteBool(p.Successful)
	if p.Successful {
		_, err := m.Write(p.Data)
		return err
	}
	return nil
}

// LoginAcknowledged confirms LoginSuccess and moves the connection to the
// configuration state.
type LoginAcknowledged struct{}

func (*LoginAcknowledged) PacketName() string { return "login_acknowledged" }

func (*LoginAcknowledged) decode(*mcnet.Message, protocol.Version) error { return nil }
func (*LoginAcknowledged) encode(*mcnet.Message, protocol.Version) error { return nil }

func loginDescriptors() []protocol.Descriptor {
	const (
		sb = protocol.Serverbound
		cb = protocol.Clientbound
		s  = protocol.Login
	)
	var ds []protocol.Descriptor

	// Between 1.19 and 1.19.3 login start and encryption response carried
	// chat-signing data; those versions are not mapped.
	ds = append(ds, define[LoginStart](s, sb, nil,
		between(protocol.V1_8, protocol.V1_19, 0x00),
		since(protocol.V1_19_3, 0x00))...)
	ds = append(ds, define[EncryptionResponse](s, sb, nil,
		between(protocol.V1_8, protocol.V1_19, 0x01),
		since(protocol.V1_19_3, 0x01))...)
	ds = append(ds, define[LoginPluginResponse](s, sb, nil, since(protocol.V1_13, 0x02))...)
	ds = append(ds, define[LoginAcknowledged](s, sb, protocol.TransitionTo(protocol.Configuration),
		since(protocol.V1_20_2, 0x03))...)

	ds = append(ds, define[LoginDisconnect](s, cb, protocol.TransitionTo(protocol.Closed), since(protocol.V1_8, 0x00))...)
	ds = append(ds, define[EncryptionRequest](s, cb, nil, since(protocol.V1_8, 0x01))...)
	// Before 1.20.2 login success goes straight to play; later versions wait
	// for login acknowledged.
	ds = append(ds, define[LoginSuccess](s, cb, protocol.TransitionTo(protocol.Play),
		between(protocol.V1_8, protocol.V1_19, 0x02),
		between(protocol.V1_19_3, protocol.V1_20_2, 0x02))...)
	ds = append(ds, define[LoginSuccess](s, cb, nil, since(protocol.V1_20_2, 0x02))...)
	ds = append(ds, define[SetCompression](s, cb, setCompressionLifecycle, since(protocol.V1_8, 0x03))...)
	ds = append(ds, define[LoginPluginRequest](s, cb, nil, since(protocol.V1_13, 0x04))...)
	return ds
}
