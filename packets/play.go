package packets

import (
	"encoding/binary"
	"encoding/json"

	"github.com/pkg/errors"

	mcnet "badc0de.net/pkg/go-mcproto/net"
	"badc0de.net/pkg/go-mcproto/protocol"
)

const (
	nbtEnd      = 0x00
	nbtString   = 0x08
	nbtCompound = 0x0a
)

// TextComponentNBT returns a plain text component in network NBT form: an
// unnamed root string tag.
func TextComponentNBT(text string) []byte {
	b := make([]byte, 3, 3+len(text))
	b[0] = nbtString
	binary.BigEndian.PutUint16(b[1:], uint16(len(text)))
	return append(b, text...)
}

// TextComponentJSON returns a plain text component in JSON form.
func TextComponentJSON(text string) string {
	b, _ := json.Marshal(struct {
		Text string `json:"text"`
	}{text})
	return string(b)
}

// NewDisconnect returns a disconnect whose reason is text in both encodings,
// so it can be sent at any version.
func NewDisconnect(text string) *Disconnect {
	return &Disconnect{JSON: TextComponentJSON(text), NBT: TextComponentNBT(text)}
}

// Disconnect closes the connection with a reason. Before 1.20.3 the reason is
// a JSON text component; later versions send network NBT.
type Disconnect struct {
	JSON string
	NBT  []byte
}

func (*Disconnect) PacketName() string { return "disconnect" }

func (p *Disconnect) decode(m *mcnet.Message, v protocol.Version) error {
	if v < protocol.V1_20_3 {
		var err error
		p.JSON, err = m.ReadVarString(maxJSON)
		return err
	}
	if m.Len() == 0 {
		return errors.New("empty nbt reason")
	}
	if m.Len() > maxPayload {
		return errors.Errorf("nbt reason of %d bytes", m.Len())
	}
	p.NBT = m.ReadRemaining()
	return nil
}

func (p *Disconnect) encode(m *mcnet.Message, v protocol.Version) error {
	if v < protocol.V1_20_3 {
		reason := p.JSON
		if reason == "" {
			reason = `""`
		}
		return m.WriteVarString(reason, maxJSON)
	}
	nbt := p.NBT
	if len(nbt) == 0 {
		nbt = TextComponentNBT("")
	}
	_, err := m.Write(nbt)
	return err
}

// Text returns the plain text of the reason, as far as it can be extracted
// from either encoding.
func (p *Disconnect) Text() string {
	if p.NBT != nil {
		return nbtText(p.NBT)
	}
	var s string
	if json.Unmarshal([]byte(p.JSON), &s) == nil {
		return s
	}
	var c struct {
		Text string `json:"text"`
	}
	if json.Unmarshal([]byte(p.JSON), &c) == nil {
		return c.Text
	}
	return p.JSON
}

// nbtText understands a root string tag, and a root compound whose string
// tags precede anything else.
func nbtText(b []byte) string {
	readString := func() (string, bool) {
		if len(b) < 2 {
			return "", false
		}
		n := int(binary.BigEndian.Uint16(b))
		if len(b) < 2+n {
			return "", false
		}
		s := string(b[2 : 2+n])
		b = b[2+n:]
		return s, true
	}
	if len(b) == 0 {
		return ""
	}
	tag := b[0]
	b = b[1:]
	switch tag {
	case nbtString:
		s, _ := readString()
		return s
	case nbtCompound:
		for len(b) > 0 && b[0] == nbtString {
			b = b[1:]
			name, ok := readString()
			if !ok {
				return ""
			}
			value, ok := readString()
			if !ok {
				return ""
			}
			if name == "text" {
				return value
			}
		}
	}
	return ""
}

// StartConfiguration moves a play connection back to configuration, once the
// client acknowledges it.
type StartConfiguration struct{}

func (*StartConfiguration) PacketName() string { return "start_configuration" }

func (*StartConfiguration) decode(*mcnet.Message, protocol.Version) error { return nil }
func (*StartConfiguration) encode(*mcnet.Message, protocol.Version) error { return nil }

// ConfigurationAck acknowledges StartConfiguration.
type ConfigurationAck struct{}

func (*ConfigurationAck) PacketName() string { return "configuration_ack" }

func (*ConfigurationAck) decode(*mcnet.Message, protocol.Version) error { return nil }
func (*ConfigurationAck) encode(*mcnet.Message, protocol.Version) error { return nil }

// The play state is only mapped for the handful of packets the lifecycle
// needs, on the releases listed here.
func playDescriptors() []protocol.Descriptor {
	const (
		sb = protocol.Serverbound
		cb = protocol.Clientbound
		s  = protocol.Play
	)
	var (
		r1_8    = protocol.Between(protocol.V1_8, protocol.V1_9)
		r1_12_2 = protocol.Between(protocol.V1_12_2, protocol.V1_12_2+1)
		r1_16_5 = protocol.Between(protocol.V1_16_5, protocol.V1_17)
		r1_20   = protocol.Between(protocol.V1_20, protocol.V1_20_2)
		r1_20_2 = protocol.Between(protocol.V1_20_2, protocol.V1_20_3)
		r1_20_3 = protocol.Between(protocol.V1_20_3, protocol.V1_20_5)
		r1_20_5 = protocol.Between(protocol.V1_20_5, protocol.V1_21_2)
	)
	var ds []protocol.Descriptor

	ds = append(ds, define[KeepAlive](s, cb, nil,
		at{r1_8, 0x00},
		at{r1_12_2, 0x1f},
		at{r1_16_5, 0x1f},
		at{r1_20, 0x23},
		at{protocol.Between(protocol.V1_20_2, protocol.V1_20_5), 0x24},
		at{r1_20_5, 0x26})...)
	ds = append(ds, define[KeepAlive](s, sb, nil,
		at{r1_8, 0x00},
		at{r1_12_2, 0x0b},
		at{r1_16_5, 0x10},
		at{r1_20, 0x12},
		at{r1_20_2, 0x14},
		at{r1_20_3, 0x15},
		at{r1_20_5, 0x18})...)
	ds = append(ds, define[Disconnect](s, cb, protocol.TransitionTo(protocol.Closed),
		at{r1_8, 0x40},
		at{r1_12_2, 0x1a},
		at{r1_16_5, 0x19},
		at{r1_20, 0x1a},
		at{protocol.Between(protocol.V1_20_2, protocol.V1_20_5), 0x1b},
		at{r1_20_5, 0x1d})...)
	ds = append(ds, define[StartConfiguration](s, cb, nil,
		at{r1_20_2, 0x65},
		at{r1_20_3, 0x67},
		at{r1_20_5, 0x69})...)
	ds = append(ds, define[ConfigurationAck](s, sb, protocol.TransitionTo(protocol.Configuration),
		at{protocol.Between(protocol.V1_20_2, protocol.V1_20_5), 0x0b},
		at{r1_20_5, 0x0c})...)
	return ds
}
