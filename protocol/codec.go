package protocol

import (
	"github.com/pkg/errors"

	mcnet "badc0de.net/pkg/go-mcproto/net"
)

// Codec turns packet bodies into typed packets and back, using the descriptors
// of a registry.
type Codec struct {
	reg *Registry
}

func NewCodec(reg *Registry) *Codec {
	return &Codec{reg: reg}
}

func (c *Codec) Registry() *Registry {
	return c.reg
}

// Decode resolves the id and decodes body into a packet.
//
// Resolution errors are returned as they are (ErrNotImplemented,
// ErrUnmappedState). A failing decode function, or a body with bytes left over
// after decoding, gives an error matching ErrCorruptPacket.
func (c *Codec) Decode(s State, dir Direction, v Version, id int32, body []byte) (Packet, *Descriptor, error) {
	d, err := c.reg.Resolve(s, dir, id, v)
	if err != nil {
		return nil, nil, err
	}

	msg := mcnet.NewMessageFrom(body)
	p, err := d.Decode(msg, v)
	if err != nil {
		return nil, d, errors.Wrapf(corrupt{err}, "decoding %s", d.Name)
	}
	if msg.Len() > 0 {
		return nil, d, errors.Wrapf(ErrCorruptPacket, "decoding %s: %d trailing bytes", d.Name, msg.Len())
	}
	return p, d, nil
}

// Encode resolves the packet by name and encodes its body.
func (c *Codec) Encode(s State, dir Direction, v Version, p Packet) (int32, []byte, *Descriptor, error) {
	d, err := c.reg.ResolveName(s, dir, p.PacketName(), v)
	if err != nil {
		return 0, nil, nil, err
	}

	msg := mcnet.NewMessage()
	if err := d.Encode(msg, p, v); err != nil {
		return 0, nil, d, errors.Wrapf(invalid{err}, "encoding %s", d.Name)
	}
	return d.ID, msg.Bytes(), d, nil
}

// corrupt marks a decode error as ErrCorruptPacket while keeping the original
// error reachable through errors.Is and errors.As.
type corrupt struct{ err error }

func (e corrupt) Error() string { return ErrCorruptPacket.Error() + ": " + e.err.Error() }
func (e corrupt) Unwrap() error { return e.err }
func (e corrupt) Is(target error) bool { return target == ErrCorruptPacket }

type invalid struct{ err error }

func (e invalid) Error() string { return ErrInvalidPacket.Error() + ": " + e.err.Error() }
func (e invalid) Unwrap() error { return e.err }
func (e invalid) Is(target error) bool { return target == ErrInvalidPacket }
