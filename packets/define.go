package packets

import (
	"github.com/pkg/errors"

	mcnet "badc0de.net/pkg/go-mcproto/net"
	"badc0de.net/pkg/go-mcproto/protocol"
)

// body is implemented by every packet type of this package.
type body interface {
	protocol.Packet
	decode(m *mcnet.Message, v protocol.Version) error
	encode(m *mcnet.Message, v protocol.Version) error
}

// at maps a version range to the packet id used within it.
type at struct {
	versions protocol.Range
	id       int32
}

// define returns the descriptors of packet type T, one per version range.
func define[T any, P interface {
	*T
	body
}](s protocol.State, dir protocol.Direction, lc protocol.LifecycleFunc, ranges ...at) []protocol.Descriptor {
	name := P(new(T)).PacketName()
	decode := func(m *mcnet.Message, v protocol.Version) (protocol.Packet, error) {
		p := P(new(T))
		if err := p.decode(m, v); err != nil {
			return nil, err
		}
		return p, nil
	}
	encode := func(m *mcnet.Message, pkt protocol.Packet, v protocol.Version) error {
		p, ok := pkt.(P)
		if !ok {
			return errors.Errorf("%s: cannot encode %T", name, pkt)
		}
		return p.encode(m, v)
	}

	out := make([]protocol.Descriptor, 0, len(ranges))
	for _, r := range ranges {
		out = append(out, protocol.Descriptor{
			Name:      name,
			State:     s,
			Direction: dir,
			ID:        r.id,
			Versions:  r.versions,
			Decode:    decode,
			Encode:    encode,
			Lifecycle: lc,
		})
	}
	return out
}

func all(id int32) at {
	return at{protocol.AllVersions, id}
}

func since(v protocol.Version, id int32) at {
	return at{protocol.Since(v), id}
}

func between(min, max protocol.Version, id int32) at {
	return at{protocol.Between(min, max), id}
}

// Register adds every packet of this package to r.
func Register(r *protocol.Registry) error {
	var ds []protocol.Descriptor
	ds = append(ds, handshakeDescriptors()...)
	ds = append(ds, statusDescriptors()...)
	ds = append(ds, loginDescriptors()...)
	ds = append(ds, configurationDescriptors()...)
	ds = append(ds, playDescriptors()...)
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a sealed registry holding every packet of this package.
func NewRegistry() (*protocol.Registry, error) {
	r := protocol.NewRegistry()
	if err := Register(r); err != nil {
		return nil, errors.Wrap(err, "registering packets")
	}
	r.Seal()
	return r, nil
}
