package protocol

import (
	mcnet "badc0de.net/pkg/go-mcproto/net"
)

// Direction is the direction a packet travels in.
type Direction uint8

const (
	// Serverbound packets are sent by the client to the server.
	Serverbound Direction = iota
	// Clientbound packets are sent by the server to the client.
	Clientbound
)

func (d Direction) String() string {
	switch d {
	case Serverbound:
		return "serverbound"
	case Clientbound:
		return "clientbound"
	}
	return "unknown-direction"
}

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == Serverbound {
		return Clientbound
	}
	return Serverbound
}

// Packet is a decoded, typed packet. The name identifies its descriptor for
// encoding and must be unique per state and direction.
type Packet interface {
	PacketName() string
}

// DecodeFunc reads a packet body. The id has already been consumed.
type DecodeFunc func(m *mcnet.Message, v Version) (Packet, error)

// EncodeFunc writes a packet body, without the id.
type EncodeFunc func(m *mcnet.Message, p Packet, v Version) error

// Lifecycle describes what a packet does to the connection once it has been
// received, or once it has been sent.
type Lifecycle struct {
	// Next is the state to transition to, when Transition is set.
	Next       State
	Transition bool
	// Negotiate, when not Unnegotiated, fixes the connection's version.
	Negotiate Version
	// CompressionThreshold is applied when Compress is set.
	CompressionThreshold int
	Compress             bool
}

// LifecycleFunc inspects a packet and returns its lifecycle effect.
type LifecycleFunc func(p Packet) Lifecycle

// TransitionTo returns a LifecycleFunc that always moves to s.
func TransitionTo(s State) LifecycleFunc {
	return func(Packet) Lifecycle {
		return Lifecycle{Next: s, Transition: true}
	}
}

// Descriptor is the static definition of one packet within a version range.
// Descriptors are never modified after registration.
type Descriptor struct {
	Name      string
	State     State
	Direction Direction
	ID        int32
	Versions  Range

	Decode DecodeFunc
	Encode EncodeFunc
	// Lifecycle is set on the packets that drive the connection lifecycle.
	Lifecycle LifecycleFunc
}
