package protocol

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotImplemented means no descriptor covers the packet id for the active
	// state and version. The packet can be skipped safely.
	ErrNotImplemented = errors.New("packet not implemented")
	// ErrUnmappedState means no packets at all are registered for the state and
	// direction.
	ErrUnmappedState = errors.New("no packets registered for state")
	// ErrCorruptPacket means a descriptor was resolved but its body could not be
	// decoded. The stream is out of sync and cannot be recovered.
	ErrCorruptPacket = errors.New("corrupt packet")
	// ErrInvalidPacket means an outbound packet could not be encoded. Nothing was
	// written.
	ErrInvalidPacket = errors.New("invalid outbound packet")
	// ErrIllegalTransition means a state change was requested that the
	// transition table does not allow.
	ErrIllegalTransition = errors.New("illegal state transition")
	// ErrDuplicateMapping means a descriptor would make resolution ambiguous.
	ErrDuplicateMapping = errors.New("duplicate packet mapping")
	// ErrRegistrySealed means registration was attempted after the registry
	// started serving lookups.
	ErrRegistrySealed = errors.New("registry is sealed")
	// ErrTransport wraps failures of the underlying byte stream.
	ErrTransport = errors.New("transport failure")
	// ErrClosed is returned by operations on a closed connection.
	ErrClosed = errors.New("connection closed")
)

// Fault is an error raised while moving packets through a connection, together
// with the context it happened in.
type Fault struct {
	Err       error
	State     State
	Direction Direction
	Version   Version
	// ID is the packet id, or -1 when the fault is not about a single packet.
	ID int32
}

func (f *Fault) Error() string {
	if f.ID < 0 {
		return fmt.Sprintf("%s %s v%d: %v", f.State, f.Direction, int32(f.Version), f.Err)
	}
	return fmt.Sprintf("%s %s v%d id 0x%02x: %v", f.State, f.Direction, int32(f.Version), f.ID, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Cause returns the underlying error, for github.com/pkg/errors.Cause.
func (f *Fault) Cause() error {
	return f.Err
}
