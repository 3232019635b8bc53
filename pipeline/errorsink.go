package pipeline

import (
	"github.com/golang/glog"
	"github.com/pkg/errors"

	"badc0de.net/pkg/go-mcproto/frame"
	"badc0de.net/pkg/go-mcproto/metrics"
	"badc0de.net/pkg/go-mcproto/protocol"
)

// Outcome is what a fault means for the connection it happened on.
type Outcome uint8

const (
	// Recoverable faults drop the packet; the connection carries on.
	Recoverable Outcome = iota
	// Fatal faults close the connection.
	Fatal
)

func (o Outcome) String() string {
	if o == Recoverable {
		return "recoverable"
	}
	return "fatal"
}

// ErrorSink decides whether a fault closes the connection. It also logs and
// counts every fault it sees. A nil *ErrorSink classifies without recording.
type ErrorSink struct {
	metrics *metrics.Metrics
}

func NewErrorSink(m *metrics.Metrics) *ErrorSink {
	return &ErrorSink{metrics: m}
}

// Report classifies f, records it and returns the outcome.
func (s *ErrorSink) Report(f *protocol.Fault) Outcome {
	o := Classify(f.Err)
	if o == Recoverable {
		glog.V(1).Infof("dropping packet: %v", f)
	} else {
		glog.Warningf("closing connection: %v", f)
	}
	if s != nil {
		s.metrics.Fault(Kind(f.Err), o.String())
	}
	return o
}

// Classify returns Recoverable for packets that are unknown to the registry
// and for outbound packets that could not be encoded. Everything else is
// fatal: a corrupt packet or an illegal transition means the peers no longer
// agree on the stream.
func Classify(err error) Outcome {
	switch {
	case errors.Is(err, protocol.ErrNotImplemented),
		errors.Is(err, protocol.ErrInvalidPacket):
		return Recoverable
	}
	return Fatal
}

// Kind names the class of err, for metrics labels.
func Kind(err error) string {
	switch {
	case errors.Is(err, protocol.ErrNotImplemented):
		return "not_implemented"
	case errors.Is(err, protocol.ErrInvalidPacket):
		return "invalid_packet"
	case errors.Is(err, protocol.ErrCorruptPacket):
		return "corrupt_packet"
	case errors.Is(err, protocol.ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, protocol.ErrUnmappedState):
		return "unmapped_state"
	case errors.Is(err, protocol.ErrTransport):
		return "transport"
	case errors.Is(err, frame.ErrFrameTooLarge),
		errors.Is(err, frame.ErrBadFrame),
		errors.Is(err, frame.ErrBadlyCompressed):
		return "frame"
	}
	return "other"
}
