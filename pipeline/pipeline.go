// Package pipeline ties the frame codec, the packet codec and the state
// machine of one connection together.
//
// Bytes read from the transport go to Feed, which splits them into frames,
// decodes packets for the current state and version, applies lifecycle
// effects and dispatches the packets to a Receiver in arrival order. Send
// does the reverse and writes the frame to the transport.
package pipeline

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/net/trace"

	"badc0de.net/pkg/go-mcproto/frame"
	"badc0de.net/pkg/go-mcproto/metrics"
	mcnet "badc0de.net/pkg/go-mcproto/net"
	"badc0de.net/pkg/go-mcproto/protocol"
)

// Side is the end of the connection a pipeline runs on.
type Side uint8

const (
	Server Side = iota
	Client
)

func (s Side) String() string {
	if s == Server {
		return "server"
	}
	return "client"
}

// inbound returns the direction of packets this side receives.
func (s Side) inbound() protocol.Direction {
	if s == Server {
		return protocol.Serverbound
	}
	return protocol.Clientbound
}

func (s Side) outbound() protocol.Direction {
	return s.inbound().Opposite()
}

// Receiver gets the packets and events of one connection.
//
// OnPacket is called for inbound packets only, one at a time, in arrival
// order. OnStateChange and OnError may also be called from the goroutine
// calling Send or Close. Callbacks may call Send, Close and the Enable
// methods; they must not call Feed.
type Receiver interface {
	OnPacket(s protocol.State, p protocol.Packet)
	OnStateChange(old, new protocol.State)
	// OnError is called once, with the fault that closed the connection.
	OnError(f *protocol.Fault)
}

type Config struct {
	// Registry must be sealed.
	Registry *protocol.Registry
	Side     Side
	Receiver Receiver
	// Transport receives the encoded frames. If it is also an io.Closer, it
	// is closed when the pipeline closes.
	Transport io.Writer

	// Sink classifies faults. Optional; a sink without metrics is used when
	// nil.
	Sink *ErrorSink
	// Metrics and EventLog are optional.
	Metrics  *metrics.Metrics
	EventLog trace.EventLog
}

// Stats are monotonic packet counters.
type Stats struct {
	// Received counts inbound frames.
	Received uint64
	// Dispatched counts packets handed to the receiver.
	Dispatched uint64
	// Dropped counts inbound packets that were not dispatched because of a
	// recoverable fault.
	Dropped uint64
	// Sent counts packets written to the transport.
	Sent uint64
}

// Pipeline is the protocol engine of one connection.
type Pipeline struct {
	codec *protocol.Codec
	side  Side
	recv  Receiver
	w     io.Writer
	sink  *ErrorSink
	m     *metrics.Metrics
	ev    trace.EventLog

	// feedMu serializes Feed, so that dispatch follows arrival order.
	feedMu sync.Mutex

	// mu guards everything below.
	mu         sync.Mutex
	frames     *frame.Codec
	sm         *protocol.StateMachine
	version    protocol.Version
	negotiated bool
	handshake  protocol.Packet
	cause      error

	received, dispatched, dropped, sent atomic.Uint64
}

func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Registry == nil:
		return nil, errors.New("pipeline: no registry")
	case !cfg.Registry.Sealed():
		return nil, errors.New("pipeline: registry is not sealed")
	case cfg.Receiver == nil:
		return nil, errors.New("pipeline: no receiver")
	case cfg.Transport == nil:
		return nil, errors.New("pipeline: no transport")
	case cfg.Side != Server && cfg.Side != Client:
		return nil, errors.Errorf("pipeline: invalid side %d", cfg.Side)
	}
	sink := cfg.Sink
	if sink == nil {
		sink = NewErrorSink(cfg.Metrics)
	}
	return &Pipeline{
		codec:  protocol.NewCodec(cfg.Registry),
		side:   cfg.Side,
		recv:   cfg.Receiver,
		w:      cfg.Transport,
		sink:   sink,
		m:      cfg.Metrics,
		ev:     cfg.EventLog,
		frames: frame.NewCodec(),
		sm:     protocol.NewStateMachine(),
	}, nil
}

// notices collects the receiver callbacks produced while mu is held. They are
// delivered after unlocking.
type notices struct {
	fault   *protocol.Fault
	changes [][2]protocol.State
}

func (n *notices) change(old, new protocol.State) {
	n.changes = append(n.changes, [2]protocol.State{old, new})
}

func (p *Pipeline) deliver(n *notices) {
	if n.fault != nil {
		p.recv.OnError(n.fault)
	}
	for _, c := range n.changes {
		p.recv.OnStateChange(c[0], c[1])
	}
}

func (p *Pipeline) closedErr() error {
	if p.cause != nil {
		return errors.Wrapf(protocol.ErrClosed, "%v", p.cause)
	}
	return protocol.ErrClosed
}

// Feed hands bytes read from the transport to the pipeline and dispatches
// every packet they complete. Partial frames stay buffered for the next call.
//
// Recoverable faults drop the packet and are not returned. A fatal fault
// closes the pipeline and is returned. Feed on a closed pipeline returns an
// error matching protocol.ErrClosed.
func (p *Pipeline) Feed(b []byte) error {
	p.feedMu.Lock()
	defer p.feedMu.Unlock()

	p.mu.Lock()
	if p.sm.State() == protocol.Closed {
		err := p.closedErr()
		p.mu.Unlock()
		return err
	}
	p.frames.Write(b)
	p.mu.Unlock()

	for {
		var n notices
		st, pkt, more, err := p.next(&n)
		p.deliver(&n)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		if pkt != nil {
			p.recv.OnPacket(st, pkt)
		}
	}
}

// next decodes one buffered frame. It returns the packet to dispatch, if any,
// and whether the caller should look for another frame.
func (p *Pipeline) next(n *notices) (protocol.State, protocol.Packet, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.sm.State()
	if st == protocol.Closed {
		return st, nil, false, nil
	}
	dir := p.side.inbound()

	f, ok, err := p.frames.Next()
	if err != nil {
		return st, nil, false, p.faultLocked(n, err, dir, -1)
	}
	if !ok {
		return st, nil, false, nil
	}
	p.received.Add(1)
	p.m.Frame(dir.String(), mcnet.VarIntSize(f.ID)+len(f.Body))
	glog.V(2).Infof("%s: %s frame 0x%02x, %d bytes", p.side, st, f.ID, len(f.Body))

	pkt, d, err := p.codec.Decode(st, dir, p.version, f.ID, f.Body)
	if err != nil {
		if err := p.faultLocked(n, err, dir, f.ID); err != nil {
			return st, nil, false, err
		}
		p.dropped.Add(1)
		p.m.Packet(dir.String(), st.String(), "dropped")
		return st, nil, true, nil
	}

	if d.Lifecycle != nil {
		if err := p.applyLocked(n, d.Lifecycle(pkt)); err != nil {
			return st, nil, false, p.faultLocked(n, err, dir, f.ID)
		}
	}
	if st == protocol.Handshake {
		// Consumed here; receivers read it through Handshake.
		p.handshake = pkt
		return st, nil, true, nil
	}
	p.dispatched.Add(1)
	p.m.Packet(dir.String(), st.String(), "dispatched")
	return st, pkt, true, nil
}

// Send encodes p for the current state and version and writes it to the
// transport. Lifecycle effects of p apply once the bytes have been written.
//
// A packet that cannot be encoded, or that has no mapping in the current
// state, is reported and returned without closing the connection. Transport
// failures are fatal. A transport that returns an error matching
// protocol.ErrClosed closes the pipeline without a fault.
func (p *Pipeline) Send(pkt protocol.Packet) error {
	var n notices
	defer p.deliver(&n)

	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.sm.State()
	if st == protocol.Closed {
		return p.closedErr()
	}
	dir := p.side.outbound()

	id, body, d, err := p.codec.Encode(st, dir, p.version, pkt)
	if err != nil {
		if errors.Is(err, protocol.ErrUnmappedState) {
			err = unsendable{errors.Wrap(err, pkt.PacketName())}
		}
		if ferr := p.faultLocked(&n, err, dir, -1); ferr != nil {
			return ferr
		}
		return err
	}
	wire, err := p.frames.Encode(id, body)
	if err != nil {
		err = errors.Wrapf(protocol.ErrInvalidPacket, "%s: %v", d.Name, err)
		if ferr := p.faultLocked(&n, err, dir, id); ferr != nil {
			return ferr
		}
		return err
	}
	if _, err := p.w.Write(wire); err != nil {
		if errors.Is(err, protocol.ErrClosed) {
			// The transport was shut down on purpose.
			p.closeLocked(&n, nil)
			return p.closedErr()
		}
		return p.faultLocked(&n, transportError{err}, dir, id)
	}
	p.sent.Add(1)
	p.m.Packet(dir.String(), st.String(), "sent")
	p.m.Frame(dir.String(), len(wire))
	glog.V(2).Infof("%s: sent %s %s 0x%02x, %d bytes", p.side, st, d.Name, id, len(wire))

	if d.Lifecycle != nil {
		if err := p.applyLocked(&n, d.Lifecycle(pkt)); err != nil {
			return p.faultLocked(&n, err, dir, id)
		}
	}
	if st == protocol.Handshake {
		p.handshake = pkt
	}
	return nil
}

// applyLocked carries out a lifecycle effect.
func (p *Pipeline) applyLocked(n *notices, lc protocol.Lifecycle) error {
	if lc.Negotiate != protocol.Unnegotiated {
		if p.negotiated {
			return errors.Wrapf(protocol.ErrIllegalTransition, "version already negotiated as %s, got %s", p.version, lc.Negotiate)
		}
		p.version = lc.Negotiate
		p.negotiated = true
		p.logf("negotiated version %s", p.version)
	}
	if lc.Compress {
		if err := p.frames.EnableCompression(lc.CompressionThreshold); err != nil {
			return errors.Wrapf(protocol.ErrIllegalTransition, "%v", err)
		}
		p.logf("compression threshold %d", lc.CompressionThreshold)
	}
	if !lc.Transition {
		return nil
	}
	if lc.Next == protocol.Closed {
		p.closeLocked(n, nil)
		return nil
	}
	old := p.sm.State()
	if err := p.sm.Transition(lc.Next); err != nil {
		return err
	}
	if lc.Next == protocol.Play || lc.Next == protocol.Configuration {
		if !p.codec.Registry().Supports(lc.Next, p.version) {
			glog.V(1).Infof("%s: entering %s with no packets for version %s", p.side, lc.Next, p.version)
		}
	}
	p.m.Transition(old.String(), lc.Next.String())
	p.logf("%s -> %s", old, lc.Next)
	glog.V(2).Infof("%s: %s -> %s", p.side, old, lc.Next)
	n.change(old, lc.Next)
	return nil
}

// faultLocked reports a fault to the sink. For fatal faults it closes the
// pipeline and returns the fault; for recoverable ones it returns nil.
func (p *Pipeline) faultLocked(n *notices, err error, dir protocol.Direction, id int32) error {
	f := &protocol.Fault{
		Err:       err,
		State:     p.sm.State(),
		Direction: dir,
		Version:   p.version,
		ID:        id,
	}
	if p.sink.Report(f) == Recoverable {
		if p.ev != nil {
			p.ev.Printf("dropped: %v", f)
		}
		return nil
	}
	if p.ev != nil {
		p.ev.Errorf("fatal: %v", f)
	}
	n.fault = f
	p.closeLocked(n, f)
	return f
}

func (p *Pipeline) closeLocked(n *notices, cause error) {
	old, changed := p.sm.Close()
	if !changed {
		return
	}
	p.cause = cause
	p.frames.Reset()
	if c, ok := p.w.(io.Closer); ok {
		if err := c.Close(); err != nil {
			glog.V(1).Infof("%s: closing transport: %v", p.side, err)
		}
	}
	p.m.Transition(old.String(), protocol.Closed.String())
	p.logf("%s -> %s", old, protocol.Closed)
	glog.V(2).Infof("%s: %s -> %s", p.side, old, protocol.Closed)
	n.change(old, protocol.Closed)
}

func (p *Pipeline) logf(format string, args ...interface{}) {
	if p.ev != nil {
		p.ev.Printf(format, args...)
	}
}

// Close closes the pipeline and its transport. Closing a closed pipeline does
// nothing. The cause is kept and reported by Err; it may be nil.
func (p *Pipeline) Close(cause error) {
	var n notices
	p.mu.Lock()
	p.closeLocked(&n, cause)
	p.mu.Unlock()
	p.deliver(&n)
}

// Fail reports a transport failure seen outside the pipeline, such as a read
// error, and closes the pipeline. It returns the fault, or nil if the
// pipeline was already closed.
func (p *Pipeline) Fail(err error) error {
	var n notices
	defer p.deliver(&n)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sm.State() == protocol.Closed {
		return nil
	}
	return p.faultLocked(&n, transportError{err}, p.side.inbound(), -1)
}

// EnableCompression turns compression on. It is normally done by the
// set-compression packet's lifecycle; call it directly only for custom flows.
func (p *Pipeline) EnableCompression(threshold int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sm.State() == protocol.Closed {
		return p.closedErr()
	}
	return p.frames.EnableCompression(threshold)
}

// EnableEncryption turns encryption on for both directions. Bytes received
// but not yet decoded are treated as encrypted.
func (p *Pipeline) EnableEncryption(cfg frame.CipherConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sm.State() == protocol.Closed {
		return p.closedErr()
	}
	if err := p.frames.EnableEncryption(cfg); err != nil {
		return err
	}
	p.logf("encryption enabled")
	return nil
}

func (p *Pipeline) State() protocol.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sm.State()
}

// Version returns the negotiated version, or protocol.Unnegotiated before the
// handshake.
func (p *Pipeline) Version() protocol.Version {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.version
}

// Handshake returns the handshake packet received or sent on this
// connection, or nil.
func (p *Pipeline) Handshake() protocol.Packet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handshake
}

// Err returns the cause the pipeline was closed with.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cause
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Received:   p.received.Load(),
		Dispatched: p.dispatched.Load(),
		Dropped:    p.dropped.Load(),
		Sent:       p.sent.Load(),
	}
}

// transportError marks a write failure as protocol.ErrTransport.
type transportError struct{ err error }

func (e transportError) Error() string        { return protocol.ErrTransport.Error() + ": " + e.err.Error() }
func (e transportError) Unwrap() error        { return e.err }
func (e transportError) Is(target error) bool { return target == protocol.ErrTransport }

// unsendable marks an outbound packet the registry has no mapping for in the
// current state. It is the sender's mistake, not the peer's.
type unsendable struct{ err error }

func (e unsendable) Error() string        { return protocol.ErrInvalidPacket.Error() + ": " + e.err.Error() }
func (e unsendable) Unwrap() error        { return e.err }
func (e unsendable) Is(target error) bool { return target == protocol.ErrInvalidPacket }
