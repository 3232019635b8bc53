// Package conn runs protocol pipelines over network connections.
//
// A Conn owns a net.Conn, a pipeline and two loops: the read loop feeds the
// pipeline with whatever the socket delivers, the write loop drains the
// pipeline's outbox into the socket in submission order.
package conn

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"badc0de.net/pkg/go-mcproto/frame"
	"badc0de.net/pkg/go-mcproto/metrics"
	"badc0de.net/pkg/go-mcproto/pipeline"
	"badc0de.net/pkg/go-mcproto/protocol"
)

var (
	ErrHandshakeTimeout = errors.New("no handshake in time")

	lastID atomic.Uint64
)

type Config struct {
	// Registry must be sealed.
	Registry *protocol.Registry
	Sink     *pipeline.ErrorSink
	Metrics  *metrics.Metrics

	// OutboxSize is the number of frames that may wait for the socket.
	OutboxSize int
	// HandshakeTimeout closes server connections still in the handshake state
	// after this long. Zero disables it.
	HandshakeTimeout time.Duration
	// CloseLinger bounds the time spent flushing queued frames once the
	// pipeline has closed.
	CloseLinger    time.Duration
	ReadBufferSize int
	// MaxConns limits concurrent server connections. Zero means no limit.
	MaxConns int
}

func (cfg Config) withDefaults() Config {
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = 64
	}
	if cfg.CloseLinger <= 0 {
		cfg.CloseLinger = 5 * time.Second
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 4096
	}
	return cfg
}

// Handler returns the receiver for a new connection. It runs before the
// connection's loops start.
type Handler func(c *Conn) pipeline.Receiver

// Conn is one protocol connection over a net.Conn.
type Conn struct {
	id      uint64
	nc      net.Conn
	side    pipeline.Side
	cfg     Config
	started time.Time

	p    *pipeline.Pipeline
	out  *outbox
	ev   *eventLog
	recv pipeline.Receiver

	handshakeTimer *time.Timer

	// closing is set before Close tears the socket down, so the loops do not
	// report the resulting I/O errors as faults.
	closing   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func newConn(nc net.Conn, side pipeline.Side, cfg Config, h Handler) (*Conn, error) {
	cfg = cfg.withDefaults()
	c := &Conn{
		id:      lastID.Add(1),
		nc:      nc,
		side:    side,
		cfg:     cfg,
		started: time.Now(),
		out:     newOutbox(cfg.OutboxSize),
		ev:      newEventLog("mcproto."+side.String(), nc.RemoteAddr().String()),
		done:    make(chan struct{}),
	}
	p, err := pipeline.New(pipeline.Config{
		Registry:  cfg.Registry,
		Side:      side,
		Receiver:  c,
		Transport: c.out,
		Sink:      cfg.Sink,
		Metrics:   cfg.Metrics,
		EventLog:  c.ev,
	})
	if err != nil {
		c.ev.Finish()
		return nil, err
	}
	c.p = p
	c.recv = h(c)
	if c.recv == nil {
		c.ev.Finish()
		return nil, errors.New("conn: handler returned no receiver")
	}
	return c, nil
}

// Run drives the connection until it closes, or ctx is done. It returns the
// cause the connection closed with; a clean close returns nil.
func (c *Conn) Run(ctx context.Context) error {
	defer c.ev.Finish()
	c.ev.Printf("connection %d from %s", c.id, c.nc.RemoteAddr())

	if c.side == pipeline.Server && c.cfg.HandshakeTimeout > 0 {
		c.handshakeTimer = time.AfterFunc(c.cfg.HandshakeTimeout, func() {
			if c.p.State() == protocol.Handshake {
				glog.V(1).Infof("conn %d: %v", c.id, ErrHandshakeTimeout)
				c.p.Close(ErrHandshakeTimeout)
			}
		})
		defer c.handshakeTimer.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(c.readLoop)
	g.Go(c.writeLoop)
	g.Go(func() error {
		select {
		case <-gctx.Done():
			c.Close()
		case <-c.done:
		}
		return nil
	})
	err := g.Wait()
	if err == nil {
		err = c.p.Err()
	}
	glog.V(2).Infof("conn %d: finished, %+v", c.id, c.p.Stats())
	return err
}

func (c *Conn) readLoop() error {
	buf := make([]byte, c.cfg.ReadBufferSize)
	for {
		n, err := c.nc.Read(buf)
		if n > 0 {
			if ferr := c.p.Feed(buf[:n]); ferr != nil {
				// The pipeline is closed and has reported why; the write
				// loop flushes and closes the socket.
				glog.V(2).Infof("conn %d: read loop done: %v", c.id, ferr)
				return nil
			}
		}
		if err != nil {
			if c.closing.Load() || c.p.State() == protocol.Closed {
				return nil
			}
			if err == io.EOF {
				c.ev.Printf("peer closed the connection")
				c.p.Close(nil)
				return nil
			}
			c.p.Fail(err)
			return nil
		}
	}
}

func (c *Conn) writeLoop() error {
	defer close(c.done)
	defer c.nc.Close()
	defer c.out.stop(protocol.ErrClosed)

	lingering := false
	for b := range c.out.ch {
		if !lingering && c.p.State() == protocol.Closed {
			// Flush what is queued, but do not wait on a peer that stopped
			// reading.
			lingering = true
			c.nc.SetWriteDeadline(time.Now().Add(c.cfg.CloseLinger))
		}
		if _, err := c.nc.Write(b); err != nil {
			if c.closing.Load() {
				c.out.stop(protocol.ErrClosed)
				return nil
			}
			// Unblock a Send holding the pipeline before looking at it.
			c.out.stop(err)
			if c.p.State() != protocol.Closed {
				c.p.Fail(err)
			}
			return nil
		}
	}
	return nil
}

// Close closes the connection at once. Queued frames are dropped and blocked
// reads and writes return; a blocked Send returns an error matching
// protocol.ErrClosed. No fault is reported. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.out.stop(protocol.ErrClosed)
		err = c.nc.Close()
		c.p.Close(nil)
	})
	return err
}

// OnPacket, OnStateChange and OnError make Conn the pipeline's receiver; they
// forward to the handler's receiver.

func (c *Conn) OnPacket(s protocol.State, p protocol.Packet) {
	c.recv.OnPacket(s, p)
}

func (c *Conn) OnStateChange(old, new protocol.State) {
	if old == protocol.Handshake && c.handshakeTimer != nil {
		c.handshakeTimer.Stop()
	}
	if c.recv != nil {
		c.recv.OnStateChange(old, new)
	}
}

func (c *Conn) OnError(f *protocol.Fault) {
	c.ev.Errorf("%v", f)
	if c.recv != nil {
		c.recv.OnError(f)
	}
}

// Send encodes and queues a packet. It blocks while the outbox is full.
func (c *Conn) Send(p protocol.Packet) error {
	return c.p.Send(p)
}

// Disconnect closes the pipeline after the frames already queued have been
// written.
func (c *Conn) Disconnect(cause error) {
	c.p.Close(cause)
}

func (c *Conn) EnableEncryption(cfg frame.CipherConfig) error {
	return c.p.EnableEncryption(cfg)
}

// Registry returns the registry the connection resolves packets with.
func (c *Conn) Registry() *protocol.Registry {
	return c.cfg.Registry
}

func (c *Conn) ID() uint64 {
	return c.id
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}

func (c *Conn) State() protocol.State {
	return c.p.State()
}

func (c *Conn) Version() protocol.Version {
	return c.p.Version()
}

// Handshake returns the handshake the connection started with, or nil.
func (c *Conn) Handshake() protocol.Packet {
	return c.p.Handshake()
}

func (c *Conn) Stats() pipeline.Stats {
	return c.p.Stats()
}

func (c *Conn) Started() time.Time {
	return c.started
}

// Printf adds an entry to the connection's event log.
func (c *Conn) Printf(format string, args ...interface{}) {
	c.ev.Printf(format, args...)
}

// NewServerConn wraps an accepted net.Conn as a server connection. Server
// does this for every connection it accepts.
func NewServerConn(nc net.Conn, cfg Config, h Handler) (*Conn, error) {
	c, err := newConn(nc, pipeline.Server, cfg, h)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

// Dial connects to a server and returns a client connection. The caller
// starts it with Run and sends the handshake.
func Dial(ctx context.Context, addr string, cfg Config, h Handler) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", addr)
	}
	return NewClient(nc, cfg, h)
}

// NewClient wraps an established net.Conn as a client connection.
func NewClient(nc net.Conn, cfg Config, h Handler) (*Conn, error) {
	c, err := newConn(nc, pipeline.Client, cfg, h)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}
