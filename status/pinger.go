package status

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"badc0de.net/pkg/go-mcproto/conn"
	"badc0de.net/pkg/go-mcproto/packets"
	"badc0de.net/pkg/go-mcproto/pipeline"
	"badc0de.net/pkg/go-mcproto/protocol"
)

// DefaultPort is used when an address has none.
const DefaultPort = 25565

var (
	ErrNoResponse = errors.New("connection closed before the status exchange finished")
	ErrBadPong    = errors.New("pong does not echo the ping")
)

// Result is the outcome of a status exchange.
type Result struct {
	Document Document
	// JSON is the document as the server sent it.
	JSON    string
	Latency time.Duration
}

// Target names the server to ping and the version to handshake with.
type Target struct {
	Host    string
	Port    uint16
	Version protocol.Version
}

// ParseTarget splits "host[:port]".
func ParseTarget(addr string, v protocol.Version) (Target, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		var ae *net.AddrError
		if !errors.As(err, &ae) || ae.Err != "missing port in address" {
			return Target{}, errors.Wrapf(err, "parsing %q", addr)
		}
		return Target{Host: strings.Trim(addr, "[]"), Port: DefaultPort, Version: v}, nil
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return Target{}, errors.Wrapf(err, "parsing port of %q", addr)
	}
	return Target{Host: host, Port: uint16(p), Version: v}, nil
}

func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
}

// Ping dials the target and runs a status exchange.
func Ping(ctx context.Context, t Target, cfg conn.Config) (*Result, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", t.Addr())
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", t.Addr())
	}
	return PingConn(ctx, nc, t, cfg)
}

// PingConn runs a status exchange over an established connection, and closes
// it.
func PingConn(ctx context.Context, nc net.Conn, t Target, cfg conn.Config) (*Result, error) {
	var p *pinger
	c, err := conn.NewClient(nc, cfg, func(c *conn.Conn) pipeline.Receiver {
		p = &pinger{c: c}
		return p
	})
	if err != nil {
		return nil, err
	}
	for _, pkt := range []protocol.Packet{
		&packets.Handshake{ProtocolVersion: t.Version, ServerAddress: t.Host, ServerPort: t.Port, Intent: packets.IntentStatus},
		&packets.StatusRequest{},
	} {
		if err := c.Send(pkt); err != nil {
			c.Close()
			return nil, errors.Wrapf(err, "sending %s", pkt.PacketName())
		}
	}
	runErr := c.Run(ctx)
	return p.finish(ctx, runErr)
}

type pinger struct {
	c *conn.Conn

	mu      sync.Mutex
	res     Result
	gotDoc  bool
	payload int64
	sent    time.Time
	done    bool
	err     error
}

func (p *pinger) OnPacket(_ protocol.State, pkt protocol.Packet) {
	switch pkt := pkt.(type) {
	case *packets.StatusResponse:
		p.mu.Lock()
		p.res.JSON = pkt.JSON
		if err := json.Unmarshal([]byte(pkt.JSON), &p.res.Document); err != nil {
			p.err = errors.Wrap(err, "decoding status document")
		}
		p.gotDoc = true
		p.sent = time.Now()
		p.payload = p.sent.UnixMilli()
		payload := p.payload
		p.mu.Unlock()
		p.c.Send(&packets.PingRequest{Payload: payload})
	case *packets.PongResponse:
		p.mu.Lock()
		defer p.mu.Unlock()
		p.res.Latency = time.Since(p.sent)
		if pkt.Payload != p.payload {
			p.err = errors.Wrapf(ErrBadPong, "sent %d, got %d", p.payload, pkt.Payload)
		}
		p.done = true
	}
}

func (p *pinger) OnStateChange(old, new protocol.State) {}

func (p *pinger) OnError(f *protocol.Fault) {}

func (p *pinger) finish(ctx context.Context, runErr error) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.err != nil:
		return nil, p.err
	case p.done:
		return &p.res, nil
	case runErr != nil:
		return nil, runErr
	case ctx.Err() != nil:
		return nil, errors.Wrap(ctx.Err(), "status exchange")
	}
	if p.gotDoc {
		return nil, errors.Wrap(ErrNoResponse, "no pong")
	}
	return nil, ErrNoResponse
}
