package status

import (
	"encoding/json"

	"github.com/golang/glog"

	"badc0de.net/pkg/go-mcproto/conn"
	"badc0de.net/pkg/go-mcproto/packets"
	"badc0de.net/pkg/go-mcproto/pipeline"
	"badc0de.net/pkg/go-mcproto/protocol"
)

type Config struct {
	MOTD       string
	MaxPlayers int
	// Favicon is a data: URI of a 64x64 PNG, or empty.
	Favicon string
	// Fallback is the version reported to clients whose version cannot play
	// here; they show the server as incompatible.
	Fallback protocol.Version
	// Players reports the players online. It may be nil.
	Players func() (online int, sample []Player)
}

// Responder answers status requests and pings.
type Responder struct {
	cfg Config
}

func NewResponder(cfg Config) *Responder {
	if cfg.Fallback == protocol.Unnegotiated {
		cfg.Fallback = protocol.V1_21
	}
	return &Responder{cfg: cfg}
}

// Document returns the status document for a client that handshook with
// version v.
func (r *Responder) Document(reg *protocol.Registry, v protocol.Version) Document {
	reported := r.cfg.Fallback
	if reg.Supports(protocol.Play, v) {
		reported = v
	}
	name := reported.Name()
	if name == "" {
		name = reported.String()
	}
	d := Document{
		Version:     VersionInfo{Name: name, Protocol: int32(reported)},
		Players:     Players{Max: r.cfg.MaxPlayers},
		Description: json.RawMessage(packets.TextComponentJSON(r.cfg.MOTD)),
		Favicon:     r.cfg.Favicon,
	}
	if r.cfg.Players != nil {
		d.Players.Online, d.Players.Sample = r.cfg.Players()
	}
	return d
}

// Receiver returns the receiver for one connection. It only handles packets
// of the status state.
func (r *Responder) Receiver(c *conn.Conn) pipeline.Receiver {
	return &responder{r: r, c: c}
}

type responder struct {
	r *Responder
	c *conn.Conn
}

func (s *responder) OnPacket(_ protocol.State, p protocol.Packet) {
	switch p := p.(type) {
	case *packets.StatusRequest:
		b, err := json.Marshal(s.r.Document(s.c.Registry(), s.c.Version()))
		if err != nil {
			glog.Errorf("conn %d: marshalling status: %v", s.c.ID(), err)
			s.c.Disconnect(err)
			return
		}
		s.c.Send(&packets.StatusResponse{JSON: string(b)})
	case *packets.PingRequest:
		s.c.Send(&packets.PongResponse{Payload: p.Payload})
	default:
		glog.V(1).Infof("conn %d: ignoring %s", s.c.ID(), p.PacketName())
	}
}

func (s *responder) OnStateChange(old, new protocol.State) {}

func (s *responder) OnError(f *protocol.Fault) {}
