// Package login implements the offline-mode login sequence on both ends of a
// connection: the server side answers login start, optionally encrypts the
// connection and enables compression, walks the client through configuration
// and keeps it alive in play; the client side does the opposite.
//
// Session authentication is not done; players are identified by their
// offline UUID.
package login

import (
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"badc0de.net/pkg/go-mcproto/conn"
	"badc0de.net/pkg/go-mcproto/frame"
	mcnet "badc0de.net/pkg/go-mcproto/net"
	"badc0de.net/pkg/go-mcproto/packets"
	"badc0de.net/pkg/go-mcproto/pipeline"
	"badc0de.net/pkg/go-mcproto/protocol"
	"badc0de.net/pkg/go-mcproto/secrets"
)

var (
	ErrKeepAliveTimeout = errors.New("keep-alive not answered in time")
	ErrUnexpected       = errors.New("unexpected packet")
	ErrNoPlayer         = errors.New("no such player")
)

type Config struct {
	// Key enables the encryption request. Without it players log in over
	// a plain connection.
	Key *secrets.Key
	// CompressionThreshold is sent in set-compression; negative values leave
	// compression off.
	CompressionThreshold int
	// KeepAlive is the interval of keep-alives in play; zero disables them.
	KeepAlive time.Duration
	// KeepAliveTimeout disconnects players that leave a keep-alive
	// unanswered this long. It defaults to 30s.
	KeepAliveTimeout time.Duration
	// Kick, when set, disconnects players with this message as soon as they
	// reach play.
	Kick string
	// Admit may refuse a player by returning a reason.
	Admit func(name string, id mcnet.UUID) (reason string, ok bool)
}

// Player is a connection that reached play.
type Player struct {
	Conn   uint64
	Name   string
	UUID   mcnet.UUID
	Brand  string
	Joined time.Time
	// Ping is the round trip of the last answered keep-alive.
	Ping       time.Duration
	KeepAlives int
}

// Server runs the server side of the login sequence on each connection it
// is handed.
type Server struct {
	cfg Config

	mu       sync.Mutex
	players  map[uint64]*Player
	sessions map[uint64]*session
}

func NewServer(cfg Config) *Server {
	if cfg.KeepAliveTimeout <= 0 {
		cfg.KeepAliveTimeout = 30 * time.Second
	}
	return &Server{
		cfg:      cfg,
		players:  make(map[uint64]*Player),
		sessions: make(map[uint64]*session),
	}
}

// Players returns the players in play, by connection id.
func (s *Server) Players() []Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Player, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Conn < out[j].Conn })
	return out
}

// Reconfigure sends the player on connection id back to the configuration
// state. The player returns to play once configuration finishes. Versions
// without a configuration state give an error matching
// protocol.ErrNotImplemented.
func (s *Server) Reconfigure(id uint64) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrNoPlayer, "conn %d", id)
	}
	if err := sess.c.Send(&packets.StartConfiguration{}); err != nil {
		return errors.Wrapf(err, "conn %d", id)
	}
	sess.c.Printf("reconfiguring")
	return nil
}

// Receiver returns the receiver for one connection. It handles the login,
// configuration and play states.
func (s *Server) Receiver(c *conn.Conn) pipeline.Receiver {
	return &session{srv: s, c: c, stop: make(chan struct{})}
}

type stage int

const (
	awaitingStart stage = iota
	awaitingEncryption
	awaitingAck
	configuring
	playing
)

type session struct {
	srv *Server
	c   *conn.Conn

	mu    sync.Mutex
	stage stage
	name  string
	id    mcnet.UUID
	brand string
	token []byte
	// pending is the id of the unanswered keep-alive, zero if none.
	pending     int64
	pendingSent time.Time
	seq         int64
	// joined is set the first time the connection reaches play.
	joined bool

	stopOnce sync.Once
	stop     chan struct{}
}

func (s *session) OnPacket(st protocol.State, p protocol.Packet) {
	switch p := p.(type) {
	case *packets.LoginStart:
		s.start(p)
	case *packets.EncryptionResponse:
		s.encryption(p)
	case *packets.LoginPluginResponse:
		glog.V(2).Infof("conn %d: plugin response %d", s.c.ID(), p.MessageID)
	case *packets.PluginMessage:
		if p.Channel == "minecraft:brand" {
			m := mcnet.NewMessageFrom(p.Data)
			if brand, err := m.ReadVarString(256); err == nil {
				s.mu.Lock()
				s.brand = brand
				s.mu.Unlock()
			}
		}
	case *packets.KeepAlive:
		s.keepAliveAnswered(p)
	case *packets.FinishConfigurationAck, *packets.LoginAcknowledged, *packets.ConfigurationAck:
		// The state change does the work.
	default:
		glog.V(1).Infof("conn %d: ignoring %s in %s", s.c.ID(), p.PacketName(), st)
	}
}

func (s *session) start(p *packets.LoginStart) {
	s.mu.Lock()
	if s.stage != awaitingStart {
		s.mu.Unlock()
		s.kick("Unexpected login start", ErrUnexpected)
		return
	}
	s.name = p.Name
	s.id = OfflineUUID(p.Name)
	s.mu.Unlock()

	v := s.c.Version()
	if !s.c.Registry().Supports(protocol.Play, v) {
		glog.Infof("conn %d: refusing %s, version %s", s.c.ID(), p.Name, v)
		s.kick("Unsupported client version "+v.String(), nil)
		return
	}
	if s.srv.cfg.Admit != nil {
		if reason, ok := s.srv.cfg.Admit(p.Name, s.id); !ok {
			s.kick(reason, nil)
			return
		}
	}
	s.c.Printf("login start from %s", p.Name)

	key := s.srv.cfg.Key
	if key == nil {
		s.succeed()
		return
	}
	token, err := secrets.Random(4)
	if err != nil {
		s.kick("Internal error", err)
		return
	}
	s.mu.Lock()
	s.token = token
	s.stage = awaitingEncryption
	s.mu.Unlock()
	s.c.Send(&packets.EncryptionRequest{
		PublicKey:   key.PublicDER(),
		VerifyToken: token,
	})
}

func (s *session) encryption(p *packets.EncryptionResponse) {
	s.mu.Lock()
	st, token := s.stage, s.token
	s.mu.Unlock()
	if st != awaitingEncryption {
		s.kick("Unexpected encryption response", ErrUnexpected)
		return
	}
	secret, err := s.srv.cfg.Key.OpenResponse(p.SharedSecret, p.VerifyToken, token)
	if err != nil {
		glog.Warningf("conn %d: encryption response: %v", s.c.ID(), err)
		s.kick("Failed to verify encryption", err)
		return
	}
	if err := s.c.EnableEncryption(frame.CipherConfig{Cipher: frame.AES, Key: secret}); err != nil {
		s.c.Disconnect(err)
		return
	}
	s.succeed()
}

func (s *session) succeed() {
	if t := s.srv.cfg.CompressionThreshold; t >= 0 {
		if err := s.c.Send(&packets.SetCompression{Threshold: int32(t)}); err != nil {
			return
		}
	}
	s.mu.Lock()
	s.stage = awaitingAck
	name, id := s.name, s.id
	s.mu.Unlock()
	glog.Infof("conn %d: %s (%s) logged in", s.c.ID(), name, id)
	s.c.Send(&packets.LoginSuccess{UUID: id, Username: name})
}

func (s *session) OnStateChange(old, new protocol.State) {
	switch new {
	case protocol.Configuration:
		s.mu.Lock()
		s.stage = configuring
		if old == protocol.Play {
			// An unanswered play keep-alive is not answered across the switch.
			s.pending = 0
		}
		s.mu.Unlock()
		s.c.Send(&packets.FinishConfiguration{})
	case protocol.Play:
		s.join()
	case protocol.Closed:
		s.stopOnce.Do(func() { close(s.stop) })
		s.srv.mu.Lock()
		p, ok := s.srv.players[s.c.ID()]
		delete(s.srv.players, s.c.ID())
		delete(s.srv.sessions, s.c.ID())
		s.srv.mu.Unlock()
		if ok {
			glog.Infof("conn %d: %s left", s.c.ID(), p.Name)
		}
	}
}

func (s *session) OnError(f *protocol.Fault) {}

func (s *session) join() {
	s.mu.Lock()
	s.stage = playing
	rejoin := s.joined
	s.joined = true
	brand := s.brand
	p := &Player{Conn: s.c.ID(), Name: s.name, UUID: s.id, Brand: brand, Joined: time.Now()}
	s.mu.Unlock()

	if rejoin {
		// Back from configuration; the brand may have been announced again.
		s.srv.mu.Lock()
		if pl, ok := s.srv.players[p.Conn]; ok {
			pl.Brand = brand
		}
		s.srv.mu.Unlock()
		s.c.Printf("%s back in play", p.Name)
		return
	}

	if msg := s.srv.cfg.Kick; msg != "" {
		s.kick(msg, nil)
		return
	}
	s.srv.mu.Lock()
	s.srv.players[p.Conn] = p
	s.srv.sessions[p.Conn] = s
	s.srv.mu.Unlock()
	s.c.Printf("%s joined", p.Name)

	if d := s.srv.cfg.KeepAlive; d > 0 {
		go s.keepAlive(d)
	}
}

func (s *session) keepAlive(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-t.C:
			s.mu.Lock()
			late := s.pending != 0 && now.Sub(s.pendingSent) > s.srv.cfg.KeepAliveTimeout
			waiting := s.pending != 0
			if !waiting {
				s.seq++
				s.pending, s.pendingSent = s.seq, now
			}
			id := s.pending
			s.mu.Unlock()

			switch {
			case late:
				s.kick("Timed out", ErrKeepAliveTimeout)
				return
			case waiting:
				continue
			}
			if err := s.c.Send(&packets.KeepAlive{ID: id}); err != nil {
				return
			}
		}
	}
}

func (s *session) keepAliveAnswered(p *packets.KeepAlive) {
	s.mu.Lock()
	if p.ID != s.pending || s.pending == 0 {
		s.mu.Unlock()
		glog.V(1).Infof("conn %d: keep-alive %d not outstanding", s.c.ID(), p.ID)
		return
	}
	rtt := time.Since(s.pendingSent)
	s.pending = 0
	s.mu.Unlock()

	s.srv.mu.Lock()
	if pl, ok := s.srv.players[s.c.ID()]; ok {
		pl.Ping = rtt
		pl.KeepAlives++
	}
	s.srv.mu.Unlock()
}

// kick sends the disconnect packet of the current state, which closes the
// connection once written. cause, when not nil, is logged.
func (s *session) kick(reason string, cause error) {
	if cause != nil {
		glog.V(1).Infof("conn %d: kicking: %v", s.c.ID(), cause)
	}
	var p protocol.Packet
	switch s.c.State() {
	case protocol.Login:
		p = &packets.LoginDisconnect{Reason: packets.TextComponentJSON(reason)}
	case protocol.Configuration, protocol.Play:
		p = packets.NewDisconnect(reason)
	default:
		s.c.Disconnect(cause)
		return
	}
	if err := s.c.Send(p); err != nil {
		s.c.Disconnect(cause)
	}
}
