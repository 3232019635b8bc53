package login

import (
	"context"
	"net"
	"sync"

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

type ClientConfig struct {
	Name    string
	Host    string
	Port    uint16
	Version protocol.Version
	// Brand is announced during configuration when set.
	Brand string
	// OnJoin runs once, when the client first reaches play.
	OnJoin func(c *conn.Conn)
}

// Result describes how a login went.
type Result struct {
	UUID     mcnet.UUID
	Username string
	// Encrypted reports whether the server sent an encryption request.
	Encrypted bool
	// Compression is the threshold the server set, or -1.
	Compression int
	Joined      bool
	KeepAlives  int
	// Reconfigured counts the server's requests to go back to
	// configuration after joining.
	Reconfigured int
	// Reason is the text of the disconnect the server sent, if any.
	Reason string
}

// Join logs in over nc and stays connected until the server disconnects, the
// connection fails, or ctx is done. Cancelling ctx after joining is not an
// error.
func Join(ctx context.Context, nc net.Conn, cc ClientConfig, cfg conn.Config) (*Result, error) {
	var cl *client
	c, err := conn.NewClient(nc, cfg, func(c *conn.Conn) pipeline.Receiver {
		cl = &client{cfg: cc, c: c, res: Result{Compression: -1}}
		return cl
	})
	if err != nil {
		return nil, err
	}
	start := &packets.LoginStart{Name: cc.Name}
	if cc.Version >= protocol.V1_19_3 {
		start.HasUUID, start.UUID = true, OfflineUUID(cc.Name)
	}
	for _, p := range []protocol.Packet{
		&packets.Handshake{ProtocolVersion: cc.Version, ServerAddress: cc.Host, ServerPort: cc.Port, Intent: packets.IntentLogin},
		start,
	} {
		if err := c.Send(p); err != nil {
			c.Close()
			return nil, errors.Wrapf(err, "sending %s", p.PacketName())
		}
	}
	runErr := c.Run(ctx)

	cl.mu.Lock()
	defer cl.mu.Unlock()
	res := cl.res
	if cl.err != nil {
		return &res, cl.err
	}
	if runErr != nil && res.Reason == "" {
		return &res, runErr
	}
	return &res, nil
}

type client struct {
	cfg ClientConfig
	c   *conn.Conn

	mu  sync.Mutex
	res Result
	err error
}

func (cl *client) fail(err error) {
	cl.mu.Lock()
	if cl.err == nil {
		cl.err = err
	}
	cl.mu.Unlock()
	cl.c.Disconnect(err)
}

func (cl *client) OnPacket(_ protocol.State, p protocol.Packet) {
	switch p := p.(type) {
	case *packets.EncryptionRequest:
		cl.encrypt(p)
	case *packets.SetCompression:
		cl.mu.Lock()
		cl.res.Compression = int(p.Threshold)
		cl.mu.Unlock()
	case *packets.LoginSuccess:
		cl.mu.Lock()
		cl.res.UUID, cl.res.Username = p.UUID, p.Username
		cl.mu.Unlock()
		if cl.c.Version() >= protocol.V1_20_2 {
			cl.c.Send(&packets.LoginAcknowledged{})
		}
	case *packets.LoginPluginRequest:
		cl.c.Send(&packets.LoginPluginResponse{MessageID: p.MessageID})
	case *packets.FinishConfiguration:
		cl.c.Send(&packets.FinishConfigurationAck{})
	case *packets.KeepAlive:
		cl.mu.Lock()
		cl.res.KeepAlives++
		cl.mu.Unlock()
		cl.c.Send(&packets.KeepAlive{ID: p.ID})
	case *packets.StartConfiguration:
		cl.mu.Lock()
		cl.res.Reconfigured++
		cl.mu.Unlock()
		cl.c.Send(&packets.ConfigurationAck{})
	case *packets.LoginDisconnect:
		d := packets.Disconnect{JSON: p.Reason}
		cl.disconnected(d.Text())
	case *packets.Disconnect:
		cl.disconnected(p.Text())
	default:
		glog.V(2).Infof("client: ignoring %s", p.PacketName())
	}
}

func (cl *client) encrypt(p *packets.EncryptionRequest) {
	secret, err := secrets.Random(secrets.SharedSecretSize)
	if err != nil {
		cl.fail(err)
		return
	}
	encSecret, err := secrets.Encrypt(p.PublicKey, secret)
	if err != nil {
		cl.fail(err)
		return
	}
	encToken, err := secrets.Encrypt(p.PublicKey, p.VerifyToken)
	if err != nil {
		cl.fail(err)
		return
	}
	if err := cl.c.Send(&packets.EncryptionResponse{SharedSecret: encSecret, VerifyToken: encToken}); err != nil {
		return
	}
	if err := cl.c.EnableEncryption(frame.CipherConfig{Cipher: frame.AES, Key: secret}); err != nil {
		cl.fail(err)
		return
	}
	cl.mu.Lock()
	cl.res.Encrypted = true
	cl.mu.Unlock()
}

func (cl *client) disconnected(reason string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.res.Reason = reason
}

func (cl *client) OnStateChange(old, new protocol.State) {
	switch new {
	case protocol.Configuration:
		if cl.cfg.Brand == "" {
			return
		}
		m := mcnet.NewMessage()
		if err := m.WriteVarString(cl.cfg.Brand, 256); err != nil {
			return
		}
		cl.c.Send(&packets.PluginMessage{Channel: "minecraft:brand", Data: m.Bytes()})
	case protocol.Play:
		cl.mu.Lock()
		rejoin := cl.res.Joined
		cl.res.Joined = true
		cl.mu.Unlock()
		if !rejoin && cl.cfg.OnJoin != nil {
			cl.cfg.OnJoin(cl.c)
		}
	}
}

func (cl *client) OnError(f *protocol.Fault) {}
