package login

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"badc0de.net/pkg/go-mcproto/conn"
	mcnet "badc0de.net/pkg/go-mcproto/net"
	"badc0de.net/pkg/go-mcproto/packets"
	"badc0de.net/pkg/go-mcproto/pipeline"
	"badc0de.net/pkg/go-mcproto/protocol"
	"badc0de.net/pkg/go-mcproto/secrets"
	"badc0de.net/pkg/go-mcproto/ttesting"
)

func testConfig(t *testing.T) conn.Config {
	t.Helper()
	reg, err := packets.NewRegistry()
	if err != nil {
		t.Fatal(err)
	}
	return conn.Config{Registry: reg}
}

// serve runs srv on one end of a pipe and returns the other end. The extra
// receivers see the server connection's state changes and faults.
func serve(t *testing.T, cfg conn.Config, srv *Server, extra ...pipeline.Receiver) (net.Conn, <-chan error) {
	t.Helper()
	a, b := net.Pipe()
	sc, err := conn.NewServerConn(a, cfg, func(c *conn.Conn) pipeline.Receiver {
		m := conn.NewMux().Handle(srv.Receiver(c), protocol.Login, protocol.Configuration, protocol.Play)
		for _, r := range extra {
			m.Handle(r)
		}
		return m
	})
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- sc.Run(context.Background()) }()
	return b, done
}

func waitServer(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("server did not finish")
	}
	return nil
}

// stateLog sends every state change it sees to the channel.
type stateLog chan [2]protocol.State

func (stateLog) OnPacket(protocol.State, protocol.Packet) {}
func (l stateLog) OnStateChange(old, new protocol.State)  { l <- [2]protocol.State{old, new} }
func (stateLog) OnError(*protocol.Fault)                  {}

// waitKeepAlives waits for the only player to have answered n keep-alives.
func waitKeepAlives(t *testing.T, srv *Server, n int) Player {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if ps := srv.Players(); len(ps) == 1 && ps[0].KeepAlives >= n {
			return ps[0]
		}
		if time.Now().After(deadline) {
			t.Fatalf("no %d answered keep-alives, players %+v", n, srv.Players())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestJoin(t *testing.T) {
	cfg := testConfig(t)
	key, err := secrets.DevelopmentKey()
	if err != nil {
		t.Fatal(err)
	}

	for _, tt := range []struct {
		name      string
		version   protocol.Version
		key       *secrets.Key
		threshold int
	}{
		{"1.8 plain", protocol.V1_8, nil, -1},
		{"1.12.2 encrypted and compressed", protocol.V1_12_2, key, 64},
		{"1.16.5 compressed", protocol.V1_16_5, nil, 256},
		{"1.20.2 configuration", protocol.V1_20_2, key, 0},
		{"1.20.3 nbt reason", protocol.V1_20_3, nil, -1},
		{"1.21 everything", protocol.V1_21, key, 16},
	} {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(Config{Key: tt.key, CompressionThreshold: tt.threshold, Kick: "bye"})
			nc, served := serve(t, cfg, srv)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			res, err := Join(ctx, nc, ClientConfig{Name: "alice", Host: "localhost", Port: 25565, Version: tt.version}, cfg)
			if err != nil {
				t.Fatal(err)
			}
			ttesting.AssertNoError(t, "server", waitServer(t, served))

			ttesting.AssertEqualString(t, "username", res.Username, "alice")
			ttesting.AssertEqualString(t, "uuid", res.UUID.String(), OfflineUUID("alice").String())
			ttesting.AssertEqualString(t, "reason", res.Reason, "bye")
			if !res.Joined {
				t.Errorf("did not reach play")
			}
			if res.Encrypted != (tt.key != nil) {
				t.Errorf("encrypted = %v, want %v", res.Encrypted, tt.key != nil)
			}
			ttesting.AssertEqualInt(t, "compression", res.Compression, tt.threshold)
			ttesting.AssertEqualInt(t, "players", len(srv.Players()), 0)
		})
	}
}

func TestKeepAlive(t *testing.T) {
	cfg := testConfig(t)
	srv := NewServer(Config{CompressionThreshold: -1, KeepAlive: 5 * time.Millisecond})
	nc, served := serve(t, cfg, srv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	joined := make(chan *Result, 1)
	go func() {
		res, err := Join(ctx, nc, ClientConfig{Name: "bob", Host: "localhost", Port: 25565, Version: protocol.V1_21, Brand: "test-brand"}, cfg)
		if err != nil {
			t.Errorf("join: %v", err)
		}
		joined <- res
	}()

	p := waitKeepAlives(t, srv, 2)
	ttesting.AssertEqualString(t, "name", p.Name, "bob")
	ttesting.AssertEqualString(t, "brand", p.Brand, "test-brand")

	cancel()
	ttesting.AssertNoError(t, "server", waitServer(t, served))
	res := <-joined
	if res == nil {
		t.Fatal("no result")
	}
	if res.KeepAlives < 2 {
		t.Errorf("client answered %d keep-alives", res.KeepAlives)
	}
	ttesting.AssertEqualInt(t, "players after leaving", len(srv.Players()), 0)
}

func TestReconfigure(t *testing.T) {
	cfg := testConfig(t)
	srv := NewServer(Config{CompressionThreshold: -1, KeepAlive: 5 * time.Millisecond})
	changes := make(stateLog, 16)
	nc, served := serve(t, cfg, srv, changes)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var joins atomic.Int32
	joined := make(chan *Result, 1)
	go func() {
		res, err := Join(ctx, nc, ClientConfig{
			Name:    "dave",
			Host:    "localhost",
			Port:    25565,
			Version: protocol.V1_21,
			OnJoin:  func(*conn.Conn) { joins.Add(1) },
		}, cfg)
		if err != nil {
			t.Errorf("join: %v", err)
		}
		joined <- res
	}()

	before := waitKeepAlives(t, srv, 2)
	ttesting.AssertNoError(t, "reconfigure", srv.Reconfigure(before.Conn))
	ttesting.AssertErrorIs(t, "unknown player", srv.Reconfigure(before.Conn+1000), ErrNoPlayer)

	for i, want := range [][2]protocol.State{
		{protocol.Handshake, protocol.Login},
		{protocol.Login, protocol.Configuration},
		{protocol.Configuration, protocol.Play},
		{protocol.Play, protocol.Configuration},
		{protocol.Configuration, protocol.Play},
	} {
		select {
		case got := <-changes:
			ttesting.AssertEqualString(t, fmt.Sprintf("change %d", i), fmt.Sprint(got), fmt.Sprint(want))
		case <-time.After(5 * time.Second):
			t.Fatalf("no state change %d", i)
		}
	}

	// Keep-alives carry on from where they were, for the same player.
	after := waitKeepAlives(t, srv, before.KeepAlives+2)
	if !after.Joined.Equal(before.Joined) {
		t.Errorf("joined moved from %v to %v", before.Joined, after.Joined)
	}

	cancel()
	ttesting.AssertNoError(t, "server", waitServer(t, served))
	res := <-joined
	if res == nil {
		t.Fatal("no result")
	}
	ttesting.AssertEqualInt(t, "reconfigured", res.Reconfigured, 1)
	ttesting.AssertEqualInt(t, "joins", int(joins.Load()), 1)
	ttesting.AssertEqualInt(t, "players after leaving", len(srv.Players()), 0)
}

func TestRefused(t *testing.T) {
	cfg := testConfig(t)
	for _, tt := range []struct {
		name    string
		version protocol.Version
		admit   func(string, mcnet.UUID) (string, bool)
		reason  string
	}{
		{"unsupported version", 200, nil, "Unsupported client version"},
		{"not admitted", protocol.V1_21, func(name string, _ mcnet.UUID) (string, bool) {
			return "Not on the list, " + name, false
		}, "Not on the list, carol"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(Config{CompressionThreshold: -1, Admit: tt.admit})
			nc, served := serve(t, cfg, srv)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			res, err := Join(ctx, nc, ClientConfig{Name: "carol", Host: "localhost", Port: 25565, Version: tt.version}, cfg)
			if err != nil {
				t.Fatal(err)
			}
			ttesting.AssertNoError(t, "server", waitServer(t, served))
			if !strings.HasPrefix(res.Reason, tt.reason) {
				t.Errorf("reason %q, want prefix %q", res.Reason, tt.reason)
			}
			if res.Joined {
				t.Errorf("refused client reached play")
			}
		})
	}
}

func TestOfflineUUID(t *testing.T) {
	a, b := OfflineUUID("alice"), OfflineUUID("alice")
	ttesting.AssertEqualString(t, "stable", a.String(), b.String())
	if a == OfflineUUID("Alice") {
		t.Errorf("names differing in case share a uuid")
	}
	ttesting.AssertEqualInt(t, "version", int(a[6]>>4), 3)
	ttesting.AssertEqualInt(t, "variant", int(a[8]>>6), 2)
}
