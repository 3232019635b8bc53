package status

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"badc0de.net/pkg/go-mcproto/conn"
	"badc0de.net/pkg/go-mcproto/packets"
	"badc0de.net/pkg/go-mcproto/protocol"
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

func serve(t *testing.T, cfg conn.Config, r *Responder) (net.Conn, <-chan error) {
	t.Helper()
	a, b := net.Pipe()
	server, err := conn.NewServerConn(a, cfg, r.Receiver)
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- server.Run(context.Background()) }()
	return b, done
}

func TestPing(t *testing.T) {
	cfg := testConfig(t)
	r := NewResponder(Config{
		MOTD:       "A test server",
		MaxPlayers: 20,
		Players: func() (int, []Player) {
			return 1, []Player{{Name: "alice", ID: "069a79f4-44e9-4726-a5be-fca90e38aaf5"}}
		},
	})

	for _, tt := range []struct {
		name     string
		version  protocol.Version
		reported int32
	}{
		{"supported", protocol.V1_20_3, int32(protocol.V1_20_3)},
		{"legacy", protocol.V1_8, int32(protocol.V1_8)},
		{"unknown", 200, int32(protocol.V1_21)},
	} {
		t.Run(tt.name, func(t *testing.T) {
			nc, served := serve(t, cfg, r)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			res, err := PingConn(ctx, nc, Target{Host: "localhost", Port: DefaultPort, Version: tt.version}, cfg)
			if err != nil {
				t.Fatal(err)
			}
			ttesting.AssertEqualInt(t, "protocol", int(res.Document.Version.Protocol), int(tt.reported))
			ttesting.AssertEqualString(t, "motd", res.Document.Text(), "A test server")
			ttesting.AssertEqualInt(t, "max", res.Document.Players.Max, 20)
			ttesting.AssertEqualInt(t, "online", res.Document.Players.Online, 1)
			ttesting.AssertEqualInt(t, "sample", len(res.Document.Players.Sample), 1)
			if res.Latency < 0 {
				t.Errorf("negative latency %v", res.Latency)
			}

			select {
			case err := <-served:
				ttesting.AssertNoError(t, "server", err)
			case <-time.After(5 * time.Second):
				t.Fatal("server did not finish")
			}
		})
	}
}

func TestPingClosedEarly(t *testing.T) {
	cfg := testConfig(t)
	a, b := net.Pipe()
	// The peer reads the handshake and hangs up.
	go func() {
		buf := make([]byte, 256)
		a.Read(buf)
		a.Close()
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := PingConn(ctx, b, Target{Host: "localhost", Port: DefaultPort, Version: protocol.V1_21}, cfg)
	if err == nil {
		t.Fatal("ping succeeded")
	}
}

func TestDocumentText(t *testing.T) {
	for _, tt := range []struct {
		name, description, want string
	}{
		{"string", `"plain"`, "plain"},
		{"component", `{"text":"a","extra":[{"text":"b"},"c"]}`, "abc"},
		{"array", `["x",{"text":"y"}]`, "xy"},
		{"missing", ``, ""},
	} {
		d := Document{Description: json.RawMessage(tt.description)}
		ttesting.AssertEqualString(t, tt.name, d.Text(), tt.want)
	}
}

func TestParseTarget(t *testing.T) {
	for _, tt := range []struct {
		addr string
		host string
		port int
	}{
		{"example.com", "example.com", DefaultPort},
		{"example.com:25570", "example.com", 25570},
		{"[::1]:1", "::1", 1},
		{"[::1]", "::1", DefaultPort},
	} {
		tg, err := ParseTarget(tt.addr, protocol.V1_21)
		if err != nil {
			t.Errorf("%s: %v", tt.addr, err)
			continue
		}
		ttesting.AssertEqualString(t, tt.addr+" host", tg.Host, tt.host)
		ttesting.AssertEqualInt(t, tt.addr+" port", int(tg.Port), tt.port)
	}
	if _, err := ParseTarget("example.com:99999", protocol.V1_21); err == nil {
		t.Errorf("port out of range accepted")
	}
}

func TestBadPong(t *testing.T) {
	p := &pinger{payload: 7, sent: time.Now()}
	p.OnPacket(protocol.Status, &packets.PongResponse{Payload: 8})
	_, err := p.finish(context.Background(), nil)
	ttesting.AssertErrorIs(t, "mismatch", err, ErrBadPong)
}

func TestSpans(t *testing.T) {
	got := Spans("plain §aGreen §lbold§r reset §zodd§")
	want := []Span{
		{0, "plain "},
		{'a', "Green bold"},
		{'r', " reset §zodd§"},
	}
	ttesting.AssertEqualInt(t, "spans", len(got), len(want))
	for i := range want {
		if i >= len(got) {
			break
		}
		ttesting.AssertEqualInt(t, "code", int(got[i].Code), int(want[i].Code))
		ttesting.AssertEqualString(t, "text", got[i].Text, want[i].Text)
	}
}
