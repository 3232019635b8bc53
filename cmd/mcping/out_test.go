package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"badc0de.net/pkg/go-mcproto/login"
	"badc0de.net/pkg/go-mcproto/protocol"
	"badc0de.net/pkg/go-mcproto/status"
	"badc0de.net/pkg/go-mcproto/ttesting"
)

func TestPlain(t *testing.T) {
	ttesting.AssertEqualString(t, "plain", plain("§6Gold §lbold§r end"), "Gold bold end")
}

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	p := printer{w: &buf, noColor: true}
	res := &status.Result{Document: status.Document{
		Version:     status.VersionInfo{Name: "1.21", Protocol: int32(protocol.V1_21)},
		Players:     status.Players{Max: 20, Online: 2, Sample: []status.Player{{Name: "alex"}, {Name: "§csteve"}}},
		Description: json.RawMessage(`"§aHello\nworld"`),
	}}
	p.status(status.Target{Host: "example.org", Port: 25565, Version: protocol.V1_21}, res, false, "off")
	p.latency(0, 1500*time.Microsecond)

	out := buf.String()
	for _, want := range []string{
		"server    example.org:25565\n",
		"version   1.21 (protocol 767)\n",
		"players   2/20: alex, steve\n",
		"  Hello\n  world\n",
		"ping 0: 1.5 ms\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q does not contain %q", out, want)
		}
	}
}

func TestPrintLogin(t *testing.T) {
	var buf bytes.Buffer
	p := printer{w: &buf, noColor: true}
	p.login(&login.Result{Compression: -1, Reason: "bye"})

	out := buf.String()
	for _, want := range []string{"compress  off\n", "joined    no\n", "reason      bye\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q does not contain %q", out, want)
		}
	}
}
