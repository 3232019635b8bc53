package protocol

import (
	"io"
	"testing"

	"github.com/pkg/errors"

	"badc0de.net/pkg/go-mcproto/ttesting"
)

func newTestCodec() *Codec {
	r := NewRegistry()
	r.MustRegister(
		testDescriptor("ping", Status, Serverbound, 0x01, AllVersions),
		testDescriptor("pong", Status, Clientbound, 0x01, AllVersions),
	)
	r.Seal()
	return NewCodec(r)
}

func TestCodecRoundTrip(t *testing.T) {
	c := newTestCodec()
	id, body, d, err := c.Encode(Status, Clientbound, 100, &testPacket{name: "pong", Value: 300})
	if err != nil {
		t.Fatal(err)
	}
	ttesting.AssertEqualInt(t, "id", int(id), 0x01)
	ttesting.AssertEqualString(t, "descriptor", d.Name, "pong")

	p, _, err := c.Decode(Status, Clientbound, 100, id, body)
	if err != nil {
		t.Fatal(err)
	}
	if got := p.(*testPacket); got.name != "pong" || got.Value != 300 {
		t.Errorf("got %+v; want pong 300", got)
	}
}

func TestCodecCorruptPacket(t *testing.T) {
	c := newTestCodec()

	_, d, err := c.Decode(Status, Serverbound, 100, 0x01, []byte{0x80})
	ttesting.AssertErrorIs(t, "truncated", err, ErrCorruptPacket)
	ttesting.AssertErrorIs(t, "truncated keeps cause", err, io.ErrUnexpectedEOF)
	if d == nil || d.Name != "ping" {
		t.Errorf("descriptor of corrupt packet = %v; want ping", d)
	}

	_, _, err = c.Decode(Status, Serverbound, 100, 0x01, []byte{0x01, 0x02})
	ttesting.AssertErrorIs(t, "trailing bytes", err, ErrCorruptPacket)
}

func TestCodecNotImplementedIsNotCorrupt(t *testing.T) {
	c := newTestCodec()

	_, _, err := c.Decode(Status, Serverbound, 100, 0x7f, []byte{0x00})
	ttesting.AssertErrorIs(t, "unknown id", err, ErrNotImplemented)
	if errors.Is(err, ErrCorruptPacket) {
		t.Errorf("unknown id reported as corrupt: %v", err)
	}

	_, _, _, err = c.Encode(Status, Serverbound, 100, &testPacket{name: "nope"})
	ttesting.AssertErrorIs(t, "unknown outbound", err, ErrNotImplemented)

	_, _, err = c.Decode(Login, Serverbound, 100, 0x00, nil)
	ttesting.AssertErrorIs(t, "unmapped state", err, ErrUnmappedState)
}
