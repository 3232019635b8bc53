package packets

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"

	mcnet "badc0de.net/pkg/go-mcproto/net"
	"badc0de.net/pkg/go-mcproto/protocol"
	"badc0de.net/pkg/go-mcproto/ttesting"
)

var testUUID = mcnet.UUID{0x06, 0x9a, 0x79, 0xf4, 0x44, 0xe9, 0x47, 0x26, 0xa5, 0xbe, 0xfc, 0xa9, 0x0e, 0x38, 0xaa, 0xf5}

// samples holds one populated packet per packet name.
var samples = map[string]protocol.Packet{
	"handshake":                &Handshake{ProtocolVersion: 765, ServerAddress: "mc.example.org", ServerPort: 25565, Intent: IntentLogin},
	"status_request":           &StatusRequest{},
	"status_response":          &StatusResponse{JSON: `{"description":{"text":"hi"}}`},
	"ping_request":             &PingRequest{Payload: -1234567890123},
	"pong_response":            &PongResponse{Payload: 42},
	"login_start":              &LoginStart{Name: "Notch", HasUUID: true, UUID: testUUID},
	"encryption_request":       &EncryptionRequest{ServerID: "", PublicKey: []byte{1, 2, 3}, VerifyToken: []byte{4, 5, 6, 7}, ShouldAuthenticate: true},
	"encryption_response":      &EncryptionResponse{SharedSecret: bytes.Repeat([]byte{9}, 128), VerifyToken: bytes.Repeat([]byte{8}, 128)},
	"login_success":            &LoginSuccess{UUID: testUUID, Username: "Notch", Properties: []Property{{Name: "textures", Value: "e30=", HasSignature: true, Signature: "c2ln"}, {Name: "x", Value: "y"}}, StrictErrorHandling: true},
	"set_compression":          &SetCompression{Threshold: 256},
	"login_disconnect":         &LoginDisconnect{Reason: `{"text":"bye"}`},
	"login_plugin_request":     &LoginPluginRequest{MessageID: 7, Channel: "velocity:player_info", Data: []byte{0x01}},
	"login_plugin_response":    &LoginPluginResponse{MessageID: 7, Successful: true, Data: []byte("data")},
	"login_acknowledged":       &LoginAcknowledged{},
	"plugin_message":           &PluginMessage{Channel: "minecraft:brand", Data: []byte("\x07vanilla")},
	"disconnect":               &Disconnect{JSON: `{"text":"kicked"}`, NBT: TextComponentNBT("kicked")},
	"finish_configuration":     &FinishConfiguration{},
	"finish_configuration_ack": &FinishConfigurationAck{},
	"keep_alive":               &KeepAlive{ID: 123456},
	"start_configuration":      &StartConfiguration{},
	"configuration_ack":        &ConfigurationAck{},
}

func defaultRegistry(t *testing.T) *protocol.Registry {
	t.Helper()
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

// TestRoundTripEveryDescriptor encodes a sample of every registered packet at
// both ends of its version range, decodes it and encodes it again.
func TestRoundTripEveryDescriptor(t *testing.T) {
	r := defaultRegistry(t)
	if !r.Sealed() {
		t.Fatalf("default registry is not sealed")
	}
	for _, d := range r.Descriptors() {
		p, ok := samples[d.Name]
		if !ok {
			t.Errorf("no sample for %s", d.Name)
			continue
		}
		last := d.Versions.Max - 1
		if d.Versions.Max == protocol.MaxVersion {
			last = protocol.V1_21_2 + 10
		}
		for _, v := range []protocol.Version{d.Versions.Min, last} {
			m := mcnet.NewMessage()
			if err := d.Encode(m, p, v); err != nil {
				t.Errorf("%s %s %s v%d: encode: %v", d.State, d.Direction, d.Name, v, err)
				continue
			}
			first := append([]byte(nil), m.Bytes()...)

			got, err := d.Decode(m, v)
			if err != nil {
				t.Errorf("%s %s %s v%d: decode: %v", d.State, d.Direction, d.Name, v, err)
				continue
			}
			if m.Len() != 0 {
				t.Errorf("%s %s %s v%d: %d bytes left after decode", d.State, d.Direction, d.Name, v, m.Len())
			}
			ttesting.AssertEqualString(t, "name", got.PacketName(), d.Name)

			again := mcnet.NewMessage()
			if err := d.Encode(again, got, v); err != nil {
				t.Errorf("%s %s %s v%d: re-encode: %v", d.State, d.Direction, d.Name, v, err)
				continue
			}
			if !bytes.Equal(first, again.Bytes()) {
				t.Errorf("%s %s %s v%d: re-encoded %x; want %x", d.State, d.Direction, d.Name, v, again.Bytes(), first)
			}
		}
	}
}

func TestVersionDependentIDs(t *testing.T) {
	r := defaultRegistry(t)
	for _, tt := range []struct {
		state protocol.State
		dir   protocol.Direction
		name  string
		v     protocol.Version
		id    int32
	}{
		{protocol.Play, protocol.Clientbound, "keep_alive", protocol.V1_8, 0x00},
		{protocol.Play, protocol.Clientbound, "keep_alive", protocol.V1_12_2, 0x1f},
		{protocol.Play, protocol.Clientbound, "keep_alive", protocol.V1_20_3, 0x24},
		{protocol.Play, protocol.Clientbound, "keep_alive", protocol.V1_21, 0x26},
		{protocol.Play, protocol.Serverbound, "keep_alive", protocol.V1_20_2, 0x14},
		{protocol.Play, protocol.Serverbound, "keep_alive", protocol.V1_20_3, 0x15},
		{protocol.Play, protocol.Clientbound, "disconnect", protocol.V1_8, 0x40},
		{protocol.Play, protocol.Clientbound, "disconnect", protocol.V1_20_5, 0x1d},
		{protocol.Configuration, protocol.Clientbound, "finish_configuration", protocol.V1_20_2, 0x02},
		{protocol.Configuration, protocol.Clientbound, "finish_configuration", protocol.V1_21_2, 0x03},
		{protocol.Login, protocol.Serverbound, "login_acknowledged", protocol.V1_21, 0x03},
	} {
		d, err := r.ResolveName(tt.state, tt.dir, tt.name, tt.v)
		if err != nil {
			t.Errorf("ResolveName(%s, %s, %s, %d): %v", tt.state, tt.dir, tt.name, tt.v, err)
			continue
		}
		ttesting.AssertEqualInt(t, tt.name+" "+tt.v.String(), int(d.ID), int(tt.id))

		back, err := r.Resolve(tt.state, tt.dir, tt.id, tt.v)
		if err != nil {
			t.Errorf("Resolve(%s, %s, 0x%02x, %d): %v", tt.state, tt.dir, tt.id, tt.v, err)
			continue
		}
		if back != d {
			t.Errorf("Resolve and ResolveName disagree for %s at %s", tt.name, tt.v)
		}
	}

	// 0x26 is keep-alive in 1.20.5 but nothing in 1.20.2.
	_, err := r.Resolve(protocol.Play, protocol.Clientbound, 0x26, protocol.V1_20_2)
	ttesting.AssertErrorIs(t, "0x26 in 1.20.2", err, protocol.ErrNotImplemented)
	// No configuration state before 1.20.2.
	_, err = r.Resolve(protocol.Configuration, protocol.Clientbound, 0x03, protocol.V1_20)
	ttesting.AssertErrorIs(t, "configuration in 1.20", err, protocol.ErrNotImplemented)
	// 1.19 login start carried signature data and is not mapped.
	_, err = r.ResolveName(protocol.Login, protocol.Serverbound, "login_start", protocol.V1_19)
	ttesting.AssertErrorIs(t, "login start in 1.19", err, protocol.ErrNotImplemented)
}

func TestConfigurationOnlySince1202(t *testing.T) {
	r := defaultRegistry(t)
	if r.Supports(protocol.Configuration, protocol.V1_20) {
		t.Errorf("configuration supported in 1.20")
	}
	if !r.Supports(protocol.Configuration, protocol.V1_20_2) {
		t.Errorf("configuration not supported in 1.20.2")
	}
	d, err := r.ResolveName(protocol.Login, protocol.Clientbound, "login_success", protocol.V1_20)
	if err != nil {
		t.Fatal(err)
	}
	lc := d.Lifecycle(samples["login_success"])
	if !lc.Transition || lc.Next != protocol.Play {
		t.Errorf("1.20 login success lifecycle = %+v; want play", lc)
	}
	d, err = r.ResolveName(protocol.Login, protocol.Clientbound, "login_success", protocol.V1_20_2)
	if err != nil {
		t.Fatal(err)
	}
	if d.Lifecycle != nil {
		t.Errorf("1.20.2 login success has a lifecycle")
	}
}

func TestHandshake(t *testing.T) {
	codec := protocol.NewCodec(defaultRegistry(t))
	encode := func(h *Handshake) []byte {
		_, b, _, err := codec.Encode(protocol.Handshake, protocol.Serverbound, protocol.Unnegotiated, h)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		return b
	}

	body := encode(&Handshake{ProtocolVersion: 100, ServerAddress: "localhost", ServerPort: 25565, Intent: IntentStatus})
	p, d, err := codec.Decode(protocol.Handshake, protocol.Serverbound, protocol.Unnegotiated, 0x00, body)
	if err != nil {
		t.Fatal(err)
	}
	lc := d.Lifecycle(p)
	ttesting.AssertEqualInt(t, "negotiated", int(lc.Negotiate), 100)
	ttesting.AssertEqualString(t, "next", lc.Next.String(), protocol.Status.String())

	p, d, err = codec.Decode(protocol.Handshake, protocol.Serverbound, protocol.Unnegotiated, 0x00,
		encode(&Handshake{ProtocolVersion: protocol.V1_21, Intent: IntentTransfer}))
	if err != nil {
		t.Fatal(err)
	}
	ttesting.AssertEqualString(t, "transfer", d.Lifecycle(p).Next.String(), protocol.Login.String())

	// Transfer needs 1.20.5.
	_, _, _, err = codec.Encode(protocol.Handshake, protocol.Serverbound, protocol.Unnegotiated,
		&Handshake{ProtocolVersion: protocol.V1_20_3, Intent: IntentTransfer})
	ttesting.AssertErrorIs(t, "early transfer encode", err, protocol.ErrInvalidPacket)

	raw := mcnet.NewMessage()
	raw.WriteVarInt(int32(protocol.V1_20_3))
	raw.WriteVarString("", 255)
	raw.WriteUint16(1)
	raw.WriteVarInt(int32(IntentTransfer))
	_, _, err = codec.Decode(protocol.Handshake, protocol.Serverbound, protocol.Unnegotiated, 0x00, raw.Bytes())
	ttesting.AssertErrorIs(t, "early transfer decode", err, protocol.ErrCorruptPacket)

	raw = mcnet.NewMessage()
	raw.WriteVarInt(47)
	raw.WriteVarString("", 255)
	raw.WriteUint16(1)
	raw.WriteVarInt(9)
	_, _, err = codec.Decode(protocol.Handshake, protocol.Serverbound, protocol.Unnegotiated, 0x00, raw.Bytes())
	ttesting.AssertErrorIs(t, "bad intent", err, protocol.ErrCorruptPacket)
}

func TestOversizeStrings(t *testing.T) {
	codec := protocol.NewCodec(defaultRegistry(t))
	_, _, _, err := codec.Encode(protocol.Login, protocol.Serverbound, protocol.V1_20_5,
		&LoginStart{Name: "a_name_longer_than_sixteen"})
	ttesting.AssertErrorIs(t, "encode", err, protocol.ErrInvalidPacket)

	raw := mcnet.NewMessage()
	raw.WriteVarString("a_name_longer_than_sixteen", 64)
	raw.WriteUUID(testUUID)
	_, _, err = codec.Decode(protocol.Login, protocol.Serverbound, protocol.V1_20_5, 0x00, raw.Bytes())
	ttesting.AssertErrorIs(t, "decode", err, protocol.ErrCorruptPacket)
	if !errors.Is(err, mcnet.ErrStringTooLong) {
		t.Errorf("decode error %v does not wrap ErrStringTooLong", err)
	}
}

func TestSetCompressionLifecycle(t *testing.T) {
	lc := setCompressionLifecycle(&SetCompression{Threshold: 64})
	if !lc.Compress || lc.CompressionThreshold != 64 || lc.Transition {
		t.Errorf("lifecycle = %+v", lc)
	}
	lc = setCompressionLifecycle(&SetCompression{Threshold: -1})
	if lc.Compress {
		t.Errorf("negative threshold enables compression")
	}
}

func TestDisconnectText(t *testing.T) {
	for _, tt := range []struct {
		name string
		p    Disconnect
		want string
	}{
		{"json string", Disconnect{JSON: `"plain"`}, "plain"},
		{"json component", Disconnect{JSON: `{"text":"component","color":"red"}`}, "component"},
		{"nbt string", Disconnect{NBT: TextComponentNBT("from nbt")}, "from nbt"},
		{"nbt compound", Disconnect{NBT: []byte{
			nbtCompound,
			nbtString, 0, 5, 'c', 'o', 'l', 'o', 'r', 0, 3, 'r', 'e', 'd',
			nbtString, 0, 4, 't', 'e', 'x', 't', 0, 2, 'h', 'i',
			nbtEnd,
		}}, "hi"},
		{"nbt truncated", Disconnect{NBT: []byte{nbtString, 0, 9, 'x'}}, ""},
		{"new disconnect", *NewDisconnect("both ways"), "both ways"},
		{"new disconnect json", Disconnect{JSON: NewDisconnect(`say "hi"`).JSON}, `say "hi"`},
	} {
		ttesting.AssertEqualString(t, tt.name, tt.p.Text(), tt.want)
	}
}
