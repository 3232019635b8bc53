package protocol

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/pkg/errors"

	mcnet "badc0de.net/pkg/go-mcproto/net"
	"badc0de.net/pkg/go-mcproto/ttesting"
)

type testPacket struct {
	name  string
	Value int32
}

func (p *testPacket) PacketName() string { return p.name }

func testDescriptor(name string, s State, dir Direction, id int32, r Range) Descriptor {
	return Descriptor{
		Name:      name,
		State:     s,
		Direction: dir,
		ID:        id,
		Versions:  r,
		Decode: func(m *mcnet.Message, v Version) (Packet, error) {
			val, err := m.ReadVarInt()
			if err != nil {
				return nil, err
			}
			return &testPacket{name: name, Value: val}, nil
		},
		Encode: func(m *mcnet.Message, p Packet, v Version) error {
			return m.WriteVarInt(p.(*testPacket).Value)
		},
	}
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(
		testDescriptor("keep_alive_old", Play, Clientbound, 0x1f, Between(V1_12_2, V1_20)),
		testDescriptor("keep_alive", Play, Clientbound, 0x23, Since(V1_20)),
		// The id freed by keep_alive_old is reused by an unrelated packet.
		testDescriptor("window_items", Play, Clientbound, 0x1f, Since(V1_20)),
	)
	r.Seal()

	for _, tc := range []struct {
		id   int32
		v    Version
		want string
	}{
		{0x1f, V1_12_2, "keep_alive_old"},
		{0x1f, V1_19, "keep_alive_old"},
		{0x1f, V1_20, "window_items"},
		{0x23, V1_21, "keep_alive"},
	} {
		d, err := r.Resolve(Play, Clientbound, tc.id, tc.v)
		if err != nil {
			t.Errorf("Resolve(0x%02x, %d): %v", tc.id, tc.v, err)
			continue
		}
		ttesting.AssertEqualString(t, fmt.Sprintf("0x%02x@%d", tc.id, tc.v), d.Name, tc.want)
	}

	_, err := r.Resolve(Play, Clientbound, 0x23, V1_19)
	ttesting.AssertErrorIs(t, "id unknown in older version", err, ErrNotImplemented)
	_, err = r.Resolve(Play, Clientbound, 0x1f, V1_8)
	ttesting.AssertErrorIs(t, "version below every range", err, ErrNotImplemented)
	_, err = r.Resolve(Login, Clientbound, 0x00, V1_20)
	ttesting.AssertErrorIs(t, "unmapped state", err, ErrUnmappedState)
	_, err = r.Resolve(Play, Serverbound, 0x00, V1_20)
	ttesting.AssertErrorIs(t, "unmapped direction", err, ErrUnmappedState)
	// The fault wrapping it names the state and direction.
	ttesting.AssertEqualString(t, "unmapped text", err.Error(), "no packets registered for state")

	d, err := r.ResolveName(Play, Clientbound, "keep_alive_old", V1_16_5)
	ttesting.AssertNoError(t, "resolve name", err)
	if d != nil {
		ttesting.AssertEqualInt(t, "resolve name id", int(d.ID), 0x1f)
	}
	_, err = r.ResolveName(Play, Clientbound, "keep_alive_old", V1_20)
	ttesting.AssertErrorIs(t, "resolve name out of range", err, ErrNotImplemented)
}

func TestRegistryDuplicateMapping(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(testDescriptor("a", Status, Serverbound, 0x00, Between(100, 200)))

	err := r.Register(testDescriptor("b", Status, Serverbound, 0x00, Between(150, 250)))
	ttesting.AssertErrorIs(t, "overlapping id", err, ErrDuplicateMapping)

	err = r.Register(testDescriptor("a", Status, Serverbound, 0x05, Between(199, 300)))
	ttesting.AssertErrorIs(t, "overlapping name", err, ErrDuplicateMapping)

	ttesting.AssertNoError(t, "adjacent range", r.Register(testDescriptor("b", Status, Serverbound, 0x00, Between(200, 250))))
	ttesting.AssertNoError(t, "other direction", r.Register(testDescriptor("a", Status, Clientbound, 0x00, Between(100, 200))))
	ttesting.AssertNoError(t, "other state", r.Register(testDescriptor("a", Login, Serverbound, 0x00, Between(100, 200))))

	// The rejected descriptors left no trace.
	d, err := r.Resolve(Status, Serverbound, 0x00, 160)
	ttesting.AssertNoError(t, "resolve after rejection", err)
	if d != nil {
		ttesting.AssertEqualString(t, "resolve after rejection name", d.Name, "a")
	}
}

func TestRegistrySealed(t *testing.T) {
	r := NewRegistry()
	r.Seal()
	r.Seal()
	err := r.Register(testDescriptor("a", Status, Serverbound, 0x00, AllVersions))
	ttesting.AssertErrorIs(t, "register after seal", err, ErrRegistrySealed)
}

func TestRegistryRejectsInvalidDescriptors(t *testing.T) {
	r := NewRegistry()
	for name, d := range map[string]Descriptor{
		"no name":      testDescriptor("", Play, Clientbound, 1, AllVersions),
		"closed state": testDescriptor("x", Closed, Clientbound, 1, AllVersions),
		"negative id":  testDescriptor("x", Play, Clientbound, -1, AllVersions),
		"empty range":  testDescriptor("x", Play, Clientbound, 1, Between(10, 10)),
		"no codec":     {Name: "x", State: Play, Direction: Clientbound, Versions: AllVersions},
	} {
		if err := r.Register(d); err == nil {
			t.Errorf("%s: Register succeeded", name)
		}
	}
}

// TestRegistryUniqueUnderShuffledRegistration registers random descriptors in
// random order and checks that every lookup is unambiguous, and that the set of
// accepted descriptors always resolves the same way as a brute-force scan.
func TestRegistryUniqueUnderShuffledRegistration(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))

	for round := 0; round < 50; round++ {
		var candidates []Descriptor
		for i := 0; i < 40; i++ {
			min := Version(rnd.Intn(100))
			r := Between(min, min+Version(1+rnd.Intn(30)))
			candidates = append(candidates, testDescriptor(
				fmt.Sprintf("p%d", rnd.Intn(8)),
				State(rnd.Intn(int(Closed))),
				Direction(rnd.Intn(2)),
				int32(rnd.Intn(6)),
				r))
		}
		rnd.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })

		reg := NewRegistry()
		var accepted []Descriptor
		for _, d := range candidates {
			if err := reg.Register(d); err == nil {
				accepted = append(accepted, d)
			} else if !errors.Is(err, ErrDuplicateMapping) {
				t.Fatalf("round %d: unexpected error %v", round, err)
			}
		}
		reg.Seal()

		for s := Handshake; s < Closed; s++ {
			for dir := Serverbound; dir <= Clientbound; dir++ {
				for id := int32(0); id < 6; id++ {
					for v := Version(0); v < 140; v++ {
						var matches []Descriptor
						for _, d := range accepted {
							if d.State == s && d.Direction == dir && d.ID == id && d.Versions.Contains(v) {
								matches = append(matches, d)
							}
						}
						if len(matches) > 1 {
							t.Fatalf("round %d: %s %s 0x%02x v%d matched %d descriptors", round, s, dir, id, v, len(matches))
						}
						got, err := reg.Resolve(s, dir, id, v)
						if len(matches) == 0 {
							if err == nil {
								t.Fatalf("round %d: %s %s 0x%02x v%d resolved to %s, want none", round, s, dir, id, v, got.Name)
							}
							continue
						}
						if err != nil || got.Name != matches[0].Name || got.Versions != matches[0].Versions {
							t.Fatalf("round %d: %s %s 0x%02x v%d resolved to %v (%v), want %s %s",
								round, s, dir, id, v, got, err, matches[0].Name, matches[0].Versions)
						}
					}
				}
			}
		}
	}
}

func TestRegistrySupportsAndKnown(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(
		testDescriptor("a", Play, Clientbound, 0, Between(V1_20, V1_20_5)),
		testDescriptor("b", Status, Clientbound, 0, AllVersions),
	)
	r.Seal()

	if !r.Supports(Play, V1_20_2) {
		t.Errorf("Supports(Play, 1.20.2) = false")
	}
	if r.Supports(Play, V1_8) {
		t.Errorf("Supports(Play, 1.8) = true")
	}
	known := r.Versions()
	want := []Version{V1_20, V1_20_2, V1_20_3}
	if fmt.Sprint(known) != fmt.Sprint(want) {
		t.Errorf("Versions() = %v; want %v", known, want)
	}
	ttesting.AssertEqualInt(t, "descriptors", len(r.Descriptors()), 2)
}
