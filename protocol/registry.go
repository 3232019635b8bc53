package protocol

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

type idKey struct {
	state State
	dir   Direction
	id    int32
}

type nameKey struct {
	state State
	dir   Direction
	name  string
}

type stateKey struct {
	state State
	dir   Direction
}

// Registry maps (state, direction, id, version) to packet descriptors.
//
// Registration happens at startup. Once Seal is called the registry is
// read-only and lookups take no locks, so one registry can serve every
// connection in the process.
type Registry struct {
	mu     sync.Mutex
	sealed atomic.Bool

	byID   map[idKey][]*Descriptor
	byName map[nameKey][]*Descriptor
	states map[stateKey]int
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[idKey][]*Descriptor),
		byName: make(map[nameKey][]*Descriptor),
		states: make(map[stateKey]int),
	}
}

// Register adds a descriptor. It fails with ErrDuplicateMapping when, for any
// version in its range, another descriptor already uses the same id or the same
// name in the same state and direction.
func (r *Registry) Register(d Descriptor) error {
	if err := validate(&d); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() {
		return errors.Wrapf(ErrRegistrySealed, "registering %s", d.Name)
	}

	ik := idKey{d.State, d.Direction, d.ID}
	for _, o := range r.byID[ik] {
		if o.Versions.Overlaps(d.Versions) {
			return errors.Wrapf(ErrDuplicateMapping, "%s %s id 0x%02x: %s %s overlaps %s %s",
				d.State, d.Direction, d.ID, d.Name, d.Versions, o.Name, o.Versions)
		}
	}
	nk := nameKey{d.State, d.Direction, d.Name}
	for _, o := range r.byName[nk] {
		if o.Versions.Overlaps(d.Versions) {
			return errors.Wrapf(ErrDuplicateMapping, "%s %s %s: %s overlaps id 0x%02x %s",
				d.State, d.Direction, d.Name, d.Versions, o.ID, o.Versions)
		}
	}

	desc := &d
	r.byID[ik] = insertSorted(r.byID[ik], desc)
	r.byName[nk] = insertSorted(r.byName[nk], desc)
	r.states[stateKey{d.State, d.Direction}]++
	glog.V(3).Infof("registered %s %s %s id 0x%02x %s", d.State, d.Direction, d.Name, d.ID, d.Versions)
	return nil
}

// MustRegister registers all descriptors and panics on the first error. It is
// meant for static tables built at init time.
func (r *Registry) MustRegister(ds ...Descriptor) {
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

func validate(d *Descriptor) error {
	switch {
	case d.Name == "":
		return errors.New("descriptor without a name")
	case !d.State.Valid() || d.State == Closed:
		return errors.Errorf("descriptor %s: invalid state %s", d.Name, d.State)
	case d.Direction != Serverbound && d.Direction != Clientbound:
		return errors.Errorf("descriptor %s: invalid direction %d", d.Name, d.Direction)
	case d.ID < 0:
		return errors.Errorf("descriptor %s: negative id %d", d.Name, d.ID)
	case d.Versions.Empty():
		return errors.Errorf("descriptor %s: empty version range %s", d.Name, d.Versions)
	case d.Decode == nil || d.Encode == nil:
		return errors.Errorf("descriptor %s: missing codec functions", d.Name)
	}
	return nil
}

func insertSorted(ds []*Descriptor, d *Descriptor) []*Descriptor {
	i := sort.Search(len(ds), func(i int) bool { return ds[i].Versions.Min > d.Versions.Min })
	ds = append(ds, nil)
	copy(ds[i+1:], ds[i:])
	ds[i] = d
	return ds
}

// Seal ends registration. It is safe to call more than once.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed.Store(true)
	r.mu.Unlock()
}

func (r *Registry) Sealed() bool {
	return r.sealed.Load()
}

func (r *Registry) lock() func() {
	if r.sealed.Load() {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

// find returns the descriptor in ds (sorted, non-overlapping) covering v.
func find(ds []*Descriptor, v Version) *Descriptor {
	i := sort.Search(len(ds), func(i int) bool { return ds[i].Versions.Max > v })
	if i < len(ds) && ds[i].Versions.Contains(v) {
		return ds[i]
	}
	return nil
}

// Resolve returns the descriptor for an incoming packet id.
//
// The error matches ErrUnmappedState if nothing is registered for the state and
// direction at all, and ErrNotImplemented if the id is unknown for the version.
// Callers add the state, direction and id; see Fault.
func (r *Registry) Resolve(s State, dir Direction, id int32, v Version) (*Descriptor, error) {
	defer r.lock()()

	if r.states[stateKey{s, dir}] == 0 {
		return nil, errors.WithStack(ErrUnmappedState)
	}
	if d := find(r.byID[idKey{s, dir, id}], v); d != nil {
		return d, nil
	}
	return nil, errors.WithStack(ErrNotImplemented)
}

// ResolveName returns the descriptor used to encode the named packet.
func (r *Registry) ResolveName(s State, dir Direction, name string, v Version) (*Descriptor, error) {
	defer r.lock()()

	if r.states[stateKey{s, dir}] == 0 {
		return nil, errors.WithStack(ErrUnmappedState)
	}
	if d := find(r.byName[nameKey{s, dir, name}], v); d != nil {
		return d, nil
	}
	return nil, errors.Wrap(ErrNotImplemented, name)
}

// Supports reports whether any descriptor of the state covers v.
func (r *Registry) Supports(s State, v Version) bool {
	defer r.lock()()

	for k, ds := range r.byID {
		if k.state != s {
			continue
		}
		if find(ds, v) != nil {
			return true
		}
	}
	return false
}

// Versions returns the named versions for which play packets are registered, in
// ascending order.
func (r *Registry) Versions() []Version {
	var out []Version
	for v := range versionNames {
		if r.Supports(Play, v) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Descriptors returns every registered descriptor, ordered by state, direction,
// id and version.
func (r *Registry) Descriptors() []*Descriptor {
	defer r.lock()()

	var out []*Descriptor
	for _, ds := range r.byID {
		out = append(out, ds...)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.State != b.State {
			return a.State < b.State
		}
		if a.Direction != b.Direction {
			return a.Direction < b.Direction
		}
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.Versions.Min < b.Versions.Min
	})
	return out
}
