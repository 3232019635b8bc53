package conn

import (
	"github.com/golang/glog"

	"badc0de.net/pkg/go-mcproto/pipeline"
	"badc0de.net/pkg/go-mcproto/protocol"
)

// Mux is a receiver that hands each packet to the receiver registered for the
// state the packet arrived in. State changes and faults go to every
// registered receiver, once each.
type Mux struct {
	byState map[protocol.State]pipeline.Receiver
	all     []pipeline.Receiver
}

func NewMux() *Mux {
	return &Mux{byState: make(map[protocol.State]pipeline.Receiver)}
}

// Handle registers r for the given states, replacing earlier registrations
// for them. It returns m so registrations can be chained.
func (m *Mux) Handle(r pipeline.Receiver, states ...protocol.State) *Mux {
	for _, s := range states {
		m.byState[s] = r
	}
	for _, known := range m.all {
		if known == r {
			return m
		}
	}
	m.all = append(m.all, r)
	return m
}

func (m *Mux) OnPacket(s protocol.State, p protocol.Packet) {
	r, ok := m.byState[s]
	if !ok {
		glog.V(1).Infof("no receiver for %s in %s", p.PacketName(), s)
		return
	}
	r.OnPacket(s, p)
}

func (m *Mux) OnStateChange(old, new protocol.State) {
	for _, r := range m.all {
		r.OnStateChange(old, new)
	}
}

func (m *Mux) OnError(f *protocol.Fault) {
	for _, r := range m.all {
		r.OnError(f)
	}
}
