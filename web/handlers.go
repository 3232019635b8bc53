// Package web serves the debug surface of a server: live connections,
// players, the packet registry, Prometheus metrics and x/net/trace pages.
package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/trace"

	"badc0de.net/pkg/go-mcproto/conn"
	"badc0de.net/pkg/go-mcproto/login"
	"badc0de.net/pkg/go-mcproto/protocol"
)

// ConnSource lists and kicks connections. *conn.Server is one.
type ConnSource interface {
	Conns() []conn.ConnInfo
	Kick(id uint64) bool
}

// PlayerSource lists players in play and can send them back to
// configuration. *login.Server is one.
type PlayerSource interface {
	Players() []login.Player
	Reconfigure(id uint64) error
}

type Handler struct {
	conns    ConnSource
	players  PlayerSource
	reg      *protocol.Registry
	gatherer prometheus.Gatherer

	router *mux.Router
}

// NewHandler constructs the debug handler. players and gatherer may be nil.
func NewHandler(conns ConnSource, players PlayerSource, reg *protocol.Registry, gatherer prometheus.Gatherer) *Handler {
	return &Handler{
		conns:    conns,
		players:  players,
		reg:      reg,
		gatherer: gatherer,
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		glog.Errorf("encoding response: %v", err)
	}
}

type connJSON struct {
	ID         uint64    `json:"id"`
	Remote     string    `json:"remote"`
	State      string    `json:"state"`
	Version    int32     `json:"version"`
	Release    string    `json:"release,omitempty"`
	Started    time.Time `json:"started"`
	Received   uint64    `json:"received"`
	Dispatched uint64    `json:"dispatched"`
	Dropped    uint64    `json:"dropped"`
	Sent       uint64    `json:"sent"`
}

func (h *Handler) connsHandler(w http.ResponseWriter, r *http.Request) {
	infos := h.conns.Conns()
	out := make([]connJSON, 0, len(infos))
	for _, c := range infos {
		out = append(out, connJSON{
			ID:         c.ID,
			Remote:     c.Remote,
			State:      c.State.String(),
			Version:    int32(c.Version),
			Release:    c.Version.Name(),
			Started:    c.Started,
			Received:   c.Stats.Received,
			Dispatched: c.Stats.Dispatched,
			Dropped:    c.Stats.Dropped,
			Sent:       c.Stats.Sent,
		})
	}
	writeJSON(w, out)
}

func (h *Handler) kickHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "id not a number", http.StatusBadRequest)
		return
	}
	if !h.conns.Kick(id) {
		http.Error(w, "no such connection", http.StatusNotFound)
		return
	}
	glog.Infof("conn %d kicked from %s", id, r.RemoteAddr)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) reconfigureHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "id not a number", http.StatusBadRequest)
		return
	}
	if h.players == nil {
		http.Error(w, "no players", http.StatusNotFound)
		return
	}
	switch err := h.players.Reconfigure(id); {
	case errors.Is(err, login.ErrNoPlayer):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	glog.Infof("conn %d sent to configuration from %s", id, r.RemoteAddr)
	w.WriteHeader(http.StatusNoContent)
}

type playerJSON struct {
	Conn   uint64    `json:"conn"`
	Name   string    `json:"name"`
	UUID   string    `json:"uuid"`
	Brand  string    `json:"brand,omitempty"`
	Joined time.Time `json:"joined"`
	PingMS int64     `json:"ping_ms"`
}

func (h *Handler) playersHandler(w http.ResponseWriter, r *http.Request) {
	out := []playerJSON{}
	if h.players != nil {
		for _, p := range h.players.Players() {
			out = append(out, playerJSON{
				Conn:   p.Conn,
				Name:   p.Name,
				UUID:   p.UUID.String(),
				Brand:  p.Brand,
				Joined: p.Joined,
				PingMS: p.Ping.Milliseconds(),
			})
		}
	}
	writeJSON(w, out)
}

type versionJSON struct {
	Protocol int32    `json:"protocol"`
	Release  string   `json:"release"`
	States   []string `json:"states"`
}

func (h *Handler) versionsHandler(w http.ResponseWriter, r *http.Request) {
	out := []versionJSON{}
	for _, v := range h.reg.Versions() {
		vj := versionJSON{Protocol: int32(v), Release: v.Name()}
		for _, s := range []protocol.State{protocol.Status, protocol.Login, protocol.Configuration, protocol.Play} {
			if h.reg.Supports(s, v) {
				vj.States = append(vj.States, s.String())
			}
		}
		out = append(out, vj)
	}
	writeJSON(w, out)
}

type packetJSON struct {
	State     string `json:"state"`
	Direction string `json:"direction"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Versions  string `json:"versions"`
}

// packetsHandler lists descriptors, optionally only those of one version
// (?version=N) or one state (?state=Play).
func (h *Handler) packetsHandler(w http.ResponseWriter, r *http.Request) {
	var (
		version    protocol.Version
		hasVersion bool
	)
	if v := r.URL.Query().Get("version"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			http.Error(w, "version not a number", http.StatusBadRequest)
			return
		}
		version, hasVersion = protocol.Version(n), true
	}
	state := r.URL.Query().Get("state")

	out := []packetJSON{}
	for _, d := range h.reg.Descriptors() {
		if hasVersion && !d.Versions.Contains(version) {
			continue
		}
		if state != "" && !strings.EqualFold(state, d.State.String()) {
			continue
		}
		out = append(out, packetJSON{
			State:     d.State.String(),
			Direction: d.Direction.String(),
			ID:        fmt.Sprintf("0x%02x", d.ID),
			Name:      d.Name,
			Versions:  d.Versions.String(),
		})
	}
	writeJSON(w, out)
}

func (h *Handler) miniMetricsHandler(w http.ResponseWriter, r *http.Request) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "runtime.NumGoroutine(): %d\n", runtime.NumGoroutine())
	fmt.Fprintf(w, "heap alloc: %d\n", ms.HeapAlloc)
	fmt.Fprintf(w, "connections: %d\n", len(h.conns.Conns()))
}

// indexHandler lists the registered routes.
func (h *Handler) indexHandler(w http.ResponseWriter, r *http.Request) {
	routes := make(map[string]bool)
	h.router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		if t, err := route.GetPathTemplate(); err == nil {
			routes[t] = true
		}
		return nil
	})
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, t := range sortedKeys(routes) {
		fmt.Fprintln(w, t)
	}
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	h.router = r
	r.HandleFunc("/debug/", h.indexHandler)
	r.HandleFunc("/debug/conns", h.connsHandler).Methods(http.MethodGet)
	r.HandleFunc("/debug/conns/{id:[0-9]+}", h.kickHandler).Methods(http.MethodDelete, http.MethodPost)
	r.HandleFunc("/debug/players", h.playersHandler).Methods(http.MethodGet)
	r.HandleFunc("/debug/players/{id:[0-9]+}/reconfigure", h.reconfigureHandler).Methods(http.MethodPost)
	r.HandleFunc("/debug/versions", h.versionsHandler).Methods(http.MethodGet)
	r.HandleFunc("/debug/packets", h.packetsHandler).Methods(http.MethodGet)
	r.HandleFunc("/debug/minimetrics", h.miniMetricsHandler)
	r.HandleFunc("/debug/requests", trace.Traces)
	r.HandleFunc("/debug/events", trace.Events)
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
}

// Router returns all routes wrapped in request logging and panic recovery.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(
		handlers.CombinedLoggingHandler(glogWriter{}, r))
}

// glogWriter sends access log lines to glog at V(1).
type glogWriter struct{}

func (glogWriter) Write(b []byte) (int, error) {
	glog.V(1).Info(strings.TrimRight(string(b), "\n"))
	return len(b), nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
