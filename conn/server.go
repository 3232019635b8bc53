package conn

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"badc0de.net/pkg/go-mcproto/pipeline"
	"badc0de.net/pkg/go-mcproto/protocol"
)

// Server accepts connections and runs a server-side pipeline on each.
type Server struct {
	cfg     Config
	handler Handler

	mu    sync.Mutex
	conns map[uint64]*Conn
	wg    sync.WaitGroup
}

func NewServer(cfg Config, h Handler) *Server {
	return &Server{
		cfg:     cfg.withDefaults(),
		handler: h,
		conns:   make(map[uint64]*Conn),
	}
}

// ListenAndServe listens on the TCP address and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", addr)
	}
	glog.Infof("listening on %s", l.Addr())
	return s.Serve(ctx, l)
}

// Serve accepts connections from l until ctx is done or accepting fails.
// It closes l, and returns once every connection has finished.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return l.Close()
	})
	g.Go(func() error {
		defer s.wg.Wait()
		for {
			nc, err := l.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					glog.Warningf("accept: %v", err)
					time.Sleep(10 * time.Millisecond)
					continue
				}
				return errors.Wrap(err, "accepting")
			}
			s.accept(gctx, nc)
		}
	})
	err := g.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) accept(ctx context.Context, nc net.Conn) {
	s.mu.Lock()
	full := s.cfg.MaxConns > 0 && len(s.conns) >= s.cfg.MaxConns
	s.mu.Unlock()
	if full {
		glog.Warningf("rejecting %s: %d connections open", nc.RemoteAddr(), s.cfg.MaxConns)
		nc.Close()
		return
	}

	c, err := NewServerConn(nc, s.cfg, s.handler)
	if err != nil {
		glog.Errorf("setting up connection from %s: %v", nc.RemoteAddr(), err)
		return
	}
	glog.V(1).Infof("conn %d: accepted %s", c.id, nc.RemoteAddr())

	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	s.cfg.Metrics.ConnOpened()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := c.Run(ctx)
		if err != nil {
			glog.V(1).Infof("conn %d: closed: %v", c.id, err)
		}
		s.mu.Lock()
		delete(s.conns, c.id)
		s.mu.Unlock()
		s.cfg.Metrics.ConnClosed()
	}()
}

// ConnInfo describes a live connection.
type ConnInfo struct {
	ID      uint64
	Remote  string
	State   protocol.State
	Version protocol.Version
	Started time.Time
	Stats   pipeline.Stats
}

// Conns returns the live connections, oldest first.
func (s *Server) Conns() []ConnInfo {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	out := make([]ConnInfo, 0, len(conns))
	for _, c := range conns {
		out = append(out, ConnInfo{
			ID:      c.id,
			Remote:  c.RemoteAddr().String(),
			State:   c.State(),
			Version: c.Version(),
			Started: c.started,
			Stats:   c.Stats(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Kick disconnects a live connection.
func (s *Server) Kick(id uint64) bool {
	s.mu.Lock()
	c, ok := s.conns[id]
	s.mu.Unlock()
	if ok {
		c.Close()
	}
	return ok
}
