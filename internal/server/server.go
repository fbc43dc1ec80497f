// Package server implements the Listener, its accept loop, and the
// shutdown coordinator (spec §4.5, §6): bind a stream socket, spawn a
// Session per accepted connection, and on shutdown stop accepting,
// cancel outstanding sessions, and close the listener.
//
// The accept loop and the shutdown watcher are supervised together
// under one cancellable golang.org/x/sync/errgroup, rather than each
// owning an ad hoc stop channel — grounded on the pack's own use of
// x/sync for coordinating concurrent workers under a shared
// cancellation. The cache engine's periodic sweep is not part of the
// group: Serve starts it with StartSweep and stops it with StopSweep,
// which use the engine's own stop channel.
package server

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kvmesh/kvmesh/internal/events"
	"github.com/kvmesh/kvmesh/internal/logx"
	"github.com/kvmesh/kvmesh/internal/registry"
	"github.com/kvmesh/kvmesh/internal/session"
)

// Engine is the cache engine surface the server wires sessions to, and
// the component whose periodic sweep Serve starts and stops.
type Engine interface {
	session.Engine
	StartSweep(interval time.Duration)
	StopSweep()
}

// Server owns the listener socket and the set of in-flight sessions.
type Server struct {
	port            int
	cleanupInterval time.Duration
	engine          Engine
	subs            *registry.Registry
	log             logx.Logger

	mu       sync.Mutex
	sessions map[string]*sessionHandle

	ln    net.Listener
	ready chan struct{}
}

// sessionHandle pairs a live session with the stop channel that
// unblocks its read loop on shutdown, so shutdown can signal it
// instead of leaking the goroutine that watches it.
type sessionHandle struct {
	sess *session.Session
	stop chan struct{}
}

// New constructs a Server bound to no socket yet; call Serve to bind
// and start accepting.
func New(port int, cleanupInterval time.Duration, engine Engine, subs *registry.Registry, log logx.Logger) *Server {
	if log == nil {
		log = logx.Nop{}
	}
	return &Server{
		port:            port,
		cleanupInterval: cleanupInterval,
		engine:          engine,
		subs:            subs,
		log:             log,
		sessions:        make(map[string]*sessionHandle),
		ready:           make(chan struct{}),
	}
}

// Addr blocks until the listener is bound (or Serve fails to bind) and
// returns its address, or nil if binding failed. Used by tests to learn
// the actual bound port (relevant when Port is 0).
func (s *Server) Addr() net.Addr {
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve binds the listener on all interfaces at the configured port,
// starts the periodic expiration sweep, and accepts connections until
// ctx is cancelled. Returns a non-nil error if the listener failed to
// bind — an unbindable port is a configuration fault, fatal at startup
// per §7 — or if Accept fails while the server is not shutting down;
// in that case the failure is logged, accepting stops, and in-flight
// sessions are signalled to stop.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(s.port))
	if err != nil {
		close(s.ready)
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	close(s.ready)

	s.engine.StartSweep(s.cleanupInterval)
	defer s.engine.StopSweep()

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		<-gctx.Done()
		return s.shutdown()
	})

	group.Go(func() error {
		return s.acceptLoop(gctx)
	})

	err = group.Wait()
	if errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				// Shutting down: accept failures are expected and silent.
				return nil
			default:
				s.log.Record(logx.Error, "accept failed", logx.F("error", err.Error()))
				return err
			}
		}
		s.spawn(conn)
	}
}

func (s *Server) spawn(conn net.Conn) {
	sess := session.New(conn, s.engine, s.subs, s.log)
	handle := &sessionHandle{sess: sess, stop: make(chan struct{})}

	s.mu.Lock()
	s.sessions[sess.ID()] = handle
	s.mu.Unlock()

	go func() {
		sess.Run(handle.stop)
		s.mu.Lock()
		delete(s.sessions, sess.ID())
		s.mu.Unlock()
	}()
}

// shutdown stops accepting new connections and signals every in-flight
// session's stop channel, unblocking their reads and writes so Run
// returns within a bounded time.
func (s *Server) shutdown() error {
	if s.ln != nil {
		s.ln.Close()
	}

	s.mu.Lock()
	handles := make([]*sessionHandle, 0, len(s.sessions))
	for _, h := range s.sessions {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		close(h.stop)
	}
	return nil
}

// RegisterEventFanout wires the subscription registry's dispatch
// function as a handler on bus, so every engine-emitted event reaches
// connected subscribers.
func RegisterEventFanout(bus interface{ Register(events.Handler) }, subs *registry.Registry) {
	bus.Register(subs.Handler())
}
