// Package session implements the Connection Session (spec §4.4): the
// per-client message loop that decodes framed requests, drives the
// cache engine, and serializes both responses and asynchronous
// notifications on one shared writer.
//
// Grounded on the pack's per-connection client pattern (a net.Conn
// plus a write mutex guarding a shared socket against a response and
// a concurrent notification interleaving on the wire). Notifications
// are handed to the session through a buffered channel rather than
// written inline by the caller: per §4.2/§5 the Event Source emits
// synchronously but delivery to each client must happen off the
// publishing thread, so Notify only enqueues and a dedicated goroutine
// performs the actual blocking write.
package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kvmesh/kvmesh/internal/events"
	"github.com/kvmesh/kvmesh/internal/logx"
	"github.com/kvmesh/kvmesh/internal/protocol"
	"github.com/kvmesh/kvmesh/internal/registry"
)

// notifyQueueSize bounds how many undelivered notifications a session
// will hold before Notify reports the client as unreachable. A slow
// consumer falls behind the bus, not the other way around.
const notifyQueueSize = 64

// Engine is the subset of the cache engine a session drives.
type Engine interface {
	Create(key string, value any, ttl *time.Duration) bool
	Read(key string) (any, bool)
	Update(key string, value any, ttl *time.Duration) bool
	Delete(key string) bool
}

// Subscriptions is the subset of the subscription registry a session
// drives.
type Subscriptions interface {
	AddClient(id string, notifier registry.Notifier)
	Subscribe(id string, types []events.Type)
	Unsubscribe(id string, types []events.Type)
	RemoveClient(id string)
}

// Session owns one accepted connection: its framed read loop and its
// write-serialized response/notification path.
type Session struct {
	id       string
	conn     net.Conn
	engine   Engine
	subs     Subscriptions
	log      logx.Logger

	writeMu sync.Mutex
	enc     *protocol.Encoder

	notifyCh chan events.CacheEvent
	done     chan struct{}
}

// New wraps conn as a Session with a fresh client identifier and
// registers it with subs at an empty subscription set.
func New(conn net.Conn, engine Engine, subs Subscriptions, log logx.Logger) *Session {
	if log == nil {
		log = logx.Nop{}
	}
	s := &Session{
		id:       uuid.NewString(),
		conn:     conn,
		engine:   engine,
		subs:     subs,
		log:      log,
		enc:      protocol.NewEncoder(conn),
		notifyCh: make(chan events.CacheEvent, notifyQueueSize),
		done:     make(chan struct{}),
	}
	subs.AddClient(s.id, s)
	return s
}

// ID returns the session's client identifier.
func (s *Session) ID() string { return s.id }

// Notify implements registry.Notifier. It never blocks: evt is
// enqueued for the session's own delivery goroutine to write, so the
// caller — the event bus, invoked synchronously from the cache
// engine's critical section — never waits on a client socket. A full
// queue or a session that has already stopped reports the client as
// unreachable, so the registry can evict it.
func (s *Session) Notify(evt events.CacheEvent) error {
	select {
	case <-s.done:
		return fmt.Errorf("session: client %s is closed", s.id)
	default:
	}
	select {
	case s.notifyCh <- evt:
		return nil
	default:
		return fmt.Errorf("session: notification queue full for client %s", s.id)
	}
}

// Close closes the underlying connection. Safe to call more than
// once; implements registry.Notifier.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Run reads framed requests until end-of-stream, cancellation, or a
// malformed-JSON fault, dispatching each to the engine or the
// subscription registry and writing back a response. It always
// unregisters the session and closes the connection before returning.
func (s *Session) Run(stop <-chan struct{}) {
	defer s.subs.RemoveClient(s.id)
	defer close(s.done)
	defer s.conn.Close()

	go func() {
		select {
		case <-stop:
			s.conn.Close()
		case <-s.done:
		}
	}()

	go s.deliverNotifications()

	dec := protocol.NewDecoder(s.conn)
	for {
		req, err := dec.Next()
		if err != nil {
			if !isCleanClose(err) {
				s.log.Record(logx.Warn, "session terminated on malformed request",
					logx.F("client_id", s.id), logx.F("error", err.Error()))
			}
			return
		}

		resp := s.dispatch(req)
		if err := s.write(resp); err != nil {
			s.log.Record(logx.Warn, "session write failed",
				logx.F("client_id", s.id), logx.F("error", err.Error()))
			return
		}
	}
}

// deliverNotifications drains notifyCh and performs the actual
// blocking socket write for each queued event, off the goroutine that
// enqueued it. Exits when the session stops or a write fails.
func (s *Session) deliverNotifications() {
	for {
		select {
		case evt := <-s.notifyCh:
			if err := s.write(protocol.Notification(evt)); err != nil {
				s.log.Record(logx.Warn, "session notification delivery failed",
					logx.F("client_id", s.id), logx.F("error", err.Error()))
				return
			}
		case <-s.done:
			return
		}
	}
}

func isCleanClose(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

func (s *Session) dispatch(req protocol.Request) protocol.Response {
	switch req.Operation {
	case protocol.OpCreate:
		ok := s.engine.Create(req.Key, req.Value, ttlFromRequest(req))
		return protocol.Response{Success: ok}
	case protocol.OpRead:
		value, _ := s.engine.Read(req.Key)
		return protocol.OK(value)
	case protocol.OpUpdate:
		ok := s.engine.Update(req.Key, req.Value, ttlFromRequest(req))
		return protocol.Response{Success: ok}
	case protocol.OpDelete:
		ok := s.engine.Delete(req.Key)
		return protocol.Response{Success: ok}
	case protocol.OpSubscribe:
		s.subs.Subscribe(s.id, toEventTypes(req.SubscribedEventTypes))
		return protocol.Response{Success: true}
	case protocol.OpUnsubscribe:
		s.subs.Unsubscribe(s.id, toEventTypes(req.SubscribedEventTypes))
		return protocol.Response{Success: true}
	default:
		return protocol.Fail("Invalid operation")
	}
}

func ttlFromRequest(req protocol.Request) *time.Duration {
	if req.ExpirationSeconds == nil {
		return nil
	}
	d := time.Duration(*req.ExpirationSeconds) * time.Second
	return &d
}

func toEventTypes(names []string) []events.Type {
	if names == nil {
		return nil
	}
	out := make([]events.Type, 0, len(names))
	for _, n := range names {
		out = append(out, events.Type(n))
	}
	return out
}

func (s *Session) write(resp protocol.Response) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.enc.Write(resp)
}
