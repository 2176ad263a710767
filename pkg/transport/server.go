package transport

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/screa/deti-coin-miner/internal/logger"
	"github.com/screa/deti-coin-miner/pkg/coordinator"
)

// Server exposes a Coordinator to remote workers. Every connection may
// carry any number of workers; when it closes, those that never reported
// done are abandoned.
type Server struct {
	coord    *coordinator.Coordinator
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*serverConn]struct{}
	closed bool
	wg     sync.WaitGroup
}

type serverConn struct {
	ws  *websocket.Conn
	wmu sync.Mutex
	// ids is only touched by the connection's reader
	ids map[int]struct{}
}

// NewServer creates a websocket front end for coord
func NewServer(coord *coordinator.Coordinator, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		coord: coord,
		log:   log.Named("transport"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns: make(map[*serverConn]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := &serverConn{ws: ws, ids: make(map[int]struct{})}
	if !s.track(c) {
		ws.Close()
		return
	}
	defer s.wg.Done()
	log := s.log.With("remote", r.RemoteAddr)
	log.Debugw("connection opened")

	closed := make(chan struct{})
	var notifier sync.WaitGroup
	notifier.Add(1)
	go func() {
		defer notifier.Done()
		select {
		case <-s.coord.Stopping():
			if err := c.send(Envelope{Type: TypeStop}); err != nil {
				log.Debugw("stop broadcast failed", "error", err)
			}
		case <-closed:
		}
	}()

	defer func() {
		close(closed)
		notifier.Wait()
		ws.Close()
		s.untrack(c)
		for id := range c.ids {
			s.coord.Abandon(id)
		}
		log.Debugw("connection closed", "abandoned", len(c.ids))
	}()

	for {
		var env Envelope
		if err := ws.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugw("read failed", "error", err)
			}
			return
		}
		if err := s.handle(c, env); err != nil {
			log.Warnw("dropping connection", "type", env.Type, "worker", env.Worker, "error", err)
			return
		}
	}
}

// Close drops every open connection and waits for their handlers
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	var errs []error
	for c := range s.conns {
		if err := c.ws.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
	return errors.Join(errs...)
}

func (s *Server) handle(c *serverConn, env Envelope) error {
	if env.Type == TypeJoin {
		id := s.coord.Join()
		c.ids[id] = struct{}{}
		return c.send(Envelope{Type: TypeJoined, Worker: id})
	}

	id := env.Worker
	if _, ok := c.ids[id]; !ok {
		return fmt.Errorf("%w: %d", ErrForeignWorker, id)
	}
	switch env.Type {
	case TypeRequestWork:
		r, ok := s.coord.RequestWork(id)
		if !ok {
			return c.send(Envelope{Type: TypeShutdown, Worker: id})
		}
		return c.send(Envelope{Type: TypeWorkGranted, Worker: id, Start: r.Start, End: r.End})
	case TypeAttempts:
		s.coord.ReportAttempts(id, env.Count)
	case TypeCoin:
		coin, err := env.DecodeCoin()
		if err != nil {
			return err
		}
		s.coord.ReportCoin(id, coin)
	case TypeDone:
		s.coord.ReportDone(id)
		delete(c.ids, id)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
	return nil
}

func (s *Server) track(c *serverConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *serverConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (c *serverConn) send(env Envelope) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteJSON(env)
}
