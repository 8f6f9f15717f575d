package trap

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

var ErrBind = errors.New("trap: bind failed")

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Listen binds a TCP listener. Failures wrap ErrBind.
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBind, addr, err)
	}
	return ln, nil
}

// Server accepts connections and hands each to its own Handler goroutine.
type Server struct {
	handler        *Handler
	maxConnections int
	logger         *zap.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	served chan struct{} // closed when the running Serve returns
}

// NewServer caps concurrent connections when maxConnections > 0.
func NewServer(handler *Handler, maxConnections int, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		handler:        handler,
		maxConnections: maxConnections,
		logger:         logger,
	}
}

// Serve accepts until ln is closed, then returns nil. Other accept errors
// are logged and retried after a backoff.
func (s *Server) Serve(ln net.Listener) error {
	done := make(chan struct{})
	s.mu.Lock()
	s.served = done
	s.mu.Unlock()
	defer close(done)

	if s.maxConnections > 0 {
		ln = netutil.LimitListener(ln, s.maxConnections)
	}

	s.logger.Info("trap listening",
		zap.String("addr", ln.Addr().String()),
		zap.Int("max_connections", s.maxConnections))

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff = min(backoff*2, maxAcceptBackoff)
			}
			s.logger.Warn("accept failed, retrying",
				zap.Error(err), zap.Duration("backoff", backoff))
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handler.Serve(conn)
		}()
	}
}

// Wait blocks until Serve has returned and every connection it accepted
// has finished. Close the listener first.
func (s *Server) Wait() {
	s.mu.Lock()
	served := s.served
	s.mu.Unlock()
	if served != nil {
		<-served
	}
	s.wg.Wait()
}
