package hl7v2

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// MLLP frame bytes.
const (
	StartBlock     = 0x0B
	EndBlock       = 0x1C
	CarriageReturn = 0x0D
)

const (
	maxMessageSize = 1 << 20
	writeTimeout   = 10 * time.Second
)

// Handler processes one inbound message and returns the acknowledgement to
// send back, or nil for none.
type Handler func(ctx context.Context, msg *Message) *Message

// Server accepts MLLP connections and hands every framed message to a
// Handler. Messages on one connection are processed in order.
type Server struct {
	addr        string
	handler     Handler
	logger      zerolog.Logger
	idleTimeout time.Duration

	listener net.Listener
	closed   atomic.Bool
	once     sync.Once
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

func NewServer(addr string, handler Handler, logger zerolog.Logger) *Server {
	return &Server{
		addr:        addr,
		handler:     handler,
		logger:      logger.With().Str("component", "mllp").Logger(),
		idleTimeout: 2 * time.Minute,
		conns:       make(map[net.Conn]struct{}),
	}
}

// Listen binds the address. Serve calls it when needed; calling it first
// lets the caller read Addr before serving.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("mllp: listen %s: %w", s.addr, err)
	}
	s.listener = ln
	return nil
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Serve accepts connections until ctx is done or Close is called, then
// waits for open connections to finish. It returns nil on a clean stop.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	s.logger.Info().Str("addr", s.Addr()).Msg("mllp listener started")
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("mllp: accept: %w", err)
		}
		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			defer conn.Close()
			s.serveConn(ctx, conn)
		}()
	}
}

// Close stops the listener and drops open connections.
func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		if s.listener != nil {
			err = s.listener.Close()
		}
		s.mu.Lock()
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
	})
	return err
}

func (s *Server) track(c net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)

	for {
		conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if len(buf) > maxMessageSize {
				s.logger.Warn().Str("remote", remote).Msg("mllp frame exceeds size limit, closing")
				return
			}
			for {
				payload, rest, ok := Unframe(buf)
				if !ok {
					break
				}
				buf = rest
				s.dispatch(ctx, conn, payload)
			}
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.logger.Debug().Str("remote", remote).Msg("mllp connection idle, closing")
			}
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, conn net.Conn, payload []byte) {
	msg, err := Parse(payload)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("mllp message rejected")
		return
	}
	ack := s.handler(ctx, msg)
	if ack == nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(Frame(ack.Serialize())); err != nil {
		s.logger.Warn().Err(err).Str("control_id", msg.ControlID).Msg("mllp ack write failed")
	}
}

// Frame wraps a message as <VT>message<FS><CR>.
func Frame(data []byte) []byte {
	out := make([]byte, 0, len(data)+3)
	out = append(out, StartBlock)
	out = append(out, data...)
	return append(out, EndBlock, CarriageReturn)
}

// Unframe extracts the first complete frame in data. Bytes before the start
// block are discarded. ok is false when no complete frame is buffered yet.
func Unframe(data []byte) (payload, rest []byte, ok bool) {
	start := bytes.IndexByte(data, StartBlock)
	if start < 0 {
		return nil, data, false
	}
	end := bytes.Index(data[start+1:], []byte{EndBlock, CarriageReturn})
	if end < 0 {
		return nil, data, false
	}
	end += start + 1
	return data[start+1 : end], data[end+2:], true
}
