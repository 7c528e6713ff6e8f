package sideband

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ernie/herald/internal/wire"
)

const (
	dialTimeout  = 2 * time.Second
	writeTimeout = 2 * time.Second
	maxDatagram  = 65535
)

// UDPSender sends each notice as one datagram to the authority.
type UDPSender struct {
	addr string

	mu   sync.Mutex
	conn net.Conn
}

// NewUDPSender prepares a sender targeting the authority address. The socket
// is opened lazily on first send so followers can start before the authority.
func NewUDPSender(addr string) (*UDPSender, error) {
	if addr == "" {
		return nil, fmt.Errorf("authority address not configured")
	}
	return &UDPSender{addr: addr}, nil
}

func (s *UDPSender) Send(n wire.Notice) error {
	data, err := wire.Encode(n)
	if err != nil {
		return fmt.Errorf("encoding notice: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		conn, err := net.DialTimeout("udp", s.addr, dialTimeout)
		if err != nil {
			return fmt.Errorf("connecting to %s: %w", s.addr, err)
		}
		s.conn = conn
	}

	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := s.conn.Write(data); err != nil {
		// Drop the socket so the next send redials.
		s.conn.Close()
		s.conn = nil
		return fmt.Errorf("sending notice: %w", err)
	}
	return nil
}

func (s *UDPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// UDPReceiver listens for notice datagrams at the authority.
type UDPReceiver struct {
	conn net.PacketConn
	log  *zap.SugaredLogger
	done chan struct{}
}

// NewUDPReceiver binds the listen socket immediately so configuration
// mistakes surface at startup rather than on the first missed notice.
func NewUDPReceiver(addr string, log *zap.SugaredLogger) (*UDPReceiver, error) {
	if addr == "" {
		return nil, fmt.Errorf("listen address not configured")
	}
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	return &UDPReceiver{conn: conn, log: log, done: make(chan struct{})}, nil
}

// Addr returns the bound address, useful when listening on port 0.
func (r *UDPReceiver) Addr() net.Addr {
	return r.conn.LocalAddr()
}

// Start launches the read loop. It returns immediately; the handler runs on
// the loop goroutine, one notice at a time.
func (r *UDPReceiver) Start(handler func(n wire.Notice)) error {
	go func() {
		buf := make([]byte, maxDatagram)
		for {
			n, from, err := r.conn.ReadFrom(buf)
			if err != nil {
				select {
				case <-r.done:
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				r.log.Warnw("sideband read failed", "error", err)
				continue
			}

			notice, err := wire.Decode(buf[:n])
			if err != nil {
				r.log.Warnw("dropping malformed notice", "from", from.String(), "bytes", n, "error", err)
				continue
			}
			if !notice.Valid() {
				r.log.Warnw("dropping notice with unknown action", "from", from.String(), "action", notice.Action)
				continue
			}
			handler(notice)
		}
	}()
	return nil
}

func (r *UDPReceiver) Close() error {
	close(r.done)
	return r.conn.Close()
}
