package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// maxDatagram is the largest UDP payload read.
const maxDatagram = 64 * 1024

// Handler consumes raw datagrams. It must not block.
type Handler interface {
	HandleDatagram(ctx context.Context, raw []byte)
}

// Listener receives control datagrams on a UDP socket.
type Listener struct {
	addr    string
	handler Handler

	mu   sync.Mutex
	conn *net.UDPConn
}

// NewListener returns a Listener for addr ("host:port") that feeds handler.
func NewListener(addr string, handler Handler) *Listener {
	return &Listener{addr: addr, handler: handler}
}

// Bind opens the socket. It is called by Listen, but calling it first lets
// startup fail fast on a taken port.
func (l *Listener) Bind() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return nil
	}
	udpAddr, err := net.ResolveUDPAddr("udp", l.addr)
	if err != nil {
		return fmt.Errorf("control: resolve %s: %w", l.addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("control: bind %s: %w", l.addr, err)
	}
	l.conn = conn
	return nil
}

// Addr returns the bound address, or nil before Bind.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Bound reports whether the socket is open.
func (l *Listener) Bound() bool { return l.Addr() != nil }

// Listen binds if needed and reads datagrams until ctx is cancelled, then
// closes the socket and returns nil.
func (l *Listener) Listen(ctx context.Context) error {
	if err := l.Bind(); err != nil {
		return err
	}
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer l.close()

	slog.Info("control listener started", "addr", conn.LocalAddr().String())
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				slog.Debug("control listener stopped")
				return nil
			}
			slog.Debug("control read failed", "err", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		slog.Debug("control datagram", "from", from.String(), "bytes", n)
		l.handler.HandleDatagram(ctx, append([]byte(nil), buf[:n]...))
	}
}

func (l *Listener) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
}
