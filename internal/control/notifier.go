package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/MrWong99/voxtrigger/internal/resilience"
)

// Notifier announces local trigger matches to a peer as
// "[<token>:]TRIGGER:<phrase>" datagrams. Send failures are logged, never
// returned to the pipeline. After repeated failures the notifier stops
// trying for a while instead of logging every match.
type Notifier struct {
	addr    string
	token   string
	breaker *resilience.CircuitBreaker

	mu   sync.Mutex
	conn net.Conn
}

// NewNotifier returns a Notifier sending to addr ("host:port").
func NewNotifier(addr, token string) *Notifier {
	return &Notifier{
		addr:  addr,
		token: token,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:        "udp-notify " + addr,
			MaxFailures: 3,
			OpenFor:     30 * time.Second,
		}),
	}
}

// NotifyTrigger sends a TRIGGER datagram for phrase.
func (n *Notifier) NotifyTrigger(ctx context.Context, phrase string) {
	payload := Message{Kind: KindTrigger, Arg: phrase}.Encode(n.token)
	err := n.breaker.Execute(func() error { return n.send(ctx, payload) })
	switch {
	case err == nil:
		slog.Debug("trigger announced", "addr", n.addr, "phrase", phrase)
	case errors.Is(err, resilience.ErrCircuitOpen):
		slog.Debug("trigger announcement skipped, peer unreachable", "addr", n.addr)
	default:
		slog.Warn("trigger announcement failed", "addr", n.addr, "err", err)
	}
}

func (n *Notifier) send(ctx context.Context, payload []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "udp", n.addr)
		if err != nil {
			return fmt.Errorf("dial %s: %w", n.addr, err)
		}
		n.conn = conn
	}
	if _, err := n.conn.Write(payload); err != nil {
		// A connected UDP socket can carry a stale ICMP error; redial next time.
		n.conn.Close()
		n.conn = nil
		return fmt.Errorf("send to %s: %w", n.addr, err)
	}
	return nil
}

// Close releases the socket.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return nil
	}
	err := n.conn.Close()
	n.conn = nil
	return err
}
