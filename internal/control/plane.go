// Package control implements the remote control plane: a UDP listener that
// accepts pause/resume, named-trigger and raw-command datagrams, and a
// notifier that announces local matches to a peer.
//
// The plane never executes anything itself. Pause and resume flip the shared
// [RunState]; trigger and command requests become [Injection] values on a
// bounded channel that the orchestrator drains. Nothing is ever sent back to
// the originator of a datagram.
package control

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrWong99/voxtrigger/internal/dispatch"
	"github.com/MrWong99/voxtrigger/internal/observe"
	"github.com/MrWong99/voxtrigger/internal/trigger"
)

var (
	// ErrUnknownPhrase is returned by Handle for a trigger not in the table.
	ErrUnknownPhrase = errors.New("control: unknown trigger phrase")

	// ErrInjectionsFull is returned by Handle when the injection channel is
	// full and the request was dropped.
	ErrInjectionsFull = errors.New("control: injection queue full")
)

// DefaultInjectionBuffer is the capacity of the injection channel.
const DefaultInjectionBuffer = 16

// Injection is a dispatch request from the control plane.
type Injection struct {
	Origin  dispatch.Origin
	Phrase  string
	Command string
}

// PlaneOption configures a [Plane].
type PlaneOption func(*Plane)

// WithInjectionBuffer sets the injection channel capacity.
func WithInjectionBuffer(n int) PlaneOption {
	return func(p *Plane) { p.buffer = n }
}

// WithPlaneMetrics records control metrics on m instead of
// [observe.DefaultMetrics].
func WithPlaneMetrics(m *observe.Metrics) PlaneOption {
	return func(p *Plane) { p.metrics = m }
}

// Plane applies control messages to the run state and queues injections.
type Plane struct {
	state   *RunState
	table   *trigger.Table
	token   string
	buffer  int
	metrics *observe.Metrics

	injections chan Injection
}

// NewPlane returns a Plane that authenticates datagrams with token (empty
// disables authentication) and resolves triggers against table.
func NewPlane(state *RunState, table *trigger.Table, token string, opts ...PlaneOption) *Plane {
	p := &Plane{
		state:  state,
		table:  table,
		token:  token,
		buffer: DefaultInjectionBuffer,
	}
	for _, o := range opts {
		o(p)
	}
	if p.buffer <= 0 {
		p.buffer = DefaultInjectionBuffer
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	p.injections = make(chan Injection, p.buffer)
	return p
}

// Injections delivers queued dispatch requests in arrival order.
func (p *Plane) Injections() <-chan Injection { return p.injections }

// HandleDatagram parses raw and applies it. Unauthorised and malformed
// datagrams are dropped with a debug log; nothing is returned to the sender.
func (p *Plane) HandleDatagram(ctx context.Context, raw []byte) {
	msg, err := Parse(raw, p.token)
	if err != nil {
		status := "malformed"
		if errors.Is(err, ErrUnauthorized) {
			status = "unauthorized"
		}
		slog.Debug("control datagram dropped", "reason", status, "bytes", len(raw))
		p.metrics.RecordControlMessage(ctx, "unknown", status)
		return
	}
	if err := p.Handle(ctx, msg); err != nil {
		slog.Debug("control message not applied", "kind", msg.Kind.String(), "err", err)
	}
}

// Handle applies msg. Pause and resume only change the run state. A trigger
// is queued whatever the pause state, provided its phrase is in the table. A
// command is queued only while remote commands are allowed.
func (p *Plane) Handle(ctx context.Context, msg Message) error {
	kind := msg.Kind.String()
	switch msg.Kind {
	case KindPause, KindResume:
		paused := msg.Kind == KindPause
		if p.state.SetPaused(paused) {
			slog.Info("listening state changed", "paused", paused)
		}
		p.metrics.RecordControlMessage(ctx, kind, "ok")
		return nil

	case KindTrigger:
		cmd, ok := p.table.Lookup(msg.Arg)
		if !ok {
			slog.Info("remote trigger not found", "phrase", msg.Arg)
			p.metrics.RecordControlMessage(ctx, kind, "unknown_phrase")
			return ErrUnknownPhrase
		}
		return p.inject(ctx, kind, Injection{
			Origin:  dispatch.OriginRemoteTrigger,
			Phrase:  trigger.Normalize(msg.Arg),
			Command: cmd,
		})

	case KindCommand:
		if !p.state.AllowRemoteCommands() {
			slog.Warn("remote command refused, remote commands are disabled", "command", msg.Arg)
			p.metrics.RecordControlMessage(ctx, kind, "denied")
			return dispatch.ErrRemoteCommandDenied
		}
		return p.inject(ctx, kind, Injection{
			Origin:  dispatch.OriginRemoteCommand,
			Command: msg.Arg,
		})
	}
	p.metrics.RecordControlMessage(ctx, kind, "malformed")
	return ErrMalformed
}

func (p *Plane) inject(ctx context.Context, kind string, in Injection) error {
	select {
	case p.injections <- in:
		p.metrics.RecordControlMessage(ctx, kind, "ok")
		return nil
	default:
		slog.Warn("injection queue full, dropping request", "kind", kind, "command", in.Command)
		p.metrics.RecordControlMessage(ctx, kind, "dropped")
		return ErrInjectionsFull
	}
}
