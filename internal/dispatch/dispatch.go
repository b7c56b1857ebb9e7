// Package dispatch runs the command bound to a matched or injected trigger.
//
// The [Dispatcher] applies the remote-command policy and hands accepted
// commands to a [Runner]. Runners start the action and return immediately;
// the pipeline never waits for a command to finish, and a failing command is
// logged and forgotten.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/voxtrigger/internal/observe"
)

var (
	// ErrRemoteCommandDenied is returned for a [OriginRemoteCommand] dispatch
	// while remote commands are disabled.
	ErrRemoteCommandDenied = errors.New("dispatch: remote commands are disabled")

	// ErrEmptyCommand is returned for a blank command.
	ErrEmptyCommand = errors.New("dispatch: empty command")

	// ErrBusy is returned by [ShellRunner.Run] when the concurrency cap is
	// reached.
	ErrBusy = errors.New("dispatch: too many running actions")
)

// Origin says where a dispatch request came from.
type Origin int

const (
	// OriginLocalTrigger is a phrase matched from the microphone.
	OriginLocalTrigger Origin = iota

	// OriginRemoteTrigger is a TRIGGER control message.
	OriginRemoteTrigger

	// OriginRemoteCommand is a CMD control message carrying raw shell text.
	OriginRemoteCommand
)

func (o Origin) String() string {
	switch o {
	case OriginLocalTrigger:
		return "local"
	case OriginRemoteTrigger:
		return "remote_trigger"
	case OriginRemoteCommand:
		return "remote_command"
	default:
		return "unknown"
	}
}

// Runner starts a command without waiting for it.
type Runner interface {
	Run(ctx context.Context, command string) error
}

// Permissions reports whether raw remote commands may run. It is read on
// every dispatch so a policy change applies to the next request.
type Permissions interface {
	AllowRemoteCommands() bool
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithMetrics records dispatch metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher gates and starts trigger commands. It is safe for concurrent use.
type Dispatcher struct {
	runner  Runner
	perms   Permissions
	metrics *observe.Metrics
}

// New returns a Dispatcher that starts commands with runner and consults
// perms for remote commands.
func New(runner Runner, perms Permissions, opts ...Option) *Dispatcher {
	d := &Dispatcher{runner: runner, perms: perms}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Dispatch starts command on behalf of origin. Remote commands are refused
// with [ErrRemoteCommandDenied] unless permitted. Errors describe why the
// command did not start; they never reflect the command's exit status.
func (d *Dispatcher) Dispatch(ctx context.Context, command string, origin Origin) error {
	log := observe.Logger(ctx).With("origin", origin.String())

	if strings.TrimSpace(command) == "" {
		d.metrics.RecordTrigger(ctx, origin.String(), "empty")
		return ErrEmptyCommand
	}
	if origin == OriginRemoteCommand && !d.perms.AllowRemoteCommands() {
		log.Warn("remote command denied", "command", command)
		d.metrics.RecordTrigger(ctx, origin.String(), "denied")
		return ErrRemoteCommandDenied
	}

	if err := d.runner.Run(ctx, command); err != nil {
		status := "failed"
		if errors.Is(err, ErrBusy) {
			status = "busy"
		}
		log.Warn("action not started", "command", command, "err", err)
		d.metrics.RecordTrigger(ctx, origin.String(), status)
		return fmt.Errorf("dispatch %s: %w", origin, err)
	}
	log.Info("action started", "command", command)
	d.metrics.RecordTrigger(ctx, origin.String(), "ok")
	return nil
}
