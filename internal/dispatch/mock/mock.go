// Package mock provides a recording [dispatch.Runner] and a fixed
// [dispatch.Permissions] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxtrigger/internal/dispatch"
)

var (
	_ dispatch.Runner      = (*Runner)(nil)
	_ dispatch.Permissions = Permissions(false)
)

// Runner records every command it is asked to run.
type Runner struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by Run.
	Err error

	// Commands records every Run call in order.
	Commands []string

	// Ran, if non-nil, receives each command as it is run. Sends do not
	// block; size the channel for the expected number of calls.
	Ran chan string
}

// Run records command.
func (r *Runner) Run(_ context.Context, command string) error {
	r.mu.Lock()
	r.Commands = append(r.Commands, command)
	ran, err := r.Ran, r.Err
	r.mu.Unlock()
	if ran != nil {
		select {
		case ran <- command:
		default:
		}
	}
	return err
}

// Calls returns a copy of the recorded commands.
func (r *Runner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.Commands...)
}

// Permissions is a constant remote-command policy.
type Permissions bool

// AllowRemoteCommands returns the constant.
func (p Permissions) AllowRemoteCommands() bool { return bool(p) }
