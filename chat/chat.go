// Package chat implements the conversational session pipeline: it loads
// history, accepts user input, runs the optimistic update, invokes the
// active completion provider and reconciles the in-memory message list
// against the store's insert-event stream.
package chat

import (
	"context"

	"github.com/pkg/errors"

	"github.com/parleychat/parley/ai"
	"github.com/parleychat/parley/store"
)

// Mode selects the active completion provider.
type Mode string

const (
	// ModeOnline routes completions to the remote provider.
	ModeOnline Mode = "online"
	// ModeOffline routes completions to the local provider.
	ModeOffline Mode = "offline"
)

// ParseMode normalizes a persisted mode string, defaulting to online.
func ParseMode(s string) Mode {
	if Mode(s) == ModeOffline {
		return ModeOffline
	}
	return ModeOnline
}

// State is the lifecycle state of a session.
type State string

const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StateReady     State = "ready"
	StateSending   State = "sending"
	StateResetting State = "resetting"
	StateClosed    State = "closed"
)

// Sub-states of an in-flight send, tracked for logging only.
const (
	phaseUserPersisted      = "user_persisted"
	phaseAwaitingCompletion = "awaiting_completion"
)

var (
	// ErrBusy rejects a Send while another is in flight. Sends are
	// serialized, never queued.
	ErrBusy = errors.New("a send is already in flight")
	// ErrEmptyInput rejects a Send with neither text nor images.
	ErrEmptyInput = errors.New("nothing to send")
	// ErrNotReady rejects operations outside the Ready state.
	ErrNotReady = errors.New("session is not ready")
	// ErrClosed rejects operations after teardown.
	ErrClosed = errors.New("session is closed")
	// ErrLocalUnavailable rejects offline operation while the availability
	// monitor reports the local provider unreachable.
	ErrLocalUnavailable = errors.New("local provider is unavailable")
)

// Message is a rendered view of one entry in the session's message list.
type Message struct {
	// UID is the store identity; empty while the message is only a local
	// placeholder.
	UID string
	// LocalID is the client-generated key that survives the replacement of
	// a placeholder by its authoritative record.
	LocalID   string
	Role      store.Role
	Text      string
	Images    []string
	Model     string
	CreatedTs int64
	Pending   bool
	Thinking  bool
}

// LocalProvider is the contract of the offline-capable provider: a
// completion provider that can also enumerate its installed models and
// switch the selected one at runtime.
type LocalProvider interface {
	ai.Provider
	ListModels(ctx context.Context) ([]string, error)
	SetModel(model string)
}

// selectProvider resolves the active provider as a pure function of the
// mode; availability gating happens before this point.
func selectProvider(mode Mode, remote ai.Provider, local LocalProvider) ai.Provider {
	if mode == ModeOffline {
		return local
	}
	return remote
}
