// Package ai implements the completion provider abstraction: a remote
// OpenAI-compatible client, a local Ollama client, the vision capability
// registry and the local availability monitor.
package ai

import "context"

// Kind identifies a completion provider family.
type Kind string

const (
	KindRemote Kind = "remote"
	KindLocal  Kind = "local"
)

// Turn is one plain-text conversation turn handed to a provider. Images
// never travel in history turns; only the current turn's images are
// forwarded, separately, per call.
type Turn struct {
	Role string
	Text string
}

// Provider is the uniform completion contract both clients implement.
// Complete returns the assistant's reply text, or a *ProviderError.
type Provider interface {
	Complete(ctx context.Context, history []Turn, images []string) (string, error)
	Kind() Kind
	Model() string
}

// Descriptor describes the provider/model pair a session resolved for the
// current turn. It is transient and recomputed from live probing plus the
// static capability lists; it is never persisted.
type Descriptor struct {
	Kind           Kind
	Model          string
	SupportsVision bool
}

// Describe builds the descriptor for a provider.
func Describe(p Provider) Descriptor {
	return Descriptor{
		Kind:           p.Kind(),
		Model:          p.Model(),
		SupportsVision: SupportsVision(p.Kind(), p.Model()),
	}
}

// historyWindow caps the context sent upstream to the most recent turns.
// This bounds request size and latency and is a fixed policy, not a knob.
const historyWindow = 10

// trailingWindow returns at most the last historyWindow turns.
func trailingWindow(history []Turn) []Turn {
	if len(history) <= historyWindow {
		return history
	}
	return history[len(history)-historyWindow:]
}
