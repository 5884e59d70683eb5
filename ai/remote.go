package ai

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Remote provider request parameters. Fixed per the engine's policy; the
// knobs that matter (model, credential, endpoint) come from configuration.
const (
	remoteTemperature = 0.7
	remoteMaxTokens   = 2048
	remoteTimeout     = 120 * time.Second
)

// RemoteConfig configures the hosted completion client.
type RemoteConfig struct {
	APIKey  string
	BaseURL string        // optional, defaults to the OpenAI endpoint
	Model   string
	Timeout time.Duration // optional, defaults to remoteTimeout
}

// RemoteProvider talks to a hosted OpenAI-compatible completion endpoint.
type RemoteProvider struct {
	client  *openai.Client
	apiKey  string
	model   string
	timeout time.Duration
}

var _ Provider = (*RemoteProvider)(nil)

// NewRemoteProvider creates the remote client. A missing credential is not
// an error here: it is reported per call, before any network traffic.
func NewRemoteProvider(cfg RemoteConfig) *RemoteProvider {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = remoteTimeout
	}
	return &RemoteProvider{
		client:  openai.NewClientWithConfig(clientConfig),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		timeout: timeout,
	}
}

func (p *RemoteProvider) Kind() Kind {
	return KindRemote
}

func (p *RemoteProvider) Model() string {
	return p.model
}

// Complete sends the trailing history window upstream. When images are
// present and the model accepts multimodal input, only the final message
// is reshaped into a multimodal payload; all preceding turns stay
// text-only.
func (p *RemoteProvider) Complete(ctx context.Context, history []Turn, images []string) (string, error) {
	if p.apiKey == "" {
		return "", newError(ErrMissingCredential, "remote provider credential is not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	window := trailingWindow(history)
	messages := make([]openai.ChatCompletionMessage, 0, len(window))
	for _, turn := range window {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    turn.Role,
			Content: turn.Text,
		})
	}

	if len(images) > 0 && len(messages) > 0 {
		if SupportsVision(KindRemote, p.model) {
			last := len(messages) - 1
			messages[last] = multimodalMessage(messages[last].Role, messages[last].Content, images)
		} else {
			slog.Debug("model lacks vision support, dropping images", "model", p.model, "count", len(images))
		}
	}

	slog.Debug("remote completion request", "model", p.model, "messages", len(messages))

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: remoteTemperature,
		MaxTokens:   remoteMaxTokens,
	})
	if err != nil {
		return "", remoteCallError(err)
	}
	if len(resp.Choices) == 0 {
		return "", newError(ErrInvalidResponse, "remote provider returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// multimodalMessage reshapes one turn into a text part followed by one
// image part per attachment, in order.
func multimodalMessage(role, text string, images []string) openai.ChatCompletionMessage {
	parts := make([]openai.ChatMessagePart, 0, len(images)+1)
	parts = append(parts, openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeText,
		Text: text,
	})
	for _, img := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL: img,
			},
		})
	}
	return openai.ChatCompletionMessage{Role: role, MultiContent: parts}
}

// remoteCallError surfaces the upstream error message when the API sent
// one, else a generic status-coded transport error.
func remoteCallError(err error) *ProviderError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return wrapError(ErrTransport, err, "remote provider error: %s", apiErr.Message)
		}
		return wrapError(ErrTransport, err, "remote provider returned status %d", apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return wrapError(ErrTransport, err, "remote provider returned status %d", reqErr.HTTPStatusCode)
	}
	return wrapError(ErrTransport, err, "remote provider request failed")
}
