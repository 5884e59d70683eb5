package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultLocalBaseURL is the fixed Ollama endpoint. The explicit IPv4
// address avoids IPv6 resolution issues with "localhost" on some hosts.
const DefaultLocalBaseURL = "http://127.0.0.1:11434"

const localTimeout = 120 * time.Second

// LocalConfig configures the local completion client.
type LocalConfig struct {
	BaseURL string
	Model   string // preferred model; substituted when not installed
	Timeout time.Duration
}

// LocalProvider talks to a locally hosted Ollama instance. The selected
// model may be swapped at runtime when the availability monitor discovers
// the preferred one is gone.
type LocalProvider struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	model string
}

var _ Provider = (*LocalProvider)(nil)

// NewLocalProvider creates the local client.
func NewLocalProvider(cfg LocalConfig) *LocalProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultLocalBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = localTimeout
	}
	return &LocalProvider{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		model:      cfg.Model,
	}
}

func (p *LocalProvider) Kind() Kind {
	return KindLocal
}

func (p *LocalProvider) Model() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model
}

// SetModel replaces the preferred model. Called by the session when a
// probe reports the current one is no longer installed.
func (p *LocalProvider) SetModel(model string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.model = model
}

type listModelsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels queries the installed models, fresh on every call.
func (p *LocalProvider) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, wrapError(ErrTransport, err, "failed to create request")
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, wrapError(ErrTransport, err, "local provider unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newError(ErrTransport, "local provider returned status %d listing models", resp.StatusCode)
	}

	var result listModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, wrapError(ErrInvalidResponse, err, "failed to decode model list")
	}

	models := make([]string, 0, len(result.Models))
	for _, m := range result.Models {
		models = append(models, m.Name)
	}
	return models, nil
}

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Message *struct {
		Content string `json:"content"`
	} `json:"message"`
}

// Complete sends the trailing history window to the local chat endpoint.
// The requested model is re-validated against the installed models first;
// a missing preferred model is substituted with the first installed one
// rather than failing, as long as any model exists. Images are attached to
// the final message only when the validated model has vision support,
// otherwise they are omitted entirely: this path degrades to text-only
// instead of failing on unsupported images.
func (p *LocalProvider) Complete(ctx context.Context, history []Turn, images []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.httpClient.Timeout)
	defer cancel()

	installed, err := p.ListModels(ctx)
	if err != nil {
		return "", err
	}
	if len(installed) == 0 {
		return "", newError(ErrNoModelsAvailable, "no models installed on local provider")
	}

	model := p.Model()
	if !containsModel(installed, model) {
		slog.Info("preferred local model not installed, substituting", "preferred", model, "substitute", installed[0])
		model = installed[0]
	}

	window := trailingWindow(history)
	messages := make([]chatMessage, 0, len(window))
	for _, turn := range window {
		messages = append(messages, chatMessage{Role: turn.Role, Content: turn.Text})
	}

	if len(images) > 0 && len(messages) > 0 && SupportsVision(KindLocal, model) {
		payloads := make([]string, 0, len(images))
		for _, img := range images {
			payloads = append(payloads, imagePayload(img))
		}
		messages[len(messages)-1].Images = payloads
	}

	body, err := json.Marshal(&chatRequest{Model: model, Messages: messages, Stream: false})
	if err != nil {
		return "", wrapError(ErrInvalidResponse, err, "failed to marshal chat request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", wrapError(ErrTransport, err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", wrapError(ErrTransport, err, "local provider unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", newError(ErrTransport, "local provider returned status %d", resp.StatusCode)
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", wrapError(ErrInvalidResponse, err, "failed to decode chat response")
	}
	if result.Message == nil {
		return "", newError(ErrInvalidResponse, "local provider response has no message")
	}
	return result.Message.Content, nil
}

func containsModel(models []string, model string) bool {
	for _, m := range models {
		if m == model {
			return true
		}
	}
	return false
}

// imagePayload strips a data-URL prefix down to the bare base64 payload
// the local chat endpoint expects.
func imagePayload(img string) string {
	if idx := strings.Index(img, "base64,"); idx >= 0 {
		return img[idx+len("base64,"):]
	}
	return img
}
