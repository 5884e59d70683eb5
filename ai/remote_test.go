package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCompletions is an OpenAI-compatible endpoint double.
type fakeCompletions struct {
	reply    string
	status   int
	errBody  string
	lastBody map[string]any
	calls    int
}

func (f *fakeCompletions) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		f.calls++
		require.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastBody))
		if f.status != 0 {
			w.WriteHeader(f.status)
			fmt.Fprint(w, f.errBody)
			return
		}
		fmt.Fprintf(w, `{"id":"cmpl-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":%q}}]}`, f.reply)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestRemote(t *testing.T, f *fakeCompletions, model string) *RemoteProvider {
	t.Helper()
	return NewRemoteProvider(RemoteConfig{
		APIKey:  "test-key",
		BaseURL: f.server(t).URL + "/v1",
		Model:   model,
	})
}

func (f *fakeCompletions) messages(t *testing.T) []map[string]any {
	t.Helper()
	raw, ok := f.lastBody["messages"].([]any)
	require.True(t, ok)
	out := make([]map[string]any, 0, len(raw))
	for _, m := range raw {
		out = append(out, m.(map[string]any))
	}
	return out
}

func TestRemoteMissingCredential(t *testing.T) {
	f := &fakeCompletions{reply: "hi"}
	p := NewRemoteProvider(RemoteConfig{BaseURL: f.server(t).URL + "/v1", Model: "gpt-4o"})

	_, err := p.Complete(context.Background(), []Turn{{Role: "user", Text: "hello"}}, nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrMissingCredential))
	assert.Zero(t, f.calls, "a configuration error is raised before any network call")
}

func TestRemoteComplete(t *testing.T) {
	f := &fakeCompletions{reply: "Hi there"}
	p := newTestRemote(t, f, "gpt-4o")

	reply, err := p.Complete(context.Background(), []Turn{{Role: "user", Text: "Hello"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hi there", reply)

	assert.Equal(t, "gpt-4o", f.lastBody["model"])
	assert.InDelta(t, remoteTemperature, f.lastBody["temperature"].(float64), 0.001)
	assert.EqualValues(t, remoteMaxTokens, f.lastBody["max_tokens"].(float64))

	msgs := f.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0]["role"])
	assert.Equal(t, "Hello", msgs[0]["content"])
}

func TestRemoteHistoryWindow(t *testing.T) {
	f := &fakeCompletions{reply: "ok"}
	p := newTestRemote(t, f, "gpt-4o")

	history := make([]Turn, 0, 14)
	for i := 0; i < 14; i++ {
		history = append(history, Turn{Role: "user", Text: fmt.Sprintf("turn %d", i)})
	}
	_, err := p.Complete(context.Background(), history, nil)
	require.NoError(t, err)

	msgs := f.messages(t)
	require.Len(t, msgs, 10)
	assert.Equal(t, "turn 4", msgs[0]["content"])
	assert.Equal(t, "turn 13", msgs[9]["content"])
}

func TestRemoteMultimodalFinalMessageOnly(t *testing.T) {
	f := &fakeCompletions{reply: "a dog"}
	p := newTestRemote(t, f, "gpt-4o")

	images := []string{
		"data:image/png;base64,aGVsbG8=",
		"data:image/jpeg;base64,d29ybGQ=",
	}
	_, err := p.Complete(context.Background(), []Turn{
		{Role: "user", Text: "earlier"},
		{Role: "assistant", Text: "noted"},
		{Role: "user", Text: "what breed?"},
	}, images)
	require.NoError(t, err)

	msgs := f.messages(t)
	require.Len(t, msgs, 3)
	assert.Equal(t, "earlier", msgs[0]["content"], "preceding messages stay text-only")
	assert.Equal(t, "noted", msgs[1]["content"])

	parts, ok := msgs[2]["content"].([]any)
	require.True(t, ok, "final message is reshaped into parts")
	require.Len(t, parts, 3, "one text part plus one part per image")

	text := parts[0].(map[string]any)
	assert.Equal(t, "text", text["type"])
	assert.Equal(t, "what breed?", text["text"])

	for i, img := range images {
		part := parts[i+1].(map[string]any)
		assert.Equal(t, "image_url", part["type"])
		assert.Equal(t, img, part["image_url"].(map[string]any)["url"])
	}
}

func TestRemoteDropsImagesWithoutVisionSupport(t *testing.T) {
	f := &fakeCompletions{reply: "ok"}
	p := newTestRemote(t, f, "gpt-3.5-turbo")

	_, err := p.Complete(context.Background(), []Turn{{Role: "user", Text: "see this?"}},
		[]string{"data:image/png;base64,aGVsbG8="})
	require.NoError(t, err)

	msgs := f.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "see this?", msgs[0]["content"], "images silently dropped, call still succeeds")
}

func TestRemoteConfiguredTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	p := NewRemoteProvider(RemoteConfig{
		APIKey:  "k",
		BaseURL: server.URL + "/v1",
		Model:   "gpt-4o",
		Timeout: 50 * time.Millisecond,
	})

	start := time.Now()
	_, err := p.Complete(context.Background(), []Turn{{Role: "user", Text: "hello"}}, nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrTransport))
	assert.Less(t, time.Since(start), time.Second, "the configured timeout bounds the call")
}

func TestRemoteSurfacesUpstreamErrorMessage(t *testing.T) {
	f := &fakeCompletions{
		status:  http.StatusTooManyRequests,
		errBody: `{"error":{"message":"quota exceeded","type":"insufficient_quota"}}`,
	}
	p := newTestRemote(t, f, "gpt-4o")

	_, err := p.Complete(context.Background(), []Turn{{Role: "user", Text: "hello"}}, nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrTransport))
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestRemoteEmptyChoices(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"id":"cmpl-1","object":"chat.completion","choices":[]}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	p := NewRemoteProvider(RemoteConfig{APIKey: "k", BaseURL: server.URL + "/v1", Model: "gpt-4o"})

	_, err := p.Complete(context.Background(), []Turn{{Role: "user", Text: "hello"}}, nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrInvalidResponse))
}
