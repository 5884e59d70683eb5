package content

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodePlainTextUnchanged(t *testing.T) {
	tests := []string{
		"",
		"hello",
		"multi\nline\ntext",
		`{"text": "looks structured but is plain user input"}`,
		"中文消息",
	}
	for _, text := range tests {
		assert.Equal(t, text, Encode(text, nil))
	}
}

func TestRoundTripNoImages(t *testing.T) {
	for _, text := range []string{"", "hello", "a longer message with spaces"} {
		rich := Decode(Encode(text, nil))
		assert.Equal(t, text, rich.Text)
		assert.Empty(t, rich.Images)
	}
}

func TestRoundTripWithImages(t *testing.T) {
	images := []string{
		"data:image/png;base64,aGVsbG8=",
		"data:image/jpeg;base64,d29ybGQ=",
	}
	encoded := Encode("look at these", images)
	require.NotEqual(t, "look at these", encoded)

	rich := Decode(encoded)
	assert.Equal(t, "look at these", rich.Text)
	assert.Equal(t, images, rich.Images, "image order must be preserved exactly")
}

func TestRoundTripEmptyTextWithImage(t *testing.T) {
	images := []string{"data:image/png;base64,aGVsbG8="}
	rich := Decode(Encode("", images))
	assert.Equal(t, "", rich.Text)
	assert.Equal(t, images, rich.Images)
}

func TestDecodeFallsBackToPlainText(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"plain text", "just a message"},
		{"not json", "{not valid json"},
		{"json without text field", `{"images": ["x"]}`},
		{"json array", `["a", "b"]`},
		{"empty string", ""},
		{"lone brace", "{"},
		{"json number object", `{"foo": 42}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rich := Decode(tt.input)
			assert.Equal(t, tt.input, rich.Text)
			assert.Empty(t, rich.Images)
		})
	}
}

func TestDecodeLegacyStructuredContent(t *testing.T) {
	// Hand-written envelope, the shape older rows were stored in.
	rich := Decode(`{"text":"hi","images":["data:image/png;base64,QQ=="]}`)
	assert.Equal(t, "hi", rich.Text)
	assert.Equal(t, []string{"data:image/png;base64,QQ=="}, rich.Images)
}

func TestEncodeDropsOversizedImages(t *testing.T) {
	big := "data:image/png;base64," + strings.Repeat("A", MaxImageBytes*4/3+1)
	small := "data:image/png;base64,aGVsbG8="

	rich := Decode(Encode("caption", []string{big, small}))
	assert.Equal(t, "caption", rich.Text)
	assert.Equal(t, []string{small}, rich.Images)

	// All attachments oversized: the message degrades to plain text.
	assert.Equal(t, "caption", Encode("caption", []string{big}))
}
