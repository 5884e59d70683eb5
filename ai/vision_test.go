package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSupportsVision(t *testing.T) {
	tests := []struct {
		name  string
		kind  Kind
		model string
		want  bool
	}{
		{"remote gpt-4o", KindRemote, "gpt-4o", true},
		{"remote versioned gpt-4o", KindRemote, "gpt-4o-2024-11-20", true},
		{"remote gpt-4o mini", KindRemote, "gpt-4o-mini", true},
		{"remote o1", KindRemote, "o1-preview", true},
		{"remote uppercase", KindRemote, "GPT-4o", true},
		{"remote text-only", KindRemote, "gpt-3.5-turbo", false},
		{"remote empty", KindRemote, "", false},
		{"local llava", KindLocal, "llava", true},
		{"local llava tagged", KindLocal, "llava:13b", true},
		{"local llama vision", KindLocal, "llama3.2-vision:11b", true},
		{"local text-only", KindLocal, "llama3.1", false},
		{"local remote family not local", KindLocal, "gpt-4o", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SupportsVision(tt.kind, tt.model))
		})
	}
}
