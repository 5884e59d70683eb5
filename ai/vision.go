package ai

import "strings"

// Static allow-lists of model families known to accept multimodal input.
// Matching is substring based to tolerate versioned model names such as
// "gpt-4o-2024-11-20" or "llava:13b".
var (
	remoteVisionFamilies = []string{
		"gpt-4o",
		"gpt-4-turbo",
		"gpt-4.1",
		"gpt-5",
		"chatgpt-4o",
		"o1",
		"o3",
	}

	localVisionFamilies = []string{
		"llava",
		"bakllava",
		"llama3.2-vision",
		"minicpm-v",
		"moondream",
		"qwen2.5vl",
		"gemma3",
	}
)

// SupportsVision reports whether the given provider/model pair accepts
// multimodal input. Callers consult this before attaching images; when
// unsupported, images are dropped for that call rather than failing it.
func SupportsVision(kind Kind, model string) bool {
	families := remoteVisionFamilies
	if kind == KindLocal {
		families = localVisionFamilies
	}
	model = strings.ToLower(model)
	for _, family := range families {
		if strings.Contains(model, family) {
			return true
		}
	}
	return false
}
