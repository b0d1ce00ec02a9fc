package providers

import "sort"

// DefaultPrompt asks the model for a complete technical transcription.
const DefaultPrompt = "请详细描述这张图片中的技术内容，包括图表、表格、文字和技术参数，并且不要遗漏任何一个字或者一处内容。"

// Prompt presets for engineering documents.
var promptPresets = map[string]string{
	"general":       "请详细描述这张图片中的技术内容，包括图表、表格、文字和技术参数。",
	"table":         "请提取图片中的表格数据，包括标题、行列信息和具体数值。",
	"diagram":       "请描述图片中的技术图表，包括流程、结构和关键要素。",
	"specification": "请提取图片中的技术规格和参数信息。",
}

// PromptPreset returns the preset prompt registered under name.
func PromptPreset(name string) (string, bool) {
	p, ok := promptPresets[name]
	return p, ok
}

// PromptPresets lists preset names, sorted.
func PromptPresets() []string {
	names := make([]string, 0, len(promptPresets))
	for name := range promptPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolvePrompt maps a preset name to its text. Any other non-empty value is
// treated as a literal prompt; empty falls back to DefaultPrompt.
func ResolvePrompt(v string) string {
	if v == "" {
		return DefaultPrompt
	}
	if p, ok := promptPresets[v]; ok {
		return p
	}
	return v
}
