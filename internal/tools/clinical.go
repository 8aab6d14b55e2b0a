package tools

// Default returns a registry holding the clinical-text tools.
func Default() *Registry {
	r := NewRegistry()
	r.Register(KeywordCount{})
	r.Register(LLMExtract{})
	r.Register(NoteSearch{})
	return r
}

type KeywordCount struct{}

func (KeywordCount) Name() string { return "keyword_count" }

func (KeywordCount) Description() string {
	return "Count occurrences of one or more keywords in a clinical text."
}

func (KeywordCount) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{
				"type":        "string",
				"description": "The text or variable holding the note to scan.",
			},
			"keywords": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Keywords to count. Matching is case-insensitive.",
			},
		},
		"required": []string{"text", "keywords"},
	}
}

// LLMExtract runs a structured prompt against a text.
type LLMExtract struct{}

func (LLMExtract) Name() string { return "llm_extract" }

func (LLMExtract) Description() string {
	return "Extract structured information from a clinical text with a configurable LLM prompt (system prompt, user prompt template, few-shot examples)."
}

func (LLMExtract) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{
				"type":        "string",
				"description": "The text or variable holding the note to analyse.",
			},
			"prompt": map[string]any{
				"type":        "object",
				"description": "Structured prompt: system_prompt, user_prompt and optional examples of {input, output}.",
				"properties": map[string]any{
					"system_prompt": map[string]any{"type": "string"},
					"user_prompt":   map[string]any{"type": "string"},
					"examples": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"input":  map[string]any{"type": "string"},
								"output": map[string]any{"type": "string"},
							},
						},
					},
				},
			},
		},
		"required": []string{"text", "prompt"},
	}
}

type NoteSearch struct{}

func (NoteSearch) Name() string { return "note_search" }

func (NoteSearch) Description() string {
	return "Search the patient's clinical notes for the current encounter and return the matching notes."
}

func (NoteSearch) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Free-text query.",
			},
			"note_type": map[string]any{
				"type":        "string",
				"description": "Optional note type filter, e.g. 'progress' or 'discharge'.",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of notes to return. Default is 20.",
			},
		},
		"required": []string{"query"},
	}
}
