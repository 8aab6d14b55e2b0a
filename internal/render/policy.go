package render

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Mode is how a single tool input is shown in the detail tier.
type Mode string

const (
	ModePlain    Mode = "plain"
	ModeBadge    Mode = "badge"
	ModeLink     Mode = "link"
	ModeTruncate Mode = "truncate"
	ModePrompt   Mode = "prompt"
)

// AnyTool is the tool key whose field modes apply to every tool without
// a more specific entry.
const AnyTool = "*"

// Policies maps tool name -> input field -> display mode.
type Policies map[string]map[string]Mode

// DefaultPolicies covers the built-in clinical text tools.
func DefaultPolicies() Policies {
	return Policies{
		AnyTool: {
			"prompt":  ModePrompt,
			"dataset": ModeBadge,
		},
		"keyword_count": {
			"text":     ModeTruncate,
			"keywords": ModeBadge,
		},
		"llm_extract": {
			"text":   ModeTruncate,
			"schema": ModeLink,
		},
		"note_search": {
			"query":     ModeTruncate,
			"note_type": ModeBadge,
		},
	}
}

// Lookup resolves the mode for (tool, field), falling back to the AnyTool
// entry and then to ModePlain.
func (p Policies) Lookup(tool, field string) Mode {
	if m, ok := p[tool][field]; ok {
		return m
	}
	if m, ok := p[AnyTool][field]; ok {
		return m
	}
	return ModePlain
}

// Merge overlays other on p; entries in other win.
func (p Policies) Merge(other Policies) Policies {
	out := make(Policies, len(p)+len(other))
	for _, src := range []Policies{p, other} {
		for tool, fields := range src {
			if out[tool] == nil {
				out[tool] = make(map[string]Mode, len(fields))
			}
			for field, mode := range fields {
				out[tool][field] = mode
			}
		}
	}
	return out
}

// LoadPolicies reads a YAML display-policy file of the form
//
//	keyword_count:
//	  text: truncate
func LoadPolicies(path string) (Policies, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read display policies: %w", err)
	}
	var p Policies
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode display policies: %w", err)
	}
	for tool, fields := range p {
		for field, mode := range fields {
			switch mode {
			case ModePlain, ModeBadge, ModeLink, ModeTruncate, ModePrompt:
			default:
				return nil, fmt.Errorf("unknown display mode %q for %s.%s", mode, tool, field)
			}
		}
	}
	return p, nil
}
