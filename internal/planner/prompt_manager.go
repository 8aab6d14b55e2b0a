package planner

import (
	"embed"
	"fmt"
	"io/fs"
	"log"
	"os"
	"sort"
	"strings"
)

//go:embed prompts/*.md
var builtin embed.FS

const (
	plannerFile = "planner.md"
	editFile    = "edit_step.md"
)

// PromptManager assembles system prompts from markdown files. Files in
// Directory override the built-in prompts of the same name.
type PromptManager struct {
	Directory string
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{Directory: dir}
}

// GetPlannerPrompt returns the system prompt for chat turns.
func (pm *PromptManager) GetPlannerPrompt() (string, error) {
	return pm.compose(plannerFile)
}

// GetEditPrompt returns the system prompt for step edits.
func (pm *PromptManager) GetEditPrompt() (string, error) {
	return pm.compose(editFile)
}

// compose joins the shared prompt files with the role file. Shared files
// are every .md except the role files: identity.md and plan_format.md
// first, the rest by name.
func (pm *PromptManager) compose(role string) (string, error) {
	files := pm.files()

	order := map[string]int{
		"identity.md":    1,
		"plan_format.md": 2,
	}

	var shared []string
	for name := range files {
		if name == plannerFile || name == editFile {
			continue
		}
		shared = append(shared, name)
	}
	sort.Slice(shared, func(i, j int) bool {
		oi, okI := order[shared[i]]
		oj, okJ := order[shared[j]]
		if okI && okJ {
			return oi < oj
		}
		if okI {
			return true
		}
		if okJ {
			return false
		}
		return shared[i] < shared[j]
	})

	roleText, ok := files[role]
	if !ok {
		return "", fmt.Errorf("no %s prompt found", role)
	}

	var contents []string
	for _, name := range shared {
		contents = append(contents, files[name])
	}
	contents = append(contents, roleText)
	return strings.Join(contents, "\n\n---\n\n"), nil
}

// files returns name to content for every prompt file, overrides applied.
func (pm *PromptManager) files() map[string]string {
	out := make(map[string]string)
	readAll(builtin, "prompts", out)
	if pm.Directory != "" {
		if _, err := os.Stat(pm.Directory); err == nil {
			readAll(os.DirFS(pm.Directory), ".", out)
		} else {
			log.Printf("Warning: prompts directory %s not readable, using built-in prompts: %v", pm.Directory, err)
		}
	}
	return out
}

func readAll(fsys fs.FS, dir string, out map[string]string) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		log.Printf("Warning: Failed to read prompts from %s: %v", dir, err)
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := fs.ReadFile(fsys, strings.TrimPrefix(dir+"/"+e.Name(), "./"))
		if err != nil {
			log.Printf("Warning: Failed to read prompt file %s: %v", e.Name(), err)
			continue
		}
		out[e.Name()] = string(data)
	}
}
