package planner

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPromptManager_BuiltIn(t *testing.T) {
	pm := NewPromptManager("")

	prompt, err := pm.GetPlannerPrompt()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(prompt, "# Identity") || !strings.Contains(prompt, "propose_plan") {
		t.Errorf("planner prompt incomplete:\n%s", prompt)
	}
	if strings.Contains(prompt, "# Editing a step") {
		t.Error("planner prompt should not include the edit prompt")
	}

	edit, err := pm.GetEditPrompt()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(edit, "# Editing a step") || strings.Contains(edit, "# Planning") {
		t.Errorf("edit prompt has the wrong role section:\n%s", edit)
	}
}

func TestPromptManager_OverridesAndOrder(t *testing.T) {
	tempDir := t.TempDir()

	files := map[string]string{
		"identity.md":    "Identity Content",
		"plan_format.md": "Format Content",
		"zz_site.md":     "Site Content",
		"planner.md":     "Planner Content",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(tempDir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	pm := NewPromptManager(tempDir)
	prompt, err := pm.GetPlannerPrompt()
	if err != nil {
		t.Fatal(err)
	}

	for _, part := range []string{"Identity Content", "Format Content", "Site Content", "Planner Content"} {
		if !strings.Contains(prompt, part) {
			t.Errorf("Prompt missing expected part: %s", part)
		}
	}
	if strings.Contains(prompt, "# Identity") {
		t.Error("built-in identity should be overridden")
	}

	// Verify order
	if strings.Index(prompt, "Identity Content") >= strings.Index(prompt, "Format Content") {
		t.Error("Identity should be before Format")
	}
	if strings.Index(prompt, "Format Content") >= strings.Index(prompt, "Site Content") {
		t.Error("Format should be before extra files")
	}
	if strings.Index(prompt, "Site Content") >= strings.Index(prompt, "Planner Content") {
		t.Error("Role prompt should come last")
	}
}
