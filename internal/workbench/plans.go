package workbench

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rahul/planbench/internal/api"
	"github.com/rahul/planbench/internal/plan"
)

var (
	ErrInvalidName = errors.New("plan name is empty")
	ErrPlanExists  = errors.New("a plan with that name already exists")
	ErrUnknownPlan = errors.New("no saved plan with that name")
)

// SaveMode is the explicit choice between creating and overwriting.
type SaveMode string

const (
	SaveNew       SaveMode = "new"
	SaveOverwrite SaveMode = "overwrite"
)

var whitespace = regexp.MustCompile(`\s+`)

// SanitizeName trims a plan name and turns inner whitespace into
// underscores: "My Plan" becomes "My_Plan".
func SanitizeName(name string) string {
	return whitespace.ReplaceAllString(strings.TrimSpace(name), "_")
}

// Plans lists saved plans.
func (w *Workbench) Plans(ctx context.Context) ([]api.SavedPlan, error) {
	return w.backend.GetAllPlans(ctx)
}

// SavePlan stores the displayed plan by name and returns the stored name.
// SaveNew rejects names that already exist; SaveOverwrite requires one.
// The check is advisory: the service has the final word.
func (w *Workbench) SavePlan(ctx context.Context, mode SaveMode, name string) (string, error) {
	p, ok := w.ActivePlan()
	if !ok {
		return "", ErrNoActivePlan
	}

	existing, err := w.backend.GetAllPlans(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list plans: %w", err)
	}
	names := make(map[string]bool, len(existing))
	for _, sp := range existing {
		names[sp.PlanName] = true
	}

	switch mode {
	case SaveNew:
		name = SanitizeName(name)
		if name == "" {
			return "", ErrInvalidName
		}
		if names[name] {
			return "", fmt.Errorf("%w: %s", ErrPlanExists, name)
		}
	case SaveOverwrite:
		if !names[name] {
			return "", fmt.Errorf("%w: %s", ErrUnknownPlan, name)
		}
	default:
		return "", fmt.Errorf("unknown save mode %q", mode)
	}

	if err := w.backend.SavePlan(ctx, name, p); err != nil {
		return "", fmt.Errorf("failed to save plan %s: %w", name, err)
	}
	w.logger.LogPlanSaved(name, plan.Count(p.Steps))
	return name, nil
}

// LoadPlan switches to saved-plan mode and displays the named plan. The
// conversation context is cleared.
func (w *Workbench) LoadPlan(ctx context.Context, name string) (plan.Plan, error) {
	sp, err := w.backend.GetPlan(ctx, name)
	if err != nil {
		return plan.Plan{}, fmt.Errorf("failed to load plan %s: %w", name, err)
	}

	w.mu.Lock()
	w.startConversationLocked()
	w.mode = ModeSavedPlan
	w.planName = sp.PlanName
	notify := w.setPlanLocked(sp.RawPlan)
	w.mu.Unlock()
	notify()
	return sp.RawPlan, nil
}

// DeletePlan removes a saved plan. If it is the one displayed, the
// workbench falls back to a new conversation.
func (w *Workbench) DeletePlan(ctx context.Context, name string) error {
	if err := w.backend.DeletePlan(ctx, name); err != nil {
		return fmt.Errorf("failed to delete plan %s: %w", name, err)
	}
	w.logger.LogPlanDeleted(name)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mode == ModeSavedPlan && w.planName == name {
		w.startConversationLocked()
	}
	return nil
}
