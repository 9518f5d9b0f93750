package form

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/page"
)

// StepStatus classifies what clicking the chosen action control means.
type StepStatus string

const (
	StepSubmitted   StepStatus = "submitted"
	StepPreview     StepStatus = "preview"
	StepNext        StepStatus = "next"
	StepModalClosed StepStatus = "modal-closed"
	StepError       StepStatus = "error"
)

// Action is a class of form control, ordered by priority.
type Action int

const (
	ActionSubmit Action = iota
	ActionReview
	ActionNext
	ActionDismiss
)

var actionKeywords = [...][]string{
	ActionSubmit:  {"submit", "send application", "finish application"},
	ActionReview:  {"review", "preview"},
	ActionNext:    {"continue", "next", "proceed"},
	ActionDismiss: {"done", "dismiss", "close", "not now"},
}

var actionStatus = [...]StepStatus{
	ActionSubmit:  StepSubmitted,
	ActionReview:  StepPreview,
	ActionNext:    StepNext,
	ActionDismiss: StepModalClosed,
}

// StepResult is the outcome of AdvanceStep.
type StepResult struct {
	Status StepStatus
	Button page.Button
}

// Classify returns the highest-priority action a caption belongs to.
func Classify(caption string) (Action, bool) {
	caption = strings.ToLower(caption)
	for action, keywords := range actionKeywords {
		for _, keyword := range keywords {
			if strings.Contains(caption, keyword) {
				return Action(action), true
			}
		}
	}
	return 0, false
}

// pick returns the first visible button of the given action.
func pick(buttons []page.Button, want Action) (page.Button, bool) {
	for _, button := range buttons {
		if action, ok := Classify(button.Caption()); ok && action == want {
			return button, true
		}
	}
	return page.Button{}, false
}

// AdvanceStep clicks the highest-priority action control in scope.
func (f *Filler) AdvanceStep(ctx context.Context, scope string) StepResult {
	buttons, err := f.page.Buttons(ctx, scope)
	if err != nil {
		f.logger.Debug("enumerate buttons failed", zap.Error(err))
		return StepResult{Status: StepError}
	}

	for action := ActionSubmit; action <= ActionDismiss; action++ {
		button, ok := pick(buttons, action)
		if !ok {
			continue
		}
		if err := f.page.Click(ctx, button.ID); err != nil {
			f.logger.Debug("clicking action failed", zap.String("button", button.Text), zap.Error(err))
			return StepResult{Status: StepError, Button: button}
		}
		return StepResult{Status: actionStatus[action], Button: button}
	}

	return StepResult{Status: StepError}
}
