package watcher

import "github.com/pterm/pterm"

// Answers offered by ShouldContinue.
const (
	AnswerYes      = "Yes"
	AnswerYesToAll = "Yes to All"
	AnswerNo       = "No"
	AnswerNoToAll  = "No to All"
)

// Prompter asks the user to confirm an action.
type Prompter interface {
	Confirm(question string, defaultYes bool) (bool, error)
	Choose(question string, options []string) (string, error)
}

type ptermPrompter struct{}

// NewPtermPrompter prompts on the terminal using pterm interactive printers.
func NewPtermPrompter() Prompter {
	return ptermPrompter{}
}

func (ptermPrompter) Confirm(question string, defaultYes bool) (bool, error) {
	return pterm.DefaultInteractiveConfirm.WithDefaultValue(defaultYes).Show(question)
}

func (ptermPrompter) Choose(question string, options []string) (string, error) {
	return pterm.DefaultInteractiveSelect.WithOptions(options).Show(question)
}
