package capability

import (
	"context"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter asks the user a question and returns the answer line.
type Prompter interface {
	Ask(ctx context.Context, question string) (string, error)
}

// TerminalHost offers installation only to interactive sessions; piped or
// scripted runs never see a prompt.
type TerminalHost struct {
	interactive bool
	prompter    Prompter
}

func NewTerminalHost(stdin *os.File, p Prompter) *TerminalHost {
	return &TerminalHost{interactive: term.IsTerminal(int(stdin.Fd())), prompter: p}
}

func (h *TerminalHost) Installable() bool {
	return h.interactive
}

func (h *TerminalHost) PromptInstall(ctx context.Context) (Choice, error) {
	yes, err := h.confirm(ctx, "Keep churchkeeper installed for offline use on this device? [y/N]")
	if err != nil || !yes {
		return ChoiceDismissed, err
	}
	return ChoiceAccepted, nil
}

func (h *TerminalHost) RequestNotificationPermission(ctx context.Context) (Permission, error) {
	yes, err := h.confirm(ctx, "Allow churchkeeper to show notifications? [y/N]")
	if err != nil {
		return PermissionDefault, err
	}
	if yes {
		return PermissionGranted, nil
	}
	return PermissionDenied, nil
}

func (h *TerminalHost) confirm(ctx context.Context, question string) (bool, error) {
	answer, err := h.prompter.Ask(ctx, question)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
