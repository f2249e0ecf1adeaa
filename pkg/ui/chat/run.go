package chat

import (
	"context"
	"fmt"

	"homevoice/pkg/command"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Request is one console command: Text, or a recording at AudioPath.
// MimeType overrides detection from the file extension.
type Request struct {
	Text      string
	AudioPath string
	MimeType  string
}

// SubmitFunc submits req and blocks until its outcome is known.
type SubmitFunc func(ctx context.Context, req Request) (command.Outcome, error)

// RuntimeInfo is shown in the console header.
type RuntimeInfo struct {
	Broker      string
	Cache       string
	Transcriber string
	UserID      string
}

func RunInteractive(ctx context.Context, submitFn SubmitFunc, info RuntimeInfo) error {
	model := newModel(ctx, submitFn, modeInteractive, "", info)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err := program.Run()
	if err != nil {
		return err
	}

	fmt.Println(renderGoodbyeBanner())
	return nil
}

func RunOneShot(ctx context.Context, submitFn SubmitFunc, input string, info RuntimeInfo) error {
	model := newModel(ctx, submitFn, modeOneShot, input, info)
	program := tea.NewProgram(model)
	_, err := program.Run()
	return err
}

func renderGoodbyeBanner() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(colorInk).
		Background(colorTeal).
		Padding(1, 2)

	return style.Render("🏠 HomeVoice console closed")
}
