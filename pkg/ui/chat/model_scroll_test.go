package chat

import (
	"context"
	"fmt"
	"testing"

	"homevoice/pkg/command"

	tea "github.com/charmbracelet/bubbletea"
)

// scrolledModel returns a console whose log is taller than the viewport.
func scrolledModel(t *testing.T) *model {
	t.Helper()

	m := newModel(context.Background(), nil, modeInteractive, "", RuntimeInfo{})
	m.viewport.Width = 60
	m.viewport.Height = 6
	for i := range 20 {
		m.recordOutcome(outcomeMsg{outcome: command.Success{ID: fmt.Sprintf("cmd-%d", i), Text: "dim the hallway lights"}})
	}
	m.refreshViewport(true)
	if m.viewport.AtTop() {
		t.Fatal("expected log taller than the viewport")
	}
	return m
}

func TestMouseWheel(t *testing.T) {
	t.Parallel()

	t.Run("up stops following", func(t *testing.T) {
		m := scrolledModel(t)
		before := m.viewport.YOffset

		if !m.handleViewportMouse(tea.MouseMsg{Action: tea.MouseActionPress, Button: tea.MouseButtonWheelUp}) {
			t.Fatal("wheel up not handled")
		}
		if m.followLog {
			t.Fatal("followLog still set after scrolling up")
		}
		if m.viewport.YOffset != before-mouseWheelLines {
			t.Fatalf("YOffset = %d, want %d", m.viewport.YOffset, before-mouseWheelLines)
		}
	})

	t.Run("down to bottom resumes following", func(t *testing.T) {
		m := scrolledModel(t)
		m.viewport.SetYOffset(m.viewport.YOffset - 1)
		m.followLog = false

		if !m.handleViewportMouse(tea.MouseMsg{Action: tea.MouseActionPress, Button: tea.MouseButtonWheelDown}) {
			t.Fatal("wheel down not handled")
		}
		if !m.viewport.AtBottom() || !m.followLog {
			t.Fatalf("bottom=%v followLog=%v, want both set", m.viewport.AtBottom(), m.followLog)
		}
	})

	t.Run("clicks and releases ignored", func(t *testing.T) {
		m := scrolledModel(t)
		for _, msg := range []tea.MouseMsg{
			{Action: tea.MouseActionPress, Button: tea.MouseButtonLeft},
			{Action: tea.MouseActionRelease, Button: tea.MouseButtonWheelUp},
		} {
			if m.handleViewportMouse(msg) {
				t.Fatalf("%+v should be ignored", msg)
			}
		}
		if !m.followLog {
			t.Fatal("ignored events must not change followLog")
		}
	})
}

func TestScrollKeys(t *testing.T) {
	t.Parallel()

	m := scrolledModel(t)

	if !m.handleViewportKey(tea.KeyMsg{Type: tea.KeyHome}) {
		t.Fatal("home not handled")
	}
	if !m.viewport.AtTop() || m.followLog {
		t.Fatalf("after home: top=%v followLog=%v", m.viewport.AtTop(), m.followLog)
	}

	if !m.handleViewportKey(tea.KeyMsg{Type: tea.KeyPgDown}) {
		t.Fatal("pgdown not handled")
	}
	if m.viewport.AtTop() {
		t.Fatal("pgdown did not move the viewport")
	}

	if !m.handleViewportKey(tea.KeyMsg{Type: tea.KeyEnd}) {
		t.Fatal("end not handled")
	}
	if !m.viewport.AtBottom() || !m.followLog {
		t.Fatalf("after end: bottom=%v followLog=%v", m.viewport.AtBottom(), m.followLog)
	}

	if m.handleViewportKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")}) {
		t.Fatal("plain runes must reach the input")
	}
}
