package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"homevoice/pkg/command"

	tea "github.com/charmbracelet/bubbletea"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Request
		wantErr bool
	}{
		{name: "text", input: "  turn on the lights ", want: Request{Text: "turn on the lights"}},
		{name: "voice", input: "/voice ./note.ogg", want: Request{AudioPath: "./note.ogg"}},
		{name: "voice with mime", input: "/voice raw.pcm audio/l16;rate=16000", want: Request{AudioPath: "raw.pcm", MimeType: "audio/l16;rate=16000"}},
		{name: "voice without path", input: "/voice", wantErr: true},
		{name: "empty", input: "   ", wantErr: true},
		{name: "voice word in text", input: "/voicemail check", want: Request{Text: "/voicemail check"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRequest(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRequest(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("ParseRequest(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSubmitCmdReportsOutcome(t *testing.T) {
	var gotReq Request
	submit := func(_ context.Context, req Request) (command.Outcome, error) {
		gotReq = req
		return command.Success{ID: "cmd-1", Text: "lights on"}, nil
	}

	msg := submitCmd(context.Background(), submit, Request{Text: "lights on"})()
	result, ok := msg.(outcomeMsg)
	if !ok {
		t.Fatalf("msg = %T, want outcomeMsg", msg)
	}
	if result.err != nil || result.outcome.CommandID() != "cmd-1" {
		t.Fatalf("result = %+v", result)
	}
	if gotReq.Text != "lights on" {
		t.Fatalf("submitted %+v", gotReq)
	}
}

func TestRecordOutcomeCounts(t *testing.T) {
	m := newModel(context.Background(), nil, modeInteractive, "", RuntimeInfo{})

	m.recordOutcome(outcomeMsg{outcome: command.Success{ID: "a", Text: "lights on"}, elapsed: time.Second})
	m.recordOutcome(outcomeMsg{outcome: command.Failure{ID: "b", Kind: command.KindAudioNotFound, Reason: "audio b not found"}})
	m.recordOutcome(outcomeMsg{err: errors.New("await outcome b: context deadline exceeded")})

	if m.succeeded != 1 || m.failed != 2 {
		t.Fatalf("succeeded/failed = %d/%d, want 1/2", m.succeeded, m.failed)
	}
	if len(m.entries) != 3 || m.entries[0].role != "result" || m.entries[1].role != "failure" || m.entries[2].role != "error" {
		t.Fatalf("entries = %+v", m.entries)
	}
	if !strings.Contains(m.entries[1].detail, string(command.KindAudioNotFound)) {
		t.Fatalf("failure detail = %q", m.entries[1].detail)
	}
}

func TestEnterSubmitsAndOutcomeRenders(t *testing.T) {
	submit := func(_ context.Context, req Request) (command.Outcome, error) {
		return command.Success{ID: "cmd-9", Text: req.Text}, nil
	}
	m := newModel(context.Background(), submit, modeInteractive, "", RuntimeInfo{Broker: "memory"})
	m.booting = false
	m.input.SetValue("open the garage")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("expected a command after enter")
	}
	if !m.isLoading || len(m.entries) != 1 || m.entries[0].role != "user" {
		t.Fatalf("state after enter: loading=%v entries=%+v", m.isLoading, m.entries)
	}

	m.Update(outcomeMsg{outcome: command.Success{ID: "cmd-9", Text: "open the garage"}})
	if m.isLoading {
		t.Fatal("expected loading to stop after outcome")
	}
	if view := m.View(); !strings.Contains(view, "open the garage") || !strings.Contains(view, "memory") {
		t.Fatalf("view missing transcript or runtime info:\n%s", view)
	}
}

func TestInvalidVoiceCommandShowsError(t *testing.T) {
	m := newModel(context.Background(), nil, modeInteractive, "", RuntimeInfo{})
	m.booting = false
	m.input.SetValue("/voice a b c")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil {
		t.Fatal("expected no submission for an invalid command")
	}
	if m.lastErr == "" || m.isLoading {
		t.Fatalf("lastErr=%q loading=%v", m.lastErr, m.isLoading)
	}
}

func TestIsExitCommand(t *testing.T) {
	for _, input := range []string{"exit", "/exit", " QUIT ", ":q"} {
		if !isExitCommand(input) {
			t.Fatalf("isExitCommand(%q) = false", input)
		}
	}
	if isExitCommand("lights off") {
		t.Fatal("lights off is not an exit command")
	}
}
