package cmd

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func updateModel(t *testing.T, m uploadProgressModel, msg tea.Msg) (uploadProgressModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	um, ok := next.(uploadProgressModel)
	if !ok {
		t.Fatalf("unexpected model type %T", next)
	}
	return um, cmd
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestUploadProgressModel(t *testing.T) {
	t.Run("tracks the current file and decided entries", func(t *testing.T) {
		m := newUploadProgressModel(3, nil)

		m, _ = updateModel(t, m, fileResultMsg{Name: "a.csv", Status: StatusSkippedExisting})
		m, _ = updateModel(t, m, fileProgressMsg{File: "b.csv", Decile: 4, Percent: 40, BytesSeen: 400, Size: 1000})
		if m.file != "b.csv" || m.percent != 0.4 {
			t.Errorf("unexpected current file state %q %v", m.file, m.percent)
		}
		if got := m.overall(); got != 1.0/3 {
			t.Errorf("expected one third decided, got %v", got)
		}

		m, _ = updateModel(t, m, fileResultMsg{Name: "b.csv", Status: StatusUploaded})
		if m.percent != 1 {
			t.Errorf("finished upload should show 100%%, got %v", m.percent)
		}

		view := m.View()
		for _, want := range []string{"b.csv", "Files: 2/3"} {
			if !strings.Contains(view, want) {
				t.Errorf("view missing %q:\n%s", want, view)
			}
		}
	})

	t.Run("repeated results from a retried run count once", func(t *testing.T) {
		m := newUploadProgressModel(2, nil)
		for i := 0; i < 3; i++ {
			m, _ = updateModel(t, m, fileResultMsg{Name: "a.csv", Status: StatusSkippedExisting})
		}
		if got := m.overall(); got != 0.5 {
			t.Errorf("expected half decided, got %v", got)
		}
	})

	t.Run("log lines are bounded", func(t *testing.T) {
		m := newUploadProgressModel(1, nil)
		for i := 0; i < maxProgressMessages+5; i++ {
			m, _ = updateModel(t, m, logLineMsg(fmt.Sprintf("line %d", i)))
		}
		if len(m.messages) != maxProgressMessages {
			t.Fatalf("expected %d messages, got %d", maxProgressMessages, len(m.messages))
		}
		if m.messages[len(m.messages)-1] != fmt.Sprintf("line %d", maxProgressMessages+4) {
			t.Errorf("expected the newest line last, got %v", m.messages)
		}
	})

	t.Run("quit key cancels the run", func(t *testing.T) {
		cancelled := false
		m := newUploadProgressModel(1, func() { cancelled = true })

		_, cmd := updateModel(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
		if cmd != nil || cancelled {
			t.Fatal("other keys must not quit")
		}

		_, cmd = updateModel(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
		if !cancelled || !isQuit(cmd) {
			t.Errorf("ctrl+c should cancel and quit (cancelled=%v)", cancelled)
		}
	})

	t.Run("run completion quits with its error", func(t *testing.T) {
		boom := errors.New("upload failed")
		m := newUploadProgressModel(1, nil)
		m, cmd := updateModel(t, m, uploadDoneMsg{err: boom})
		if !isQuit(cmd) || !m.done || !errors.Is(m.err, boom) {
			t.Errorf("unexpected final state done=%v err=%v", m.done, m.err)
		}
		if m.View() != "" {
			t.Error("a finished view should render nothing")
		}
		if m.overall() == 1 {
			t.Error("a failed run must not report full progress")
		}
	})
}

func TestUseProgressUI(t *testing.T) {
	tests := []struct {
		name     string
		format   string
		debug    bool
		terminal bool
		want     bool
	}{
		{name: "text on a terminal", format: "text", terminal: true, want: true},
		{name: "default format on a terminal", format: "", terminal: true, want: true},
		{name: "piped output", format: "text", terminal: false, want: false},
		{name: "json logs", format: "json", terminal: true, want: false},
		{name: "debug", format: "text", debug: true, terminal: true, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.LogFormat = tt.format
			cfg.Debug = tt.debug
			if got := useProgressUI(cfg, tt.terminal); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
