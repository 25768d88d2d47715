package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const maxProgressMessages = 8

var (
	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			Margin(0, 2)

	stageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575")).
			Margin(0, 2)

	progressInfoStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#888888")).
				Margin(0, 2)
)

// Messages sent into the program by the upload goroutine
type (
	fileProgressMsg ProgressEvent
	fileResultMsg   UploadResult
	logLineMsg      string
	uploadDoneMsg   struct{ err error }
)

// uploadProgressModel renders the current file's transfer and the share of
// the manifest already decided
type uploadProgressModel struct {
	currentProgress progress.Model
	overallProgress progress.Model
	currentSpinner  spinner.Model
	cancel          context.CancelFunc

	total    int
	decided  map[string]struct{}
	file     string
	percent  float64
	bytes    string
	messages []string
	width    int
	done     bool
	err      error
}

func newUploadProgressModel(total int, cancel context.CancelFunc) uploadProgressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return uploadProgressModel{
		currentProgress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(60)),
		overallProgress: progress.New(progress.WithScaledGradient("#FF7CCB", "#FDFF8C"), progress.WithWidth(60)),
		currentSpinner:  s,
		cancel:          cancel,
		total:           total,
		decided:         make(map[string]struct{}),
	}
}

func (m uploadProgressModel) Init() tea.Cmd {
	return m.currentSpinner.Tick
}

func (m uploadProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.currentProgress.Width = max(msg.Width-10, 10)
		m.overallProgress.Width = max(msg.Width-10, 10)
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.currentSpinner, cmd = m.currentSpinner.Update(msg)
		return m, cmd
	case fileProgressMsg:
		m.file = msg.File
		m.percent = float64(msg.Percent) / 100
		m.bytes = fmt.Sprintf("%s / %s", formatBytes(msg.BytesSeen), formatBytes(msg.Size))
		return m, nil
	case fileResultMsg:
		return m.handleResult(UploadResult(msg)), nil
	case logLineMsg:
		m.messages = append(m.messages, string(msg))
		if len(m.messages) > maxProgressMessages {
			m.messages = m.messages[len(m.messages)-maxProgressMessages:]
		}
		return m, nil
	case uploadDoneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m uploadProgressModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" || msg.String() == "q" {
		if m.cancel != nil {
			m.cancel()
		}
		return m, tea.Quit
	}
	return m, nil
}

func (m uploadProgressModel) handleResult(res UploadResult) uploadProgressModel {
	m.decided[res.Name] = struct{}{}
	if res.Name == m.file && res.Status == StatusUploaded {
		m.percent = 1
	}
	return m
}

// overall is the share of manifest entries with a decided outcome
func (m uploadProgressModel) overall() float64 {
	if m.done && m.err == nil {
		return 1
	}
	if m.total == 0 {
		return 0
	}
	return min(float64(len(m.decided))/float64(m.total), 1)
}

func (m uploadProgressModel) View() string {
	if m.done {
		return ""
	}

	sections := []string{"", titleStyle.Render("Medallion Loader: upload"), ""}

	sections = append(sections, helpStyle.Render("   Log:"))
	if len(m.messages) == 0 {
		sections = append(sections, "     (waiting for operations...)")
	}
	for _, line := range m.messages {
		sections = append(sections, progressInfoStyle.Render("   "+line))
	}
	sections = append(sections, "")

	if m.file != "" {
		sections = append(sections, stageStyle.Render(fmt.Sprintf("   %s %s  %s", m.currentSpinner.View(), m.file, m.bytes)))
		sections = append(sections, "   "+m.currentProgress.ViewAs(m.percent))
	} else {
		sections = append(sections, stageStyle.Render("   "+m.currentSpinner.View()+" Reconciling..."))
	}

	sections = append(sections, "")
	sections = append(sections, progressInfoStyle.Render(fmt.Sprintf("   Files: %d/%d", min(len(m.decided), m.total), m.total)))
	sections = append(sections, "   "+m.overallProgress.ViewAs(m.overall()))

	sections = append(sections, "")
	sections = append(sections, helpStyle.Render("   Press Ctrl+C or 'q' to quit"))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// programWriter turns each log line into a message for the program
type programWriter struct {
	program *tea.Program
}

func (w programWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		w.program.Send(logLineMsg(line))
	}
	return len(p), nil
}

// runWithProgressUI runs an upload behind a terminal progress view. The
// uploader's log lines and progress events are routed into the view for the
// duration of the run; quitting the view cancels the run.
func runWithProgressUI(ctx context.Context, uploader *Uploader, total int, run func(context.Context, *slog.Logger) (*UploadReport, error)) (*UploadReport, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Signals are handled by main's context
	program := tea.NewProgram(newUploadProgressModel(total, cancel), tea.WithoutSignalHandler())
	uiLogger := slog.New(newTextOnlyHandler(programWriter{program: program}, &slog.HandlerOptions{Level: slog.LevelInfo}))

	prevLogger, prevProgress, prevResult := uploader.logger, uploader.onProgress, uploader.onResult
	uploader.logger = uiLogger
	uploader.onProgress = func(ev ProgressEvent) { program.Send(fileProgressMsg(ev)) }
	uploader.onResult = func(res UploadResult) { program.Send(fileResultMsg(res)) }
	defer func() {
		uploader.logger, uploader.onProgress, uploader.onResult = prevLogger, prevProgress, prevResult
	}()

	var (
		report *UploadReport
		runErr error
	)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		report, runErr = run(ctx, uiLogger)
		program.Send(uploadDoneMsg{err: runErr})
	}()

	_, uiErr := program.Run()
	cancel()
	<-finished

	if uiErr != nil && runErr == nil {
		return report, fmt.Errorf("error running progress display: %w", uiErr)
	}
	return report, runErr
}
