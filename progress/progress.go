// Package progress renders a byte-count progress bar for the long copy
// steps (download, decompress, compress, flash). When stderr is not a
// terminal it degrades to a plain io.Copy with no UI.
package progress

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

type finishMsg struct{ err error }
type tickMsg time.Time

var errCancelled = errors.New("copy cancelled")

// countingReader counts bytes as they pass through and stops the copy
// when cancelled.
type countingReader struct {
	r         io.Reader
	n         atomic.Int64
	cancelled atomic.Bool
}

func (c *countingReader) Read(p []byte) (int, error) {
	if c.cancelled.Load() {
		return 0, errCancelled
	}
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

func (c *countingReader) cancel() { c.cancelled.Store(true) }

type model struct {
	title string
	total int64
	read  *countingReader
	bar   progress.Model
	err   error
	done  bool
}

func newModel(title string, total int64, read *countingReader) model {
	return model{
		title: title,
		total: total,
		read:  read,
		bar:   progress.New(progress.WithDefaultGradient()),
	}
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tick()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.err = fmt.Errorf("cancelled")
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		w := msg.Width - 6
		if w > 80 {
			w = 80
		}
		if w > 0 {
			m.bar.Width = w
		}
	case tickMsg:
		if m.done {
			return m, tea.Quit
		}
		return m, tick()
	case finishMsg:
		m.err = msg.err
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

var titleStyle = lipgloss.NewStyle().Bold(true)

func (m model) View() string {
	if m.done {
		return ""
	}
	ratio := 0.0
	if m.total > 0 {
		ratio = float64(m.read.n.Load()) / float64(m.total)
		if ratio > 1 {
			ratio = 1
		}
	}
	return fmt.Sprintf("%s\n%s %s\n",
		titleStyle.Render(m.title),
		m.bar.ViewAs(ratio),
		ByteCount(m.read.n.Load()),
	)
}

// Copy copies src to dst, drawing a progress bar when the process is
// attached to a terminal. total may be 0 when the uncompressed size is
// unknown; the bar then only shows the byte count.
func Copy(title string, total int64, dst io.Writer, src io.Reader) (int64, error) {
	cr := &countingReader{r: src}

	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return io.Copy(dst, cr)
	}

	p := tea.NewProgram(newModel(title, total, cr), tea.WithOutput(os.Stderr))

	done := make(chan struct{})
	var written int64
	var copyErr error
	go func() {
		defer close(done)
		written, copyErr = io.Copy(dst, cr)
		p.Send(finishMsg{err: copyErr})
	}()

	res, runErr := p.Run()
	m, _ := res.(model)

	// The UI can quit before the copy finishes (ctrl+c, render error);
	// stop the reader and wait for the goroutine so nothing writes to dst
	// after we return.
	if runErr != nil || m.err != nil {
		cr.cancel()
	}
	<-done

	if runErr != nil {
		return written, fmt.Errorf("failed to render progress: %w", runErr)
	}
	if m.err != nil {
		return written, m.err
	}
	return written, copyErr
}

// ByteCount formats n using binary units.
func ByteCount(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
