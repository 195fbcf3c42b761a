// Package cli renders terminal feedback for long-running posctl commands.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorCyan  = "\033[36m"
)

// Spinner animates a status line until Success or Fail is called.
type Spinner struct {
	frames   []string
	current  int
	prefix   string
	suffix   string
	started  time.Time
	mu       sync.Mutex
	writer   io.Writer
	active   bool
	colorize bool
	done     chan struct{}
}

// NewSpinner writes to w; colors are used only when w is a terminal.
func NewSpinner(w io.Writer, prefix string) *Spinner {
	return &Spinner{
		frames:   []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		prefix:   prefix,
		writer:   w,
		colorize: IsTerminal(w),
		done:     make(chan struct{}),
	}
}

// SetSuffix replaces the text shown after the prefix.
func (s *Spinner) SetSuffix(suffix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suffix = suffix
}

func (s *Spinner) Start() {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.started = time.Now()
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				if !s.active {
					s.mu.Unlock()
					return
				}
				s.render()
				s.current = (s.current + 1) % len(s.frames)
				s.mu.Unlock()
			case <-s.done:
				return
			}
		}
	}()
}

// Stop clears the line. It is safe to call more than once.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	close(s.done)
	if s.colorize {
		fmt.Fprint(s.writer, "\r"+strings.Repeat(" ", 80)+"\r")
	}
}

// Success stops the spinner and prints message with the elapsed time.
func (s *Spinner) Success(message string) {
	s.finish(colorGreen, "✓", message)
}

// Fail stops the spinner and prints message with the elapsed time.
func (s *Spinner) Fail(message string) {
	s.finish(colorRed, "✗", message)
}

func (s *Spinner) finish(color, mark, message string) {
	s.Stop()
	elapsed := ""
	if !s.started.IsZero() {
		elapsed = " (" + FormatDuration(time.Since(s.started)) + ")"
	}
	if s.colorize {
		fmt.Fprintf(s.writer, "%s%s%s %s%s\n", color, mark, colorReset, message, elapsed)
		return
	}
	fmt.Fprintf(s.writer, "%s %s%s\n", mark, message, elapsed)
}

// render draws one frame; plain writers get no animation.
func (s *Spinner) render() {
	if !s.colorize {
		return
	}
	out := fmt.Sprintf("\r%s%s%s %s", colorCyan, s.frames[s.current], colorReset, s.prefix)
	if s.suffix != "" {
		out += " " + s.suffix
	}
	fmt.Fprint(s.writer, out)
}

// IsTerminal reports whether w is a character device.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// FormatDuration renders d compactly: "< 1s", "42s", "3m05s", "1h02m".
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return "< 1s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}
