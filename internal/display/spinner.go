package display

import (
	"fmt"
	"io"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const spinnerDelay = 100 * time.Millisecond

// Spinner animates a single-line progress indicator during long-running
// backup and restore operations. On non-terminal writers the animation is
// skipped and only the final message is printed.
type Spinner struct {
	message  string
	active   bool
	animated bool
	writer   io.Writer
	colorSys ColorSystem
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.RWMutex
}

// NewSpinner creates a spinner writing to the given writer
func NewSpinner(message string, writer io.Writer, colorSys ColorSystem) *Spinner {
	return &Spinner{
		message:  message,
		writer:   writer,
		colorSys: colorSys,
		animated: colorSys != nil && colorSys.IsColorSupported(),
	}
}

// Start begins the spinner animation
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	animated := s.animated
	s.mu.Unlock()

	if !animated {
		close(s.doneCh)
		return
	}
	go s.animate()
}

// UpdateMessage changes the message shown next to the spinner frame
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// Stop terminates the animation, clears the line and prints the final
// message if one is given.
func (s *Spinner) Stop(finalMessage string) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	animated := s.animated
	if animated {
		close(s.stopCh)
	}
	s.mu.Unlock()

	<-s.doneCh

	if animated {
		s.clearLine()
	}
	if finalMessage != "" {
		fmt.Fprintln(s.writer, finalMessage)
	}
}

// IsActive returns whether the spinner is currently running
func (s *Spinner) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *Spinner) animate() {
	defer close(s.doneCh)

	ticker := time.NewTicker(spinnerDelay)
	defer ticker.Stop()

	frameIndex := 0
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.RLock()
			if !s.active {
				s.mu.RUnlock()
				return
			}
			frame := spinnerFrames[frameIndex%len(spinnerFrames)]
			message := s.message
			s.mu.RUnlock()

			s.clearLine()
			fmt.Fprintf(s.writer, "\r%s %s", s.colorSys.Colorize(frame, ColorCyan), message)
			frameIndex++
		}
	}
}

func (s *Spinner) clearLine() {
	fmt.Fprint(s.writer, "\r\033[K")
}
