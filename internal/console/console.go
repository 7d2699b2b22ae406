// Package console collects text written by robot apps.
package console

import (
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Message is one console write. IDs increase monotonically from 1.
type Message struct {
	ID      uint64
	Content string
}

// Sink writes guest console output to an io.Writer and remembers the last
// message. It is safe for concurrent use.
type Sink struct {
	mu     sync.Mutex
	out    io.Writer
	last   Message
	nextID uint64
	logger *zap.Logger
}

// NewSink creates a sink. A nil out discards output.
func NewSink(out io.Writer, logger *zap.Logger) *Sink {
	if out == nil {
		out = io.Discard
	}
	return &Sink{
		out:    out,
		logger: logger.With(zap.String("component", "console")),
	}
}

// Write records content and copies it to the output, newline-terminated.
func (s *Sink) Write(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.last = Message{ID: s.nextID, Content: content}

	line := content
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	if _, err := io.WriteString(s.out, line); err != nil {
		s.logger.Warn("Failed to write console output",
			zap.Uint64("id", s.nextID),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("Console write", zap.Uint64("id", s.nextID), zap.Int("bytes", len(content)))
}

// Last returns the most recent message and false if nothing was written.
func (s *Sink) Last() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.last.ID != 0
}
