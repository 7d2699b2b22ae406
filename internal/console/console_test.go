package console

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestSink_Write(t *testing.T) {
	var buf bytes.Buffer
	s := NewSink(&buf, zaptest.NewLogger(t))

	_, ok := s.Last()
	assert.False(t, ok)

	s.Write("hello")
	s.Write("arm ready\n")

	assert.Equal(t, "hello\narm ready\n", buf.String())
	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, Message{ID: 2, Content: "arm ready\n"}, last)
}

func TestSink_NilWriterDiscards(t *testing.T) {
	s := NewSink(nil, zaptest.NewLogger(t))
	s.Write("x")

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, uint64(1), last.ID)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestSink_WriteFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := NewSink(failingWriter{}, zap.New(core))

	s.Write("lost")

	require.Equal(t, 1, logs.FilterMessage("Failed to write console output").Len())
	last, _ := s.Last()
	assert.Equal(t, "lost", last.Content)
}

func TestSink_ConcurrentIDsAreUnique(t *testing.T) {
	s := NewSink(nil, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Write("tick")
		}()
	}
	wg.Wait()

	last, _ := s.Last()
	assert.Equal(t, uint64(50), last.ID)
}
