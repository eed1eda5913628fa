// Package sinks fans research progress output out to the console, append-only
// log files, in-memory buffers for the UI, and the streaming layer.
package sinks

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/meridianlabs/deepresearch/internal/streaming"
)

// Sink receives progress output line fragments during a research run.
type Sink interface {
	Write(line string)
	Flush()
}

// Console writes progress output to stdout.
type Console struct{}

func (Console) Write(line string) { fmt.Print(line) }
func (Console) Flush()            {}

// File appends progress output to a file, creating parent directories on
// first use.
type File struct {
	path string
	mu   sync.Mutex
}

// NewFile creates a file sink for path.
func NewFile(path string) (*File, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sink directory %s: %w", dir, err)
	}
	return &File{path: path}, nil
}

func (f *File) Write(line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fp, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer fp.Close()
	_, _ = fp.WriteString(line)
}

// Flush is a no-op; the file is opened and closed per write.
func (f *File) Flush() {}

// Path returns the sink's file path.
func (f *File) Path() string { return f.path }

// Buffer accumulates progress lines in memory for UI rendering and for the
// downloadable progress log.
type Buffer struct {
	mu    sync.Mutex
	lines []string
}

func (b *Buffer) Write(line string) {
	b.mu.Lock()
	b.lines = append(b.lines, line)
	b.mu.Unlock()
}

func (b *Buffer) Flush() {}

// Lines returns a copy of the buffered lines.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// Content joins the buffered lines into one string.
func (b *Buffer) Content() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.lines, "")
}

// Stream publishes each written line as a progress event for SSE/WS clients.
type Stream struct {
	mgr   *streaming.Manager
	runID string
}

// NewStream creates a sink that publishes to mgr under runID.
func NewStream(mgr *streaming.Manager, runID string) *Stream {
	return &Stream{mgr: mgr, runID: runID}
}

func (s *Stream) Write(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	s.mgr.Publish(s.runID, streaming.Event{Type: streaming.TypeProgress, Message: line})
}

func (s *Stream) Flush() {}

// Multi fans writes out to several sinks.
type Multi struct {
	mu    sync.Mutex
	sinks []Sink
}

// NewMulti creates a fan-out sink over the given sinks.
func NewMulti(ss ...Sink) *Multi {
	return &Multi{sinks: append([]Sink(nil), ss...)}
}

func (m *Multi) Write(line string) {
	m.mu.Lock()
	targets := append([]Sink(nil), m.sinks...)
	m.mu.Unlock()
	for _, s := range targets {
		s.Write(line)
	}
}

func (m *Multi) Flush() {
	m.mu.Lock()
	targets := append([]Sink(nil), m.sinks...)
	m.mu.Unlock()
	for _, s := range targets {
		s.Flush()
	}
}

// Add appends another destination sink.
func (m *Multi) Add(s Sink) {
	m.mu.Lock()
	m.sinks = append(m.sinks, s)
	m.mu.Unlock()
}

// Remove drops a previously added sink.
func (m *Multi) Remove(s Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cur := range m.sinks {
		if cur == s {
			m.sinks = append(m.sinks[:i], m.sinks[i+1:]...)
			return
		}
	}
}
