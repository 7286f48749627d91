package worklog

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Screenshot is a PNG captured at a named point of a run.
type Screenshot struct {
	Description string
	Data        []byte
}

// Evidence accumulates the step log and screenshots of exactly one run. It is
// created per run and handed down explicitly; nothing else may write to it.
type Evidence struct {
	mu     sync.Mutex
	steps  []string
	shots  []Screenshot
	logger *zap.Logger
}

func newEvidence(logger *zap.Logger) *Evidence {
	return &Evidence{logger: logger}
}

// oneLine keeps entries on a single line; the encoded result is line based.
func oneLine(s string) string {
	s = strings.TrimSpace(s)
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.Join(strings.Fields(s), " ")
}

func (e *Evidence) add(entry string) string {
	entry = oneLine(entry)
	if entry == "" {
		return ""
	}
	e.mu.Lock()
	e.steps = append(e.steps, entry)
	e.mu.Unlock()
	return entry
}

// Step records progress.
func (e *Evidence) Step(format string, args ...interface{}) {
	if entry := e.add(fmt.Sprintf(format, args...)); entry != "" {
		e.logger.Info(entry)
	}
}

// Warn records a recoverable problem. The run continues.
func (e *Evidence) Warn(format string, args ...interface{}) {
	if entry := e.add("WARNING: " + fmt.Sprintf(format, args...)); entry != "" {
		e.logger.Warn(entry)
	}
}

// Fail records the error that ends the run.
func (e *Evidence) Fail(format string, args ...interface{}) {
	if entry := e.add("ERROR: " + fmt.Sprintf(format, args...)); entry != "" {
		e.logger.Error(entry)
	}
}

// Capture stores a screenshot and notes it in the step log.
func (e *Evidence) Capture(description string, png []byte) {
	description = oneLine(description)
	data := make([]byte, len(png))
	copy(data, png)
	e.mu.Lock()
	e.shots = append(e.shots, Screenshot{Description: description, Data: data})
	e.mu.Unlock()
	e.Step("Screenshot captured: %s", description)
}

// Steps returns a copy of the step log.
func (e *Evidence) Steps() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.steps...)
}

// Screenshots returns a copy of the screenshots.
func (e *Evidence) Screenshots() []Screenshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Screenshot(nil), e.shots...)
}

// Reset discards everything collected so far.
func (e *Evidence) Reset() {
	e.mu.Lock()
	e.steps = nil
	e.shots = nil
	e.mu.Unlock()
}
