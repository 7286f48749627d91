package worklog

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Status is the outcome of a run.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusError   Status = "ERROR"
)

// Result is what a run produces. Status, Message, Steps and Screenshots are
// what Encode writes; the remaining fields are local bookkeeping.
type Result struct {
	Status      Status
	Message     string
	Steps       []string
	Screenshots []Screenshot

	RunID      string
	User       string
	Reached    State
	Nothing    bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewResult builds a Result with single-line message and steps.
func NewResult(status Status, message string, steps []string, shots []Screenshot) *Result {
	r := &Result{Status: status, Message: oneLine(message)}
	for _, s := range steps {
		if s = oneLine(s); s != "" {
			r.Steps = append(r.Steps, s)
		}
	}
	for _, sh := range shots {
		r.Screenshots = append(r.Screenshots, Screenshot{Description: oneLine(sh.Description), Data: sh.Data})
	}
	return r
}

// Succeeded reports whether the run ended in SUCCESS.
func (r *Result) Succeeded() bool {
	return r != nil && r.Status == StatusSuccess
}

// Duration is how long the run took.
func (r *Result) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

const (
	stepsHeader = "STEPS:"
	shotsHeader = "SCREENSHOTS:"
)

// Encode renders the result in its text form:
//
//	SUCCESS: message
//
//	STEPS:
//	step one
//	step two
//
//	SCREENSHOTS:
//	[SCREENSHOT_0]description|base64png
func (r *Result) Encode() string {
	var b strings.Builder
	b.WriteString(string(r.Status))
	b.WriteString(": ")
	b.WriteString(r.Message)
	b.WriteString("\n\n")
	b.WriteString(stepsHeader)
	b.WriteByte('\n')
	for _, s := range r.Steps {
		b.WriteString(s)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.WriteString(shotsHeader)
	b.WriteByte('\n')
	for i, sh := range r.Screenshots {
		fmt.Fprintf(&b, "[SCREENSHOT_%d]%s|%s\n", i, sh.Description, base64.StdEncoding.EncodeToString(sh.Data))
	}
	return b.String()
}

// Summary is Encode without image payloads, for terminals and logs.
func (r *Result) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n\n%s\n", r.Status, r.Message, stepsHeader)
	for _, s := range r.Steps {
		b.WriteString(s)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "\n%s\n", shotsHeader)
	for i, sh := range r.Screenshots {
		fmt.Fprintf(&b, "[SCREENSHOT_%d] %s (%d bytes)\n", i, sh.Description, len(sh.Data))
	}
	return b.String()
}

// ErrMalformedResult is wrapped by every ParseResult failure.
var ErrMalformedResult = errors.New("malformed result")

// The description runs to the last '|'; base64 never contains one.
var screenshotLine = regexp.MustCompile(`^\[SCREENSHOT_(\d+)\](.*)\|([A-Za-z0-9+/=]*)$`)

// ParseResult reverses Encode.
func ParseResult(blob string) (*Result, error) {
	lines := strings.Split(blob, "\n")
	malformed := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", ErrMalformedResult, fmt.Sprintf(format, args...))
	}

	r := &Result{}
	head := lines[0]
	switch {
	case strings.HasPrefix(head, string(StatusSuccess)+":"):
		r.Status = StatusSuccess
	case strings.HasPrefix(head, string(StatusError)+":"):
		r.Status = StatusError
	default:
		return nil, malformed("unknown status line %q", head)
	}
	r.Message = strings.TrimPrefix(strings.TrimPrefix(head, string(r.Status)+":"), " ")

	if len(lines) < 3 || lines[1] != "" || lines[2] != stepsHeader {
		return nil, malformed("missing %s section", stepsHeader)
	}

	i := 3
	for ; i < len(lines); i++ {
		if lines[i] == "" && i+1 < len(lines) && lines[i+1] == shotsHeader {
			break
		}
		if lines[i] == "" {
			return nil, malformed("blank line inside %s at line %d", stepsHeader, i+1)
		}
		r.Steps = append(r.Steps, lines[i])
	}
	if i >= len(lines) {
		return nil, malformed("missing %s section", shotsHeader)
	}

	for n, line := range lines[i+2:] {
		if line == "" {
			continue
		}
		m := screenshotLine.FindStringSubmatch(line)
		if m == nil {
			return nil, malformed("bad screenshot line %q", truncate(line, 60))
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx != len(r.Screenshots) {
			return nil, malformed("screenshot %d out of order at position %d", idx, n)
		}
		data, err := base64.StdEncoding.DecodeString(m[3])
		if err != nil {
			return nil, malformed("screenshot %d payload: %v", idx, err)
		}
		r.Screenshots = append(r.Screenshots, Screenshot{Description: m[2], Data: data})
	}
	return r, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
