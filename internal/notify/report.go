package notify

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/worklog-cli/internal/worklog"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.Table, extension.Strikethrough),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// escapeMarkdown backslash-escapes ASCII punctuation so step text is shown
// literally. Raw HTML in a step therefore renders as text.
func escapeMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x80 && strings.ContainsRune("\\`*_{}[]()<>#+-.!|~&\"'", r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func attachmentName(i int) string {
	return fmt.Sprintf("screenshot-%02d.png", i)
}

// runReport renders res as markdown.
func runReport(res *worklog.Result, shots []worklog.Screenshot) string {
	var b strings.Builder
	if res.Succeeded() {
		b.WriteString("# Worklog submitted\n\n")
	} else {
		b.WriteString("# Worklog submission failed\n\n")
	}

	b.WriteString("| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| User | %s |\n", escapeMarkdown(res.User))
	if res.RunID != "" {
		fmt.Fprintf(&b, "| Run | %s |\n", escapeMarkdown(res.RunID))
	}
	fmt.Fprintf(&b, "| Status | %s |\n", res.Status)
	if !res.StartedAt.IsZero() {
		fmt.Fprintf(&b, "| Started | %s |\n", escapeMarkdown(res.StartedAt.Format(time.RFC1123)))
		fmt.Fprintf(&b, "| Duration | %s |\n", escapeMarkdown(res.Duration().Round(time.Second).String()))
	}
	if !res.Succeeded() {
		fmt.Fprintf(&b, "| Reached | %s |\n", escapeMarkdown(res.Reached.String()))
	}

	fmt.Fprintf(&b, "\n**%s**\n\n", escapeMarkdown(res.Message))

	if len(res.Steps) > 0 {
		b.WriteString("## Steps\n\n")
		for i, s := range res.Steps {
			line := escapeMarkdown(s)
			switch {
			case strings.HasPrefix(s, "ERROR: "), strings.HasPrefix(s, "WARNING: "):
				line = "**" + line + "**"
			}
			fmt.Fprintf(&b, "%d. %s\n", i+1, line)
		}
		b.WriteByte('\n')
	}

	if len(shots) > 0 {
		b.WriteString("## Screenshots\n\n")
		for i, sh := range shots {
			fmt.Fprintf(&b, "- %s (attached as `%s`)\n", escapeMarkdown(sh.Description), attachmentName(i))
		}
	}
	return b.String()
}

func summaryReport(sum worklog.Summary) string {
	var b strings.Builder
	b.WriteString("# Worklog automation summary\n\n")
	b.WriteString("| Users | Succeeded | Failed | Skipped |\n|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %d |\n\n", sum.Total, sum.Succeeded, sum.Failed, sum.Skipped)
	for _, res := range sum.Results {
		if res == nil {
			continue
		}
		fmt.Fprintf(&b, "- %s %s: %s\n", res.Status, escapeMarkdown(res.User), escapeMarkdown(res.Message))
	}
	return b.String()
}

func renderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("rendering report: %w", err)
	}
	return buf.String(), nil
}
