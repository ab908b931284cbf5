package player

import (
	"fmt"
	"io"
	"strings"

	"github.com/claude/njktraining/internal/movement"
	"github.com/claude/njktraining/internal/session"
)

const rule = "----------------------------------------"

// Render writes d as a plain text block.
func Render(w io.Writer, d session.Display) {
	var b strings.Builder
	b.WriteString(rule + "\n")
	title := d.Title
	if title == "" {
		title = "NJK Training"
	}
	fmt.Fprintf(&b, "%-30s%10s\n", title, d.Clock)
	if d.Exercise != "" {
		fmt.Fprintf(&b, "%s   %s\n", d.Exercise, d.Round)
	}
	for _, m := range d.Movements {
		fmt.Fprintf(&b, "  %s\n", m)
	}
	b.WriteString(d.Message + "\n")
	if d.Prompt != "" {
		b.WriteString(d.Prompt + "\n")
	}
	fmt.Fprintf(&b, "[%s]  enter=%s n=next b=back q=quit", d.Button, strings.ToLower(d.Button))
	if movement.HasGoals(strings.Join(d.Movements, "+")) {
		b.WriteString(" g=goal <movement> <goal> <value>")
	}
	b.WriteString("\n")
	io.WriteString(w, b.String())
}
