package tui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/convengine"
	"github.com/aretw0/convengine/pkg/domain"
	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
)

// NewRenderer returns a turn renderer for the interactive chat. Text payloads
// are rendered as markdown, structured payloads as a JSON code block, and the
// dialogue position as a faint header line. Colors follow what w supports.
// opts replace the default auto-detected style.
func NewRenderer(w io.Writer, opts ...glamour.TermRendererOption) (func(*domain.EngineResult) string, error) {
	if len(opts) == 0 {
		opts = []glamour.TermRendererOption{glamour.WithAutoStyle(), glamour.WithWordWrap(80)}
	}
	md, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	out := termenv.NewOutput(w)

	return func(res *domain.EngineResult) string {
		var b strings.Builder
		if res.Intent != "" || res.State != "" {
			header := fmt.Sprintf("[intent=%s state=%s]", res.Intent, res.State)
			b.WriteString(out.String(header).Faint().String())
			b.WriteString("\n")
		}

		body, ok := markdown(res.Payload)
		if !ok {
			if b.Len() == 0 {
				return convengine.RenderResult(res)
			}
			return strings.TrimSuffix(b.String(), "\n")
		}
		rendered, err := md.Render(body)
		if err != nil {
			rendered = body
		}
		b.WriteString(strings.Trim(rendered, "\n"))
		return b.String()
	}, nil
}

func markdown(payload any) (string, bool) {
	switch p := payload.(type) {
	case nil:
		return "", false
	case string:
		return p, p != ""
	default:
		j, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return "", false
		}
		return "```json\n" + string(j) + "\n```", true
	}
}
