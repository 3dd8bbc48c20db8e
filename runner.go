package convengine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/convengine/pkg/domain"
	"github.com/aretw0/convengine/pkg/ports"
)

// Runner drives an interactive conversation over line-oriented IO, one turn
// per input line. It lets the engine be exercised from a terminal or a test.
type Runner struct {
	Input          io.Reader
	Output         io.Writer
	ConversationID string

	// Headless suppresses the banner and prompt.
	Headless bool

	// Renderer formats each turn result. Defaults to RenderResult.
	Renderer func(*domain.EngineResult) string
}

// Run processes lines until EOF, "exit" or "quit", or ctx is done.
// A failed turn is reported on Output and the loop continues.
func (r *Runner) Run(ctx context.Context, engine ports.TurnProcessor) error {
	if r.Input == nil {
		return errors.New("input reader must be set (use os.Stdin)")
	}
	if r.Output == nil {
		return errors.New("output writer must be set (use os.Stdout)")
	}
	render := r.Renderer
	if render == nil {
		render = RenderResult
	}

	lines := bufio.NewScanner(r.Input)
	id := r.ConversationID
	if !r.Headless {
		fmt.Fprintln(r.Output, "--- convengine chat (exit to quit) ---")
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !r.Headless {
			fmt.Fprint(r.Output, "> ")
		}
		if !lines.Scan() {
			if err := lines.Err(); err != nil {
				return fmt.Errorf("input error: %w", err)
			}
			return nil
		}

		text := strings.TrimSpace(lines.Text())
		if text == "" {
			continue
		}
		if text == "exit" || text == "quit" {
			if !r.Headless {
				fmt.Fprintln(r.Output, "Bye!")
			}
			return nil
		}

		res, err := engine.Process(ctx, ports.Turn{ConversationID: id, Text: text})
		if err != nil {
			fmt.Fprintf(r.Output, "error: %v\n", err)
			continue
		}
		// Keep talking to the conversation the engine created.
		id = res.ConversationID
		fmt.Fprintln(r.Output, render(res))
	}
}

// RenderResult prints the payload when it is text, otherwise the dialogue
// position followed by the JSON payload.
func RenderResult(res *domain.EngineResult) string {
	if s, ok := res.Payload.(string); ok && s != "" {
		return s
	}
	line := fmt.Sprintf("[intent=%s state=%s]", res.Intent, res.State)
	if res.Payload != nil {
		if b, err := json.Marshal(res.Payload); err == nil {
			line += " " + string(b)
		}
	}
	return line
}
