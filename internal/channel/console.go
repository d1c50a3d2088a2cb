package channel

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/soyeahso/relay/internal/domain"
	"github.com/soyeahso/relay/internal/logging"
)

// Console renders events to a terminal. Fragments are written as they
// arrive with no trailing newline, so the reply appears to type itself;
// the finalized event closes the line.
type Console struct {
	out io.Writer
	log *logging.Logger

	mu        sync.Mutex
	streaming bool
}

// NewConsole creates a console channel writing to out. A nil out
// defaults to stdout.
func NewConsole(out io.Writer, log *logging.Logger) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{out: out, log: log.Sub("console")}
}

func (c *Console) ID() string { return "console" }

func (c *Console) Start(ctx context.Context) error { return nil }

func (c *Console) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streaming {
		fmt.Fprintln(c.out)
		c.streaming = false
	}
	return nil
}

// Publish renders one event.
func (c *Console) Publish(_ context.Context, evt domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch evt.Kind {
	case domain.KindFragment:
		fmt.Fprint(c.out, evt.Text)
		c.streaming = true

	case domain.KindFinalized:
		if c.streaming {
			fmt.Fprintln(c.out)
			c.streaming = false
		} else if evt.Text != "" {
			// No fragments streamed for this message; print it whole.
			fmt.Fprintln(c.out, evt.Text)
		}

	case domain.KindToolCall:
		c.endStream()
		fmt.Fprintf(c.out, "[tool: %s]\n", evt.ToolName)

	case domain.KindStatus:
		if evt.Status != domain.RunCompleted {
			c.endStream()
			fmt.Fprintf(c.out, "[run %s]\n", evt.Status)
		}

	case domain.KindError:
		c.endStream()
		fmt.Fprintf(c.out, "[error: %s]\n", evt.Error)

	case domain.KindGap:
		c.endStream()
		fmt.Fprintln(c.out, "[some earlier output is no longer available]")
	}
	return nil
}

// endStream closes a dangling fragment line before out-of-band output.
// Caller holds the mutex.
func (c *Console) endStream() {
	if c.streaming {
		fmt.Fprintln(c.out)
		c.streaming = false
	}
}
