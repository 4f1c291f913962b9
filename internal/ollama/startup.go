package ollama

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotRunning is returned by EnsureReady when the server is unreachable.
var ErrNotRunning = errors.New("Ollama is not running. Start it with: ollama serve")

// EnsureReady makes model servable: the server must be up, a missing model
// is pulled (progress goes to w) and the model is then loaded. A failed load
// is reported on w but is not an error, since the first chat loads it anyway.
func EnsureReady(ctx context.Context, c *Client, model string, w io.Writer) error {
	if !c.IsRunning(ctx) {
		return ErrNotRunning
	}

	if !c.HasModel(ctx, model) {
		fmt.Fprintf(w, "ollama: pulling %s\n", model)
		last := ""
		err := c.PullModel(ctx, model, func(p PullProgress) {
			line := p.Status
			if pct := p.Percent(); pct >= 0 {
				line = fmt.Sprintf("%s %.0f%%", p.Status, pct)
			}
			// Pull streams many identical lines per layer.
			if line != last {
				fmt.Fprintf(w, "  %s\n", line)
				last = line
			}
		})
		if err != nil {
			return err
		}
	}

	loadCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	if err := c.Warm(loadCtx, model); err != nil {
		fmt.Fprintf(w, "ollama: %s not preloaded: %v\n", model, err)
		return nil
	}
	fmt.Fprintf(w, "ollama: %s ready\n", model)
	return nil
}
