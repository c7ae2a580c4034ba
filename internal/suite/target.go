package suite

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/colebrumley/cardmask/internal/mask"
)

// Target masks a complete input stream.
type Target interface {
	Name() string
	Mask(ctx context.Context, input []byte) ([]byte, error)
}

// EngineTarget runs the in-process masking engine.
type EngineTarget struct{}

func (EngineTarget) Name() string { return "engine" }

func (EngineTarget) Mask(ctx context.Context, input []byte) ([]byte, error) {
	var out bytes.Buffer
	out.Grow(len(input))
	if _, err := mask.Copy(ctx, &out, bytes.NewReader(input)); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// CommandTarget runs an external command once per call, writing the input to
// its stdin and collecting its stdout. The command's stderr is passed
// through to Stderr when set.
type CommandTarget struct {
	Path   string
	Args   []string
	Dir    string
	Stderr io.Writer
}

func (c *CommandTarget) Name() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

func (c *CommandTarget) Mask(ctx context.Context, input []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stderr = c.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", c.Path, err)
	}

	// Write in the background; the pipe blocks once the command stops
	// reading until we drain its output.
	writeErr := make(chan error, 1)
	go func() {
		_, err := stdin.Write(input)
		if cerr := stdin.Close(); err == nil {
			err = cerr
		}
		writeErr <- err
	}()

	out, readErr := io.ReadAll(stdout)
	werr := <-writeErr
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	if readErr != nil {
		return out, fmt.Errorf("reading output: %w", readErr)
	}
	if waitErr != nil {
		return out, fmt.Errorf("running %s: %w", c.Path, waitErr)
	}
	if werr != nil {
		return out, fmt.Errorf("writing input: %w", werr)
	}
	return out, nil
}
