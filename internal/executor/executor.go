// internal/executor/executor.go
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/colebrumley/cardmask/internal/config"
	"github.com/colebrumley/cardmask/internal/mask"
	"github.com/colebrumley/cardmask/internal/security"
	"github.com/colebrumley/cardmask/internal/template"
)

// ErrNoInputs is returned when a job has nothing to mask.
var ErrNoInputs = errors.New("no input files")

// ErrOutputExists is returned when an output file exists and the job does
// not allow overwriting it.
var ErrOutputExists = errors.New("output file exists")

// Run states.
const (
	StateSuccess   = "success"
	StateFailure   = "failure"
	StateTimeout   = "timeout"
	StateCancelled = "cancelled"
	StateSkipped   = "skipped"
)

// FileResult is the outcome for one input.
type FileResult struct {
	Input  string     `json:"input"`
	Output string     `json:"output,omitempty"`
	Stats  mask.Stats `json:"stats"`
	Error  string     `json:"error,omitempty"`
}

// Result represents the outcome of a job run.
type Result struct {
	State    string
	Files    []FileResult
	Stats    mask.Stats
	Output   string
	Error    string
	Duration time.Duration
}

// Execute masks the job's inputs. data is the triggering event's data; a
// "file_path" entry replaces source.paths. The returned error is only set
// for job definitions that cannot run at all; failures while masking are
// reported through Result.State.
func Execute(ctx context.Context, job *config.Job, data map[string]any) (*Result, error) {
	if job.MaxTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(job.MaxTimeoutSeconds)*time.Second)
		defer cancel()
	}

	start := time.Now()
	res := &Result{}

	if len(job.Source.Command) > 0 && data["file_path"] == nil {
		if err := runCommand(ctx, job, data, res); err != nil {
			return nil, err
		}
	} else {
		inputs, err := Inputs(job, data)
		if errors.Is(err, ErrNoInputs) {
			res.State = StateSkipped
			res.Error = err.Error()
			res.Duration = time.Since(start)
			return res, nil
		}
		if err != nil {
			return nil, err
		}
		for _, in := range inputs {
			if ctx.Err() != nil {
				break
			}
			fr := maskInput(ctx, job, data, in)
			res.Files = append(res.Files, fr)
			res.Stats.Add(fr.Stats)
		}
	}

	res.Duration = time.Since(start)
	res.State, res.Error = finalState(ctx, res)
	res.Output = summary(job, res) + res.Output
	return res, nil
}

func finalState(ctx context.Context, res *Result) (string, string) {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return StateTimeout, "execution timed out"
	case context.Canceled:
		return StateCancelled, "execution cancelled"
	}
	if res.Error != "" {
		return StateFailure, res.Error
	}
	var failed []string
	for _, f := range res.Files {
		if f.Error != "" {
			failed = append(failed, f.Error)
		}
	}
	if len(failed) > 0 {
		return StateFailure, strings.Join(failed, "; ")
	}
	return StateSuccess, ""
}

func summary(job *config.Job, res *Result) string {
	var b strings.Builder
	verb := "masked"
	if job.DryRun {
		verb = "would mask"
	}
	for _, f := range res.Files {
		if f.Error != "" {
			fmt.Fprintf(&b, "%s: %s\n", f.Input, f.Error)
			continue
		}
		fmt.Fprintf(&b, "%s %s -> %s: %d matches, %d digits, %s\n",
			verb, f.Input, f.Output, f.Stats.Matches, f.Stats.DigitsMasked,
			humanize.Bytes(uint64(f.Stats.BytesIn)))
	}
	return b.String()
}

// Inputs resolves the files a job masks: the event's file_path when set,
// otherwise every regular file matching the source.paths globs.
func Inputs(job *config.Job, data map[string]any) ([]string, error) {
	if p, ok := data["file_path"].(string); ok && p != "" {
		p = config.ExpandHome(p)
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			return nil, fmt.Errorf("%s: %w", p, ErrNoInputs)
		}
		return []string{p}, nil
	}

	seen := make(map[string]bool)
	var inputs []string
	for _, pattern := range job.Source.Paths {
		matches, err := filepath.Glob(config.ExpandHome(pattern))
		if err != nil {
			return nil, fmt.Errorf("bad source path %q: %w", pattern, err)
		}
		for _, m := range matches {
			if seen[m] {
				continue
			}
			if info, err := os.Stat(m); err != nil || !info.Mode().IsRegular() {
				continue
			}
			seen[m] = true
			inputs = append(inputs, m)
		}
	}
	if len(inputs) == 0 {
		return nil, ErrNoInputs
	}
	sort.Strings(inputs)
	return inputs, nil
}

// OutputPath expands the job's output template for one input. An empty
// template masks the input in place.
func OutputPath(job *config.Job, data map[string]any, input string) (string, error) {
	if job.Output.Path == "" {
		return input, nil
	}
	vars := templateData(job, data)
	if input != "" {
		for k, v := range template.PathVars(input) {
			vars[k] = v
		}
	}
	if missing := template.Unresolved(job.Output.Path, vars); len(missing) > 0 {
		return "", fmt.Errorf("%w: %s: output path uses unknown variables %s",
			config.ErrInvalidJob, job.Name, strings.Join(missing, ", "))
	}
	return config.ExpandHome(template.Expand(job.Output.Path, vars)), nil
}

// templateData turns event data into template variables. Values come from
// outside (webhook bodies, file names) so they are reduced to single path
// components.
func templateData(job *config.Job, data map[string]any) map[string]any {
	vars := map[string]any{
		"job":       job.Name,
		"timestamp": time.Now().UTC().Format("20060102T150405Z"),
	}
	for k, v := range data {
		s, ok := v.(string)
		if !ok {
			continue
		}
		vars[k] = security.SanitizePathComponent(s)
	}
	return vars
}

func maskInput(ctx context.Context, job *config.Job, data map[string]any, input string) FileResult {
	fr := FileResult{Input: input}
	out, err := OutputPath(job, data, input)
	if err != nil {
		fr.Error = err.Error()
		return fr
	}
	fr.Output = out

	if job.DryRun {
		f, err := os.Open(input)
		if err != nil {
			fr.Error = err.Error()
			return fr
		}
		defer f.Close()
		fr.Stats, err = mask.Copy(ctx, io.Discard, f)
		if err != nil {
			fr.Error = err.Error()
		}
		return fr
	}

	fr.Stats, err = MaskFile(ctx, input, out, job.Output.Overwrite)
	if err != nil {
		fr.Error = err.Error()
		return fr
	}
	if job.Output.RemoveSource && out != input {
		if err := os.Remove(input); err != nil {
			fr.Error = fmt.Sprintf("removing source: %v", err)
		}
	}
	return fr
}

// MaskFile writes a masked copy of src to dst. dst is replaced atomically
// through a temporary file in its directory, so src == dst masks in place.
// An existing dst other than src is only replaced when overwrite is set.
func MaskFile(ctx context.Context, src, dst string, overwrite bool) (mask.Stats, error) {
	in, err := os.Open(src)
	if err != nil {
		return mask.Stats{}, fmt.Errorf("opening input: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return mask.Stats{}, fmt.Errorf("reading input: %w", err)
	}

	var stats mask.Stats
	err = writeAtomic(dst, src, info.Mode().Perm(), overwrite, func(w io.Writer) error {
		var err error
		stats, err = mask.Copy(ctx, w, in)
		return err
	})
	return stats, err
}

// writeAtomic creates dst through a temp file filled by fill. same names
// the file dst may legitimately replace.
func writeAtomic(dst, same string, perm os.FileMode, overwrite bool, fill func(io.Writer) error) error {
	if !overwrite && !sameFile(dst, same) {
		if _, err := os.Stat(dst); err == nil {
			return fmt.Errorf("%s: %w", dst, ErrOutputExists)
		}
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+tempMarker+"*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if err := fill(tmp); err != nil {
		return fmt.Errorf("masking: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("replacing output: %w", err)
	}
	committed = true
	return nil
}

const tempMarker = ".cardmask-"

// IsTempFile reports whether path is a temporary file created by MaskFile.
// Watchers should ignore these.
func IsTempFile(path string) bool {
	name := filepath.Base(path)
	return strings.HasPrefix(name, ".") && strings.Contains(name, tempMarker)
}

func sameFile(a, b string) bool {
	if b == "" {
		return false
	}
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	ai, err1 := os.Stat(a)
	bi, err2 := os.Stat(b)
	return err1 == nil && err2 == nil && os.SameFile(ai, bi)
}

// runCommand masks the stdout of source.command into the output path.
func runCommand(ctx context.Context, job *config.Job, data map[string]any, res *Result) error {
	out, err := OutputPath(job, data, "")
	if err != nil {
		return err
	}

	args := job.Source.Command
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	fr := FileResult{Input: strings.Join(args, " "), Output: out}
	run := func(w io.Writer) error {
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return err
		}
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("starting command: %w", err)
		}
		stats, copyErr := mask.Copy(ctx, w, stdout)
		fr.Stats = stats
		if copyErr != nil {
			// unblock the child before waiting on it
			io.Copy(io.Discard, stdout)
		}
		waitErr := cmd.Wait()
		if copyErr != nil {
			return copyErr
		}
		if waitErr != nil {
			return fmt.Errorf("command failed: %w", waitErr)
		}
		return nil
	}

	if job.DryRun {
		err = run(io.Discard)
	} else {
		err = writeAtomic(out, "", 0644, job.Output.Overwrite, run)
	}
	if err != nil {
		fr.Error = err.Error()
	}
	res.Files = append(res.Files, fr)
	res.Stats.Add(fr.Stats)
	if stderr.Len() > 0 {
		res.Output = stderr.String()
	}
	return nil
}
