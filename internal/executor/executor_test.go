// internal/executor/executor_test.go
package executor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colebrumley/cardmask/internal/config"
)

const (
	card   = "4111111111111111"
	masked = "XXXXXXXXXXXXXXXX"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0640))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestMaskFile_NewOutput(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.log")
	dst := filepath.Join(dir, "out", "in.log")
	writeFile(t, src, "paid with "+card+"\n")

	stats, err := MaskFile(context.Background(), src, dst, false)
	require.NoError(t, err)

	assert.Equal(t, "paid with "+masked+"\n", readFile(t, dst))
	assert.Equal(t, "paid with "+card+"\n", readFile(t, src))
	assert.EqualValues(t, 1, stats.Matches)
	assert.EqualValues(t, 16, stats.DigitsMasked)
	assert.EqualValues(t, len("paid with "+card+"\n"), stats.BytesOut)

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())
}

func TestMaskFile_InPlace(t *testing.T) {
	src := filepath.Join(t.TempDir(), "in.log")
	writeFile(t, src, card)

	_, err := MaskFile(context.Background(), src, src, false)
	require.NoError(t, err)
	assert.Equal(t, masked, readFile(t, src))

	entries, err := os.ReadDir(filepath.Dir(src))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestMaskFile_ExistingOutput(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.log")
	dst := filepath.Join(dir, "out.log")
	writeFile(t, src, card)
	writeFile(t, dst, "keep me")

	_, err := MaskFile(context.Background(), src, dst, false)
	assert.True(t, errors.Is(err, ErrOutputExists))
	assert.Equal(t, "keep me", readFile(t, dst))

	_, err = MaskFile(context.Background(), src, dst, true)
	require.NoError(t, err)
	assert.Equal(t, masked, readFile(t, dst))
}

func TestMaskFile_MissingInput(t *testing.T) {
	_, err := MaskFile(context.Background(), filepath.Join(t.TempDir(), "nope"), "x", false)
	assert.Error(t, err)
}

func TestInputs_Globs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.log"), "a")
	writeFile(t, filepath.Join(dir, "b.log"), "b")
	writeFile(t, filepath.Join(dir, "c.txt"), "c")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "d.log"), 0755))

	job := &config.Job{Source: config.Source{Paths: []string{
		filepath.Join(dir, "*.log"),
		filepath.Join(dir, "a.log"),
	}}}
	inputs, err := Inputs(job, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.log"), filepath.Join(dir, "b.log")}, inputs)
}

func TestInputs_EventFilePath(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "event.log")
	writeFile(t, p, "x")

	job := &config.Job{Source: config.Source{Paths: []string{filepath.Join(dir, "*.other")}}}
	inputs, err := Inputs(job, map[string]any{"file_path": p})
	require.NoError(t, err)
	assert.Equal(t, []string{p}, inputs)

	_, err = Inputs(job, map[string]any{"file_path": filepath.Join(dir, "gone.log")})
	assert.True(t, errors.Is(err, ErrNoInputs))
}

func TestInputs_NoMatches(t *testing.T) {
	job := &config.Job{Source: config.Source{Paths: []string{filepath.Join(t.TempDir(), "*.log")}}}
	_, err := Inputs(job, nil)
	assert.True(t, errors.Is(err, ErrNoInputs))
}

func TestOutputPath(t *testing.T) {
	job := &config.Job{Name: "j", Output: config.Output{Path: "/out/{{base}}.masked{{ext}}"}}
	out, err := OutputPath(job, nil, "/var/log/app.log")
	require.NoError(t, err)
	assert.Equal(t, "/out/app.masked.log", out)

	job.Output.Path = ""
	out, err = OutputPath(job, nil, "/var/log/app.log")
	require.NoError(t, err)
	assert.Equal(t, "/var/log/app.log", out)

	job.Output.Path = "/out/{{nope}}"
	_, err = OutputPath(job, nil, "/var/log/app.log")
	assert.True(t, errors.Is(err, config.ErrInvalidJob))
}

func TestOutputPath_SanitizesEventData(t *testing.T) {
	job := &config.Job{Name: "j", Output: config.Output{Path: "/out/{{tenant}}.log"}}
	out, err := OutputPath(job, map[string]any{"tenant": "../../etc/passwd"}, "")
	require.NoError(t, err)
	assert.Equal(t, "/out", filepath.Dir(out))
	assert.NotContains(t, out, "..")
}

func TestExecute_Paths(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "in", "a.log"), "card "+card+"\n")
	writeFile(t, filepath.Join(dir, "in", "b.log"), "no numbers here\n")

	job := &config.Job{
		Name:   "mask-logs",
		Source: config.Source{Paths: []string{filepath.Join(dir, "in", "*.log")}},
		Output: config.Output{Path: filepath.Join(dir, "out", "{{base}}.masked{{ext}}")},
	}
	res, err := Execute(context.Background(), job, nil)
	require.NoError(t, err)

	assert.Equal(t, StateSuccess, res.State)
	require.Len(t, res.Files, 2)
	assert.EqualValues(t, 1, res.Stats.Matches)
	assert.Equal(t, "card "+masked+"\n", readFile(t, filepath.Join(dir, "out", "a.masked.log")))
	assert.Equal(t, "no numbers here\n", readFile(t, filepath.Join(dir, "out", "b.masked.log")))
	assert.Contains(t, res.Output, "masked "+filepath.Join(dir, "in", "a.log"))
}

func TestExecute_EventFileInPlace(t *testing.T) {
	p := filepath.Join(t.TempDir(), "drop.log")
	writeFile(t, p, card)

	job := &config.Job{Name: "watch"}
	res, err := Execute(context.Background(), job, map[string]any{"file_path": p})
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, res.State)
	assert.Equal(t, masked, readFile(t, p))
}

func TestExecute_NoInputsSkipped(t *testing.T) {
	job := &config.Job{Name: "empty", Source: config.Source{Paths: []string{filepath.Join(t.TempDir(), "*.log")}}}
	res, err := Execute(context.Background(), job, nil)
	require.NoError(t, err)
	assert.Equal(t, StateSkipped, res.State)
}

func TestExecute_DryRun(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.log")
	writeFile(t, src, card)

	job := &config.Job{
		Name:   "dry",
		DryRun: true,
		Source: config.Source{Paths: []string{src}},
		Output: config.Output{Path: filepath.Join(dir, "out.log"), RemoveSource: true},
	}
	res, err := Execute(context.Background(), job, nil)
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, res.State)
	assert.EqualValues(t, 1, res.Stats.Matches)
	assert.Contains(t, res.Output, "would mask")

	assert.Equal(t, card, readFile(t, src))
	_, err = os.Stat(filepath.Join(dir, "out.log"))
	assert.True(t, os.IsNotExist(err))
}

func TestExecute_RemoveSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.log")
	writeFile(t, src, card)

	job := &config.Job{
		Name:   "move",
		Source: config.Source{Paths: []string{src}},
		Output: config.Output{Path: filepath.Join(dir, "clean", "{{name}}"), RemoveSource: true},
	}
	res, err := Execute(context.Background(), job, nil)
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, res.State)

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, masked, readFile(t, filepath.Join(dir, "clean", "a.log")))
}

func TestExecute_FailureKeepsOtherFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.log"), card)
	writeFile(t, filepath.Join(dir, "b.log"), card)
	writeFile(t, filepath.Join(dir, "out", "a.log"), "existing")

	job := &config.Job{
		Name:   "partial",
		Source: config.Source{Paths: []string{filepath.Join(dir, "*.log")}},
		Output: config.Output{Path: filepath.Join(dir, "out", "{{name}}")},
	}
	res, err := Execute(context.Background(), job, nil)
	require.NoError(t, err)
	assert.Equal(t, StateFailure, res.State)
	assert.Contains(t, res.Error, "output file exists")
	assert.Equal(t, masked, readFile(t, filepath.Join(dir, "out", "b.log")))
}

func TestExecute_Cancelled(t *testing.T) {
	src := filepath.Join(t.TempDir(), "a.log")
	writeFile(t, src, card)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := &config.Job{Name: "c", Source: config.Source{Paths: []string{src}}}
	res, err := Execute(ctx, job, nil)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, res.State)
	assert.Equal(t, card, readFile(t, src))
}

func TestExecute_Command(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	out := filepath.Join(t.TempDir(), "dump.txt")
	job := &config.Job{
		Name:   "dump",
		Source: config.Source{Command: []string{"sh", "-c", "echo order " + card + "; echo warn >&2"}},
		Output: config.Output{Path: out},
	}
	res, err := Execute(context.Background(), job, nil)
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, res.State)
	assert.Equal(t, "order "+masked+"\n", readFile(t, out))
	assert.Contains(t, res.Output, "warn")
}

func TestExecute_CommandFails(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	out := filepath.Join(t.TempDir(), "dump.txt")
	job := &config.Job{
		Name:   "dump",
		Source: config.Source{Command: []string{"sh", "-c", "echo partial; exit 3"}},
		Output: config.Output{Path: out},
	}
	res, err := Execute(context.Background(), job, nil)
	require.NoError(t, err)
	assert.Equal(t, StateFailure, res.State)
	assert.Contains(t, res.Error, "command failed")

	_, err = os.Stat(out)
	assert.True(t, os.IsNotExist(err), "failed command must not leave output")
}

func TestExecute_Timeout(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	job := &config.Job{
		Name:              "slow",
		MaxTimeoutSeconds: 1,
		Source:            config.Source{Command: []string{"sleep", "10"}},
		Output:            config.Output{Path: filepath.Join(t.TempDir(), "out")},
	}
	res, err := Execute(context.Background(), job, nil)
	require.NoError(t, err)
	assert.Equal(t, StateTimeout, res.State)
}

func TestIsTempFile(t *testing.T) {
	assert.True(t, IsTempFile("/var/log/.app.log.cardmask-123456"))
	assert.False(t, IsTempFile("/var/log/app.log"))
	assert.False(t, IsTempFile("/var/log/.hidden"))
	assert.False(t, IsTempFile(strings.Repeat("a", 3)))
}
