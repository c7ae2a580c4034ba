// cmd/cardmask/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/colebrumley/cardmask/internal/config"
	"github.com/colebrumley/cardmask/internal/daemon"
	"github.com/colebrumley/cardmask/internal/executor"
	"github.com/colebrumley/cardmask/internal/mask"
	"github.com/colebrumley/cardmask/internal/security"
	"github.com/colebrumley/cardmask/internal/state"
	"github.com/colebrumley/cardmask/internal/suite"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	if _, err := config.LoadDotEnv(config.ConfigPath()); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd {
	case "mask":
		err = cmdMask(ctx, args)
	case "selftest":
		err = cmdSelftest(ctx, args)
	case "init":
		err = cmdInit()
	case "list":
		err = cmdList()
	case "validate":
		err = cmdValidate(args)
	case "run":
		err = cmdRun(ctx, args)
	case "history":
		err = cmdHistory(args)
	case "status":
		err = cmdStatus()
	case "logs":
		err = cmdLogs(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`cardmask - mask payment card numbers in streams and files

Usage: cardmask <command> [options]

Commands:
  mask [files...]     Mask stdin (or files) to stdout
  selftest            Run the conformance suite [-iterations N] [-seed S] [-- command args...]
  init                Create the config file and jobs directory
  list                List all jobs
  validate [job]      Validate jobs
  run <job>           Run a job now
  history             Show recent runs [-job NAME] [-state STATE] [-limit N] [-json]
  status              Show daemon status
  logs                View daemon logs [-f]`)
}

func loadGlobal() (*config.Global, error) {
	cfg, err := config.LoadGlobal(config.ConfigPath())
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

func cmdMask(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mask", flag.ExitOnError)
	showStats := fs.Bool("stats", false, "print match counts to stderr")
	fs.Parse(args)

	var total mask.Stats
	if fs.NArg() == 0 {
		stats, err := mask.Copy(ctx, os.Stdout, os.Stdin)
		if err != nil {
			return err
		}
		total = stats
	}
	for _, path := range fs.Args() {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		stats, err := mask.Copy(ctx, os.Stdout, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		total.Add(stats)
	}

	if *showStats {
		fmt.Fprintf(os.Stderr, "%s read, %d matches, %d digits masked\n",
			humanize.Bytes(uint64(total.BytesIn)), total.Matches, total.DigitsMasked)
	}
	return nil
}

func cmdSelftest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("selftest", flag.ExitOnError)
	iterations := fs.Int("iterations", 1, "number of passes over the suite")
	seed := fs.Int64("seed", time.Now().UnixNano(), "case generator seed")
	fs.Parse(args)

	var target suite.Target = suite.EngineTarget{}
	if fs.NArg() > 0 {
		target = &suite.CommandTarget{Path: fs.Arg(0), Args: fs.Args()[1:], Stderr: os.Stderr}
	}

	cases := suite.Generate(*seed)
	fmt.Printf("Running %d cases against %s (seed %d)\n", len(cases), target.Name(), *seed)

	report, err := suite.Run(ctx, target, cases, *iterations)
	if err != nil {
		return err
	}

	if !report.OK() {
		fmt.Printf("\nFAILED after %d passing cases\n\n%s\n", report.Passed, report.Failure)
		return fmt.Errorf("case %d failed", report.Failure.Case.Index)
	}

	fmt.Printf("All %d cases passed in %d iteration(s)\n", report.Cases, len(report.Iterations))
	fmt.Printf("Total %v, mean %v, median %v, fastest %v\n",
		report.Total, report.Mean(), report.Median(), report.Fastest())
	return nil
}

const exampleJob = `# Masks rotated application logs into a clean directory.
name: example
description: Mask card numbers in rotated logs
enabled: false
trigger:
  type: scheduled
  run_every: 1h
source:
  paths:
    - /var/log/app/*.log.1
output:
  path: /var/log/app/clean/{{base}}{{ext}}
  overwrite: true
`

func cmdInit() error {
	configPath := config.ConfigPath()
	jobsDir := config.JobsDir()

	for _, dir := range []string{filepath.Dir(configPath), jobsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
		fmt.Printf("Created %s\n", dir)
	}

	if err := os.Chmod(jobsDir, 0700); err != nil {
		return fmt.Errorf("setting jobs directory permissions: %w", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		data, err := yaml.Marshal(config.Default())
		if err != nil {
			return err
		}
		if err := os.WriteFile(configPath, data, 0600); err != nil {
			return err
		}
		fmt.Printf("Created %s\n", configPath)
	}

	examplePath := filepath.Join(jobsDir, "example.yaml")
	if _, err := os.Stat(examplePath); os.IsNotExist(err) {
		if err := os.WriteFile(examplePath, []byte(exampleJob), 0600); err != nil {
			return err
		}
		fmt.Printf("Created %s\n", examplePath)
	}

	fmt.Println("\nInitialization complete. Add jobs to:", jobsDir)
	return nil
}

func cmdList() error {
	jobs, err := config.LoadJobsDir(config.JobsDir())
	if err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-20s %-10s %-12s %s\n", "NAME", "ENABLED", "TRIGGER", "DESCRIPTION")
	fmt.Println(strings.Repeat("-", 70))

	for _, job := range jobs {
		enabled := "yes"
		if !job.Enabled {
			enabled = "no"
		}
		if job.DryRun {
			enabled += " (dry)"
		}
		desc := job.Description
		if len(desc) > 30 {
			desc = desc[:27] + "..."
		}
		fmt.Printf("%-20s %-10s %-12s %s\n", job.Name, enabled, job.Trigger.Type, desc)
	}
	return nil
}

func cmdValidate(args []string) error {
	jobsDir := config.JobsDir()

	if err := security.ValidateDirectoryPermissions(jobsDir); err != nil {
		fmt.Printf("warning: %v\n", err)
	}
	if err := security.ValidateFilePermissions(config.ConfigPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Printf("warning: %v\n", err)
	}

	jobs, err := config.LoadJobsDir(jobsDir)
	if err != nil {
		return err
	}

	byName := make(map[string]*config.Job)
	for _, job := range jobs {
		byName[job.Name] = job
	}

	var failed int
	checked := 0
	for _, job := range jobs {
		if len(args) > 0 && job.Name != args[0] {
			continue
		}
		checked++
		if err := config.ValidateJob(job); err != nil {
			fmt.Printf("✗ %v\n", err)
			failed++
			continue
		}
		for _, w := range config.ValidateJobWithGlobal(job, byName) {
			fmt.Printf("! %s\n", w)
		}
		fmt.Printf("✓ %s\n", job.Name)
	}

	if len(args) > 0 && checked == 0 {
		return fmt.Errorf("job not found: %s", args[0])
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d jobs invalid", failed, checked)
	}
	fmt.Printf("Validated %d jobs\n", checked)
	return nil
}

func cmdRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	file := fs.String("file", "", "mask this file instead of the job's source paths")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("usage: cardmask run [-file path] <job-name>")
	}

	data := map[string]any{}
	if *file != "" {
		abs, err := filepath.Abs(*file)
		if err != nil {
			return err
		}
		data["file_path"] = abs
	}

	d := daemon.New(config.ConfigPath(), config.JobsDir())
	result, err := d.RunJob(ctx, fs.Arg(0), data)
	if err != nil {
		return err
	}

	fmt.Print(result.Output)
	fmt.Printf("%s: %d files, %d matches, %d digits masked in %v\n",
		result.State, len(result.Files), result.Stats.Matches, result.Stats.DigitsMasked,
		result.Duration.Truncate(time.Millisecond))

	switch result.State {
	case executor.StateSuccess, executor.StateSkipped:
		return nil
	}
	return fmt.Errorf("job %s: %s", fs.Arg(0), result.Error)
}

func cmdHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	job := fs.String("job", "", "only runs of this job")
	st := fs.String("state", "", "only runs in this state")
	limit := fs.Int("limit", 20, "maximum runs to show")
	asJSON := fs.Bool("json", false, "print JSON")
	fs.Parse(args)

	cfg, err := loadGlobal()
	if err != nil {
		return err
	}
	db, err := state.Open(config.ExpandHome(cfg.State.Path))
	if err != nil {
		return err
	}
	defer db.Close()

	records, err := db.GetHistory(*job, *st, *limit)
	if err != nil {
		return err
	}
	totals, err := db.Totals(*job)
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"runs": records, "totals": totals})
	}

	if len(records) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	fmt.Printf("%-6s %-20s %-10s %-15s %6s %8s %s\n", "ID", "JOB", "STATE", "STARTED", "FILES", "MATCHES", "ERROR")
	fmt.Println(strings.Repeat("-", 80))
	for _, r := range records {
		errMsg := r.Error
		if len(errMsg) > 30 {
			errMsg = errMsg[:27] + "..."
		}
		fmt.Printf("%-6d %-20s %-10s %-15s %6d %8d %s\n",
			r.ID, r.JobName, r.State, humanize.Time(r.StartedAt), r.Files, r.Matches, errMsg)
	}
	fmt.Printf("\n%d runs, %s scanned, %s matches, %s digits masked\n",
		totals.Runs, humanize.Bytes(uint64(totals.BytesIn)),
		humanize.Comma(totals.Matches), humanize.Comma(totals.DigitsMasked))
	return nil
}

func cmdStatus() error {
	cfg, err := loadGlobal()
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s:%d/health", cfg.Daemon.ListenAddress, cfg.Daemon.ListenPort)
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Println("Daemon is not running")
		return nil
	}
	defer resp.Body.Close()

	var health daemon.HealthStatus
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&health); err != nil {
		return fmt.Errorf("reading health response: %w", err)
	}
	fmt.Printf("Daemon is running (%s)\n", health.Status)
	fmt.Printf("  uptime:  %s\n", health.Uptime)
	fmt.Printf("  jobs:    %d loaded, %d enabled\n", health.JobsLoaded, health.JobsEnabled)
	return nil
}

func cmdLogs(args []string) error {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	follow := fs.Bool("f", false, "follow logs")
	fs.BoolVar(follow, "follow", false, "follow logs")
	fs.Parse(args)

	cfg, err := loadGlobal()
	if err != nil {
		return err
	}
	if cfg.Logging.File == "" {
		return fmt.Errorf("logging.file is not set; the daemon logs to stdout")
	}
	logPath := config.ExpandHome(cfg.Logging.File)

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		return fmt.Errorf("log file not found: %s", logPath)
	}

	tailArgs := []string{"-n", "50"}
	if *follow {
		tailArgs = append(tailArgs, "-f")
	}
	tailArgs = append(tailArgs, logPath)

	cmd := exec.Command("tail", tailArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
