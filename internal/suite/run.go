package suite

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ErrShortOutput is returned when a target produces fewer bytes than it was
// sent.
var ErrShortOutput = errors.New("target did not send the expected amount of output")

// Failure describes the first case whose output did not match.
type Failure struct {
	Case   Case
	Actual string
}

func (f *Failure) String() string {
	return fmt.Sprintf("Description:     %s\n"+
		"Input:           %s\n"+
		"Expected result: %s\n"+
		"Actual result:   %s",
		f.Case.Description, ShowBreaks(f.Case.Input), ShowBreaks(f.Case.Expected), ShowBreaks(f.Actual))
}

// Report summarizes a suite run.
type Report struct {
	Target     string
	Cases      int
	Passed     int
	Iterations []time.Duration
	Total      time.Duration
	Failure    *Failure
}

// OK reports whether every case passed in every iteration.
func (r *Report) OK() bool {
	return r.Failure == nil
}

// Mean returns the mean iteration time.
func (r *Report) Mean() time.Duration {
	if len(r.Iterations) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range r.Iterations {
		sum += d
	}
	return sum / time.Duration(len(r.Iterations))
}

// Median returns the median iteration time.
func (r *Report) Median() time.Duration {
	if len(r.Iterations) == 0 {
		return 0
	}
	sorted := slices.Clone(r.Iterations)
	slices.Sort(sorted)
	return sorted[len(sorted)/2]
}

// Fastest returns the shortest iteration time.
func (r *Report) Fastest() time.Duration {
	if len(r.Iterations) == 0 {
		return 0
	}
	return slices.Min(r.Iterations)
}

// Run sends every case to target as one stream, iterations times, and
// checks the output case by case. It stops at the first failure, which is
// recorded in the report rather than returned as an error.
func Run(ctx context.Context, target Target, cases []Case, iterations int) (*Report, error) {
	if iterations < 1 {
		return nil, fmt.Errorf("iterations must be >= 1, got %d", iterations)
	}

	var sb strings.Builder
	for _, c := range cases {
		sb.WriteString(c.Input)
	}
	input := []byte(sb.String())

	report := &Report{Target: target.Name(), Cases: len(cases)}
	start := time.Now()
	defer func() { report.Total = time.Since(start) }()

	for range iterations {
		iterStart := time.Now()
		out, err := target.Mask(ctx, input)
		if err != nil {
			return report, fmt.Errorf("running %s: %w", target.Name(), err)
		}

		off := 0
		for _, c := range cases {
			end := off + len(c.Expected)
			if end > len(out) {
				return report, ErrShortOutput
			}
			if actual := string(out[off:end]); actual != c.Expected {
				report.Failure = &Failure{Case: c, Actual: actual}
				return report, nil
			}
			report.Passed++
			off = end
		}
		report.Iterations = append(report.Iterations, time.Since(iterStart))
	}
	return report, nil
}

// ShowBreaks makes line feeds and carriage returns visible.
func ShowBreaks(s string) string {
	return strings.NewReplacer("\n", `\n`, "\r", `\r`).Replace(s)
}
