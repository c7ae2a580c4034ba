// internal/mcp/server.go
package mcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/colebrumley/cardmask/internal/mask"
	"github.com/colebrumley/cardmask/internal/state"
)

// maxTextLen caps mask_text input.
const maxTextLen = 1 << 20

// Server wraps the MCP server with masking tools
type Server struct {
	db     *state.DB
	server *mcp.Server
}

// MaskTextInput is the input schema for the mask_text tool
type MaskTextInput struct {
	Text string `json:"text" jsonschema:"Text that may contain payment card numbers"`
}

// MaskTextOutput is the output schema for the mask_text tool
type MaskTextOutput struct {
	Masked       string `json:"masked"`
	Matches      int64  `json:"matches"`
	DigitsMasked int64  `json:"digits_masked"`
}

// LuhnCheckInput is the input schema for the luhn_check tool
type LuhnCheckInput struct {
	Number string `json:"number" jsonschema:"Card number; spaces and hyphens are ignored"`
}

// LuhnCheckOutput is the output schema for the luhn_check tool
type LuhnCheckOutput struct {
	Valid  bool   `json:"valid"`
	Digits int    `json:"digits"`
	Reason string `json:"reason,omitempty"`
}

// HistoryInput is the input schema for the mask_history tool
type HistoryInput struct {
	Job   string `json:"job,omitempty" jsonschema:"Only runs of this job"`
	State string `json:"state,omitempty" jsonschema:"Only runs in this state: success, failure, timeout, cancelled, skipped"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum runs to return (default 20)"`
}

// HistoryOutput is the output schema for the mask_history tool
type HistoryOutput struct {
	Runs   []RunSummary `json:"runs"`
	Count  int          `json:"count"`
	Totals state.Totals `json:"totals"`
}

// RunSummary is one run in mask_history results
type RunSummary struct {
	ID           int64     `json:"id"`
	Job          string    `json:"job"`
	State        string    `json:"state"`
	StartedAt    time.Time `json:"started_at"`
	DurationMs   int64     `json:"duration_ms"`
	Files        int       `json:"files"`
	Matches      int64     `json:"matches"`
	DigitsMasked int64     `json:"digits_masked"`
	Error        string    `json:"error,omitempty"`
}

// NewServer creates a new MCP server backed by the run history at dbPath.
func NewServer(dbPath string) (*Server, error) {
	db, err := state.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}

	s := &Server{db: db}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "cardmask",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mask_text",
		Description: "Replace the digits of every Luhn-valid 14 to 16 digit card number in the text with X. Spaces and hyphens inside numbers are kept. Use before quoting logs or user data that may hold card numbers.",
	}, s.handleMaskText)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "luhn_check",
		Description: "Check whether a string is a 14 to 16 digit number that passes the Luhn checksum.",
	}, s.handleLuhnCheck)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mask_history",
		Description: "List recent masking job runs with their match counts, newest first, plus totals.",
	}, s.handleHistory)

	s.server = server
	return s, nil
}

func (s *Server) handleMaskText(ctx context.Context, req *mcp.CallToolRequest, input MaskTextInput) (*mcp.CallToolResult, MaskTextOutput, error) {
	if len(input.Text) > maxTextLen {
		return nil, MaskTextOutput{}, fmt.Errorf("text is %d bytes, limit is %d", len(input.Text), maxTextLen)
	}
	var out bytes.Buffer
	w := mask.NewWriter(&out)
	w.Write([]byte(input.Text))
	if err := w.Flush(); err != nil {
		return nil, MaskTextOutput{}, fmt.Errorf("masking text: %w", err)
	}
	stats := w.Stats()
	return nil, MaskTextOutput{
		Masked:       out.String(),
		Matches:      stats.Matches,
		DigitsMasked: stats.DigitsMasked,
	}, nil
}

func (s *Server) handleLuhnCheck(ctx context.Context, req *mcp.CallToolRequest, input LuhnCheckInput) (*mcp.CallToolResult, LuhnCheckOutput, error) {
	out := LuhnCheckOutput{}
	for i := 0; i < len(input.Number); i++ {
		switch class, _ := mask.Classify(input.Number[i]); class {
		case mask.Digit:
			out.Digits++
		case mask.Other:
			out.Reason = fmt.Sprintf("unexpected character %q", input.Number[i])
			return nil, out, nil
		}
	}
	switch {
	case out.Digits < mask.MinLength:
		out.Reason = fmt.Sprintf("too few digits (minimum %d)", mask.MinLength)
	case out.Digits > mask.MaxLength:
		out.Reason = fmt.Sprintf("too many digits (maximum %d)", mask.MaxLength)
	case !mask.Valid(input.Number):
		out.Reason = "checksum mismatch"
	default:
		out.Valid = true
	}
	return nil, out, nil
}

func (s *Server) handleHistory(ctx context.Context, req *mcp.CallToolRequest, input HistoryInput) (*mcp.CallToolResult, HistoryOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}
	records, err := s.db.GetHistory(input.Job, input.State, limit)
	if err != nil {
		return nil, HistoryOutput{}, fmt.Errorf("failed to read history: %w", err)
	}
	totals, err := s.db.Totals(input.Job)
	if err != nil {
		return nil, HistoryOutput{}, fmt.Errorf("failed to sum history: %w", err)
	}

	runs := make([]RunSummary, len(records))
	for i, r := range records {
		runs[i] = RunSummary{
			ID:           r.ID,
			Job:          r.JobName,
			State:        r.State,
			StartedAt:    r.StartedAt,
			DurationMs:   r.DurationMs,
			Files:        r.Files,
			Matches:      r.Matches,
			DigitsMasked: r.DigitsMasked,
			Error:        r.Error,
		}
	}
	return nil, HistoryOutput{Runs: runs, Count: len(runs), Totals: totals}, nil
}

// Run starts the MCP server on stdio
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Handler returns the streamable HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, nil)
}

// RunHTTP serves the MCP server over streamable HTTP on addr until ctx is
// cancelled.
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Close closes the database connection
func (s *Server) Close() error {
	return s.db.Close()
}
