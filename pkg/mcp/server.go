// Package mcp exposes read-only ledger queries to MCP clients over stdio
// using JSON-RPC 2.0.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"

	"go.uber.org/zap"

	"github.com/budgetly/budgetly/pkg/models"
	"github.com/budgetly/budgetly/pkg/schedule"
)

// Ledger is the read side of the ledger engine.
type Ledger interface {
	GetBudgets(ctx context.Context) ([]string, error)
	GetBudgetDetails(ctx context.Context, name string) (models.BudgetDetails, error)
	Breakdown(ctx context.Context, name string) (schedule.Breakdown, error)
	TotalBalance(ctx context.Context, name string) (*big.Int, error)
	GetAvailableBalanceToRelease(ctx context.Context, name string) (*big.Int, error)
	IsAllowed(ctx context.Context, token string) (bool, error)
}

// EventQuerier reads the event log.
type EventQuerier interface {
	Query(ctx context.Context, opts models.EventQueryOpts) ([]models.Event, error)
}

// Server is a minimal MCP server over a line-delimited JSON-RPC stream.
type Server struct {
	ledger  Ledger
	events  EventQuerier
	logger  *zap.Logger
	version string
}

// New creates a new MCP Server. events may be nil.
func New(l Ledger, events EventQuerier, logger *zap.Logger, version string) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		ledger:  l,
		events:  events,
		logger:  logger,
		version: version,
	}
}

// Run reads JSON-RPC requests from r line-by-line and writes responses to w.
// It blocks until r is closed or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(w, errorResponse(nil, CodeParseError, "parse error"))
			continue
		}

		if resp := s.dispatch(ctx, &req); resp != nil {
			s.writeResponse(w, resp)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return resultResponse(req.ID, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      Implementation{Name: "budgetly", Version: s.version},
			Capabilities:    Capabilities{Tools: &ToolsCapability{}},
		})
	case "notifications/initialized":
		return nil
	case "tools/list":
		return resultResponse(req.ID, ToolsListResult{Tools: allTools})
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params")
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return resultResponse(req.ID, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}
	return resultResponse(req.ID, handler(ctx, s, params.Arguments))
}

func (s *Server) writeResponse(w io.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("mcp marshal", zap.Error(err))
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.logger.Error("mcp write", zap.Error(err))
	}
}
