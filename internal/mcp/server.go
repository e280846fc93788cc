// Package mcp serves the tool catalog over JSON-RPC 2.0 on stdio,
// newline-delimited. Stdout carries only protocol frames; all logging
// goes through the structured logger.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/basket/taskdeck/internal/shared"
	"github.com/basket/taskdeck/internal/task"
	"github.com/basket/taskdeck/internal/tools"
)

const protocolVersion = "2024-11-05"

// JSONRPCRequest is a JSON-RPC 2.0 request or notification.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse is a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id,omitempty"`
	Result  any           `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError is a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Server reads newline-delimited JSON-RPC requests and dispatches tool
// calls to the handler.
type Server struct {
	handler *tools.Handler
	logger  *slog.Logger
	name    string
	version string

	reader io.Reader
	writer io.Writer

	mu        sync.Mutex // guards writer and sessionID
	sessionID string
}

// NewServer builds a stdio server.
func NewServer(handler *tools.Handler, logger *slog.Logger) *Server {
	return NewServerIO(handler, logger, os.Stdin, os.Stdout)
}

// NewServerIO builds a server over explicit streams, used by tests.
func NewServerIO(handler *tools.Handler, logger *slog.Logger, r io.Reader, w io.Writer) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		handler: handler,
		logger:  logger,
		name:    "taskdeck",
		version: "0.1.0",
		reader:  r,
		writer:  w,
	}
}

// Serve runs the read loop until EOF, an exit notification, or context
// cancellation.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(s.reader)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("read request: %w", err)
			}
			s.logger.Info("mcp client disconnected")
			return nil
		case line := <-lines:
			if len(line) == 0 {
				continue
			}
			resp, exit := s.process(ctx, line)
			if resp != nil {
				if err := s.send(resp); err != nil {
					return fmt.Errorf("send response: %w", err)
				}
			}
			if exit {
				return nil
			}
		}
	}
}

func (s *Server) send(resp *JSONRPCResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc := json.NewEncoder(s.writer)
	return enc.Encode(resp)
}

// process handles one frame. The second return is true when the client
// asked the server to exit.
func (s *Server) process(ctx context.Context, line []byte) (resp *JSONRPCResponse, exit bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in request handler", "panic", r)
			resp = &JSONRPCResponse{
				JSONRPC: "2.0",
				Error:   &JSONRPCError{Code: InternalError, Message: "internal server error"},
			}
		}
	}()

	var req JSONRPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			Error:   &JSONRPCError{Code: ParseError, Message: "parse error", Data: err.Error()},
		}, false
	}
	if req.JSONRPC != "2.0" {
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &JSONRPCError{Code: InvalidRequest, Message: "json-rpc 2.0 required"},
		}, false
	}

	ctx = shared.WithTraceID(ctx, shared.NewTraceID())
	if sid := s.session(); sid != "" {
		ctx = shared.WithSessionID(ctx, sid)
	}

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req), false
	case "initialized", "notifications/initialized":
		return nil, false
	case "shutdown":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID}, false
	case "exit", "notifications/exit":
		s.logger.Info("mcp exit requested")
		return nil, true
	case "tools/list":
		return s.handleToolsList(req), false
	case "tools/call":
		return s.handleToolCall(ctx, req), false
	default:
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &JSONRPCError{Code: MethodNotFound, Message: fmt.Sprintf("unknown method: %s", req.Method)},
		}, false
	}
}

func (s *Server) session() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Server) handleInitialize(req JSONRPCRequest) *JSONRPCResponse {
	var params struct {
		ProtocolVersion string `json:"protocolVersion"`
		ClientInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"clientInfo"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return &JSONRPCResponse{
				JSONRPC: "2.0",
				ID:      req.ID,
				Error:   &JSONRPCError{Code: InvalidParams, Message: "invalid params", Data: err.Error()},
			}
		}
	}
	if params.ClientInfo.Name != "" {
		s.mu.Lock()
		s.sessionID = fmt.Sprintf("%s/%s", params.ClientInfo.Name, shared.NewTraceID())
		s.mu.Unlock()
	}
	s.logger.Info("mcp session initialized",
		"client", params.ClientInfo.Name,
		"client_version", params.ClientInfo.Version,
		"protocol", params.ProtocolVersion)

	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]any{
				"tools": map[string]any{"listChanged": false},
			},
			"serverInfo": map[string]any{
				"name":    s.name,
				"version": s.version,
			},
		},
	}
}

func (s *Server) handleToolsList(req JSONRPCRequest) *JSONRPCResponse {
	catalog := s.handler.Catalog()
	list := make([]map[string]any, 0, len(catalog.Tools()))
	for _, t := range catalog.Tools() {
		list = append(list, map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"inputSchema": t.InputSchema,
		})
	}
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  map[string]any{"tools": list},
	}
}

func (s *Server) handleToolCall(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &JSONRPCError{Code: InvalidParams, Message: "invalid params", Data: err.Error()},
		}
	}

	result, err := s.handler.Call(ctx, params.Name, params.Arguments)
	if err != nil {
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   rpcError(err),
		}
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &JSONRPCError{Code: InternalError, Message: "serialize result", Data: err.Error()},
		}
	}
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": string(payload)},
			},
		},
	}
}

// rpcError maps domain errors onto wire codes with a machine-readable
// kind, so callers can self-correct without string matching.
func rpcError(err error) *JSONRPCError {
	kind, retryable := errorKind(err)
	code := InvalidParams
	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		code = MethodNotFound
	case retryable, kind == "internal":
		code = InternalError
	}
	return &JSONRPCError{
		Code:    code,
		Message: err.Error(),
		Data:    map[string]any{"kind": kind, "retryable": retryable},
	}
}

func errorKind(err error) (kind string, retryable bool) {
	var (
		malformed  *task.MalformedError
		transition *task.TransitionError
		unmet      *task.DependencyUnmetError
		cycle      *task.CycleError
		reference  *task.ReferenceError
	)
	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		return "unknown_tool", false
	case errors.As(err, &malformed):
		return "malformed_input", false
	case errors.As(err, &transition):
		return "invalid_transition", false
	case errors.As(err, &unmet):
		return "dependency_unmet", false
	case errors.As(err, &cycle):
		return "cycle_detected", false
	case errors.As(err, &reference):
		return "referential_integrity", false
	case errors.Is(err, task.ErrNotFound):
		return "not_found", false
	case errors.Is(err, task.ErrBusy):
		return "busy", true
	}
	return "internal", false
}
