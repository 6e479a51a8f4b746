// Package toolserver speaks line-delimited JSON-RPC on stdio so agent
// hosts can reach the governance engine as a tool provider. One request
// per line, one response per line; malformed input gets an error
// response and the loop keeps serving.
package toolserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/khoregos/k6s/audit"
	"github.com/khoregos/k6s/boundary"
	"github.com/khoregos/k6s/lock"
	"github.com/khoregos/k6s/state"
	"github.com/khoregos/k6s/types"
)

// ProtocolVersion is the tool protocol revision answered to initialize.
const ProtocolVersion = "2024-11-05"

// maxLineBytes bounds a single request line.
const maxLineBytes = 4 * 1024 * 1024

// Config holds configuration for the server.
type Config struct {
	// ServerName and ServerVersion are reported in initialize.
	ServerName    string
	ServerVersion string

	// OnError is called for per-request failures that were converted
	// into error responses.
	OnError func(err error)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ServerName:    "khoregos",
		ServerVersion: "dev",
	}
}

// Server serves governance tools over a line-delimited JSON-RPC stream.
type Server struct {
	config     *Config
	state      *state.Manager
	logger     *audit.Logger
	locks      *lock.Manager
	enforcer   *boundary.Enforcer
	boundaries []types.BoundaryConfig
	sessionID  string

	writeMu sync.Mutex
}

// NewServer wires the server against one session's components.
func NewServer(sessionID string, st *state.Manager, logger *audit.Logger, locks *lock.Manager, enforcer *boundary.Enforcer, boundaries []types.BoundaryConfig, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.ServerName == "" {
		config.ServerName = DefaultConfig().ServerName
	}
	if config.ServerVersion == "" {
		config.ServerVersion = DefaultConfig().ServerVersion
	}

	return &Server{
		config:     config,
		state:      st,
		logger:     logger,
		locks:      locks,
		enforcer:   enforcer,
		boundaries: boundaries,
		sessionID:  sessionID,
	}
}

// Serve reads requests line by line until EOF or context cancellation.
// Protocol errors never terminate the loop.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

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

		resp := s.handleLine(ctx, line)
		if resp == nil {
			continue
		}
		if err := s.write(w, resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (s *Server) write(w io.Writer, resp *Response) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// handleLine parses one request and routes it. Returns nil for
// notifications.
func (s *Server) handleLine(ctx context.Context, line []byte) *Response {
	req, err := UnmarshalRequest(line)
	if err != nil {
		s.reportError(err)
		return NewErrorResponse(nil, ParseError, "parse error", err.Error())
	}

	resp := s.handleRequest(ctx, req)
	if req.IsNotification() {
		return nil
	}
	return resp
}

func (s *Server) handleRequest(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return NewResponse(req.ID, map[string]any{
			"protocolVersion": ProtocolVersion,
			"capabilities": map[string]any{
				"tools":     map[string]any{},
				"resources": map[string]any{},
			},
			"serverInfo": map[string]any{
				"name":    s.config.ServerName,
				"version": s.config.ServerVersion,
			},
		})

	case "notifications/initialized":
		return nil

	case "tools/list":
		return NewResponse(req.ID, map[string]any{"tools": toolDefinitions()})

	case "tools/call":
		return s.handleToolCall(ctx, req)

	case "resources/list":
		return NewResponse(req.ID, map[string]any{"resources": resourceDefinitions()})

	case "resources/read":
		return s.handleResourceRead(ctx, req)

	case "ping":
		return NewResponse(req.ID, map[string]any{})

	default:
		return NewErrorResponse(req.ID, MethodNotFound,
			fmt.Sprintf("method not found: %s", req.Method), nil)
	}
}

// handleToolCall dispatches a tool invocation. Tool failures are
// reported inside the result payload, not as protocol errors.
func (s *Server) handleToolCall(ctx context.Context, req *Request) *Response {
	name, _ := req.Params["name"].(string)
	if name == "" {
		return NewErrorResponse(req.ID, InvalidParams, "missing tool name", nil)
	}
	args, _ := req.Params["arguments"].(map[string]any)

	result, err := s.callTool(ctx, name, args)
	if err != nil {
		s.reportError(err)
		return NewResponse(req.ID, map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": fmt.Sprintf("Error: %s", err)},
			},
			"isError": true,
		})
	}

	text, err := json.Marshal(result)
	if err != nil {
		return NewErrorResponse(req.ID, InternalError, err.Error(), nil)
	}
	return NewResponse(req.ID, map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": string(text)},
		},
	})
}

func (s *Server) handleResourceRead(ctx context.Context, req *Request) *Response {
	uri, _ := req.Params["uri"].(string)
	if uri == "" {
		return NewErrorResponse(req.ID, InvalidParams, "missing uri", nil)
	}

	payload, err := s.readResource(ctx, uri)
	if err != nil {
		s.reportError(err)
		return NewErrorResponse(req.ID, ServerError, err.Error(), nil)
	}

	text, err := json.Marshal(payload)
	if err != nil {
		return NewErrorResponse(req.ID, InternalError, err.Error(), nil)
	}
	return NewResponse(req.ID, map[string]any{
		"contents": []map[string]any{
			{"uri": uri, "mimeType": "application/json", "text": string(text)},
		},
	})
}

func (s *Server) reportError(err error) {
	if s.config.OnError != nil {
		s.config.OnError(err)
	}
}
