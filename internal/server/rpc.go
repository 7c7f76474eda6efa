package server

import (
	"bytes"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/copyleftdev/stratopt/internal/errors"
	"github.com/copyleftdev/stratopt/internal/jobfile"
)

// JSON-RPC 2.0 error codes.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcServerError    = -32000
)

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      any               `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

type optimizationRef struct {
	OptimizationID string `json:"optimization_id"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, rpcParseError, "Parse error", nil, nil)
		return
	}

	if request.JSONRPC != "2.0" || request.Method == "" {
		s.respondWithError(w, rpcInvalidRequest, "Invalid Request", request.ID, nil)
		return
	}

	var (
		result any
		err    error
	)
	switch request.Method {
	case "optimization.start":
		result, err = s.rpcStart(request.Params)
	case "optimization.status":
		result, err = s.rpcStatus(request.Params)
	case "optimization.result":
		result, err = s.rpcResult(request.Params)
	case "optimization.cancel":
		result, err = s.rpcCancel(request.Params)
	case "optimization.objectives":
		result = map[string][]string{"objectives": s.registry.Names()}
	default:
		s.respondWithError(w, rpcMethodNotFound, "Method not found", request.ID, nil)
		return
	}

	if err != nil {
		var pe *paramsError
		if errors.As(err, &pe) {
			s.respondWithError(w, rpcInvalidParams, "Invalid params", request.ID, map[string]any{"detail": pe.msg})
			return
		}
		data := map[string]any{"detail": err.Error(), "http_status": httpStatus(err)}
		if kind := errors.KindOf(err); kind != errors.KindUnknown {
			data["kind"] = kind
		}
		s.respondWithError(w, rpcServerError, "Server error", request.ID, data)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	})
}

type paramsError struct{ msg string }

func (e *paramsError) Error() string { return e.msg }

// firstParam decodes the single positional parameter into v.
func firstParam(params []json.RawMessage, v any) error {
	if len(params) == 0 {
		return &paramsError{"missing required parameters"}
	}
	dec := json.NewDecoder(bytes.NewReader(params[0]))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &paramsError{"invalid parameter format: " + err.Error()}
	}
	return nil
}

func optimizationID(params []json.RawMessage) (string, error) {
	var ref optimizationRef
	if err := firstParam(params, &ref); err != nil {
		return "", err
	}
	if ref.OptimizationID == "" {
		return "", &paramsError{"optimization_id is required"}
	}
	return ref.OptimizationID, nil
}

// rpcStart handles optimization.start. The parameter is a job definition.
func (s *Server) rpcStart(params []json.RawMessage) (any, error) {
	var job jobfile.Job
	if err := firstParam(params, &job); err != nil {
		return nil, err
	}
	id, err := s.Submit(&job)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"optimization_id": id,
		"status":          "pending",
	}, nil
}

func (s *Server) rpcStatus(params []json.RawMessage) (any, error) {
	id, err := optimizationID(params)
	if err != nil {
		return nil, err
	}
	return s.Status(id)
}

func (s *Server) rpcResult(params []json.RawMessage) (any, error) {
	id, err := optimizationID(params)
	if err != nil {
		return nil, err
	}
	return s.Result(id)
}

func (s *Server) rpcCancel(params []json.RawMessage) (any, error) {
	id, err := optimizationID(params)
	if err != nil {
		return nil, err
	}
	if err := s.Cancel(id); err != nil {
		return nil, err
	}
	return map[string]string{"status": "cancellation requested"}, nil
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id any, data map[string]any) {
	s.logger.Debug("JSON-RPC error",
		zap.Int("code", code),
		zap.String("message", message),
		zap.Any("data", data),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"error":   rpcError{Code: code, Message: message, Data: data},
		"id":      id,
	})
}
