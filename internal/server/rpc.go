package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
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
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

// decodeParams accepts either a params object or a one-element array
// holding the object.
func decodeParams(raw json.RawMessage, v interface{}) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return &requestError{err: errors.New("missing required parameters")}
	}
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return &requestError{err: err}
		}
		if len(list) == 0 {
			return &requestError{err: errors.New("missing required parameters")}
		}
		raw = list[0]
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &requestError{err: fmt.Errorf("invalid parameter format: %w", err)}
	}
	return nil
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
		result interface{}
		err    error
	)
	switch request.Method {
	case "session.create":
		var params createSessionRequest
		if err = decodeParams(request.Params, &params); err == nil {
			result, err = s.createSession(params)
		}
	case "session.step":
		var params stepRequest
		if err = decodeParams(request.Params, &params); err == nil {
			if params.SessionID == "" {
				err = &requestError{err: errors.New("session_id is required")}
			} else {
				result, err = s.stepSession(params.SessionID, params)
			}
		}
	case "session.status":
		var params sessionIDRequest
		if err = decodeParams(request.Params, &params); err == nil {
			if err = s.check(params); err == nil {
				result, err = s.sessionStatus(params.SessionID)
			}
		}
	case "session.delete":
		var params sessionIDRequest
		if err = decodeParams(request.Params, &params); err == nil {
			if err = s.check(params); err == nil {
				if err = s.deleteSession(params.SessionID); err == nil {
					result = map[string]string{"status": "deleted"}
				}
			}
		}
	default:
		s.respondWithError(w, rpcMethodNotFound, "Method not found", request.ID, nil)
		return
	}

	if err != nil {
		var reqErr *requestError
		if errors.As(err, &reqErr) {
			s.respondWithError(w, rpcInvalidParams, "Invalid params", request.ID, err)
			return
		}
		s.respondWithError(w, rpcServerError, "Server error", request.ID, err)
		return
	}

	writeJSON(w, http.StatusOK, rpcResponse{
		JSONRPC: "2.0",
		ID:      request.ID,
		Result:  result,
	})
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}, cause error) {
	fields := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	rerr := &rpcError{Code: code, Message: message}
	if cause != nil {
		fields["error"] = cause.Error()
		rerr.Data = cause.Error()
	}
	s.logger.Warn("RPC error", fields)

	writeJSON(w, http.StatusOK, rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   rerr,
	})
}
