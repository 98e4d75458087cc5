package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/luxfi/log"
	"github.com/shopspring/decimal"

	"github.com/luxfi/vault/pkg/vault"
)

// JSONRPCServer handles JSON-RPC 2.0 requests against a vault engine
type JSONRPCServer struct {
	vault  *vault.Vault
	logger log.Logger
}

// NewJSONRPCServer creates a new JSON-RPC server
func NewJSONRPCServer(v *vault.Vault, logger log.Logger) *JSONRPCServer {
	return &JSONRPCServer{
		vault:  v,
		logger: logger,
	}
}

// JSONRPCRequest represents a JSON-RPC 2.0 request
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// RPCError represents a JSON-RPC error
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements error interface
func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC Error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// ServeHTTP implements http.Handler
func (s *JSONRPCServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, nil, ParseError, "Parse error")
		return
	}

	if req.JSONRPC != "2.0" {
		s.sendError(w, req.ID, InvalidRequest, "Invalid Request")
		return
	}

	result, err := s.handleMethod(req.Method, req.Params)
	if err != nil {
		rpcErr, ok := err.(*RPCError)
		if !ok {
			rpcErr = &RPCError{Code: InternalError, Message: err.Error()}
		}
		s.sendError(w, req.ID, rpcErr.Code, rpcErr.Message)
		return
	}

	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *JSONRPCServer) handleMethod(method string, params json.RawMessage) (interface{}, error) {
	switch method {
	// User methods
	case "vault_deposit":
		return s.deposit(params)
	case "vault_requestWithdraw":
		return s.requestWithdraw(params)
	case "vault_completeWithdraw":
		return s.completeWithdraw(params)
	case "vault_cancelWithdraw":
		return s.cancelWithdraw(params)

	// Admin methods
	case "vault_collectFees":
		return s.collectFees(params)
	case "vault_rebalance":
		return s.rebalance(params)
	case "vault_pause":
		return s.pause(params)
	case "vault_unpause":
		return s.unpause(params)
	case "vault_updateConfig":
		return s.updateConfig(params)
	case "vault_updateAllocations":
		return s.updateAllocations(params)
	case "vault_stake":
		return s.stake(params)
	case "vault_unstake":
		return s.unstake(params)

	// Query methods
	case "vault_getState":
		return s.getState(params)
	case "vault_getPosition":
		return s.getPosition(params)
	case "vault_getRequest":
		return s.getRequest(params)
	case "vault_getPendingRequests":
		return s.getPendingRequests(params)
	case "vault_ping":
		return "pong", nil

	default:
		return nil, &RPCError{Code: MethodNotFound, Message: "Method not found"}
	}
}

func (s *JSONRPCServer) deposit(params json.RawMessage) (interface{}, error) {
	var p struct {
		Owner  string           `json:"owner"`
		Amount uint64           `json:"amount"`
		Quote  vault.PriceQuote `json:"quote"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	shares, err := s.vault.Deposit(p.Owner, p.Amount, p.Quote)
	if err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}

	return map[string]interface{}{
		"owner":  p.Owner,
		"shares": shares,
		"status": "accepted",
	}, nil
}

func (s *JSONRPCServer) requestWithdraw(params json.RawMessage) (interface{}, error) {
	var p struct {
		Owner  string `json:"owner"`
		Shares uint64 `json:"shares"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	req, err := s.vault.RequestWithdraw(p.Owner, p.Shares)
	if err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}
	return req, nil
}

func (s *JSONRPCServer) completeWithdraw(params json.RawMessage) (interface{}, error) {
	var p struct {
		Owner     string `json:"owner"`
		RequestID uint64 `json:"requestId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	value, err := s.vault.CompleteWithdraw(p.Owner, p.RequestID)
	if err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}

	return map[string]interface{}{
		"requestId": p.RequestID,
		"value":     value,
		"status":    "completed",
	}, nil
}

func (s *JSONRPCServer) cancelWithdraw(params json.RawMessage) (interface{}, error) {
	var p struct {
		Owner     string `json:"owner"`
		RequestID uint64 `json:"requestId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	if err := s.vault.CancelWithdraw(p.Owner, p.RequestID); err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}

	return map[string]interface{}{
		"requestId": p.RequestID,
		"status":    "cancelled",
	}, nil
}

func (s *JSONRPCServer) collectFees(params json.RawMessage) (interface{}, error) {
	var p struct {
		Caller string `json:"caller"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	fc, err := s.vault.CollectFees(p.Caller)
	if err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}
	return fc, nil
}

func (s *JSONRPCServer) rebalance(params json.RawMessage) (interface{}, error) {
	var p struct {
		Caller string `json:"caller"`
	}
	json.Unmarshal(params, &p)

	if err := s.vault.Rebalance(p.Caller); err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}
	return map[string]interface{}{"status": "rebalanced"}, nil
}

func (s *JSONRPCServer) pause(params json.RawMessage) (interface{}, error) {
	var p struct {
		Caller string `json:"caller"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	if err := s.vault.Pause(p.Caller); err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}
	return map[string]interface{}{"paused": true}, nil
}

func (s *JSONRPCServer) unpause(params json.RawMessage) (interface{}, error) {
	var p struct {
		Caller string `json:"caller"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	if err := s.vault.Unpause(p.Caller); err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}
	return map[string]interface{}{"paused": false}, nil
}

func (s *JSONRPCServer) updateConfig(params json.RawMessage) (interface{}, error) {
	var p struct {
		Caller string             `json:"caller"`
		Update vault.ConfigUpdate `json:"update"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	if err := s.vault.UpdateConfig(p.Caller, p.Update); err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}
	return s.vault.State().Config, nil
}

func (s *JSONRPCServer) updateAllocations(params json.RawMessage) (interface{}, error) {
	var p struct {
		Caller  string                   `json:"caller"`
		Targets []vault.AllocationTarget `json:"targets"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	if err := s.vault.UpdateAllocations(p.Caller, p.Targets); err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}
	return map[string]interface{}{"count": len(p.Targets)}, nil
}

func (s *JSONRPCServer) stake(params json.RawMessage) (interface{}, error) {
	var p struct {
		Caller   string         `json:"caller"`
		Protocol vault.Protocol `json:"protocol"`
		Amount   uint64         `json:"amount"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	if err := s.vault.StakeToProtocol(p.Caller, p.Protocol, p.Amount); err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}
	return map[string]interface{}{
		"protocol": p.Protocol.String(),
		"amount":   p.Amount,
	}, nil
}

func (s *JSONRPCServer) unstake(params json.RawMessage) (interface{}, error) {
	var p struct {
		Caller   string         `json:"caller"`
		Protocol vault.Protocol `json:"protocol"`
		Amount   uint64         `json:"amount"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	if err := s.vault.UnstakeFromProtocol(p.Caller, p.Protocol, p.Amount); err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}
	return map[string]interface{}{
		"protocol": p.Protocol.String(),
		"amount":   p.Amount,
	}, nil
}

func (s *JSONRPCServer) getState(params json.RawMessage) (interface{}, error) {
	st := s.vault.State()

	// Human-readable share price alongside the fixed-point value.
	display := decimal.NewFromUint64(st.SharePrice).
		Div(decimal.NewFromUint64(vault.SharePrecision))

	return map[string]interface{}{
		"state":             st,
		"sharePriceDisplay": display.StringFixed(9),
		"timestamp":         time.Now().Unix(),
	}, nil
}

func (s *JSONRPCServer) getPosition(params json.RawMessage) (interface{}, error) {
	var p struct {
		Owner string `json:"owner"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	pos, err := s.vault.Position(p.Owner)
	if err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}
	return pos, nil
}

func (s *JSONRPCServer) getRequest(params json.RawMessage) (interface{}, error) {
	var p struct {
		RequestID uint64 `json:"requestId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	req, err := s.vault.Request(p.RequestID)
	if err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}
	return req, nil
}

func (s *JSONRPCServer) getPendingRequests(params json.RawMessage) (interface{}, error) {
	var p struct {
		Owner string `json:"owner"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	return s.vault.PendingRequests(p.Owner), nil
}

func (s *JSONRPCServer) sendError(w http.ResponseWriter, id interface{}, code int, message string) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error: &RPCError{
			Code:    code,
			Message: message,
		},
		ID: id,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// StartJSONRPCServer starts the JSON-RPC server
func StartJSONRPCServer(ctx context.Context, port int, v *vault.Vault, logger log.Logger) error {
	server := NewJSONRPCServer(v, logger)

	mux := http.NewServeMux()
	mux.Handle("/", server)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	logger.Info("JSON-RPC server started", "port", port)
	return httpServer.ListenAndServe()
}
