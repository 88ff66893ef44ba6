package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"tithe/native/donation"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	authTokenEnv = "TITHE_RPC_TOKEN"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeLifecycle      = -32030
	codeClaimRejected  = -32040
)

// Server exposes the settlement engine over JSON-RPC. A single mutex funnels
// every engine call through one writer, matching the ledger's sequential
// execution model.
type Server struct {
	engine *donation.Engine

	mu        sync.Mutex
	authToken string
}

// NewServer wires a JSON-RPC server around the supplied engine. Administrator
// methods require the bearer token from the TITHE_RPC_TOKEN environment
// variable.
func NewServer(engine *donation.Engine) *Server {
	return &Server{
		engine:    engine,
		authToken: strings.TrimSpace(os.Getenv(authTokenEnv)),
	}
}

// Start serves JSON-RPC requests on the supplied address.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return http.ListenAndServe(addr, mux)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeEngineError maps engine sentinels onto stable RPC error codes so
// callers can branch without string matching.
func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, donation.ErrAmountZero), errors.Is(err, donation.ErrInsufficientBalance):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	case errors.Is(err, donation.ErrBatchMinimumNotReached), errors.Is(err, donation.ErrCooldownActive):
		writeError(w, http.StatusConflict, id, codeLifecycle, err.Error(), nil)
	case errors.Is(err, donation.ErrAlreadyClaimed), errors.Is(err, donation.ErrInvalidProof):
		writeError(w, http.StatusForbidden, id, codeClaimRejected, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC auth token not configured"}
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	supplied := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid bearer token"}
	}
	return nil
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "failed to read request body", nil)
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON-RPC request", nil)
		return
	}
	switch req.Method {
	case "tithe_donate":
		s.handleDonate(w, r, &req)
	case "tithe_queueWithdrawal":
		s.handleQueueWithdrawal(w, r, &req)
	case "tithe_startCooldown":
		s.handleStartCooldown(w, r, &req)
	case "tithe_completeUnstake":
		s.handleCompleteUnstake(w, r, &req)
	case "tithe_claim":
		s.handleClaim(w, r, &req)
	case "tithe_getYield":
		s.handleGetYield(w, r, &req)
	case "tithe_setCommitmentRoot":
		s.handleSetCommitmentRoot(w, r, &req)
	case "tithe_getBatch":
		s.handleGetBatch(w, r, &req)
	case "tithe_getDonor":
		s.handleGetDonor(w, r, &req)
	case "tithe_getRecipient":
		s.handleGetRecipient(w, r, &req)
	case "tithe_getCounters":
		s.handleGetCounters(w, r, &req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "unknown method "+req.Method, nil)
	}
}

func decodeSingleParam(req *RPCRequest, out interface{}) *RPCError {
	if len(req.Params) != 1 {
		return &RPCError{Code: codeInvalidParams, Message: "exactly one parameter object expected"}
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return &RPCError{Code: codeInvalidParams, Message: "malformed parameter object"}
	}
	return nil
}
