package rpc

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"net/http"
	"strings"
)

type donateParams struct {
	Donor     string `json:"donor"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type donateResult struct {
	Donor           string `json:"donor"`
	Recipient       string `json:"recipient"`
	Gross           string `json:"gross"`
	Fee             string `json:"fee"`
	Net             string `json:"net"`
	DonorShares     string `json:"donorShares"`
	RecipientShares string `json:"recipientShares"`
	Epoch           uint64 `json:"epoch"`
	RecordedAt      int64  `json:"recordedAt"`
}

type queueWithdrawalParams struct {
	Recipient string `json:"recipient"`
	Shares    string `json:"shares"`
}

type claimParams struct {
	Caller    string   `json:"caller"`
	Amount    string   `json:"amount"`
	LeafIndex uint64   `json:"leafIndex"`
	Proof     []string `json:"proof"`
}

type yieldParams struct {
	Epoch       uint64 `json:"epoch"`
	Participant string `json:"participant"`
}

type setRootParams struct {
	Root string `json:"root"`
}

type batchParams struct {
	Epoch uint64 `json:"epoch"`
}

type batchResult struct {
	Epoch             uint64 `json:"epoch"`
	QueuedShares      string `json:"queuedShares"`
	CooldownStartedAt int64  `json:"cooldownStartedAt"`
	InCooldown        bool   `json:"inCooldown"`
}

type identityParams struct {
	Address string `json:"address"`
}

type donorResult struct {
	Address        string `json:"address"`
	TotalGross     string `json:"totalGross"`
	NetContributed string `json:"netContributed"`
	TotalShares    string `json:"totalShares"`
	LastClaimedAt  int64  `json:"lastClaimedAt"`
}

type recipientResult struct {
	Address         string `json:"address"`
	TotalReceived   string `json:"totalReceived"`
	ClaimableShares string `json:"claimableShares"`
	LastClaimedAt   int64  `json:"lastClaimedAt"`
}

type countersResult struct {
	CurrentEpoch        uint64 `json:"currentEpoch"`
	TotalDonationsGross string `json:"totalDonationsGross"`
	TotalClaimed        string `json:"totalClaimed"`
	CommitmentRoot      string `json:"commitmentRoot"`
}

func parseAddress(raw string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid address %q", raw)
	}
	if len(decoded) != len(out) {
		return out, fmt.Errorf("address %q must be %d bytes", raw, len(out))
	}
	copy(out[:], decoded)
	return out, nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func parseHash(raw string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid hash %q", raw)
	}
	if len(decoded) != len(out) {
		return out, fmt.Errorf("hash %q must be %d bytes", raw, len(out))
	}
	copy(out[:], decoded)
	return out, nil
}

func parseProof(raw []string) ([][32]byte, error) {
	proof := make([][32]byte, len(raw))
	for i, element := range raw {
		hash, err := parseHash(element)
		if err != nil {
			return nil, err
		}
		proof[i] = hash
	}
	return proof, nil
}

func formatAddr(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func (s *Server) handleDonate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params donateParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, nil)
		return
	}
	donor, err := parseAddress(params.Donor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	recipient, err := parseAddress(params.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	s.mu.Lock()
	receipt, err := s.engine.Donate(donor, recipient, amount)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, donateResult{
		Donor:           formatAddr(receipt.Donor),
		Recipient:       formatAddr(receipt.Recipient),
		Gross:           bigString(receipt.Gross),
		Fee:             bigString(receipt.Fee),
		Net:             bigString(receipt.Net),
		DonorShares:     bigString(receipt.DonorShares),
		RecipientShares: bigString(receipt.RecipientShares),
		Epoch:           receipt.Epoch,
		RecordedAt:      receipt.RecordedAt,
	})
}

func (s *Server) handleQueueWithdrawal(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params queueWithdrawalParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, nil)
		return
	}
	recipient, err := parseAddress(params.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	shares, err := parseAmount(params.Shares)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	s.mu.Lock()
	err = s.engine.QueueWithdrawal(recipient, shares)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleStartCooldown(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, nil)
		return
	}
	s.mu.Lock()
	err := s.engine.StartCooldown()
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleCompleteUnstake(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, nil)
		return
	}
	s.mu.Lock()
	err := s.engine.CompleteUnstake()
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params claimParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	proof, err := parseProof(params.Proof)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	s.mu.Lock()
	err = s.engine.Claim(caller, amount, params.LeafIndex, proof)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleGetYield(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params yieldParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, nil)
		return
	}
	participant, err := parseAddress(params.Participant)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	s.mu.Lock()
	yield, err := s.engine.Yield(params.Epoch, participant)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"yield": bigString(yield)})
}

func (s *Server) handleSetCommitmentRoot(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, nil)
		return
	}
	var params setRootParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, nil)
		return
	}
	root, err := parseHash(params.Root)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	s.mu.Lock()
	err = s.engine.SetCommitmentRoot(root)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params batchParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, nil)
		return
	}
	s.mu.Lock()
	batch, err := s.engine.BatchInfo(params.Epoch)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, batchResult{
		Epoch:             batch.Epoch,
		QueuedShares:      bigString(batch.QueuedShares),
		CooldownStartedAt: batch.CooldownStartedAt,
		InCooldown:        batch.InCooldown,
	})
}

func (s *Server) handleGetDonor(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params identityParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, nil)
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	s.mu.Lock()
	rec, err := s.engine.Donor(addr)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, donorResult{
		Address:        formatAddr(rec.Address),
		TotalGross:     bigString(rec.TotalGross),
		NetContributed: bigString(rec.NetContributed),
		TotalShares:    bigString(rec.TotalShares),
		LastClaimedAt:  rec.LastClaimedAt,
	})
}

func (s *Server) handleGetRecipient(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params identityParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, nil)
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	s.mu.Lock()
	rec, err := s.engine.Recipient(addr)
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, recipientResult{
		Address:         formatAddr(rec.Address),
		TotalReceived:   bigString(rec.TotalReceived),
		ClaimableShares: bigString(rec.ClaimableShares),
		LastClaimedAt:   rec.LastClaimedAt,
	})
}

func (s *Server) handleGetCounters(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.mu.Lock()
	counters, err := s.engine.CountersView()
	s.mu.Unlock()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, countersResult{
		CurrentEpoch:        counters.CurrentEpoch,
		TotalDonationsGross: bigString(counters.TotalDonationsGross),
		TotalClaimed:        bigString(counters.TotalClaimed),
		CommitmentRoot:      "0x" + hex.EncodeToString(counters.CommitmentRoot[:]),
	})
}
