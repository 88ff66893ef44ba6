package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"tithe/core/state"
	"tithe/native/donation"
	"tithe/native/vault"
	"tithe/storage"
)

func rpcAddr(last byte) [20]byte {
	var out [20]byte
	out[19] = last
	return out
}

func addrHex(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

type testHarness struct {
	server  *Server
	manager *state.Manager
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	reserve := vault.NewReserveVault(0)
	reserve.SetNowFunc(func() int64 { return 1_000 })

	engine := donation.NewEngine()
	engine.SetState(manager)
	engine.SetToken(manager)
	engine.SetVault(reserve)
	engine.SetFeeCollector(rpcAddr(0xFE))
	engine.SetCustody(rpcAddr(0xCD))
	engine.SetNowFunc(func() int64 { return 1_000 })

	return &testHarness{server: NewServer(engine), manager: manager}
}

func (h *testHarness) post(t *testing.T, token, method string, params ...interface{}) (*RPCResponse, int) {
	t.Helper()
	rawParams := make([]json.RawMessage, len(params))
	for i, p := range params {
		encoded, err := json.Marshal(p)
		require.NoError(t, err)
		rawParams[i] = encoded
	}
	body, err := json.Marshal(RPCRequest{JSONRPC: jsonRPCVersion, Method: method, Params: rawParams, ID: 1})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.server.handle(rec, req)

	var resp RPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return &resp, rec.Code
}

func TestDonateOverRPC(t *testing.T) {
	h := newTestHarness(t)
	donor := rpcAddr(0x01)
	recipient := rpcAddr(0x02)
	require.NoError(t, h.manager.Credit(donor, big.NewInt(1_000)))

	resp, status := h.post(t, "", "tithe_donate", donateParams{
		Donor:     addrHex(donor),
		Recipient: addrHex(recipient),
		Amount:    "1000",
	})
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, resp.Error)

	var result donateResult
	remarshal(t, resp.Result, &result)
	require.Equal(t, "1000", result.Gross)
	require.Equal(t, "50", result.Fee)
	require.Equal(t, "950", result.Net)
	require.Equal(t, "665", result.DonorShares)
	require.Equal(t, "285", result.RecipientShares)
	require.Equal(t, uint64(0), result.Epoch)

	resp, status = h.post(t, "", "tithe_getDonor", identityParams{Address: addrHex(donor)})
	require.Equal(t, http.StatusOK, status)
	var donorView donorResult
	remarshal(t, resp.Result, &donorView)
	require.Equal(t, "1000", donorView.TotalGross)
	require.Equal(t, "665", donorView.TotalShares)

	resp, _ = h.post(t, "", "tithe_getCounters")
	var counters countersResult
	remarshal(t, resp.Result, &counters)
	require.Equal(t, "1000", counters.TotalDonationsGross)
	require.Equal(t, uint64(0), counters.CurrentEpoch)
}

func TestDonateRejectsBadParams(t *testing.T) {
	h := newTestHarness(t)

	resp, status := h.post(t, "", "tithe_donate", donateParams{
		Donor:     "0x1234",
		Recipient: addrHex(rpcAddr(0x02)),
		Amount:    "1000",
	})
	require.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	// A zero amount survives parsing but is rejected by the engine.
	resp, status = h.post(t, "", "tithe_donate", donateParams{
		Donor:     addrHex(rpcAddr(0x01)),
		Recipient: addrHex(rpcAddr(0x02)),
		Amount:    "0",
	})
	require.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestAdminMethodsRequireBearerToken(t *testing.T) {
	h := newTestHarness(t)

	// No token configured on the server side: admin calls are always refused.
	resp, status := h.post(t, "", "tithe_startCooldown")
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	h.server.authToken = "secret"
	resp, status = h.post(t, "wrong", "tithe_startCooldown")
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	resp, status = h.post(t, "secret", "tithe_setCommitmentRoot", setRootParams{
		Root: "0x" + hex.EncodeToString(make([]byte, 32)),
	})
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, resp.Error)
}

func TestLifecycleOverRPC(t *testing.T) {
	h := newTestHarness(t)
	h.server.authToken = "secret"
	donor := rpcAddr(0x01)
	recipient := rpcAddr(0x02)
	require.NoError(t, h.manager.Credit(donor, big.NewInt(1_000)))

	resp, _ := h.post(t, "", "tithe_donate", donateParams{
		Donor: addrHex(donor), Recipient: addrHex(recipient), Amount: "1000",
	})
	require.Nil(t, resp.Error)

	resp, _ = h.post(t, "", "tithe_queueWithdrawal", queueWithdrawalParams{
		Recipient: addrHex(recipient), Shares: "100",
	})
	require.Nil(t, resp.Error)

	resp, _ = h.post(t, "secret", "tithe_startCooldown")
	require.Nil(t, resp.Error)

	// Re-invoking while the batch is already cooling maps to the lifecycle code.
	resp, status := h.post(t, "secret", "tithe_startCooldown")
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, codeLifecycle, resp.Error.Code)

	resp, _ = h.post(t, "secret", "tithe_completeUnstake")
	require.Nil(t, resp.Error)

	resp, _ = h.post(t, "", "tithe_getCounters")
	var counters countersResult
	remarshal(t, resp.Result, &counters)
	require.Equal(t, uint64(1), counters.CurrentEpoch)

	resp, _ = h.post(t, "", "tithe_getBatch", batchParams{Epoch: 0})
	var batch batchResult
	remarshal(t, resp.Result, &batch)
	require.True(t, batch.InCooldown)
}

func TestClaimOverRPC(t *testing.T) {
	h := newTestHarness(t)
	h.server.authToken = "secret"
	donor := rpcAddr(0x01)
	recipient := rpcAddr(0x02)
	require.NoError(t, h.manager.Credit(donor, big.NewInt(1_000)))

	resp, _ := h.post(t, "", "tithe_donate", donateParams{
		Donor: addrHex(donor), Recipient: addrHex(recipient), Amount: "1000",
	})
	require.Nil(t, resp.Error)

	tree := donation.NewClaimTree([]donation.ClaimEntry{
		{Participant: donor, Amount: big.NewInt(700)},
		{Participant: recipient, Amount: big.NewInt(300)},
	})
	root := tree.Root()
	resp, _ = h.post(t, "secret", "tithe_setCommitmentRoot", setRootParams{
		Root: "0x" + hex.EncodeToString(root[:]),
	})
	require.Nil(t, resp.Error)

	proof, err := tree.Proof(0)
	require.NoError(t, err)
	proofHex := make([]string, len(proof))
	for i, node := range proof {
		proofHex[i] = "0x" + hex.EncodeToString(node[:])
	}

	resp, status := h.post(t, "", "tithe_claim", claimParams{
		Caller: addrHex(donor), Amount: "700", LeafIndex: 0, Proof: proofHex,
	})
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, resp.Error)

	balance, err := h.manager.BalanceOf(donor)
	require.NoError(t, err)
	require.Equal(t, "700", balance.String())

	// The same leaf cannot be paid twice.
	resp, status = h.post(t, "", "tithe_claim", claimParams{
		Caller: addrHex(donor), Amount: "700", LeafIndex: 0, Proof: proofHex,
	})
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, codeClaimRejected, resp.Error.Code)

	// A tampered amount fails proof verification.
	resp, status = h.post(t, "", "tithe_claim", claimParams{
		Caller: addrHex(recipient), Amount: "999", LeafIndex: 1, Proof: proofHex,
	})
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, codeClaimRejected, resp.Error.Code)
}

func TestTransportLevelErrors(t *testing.T) {
	h := newTestHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.server.handle(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	req = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{not json")))
	rec = httptest.NewRecorder()
	h.server.handle(rec, req)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp RPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, codeParseError, resp.Error.Code)

	got, status := h.post(t, "", "tithe_noSuchMethod")
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeMethodNotFound, got.Error.Code)

	got, status = h.post(t, "", "tithe_getBatch")
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, got.Error.Code)
}

func remarshal(t *testing.T, from interface{}, to interface{}) {
	t.Helper()
	raw, err := json.Marshal(from)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, to))
}
