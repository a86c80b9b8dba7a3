package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"crestchain/core"
	"crestchain/crypto"
	"crestchain/native/bonds"
	"crestchain/native/reserve"
	"crestchain/storage"
)

const testToken = "local-operator-token"

func testAddr(b byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[crypto.AddressLength-1] = b
	return crypto.MustNewAddress(crypto.CrestPrefix, raw)
}

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *core.Node) {
	t.Helper()
	node, err := core.NewNode(core.NodeConfig{
		ReserveParams:      reserve.DefaultParams(),
		BondParams:         bonds.DefaultParams(),
		CollateralDecimals: 6,
		Genesis: core.Genesis{
			InitialPrice: "1",
			ATHPrice:     "1",
			Allocations: []core.Allocation{
				{Address: testAddr(1), Collateral: big.NewInt(1_000_000)},
			},
		},
		Database: storage.NewMemDB(),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(node, nil, opts).Handler())
	t.Cleanup(srv.Close)
	return srv, node
}

func postJSON(t *testing.T, url, token string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func TestBuySellOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	alice := testAddr(1).String()

	resp := postJSON(t, srv.URL+"/v1/reserve/buy", "", tradeRequest{Address: alice, Amount: "10000"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buy buyResponse
	decodeJSON(t, resp, &buy)
	require.Equal(t, "10000", buy.Minted)

	resp = postJSON(t, srv.URL+"/v1/reserve/sell", "", tradeRequest{Address: alice, Amount: "4000"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sell sellResponse
	decodeJSON(t, resp, &sell)
	require.Equal(t, "4000", sell.Payout)
	require.False(t, sell.Halted)

	resp, err := http.Get(srv.URL + "/v1/reserve/state")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st reserveStateResponse
	decodeJSON(t, resp, &st)
	require.Equal(t, "6000", st.Circulating)
}

func TestBondLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	alice := testAddr(1).String()

	resp := postJSON(t, srv.URL+"/v1/reserve/buy", "", tradeRequest{Address: alice, Amount: "10000"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/v1/bonds/open", "", bondOpenRequest{Address: alice, Amount: "2500", Policy: "reinvest"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var opened struct {
		BondID uint64 `json:"bond_id"`
	}
	decodeJSON(t, resp, &opened)

	resp, err := http.Get(fmt.Sprintf("%s/v1/bonds/position/%d", srv.URL, opened.BondID))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pos bondPositionResponse
	decodeJSON(t, resp, &pos)
	require.Equal(t, alice, pos.Owner)
	require.Equal(t, "reinvest", pos.Policy)
	require.Equal(t, "2500", pos.Pending)

	resp, err = http.Get(fmt.Sprintf("%s/v1/bonds/positions/%s", srv.URL, alice))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed struct {
		BondIDs []uint64 `json:"bond_ids"`
	}
	decodeJSON(t, resp, &listed)
	require.Equal(t, []uint64{opened.BondID}, listed.BondIDs)
}

func TestUnknownBondPositionReturns404(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	resp, err := http.Get(srv.URL + "/v1/bonds/position/999")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOperatorEndpointsRequireToken(t *testing.T) {
	srv, _ := newTestServer(t, Options{AuthToken: testToken})

	resp := postJSON(t, srv.URL+"/v1/reserve/tick", "", tickRequest{Tick: 10})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/v1/reserve/tick", "wrong", tickRequest{Tick: 10})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/v1/reserve/tick", testToken, tickRequest{Tick: 10})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tick tickResponse
	decodeJSON(t, resp, &tick)
	require.Equal(t, uint64(10), tick.Elapsed)
}

func TestClockRegressionReturnsConflict(t *testing.T) {
	srv, _ := newTestServer(t, Options{AuthToken: testToken})

	resp := postJSON(t, srv.URL+"/v1/reserve/tick", testToken, tickRequest{Tick: 10})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/v1/reserve/tick", testToken, tickRequest{Tick: 5})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestFaucetDisabledByDefault(t *testing.T) {
	srv, _ := newTestServer(t, Options{AuthToken: testToken})

	resp := postJSON(t, srv.URL+"/v1/faucet", testToken, faucetRequest{Address: testAddr(2).String(), Amount: "100"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestFaucetCreditsCollateral(t *testing.T) {
	srv, node := newTestServer(t, Options{AuthToken: testToken, FaucetEnabled: true})
	bob := testAddr(2)

	resp := postJSON(t, srv.URL+"/v1/faucet", testToken, faucetRequest{Address: bob.String(), Amount: "100"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	_, collateral := node.Balances(bob)
	require.Equal(t, big.NewInt(100), collateral)
}

func TestRateLimitReturns429(t *testing.T) {
	srv, _ := newTestServer(t, Options{RateLimitRPS: 1, RateLimitBurst: 1})

	first, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)

	second, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	second.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}

func TestMalformedRequestRejected(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	resp, err := http.Post(srv.URL+"/v1/reserve/buy", "application/json", bytes.NewReader([]byte(`{"address":`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp2 := postJSON(t, srv.URL+"/v1/reserve/buy", "", tradeRequest{Address: testAddr(1).String(), Amount: "-5"})
	require.Equal(t, http.StatusBadRequest, resp2.StatusCode)
	resp2.Body.Close()
}

func TestPauseEndpointBlocksTrading(t *testing.T) {
	srv, _ := newTestServer(t, Options{AuthToken: testToken})
	alice := testAddr(1).String()

	resp := postJSON(t, srv.URL+"/v1/admin/pause", "", pauseRequest{Module: "reserve", Paused: true})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/v1/admin/pause", testToken, pauseRequest{Module: "reserve", Paused: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var paused pauseResponse
	decodeJSON(t, resp, &paused)
	require.Equal(t, []string{"reserve"}, paused.Paused)

	resp = postJSON(t, srv.URL+"/v1/reserve/buy", "", tradeRequest{Address: alice, Amount: "1000"})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/v1/admin/pause", testToken, pauseRequest{Module: "reserve", Paused: false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/v1/reserve/buy", "", tradeRequest{Address: alice, Amount: "1000"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/v1/admin/pause", testToken, pauseRequest{Module: "oracle", Paused: true})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}
